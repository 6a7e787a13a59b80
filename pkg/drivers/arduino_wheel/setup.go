package arduino_wheel

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fwalpaca/pkg/arduino"
)

type setupPage struct {
	Config
	Number    int
	Ports     []string
	Dialects  []string
	Rows      []setupRow
	Detection string
	Success   bool
	Error     string
}

type setupRow struct {
	Position    int
	Label       string
	FocusOffset int
}

func (d *Driver) HandleSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := d.store.GetConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		d.renderSetupForm(w, setupPage{Config: cfg})

	case http.MethodPost:
		cfg, err := d.store.GetConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if r.FormValue("action") == "detect" {
			status, err := d.Detect()
			page := setupPage{Config: cfg, Detection: status.String()}
			if err != nil {
				page.Error = err.Error()
			}
			d.renderSetupForm(w, page)
			return
		}

		cfg, err = parseWheelSetupForm(r, cfg)
		if err != nil {
			d.renderSetupForm(w, setupPage{Config: cfg, Error: err.Error()})
			return
		}
		if d.Connected() || d.Connecting() {
			d.renderSetupForm(w, setupPage{Config: cfg, Error: "Disconnect the filter wheel before changing its configuration"})
			return
		}

		d.logger.Infof("Setting filter wheel config: %+v", cfg)
		if err := d.store.SetConfig(cfg); err != nil {
			d.renderSetupForm(w, setupPage{Config: cfg, Error: err.Error()})
			return
		}
		d.renderSetupForm(w, setupPage{Config: cfg, Success: true})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (d *Driver) renderSetupForm(w http.ResponseWriter, page setupPage) {
	page.Number = d.number
	page.Dialects = []string{arduino.DialectASCII.Name, arduino.DialectBinary.Name}

	ports, err := d.listPorts()
	if err != nil {
		d.logger.Warnf("Failed to list serial ports: %v", err)
	}
	page.Ports = ports

	// Labels of unconfigured positions come from a wheel with default
	// labels.
	labels := arduino.NewWheel(nil, arduino.WithPositions(page.Positions), arduino.WithLabels(page.labelMap())).Labels()
	offsets := page.focusOffsets()
	for pos := range page.Positions {
		page.Rows = append(page.Rows, setupRow{Position: pos, Label: labels[pos], FocusOffset: offsets[pos]})
	}

	if err := d.tmpl.ExecuteTemplate(w, "filterwheel_setup.html", page); err != nil {
		http.Error(w, "Error rendering template", http.StatusInternalServerError)
		d.logger.Errorf("Error rendering template: %v", err)
	}
}

func parseWheelSetupForm(r *http.Request, current Config) (Config, error) {
	if err := r.ParseForm(); err != nil {
		return current, fmt.Errorf("error parsing form: %v", err)
	}

	cfg := current
	cfg.Name = strings.TrimSpace(r.FormValue("name"))
	cfg.Port = strings.TrimSpace(r.FormValue("port"))
	cfg.Dialect = r.FormValue("dialect")

	var err error
	if cfg.Positions, err = strconv.Atoi(r.FormValue("positions")); err != nil {
		return current, fmt.Errorf("invalid number of positions %q", r.FormValue("positions"))
	}
	if cfg.SettleDelayMs, err = strconv.Atoi(r.FormValue("settle-delay")); err != nil {
		return cfg, fmt.Errorf("invalid settle delay %q", r.FormValue("settle-delay"))
	}
	if cfg.Positions < 2 || cfg.Positions > maxPositions {
		return current, fmt.Errorf("number of positions must be between 2 and %d", maxPositions)
	}

	cfg.Labels = make([]string, cfg.Positions)
	cfg.FocusOffsets = make([]int, cfg.Positions)
	for pos := 1; pos < cfg.Positions; pos++ {
		cfg.Labels[pos] = strings.TrimSpace(r.FormValue(fmt.Sprintf("label-%d", pos)))
	}
	for pos := range cfg.Positions {
		value := r.FormValue(fmt.Sprintf("offset-%d", pos))
		if value == "" {
			continue
		}
		if cfg.FocusOffsets[pos], err = strconv.Atoi(value); err != nil {
			return cfg, fmt.Errorf("invalid focus offset %q for position %d", value, pos)
		}
	}

	if cfg.Name == "" {
		return cfg, fmt.Errorf("name cannot be empty")
	}
	return cfg, cfg.Validate()
}
