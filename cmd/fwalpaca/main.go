package main

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"fwalpaca/pkg/alpaca"
	"fwalpaca/pkg/arduino"
	"fwalpaca/pkg/config"
	"fwalpaca/pkg/drivers/arduino_wheel"
	"fwalpaca/pkg/firmware"
	"fwalpaca/pkg/serialport"
	"fwalpaca/pkg/telemetry"
	"fwalpaca/templates"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"
)

const version = "1.0"

// wheelDefaults seeds the stored configuration of a wheel from the bootstrap
// file.
func wheelDefaults(w config.WheelConfig) arduino_wheel.Config {
	cfg := arduino_wheel.DefaultConfig()
	cfg.Name = w.Name
	cfg.Port = w.Port
	cfg.Dialect = w.Dialect
	cfg.Positions = w.Positions
	cfg.SettleDelayMs = w.SettleDelayMs
	return cfg
}

func connectTelemetry(cfg alpaca.MQTTConfig, clientID string) *telemetry.Publisher {
	if !cfg.Enabled {
		return nil
	}

	logger := log.WithField("component", "mqtt")
	p, err := telemetry.Connect(telemetry.Config{
		Host:      cfg.Host,
		Port:      cfg.Port,
		ClientID:  clientID,
		Username:  cfg.Username,
		Password:  cfg.Password,
		TopicRoot: cfg.TopicRoot,
	}, logger)
	if err != nil {
		logger.Warnf("Telemetry disabled: %v", err)
		return nil
	}
	return p
}

func serve(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}

	log.Info(cfg.Server.Name)

	tmpl, err := templates.Load()
	if err != nil {
		return fmt.Errorf("failed to load templates: %v", err)
	}

	db, err := bolt.Open(cfg.Database.Path, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	store, err := alpaca.NewStore(db, alpaca.Config{
		Location: cfg.Server.Location,
		MQTT: alpaca.MQTTConfig{
			Enabled:   cfg.MQTT.Enabled,
			Host:      cfg.MQTT.Host,
			Port:      cfg.MQTT.Port,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			TopicRoot: cfg.MQTT.TopicRoot,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create store: %v", err)
	}

	serverCfg, err := store.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to get server config: %v", err)
	}

	publisher := connectTelemetry(serverCfg.MQTT, cfg.MQTT.ClientID)
	if publisher != nil {
		defer publisher.Close()
	}

	backend, err := serialport.NewBackend(cfg.Serial.Backend)
	if err != nil {
		return err
	}
	ports := serialport.NewManager(backend, log.WithField("component", "serial"))
	defer ports.CloseAll()

	bench := firmware.Bench{}
	simPorts := serialport.NewManager(bench, log.WithField("component", "simulator"))
	defer simPorts.CloseAll()
	listSimPorts := func() ([]string, error) {
		return slices.Sorted(maps.Keys(bench)), nil
	}

	// Wheels on the same port share one arbiter.
	arbiters := make(map[string]*arduino.Arbiter)

	devices := make([]alpaca.Device, 0, len(cfg.Wheels))
	for _, w := range cfg.Wheels {
		arbiter, ok := arbiters[w.Port]
		if !ok {
			arbiter = arduino.NewArbiter()
			arbiters[w.Port] = arbiter
		}

		opts := []arduino_wheel.Option{arduino_wheel.WithArbiter(arbiter)}
		if publisher != nil {
			opts = append(opts, arduino_wheel.WithPublisher(publisher))
		}

		manager := ports
		if w.Simulate {
			mode := firmware.ModeASCII
			if w.Dialect == arduino.DialectBinary.Name {
				mode = firmware.ModeBinary
			}
			bench[w.Port] = firmware.NewController(firmware.Options{Mode: mode, Positions: w.Positions})
			manager = simPorts
			opts = append(opts,
				arduino_wheel.WithPortLister(listSimPorts),
				arduino_wheel.WithControllerOptions(arduino.WithBootDelay(0)),
			)
		}

		logger := log.WithField("device", fmt.Sprintf("filterwheel%d", w.Number))
		driver, err := arduino_wheel.NewDriver(w.Number, db, manager, tmpl, logger, wheelDefaults(w), opts...)
		if err != nil {
			return fmt.Errorf("failed to create filter wheel %d: %v", w.Number, err)
		}
		defer driver.Close()

		devices = append(devices, driver)
	}

	serverDesc := alpaca.ServerDescription{
		Name:                cfg.Server.Name,
		Manufacturer:        "fwalpaca",
		ManufacturerVersion: version,
		Location:            serverCfg.Location,
	}
	server := alpaca.NewServer(serverDesc, devices, store, tmpl, log.WithField("component", "server"))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.AddRoutes(),
	}

	// Channel to listen for interrupt or terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Debugf("Server started on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", srv.Addr, err)
		}
	}()

	dr := alpaca.NewDiscoveryResponder(cfg.Server.DiscoveryAddr, alpaca.DiscoveryPort, cfg.Server.Port,
		log.WithField("component", "discovery"))

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dr.Run(ctx); err != nil {
			log.Fatalf("Discovery responder failed: %v", err)
		}
		log.Debug("Discovery responder stopped")
	}()

	<-ctx.Done()

	log.Info("Shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx2); err != nil {
		return fmt.Errorf("server forced to shutdown: %v", err)
	}

	wg.Wait()
	log.Info("Server stopped")
	return nil
}

func listPorts(c *cli.Context) error {
	ports, err := serialport.ListPorts()
	if err != nil {
		return fmt.Errorf("failed to list serial ports: %v", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
	}
	for _, port := range ports {
		fmt.Println(port)
	}
	return nil
}

func detect(c *cli.Context) error {
	port := c.Args().First()
	if port == "" {
		return cli.Exit("usage: fwalpaca detect [options] PORT", 2)
	}

	dialect, err := arduino.ParseDialect(c.String("dialect"))
	if err != nil {
		return err
	}
	backend, err := serialport.NewBackend(c.String("backend"))
	if err != nil {
		return err
	}

	ports := serialport.NewManager(backend, log.WithField("component", "serial"))
	defer ports.CloseAll()

	hub := arduino.NewHub(ports, arduino.WithDialect(dialect), arduino.WithLogger(log.WithField("component", "detect")))
	if err := hub.AssignPort(port); err != nil {
		return err
	}

	status := hub.DetectDevice()
	fmt.Printf("%s: %s\n", port, status)
	if status != arduino.CanCommunicate {
		return cli.Exit("", 1)
	}

	if c.Bool("initialize") {
		if err := hub.Initialize(); err != nil {
			return err
		}
		defer hub.Shutdown()
		fmt.Printf("%s: firmware version %d\n", port, hub.Version())
	}
	return nil
}

func main() {
	app := cli.App{
		Name:    "fwalpaca",
		Usage:   "ASCOM Alpaca server for Arduino filter wheels",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"FWALPACA_DEBUG"},
			},
		},
		// Without a command the server runs with the default configuration.
		Action: serve,
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the Alpaca server",
				Action: serve,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to the YAML configuration file",
						EnvVars: []string{"FWALPACA_CONFIG"},
					},
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Usage:   "Port to listen on",
						Value:   8090,
						EnvVars: []string{"FWALPACA_PORT"},
					},
				},
			},
			{
				Name:   "ports",
				Usage:  "List serial ports",
				Action: listPorts,
			},
			{
				Name:      "detect",
				Usage:     "Check whether a filter wheel controller answers on a serial port",
				ArgsUsage: "PORT",
				Action:    detect,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dialect",
						Usage: "Firmware dialect (ascii or binary)",
						Value: arduino.DialectASCII.Name,
					},
					&cli.StringFlag{
						Name:  "backend",
						Usage: "Serial backend (bugst or tarm)",
						Value: serialport.BackendBugst,
					},
					&cli.BoolFlag{
						Name:  "initialize",
						Usage: "Initialize the controller and print its firmware version",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
