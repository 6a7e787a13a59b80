package arduino

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	WheelName = "ArduinoFilterWheel-FilterWheel"
	StopLabel = "Stop"
)

// Labels installed on the wheel shipped with the controller.
var defaultLabels = []string{StopLabel, "Cy3", "TxRed", "Cy5", "Mirror", "Empty", "Fitc"}

type WheelState int

const (
	WheelUninitialized WheelState = iota
	WheelInitializing
	WheelReady
)

func (s WheelState) String() string {
	switch s {
	case WheelUninitialized:
		return "Uninitialized"
	case WheelInitializing:
		return "Initializing"
	case WheelReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// Wheel is the filter wheel attached to a hub. It never talks to the port
// itself: moves go through the hub, which also keeps the confirmed position.
type Wheel struct {
	hub         *Hub
	logger      log.FieldLogger
	clock       Clock
	settleDelay time.Duration
	positions   int
	texts       errorTexts

	mu          sync.Mutex
	state       WheelState
	labels      []string
	position    int
	settleUntil time.Time
}

// NewWheel creates the wheel of hub. The wheel does not own the hub.
func NewWheel(hub *Hub, opts ...Option) *Wheel {
	o := buildOptions(opts)

	w := &Wheel{
		hub:         hub,
		logger:      o.logger.WithField("device", WheelName),
		clock:       o.clock,
		settleDelay: o.settleDelay,
		positions:   o.positions,
		texts:       newErrorTexts(),
		position:    NoPosition,
	}

	w.labels = make([]string, w.positions)
	for i := range w.labels {
		if i < len(defaultLabels) {
			w.labels[i] = defaultLabels[i]
		} else {
			w.labels[i] = fmt.Sprintf("Position-%d", i)
		}
	}
	for pos, label := range o.labels {
		if pos > 0 && pos < w.positions && label != "" {
			w.labels[pos] = label
		}
	}
	return w
}

func (w *Wheel) Name() string { return WheelName }
func (w *Wheel) Role() Role   { return RoleStateDevice }

// NumberOfPositions includes the stop position 0.
func (w *Wheel) NumberOfPositions() int { return w.positions }

func (w *Wheel) State() WheelState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Initialize makes the wheel ready. The hub must have a port assigned; the
// wheel takes its position from the hub.
func (w *Wheel) Initialize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.hub == nil || !w.hub.PortAvailable() {
		return w.texts.fail(ErrNoPortSet, nil)
	}

	w.state = WheelInitializing
	w.position = w.hub.LastPosition()
	w.settleUntil = time.Time{}
	w.state = WheelReady

	w.logger.Infof("Ready with %d positions on %s", w.positions, w.hub.Port())
	return nil
}

func (w *Wheel) Shutdown() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = WheelUninitialized
	return nil
}

// Busy reports whether the wheel is still settling after a move.
func (w *Wheel) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clock.Now().Before(w.settleUntil)
}

// Position returns the last confirmed position, or NoPosition.
func (w *Wheel) Position() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.position
}

// SetPosition moves the wheel. The position is only recorded once the move
// command was written.
func (w *Wheel) SetPosition(pos int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.move(pos)
}

// move must be called with w.mu held. The position is validated before the
// link state.
func (w *Wheel) move(pos int) error {
	if pos < 0 || pos >= w.positions {
		return w.texts.fail(ErrUnknownPosition, fmt.Errorf("position %d outside [0, %d]", pos, w.positions-1))
	}
	if w.state != WheelReady || w.hub == nil || !w.hub.PortAvailable() || !w.hub.Initialized() {
		return w.texts.fail(ErrNoPortSet, nil)
	}

	settleUntil := w.clock.Now().Add(w.settleDelay)
	if err := w.hub.WriteCommand(w.hub.Dialect().MoveCommand(pos)); err != nil {
		w.logger.Errorf("Move to %d failed: %v", pos, err)
		return err
	}

	w.position = pos
	w.settleUntil = settleUntil
	w.hub.SetLastPosition(pos)
	w.logger.Debugf("Moved to %d (%s)", pos, w.labels[pos])
	return nil
}

// Label returns the label of the current position, or "" before the first
// move.
func (w *Wheel) Label() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.position < 0 || w.position >= w.positions {
		return ""
	}
	return w.labels[w.position]
}

// SetLabel moves the wheel to the position carrying label.
func (w *Wheel) SetLabel(label string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for pos, l := range w.labels {
		if l == label {
			return w.move(pos)
		}
	}
	return w.texts.fail(ErrUnknownPosition, fmt.Errorf("no position labelled %q", label))
}

func (w *Wheel) PositionLabel(pos int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if pos < 0 || pos >= w.positions {
		return "", w.texts.fail(ErrUnknownPosition, fmt.Errorf("position %d", pos))
	}
	return w.labels[pos], nil
}

// SetPositionLabel renames a filter position. The stop position cannot be
// renamed.
func (w *Wheel) SetPositionLabel(pos int, label string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if pos < 0 || pos >= w.positions {
		return w.texts.fail(ErrUnknownPosition, fmt.Errorf("position %d", pos))
	}
	if pos == 0 {
		return w.texts.fail(ErrReservedPosition, nil)
	}
	if label == "" {
		return w.texts.fail(ErrInvalidLabel, fmt.Errorf("position %d", pos))
	}
	w.labels[pos] = label
	return nil
}

// Labels returns the labels of all positions, indexed by position.
func (w *Wheel) Labels() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.labels...)
}
