package arduino

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"fwalpaca/pkg/serialport"

	log "github.com/sirupsen/logrus"
)

const (
	HubName = "ArduinoFilterWheel-Hub"

	maxAnswerLen = 64
)

// Hub owns the link to one controller. It performs the firmware handshake,
// serializes every exchange through its arbiter and keeps the last confirmed
// wheel position.
type Hub struct {
	ch        Channel
	dialect   Dialect
	arbiter   *Arbiter
	logger    log.FieldLogger
	clock     Clock
	bootDelay time.Duration
	texts     errorTexts

	mu            sync.RWMutex
	port          string
	portAvailable bool
	initialized   bool
	version       int
	lastPosition  int
}

func NewHub(ch Channel, opts ...Option) *Hub {
	o := buildOptions(opts)

	texts := newErrorTexts()
	texts[ErrVersionMismatch] = fmt.Sprintf(
		"The firmware version on the Arduino is not compatible with this adapter.  Please use firmware version %d to %d",
		o.dialect.MinVersion, o.dialect.MaxVersion)

	return &Hub{
		ch:           ch,
		dialect:      o.dialect,
		arbiter:      o.arbiter,
		logger:       o.logger.WithField("device", HubName),
		clock:        o.clock,
		bootDelay:    o.bootDelay,
		texts:        texts,
		lastPosition: NoPosition,
	}
}

func (h *Hub) Name() string { return HubName }
func (h *Hub) Role() Role   { return RoleHub }

// Busy always reports false, the hub itself never moves.
func (h *Hub) Busy() bool { return false }

func (h *Hub) Dialect() Dialect { return h.dialect }

// ErrorText returns the message this hub registered for code.
func (h *Hub) ErrorText(code Code) string {
	return h.texts.text(code)
}

// AssignPort sets the serial port the controller is attached to. The port
// cannot change while the hub is initialized.
func (h *Hub) AssignPort(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.initialized {
		return h.texts.fail(ErrPortLocked, fmt.Errorf("%s is in use", h.port))
	}
	if !serialport.ValidPortName(id) {
		h.port = ""
		h.portAvailable = false
		return h.texts.fail(ErrNoPortSet, fmt.Errorf("%w: %q", serialport.ErrInvalidPort, id))
	}

	h.port = id
	h.portAvailable = true
	return nil
}

func (h *Hub) Port() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.port
}

func (h *Hub) PortAvailable() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.portAvailable
}

func (h *Hub) Initialized() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.initialized
}

// Version returns the firmware version read during Initialize.
func (h *Hub) Version() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}

// Initialize waits for the controller to boot, then checks its identity and
// firmware version.
func (h *Hub) Initialize() error {
	h.mu.RLock()
	initialized, port, available := h.initialized, h.port, h.portAvailable
	h.mu.RUnlock()

	if initialized {
		return nil
	}
	if !available {
		return h.texts.fail(ErrNoPortSet, nil)
	}

	h.logger.Infof("Waiting %v for the controller on %s to boot", h.bootDelay, port)
	h.clock.Sleep(h.bootDelay)

	version, err := h.lockedHandshake(port)
	if err != nil {
		h.logger.Errorf("Handshake on %s failed: %v", port, err)
		return err
	}
	if !h.dialect.SupportsVersion(version) {
		h.logger.Errorf("Firmware version %d on %s is not supported", version, port)
		return h.texts.fail(ErrVersionMismatch, fmt.Errorf("firmware version %d", version))
	}

	h.mu.Lock()
	h.version = version
	h.initialized = true
	h.mu.Unlock()

	h.logger.Infof("Controller on %s ready, firmware version %d", port, version)
	return nil
}

// Shutdown returns the hub to the uninitialized state. The port stays open.
func (h *Hub) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.initialized {
		h.logger.Infof("Shutting down")
	}
	h.initialized = false
	return nil
}

func (h *Hub) lockedHandshake(port string) (int, error) {
	var version int
	err := h.arbiter.Do(func() error {
		var err error
		version, err = h.handshake(port)
		return err
	})
	return version, err
}

// handshake must be called while holding the arbiter.
func (h *Hub) handshake(port string) (int, error) {
	if err := h.ch.Purge(port); err != nil {
		return 0, h.transportError(ErrCommunication, err)
	}

	identity, err := h.ask(port, h.dialect.Probe)
	if err != nil {
		return 0, err
	}
	if !h.dialect.IsIdentity(identity) {
		return 0, h.texts.fail(ErrBoardNotFound, fmt.Errorf("unexpected identity %q", identity))
	}

	if h.dialect.VersionQuery == nil {
		return h.dialect.FixedVersion, nil
	}

	answer, err := h.ask(port, h.dialect.VersionQuery)
	if err != nil {
		return 0, err
	}
	return parseVersion(answer), nil
}

// ask sends a handshake request and reads its answer. A missing or unreadable
// answer means there is no compatible board on the port.
func (h *Hub) ask(port string, request []byte) (string, error) {
	if err := h.ch.Write(port, request); err != nil {
		return "", h.transportError(ErrCommunication, err)
	}
	answer, err := h.ch.ReadAnswer(port, h.dialect.AnswerTerminator, maxAnswerLen)
	if err != nil {
		return "", h.transportError(ErrBoardNotFound, err)
	}
	return answer, nil
}

func (h *Hub) transportError(code Code, err error) error {
	switch {
	case errors.Is(err, serialport.ErrOpenFailed):
		code = ErrPortOpenFailed
	case errors.Is(err, serialport.ErrInvalidPort):
		code = ErrNoPortSet
	}
	return h.texts.fail(code, err)
}

func (h *Hub) readyPort() (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.portAvailable {
		return "", h.texts.fail(ErrNoPortSet, nil)
	}
	return h.port, nil
}

// WriteCommand sends cmd to the controller.
func (h *Hub) WriteCommand(cmd []byte) error {
	port, err := h.readyPort()
	if err != nil {
		return err
	}

	return h.arbiter.Do(func() error {
		if err := h.ch.Write(port, cmd); err != nil {
			return h.transportError(ErrWriteFailed, err)
		}
		return nil
	})
}

// ReadResponse reads one answer of at most maxLen bytes.
func (h *Hub) ReadResponse(maxLen int) (string, error) {
	port, err := h.readyPort()
	if err != nil {
		return "", err
	}

	var answer string
	err = h.arbiter.Do(func() error {
		var err error
		answer, err = h.ch.ReadAnswer(port, h.dialect.AnswerTerminator, maxLen)
		if err != nil {
			return h.transportError(ErrCommunication, err)
		}
		return nil
	})
	return answer, err
}

// Query performs a complete exchange: stale input is dropped, cmd is sent and
// the answer read, all without letting another exchange in between.
func (h *Hub) Query(cmd []byte, maxLen int) (string, error) {
	port, err := h.readyPort()
	if err != nil {
		return "", err
	}

	var answer string
	err = h.arbiter.Do(func() error {
		if err := h.ch.Purge(port); err != nil {
			return h.transportError(ErrCommunication, err)
		}
		if err := h.ch.Write(port, cmd); err != nil {
			return h.transportError(ErrWriteFailed, err)
		}
		var err error
		answer, err = h.ch.ReadAnswer(port, h.dialect.AnswerTerminator, maxLen)
		if err != nil {
			return h.transportError(ErrCommunication, err)
		}
		return nil
	})
	return answer, err
}

// SetLastPosition records a position confirmed on the wire.
func (h *Hub) SetLastPosition(pos int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPosition = pos
}

// LastPosition returns the last confirmed position, or NoPosition.
func (h *Hub) LastPosition() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastPosition
}
