package arduino

import (
	"time"

	"fwalpaca/pkg/serialport"
)

// DetectionStatus is the outcome of a detection probe.
type DetectionStatus int

const (
	Misconfigured DetectionStatus = iota
	CannotCommunicate
	CanCommunicate
	Communicating
)

func (s DetectionStatus) String() string {
	switch s {
	case Misconfigured:
		return "Misconfigured"
	case CannotCommunicate:
		return "CannotCommunicate"
	case CanCommunicate:
		return "CanCommunicate"
	case Communicating:
		return "Communicating"
	default:
		return "Unknown"
	}
}

const detectAnswerTimeout = 500 * time.Millisecond

// DetectDevice checks whether a compatible controller answers on the assigned
// port without initializing the hub. The port settings in effect before the
// call are always restored.
func (h *Hub) DetectDevice() (status DetectionStatus) {
	h.mu.RLock()
	initialized, port, available := h.initialized, h.port, h.portAvailable
	h.mu.RUnlock()

	if initialized {
		return Communicating
	}
	if !available {
		return Misconfigured
	}

	logger := h.logger.WithField("port", port)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Detection aborted: %v", r)
			status = CannotCommunicate
		}
	}()

	saved, err := h.ch.Settings(port)
	if err != nil {
		logger.Warnf("Cannot read port settings: %v", err)
		return Misconfigured
	}
	defer func() {
		if err := h.ch.SetSettings(port, saved); err != nil {
			logger.Errorf("Failed to restore port settings: %v", err)
		}
	}()

	probe := saved
	probe.Handshaking = serialport.HandshakeOff
	probe.BaudRate = h.dialect.BaudRate
	probe.StopBits = 1
	probe.AnswerTimeout = detectAnswerTimeout
	probe.DelayBetweenChars = 0
	if err := h.ch.SetSettings(port, probe); err != nil {
		logger.Warnf("Cannot apply detection settings: %v", err)
		return CannotCommunicate
	}

	h.clock.Sleep(h.bootDelay)

	version, err := h.lockedHandshake(port)
	if err != nil {
		logger.Debugf("No controller found: %v", err)
		return CannotCommunicate
	}
	if !h.dialect.SupportsVersion(version) {
		logger.Debugf("Controller answered with unsupported firmware version %d", version)
		return CannotCommunicate
	}

	logger.Infof("Found controller with firmware version %d", version)
	return CanCommunicate
}
