package serialport

import (
	"fmt"
	"strings"
	"time"
)

// Handshaking selects the flow control used on a port. Neither backend can
// drive the modem control lines, so only HandshakeOff is accepted.
type Handshaking string

const HandshakeOff Handshaking = "Off"

const (
	defaultBaudRate      = 9600
	defaultAnswerTimeout = 500 * time.Millisecond

	// Longest single backend read. ReadAnswer polls in steps of at most this
	// much, so it overruns AnswerTimeout by one step at worst.
	maxReadTimeout = 50 * time.Millisecond
)

// Settings are the transport parameters of a port. AnswerTimeout bounds a
// whole ReadAnswer call, not a single read.
type Settings struct {
	BaudRate          int           `json:"baud_rate"`
	StopBits          int           `json:"stop_bits"`
	Handshaking       Handshaking   `json:"handshaking"`
	AnswerTimeout     time.Duration `json:"answer_timeout"`
	DelayBetweenChars time.Duration `json:"delay_between_chars"`
}

// DefaultSettings returns 9600 8N1 without handshaking and a 500ms answer timeout.
func DefaultSettings() Settings {
	return Settings{
		BaudRate:      defaultBaudRate,
		StopBits:      1,
		Handshaking:   HandshakeOff,
		AnswerTimeout: defaultAnswerTimeout,
	}
}

var baudRates = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true, 19200: true,
	38400: true, 57600: true, 115200: true, 230400: true,
}

// Validate checks that the settings can be applied to a port.
func (s Settings) Validate() error {
	if !baudRates[s.BaudRate] {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidSettings, s.BaudRate)
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("%w: stop bits %d", ErrInvalidSettings, s.StopBits)
	}
	if s.Handshaking != HandshakeOff {
		return fmt.Errorf("%w: handshaking %q is not supported", ErrInvalidSettings, s.Handshaking)
	}
	if s.AnswerTimeout <= 0 {
		return fmt.Errorf("%w: answer timeout %v", ErrInvalidSettings, s.AnswerTimeout)
	}
	if s.DelayBetweenChars < 0 {
		return fmt.Errorf("%w: delay between chars %v", ErrInvalidSettings, s.DelayBetweenChars)
	}
	return nil
}

// ReadTimeout is the timeout backends use for a single read.
func (s Settings) ReadTimeout() time.Duration {
	return min(s.AnswerTimeout, maxReadTimeout)
}

// ValidPortName reports whether name can identify a port. Empty names and the
// "undefined"/"unknown" placeholders are rejected.
func ValidPortName(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "undefined", "unknown":
		return false
	}
	return true
}
