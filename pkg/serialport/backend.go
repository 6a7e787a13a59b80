package serialport

import "fmt"

// Conn is an open port as seen by the Manager. Read returns 0 and a nil error
// when nothing arrived before the backend's read timeout.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Purge() error
	Configure(s Settings) error
	Close() error
}

// Backend opens ports by name.
type Backend interface {
	Open(name string, s Settings) (Conn, error)
}

const (
	BackendBugst = "bugst"
	BackendTarm  = "tarm"
)

// NewBackend returns the serial backend registered under name.
func NewBackend(name string) (Backend, error) {
	switch name {
	case BackendBugst, "":
		return BugstBackend{}, nil
	case BackendTarm:
		return TarmBackend{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}
