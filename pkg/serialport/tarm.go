package serialport

import (
	"errors"
	"fmt"
	"io"

	tarm "github.com/tarm/serial"
)

// TarmBackend opens ports with github.com/tarm/serial. That library fixes the
// port parameters at open time, so Configure reopens the port.
type TarmBackend struct{}

func (TarmBackend) Open(name string, s Settings) (Conn, error) {
	conn := &tarmConn{name: name, openPort: tarm.OpenPort}
	if err := conn.open(s); err != nil {
		return nil, err
	}
	return conn, nil
}

// tarmConn is a tarm port. port is nil after a failed reopen; the conn then
// fails every operation until Configure succeeds.
type tarmConn struct {
	name     string
	settings Settings
	port     *tarm.Port
	openPort func(*tarm.Config) (*tarm.Port, error)
}

func (c *tarmConn) open(s Settings) error {
	stopBits := tarm.Stop1
	if s.StopBits == 2 {
		stopBits = tarm.Stop2
	}

	port, err := c.openPort(&tarm.Config{
		Name:        c.name,
		Baud:        s.BaudRate,
		ReadTimeout: s.ReadTimeout(),
		Size:        8,
		Parity:      tarm.ParityNone,
		StopBits:    stopBits,
	})
	if err != nil {
		return err
	}

	c.port = port
	c.settings = s
	return nil
}

func (c *tarmConn) Read(p []byte) (int, error) {
	if c.port == nil {
		return 0, ErrPortClosed
	}
	n, err := c.port.Read(p)
	// A read timeout surfaces as EOF on posix systems.
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

func (c *tarmConn) Write(p []byte) (int, error) {
	if c.port == nil {
		return 0, ErrPortClosed
	}
	return c.port.Write(p)
}

func (c *tarmConn) Purge() error {
	if c.port == nil {
		return ErrPortClosed
	}
	return c.port.Flush()
}

func (c *tarmConn) Configure(s Settings) error {
	// The inter-character delay is applied by the Manager.
	if c.port != nil && s.BaudRate == c.settings.BaudRate && s.StopBits == c.settings.StopBits &&
		s.Handshaking == c.settings.Handshaking && s.AnswerTimeout == c.settings.AnswerTimeout {
		c.settings = s
		return nil
	}

	if c.port != nil {
		err := c.port.Close()
		c.port = nil
		if err != nil {
			return fmt.Errorf("failed to close %s for reconfiguration: %w", c.name, err)
		}
	}
	if err := c.open(s); err != nil {
		return fmt.Errorf("failed to reopen %s: %w", c.name, err)
	}
	return nil
}

func (c *tarmConn) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}
