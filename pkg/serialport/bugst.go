package serialport

import (
	"fmt"

	"go.bug.st/serial"
)

// BugstBackend opens ports with go.bug.st/serial. Settings are applied in
// place, without closing the port.
type BugstBackend struct{}

func (BugstBackend) Open(name string, s Settings) (Conn, error) {
	port, err := serial.Open(name, bugstMode(s))
	if err != nil {
		return nil, err
	}

	conn := &bugstConn{port: port}
	if err := port.SetReadTimeout(s.ReadTimeout()); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return conn, nil
}

func bugstMode(s Settings) *serial.Mode {
	stopBits := serial.OneStopBit
	if s.StopBits == 2 {
		stopBits = serial.TwoStopBits
	}

	return &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: stopBits,
	}
}

type bugstConn struct {
	port serial.Port
}

func (c *bugstConn) Read(p []byte) (int, error) {
	return c.port.Read(p)
}

func (c *bugstConn) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

func (c *bugstConn) Purge() error {
	if err := c.port.ResetInputBuffer(); err != nil {
		return err
	}
	return c.port.ResetOutputBuffer()
}

func (c *bugstConn) Configure(s Settings) error {
	if err := c.port.SetMode(bugstMode(s)); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	return c.port.SetReadTimeout(s.ReadTimeout())
}

func (c *bugstConn) Close() error {
	return c.port.Close()
}

// ListPorts returns the names of the serial ports present on this machine.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
