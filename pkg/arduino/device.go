// Package arduino manages the link to an Arduino based filter wheel
// controller: detection, the firmware handshake, serialized access to the
// serial port shared by the hub and its wheel, and the wheel position state.
package arduino

import (
	"time"

	"fwalpaca/pkg/serialport"
)

// Role identifies what a device is within a controller.
type Role string

const (
	RoleHub         Role = "Hub"
	RoleStateDevice Role = "StateDevice"
)

// Device is implemented by every device a controller exposes.
type Device interface {
	Name() string
	Role() Role
	Initialize() error
	Shutdown() error
	Busy() bool
}

// NoPosition is reported before any move was confirmed.
const NoPosition = -1

// Channel is the serial port access a hub needs. serialport.Manager
// implements it.
type Channel interface {
	Purge(port string) error
	Write(port string, data []byte) error
	Read(port string, maxLen int) ([]byte, error)
	ReadAnswer(port string, term string, maxLen int) (string, error)
	Settings(port string) (serialport.Settings, error)
	SetSettings(port string, s serialport.Settings) error
}

// Clock abstracts time for the settle delay and the boot delay.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }
