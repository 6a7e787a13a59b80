package arduino

import (
	"errors"
	"fmt"
)

// Code is a numeric device error code. Codes are reported to the host
// together with the message the device registered for them.
type Code int

const (
	ErrUnknownPosition  Code = 101
	ErrInitializeFailed Code = 102
	ErrWriteFailed      Code = 103
	ErrCloseFailed      Code = 104
	ErrBoardNotFound    Code = 105
	ErrPortOpenFailed   Code = 106
	ErrCommunication    Code = 107
	ErrNoPortSet        Code = 108
	ErrVersionMismatch  Code = 109
	ErrPortLocked       Code = 110
	ErrReservedPosition Code = 111
	ErrInvalidLabel     Code = 112
)

var defaultErrorText = map[Code]string{
	ErrUnknownPosition:  "Invalid filter wheel position requested",
	ErrInitializeFailed: "Initialization of the device failed",
	ErrWriteFailed:      "Failed to send the command to the Arduino",
	ErrCloseFailed:      "Failed closing the Arduino serial port",
	ErrBoardNotFound:    "Did not find an Arduino board with the correct firmware.  Is the Arduino board connected to this serial port?",
	ErrPortOpenFailed:   "Failed opening Arduino USB device",
	ErrCommunication:    "Communication with the Arduino failed",
	ErrNoPortSet:        "Hub Device not found.  The Arduino filter wheel hub device is needed to create this device",
	ErrVersionMismatch:  "The firmware version on the Arduino is not compatible with this adapter",
	ErrPortLocked:       "The serial port cannot be changed while the hub is initialized",
	ErrReservedPosition: "Position 0 is the stop position and cannot be renamed",
	ErrInvalidLabel:     "A filter label cannot be empty",
}

// Error returns the default message of the code, which lets codes be used as
// errors.Is targets.
func (c Code) Error() string {
	if text, ok := defaultErrorText[c]; ok {
		return text
	}
	return fmt.Sprintf("device error %d", int(c))
}

// DeviceError is an error reported by a device. Message is the text the device
// registered for Code; Err is the underlying cause, if any.
type DeviceError struct {
	Code    Code
	Message string
	Err     error
}

func (e *DeviceError) Error() string {
	return e.Message
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

func (e *DeviceError) Is(target error) bool {
	code, ok := target.(Code)
	return ok && code == e.Code
}

// CodeOf returns the device error code carried by err, or 0.
func CodeOf(err error) Code {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Code
	}
	var code Code
	if errors.As(err, &code) {
		return code
	}
	return 0
}

// errorTexts is the message table of one device, filled once on construction.
type errorTexts map[Code]string

func newErrorTexts() errorTexts {
	texts := make(errorTexts, len(defaultErrorText))
	for code, text := range defaultErrorText {
		texts[code] = text
	}
	return texts
}

func (t errorTexts) text(code Code) string {
	if text, ok := t[code]; ok {
		return text
	}
	return code.Error()
}

func (t errorTexts) fail(code Code, cause error) *DeviceError {
	return &DeviceError{Code: code, Message: t.text(code), Err: cause}
}
