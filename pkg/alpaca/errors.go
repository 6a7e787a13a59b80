package alpaca

import (
	"errors"
	"fmt"
)

// Error is an ASCOM error reported in the ErrorNumber and ErrorMessage fields
// of a response.
type Error struct {
	Number  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// DriverErrorBase is the first error number reserved for driver specific
// errors.
const DriverErrorBase = 0x500

var (
	ErrNotImplemented         = &Error{Number: 0x400, Message: "Method not implemented"}
	ErrPropertyNotImplemented = &Error{Number: 0x400, Message: "Property not implemented"}
	ErrInvalidValue           = &Error{Number: 0x401, Message: "Invalid value"}
	ErrValueNotSet            = &Error{Number: 0x402, Message: "Value not set"}
	ErrNotConnected           = &Error{Number: 0x407, Message: "Not connected"}
	ErrInvalidOperation       = &Error{Number: 0x40B, Message: "Invalid operation"}
	ErrUnspecified            = &Error{Number: 0x4FF, Message: "Unspecified error"}
)

// InvalidValue returns an invalid value error with a custom message.
func InvalidValue(format string, args ...any) *Error {
	return &Error{Number: ErrInvalidValue.Number, Message: fmt.Sprintf(format, args...)}
}

// DriverError returns a driver specific error numbered from DriverErrorBase.
func DriverError(code int, message string) *Error {
	return &Error{Number: DriverErrorBase + code, Message: message}
}

// asError converts err into the error reported to the client. Errors that are
// not ASCOM errors are reported as unspecified.
func asError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Number: ErrUnspecified.Number, Message: err.Error()}
}

// errBadRequest marks malformed requests, answered with HTTP 400.
type errBadRequest struct {
	msg string
}

func (e errBadRequest) Error() string {
	return e.msg
}

func badRequest(format string, args ...any) error {
	return errBadRequest{msg: fmt.Sprintf(format, args...)}
}
