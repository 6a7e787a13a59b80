package serialport

import "errors"

var (
	ErrInvalidPort     = errors.New("invalid port name")
	ErrInvalidSettings = errors.New("invalid port settings")
	ErrOpenFailed      = errors.New("failed to open port")
	ErrPortClosed      = errors.New("port is closed")
	ErrAnswerTimeout   = errors.New("timeout waiting for answer")
	ErrAnswerTooLong   = errors.New("answer exceeds maximum length")
	ErrShortWrite      = errors.New("short write")
	ErrUnknownBackend  = errors.New("unknown serial backend")
)
