package arduino

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Dialect describes the handshake a controller firmware generation speaks.
// Firmware never announces its dialect, so it is always configured.
type Dialect struct {
	Name string

	Probe        []byte   // identity request
	VersionQuery []byte   // version request, nil when the firmware has no version command
	Identities   []string // accepted identity answers
	FixedVersion int      // version assumed when VersionQuery is nil

	MinVersion int
	MaxVersion int

	AnswerTerminator  string
	CommandTerminator string
	BaudRate          int // line speed used while detecting the controller
}

var (
	// DialectASCII is spoken by the filter wheel firmware: "V\r" answered by
	// "ArduinoFilterWheel\r". Some revisions emit a line feed first.
	DialectASCII = Dialect{
		Name:              "ascii",
		Probe:             []byte("V\r"),
		Identities:        []string{"ArduinoFilterWheel", "\nArduinoFilterWheel"},
		FixedVersion:      1,
		MinVersion:        0,
		MaxVersion:        1,
		AnswerTerminator:  "\r",
		CommandTerminator: "\r",
		BaudRate:          9600,
	}

	// DialectBinary is spoken by the generic Arduino hub firmware: byte 0x01
	// returns the identity and byte 0x02 the firmware version.
	DialectBinary = Dialect{
		Name:              "binary",
		Probe:             []byte{0x01},
		VersionQuery:      []byte{0x02},
		Identities:        []string{"Arduino-FW"},
		MinVersion:        1,
		MaxVersion:        2,
		AnswerTerminator:  "\r\n",
		CommandTerminator: "\r",
		BaudRate:          57600,
	}
)

// ParseDialect returns the dialect registered under name.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case DialectASCII.Name, "":
		return DialectASCII, nil
	case DialectBinary.Name:
		return DialectBinary, nil
	default:
		return Dialect{}, fmt.Errorf("unknown dialect %q", name)
	}
}

// IsIdentity reports whether answer identifies a compatible controller.
func (d Dialect) IsIdentity(answer string) bool {
	return slices.Contains(d.Identities, answer)
}

// SupportsVersion reports whether v lies in the supported version range.
func (d Dialect) SupportsVersion(v int) bool {
	return v >= d.MinVersion && v <= d.MaxVersion
}

// MoveCommand encodes a move to pos: the decimal position followed by the
// command terminator.
func (d Dialect) MoveCommand(pos int) []byte {
	return []byte(strconv.Itoa(pos) + d.CommandTerminator)
}

// parseVersion reads the leading integer of a version answer. Answers that do
// not start with a number yield 0.
func parseVersion(answer string) int {
	fields := strings.Fields(answer)
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return v
}
