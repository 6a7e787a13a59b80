// Package firmware emulates the Arduino filter wheel controller firmware on
// top of the serialport backend interfaces. It is used by the simulator
// device and as a hardware double in tests.
package firmware

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"fwalpaca/pkg/serialport"
)

// Mode selects the command set the emulated firmware understands.
type Mode int

const (
	ModeASCII  Mode = iota // "V\r" probe, answers terminated by CR
	ModeBinary             // 0x01 identity and 0x02 version bytes, answers terminated by CRLF
)

const (
	asciiIdentity  = "ArduinoFilterWheel"
	binaryIdentity = "Arduino-FW"

	cmdIdentity byte = 0x01
	cmdVersion  byte = 0x02
)

var ErrNoDevice = errors.New("no such device")

// Options configure an emulated controller.
type Options struct {
	Mode      Mode
	Identity  string // overrides the firmware identity string
	Version   int    // reported by the binary version query
	Positions int    // number of wheel positions, defaults to 7
	BaudRate  int    // line speed the firmware listens at, 0 accepts any

	CRLF           bool // ASCII answers end in "\r\n" instead of "\r"
	LeadingNewline bool // ASCII identity is preceded by "\n"
	Silent         bool // never answers
}

// Controller is an emulated filter wheel controller.
type Controller struct {
	mu       sync.Mutex
	opts     Options
	settings serialport.Settings
	open     bool
	failIO   error

	line     []byte
	out      []byte
	position int
	moves    []int
}

func NewController(opts Options) *Controller {
	if opts.Positions == 0 {
		opts.Positions = 7
	}
	if opts.Identity == "" {
		opts.Identity = asciiIdentity
		if opts.Mode == ModeBinary {
			opts.Identity = binaryIdentity
		}
	}
	if opts.Mode == ModeBinary && opts.Version == 0 {
		opts.Version = 1
	}

	return &Controller{opts: opts}
}

// Position returns the last position the wheel was commanded to.
func (c *Controller) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Moves returns every position the wheel was commanded to, in order.
func (c *Controller) Moves() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.moves...)
}

// Settings returns the line settings last applied by the host.
func (c *Controller) Settings() serialport.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// IsOpen reports whether the host currently holds the port open.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// FailIO makes every subsequent read and write fail with err. A nil err
// restores normal operation.
func (c *Controller) FailIO(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failIO = err
}

func (c *Controller) reply(s string) {
	if c.opts.Silent {
		return
	}
	if c.opts.BaudRate != 0 && c.settings.BaudRate != c.opts.BaudRate {
		// Wrong line speed, the host sees noise.
		c.out = append(c.out, 0xf0, 0x0f, 0xff)
		return
	}
	c.out = append(c.out, s...)
}

func (c *Controller) terminator() string {
	if c.opts.Mode == ModeBinary || c.opts.CRLF {
		return "\r\n"
	}
	return "\r"
}

func (c *Controller) receive(b byte) {
	if c.opts.Mode == ModeBinary && len(c.line) == 0 {
		switch b {
		case cmdIdentity:
			c.reply(c.opts.Identity + c.terminator())
			return
		case cmdVersion:
			c.reply(strconv.Itoa(c.opts.Version) + c.terminator())
			return
		}
	}

	if b != '\r' {
		c.line = append(c.line, b)
		return
	}

	cmd := string(c.line)
	c.line = c.line[:0]
	c.execute(cmd)
}

func (c *Controller) execute(cmd string) {
	if cmd == "V" && c.opts.Mode == ModeASCII {
		identity := c.opts.Identity
		if c.opts.LeadingNewline {
			identity = "\n" + identity
		}
		c.reply(identity + c.terminator())
		return
	}

	pos, err := strconv.Atoi(cmd)
	if err != nil || pos < 0 || pos >= c.opts.Positions {
		// Unknown commands are ignored by the firmware.
		return
	}
	c.position = pos
	c.moves = append(c.moves, pos)
}

// Bench maps port names to emulated controllers and implements
// serialport.Backend.
type Bench map[string]*Controller

func (b Bench) Open(name string, s serialport.Settings) (serialport.Conn, error) {
	c, ok := b[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	c.settings = s
	c.line = nil
	c.out = nil
	return &conn{c: c}, nil
}

type conn struct {
	c *Controller
}

func (p *conn) Read(buf []byte) (int, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()

	if p.c.failIO != nil {
		return 0, p.c.failIO
	}
	n := copy(buf, p.c.out)
	p.c.out = p.c.out[n:]
	return n, nil
}

func (p *conn) Write(data []byte) (int, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()

	if p.c.failIO != nil {
		return 0, p.c.failIO
	}
	for _, b := range data {
		p.c.receive(b)
	}
	return len(data), nil
}

func (p *conn) Purge() error {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	p.c.out = nil
	p.c.line = nil
	return nil
}

func (p *conn) Configure(s serialport.Settings) error {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	p.c.settings = s
	return nil
}

func (p *conn) Close() error {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	p.c.open = false
	return nil
}
