package arduino

import (
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// Time the controller needs to boot after the port is opened.
	defaultBootDelay   = 2 * time.Second
	defaultSettleDelay = 500 * time.Millisecond
	defaultPositions   = 7
)

type options struct {
	dialect     Dialect
	arbiter     *Arbiter
	logger      log.FieldLogger
	clock       Clock
	bootDelay   time.Duration
	settleDelay time.Duration
	positions   int
	labels      map[int]string
}

// Option configures a Hub or a Wheel. Options that do not apply to the device
// being built are ignored.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		dialect:     DialectASCII,
		logger:      log.StandardLogger(),
		clock:       systemClock{},
		bootDelay:   defaultBootDelay,
		settleDelay: defaultSettleDelay,
		positions:   defaultPositions,
	}
}

func buildOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.arbiter == nil {
		o.arbiter = NewArbiter()
	}
	return o
}

// WithDialect selects the handshake the controller firmware speaks.
func WithDialect(d Dialect) Option {
	return func(o *options) {
		o.dialect = d
	}
}

// WithArbiter shares an arbiter between devices driving the same port.
func WithArbiter(a *Arbiter) Option {
	return func(o *options) {
		o.arbiter = a
	}
}

func WithLogger(l log.FieldLogger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithBootDelay replaces the controller boot delay. Only simulated
// controllers and tests should need this.
func WithBootDelay(d time.Duration) Option {
	return func(o *options) {
		o.bootDelay = d
	}
}

// WithSettleDelay sets how long the wheel reports busy after a move.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) {
		o.settleDelay = d
	}
}

// WithPositions sets the number of wheel positions, including the stop
// position 0.
func WithPositions(n int) Option {
	return func(o *options) {
		if n > 1 {
			o.positions = n
		}
	}
}

// WithLabels overrides position labels. Position 0 always keeps its stop
// label.
func WithLabels(labels map[int]string) Option {
	return func(o *options) {
		o.labels = labels
	}
}
