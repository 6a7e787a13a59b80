package arduino_wheel

import (
	"errors"
	"fmt"
	"html/template"
	"sync"
	"time"

	"fwalpaca/pkg/alpaca"
	"fwalpaca/pkg/arduino"
	"fwalpaca/pkg/serialport"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	driverName       = "Arduino Filter Wheel Driver"
	driverVersion    = "1.0"
	interfaceVersion = 3
)

type connState int

const (
	connStateDisconnected connState = iota
	connStateConnecting
	connStateConnected
	connStateDetecting
)

// Publisher receives wheel state changes.
type Publisher interface {
	PublishConnected(device int, connected bool) error
	PublishPosition(device int, pos int, label string) error
}

// PortLister lists the serial ports offered on the setup page.
type PortLister func() ([]string, error)

// Driver is the Alpaca filter wheel driver for an Arduino controlled wheel.
type Driver struct {
	number    int                // Driver number
	store     *store             // Configuration store
	tmpl      *template.Template // HTML template for rendering the setup form
	ports     *serialport.Manager
	arbiter   *arduino.Arbiter
	publisher Publisher
	listPorts PortLister
	hubOpts   []arduino.Option
	logger    log.FieldLogger

	mu    sync.Mutex
	state connState
	cfg   Config // configuration in use while connected
	hub   *arduino.Hub
	wheel *arduino.Wheel
}

type Option func(*Driver)

// WithPublisher publishes connection and position changes.
func WithPublisher(p Publisher) Option {
	return func(d *Driver) {
		d.publisher = p
	}
}

// WithArbiter shares the port arbiter with other drivers on the same port.
func WithArbiter(a *arduino.Arbiter) Option {
	return func(d *Driver) {
		d.arbiter = a
	}
}

func WithPortLister(l PortLister) Option {
	return func(d *Driver) {
		d.listPorts = l
	}
}

// WithControllerOptions passes extra options to the hub and wheel, e.g. a
// shorter boot delay for simulated controllers.
func WithControllerOptions(opts ...arduino.Option) Option {
	return func(d *Driver) {
		d.hubOpts = append(d.hubOpts, opts...)
	}
}

func NewDriver(number int, db *bolt.DB, ports *serialport.Manager, tmpl *template.Template, logger log.FieldLogger, defaults Config, opts ...Option) (*Driver, error) {
	store, err := NewStore(db, number, defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	driver := Driver{
		number:    number,
		store:     store,
		tmpl:      tmpl,
		ports:     ports,
		listPorts: serialport.ListPorts,
		state:     connStateDisconnected,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(&driver)
	}
	if driver.arbiter == nil {
		driver.arbiter = arduino.NewArbiter()
	}

	return &driver, nil
}

func (d *Driver) Close() {
	d.logger.Info("Closing filter wheel driver")

	if d.Connected() {
		if err := d.Disconnect(); err != nil {
			d.logger.Errorf("failed to disconnect: %v", err)
		}
	}
}

func (d *Driver) controllerOptions(cfg Config) ([]arduino.Option, error) {
	dialect, err := arduino.ParseDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	opts := []arduino.Option{
		arduino.WithDialect(dialect),
		arduino.WithArbiter(d.arbiter),
		arduino.WithLogger(d.logger),
		arduino.WithPositions(cfg.Positions),
		arduino.WithSettleDelay(time.Duration(cfg.SettleDelayMs) * time.Millisecond),
		arduino.WithLabels(cfg.labelMap()),
	}
	return append(opts, d.hubOpts...), nil
}

// Connect initializes the controller. It blocks for the controller boot
// delay.
func (d *Driver) Connect() error {
	d.mu.Lock()
	switch d.state {
	case connStateConnected:
		d.mu.Unlock()
		return nil
	case connStateConnecting, connStateDetecting:
		d.mu.Unlock()
		return alpaca.ErrInvalidOperation
	}
	d.state = connStateConnecting
	d.mu.Unlock()

	cfg, hub, wheel, err := d.open()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		d.state = connStateDisconnected
		d.logger.Errorf("Failed to connect: %v", err)
		d.ports.Close(cfg.Port)
		return toAlpacaError(err)
	}

	d.cfg, d.hub, d.wheel = cfg, hub, wheel
	d.state = connStateConnected
	d.logger.Infof("Connected to filter wheel on %s", cfg.Port)
	d.publishConnected(true)
	return nil
}

func (d *Driver) open() (Config, *arduino.Hub, *arduino.Wheel, error) {
	cfg, err := d.store.GetConfig()
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("failed to get wheel config: %v", err)
	}

	opts, err := d.controllerOptions(cfg)
	if err != nil {
		return cfg, nil, nil, err
	}

	hub := arduino.NewHub(d.ports, opts...)
	if err := hub.AssignPort(cfg.Port); err != nil {
		return cfg, nil, nil, err
	}
	if err := hub.Initialize(); err != nil {
		return cfg, nil, nil, err
	}

	wheel := arduino.NewWheel(hub, opts...)
	if err := wheel.Initialize(); err != nil {
		hub.Shutdown()
		return cfg, nil, nil, err
	}
	return cfg, hub, wheel, nil
}

func (d *Driver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != connStateConnected {
		return alpaca.ErrNotConnected
	}

	d.wheel.Shutdown()
	d.hub.Shutdown()
	d.state = connStateDisconnected
	d.publishConnected(false)

	if err := d.ports.Close(d.cfg.Port); err != nil {
		d.logger.Errorf("Failed to close %s: %v", d.cfg.Port, err)
		return alpaca.DriverError(int(arduino.ErrCloseFailed), d.hub.ErrorText(arduino.ErrCloseFailed))
	}

	d.logger.Infof("Disconnected from filter wheel on %s", d.cfg.Port)
	return nil
}

func (d *Driver) Connecting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == connStateConnecting
}

func (d *Driver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == connStateConnected
}

// toAlpacaError reports controller errors with their registered message.
func toAlpacaError(err error) error {
	var de *arduino.DeviceError
	if !errors.As(err, &de) {
		return err
	}
	switch de.Code {
	case arduino.ErrUnknownPosition, arduino.ErrReservedPosition, arduino.ErrInvalidLabel:
		return alpaca.InvalidValue("%s", de.Message)
	}
	return alpaca.DriverError(int(de.Code), de.Message)
}

func (d *Driver) publishConnected(connected bool) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.PublishConnected(d.number, connected); err != nil {
		d.logger.Warnf("Failed to publish connection state: %v", err)
	}
}

func (d *Driver) publishPosition(pos int) {
	if d.publisher == nil {
		return
	}
	label, _ := d.wheel.PositionLabel(pos)
	if err := d.publisher.PublishPosition(d.number, pos, label); err != nil {
		d.logger.Warnf("Failed to publish position: %v", err)
	}
}

func (d *Driver) DeviceInfo() alpaca.DeviceInfo {
	cfg, err := d.store.GetConfig()
	if err != nil {
		d.logger.Errorf("Failed to get wheel config: %v", err)
	}

	return alpaca.DeviceInfo{
		Name:        cfg.Name,
		Description: fmt.Sprintf("Arduino filter wheel on %s", cfg.Port),
		Type:        alpaca.DeviceTypeFilterWheel,
		Number:      d.number,
		UniqueID:    cfg.UniqueID,
	}
}

func (d *Driver) DriverInfo() alpaca.DriverInfo {
	return alpaca.DriverInfo{
		Name:             driverName,
		Version:          driverVersion,
		InterfaceVersion: interfaceVersion,
	}
}

func (d *Driver) GetState() []alpaca.StateProperty {
	props := []alpaca.StateProperty{
		{
			Name:  "TimeStamp",
			Value: time.Now().Format(time.RFC3339),
		},
	}

	if pos, err := d.Position(); err == nil {
		props = append(props, alpaca.StateProperty{Name: "Position", Value: pos})
	}

	return props
}

// Names returns the label of every position.
func (d *Driver) Names() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != connStateConnected {
		return nil, alpaca.ErrNotConnected
	}
	return d.wheel.Labels(), nil
}

func (d *Driver) FocusOffsets() ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != connStateConnected {
		return nil, alpaca.ErrNotConnected
	}
	return d.cfg.focusOffsets(), nil
}

// Position returns the current position, or -1 while the wheel is moving or
// before its first move.
func (d *Driver) Position() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != connStateConnected {
		return 0, alpaca.ErrNotConnected
	}
	if d.wheel.Busy() {
		return -1, nil
	}
	return d.wheel.Position(), nil
}

func (d *Driver) SetPosition(pos int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != connStateConnected {
		return alpaca.ErrNotConnected
	}
	if err := d.wheel.SetPosition(pos); err != nil {
		return toAlpacaError(err)
	}

	d.publishPosition(pos)
	return nil
}

// Detect probes the configured port for a controller without connecting.
// Connect is refused until the probe has finished and released the port.
func (d *Driver) Detect() (arduino.DetectionStatus, error) {
	d.mu.Lock()
	switch d.state {
	case connStateConnected:
		d.mu.Unlock()
		return arduino.Communicating, nil
	case connStateConnecting, connStateDetecting:
		d.mu.Unlock()
		return arduino.Misconfigured, alpaca.ErrInvalidOperation
	}
	d.state = connStateDetecting
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.state = connStateDisconnected
		d.mu.Unlock()
	}()

	cfg, err := d.store.GetConfig()
	if err != nil {
		return arduino.Misconfigured, err
	}
	opts, err := d.controllerOptions(cfg)
	if err != nil {
		return arduino.Misconfigured, err
	}

	hub := arduino.NewHub(d.ports, opts...)
	if err := hub.AssignPort(cfg.Port); err != nil {
		return arduino.Misconfigured, nil
	}
	defer d.ports.Close(cfg.Port)

	status := hub.DetectDevice()
	d.logger.Infof("Detection on %s: %s", cfg.Port, status)
	return status, nil
}
