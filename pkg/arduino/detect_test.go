package arduino

import (
	"errors"
	"testing"
	"time"

	"fwalpaca/pkg/firmware"
	"fwalpaca/pkg/serialport"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// customSettings differ from the detection overrides in every timing field.
func customSettings() serialport.Settings {
	return serialport.Settings{
		BaudRate:          115200,
		StopBits:          2,
		Handshaking:       serialport.HandshakeOff,
		AnswerTimeout:     2 * time.Second,
		DelayBetweenChars: time.Millisecond,
	}
}

func TestDetectDevice(t *testing.T) {
	tests := []struct {
		name     string
		opts     firmware.Options
		dialect  Dialect
		expected DetectionStatus
	}{
		{"ASCII controller", firmware.Options{BaudRate: 9600}, DialectASCII, CanCommunicate},
		{"Binary controller", firmware.Options{Mode: firmware.ModeBinary, Version: 2, BaudRate: 57600}, DialectBinary, CanCommunicate},
		{"Wrong identity", firmware.Options{Identity: "SomethingElse"}, DialectASCII, CannotCommunicate},
		{"Unsupported version", firmware.Options{Mode: firmware.ModeBinary, Version: 7}, DialectBinary, CannotCommunicate},
		{"Wrong line speed", firmware.Options{BaudRate: 57600}, DialectASCII, CannotCommunicate},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, c := newBench(tc.opts)
			require.NoError(t, m.SetSettings("COM7", customSettings()))

			hub := newTestHub(m, WithDialect(tc.dialect))
			require.NoError(t, hub.AssignPort("COM7"))

			assert.Equal(t, tc.expected, hub.DetectDevice())

			after, err := m.Settings("COM7")
			require.NoError(t, err)
			assert.Equal(t, customSettings(), after)
			assert.Equal(t, customSettings(), c.Settings())

			assert.False(t, hub.Initialized())
			assert.Equal(t, 0, hub.Version())
		})
	}
}

func TestDetectDeviceStates(t *testing.T) {
	m, _ := newBench(firmware.Options{})
	hub := newTestHub(m)

	assert.Equal(t, Misconfigured, hub.DetectDevice())

	require.NoError(t, hub.AssignPort("COM7"))
	require.NoError(t, hub.Initialize())
	assert.Equal(t, Communicating, hub.DetectDevice())
}

func TestDetectDeviceUsesBootDelay(t *testing.T) {
	m, _ := newBench(firmware.Options{})
	clock := newFakeClock()
	hub := NewHub(m, WithClock(clock))
	require.NoError(t, hub.AssignPort("COM7"))

	assert.Equal(t, CanCommunicate, hub.DetectDevice())
	assert.Equal(t, []time.Duration{2 * time.Second}, clock.slept)
}

func TestBoardNotFoundThenDetect(t *testing.T) {
	m, _ := newBench(firmware.Options{Identity: "SomethingElse"})
	before, err := m.Settings("COM7")
	require.NoError(t, err)

	hub := newTestHub(m)
	require.NoError(t, hub.AssignPort("COM7"))

	assert.ErrorIs(t, hub.Initialize(), ErrBoardNotFound)
	assert.Equal(t, CannotCommunicate, hub.DetectDevice())

	after, err := m.Settings("COM7")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// panickingChannel blows up on the first write of the handshake.
type panickingChannel struct {
	*serialport.Manager
}

func (panickingChannel) Write(string, []byte) error {
	panic("driver fault")
}

func TestDetectDeviceRecoversFromPanic(t *testing.T) {
	m, _ := newBench(firmware.Options{})
	require.NoError(t, m.SetSettings("COM7", customSettings()))

	arbiter := NewArbiter()
	hub := newTestHub(panickingChannel{m}, WithArbiter(arbiter))
	require.NoError(t, hub.AssignPort("COM7"))

	var status DetectionStatus
	require.NotPanics(t, func() { status = hub.DetectDevice() })
	assert.Equal(t, CannotCommunicate, status)

	after, err := m.Settings("COM7")
	require.NoError(t, err)
	assert.Equal(t, customSettings(), after)

	// The arbiter was released.
	assert.NoError(t, arbiter.Do(func() error { return nil }))
}

// fixedModeBench opens emulated ports whose mode cannot be changed once open.
type fixedModeBench struct {
	firmware.Bench
}

func (b fixedModeBench) Open(name string, s serialport.Settings) (serialport.Conn, error) {
	conn, err := b.Bench.Open(name, s)
	if err != nil {
		return nil, err
	}
	return fixedModeConn{conn}, nil
}

type fixedModeConn struct {
	serialport.Conn
}

func (fixedModeConn) Configure(serialport.Settings) error {
	return errors.New("mode change rejected")
}

func TestDetectDeviceRestoresSettingsWhenPortRejectsThem(t *testing.T) {
	c := firmware.NewController(firmware.Options{})
	m := serialport.NewManager(fixedModeBench{firmware.Bench{"COM7": c}}, log.WithField("component", "test"))
	require.NoError(t, m.SetSettings("COM7", customSettings()))

	hub := newTestHub(m)
	require.NoError(t, hub.AssignPort("COM7"))
	assert.Equal(t, CanCommunicate, hub.DetectDevice())

	after, err := m.Settings("COM7")
	require.NoError(t, err)
	assert.Equal(t, customSettings(), after)

	// The port opened for the probe was released and reopens with the
	// restored settings.
	assert.False(t, m.IsOpen("COM7"))
	require.NoError(t, m.Open("COM7"))
	assert.Equal(t, customSettings(), c.Settings())
}

func TestDetectionStatusString(t *testing.T) {
	assert.Equal(t, "CanCommunicate", CanCommunicate.String())
	assert.Equal(t, "Misconfigured", Misconfigured.String())
	assert.Equal(t, "Unknown", DetectionStatus(42).String())
}
