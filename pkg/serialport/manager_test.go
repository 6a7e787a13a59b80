package serialport

import (
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedConn answers every write with a canned reply.
type scriptedConn struct {
	mu         sync.Mutex
	replies    map[string]string
	out        []byte
	writes     [][]byte
	purges     int
	configured []Settings
	closed     bool

	configureErr error
	readDelay    time.Duration // how long an empty read blocks
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.out) == 0 && c.readDelay > 0 {
		time.Sleep(c.readDelay)
	}
	n := copy(p, c.out)
	c.out = c.out[n:]
	return n, nil
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	if reply, ok := c.replies[string(p)]; ok {
		c.out = append(c.out, reply...)
	}
	return len(p), nil
}

func (c *scriptedConn) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purges++
	c.out = nil
	return nil
}

func (c *scriptedConn) Configure(s Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.configureErr != nil {
		return c.configureErr
	}
	c.configured = append(c.configured, s)
	return nil
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type scriptedBackend struct {
	conns  map[string]*scriptedConn
	opened []Settings
}

func (b *scriptedBackend) Open(name string, s Settings) (Conn, error) {
	conn, ok := b.conns[name]
	if !ok {
		return nil, errors.New("no such device")
	}
	b.opened = append(b.opened, s)
	return conn, nil
}

func newTestManager(conn *scriptedConn) (*Manager, *scriptedBackend) {
	backend := &scriptedBackend{conns: map[string]*scriptedConn{"COM7": conn}}
	return NewManager(backend, log.WithField("component", "test")), backend
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())

	bad := DefaultSettings()
	bad.BaudRate = 1234
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSettings)

	bad = DefaultSettings()
	bad.StopBits = 3
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSettings)

	for _, h := range []Handshaking{"Software", "Hardware", ""} {
		bad = DefaultSettings()
		bad.Handshaking = h
		assert.ErrorIs(t, bad.Validate(), ErrInvalidSettings, h)
	}

	bad = DefaultSettings()
	bad.AnswerTimeout = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSettings)
}

func TestSettingsReadTimeout(t *testing.T) {
	s := DefaultSettings()
	s.AnswerTimeout = 2 * time.Second
	assert.Equal(t, maxReadTimeout, s.ReadTimeout())

	s.AnswerTimeout = 20 * time.Millisecond
	assert.Equal(t, 20*time.Millisecond, s.ReadTimeout())
}

func TestValidPortName(t *testing.T) {
	assert.True(t, ValidPortName("COM7"))
	assert.True(t, ValidPortName("/dev/ttyACM0"))
	assert.False(t, ValidPortName(""))
	assert.False(t, ValidPortName("Undefined"))
	assert.False(t, ValidPortName("UNKNOWN"))
}

func TestManagerOpensLazilyWithRecordedSettings(t *testing.T) {
	conn := &scriptedConn{}
	m, backend := newTestManager(conn)

	s := DefaultSettings()
	s.BaudRate = 57600
	require.NoError(t, m.SetSettings("COM7", s))
	assert.False(t, m.IsOpen("COM7"))
	assert.Empty(t, backend.opened)

	require.NoError(t, m.Purge("COM7"))
	assert.True(t, m.IsOpen("COM7"))
	require.Len(t, backend.opened, 1)
	assert.Equal(t, 57600, backend.opened[0].BaudRate)
	assert.Equal(t, 1, conn.purges)
}

func TestManagerSetSettingsReconfiguresOpenPort(t *testing.T) {
	conn := &scriptedConn{}
	m, _ := newTestManager(conn)
	require.NoError(t, m.Open("COM7"))

	s := DefaultSettings()
	s.AnswerTimeout = time.Second
	require.NoError(t, m.SetSettings("COM7", s))

	require.Len(t, conn.configured, 1)
	assert.Equal(t, time.Second, conn.configured[0].AnswerTimeout)

	got, err := m.Settings("COM7")
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestManagerSetSettingsRejectedByOpenPort(t *testing.T) {
	conn := &scriptedConn{}
	m, backend := newTestManager(conn)
	require.NoError(t, m.Open("COM7"))

	conn.configureErr = errors.New("mode not supported")
	s := DefaultSettings()
	s.BaudRate = 115200
	s.StopBits = 2
	err := m.SetSettings("COM7", s)
	assert.ErrorIs(t, err, conn.configureErr)

	// The settings are kept and the port is released.
	got, err := m.Settings("COM7")
	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.False(t, m.IsOpen("COM7"))
	assert.True(t, conn.closed)

	// The next use reopens with the recorded settings.
	conn.configureErr = nil
	require.NoError(t, m.Purge("COM7"))
	require.Len(t, backend.opened, 2)
	assert.Equal(t, s, backend.opened[1])
}

func TestManagerOpenFailure(t *testing.T) {
	m, _ := newTestManager(&scriptedConn{})

	err := m.Purge("COM9")
	assert.ErrorIs(t, err, ErrOpenFailed)

	_, err = m.Settings("undefined")
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestManagerReadAnswerKeepsBytesPastTerminator(t *testing.T) {
	conn := &scriptedConn{replies: map[string]string{"V\r": "ArduinoFilterWheel\r\n"}}
	m, _ := newTestManager(conn)

	require.NoError(t, m.Write("COM7", []byte("V\r")))
	answer, err := m.ReadAnswer("COM7", "\r", 64)
	require.NoError(t, err)
	assert.Equal(t, "ArduinoFilterWheel", answer)

	// The trailing line feed is delivered by the next read.
	rest, err := m.Read("COM7", 16)
	require.NoError(t, err)
	assert.Equal(t, []byte("\n"), rest)
}

func TestManagerPurgeDropsPendingBytes(t *testing.T) {
	conn := &scriptedConn{replies: map[string]string{"V\r": "ok\rstale"}}
	m, _ := newTestManager(conn)

	require.NoError(t, m.Write("COM7", []byte("V\r")))
	_, err := m.ReadAnswer("COM7", "\r", 64)
	require.NoError(t, err)

	require.NoError(t, m.Purge("COM7"))
	rest, err := m.Read("COM7", 16)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestManagerReadAnswerTimeout(t *testing.T) {
	conn := &scriptedConn{}
	m, _ := newTestManager(conn)

	s := DefaultSettings()
	s.AnswerTimeout = 20 * time.Millisecond
	require.NoError(t, m.SetSettings("COM7", s))

	start := time.Now()
	_, err := m.ReadAnswer("COM7", "\r", 64)
	assert.ErrorIs(t, err, ErrAnswerTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestManagerReadAnswerTimeoutWithBlockingReads(t *testing.T) {
	s := DefaultSettings()
	s.AnswerTimeout = 200 * time.Millisecond
	conn := &scriptedConn{readDelay: s.ReadTimeout()}
	m, _ := newTestManager(conn)
	require.NoError(t, m.SetSettings("COM7", s))

	start := time.Now()
	_, err := m.ReadAnswer("COM7", "\r", 64)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrAnswerTimeout)
	assert.GreaterOrEqual(t, elapsed, s.AnswerTimeout)
	assert.Less(t, elapsed, s.AnswerTimeout+2*maxReadTimeout)
}

func TestManagerReadAnswerTooLong(t *testing.T) {
	conn := &scriptedConn{replies: map[string]string{"x": "0123456789"}}
	m, _ := newTestManager(conn)

	require.NoError(t, m.Write("COM7", []byte("x")))
	_, err := m.ReadAnswer("COM7", "\r", 4)
	assert.ErrorIs(t, err, ErrAnswerTooLong)
}

func TestManagerWriteWithDelayBetweenChars(t *testing.T) {
	conn := &scriptedConn{}
	m, _ := newTestManager(conn)

	s := DefaultSettings()
	s.DelayBetweenChars = time.Millisecond
	require.NoError(t, m.SetSettings("COM7", s))
	require.NoError(t, m.Write("COM7", []byte("12\r")))

	assert.Equal(t, [][]byte{[]byte("1"), []byte("2"), []byte("\r")}, conn.writes)
}

func TestManagerClose(t *testing.T) {
	conn := &scriptedConn{}
	m, _ := newTestManager(conn)

	require.NoError(t, m.Open("COM7"))
	require.NoError(t, m.CloseAll())
	assert.True(t, conn.closed)
	assert.False(t, m.IsOpen("COM7"))

	// Closing again is harmless.
	assert.NoError(t, m.Close("COM7"))
	assert.NoError(t, m.Close("COM3"))
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend("bugst")
	require.NoError(t, err)
	assert.IsType(t, BugstBackend{}, b)

	b, err = NewBackend("tarm")
	require.NoError(t, err)
	assert.IsType(t, TarmBackend{}, b)

	_, err = NewBackend("usb")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
