package firmware

import (
	"errors"
	"testing"

	"fwalpaca/pkg/serialport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openConn(t *testing.T, c *Controller, baud int) serialport.Conn {
	t.Helper()
	s := serialport.DefaultSettings()
	s.BaudRate = baud
	conn, err := Bench{"COM7": c}.Open("COM7", s)
	require.NoError(t, err)
	return conn
}

func exchange(t *testing.T, conn serialport.Conn, cmd []byte) string {
	t.Helper()
	_, err := conn.Write(cmd)
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestASCIIIdentity(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		expected string
	}{
		{"CR terminated", Options{}, "ArduinoFilterWheel\r"},
		{"CRLF terminated", Options{CRLF: true}, "ArduinoFilterWheel\r\n"},
		{"Leading newline", Options{LeadingNewline: true}, "\nArduinoFilterWheel\r"},
		{"Custom identity", Options{Identity: "SomethingElse"}, "SomethingElse\r"},
		{"Silent", Options{Silent: true}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conn := openConn(t, NewController(tc.opts), 9600)
			assert.Equal(t, tc.expected, exchange(t, conn, []byte("V\r")))
		})
	}
}

func TestBinaryHandshake(t *testing.T) {
	conn := openConn(t, NewController(Options{Mode: ModeBinary, Version: 2}), 57600)

	assert.Equal(t, "Arduino-FW\r\n", exchange(t, conn, []byte{cmdIdentity}))
	assert.Equal(t, "2\r\n", exchange(t, conn, []byte{cmdVersion}))
	assert.Equal(t, "", exchange(t, conn, []byte("V\r")))
}

func TestWrongBaudRateProducesNoise(t *testing.T) {
	conn := openConn(t, NewController(Options{BaudRate: 9600}), 115200)
	assert.NotContains(t, exchange(t, conn, []byte("V\r")), "ArduinoFilterWheel")

	require.NoError(t, conn.Configure(serialport.DefaultSettings()))
	assert.Equal(t, "ArduinoFilterWheel\r", exchange(t, conn, []byte("V\r")))
}

func TestMoves(t *testing.T) {
	c := NewController(Options{})
	conn := openConn(t, c, 9600)

	_, err := conn.Write([]byte("3\r"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("6\r"))
	require.NoError(t, err)
	// Out of range and malformed commands are ignored.
	_, err = conn.Write([]byte("7\r0x\r"))
	require.NoError(t, err)

	assert.Equal(t, 6, c.Position())
	assert.Equal(t, []int{3, 6}, c.Moves())
}

func TestFailIO(t *testing.T) {
	c := NewController(Options{})
	conn := openConn(t, c, 9600)

	boom := errors.New("cable unplugged")
	c.FailIO(boom)
	_, err := conn.Write([]byte("1\r"))
	assert.ErrorIs(t, err, boom)

	c.FailIO(nil)
	_, err = conn.Write([]byte("1\r"))
	assert.NoError(t, err)
}

func TestBenchUnknownPort(t *testing.T) {
	_, err := Bench{}.Open("COM1", serialport.DefaultSettings())
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestOpenClose(t *testing.T) {
	c := NewController(Options{})
	conn := openConn(t, c, 9600)
	assert.True(t, c.IsOpen())
	assert.Equal(t, 9600, c.Settings().BaudRate)

	require.NoError(t, conn.Close())
	assert.False(t, c.IsOpen())
}
