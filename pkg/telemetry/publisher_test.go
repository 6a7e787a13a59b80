package telemetry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records publishes. Methods it does not override panic.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connected    bool
	publishErr   error
	messages     []message
	disconnected bool
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{topic: topic, retained: retained, payload: payload.([]byte)})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func newTestPublisher(client *fakeClient) *Publisher {
	return New(client, "lab/fw", log.WithField("component", "test"))
}

func TestPublishPosition(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newTestPublisher(client)

	require.NoError(t, p.PublishPosition(1, 3, "Cy5"))
	require.Len(t, client.messages, 1)

	msg := client.messages[0]
	assert.Equal(t, "lab/fw/filterwheel/1/position", msg.topic)
	assert.True(t, msg.retained)

	var body positionMessage
	require.NoError(t, json.Unmarshal(msg.payload, &body))
	assert.Equal(t, 3, body.Position)
	assert.Equal(t, "Cy5", body.Label)
	assert.False(t, body.Timestamp.IsZero())
}

func TestPublishConnected(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newTestPublisher(client)

	require.NoError(t, p.PublishConnected(0, true))
	assert.Equal(t, "lab/fw/filterwheel/0/connected", client.messages[0].topic)
	assert.Contains(t, string(client.messages[0].payload), `"connected":true`)
}

func TestPublishErrors(t *testing.T) {
	client := &fakeClient{}
	p := newTestPublisher(client)
	assert.ErrorIs(t, p.PublishPosition(0, 1, "Cy3"), ErrNotConnected)
	assert.Empty(t, client.messages)

	boom := errors.New("broker gone")
	client.connected = true
	client.publishErr = boom
	err := p.PublishPosition(0, 1, "Cy3")
	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.ErrorIs(t, err, boom)
}

func TestClose(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newTestPublisher(client)

	p.Close()
	require.Len(t, client.messages, 1)
	assert.Equal(t, "lab/fw/status", client.messages[0].topic)
	assert.Equal(t, "offline", string(client.messages[0].payload))
	assert.True(t, client.disconnected)
}

func TestConnectRequiresTopicRoot(t *testing.T) {
	_, err := Connect(Config{Host: "localhost", Port: 1883}, log.WithField("component", "test"))
	assert.ErrorIs(t, err, ErrInvalidTopic)
}
