// Package telemetry publishes filter wheel state to an MQTT broker. State
// messages are retained so that new subscribers see the current position.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const (
	qos             = 1
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	disconnectQuiet = 250 // milliseconds

	statusOnline  = "online"
	statusOffline = "offline"
)

var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrInvalidTopic     = errors.New("mqtt: topic root cannot be empty")
)

type Config struct {
	Host      string
	Port      int
	ClientID  string
	Username  string
	Password  string
	TopicRoot string
}

func (c Config) broker() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// Publisher publishes wheel state below a topic root:
//
//	<root>/status                        online | offline
//	<root>/filterwheel/<n>/connected     {"connected":true,"timestamp":...}
//	<root>/filterwheel/<n>/position      {"position":3,"label":"Cy5","timestamp":...}
type Publisher struct {
	client    mqtt.Client
	topicRoot string
	logger    log.FieldLogger
}

// Connect connects to the broker and announces the server as online. The
// broker marks it offline when the connection is lost.
func Connect(cfg Config, logger log.FieldLogger) (*Publisher, error) {
	if cfg.TopicRoot == "" {
		return nil, ErrInvalidTopic
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.broker())
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetWill(statusTopic(cfg.TopicRoot), statusOffline, qos, true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("Connection to MQTT broker lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	logger.Infof("Connected to MQTT broker %s", cfg.broker())

	p := New(client, cfg.TopicRoot, logger)
	if err := p.publishRaw(statusTopic(cfg.TopicRoot), []byte(statusOnline)); err != nil {
		logger.Warnf("Failed to publish online status: %v", err)
	}
	return p, nil
}

// New wraps an already connected client.
func New(client mqtt.Client, topicRoot string, logger log.FieldLogger) *Publisher {
	return &Publisher{
		client:    client,
		topicRoot: topicRoot,
		logger:    logger,
	}
}

func statusTopic(root string) string {
	return root + "/status"
}

func (p *Publisher) deviceTopic(device int, property string) string {
	return fmt.Sprintf("%s/filterwheel/%d/%s", p.topicRoot, device, property)
}

func (p *Publisher) publishRaw(topic string, payload []byte) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, qos, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	p.logger.Debugf("Published %s: %s", topic, payload)
	return nil
}

func (p *Publisher) publish(topic string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.publishRaw(topic, payload)
}

type connectedMessage struct {
	Connected bool      `json:"connected"`
	Timestamp time.Time `json:"timestamp"`
}

type positionMessage struct {
	Position  int       `json:"position"`
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishConnected publishes the connection state of a wheel.
func (p *Publisher) PublishConnected(device int, connected bool) error {
	return p.publish(p.deviceTopic(device, "connected"), connectedMessage{
		Connected: connected,
		Timestamp: time.Now().UTC(),
	})
}

// PublishPosition publishes a position confirmed on the wire.
func (p *Publisher) PublishPosition(device int, pos int, label string) error {
	return p.publish(p.deviceTopic(device, "position"), positionMessage{
		Position:  pos,
		Label:     label,
		Timestamp: time.Now().UTC(),
	})
}

// Close announces the server as offline and disconnects.
func (p *Publisher) Close() {
	if err := p.publishRaw(statusTopic(p.topicRoot), []byte(statusOffline)); err != nil {
		p.logger.Warnf("Failed to publish offline status: %v", err)
	}
	p.client.Disconnect(disconnectQuiet)
}
