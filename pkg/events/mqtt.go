package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mqttclient "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTopicPrefix is the topic prefix MQTTSink publishes under.
const DefaultTopicPrefix = "relayd"

// MQTTConfig configures an MQTTSink.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883.
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// MQTTSink publishes each event as JSON to <prefix>/<kind>, with the dots
// in the kind turned into topic levels: relayd/relay/released.
type MQTTSink struct {
	client  mqttclient.Client
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewMQTTSink connects to the broker and returns the sink.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("events: mqtt broker URL is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("relayd-%d", time.Now().UnixNano())
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	opts := mqttclient.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)

	client := mqttclient.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("events: mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("events: mqtt connect to %s: %w", cfg.Broker, err)
	}

	return &MQTTSink{
		client:  client,
		prefix:  strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
	}, nil
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Topic returns the topic an event of kind k is published to.
func (s *MQTTSink) Topic(k Kind) string {
	return s.prefix + "/" + strings.ReplaceAll(string(k), ".", "/")
}

// Write implements Sink.
func (s *MQTTSink) Write(e Event) error {
	data, err := e.JSON()
	if err != nil {
		return err
	}
	token := s.client.Publish(s.Topic(e.Kind), s.qos, false, data)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("events: mqtt publish timed out after %s", s.timeout)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
