package config

import (
	"github.com/getmockd/relayd/pkg/backend"
	"github.com/getmockd/relayd/pkg/events"
	"github.com/getmockd/relayd/pkg/mqtt"
	"github.com/getmockd/relayd/pkg/relay"
)

// Defaults.
const (
	DefaultCoAPAddr       = ":5683"
	DefaultCoAPPath       = "/test"
	DefaultHTTPAddr       = ":8080"
	DefaultBackendType    = BackendLock
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultEventHistory   = 256
	DefaultEventBuffer    = 64
	DefaultBackendTimeout = relay.DefaultBackendTimeout
)

// Backend types.
const (
	BackendLock = "lock"
	BackendCoAP = "coap"
)

// NewDefault creates a Config with default values. Every key is marked as
// coming from SourceDefault.
func NewDefault() *Config {
	cfg := &Config{
		Relay: RelayConfig{
			EmptyRelease:   string(relay.EmptyReleaseReject),
			BackendTimeout: DefaultBackendTimeout,
		},
		CoAP: CoAPConfig{
			Enabled: true,
			Addr:    DefaultCoAPAddr,
			Path:    DefaultCoAPPath,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    DefaultHTTPAddr,
		},
		Backend: BackendConfig{
			Type:     DefaultBackendType,
			Endpoint: backend.DefaultEndpoint,
			Path:     backend.DefaultPath,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Events: EventsConfig{
			History: DefaultEventHistory,
			Buffer:  DefaultEventBuffer,
			MQTT: MQTTSinkConfig{
				TopicPrefix: events.DefaultTopicPrefix,
			},
		},
		MQTT: BrokerConfig{
			Port: mqtt.DefaultPort,
		},
		Sources: make(map[string]string),
	}
	for _, f := range fields {
		cfg.Sources[f.key] = SourceDefault
	}
	return cfg
}
