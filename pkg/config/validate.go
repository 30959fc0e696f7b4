package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/getmockd/relayd/pkg/events"
	"github.com/getmockd/relayd/pkg/relay"
)

// ValidationError describes one invalid config value.
type ValidationError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Key + ": " + e.Message
}

// Validate checks the configuration and reports every problem found,
// joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(key, format string, args ...any) {
		errs = append(errs, &ValidationError{Key: key, Message: fmt.Sprintf(format, args...)})
	}

	switch relay.EmptyReleasePolicy(c.Relay.EmptyRelease) {
	case relay.EmptyReleaseReject, relay.EmptyReleaseRelay:
	default:
		add("relay.emptyRelease", "must be %q or %q, got %q", relay.EmptyReleaseReject, relay.EmptyReleaseRelay, c.Relay.EmptyRelease)
	}
	if c.Relay.BackendTimeout <= 0 {
		add("relay.backendTimeout", "must be positive, got %s", c.Relay.BackendTimeout)
	}

	if !c.CoAP.Enabled && !c.HTTP.Enabled {
		add("coap.enabled", "at least one of coap and http must be enabled")
	}
	if c.CoAP.Enabled {
		if c.CoAP.Addr == "" {
			add("coap.addr", "is required when coap is enabled")
		}
		if !strings.HasPrefix(c.CoAP.Path, "/") {
			add("coap.path", "must start with /, got %q", c.CoAP.Path)
		}
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		add("http.addr", "is required when http is enabled")
	}

	switch c.Backend.Type {
	case BackendLock:
	case BackendCoAP:
		if c.Backend.Endpoint == "" {
			add("backend.endpoint", "is required for the coap backend")
		}
		if c.Backend.Path != "" && !strings.HasPrefix(c.Backend.Path, "/") {
			add("backend.path", "must start with /, got %q", c.Backend.Path)
		}
	default:
		add("backend.type", "must be %q or %q, got %q", BackendLock, BackendCoAP, c.Backend.Type)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "unknown level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format", "must be text or json, got %q", c.Log.Format)
	}

	if c.Events.History < 0 {
		add("events.history", "must not be negative, got %d", c.Events.History)
	}
	if c.Events.Buffer < 0 {
		add("events.buffer", "must not be negative, got %d", c.Events.Buffer)
	}
	if c.Events.Filter != "" {
		if _, err := events.CompileFilter(c.Events.Filter); err != nil {
			add("events.filter", "%v", err)
		}
	}
	if c.Events.MQTT.QoS < 0 || c.Events.MQTT.QoS > 2 {
		add("events.mqtt.qos", "must be 0, 1 or 2, got %d", c.Events.MQTT.QoS)
	}
	if c.Events.MQTT.TopicPrefix == "" {
		add("events.mqtt.topicPrefix", "must not be empty")
	}

	if c.MQTT.Embedded && (c.MQTT.Port < 1 || c.MQTT.Port > 65535) {
		add("mqtt.port", "port %d is out of range", c.MQTT.Port)
	}
	if c.MQTT.Password != "" && c.MQTT.Username == "" {
		add("mqtt.username", "is required when mqtt.password is set")
	}

	return errors.Join(errs...)
}

// EventBrokerURL returns the broker the MQTT event sink should connect to,
// or "" when events are not published over MQTT.
func (c *Config) EventBrokerURL() string {
	if c.Events.MQTT.Broker != "" {
		return c.Events.MQTT.Broker
	}
	if c.MQTT.Embedded {
		return fmt.Sprintf("tcp://127.0.0.1:%d", c.MQTT.Port)
	}
	return ""
}
