package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable relayd reads.
const EnvPrefix = "RELAYD_"

// field binds a dotted key to its environment variable and a setter that
// parses a string value into the Config.
type field struct {
	key string
	env string
	set func(cfg *Config, value string) error
}

var fields = []field{
	{"relay.emptyRelease", "RELAY_EMPTY_RELEASE", setString(func(c *Config) *string { return &c.Relay.EmptyRelease })},
	{"relay.backendTimeout", "RELAY_BACKEND_TIMEOUT", setDuration(func(c *Config) *time.Duration { return &c.Relay.BackendTimeout })},

	{"coap.enabled", "COAP_ENABLED", setBool(func(c *Config) *bool { return &c.CoAP.Enabled })},
	{"coap.addr", "COAP_ADDR", setString(func(c *Config) *string { return &c.CoAP.Addr })},
	{"coap.path", "COAP_PATH", setString(func(c *Config) *string { return &c.CoAP.Path })},

	{"http.enabled", "HTTP_ENABLED", setBool(func(c *Config) *bool { return &c.HTTP.Enabled })},
	{"http.addr", "HTTP_ADDR", setString(func(c *Config) *string { return &c.HTTP.Addr })},

	{"backend.type", "BACKEND_TYPE", setString(func(c *Config) *string { return &c.Backend.Type })},
	{"backend.endpoint", "BACKEND_ENDPOINT", setString(func(c *Config) *string { return &c.Backend.Endpoint })},
	{"backend.path", "BACKEND_PATH", setString(func(c *Config) *string { return &c.Backend.Path })},

	{"log.level", "LOG_LEVEL", setString(func(c *Config) *string { return &c.Log.Level })},
	{"log.format", "LOG_FORMAT", setString(func(c *Config) *string { return &c.Log.Format })},
	{"log.file", "LOG_FILE", setString(func(c *Config) *string { return &c.Log.File })},

	{"events.file", "EVENTS_FILE", setString(func(c *Config) *string { return &c.Events.File })},
	{"events.stdout", "EVENTS_STDOUT", setBool(func(c *Config) *bool { return &c.Events.Stdout })},
	{"events.history", "EVENTS_HISTORY", setInt(func(c *Config) *int { return &c.Events.History })},
	{"events.buffer", "EVENTS_BUFFER", setInt(func(c *Config) *int { return &c.Events.Buffer })},
	{"events.filter", "EVENTS_FILTER", setString(func(c *Config) *string { return &c.Events.Filter })},
	{"events.mqtt.broker", "EVENTS_MQTT_BROKER", setString(func(c *Config) *string { return &c.Events.MQTT.Broker })},
	{"events.mqtt.clientId", "EVENTS_MQTT_CLIENT_ID", setString(func(c *Config) *string { return &c.Events.MQTT.ClientID })},
	{"events.mqtt.username", "EVENTS_MQTT_USERNAME", setString(func(c *Config) *string { return &c.Events.MQTT.Username })},
	{"events.mqtt.password", "EVENTS_MQTT_PASSWORD", setString(func(c *Config) *string { return &c.Events.MQTT.Password })},
	{"events.mqtt.topicPrefix", "EVENTS_MQTT_TOPIC_PREFIX", setString(func(c *Config) *string { return &c.Events.MQTT.TopicPrefix })},
	{"events.mqtt.qos", "EVENTS_MQTT_QOS", setInt(func(c *Config) *int { return &c.Events.MQTT.QoS })},

	{"mqtt.embedded", "MQTT_EMBEDDED", setBool(func(c *Config) *bool { return &c.MQTT.Embedded })},
	{"mqtt.port", "MQTT_PORT", setInt(func(c *Config) *int { return &c.MQTT.Port })},
	{"mqtt.username", "MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Username })},
	{"mqtt.password", "MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Password })},
}

func lookupField(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

// Keys returns every dotted config key in sorted order.
func Keys() []string {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.key
	}
	sort.Strings(keys)
	return keys
}

// EnvName returns the environment variable bound to key, or "" if key is unknown.
func EnvName(key string) string {
	if f, ok := lookupField(key); ok {
		return EnvPrefix + f.env
	}
	return ""
}

// Set parses value into the field named key and records source for it.
func (c *Config) Set(key, value, source string) error {
	f, ok := lookupField(key)
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	if err := f.set(c, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if c.Sources == nil {
		c.Sources = make(map[string]string)
	}
	c.Sources[key] = source
	return nil
}

func setString(ptr func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*ptr(c) = v
		return nil
	}
}

func setBool(ptr func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*ptr(c) = b
		return nil
	}
}

func setInt(ptr func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		*ptr(c) = n
		return nil
	}
}

func setDuration(ptr func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid duration %q", v)
		}
		*ptr(c) = d
		return nil
	}
}
