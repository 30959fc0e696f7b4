// Package config provides layered configuration for relayd.
//
// Values are resolved with the following precedence, highest first:
//  1. Command-line flags
//  2. Environment variables (RELAYD_*)
//  3. The config file (--config, or relayd.yaml / .relaydrc.yaml in the working directory)
//  4. The global config file (~/.config/relayd/config.yaml)
//  5. Default values
//
// Every key has a dotted name ("coap.addr", "events.mqtt.broker") shared by
// the YAML layout, the environment variable name and Config.Sources.
package config

import "time"

// Config is the complete relayd configuration.
type Config struct {
	Relay   RelayConfig   `yaml:"relay" json:"relay"`
	CoAP    CoAPConfig    `yaml:"coap" json:"coap"`
	HTTP    HTTPConfig    `yaml:"http" json:"http"`
	Backend BackendConfig `yaml:"backend" json:"backend"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Events  EventsConfig  `yaml:"events" json:"events"`
	MQTT    BrokerConfig  `yaml:"mqtt" json:"mqtt"`

	// Sources tracks where each value came from, keyed by dotted name.
	Sources map[string]string `yaml:"-" json:"-"`

	// Files lists the config files that were loaded, in order.
	Files []string `yaml:"-" json:"-"`
}

// RelayConfig configures the relay engine.
type RelayConfig struct {
	// EmptyRelease is "reject" or "relay".
	EmptyRelease   string        `yaml:"emptyRelease" json:"emptyRelease"`
	BackendTimeout time.Duration `yaml:"backendTimeout" json:"backendTimeout"`
}

// CoAPConfig configures the CoAP resource server.
type CoAPConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// BackendConfig selects what the relay forwards to.
type BackendConfig struct {
	// Type is "lock" for the in-process lock simulator or "coap" for a
	// remote CoAP server.
	Type     string `yaml:"type" json:"type"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Path     string `yaml:"path,omitempty" json:"path,omitempty"`
}

// LogConfig configures the operational logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
}

// EventsConfig configures relay event sinks.
type EventsConfig struct {
	// File is a JSON-lines audit log path.
	File    string `yaml:"file,omitempty" json:"file,omitempty"`
	Stdout  bool   `yaml:"stdout" json:"stdout"`
	History int    `yaml:"history" json:"history"`
	Buffer  int    `yaml:"buffer" json:"buffer"`

	// Filter is an expression applied to the file, stdout and MQTT sinks.
	Filter string         `yaml:"filter,omitempty" json:"filter,omitempty"`
	MQTT   MQTTSinkConfig `yaml:"mqtt" json:"mqtt"`
}

// MQTTSinkConfig configures publishing events to an MQTT broker.
type MQTTSinkConfig struct {
	// Broker is the broker URL. When empty and the embedded broker is
	// enabled, events go to the embedded broker.
	Broker      string `yaml:"broker,omitempty" json:"broker,omitempty"`
	ClientID    string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username    string `yaml:"username,omitempty" json:"username,omitempty"`
	Password    string `yaml:"password,omitempty" json:"-"`
	TopicPrefix string `yaml:"topicPrefix" json:"topicPrefix"`
	QoS         int    `yaml:"qos" json:"qos"`
}

// BrokerConfig configures the embedded MQTT broker.
type BrokerConfig struct {
	Embedded bool   `yaml:"embedded" json:"embedded"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
}

// ConfigSource identifies where a config value originated.
const (
	SourceDefault = "default"
	SourceGlobal  = "global"
	SourceFile    = "file"
	SourceEnv     = "env"
	SourceFlag    = "flag"
)
