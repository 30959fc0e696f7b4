package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/getmockd/relayd/pkg/logging"
	"github.com/getmockd/relayd/pkg/protocol"
)

// Interface compliance checks.
var (
	_ protocol.Handler          = (*Broker)(nil)
	_ protocol.StandaloneServer = (*Broker)(nil)
)

// Broker is an embedded MQTT broker.
type Broker struct {
	config    *Config
	server    *mqtt.Server
	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	log       *slog.Logger
	published atomic.Uint64

	subMu       sync.RWMutex
	subscribers map[string][]SubscriptionHandler
}

// NewBroker creates a new MQTT broker.
func NewBroker(config *Config) (*Broker, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	if config.Port <= 0 {
		config.Port = DefaultPort
	}
	if config.ID == "" {
		config.ID = "mqtt"
	}

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
	})

	broker := &Broker{
		config:      config,
		server:      server,
		log:         logging.Nop(),
		subscribers: make(map[string][]SubscriptionHandler),
	}

	if config.Auth != nil && config.Auth.Enabled {
		if err := server.AddHook(newACLHook(config.Auth), nil); err != nil {
			return nil, fmt.Errorf("failed to add auth hook: %w", err)
		}
	} else {
		// mochi-mqtt requires an auth hook
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return nil, fmt.Errorf("failed to add allow hook: %w", err)
		}
	}

	if err := server.AddHook(&observeHook{broker: broker}, nil); err != nil {
		return nil, fmt.Errorf("failed to add message hook: %w", err)
	}

	return broker, nil
}

// Start starts the MQTT broker.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return protocol.ErrAlreadyRunning
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	listener := listeners.NewTCP(listeners.Config{
		ID:      fmt.Sprintf("%s-%d", b.config.ID, b.config.Port),
		Address: fmt.Sprintf(":%d", b.config.Port),
	})
	if err := b.server.AddListener(listener); err != nil {
		return fmt.Errorf("failed to add listener: %w", err)
	}

	go func() {
		if err := b.server.Serve(); err != nil {
			b.log.Error("MQTT server error", "error", err)
		}
	}()

	b.running = true
	b.startedAt = time.Now()
	b.log.Info("MQTT broker started", "port", b.config.Port)
	return nil
}

// Stop shuts down the broker, waiting at most timeout.
func (b *Broker) Stop(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Closing disconnects clients, which runs hooks; b.mu must not be held.
	done := make(chan error, 1)
	go func() {
		done <- b.server.Close()
	}()

	var closeErr error
	select {
	case err := <-done:
		closeErr = err
	case <-shutdownCtx.Done():
		closeErr = fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
	}

	b.mu.Lock()
	b.running = false
	b.startedAt = time.Time{}
	b.mu.Unlock()

	if closeErr != nil {
		return fmt.Errorf("failed to close server: %w", closeErr)
	}
	b.log.Info("MQTT broker stopped")
	return nil
}

// IsRunning returns true if broker is running.
func (b *Broker) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Publish publishes a message through the inline client.
func (b *Broker) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if !b.IsRunning() {
		return protocol.ErrNotRunning
	}
	return b.server.Publish(topic, payload, retain, qos)
}

// Subscribe registers an internal handler for a topic pattern.
func (b *Broker) Subscribe(pattern string, handler SubscriptionHandler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers[pattern] = append(b.subscribers[pattern], handler)
}

// Unsubscribe removes every internal handler for pattern.
func (b *Broker) Unsubscribe(pattern string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	delete(b.subscribers, pattern)
}

func (b *Broker) notifySubscribers(topic string, payload []byte) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()

	for pattern, handlers := range b.subscribers {
		if matchTopic(pattern, topic) {
			for _, handler := range handlers {
				go handler(topic, payload)
			}
		}
	}
}

// Clients returns the IDs of connected network clients.
func (b *Broker) Clients() []string {
	clients := b.server.Clients.GetAll()
	ids := make([]string, 0, len(clients))
	for id, cl := range clients {
		if cl.Net.Inline {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// SetLogger sets the operational logger.
func (b *Broker) SetLogger(log *slog.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if log != nil {
		b.log = log
	} else {
		b.log = logging.Nop()
	}
}

func (b *Broker) logger() *slog.Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.log
}

// Stats returns broker statistics.
func (b *Broker) Stats() Stats {
	return Stats{
		Running:     b.IsRunning(),
		ClientCount: len(b.Clients()),
		Published:   b.published.Load(),
		Port:        b.config.Port,
		AuthEnabled: b.config.Auth != nil && b.config.Auth.Enabled,
	}
}

// Metadata returns descriptive information about the broker.
func (b *Broker) Metadata() protocol.Metadata {
	return protocol.Metadata{
		ID:            b.config.ID,
		Name:          "Embedded MQTT broker",
		Protocol:      protocol.ProtocolMQTT,
		TransportType: protocol.TransportTCP,
	}
}

// Health returns the current health status of the broker.
func (b *Broker) Health(ctx context.Context) protocol.HealthStatus {
	if !b.IsRunning() {
		return protocol.Unhealthy("broker not running")
	}
	return protocol.Healthy(b.Stats())
}

// Port returns the configured port.
func (b *Broker) Port() int {
	return b.config.Port
}

// Address returns the listen address, or "" when not running.
func (b *Broker) Address() string {
	if !b.IsRunning() {
		return ""
	}
	return fmt.Sprintf(":%d", b.config.Port)
}
