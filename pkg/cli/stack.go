package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/getmockd/relayd/pkg/backend"
	"github.com/getmockd/relayd/pkg/coap"
	"github.com/getmockd/relayd/pkg/config"
	"github.com/getmockd/relayd/pkg/events"
	"github.com/getmockd/relayd/pkg/httpapi"
	"github.com/getmockd/relayd/pkg/metrics"
	"github.com/getmockd/relayd/pkg/mqtt"
	"github.com/getmockd/relayd/pkg/protocol"
	"github.com/getmockd/relayd/pkg/relay"
)

// stack is every component a running relay is made of.
type stack struct {
	cfg      *config.Config
	log      *slog.Logger
	out      io.Writer
	registry *protocol.Registry
	engine   *relay.Engine
	bus      *events.Bus
	filter   *events.Filter
	history  *events.History
	hub      *events.Hub
	broker   *mqtt.Broker
	coap     *coap.RelayServer
	http     *httpapi.Server
	closers  []io.Closer
}

// newStack wires the components described by cfg. Nothing listens until start.
func newStack(cfg *config.Config, log *slog.Logger, out io.Writer) (*stack, error) {
	s := &stack{
		cfg:      cfg,
		log:      log,
		out:      out,
		registry: protocol.NewRegistry(),
	}
	reg := metrics.Init()

	var b backend.Backend
	switch cfg.Backend.Type {
	case config.BackendCoAP:
		remote := backend.NewCoAP(cfg.Backend.Endpoint, cfg.Backend.Path)
		remote.SetLogger(log.With("component", "backend"))
		s.closers = append(s.closers, remote)
		b = remote
	default:
		lock := backend.NewLock()
		lock.SetLogger(log.With("component", "lock"))
		b = lock
	}

	if cfg.Events.Filter != "" {
		f, err := events.CompileFilter(cfg.Events.Filter)
		if err != nil {
			return nil, fmt.Errorf("events.filter: %w", err)
		}
		s.filter = f
	}

	s.bus = events.NewBus(cfg.Events.Buffer, log.With("component", "events"))
	s.hub = events.NewHub(0, log.With("component", "events"))
	s.bus.AddSink(s.hub)
	if cfg.Events.History > 0 {
		s.history = events.NewHistory(cfg.Events.History)
		s.bus.AddSink(s.history)
	}
	if cfg.Events.File != "" {
		fs, err := events.NewFileSink(cfg.Events.File)
		if err != nil {
			_ = s.bus.Close()
			return nil, err
		}
		s.bus.AddSink(events.Filtered(fs, s.filter))
	}
	if cfg.Events.Stdout {
		s.bus.AddSink(events.Filtered(events.NewWriterSink("stdout", out), s.filter))
	}

	s.engine = relay.New(b,
		relay.WithLogger(log.With("component", "relay")),
		relay.WithBackendTimeout(cfg.Relay.BackendTimeout),
		relay.WithEmptyRelease(relay.ParseEmptyReleasePolicy(cfg.Relay.EmptyRelease)),
		relay.WithEventPublisher(s.bus),
	)

	if cfg.MQTT.Embedded {
		mcfg := &mqtt.Config{ID: "mqtt", Port: cfg.MQTT.Port}
		if cfg.MQTT.Username != "" {
			mcfg.Auth = &mqtt.AuthConfig{
				Enabled:       true,
				Users:         []mqtt.User{{Username: cfg.MQTT.Username, Password: cfg.MQTT.Password}},
				AnonymousRead: true,
			}
		}
		broker, err := mqtt.NewBroker(mcfg)
		if err != nil {
			_ = s.bus.Close()
			return nil, fmt.Errorf("mqtt broker: %w", err)
		}
		broker.SetLogger(log.With("component", "mqtt"))
		s.broker = broker
		if err := s.registry.Register(broker); err != nil {
			_ = s.bus.Close()
			return nil, err
		}
	}

	if cfg.CoAP.Enabled {
		s.coap = coap.NewRelayServer(s.engine, cfg.CoAP.Addr, cfg.CoAP.Path)
		s.coap.SetLogger(log.With("component", "coap"))
		if err := s.registry.Register(s.coap); err != nil {
			_ = s.bus.Close()
			return nil, err
		}
	}

	if cfg.HTTP.Enabled {
		opts := []httpapi.Option{
			httpapi.WithLogger(log.With("component", "http")),
			httpapi.WithHub(s.hub),
			httpapi.WithMetrics(reg),
			httpapi.WithHealthRegistry(s.registry),
		}
		if s.history != nil {
			opts = append(opts, httpapi.WithHistory(s.history))
		}
		s.http = httpapi.NewServer(s.engine, cfg.HTTP.Addr, opts...)
		if err := s.registry.Register(s.http); err != nil {
			_ = s.bus.Close()
			return nil, err
		}
	}

	return s, nil
}

// start brings every server up, then connects the MQTT event sink so that
// an embedded broker is already listening.
func (s *stack) start(ctx context.Context) error {
	if err := s.registry.StartAll(ctx); err != nil {
		return err
	}

	brokerURL := s.cfg.EventBrokerURL()
	if brokerURL == "" {
		return nil
	}
	mc := s.cfg.Events.MQTT
	username, password := mc.Username, mc.Password
	if mc.Broker == "" && username == "" {
		username, password = s.cfg.MQTT.Username, s.cfg.MQTT.Password
	}
	sink, err := events.NewMQTTSink(events.MQTTConfig{
		Broker:      brokerURL,
		ClientID:    mc.ClientID,
		Username:    username,
		Password:    password,
		TopicPrefix: mc.TopicPrefix,
		QoS:         byte(mc.QoS),
	})
	if err != nil {
		stopErr := s.registry.StopAll(ctx, shutdownTimeout)
		return errors.Join(fmt.Errorf("mqtt event sink: %w", err), stopErr)
	}
	s.bus.AddSink(events.Filtered(sink, s.filter))
	s.log.Info("publishing events over MQTT", "broker", brokerURL, "topicPrefix", mc.TopicPrefix)
	return nil
}

// stop shuts the servers down, flushes queued events and releases the backend.
func (s *stack) stop(ctx context.Context, timeout time.Duration) error {
	errs := []error{s.registry.StopAll(ctx, timeout)}
	errs = append(errs, s.bus.Close())
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// printBanner writes where each server is listening.
func (s *stack) printBanner(w io.Writer) {
	fmt.Fprintf(w, "relayd %s\n", buildVersion().Version)
	for _, h := range s.registry.List() {
		meta := h.Metadata()
		addr := ""
		if ss, ok := h.(protocol.StandaloneServer); ok {
			addr = ss.Address()
		}
		fmt.Fprintf(w, "  %-22s %-5s %s\n", meta.Name, meta.TransportType, addr)
	}
	backendDesc := s.cfg.Backend.Type
	if s.cfg.Backend.Type == config.BackendCoAP {
		backendDesc += " coap://" + s.cfg.Backend.Endpoint + s.cfg.Backend.Path
	}
	fmt.Fprintf(w, "  %-22s %s\n", "Backend", backendDesc)
}
