package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/getmockd/relayd/pkg/cli/internal/output"
	"github.com/getmockd/relayd/pkg/config"
	"github.com/getmockd/relayd/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

// configFlags maps serve flags onto config keys. A flag only overrides the
// loaded configuration when it was given on the command line.
var configFlags = []struct {
	flag  string
	key   string
	usage string
}{
	{"coap", "coap.enabled", "Serve the relay over CoAP"},
	{"coap-addr", "coap.addr", "CoAP listen address"},
	{"coap-path", "coap.path", "CoAP resource path"},
	{"http", "http.enabled", "Serve the HTTP API"},
	{"http-addr", "http.addr", "HTTP API listen address"},
	{"backend", "backend.type", "Backend: lock (in-process simulator) or coap (remote server)"},
	{"backend-endpoint", "backend.endpoint", "Remote CoAP backend host:port"},
	{"backend-path", "backend.path", "Remote CoAP backend resource path"},
	{"backend-timeout", "relay.backendTimeout", "Maximum wait for a backend reply"},
	{"empty-release", "relay.emptyRelease", "Release with nothing stored: reject or relay"},
	{"log-level", "log.level", "Log level (debug, info, warn, error)"},
	{"log-format", "log.format", "Log format (text, json)"},
	{"log-file", "log.file", "Also append JSON logs to this file"},
	{"events-file", "events.file", "Append relay events as JSON lines to this file"},
	{"events-stdout", "events.stdout", "Print relay events as JSON lines on stdout"},
	{"events-filter", "events.filter", "Only write events matching this expression to file, stdout and MQTT"},
	{"events-history", "events.history", "Number of recent events kept for /events/history"},
	{"mqtt-broker", "events.mqtt.broker", "Publish events to this MQTT broker URL"},
	{"mqtt-topic-prefix", "events.mqtt.topicPrefix", "Topic prefix for published events"},
	{"mqtt-embedded", "mqtt.embedded", "Run an embedded MQTT broker"},
	{"mqtt-port", "mqtt.port", "Embedded MQTT broker port"},
}

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay (CoAP resource, HTTP API and event sinks)",
		Example: `  # Relay to the in-process lock simulator
  relayd serve

  # Relay to a remote CoAP server
  relayd serve --backend coap --backend-endpoint [fd00::1]:5683

  # Publish events through an embedded MQTT broker
  relayd serve --mqtt-embedded --events-filter 'kind == "relay.released"'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			log, logCloser, err := openLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = logCloser.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, log, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: relayd.yaml or .relaydrc.yaml)")
	registerConfigFlags(cmd.Flags(), config.NewDefault())
	return cmd
}

// registerConfigFlags adds one flag per configFlags entry, typed after the
// config key and defaulted from defaults.
func registerConfigFlags(fs *pflag.FlagSet, defaults *config.Config) {
	values := map[string]any{
		"coap.enabled":            defaults.CoAP.Enabled,
		"coap.addr":               defaults.CoAP.Addr,
		"coap.path":               defaults.CoAP.Path,
		"http.enabled":            defaults.HTTP.Enabled,
		"http.addr":               defaults.HTTP.Addr,
		"backend.type":            defaults.Backend.Type,
		"backend.endpoint":        defaults.Backend.Endpoint,
		"backend.path":            defaults.Backend.Path,
		"relay.backendTimeout":    defaults.Relay.BackendTimeout,
		"relay.emptyRelease":      defaults.Relay.EmptyRelease,
		"log.level":               defaults.Log.Level,
		"log.format":              defaults.Log.Format,
		"log.file":                defaults.Log.File,
		"events.file":             defaults.Events.File,
		"events.stdout":           defaults.Events.Stdout,
		"events.filter":           defaults.Events.Filter,
		"events.history":          defaults.Events.History,
		"events.mqtt.broker":      defaults.Events.MQTT.Broker,
		"events.mqtt.topicPrefix": defaults.Events.MQTT.TopicPrefix,
		"mqtt.embedded":           defaults.MQTT.Embedded,
		"mqtt.port":               defaults.MQTT.Port,
	}
	for _, f := range configFlags {
		usage := f.usage + " (" + config.EnvName(f.key) + ")"
		switch v := values[f.key].(type) {
		case bool:
			fs.Bool(f.flag, v, usage)
		case int:
			fs.Int(f.flag, v, usage)
		case time.Duration:
			fs.Duration(f.flag, v, usage)
		case string:
			fs.String(f.flag, v, usage)
		}
	}
}

// loadConfig resolves the configuration from file and environment, applies
// the flags that were set and validates the result.
func loadConfig(file string, fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{File: file})
	if err != nil {
		return nil, err
	}
	for _, f := range configFlags {
		fl := fs.Lookup(f.flag)
		if fl == nil || !fl.Changed {
			continue
		}
		if err := cfg.Set(f.key, fl.Value.String(), config.SourceFlag); err != nil {
			return nil, fmt.Errorf("--%s: %w", f.flag, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func openLogger(cfg *config.Config, w io.Writer) (*slog.Logger, io.Closer, error) {
	return logging.Open(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.ParseFormat(cfg.Log.Format),
		Output: w,
		File:   cfg.Log.File,
	})
}

// runServe starts the relay and blocks until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger, out io.Writer) error {
	s, err := newStack(cfg, log, out)
	if err != nil {
		return err
	}
	if err := s.start(ctx); err != nil {
		_ = s.stop(context.Background(), shutdownTimeout)
		return err
	}
	if !cfg.Events.Stdout {
		s.printBanner(out)
	}
	log.Info("relayd started", "files", cfg.Files)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.stop(shutdownCtx, shutdownTimeout); err != nil {
		output.Warn(out, "shutdown: %v", err)
	}
	log.Info("relayd stopped")
	return nil
}
