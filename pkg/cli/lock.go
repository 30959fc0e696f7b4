package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getmockd/relayd/pkg/backend"
	"github.com/getmockd/relayd/pkg/coap"
	"github.com/getmockd/relayd/pkg/config"
	"github.com/getmockd/relayd/pkg/logging"
)

func newLockCmd() *cobra.Command {
	var (
		addr      string
		path      string
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Run the lock simulator as a standalone CoAP server",
		Long: `Run the lock simulator as its own CoAP server so a relay can reach it
with --backend coap. POST open or close to change the lock; GET reads it.`,
		Example: `  # Lock on one port, relay forwarding to it on another
  relayd lock --addr 127.0.0.1:5684
  relayd serve --backend coap --backend-endpoint 127.0.0.1:5684`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(logging.Config{
				Level:  logging.ParseLevel(logLevel),
				Format: logging.ParseFormat(logFormat),
				Output: cmd.ErrOrStderr(),
			})

			lock := backend.NewLock()
			lock.SetLogger(log.With("component", "lock"))
			srv := coap.NewLockServer(lock, addr, path)
			srv.SetLogger(log.With("component", "coap"))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Lock simulator listening on coap://%s%s\n", srv.Address(), srv.Path())

			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Stop(stopCtx, shutdownTimeout)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":5684", "CoAP listen address")
	cmd.Flags().StringVar(&path, "path", config.DefaultCoAPPath, "CoAP resource path")
	cmd.Flags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", config.DefaultLogFormat, "Log format (text, json)")
	return cmd
}
