package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/getmockd/relayd/pkg/events"
)

func newWatchCmd(g *globalFlags) *cobra.Command {
	var (
		filter  string
		count   int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream relay events as they happen",
		Example: `  # Everything
  relayd watch

  # Only releases, as JSON lines
  relayd watch --json --filter 'kind == "relay.released"'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wsURL, err := NewClient(g.url).EventsURL(filter)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dialer := websocket.Dialer{HandshakeTimeout: timeout}
			conn, resp, err := dialer.DialContext(ctx, wsURL, http.Header{})
			if err != nil {
				if resp != nil {
					return fmt.Errorf("connection failed: %v (HTTP %d)", err, resp.StatusCode)
				}
				return FormatConnectionError(&APIError{
					ErrorCode: ErrorCodeConnection,
					Message:   fmt.Sprintf("cannot connect to relayd at %s: %v", wsURL, err),
				})
			}
			defer conn.Close()

			return watchEvents(ctx, conn, cmd.OutOrStdout(), g.jsonOutput, count)
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "Only stream events matching this expression")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many events (0 = until interrupted)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Handshake timeout")
	return cmd
}

// watchEvents prints events read from conn until ctx ends, the server
// closes the stream or count events were printed.
func watchEvents(ctx context.Context, conn *websocket.Conn, w io.Writer, jsonOutput bool, count int) error {
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	seen := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read error: %v", err)
		}

		if jsonOutput {
			fmt.Fprintln(w, string(data))
		} else {
			var e events.Event
			if err := json.Unmarshal(data, &e); err != nil {
				fmt.Fprintf(w, "< %s\n", string(data))
			} else {
				fmt.Fprintln(w, formatEvent(e))
			}
		}

		seen++
		if count > 0 && seen >= count {
			return nil
		}
	}
}

func formatEvent(e events.Event) string {
	line := fmt.Sprintf("#%d %s %s", e.Sequence, e.Timestamp.Format(time.TimeOnly), e.Kind)
	if e.Payload != "" {
		line += fmt.Sprintf(" payload=%q", e.Payload)
	}
	if e.Reply != "" {
		line += fmt.Sprintf(" reply=%q", e.Reply)
	}
	if e.DurationMs > 0 {
		line += fmt.Sprintf(" %.3fms", e.DurationMs)
	}
	if e.Error != "" {
		line += " error=" + e.Error
	}
	if e.TraceID != "" {
		line += " trace=" + e.TraceID
	}
	return line
}
