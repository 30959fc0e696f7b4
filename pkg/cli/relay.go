package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/relayd/pkg/cli/internal/output"
	"github.com/getmockd/relayd/pkg/relay"
)

// clientFlags are shared by the commands that send relay requests.
type clientFlags struct {
	timeout time.Duration
	traceID string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "HTTP request timeout")
	cmd.Flags().StringVar(&f.traceID, "trace-id", "", "Trace ID to send with the request")
}

func (f *clientFlags) client(g *globalFlags) *Client {
	return NewClient(g.url, WithTimeout(f.timeout), WithTraceID(f.traceID))
}

func newStoreCmd(g *globalFlags) *cobra.Command {
	var cf clientFlags
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Arm the relay to capture the next POST",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := cf.client(g).Store(cmd.Context())
			if err != nil {
				return FormatConnectionError(err)
			}
			return printReply(cmd.OutOrStdout(), g, reply)
		},
	}
	cf.register(cmd)
	return cmd
}

func newReleaseCmd(g *globalFlags) *cobra.Command {
	var cf clientFlags
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Replay the stored request and print the backend's reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := cf.client(g).Release(cmd.Context())
			if err != nil {
				return FormatConnectionError(err)
			}
			return printReply(cmd.OutOrStdout(), g, reply)
		},
	}
	cf.register(cmd)
	return cmd
}

func newSendCmd(g *globalFlags) *cobra.Command {
	var (
		cf     clientFlags
		get    bool
		direct bool
	)
	cmd := &cobra.Command{
		Use:   "send <payload>",
		Short: "POST a payload to the relay (captured when armed, otherwise forwarded)",
		Example: `  # Forward "open" to the backend
  relayd send open

  # Capture "open" for later release
  relayd store && relayd send open && relayd release

  # Send an arbitrary control word as a GET
  relayd send --get status

  # Forward "close" even while the relay is armed
  relayd send --direct close`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := []byte(args[0])
			if len(payload) > relay.MaxRequestLen-1 {
				output.Warn(cmd.ErrOrStderr(), "payload is %d bytes; the relay accepts at most %d", len(payload), relay.MaxRequestLen-1)
			}

			c := cf.client(g)
			var (
				reply *Reply
				err   error
			)
			switch {
			case get && direct:
				return fmt.Errorf("--get and --direct cannot be combined")
			case get:
				reply, err = c.Command(cmd.Context(), payload)
			case direct:
				reply, err = c.Forward(cmd.Context(), payload)
			default:
				reply, err = c.Send(cmd.Context(), payload)
			}
			if err != nil {
				return FormatConnectionError(err)
			}
			return printReply(cmd.OutOrStdout(), g, reply)
		},
	}
	cf.register(cmd)
	cmd.Flags().BoolVar(&get, "get", false, "Send the payload as a GET control word instead of a POST")
	cmd.Flags().BoolVar(&direct, "direct", false, "Forward to the backend without touching the arm flag or the stored request")
	return cmd
}

func newStateCmd(g *globalFlags) *cobra.Command {
	var cf clientFlags
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the relay's arm flag, stored request and counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cf.client(g).State(cmd.Context())
			if err != nil {
				return FormatConnectionError(err)
			}
			w := cmd.OutOrStdout()
			if g.jsonOutput {
				return output.JSON(w, st)
			}
			printState(w, st)
			return nil
		},
	}
	cf.register(cmd)
	return cmd
}

func newResetCmd(g *globalFlags) *cobra.Command {
	var cf clientFlags
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Disarm the relay, drop the stored request and zero the counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cf.client(g).Reset(cmd.Context()); err != nil {
				return FormatConnectionError(err)
			}
			w := cmd.OutOrStdout()
			if g.jsonOutput {
				return output.JSON(w, map[string]bool{"reset": true})
			}
			fmt.Fprintln(w, "Relay state reset")
			return nil
		},
	}
	cf.register(cmd)
	return cmd
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		cf    clientFlags
		since uint64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent relay events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hr, err := cf.client(g).History(cmd.Context(), since, limit)
			if err != nil {
				return FormatConnectionError(err)
			}
			w := cmd.OutOrStdout()
			if g.jsonOutput {
				return output.JSON(w, hr)
			}
			if hr.Count == 0 {
				fmt.Fprintln(w, "No events")
				return nil
			}
			tw := output.Table(w)
			fmt.Fprintln(tw, "SEQ\tTIME\tKIND\tPAYLOAD\tREPLY\tTRACE")
			for _, e := range hr.Events {
				reply := e.Reply
				if e.Error != "" {
					reply = "error: " + e.Error
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					e.Sequence, e.Timestamp.Format(time.TimeOnly), e.Kind, e.Payload, reply, e.TraceID)
			}
			return tw.Flush()
		},
	}
	cf.register(cmd)
	cmd.Flags().Uint64Var(&since, "since", 0, "Only events after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most this many events (0 = all)")
	return cmd
}

func printReply(w io.Writer, g *globalFlags, reply *Reply) error {
	if g.jsonOutput {
		return output.JSON(w, reply)
	}
	if reply.Stored {
		fmt.Fprintln(w, "Request stored; it will be sent on release")
		return nil
	}
	fmt.Fprintln(w, reply.Payload)
	return nil
}

func printState(w io.Writer, st *relay.State) {
	tw := output.Table(w)
	fmt.Fprintf(tw, "Armed:\t%t\n", st.Armed)
	if st.Slot.Pending {
		fmt.Fprintf(tw, "Stored request:\t%q (%d bytes, trace %s)\n", st.Slot.Payload, st.Slot.Length, st.Slot.TraceID)
	} else if st.Slot.Stored {
		fmt.Fprintf(tw, "Stored request:\t%q (released)\n", st.Slot.Payload)
	} else {
		fmt.Fprintf(tw, "Stored request:\tnone\n")
	}
	if st.LastReleaseAt != nil {
		fmt.Fprintf(tw, "Last release:\t%s\n", st.LastReleaseAt.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "Empty release:\t%s\n", st.EmptyRelease)
	c := st.Counts
	fmt.Fprintf(tw, "Counts:\t%s\n", strings.Join([]string{
		fmt.Sprintf("stores=%d", c.Stores),
		fmt.Sprintf("captures=%d", c.Captures),
		fmt.Sprintf("releases=%d", c.Releases),
		fmt.Sprintf("forwards=%d", c.Forwards),
		fmt.Sprintf("invalid=%d", c.Invalid),
		fmt.Sprintf("errors=%d", c.Errors),
	}, " "))
	_ = tw.Flush()
}
