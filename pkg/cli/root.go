// Package cli implements the relayd command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// DefaultURL is the HTTP API client commands talk to.
const DefaultURL = "http://localhost:8080"

// URLEnv overrides DefaultURL for client commands.
const URLEnv = "RELAYD_URL"

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	url        string
	jsonOutput bool
}

// NewRootCmd builds the relayd command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "relayd",
		Short: "relayd is a store-and-release relay for constrained-network resources",
		Long: `relayd exposes one resource over CoAP and HTTP. A GET with "store" arms
capture of the next POST; a GET with "release" replays the captured request
to the backend and returns the backend's reply to the releasing caller.
Any other POST is forwarded to the backend immediately.

Configuration can be provided via flags, RELAYD_* environment variables, or a
configuration file. By default relayd looks for relayd.yaml or .relaydrc.yaml
in the working directory and ~/.config/relayd/config.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := DefaultURL
	if v := os.Getenv(URLEnv); v != "" {
		defaultURL = v
	}
	rootCmd.PersistentFlags().StringVar(&g.url, "url", defaultURL, "relayd HTTP API base URL (env "+URLEnv+")")
	rootCmd.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "Output command results in JSON format")

	rootCmd.AddCommand(
		newServeCmd(),
		newLockCmd(),
		newStoreCmd(g),
		newReleaseCmd(g),
		newSendCmd(g),
		newStateCmd(g),
		newResetCmd(g),
		newHistoryCmd(g),
		newWatchCmd(g),
		newConfigCmd(g),
		newVersionCmd(g),
	)
	return rootCmd
}

// Execute runs the command tree with os.Args and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
