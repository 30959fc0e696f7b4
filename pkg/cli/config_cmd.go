package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/getmockd/relayd/pkg/cli/internal/output"
	"github.com/getmockd/relayd/pkg/config"
)

// ConfigOutput is the JSON form of `relayd config`.
type ConfigOutput struct {
	Config  *config.Config    `json:"config"`
	Sources map[string]string `json:"sources"`
	Files   []string          `json:"files"`
	Valid   bool              `json:"valid"`
	Error   string            `json:"error,omitempty"`
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	var (
		configFile  string
		showSources bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration and where each value came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{File: configFile})
			if err != nil {
				return err
			}
			validateErr := cfg.Validate()
			w := cmd.OutOrStdout()

			if g.jsonOutput {
				out := ConfigOutput{Config: cfg, Sources: cfg.Sources, Files: cfg.Files, Valid: validateErr == nil}
				if validateErr != nil {
					out.Error = validateErr.Error()
				}
				return output.JSON(w, out)
			}

			if err := printConfigYAML(w, cfg); err != nil {
				return err
			}
			if showSources {
				printSources(w, cfg)
			}
			if validateErr != nil {
				return fmt.Errorf("invalid configuration:\n%w", validateErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: relayd.yaml or .relaydrc.yaml)")
	cmd.Flags().BoolVar(&showSources, "sources", false, "List the source of every key")
	return cmd
}

func printConfigYAML(w io.Writer, cfg *config.Config) error {
	for _, f := range cfg.Files {
		fmt.Fprintf(w, "# loaded from %s\n", f)
	}
	masked := *cfg
	if masked.MQTT.Password != "" {
		masked.MQTT.Password = "****"
	}
	if masked.Events.MQTT.Password != "" {
		masked.Events.MQTT.Password = "****"
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return err
	}
	return enc.Close()
}

func printSources(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w)
	tw := output.Table(w)
	fmt.Fprintln(tw, "KEY\tSOURCE\tENV")
	for _, key := range config.Keys() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", key, cfg.Sources[key], config.EnvName(key))
	}
	_ = tw.Flush()
}
