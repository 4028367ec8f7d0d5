package main

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"switchboard/pkg/config"
	"switchboard/pkg/logx"
	"switchboard/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	verbose    bool
	noColor    bool
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "switchboard",
		Short: "Route typed messages to agents with retries and circuit breaking",
		Long: `switchboard queues messages by priority and routes them to registered agents.
Unhealthy agents are isolated behind circuit breakers; failed deliveries are
retried with backoff and eventually dropped.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if opts.verbose {
				logx.SetDebug(true)
			}
			color.NoColor = !opts.colored(cmd.OutOrStdout())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable coloured output")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newStatsCommand(opts))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath) //nolint:wrapcheck // config names the file
}

// colored reports whether output to w should carry ANSI colour.
func (o *globalOptions) colored(w io.Writer) bool {
	if o.noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
