package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"switchboard/pkg/config"
	"switchboard/pkg/proto"
	"switchboard/pkg/workers"
)

func newValidateCommand(global *globalOptions) *cobra.Command {
	var messagesPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config file and, optionally, a message file",
		Long: `Load the configuration exactly as run would (file, defaults, environment
overrides) and validate it. With --messages, every message is routed against the
configured workers and validated without being sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %d workers, max %d agents\n", len(cfg.Workers), cfg.Registry.MaxAgents)

			if messagesPath == "" {
				return nil
			}
			return validateMessages(out, cfg, messagesPath)
		},
	}

	cmd.Flags().StringVarP(&messagesPath, "messages", "m", "", "message file (YAML) to validate")
	return cmd
}

func validateMessages(out io.Writer, cfg *config.Config, path string) error {
	msgs, err := config.LoadMessages(path)
	if err != nil {
		return err //nolint:wrapcheck // config names the file
	}

	routes, err := routeTable(cfg)
	if err != nil {
		return err
	}

	bad := color.New(color.FgRed)
	invalid := 0
	for i, msg := range msgs {
		if msg.TargetAgent == "" {
			msg.TargetAgent = routes[msg.Type]
		}
		if err := msg.Validate(); err != nil {
			invalid++
			bad.Fprintf(out, "message %d (%s): %v\n", i+1, msg.ID, err)
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d messages are invalid", invalid, len(msgs))
	}
	fmt.Fprintf(out, "messages ok: %d\n", len(msgs))
	return nil
}

// routeTable maps each message type to the configured worker that serves it.
func routeTable(cfg *config.Config) (map[proto.MsgType]string, error) {
	factory := workers.NewFactory()
	routes := make(map[proto.MsgType]string)
	for _, spec := range cfg.WorkerSpecs() {
		w, err := factory.Build(spec)
		if err != nil {
			return nil, err //nolint:wrapcheck // workers names the kind
		}
		for _, mt := range w.MessageTypes() {
			if _, taken := routes[mt]; !taken {
				routes[mt] = w.Name()
			}
		}
	}
	return routes, nil
}
