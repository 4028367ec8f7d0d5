package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"switchboard/internal/kernel"
	"switchboard/pkg/config"
	"switchboard/pkg/dispatch"
	"switchboard/pkg/logx"
)

type runOptions struct {
	messagesPath string
	drainTimeout time.Duration
	showLog      bool
	showMetrics  bool
}

func newRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a message file and report what happened to every message",
		Example: `  # Route the messages in msgs.yaml with the default agents
  switchboard run --messages msgs.yaml

  # Use a config file and print the Prometheus exposition afterwards
  switchboard run -c switchboard.yaml -m msgs.yaml --metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			return runMessages(cmd.Context(), cmd.OutOrStdout(), cfg, opts, global.colored(cmd.OutOrStdout()))
		},
	}

	cmd.Flags().StringVarP(&opts.messagesPath, "messages", "m", "", "message file (YAML)")
	cmd.Flags().DurationVar(&opts.drainTimeout, "drain-timeout", 5*time.Minute, "how long to wait for the queue to drain")
	cmd.Flags().BoolVar(&opts.showLog, "show-log", false, "print the orchestrator log after the run")
	cmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "print the Prometheus text exposition after the run")
	_ = cmd.MarkFlagRequired("messages")

	return cmd
}

func runMessages(ctx context.Context, out io.Writer, cfg *config.Config, opts *runOptions, colored bool) error {
	msgs, err := config.LoadMessages(opts.messagesPath)
	if err != nil {
		return err //nolint:wrapcheck // config names the file
	}

	started := time.Now()
	k, err := kernel.New(cfg, kernel.Options{ReportOutput: out, Colored: colored})
	if err != nil {
		return err //nolint:wrapcheck // kernel names the failure
	}
	if err := k.Start(ctx); err != nil {
		_ = k.Stop(context.Background())
		return err //nolint:wrapcheck // kernel names the failure
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := k.Stop(stopCtx); err != nil {
			logx.Warnf("shutdown: %v", err)
		}
	}()

	heading := color.New(color.Bold)
	rejected := color.New(color.FgRed)

	accepted := 0
	for _, msg := range msgs {
		if err := k.Submit(ctx, msg); err != nil {
			rejected.Fprintf(out, "rejected %s: %v\n", msg.ID, err)
			continue
		}
		accepted++
	}
	fmt.Fprintf(out, "submitted %d of %d messages\n", accepted, len(msgs))

	drainCtx, cancel := context.WithTimeout(ctx, opts.drainTimeout)
	defer cancel()
	if err := k.Drain(drainCtx); err != nil {
		fmt.Fprintf(out, "warning: %v\n", err)
	}

	heading.Fprintln(out, "\nResults")
	printResults(out, k)

	orch := k.Registry.Orchestrator()
	heading.Fprintln(out, "\nQueue")
	stats := orch.GetQueueStats()
	fmt.Fprintf(out, "total=%d high=%d normal=%d low=%d processing=%v\n",
		stats.Total, stats.High, stats.Normal, stats.Low, stats.IsProcessing)

	heading.Fprintln(out, "\nAgent health")
	printHealth(out, orch.GetAllAgentHealth())

	if opts.showMetrics && k.Metrics != nil {
		heading.Fprintln(out, "\nMetrics")
		if err := k.Metrics.WriteText(out); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	if opts.showLog {
		heading.Fprintln(out, "\nLog")
		for _, e := range logx.GetRecentLogEntries(dispatch.DefaultName, started) {
			fmt.Fprintf(out, "%s %-5s %s\n", e.Timestamp, e.Level, e.Message)
		}
	}
	return nil
}

func printResults(out io.Writer, k *kernel.Kernel) {
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	for _, r := range k.Results.Results() {
		mark := ok.Sprint("ok  ")
		if !r.OK {
			mark = bad.Sprint("FAIL")
		}
		fmt.Fprintf(out, "%s %-10s %s\n", mark, r.Worker, r.Summary)
	}
}

func printHealth(out io.Writer, results []dispatch.HealthCheckResult) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tSTATUS\tSTATE\tCIRCUIT\tMESSAGES\tERRORS\tSUCCESS\tAVG")
	for _, h := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%.1f%%\t%v\n",
			h.Name, h.Status, h.State, h.CircuitState,
			h.Metrics.MessageCount, h.Metrics.ErrorCount, h.Metrics.SuccessRate,
			h.Metrics.AvgProcessingTime.Round(time.Microsecond))
	}
	_ = tw.Flush()
}
