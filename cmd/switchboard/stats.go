package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"switchboard/pkg/metrics"
)

func newStatsCommand(global *globalOptions) *cobra.Command {
	var (
		prometheusURL string
		agentName     string
		timeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Query Prometheus for delivery outcomes per agent",
		Long: `Query a Prometheus server that scrapes switchboard for delivered, requeued and
dropped message counts. The server URL comes from --prometheus-url or
metrics.prometheus_url in the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if prometheusURL == "" {
				cfg, err := global.loadConfig()
				if err != nil {
					return err
				}
				prometheusURL = cfg.Metrics.PrometheusURL
			}
			if prometheusURL == "" {
				return errors.New("no Prometheus URL: set --prometheus-url or metrics.prometheus_url")
			}

			qs, err := metrics.NewQueryService(prometheusURL)
			if err != nil {
				return err //nolint:wrapcheck // metrics names the failure
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var all []*metrics.DeliveryStats
			if agentName != "" {
				s, err := qs.GetDeliveryStats(ctx, agentName)
				if err != nil {
					return err //nolint:wrapcheck // metrics names the query
				}
				all = append(all, s)
			} else {
				byAgent, err := qs.GetDeliveryStatsByAgent(ctx)
				if err != nil {
					return err //nolint:wrapcheck // metrics names the query
				}
				for _, s := range byAgent {
					all = append(all, s)
				}
				sort.Slice(all, func(i, j int) bool { return all[i].Agent < all[j].Agent })
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "AGENT\tDELIVERED\tREQUEUED\tDROPPED\tTOTAL")
			for _, s := range all {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", s.Agent, s.Delivered, s.Requeued, s.Dropped, s.Total())
			}
			return tw.Flush() //nolint:wrapcheck // Terminal write
		},
	}

	cmd.Flags().StringVar(&prometheusURL, "prometheus-url", "", "Prometheus server URL")
	cmd.Flags().StringVar(&agentName, "agent", "", "only this agent")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "query timeout")
	return cmd
}
