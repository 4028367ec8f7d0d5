package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// DeliveryStats aggregates drain-loop outcomes for one agent.
type DeliveryStats struct {
	Agent     string `json:"agent"`
	Delivered int64  `json:"delivered"`
	Requeued  int64  `json:"requeued"`
	Dropped   int64  `json:"dropped"`
}

// Total returns the number of drain-loop steps counted.
func (s DeliveryStats) Total() int64 {
	return s.Delivered + s.Requeued + s.Dropped
}

// QueryService reads dispatch metrics back from a Prometheus server that scrapes switchboard.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
	now      func() time.Time
}

// NewQueryService creates a query service for the Prometheus server at prometheusURL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
		now:      time.Now,
	}, nil
}

// GetDeliveryStats returns the outcome counts for agent.
func (q *QueryService) GetDeliveryStats(ctx context.Context, agent string) (*DeliveryStats, error) {
	query := fmt.Sprintf(`sum by (outcome) (%s{agent=%q})`, DeliveriesTotal, agent)
	byOutcome, err := q.sumBy(ctx, query, "outcome")
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries for %s: %w", agent, err)
	}

	return &DeliveryStats{
		Agent:     agent,
		Delivered: byOutcome["delivered"],
		Requeued:  byOutcome["requeued"],
		Dropped:   byOutcome["dropped"],
	}, nil
}

// GetDeliveryStatsByAgent returns outcome counts for every agent Prometheus has seen.
func (q *QueryService) GetDeliveryStatsByAgent(ctx context.Context) (map[string]*DeliveryStats, error) {
	query := fmt.Sprintf(`sum by (agent, outcome) (%s)`, DeliveriesTotal)
	result, _, err := q.queryAPI.Query(ctx, query, q.now())
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}

	stats := make(map[string]*DeliveryStats)
	vector, ok := result.(model.Vector)
	if !ok {
		return stats, nil
	}
	for _, sample := range vector {
		agent := string(sample.Metric["agent"])
		s, exists := stats[agent]
		if !exists {
			s = &DeliveryStats{Agent: agent}
			stats[agent] = s
		}
		n := int64(sample.Value)
		switch string(sample.Metric["outcome"]) {
		case "delivered":
			s.Delivered += n
		case "requeued":
			s.Requeued += n
		case "dropped":
			s.Dropped += n
		}
	}
	return stats, nil
}

func (q *QueryService) sumBy(ctx context.Context, query string, label model.LabelName) (map[string]int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, q.now())
	if err != nil {
		return nil, err //nolint:wrapcheck // Wrapped by callers with context
	}

	out := make(map[string]int64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			out[string(sample.Metric[label])] += int64(sample.Value)
		}
	}
	return out, nil
}
