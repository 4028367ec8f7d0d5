// Package health keeps bounded rolling statistics about one agent's message processing.
package health

import (
	"sync"
	"time"
)

// DefaultSampleWindow is the number of latency samples retained for averaging.
const DefaultSampleWindow = 100

// MetricsData is a point-in-time view of an agent's processing statistics.
type MetricsData struct {
	LastErrorTime      time.Time     `json:"last_error_time"`
	LastSuccessTime    time.Time     `json:"last_success_time"`
	MessageCount       int64         `json:"message_count"`
	ErrorCount         int64         `json:"error_count"`
	SuccessRate        float64       `json:"success_rate"` // percent, 100 when no messages seen
	AvgProcessingTime  time.Duration `json:"avg_processing_time"`
	LastProcessingTime time.Duration `json:"last_processing_time"`
}

// Metrics records successes, errors and latencies for one agent.
// Latency samples live in a fixed-size ring buffer; the oldest sample is evicted first.
type Metrics struct {
	now func() time.Time

	lastErrorTime      time.Time
	lastSuccessTime    time.Time
	samples            []time.Duration
	next               int // ring write position
	filled             int // number of valid samples
	messageCount       int64
	errorCount         int64
	lastProcessingTime time.Duration

	mu sync.RWMutex
}

// Option configures Metrics.
type Option func(*Metrics)

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Metrics) { m.now = now }
}

// WithWindow overrides the sample window size.
func WithWindow(size int) Option {
	return func(m *Metrics) {
		if size > 0 {
			m.samples = make([]time.Duration, size)
		}
	}
}

// NewMetrics creates an empty metrics recorder.
func NewMetrics(opts ...Option) *Metrics {
	m := &Metrics{
		now:     time.Now,
		samples: make([]time.Duration, DefaultSampleWindow),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordSuccess records a successfully processed message.
func (m *Metrics) RecordSuccess(processingTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messageCount++
	m.lastSuccessTime = m.now()
	m.addSample(processingTime)
}

// RecordError records a failed message. It counts toward MessageCount as well.
func (m *Metrics) RecordError(processingTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messageCount++
	m.errorCount++
	m.lastErrorTime = m.now()
	m.addSample(processingTime)
}

func (m *Metrics) addSample(d time.Duration) {
	m.lastProcessingTime = d
	m.samples[m.next] = d
	m.next = (m.next + 1) % len(m.samples)
	if m.filled < len(m.samples) {
		m.filled++
	}
}

// Snapshot returns the derived statistics.
func (m *Metrics) Snapshot() MetricsData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data := MetricsData{
		MessageCount:       m.messageCount,
		ErrorCount:         m.errorCount,
		SuccessRate:        100,
		LastProcessingTime: m.lastProcessingTime,
		LastErrorTime:      m.lastErrorTime,
		LastSuccessTime:    m.lastSuccessTime,
	}
	if m.messageCount > 0 {
		data.SuccessRate = float64(m.messageCount-m.errorCount) / float64(m.messageCount) * 100
	}
	if m.filled > 0 {
		var total time.Duration
		for i := 0; i < m.filled; i++ {
			total += m.samples[i]
		}
		data.AvgProcessingTime = total / time.Duration(m.filled)
	}
	return data
}

// SampleCount returns the number of retained latency samples.
func (m *Metrics) SampleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filled
}

// Reset zeroes all counters and clears samples. Normal dispatch never calls this.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messageCount = 0
	m.errorCount = 0
	m.lastProcessingTime = 0
	m.lastErrorTime = time.Time{}
	m.lastSuccessTime = time.Time{}
	for i := range m.samples {
		m.samples[i] = 0
	}
	m.next = 0
	m.filled = 0
}
