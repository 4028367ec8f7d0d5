package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"switchboard/pkg/agent/agenterrors"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig("lint")
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1000, cfg.MaxQueueSize)
	assert.Equal(t, 1, cfg.MaxConcurrentTasks)
	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.NoError(t, cfg.Validate())
}

func TestWithDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{Name: "x", MaxQueueSize: 7}.WithDefaults()
	assert.Equal(t, 7, cfg.MaxQueueSize)
	assert.Equal(t, DefaultTimeoutMs, cfg.TimeoutMs)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing name", Config{MaxQueueSize: 1, MaxConcurrentTasks: 1}},
		{"zero queue", Config{Name: "a", MaxConcurrentTasks: 1}},
		{"negative retries", Config{Name: "a", MaxRetries: -1, MaxQueueSize: 1, MaxConcurrentTasks: 1}},
		{"negative timeout", Config{Name: "a", MaxQueueSize: 1, MaxConcurrentTasks: 1, TimeoutMs: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			assert.Error(t, err)
			assert.True(t, agenterrors.Is(err, agenterrors.KindValidation))
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}
