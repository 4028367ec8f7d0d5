package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"switchboard/pkg/agent/agenterrors"
)

// Default agent settings.
const (
	DefaultMaxRetries         = 3
	DefaultMaxQueueSize       = 1000
	DefaultMaxConcurrentTasks = 1
	DefaultTimeoutMs          = 30000
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid agent config")

// Config holds the per-agent limits.
type Config struct {
	Name               string `yaml:"name" json:"name" validate:"required"`
	MaxRetries         int    `yaml:"max_retries" json:"max_retries" validate:"gte=0"`
	MaxQueueSize       int    `yaml:"max_queue_size" json:"max_queue_size" validate:"gte=1"`
	MaxConcurrentTasks int    `yaml:"max_concurrent_tasks" json:"max_concurrent_tasks" validate:"gte=1"`
	TimeoutMs          int    `yaml:"timeout_ms" json:"timeout_ms" validate:"gte=0"`
}

//nolint:gochecknoglobals // Validator caches struct metadata
var validate = validator.New(validator.WithRequiredStructEnabled())

// NewConfig returns a config for name with the default limits.
func NewConfig(name string) Config {
	return Config{
		Name:               name,
		MaxRetries:         DefaultMaxRetries,
		MaxQueueSize:       DefaultMaxQueueSize,
		MaxConcurrentTasks: DefaultMaxConcurrentTasks,
		TimeoutMs:          DefaultTimeoutMs,
	}
}

// WithDefaults fills zero-valued limits with the defaults.
func (c Config) WithDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.MaxConcurrentTasks == 0 {
		c.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
	return c
}

// Validate checks the config and returns a VALIDATION error wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			err = fmt.Errorf("%w: %s fails '%s'", ErrInvalidConfig, fe.Field(), fe.Tag())
		} else {
			err = fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return agenterrors.Wrap(agenterrors.KindValidation, "agent config "+c.Name, err, "")
	}
	return nil
}

// Timeout returns TimeoutMs as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
