package pipeline

import (
	"time"

	"invsight/internal/config"
)

// Step identifiers
const (
	StepIDPreprocess = "preprocess"
	StepIDClassify   = "classify"
	StepIDForecast   = "forecast"
	StepIDRisk       = "risk"
	StepIDRecommend  = "recommend"
)

// Step display names
const (
	StepNamePreprocess = "Data Preprocessing"
	StepNameClassify   = "Expiry Classification"
	StepNameForecast   = "Demand Forecasting"
	StepNameRisk       = "Risk Scoring"
	StepNameRecommend  = "Recommendations"
)

// RetryConfig controls retry behavior for failed steps
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// DefaultRetryConfig returns the retry defaults: three attempts with
// doubling backoff capped at 30s
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Config controls how the manager executes a run
type Config struct {
	// DefaultStepTimeout bounds each step unless overridden
	DefaultStepTimeout time.Duration `json:"default_step_timeout"`

	// StepTimeouts overrides the default per step ID
	StepTimeouts map[string]time.Duration `json:"step_timeouts,omitempty"`

	// Retry controls per-step retry behavior
	Retry RetryConfig `json:"retry"`

	// ContinueOnError lets later steps run after a failure instead of
	// skipping every dependent
	ContinueOnError bool `json:"continue_on_error"`
}

// NewConfig returns the default pipeline configuration
func NewConfig() *Config {
	return &Config{
		DefaultStepTimeout: config.DefaultStageTimeout,
		StepTimeouts:       make(map[string]time.Duration),
		Retry:              DefaultRetryConfig(),
	}
}

// StepTimeout returns the timeout for a step
func (c *Config) StepTimeout(stepID string) time.Duration {
	if t, ok := c.StepTimeouts[stepID]; ok && t > 0 {
		return t
	}
	return c.DefaultStepTimeout
}

// SetStepTimeout overrides the timeout for one step
func (c *Config) SetStepTimeout(stepID string, timeout time.Duration) {
	if c.StepTimeouts == nil {
		c.StepTimeouts = make(map[string]time.Duration)
	}
	c.StepTimeouts[stepID] = timeout
}
