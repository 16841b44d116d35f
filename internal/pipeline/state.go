package pipeline

import (
	"sync"
	"time"
)

// RunStatus is the overall status of a pipeline run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunState is the complete state of one pipeline run
type RunState struct {
	mu sync.RWMutex

	ID        string     `json:"id"`
	Status    RunStatus  `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	Steps map[string]*StepState `json:"steps"`

	// Context carries values between steps, keyed by the Context* constants
	Context map[string]any `json:"context"`

	Error string `json:"error,omitempty"`
}

// Context keys shared between steps
const (
	ContextKeyReferenceDate    = "reference_date"
	ContextKeyRecordCount      = "record_count"
	ContextKeyDroppedRows      = "dropped_rows"
	ContextKeyForecastSkipped  = "forecast_skipped"
	ContextKeyForecastProducts = "forecast_products"
)

// NewRunState creates a pending run state
func NewRunState(id string) *RunState {
	return &RunState{
		ID:        id,
		Status:    RunStatusPending,
		StartTime: time.Now(),
		Steps:     make(map[string]*StepState),
		Context:   make(map[string]any),
	}
}

// Start marks the run as running
func (r *RunState) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = RunStatusRunning
	r.StartTime = time.Now()
}

// Complete marks the run as completed
func (r *RunState) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.EndTime = &now
	r.Status = RunStatusCompleted
}

// Fail marks the run as failed
func (r *RunState) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.EndTime = &now
	r.Status = RunStatusFailed
	if err != nil {
		r.Error = err.Error()
	}
}

// Cancel marks the run as cancelled
func (r *RunState) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.EndTime = &now
	r.Status = RunStatusCancelled
}

// Step returns the state of one step, or nil
func (r *RunState) Step(id string) *StepState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Steps[id]
}

// SetStep registers a step state
func (r *RunState) SetStep(id string, state *StepState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Steps[id] = state
}

// GetContext reads a shared value
func (r *RunState) GetContext(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.Context[key]
	return v, ok
}

// SetContext stores a shared value
func (r *RunState) SetContext(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Context[key] = value
}

// Duration returns how long the run has taken
func (r *RunState) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime)
	}
	return time.Since(r.StartTime)
}

// HasFailures reports whether any step failed
func (r *RunState) HasFailures() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, step := range r.Steps {
		if step.CurrentStatus() == StepStatusFailed {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to API responses
func (r *RunState) Clone() *RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := &RunState{
		ID:        r.ID,
		Status:    r.Status,
		StartTime: r.StartTime,
		Steps:     make(map[string]*StepState, len(r.Steps)),
		Context:   make(map[string]any, len(r.Context)),
		Error:     r.Error,
	}
	if r.EndTime != nil {
		t := *r.EndTime
		clone.EndTime = &t
	}
	for id, step := range r.Steps {
		clone.Steps[id] = step.snapshot()
	}
	for k, v := range r.Context {
		clone.Context[k] = v
	}
	return clone
}
