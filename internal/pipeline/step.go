// Package pipeline orchestrates the inventory analytics run: a fixed
// chain of steps that read and write well-known CSV artifacts under the
// data directory. Steps declare dependencies; the manager executes them
// in dependency order with per-step timeouts and retries.
package pipeline

import (
	"context"
	"sync"
	"time"
)

// Step is a single unit of work in a run
type Step interface {
	// ID returns the stable identifier used in requests and progress events
	ID() string

	// Name returns the human-readable step name
	Name() string

	// Execute performs the work. State carries values between steps.
	Execute(ctx context.Context, state *RunState) error

	// Validate checks preconditions before Execute is attempted
	Validate(state *RunState) error

	// Dependencies returns the IDs of steps that must complete first
	Dependencies() []string
}

// StepStatus is the lifecycle status of a step within a run
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusActive    StepStatus = "active"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepState is the runtime state of one step. Safe for concurrent
// reads while the manager mutates it.
type StepState struct {
	mu        sync.RWMutex
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    StepStatus     `json:"status"`
	StartTime *time.Time     `json:"start_time,omitempty"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Progress  float64        `json:"progress"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewStepState creates a pending step state
func NewStepState(id, name string) *StepState {
	return &StepState{
		ID:       id,
		Name:     name,
		Status:   StepStatusPending,
		Metadata: make(map[string]any),
	}
}

// Start marks the step active
func (s *StepState) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = &now
	s.Status = StepStatusActive
	s.Progress = 0
}

// Complete marks the step completed
func (s *StepState) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = StepStatusCompleted
	s.Progress = 100
}

// Fail marks the step failed
func (s *StepState) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = StepStatusFailed
	if err != nil {
		s.Error = err.Error()
	}
}

// Skip marks the step skipped with a reason
func (s *StepState) Skip(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = StepStatusSkipped
	s.Message = reason
}

// UpdateProgress records progress and a status message
func (s *StepState) UpdateProgress(progress float64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Progress = progress
	s.Message = message
}

// SetMetadata attaches a metadata value to the step
func (s *StepState) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	s.Metadata[key] = value
}

// CurrentStatus returns the status under the read lock
func (s *StepState) CurrentStatus() StepStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// Duration returns how long the step has run
func (s *StepState) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.StartTime == nil {
		return 0
	}
	if s.EndTime != nil {
		return s.EndTime.Sub(*s.StartTime)
	}
	return time.Since(*s.StartTime)
}

// snapshot returns a copy without the lock embedded
func (s *StepState) snapshot() *StepState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := &StepState{
		ID:       s.ID,
		Name:     s.Name,
		Status:   s.Status,
		Progress: s.Progress,
		Message:  s.Message,
		Error:    s.Error,
		Metadata: make(map[string]any, len(s.Metadata)),
	}
	if s.StartTime != nil {
		t := *s.StartTime
		out.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// BaseStep carries the identity shared by all step implementations
type BaseStep struct {
	id   string
	name string
	deps []string
}

// NewBaseStep creates the embedded base for a step
func NewBaseStep(id, name string, deps ...string) BaseStep {
	return BaseStep{id: id, name: name, deps: deps}
}

// ID returns the step ID
func (b *BaseStep) ID() string { return b.id }

// Name returns the step name
func (b *BaseStep) Name() string { return b.name }

// Dependencies returns the step dependencies
func (b *BaseStep) Dependencies() []string { return b.deps }

// Validate passes by default; steps override it for real preconditions
func (b *BaseStep) Validate(state *RunState) error { return nil }
