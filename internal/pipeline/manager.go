package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"invsight/internal/infrastructure"
)

// RunRequest asks the manager to execute the pipeline
type RunRequest struct {
	ID string `json:"id,omitempty"`

	// Step restricts the run to a single step; empty means the full chain
	Step string `json:"step,omitempty"`
}

// RunResponse is the result of a finished run
type RunResponse struct {
	ID       string                `json:"id"`
	Status   RunStatus             `json:"status"`
	Duration time.Duration         `json:"duration"`
	Steps    map[string]*StepState `json:"steps"`
	Error    string                `json:"error,omitempty"`
}

// Manager executes pipeline runs. The chain is strictly sequential:
// every step consumes the file the previous one wrote.
type Manager struct {
	registry    *Registry
	config      *Config
	broadcaster *StatusBroadcaster
	metrics     *infrastructure.PipelineMetrics
	logger      *slog.Logger

	mu   sync.RWMutex
	runs map[string]*RunState
}

// NewManager creates a run manager
func NewManager(hub Hub, registry *Registry, config *Config, metrics *infrastructure.PipelineMetrics, logger *slog.Logger) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if config == nil {
		config = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:    registry,
		config:      config,
		broadcaster: NewStatusBroadcaster(hub, logger),
		metrics:     metrics,
		logger:      logger.With(slog.String("component", "pipeline_manager")),
		runs:        make(map[string]*RunState),
	}
}

// Register adds a step to the manager's registry
func (m *Manager) Register(step Step) error {
	return m.registry.Register(step)
}

// Registry returns the step registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Broadcaster returns the status broadcaster
func (m *Manager) Broadcaster() *StatusBroadcaster {
	return m.broadcaster
}

// Config returns the active configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Execute runs the pipeline and blocks until it finishes
func (m *Manager) Execute(ctx context.Context, req RunRequest) (*RunResponse, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	state := NewRunState(req.ID)
	m.storeRun(state)

	steps, err := m.resolveSteps(ctx, req)
	if err != nil {
		state.Fail(err)
		m.broadcaster.FailRun(req.ID, err)
		return m.response(state), err
	}

	snapshots := make([]StepSnapshot, len(steps))
	for i, step := range steps {
		state.SetStep(step.ID(), NewStepState(step.ID(), step.Name()))
		snapshots[i] = StepSnapshot{
			ID:     step.ID(),
			Name:   step.Name(),
			Status: string(StepStatusPending),
		}
	}
	m.broadcaster.CreateRun(req.ID, snapshots)

	state.Start()
	m.broadcaster.StartRun(req.ID)
	started := time.Now()

	err = m.executeChain(ctx, state, steps)

	if err != nil {
		state.Fail(err)
		m.broadcaster.FailRun(req.ID, err)
	} else {
		state.Complete()
		m.broadcaster.CompleteRun(req.ID, "Run completed successfully")
	}
	m.metrics.RecordRun(ctx, time.Since(started), err == nil)

	return m.response(state), err
}

// resolveSteps picks either the full dependency-ordered chain or the
// single requested step
func (m *Manager) resolveSteps(ctx context.Context, req RunRequest) ([]Step, error) {
	if req.Step != "" {
		step, err := m.registry.Get(req.Step)
		if err != nil {
			return nil, NewValidationError(req.Step, "requested step not registered")
		}
		m.logger.InfoContext(ctx, "executing single step",
			slog.String("run_id", req.ID),
			slog.String("step", req.Step))
		return []Step{step}, nil
	}

	steps, err := m.registry.DependencyOrder()
	if err != nil {
		return nil, NewFatalError("failed to resolve step order", err)
	}
	m.logger.InfoContext(ctx, "executing full pipeline",
		slog.String("run_id", req.ID),
		slog.Int("step_count", len(steps)))
	return steps, nil
}

// executeChain runs steps in order, skipping dependents of failures
func (m *Manager) executeChain(ctx context.Context, state *RunState, steps []Step) error {
	for i, step := range steps {
		select {
		case <-ctx.Done():
			m.logger.WarnContext(ctx, "run cancelled",
				slog.String("run_id", state.ID),
				slog.String("step", step.ID()))
			return NewCancellationError(step.ID())
		default:
		}

		stepState := state.Step(step.ID())
		if stepState.CurrentStatus() == StepStatusSkipped {
			continue
		}

		m.logger.InfoContext(ctx, "executing step",
			slog.String("run_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("position", i+1),
			slog.Int("total", len(steps)))

		if err := m.executeStep(ctx, state, step); err != nil {
			m.logger.ErrorContext(ctx, "step failed",
				slog.String("run_id", state.ID),
				slog.String("step", step.ID()),
				slog.String("error", err.Error()))
			if !m.config.ContinueOnError {
				m.skipDependents(state, step.ID())
				return err
			}
			m.logger.WarnContext(ctx, "continuing after step failure",
				slog.String("run_id", state.ID),
				slog.String("step", step.ID()))
		}
	}
	return nil
}

// executeStep runs one step with its timeout and retry policy
func (m *Manager) executeStep(ctx context.Context, state *RunState, step Step) error {
	stepState := state.Step(step.ID())
	if stepState == nil {
		return NewFatalError("step state not found", nil)
	}

	// Dependencies outside the run (single-step requests) are not
	// checked here; Validate still guards the required input files
	for _, dep := range step.Dependencies() {
		depState := state.Step(dep)
		if depState != nil && depState.CurrentStatus() != StepStatusCompleted {
			reason := fmt.Sprintf("dependency %s not completed", dep)
			stepState.Skip(reason)
			m.broadcaster.SkipStep(state.ID, step.ID(), reason)
			return NewDependencyError(step.ID(), dep)
		}
	}

	if err := step.Validate(state); err != nil {
		reason := fmt.Sprintf("validation failed: %v", err)
		stepState.Skip(reason)
		m.broadcaster.SkipStep(state.ID, step.ID(), reason)
		return NewValidationError(step.ID(), err.Error())
	}

	timeout := m.config.StepTimeout(step.ID())
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	retry := m.config.Retry
	var lastErr error

	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		stepState.Start()
		m.broadcaster.UpdateStep(state.ID, step.ID(), 1, "Step started")

		started := time.Now()
		err := step.Execute(stepCtx, state)
		duration := time.Since(started)
		m.metrics.RecordStage(ctx, step.ID(), duration, err == nil)

		if err == nil {
			stepState.Complete()
			m.broadcaster.CompleteStep(state.ID, step.ID(), "Step completed")
			m.logger.InfoContext(ctx, "step completed",
				slog.String("run_id", state.ID),
				slog.String("step", step.ID()),
				slog.Duration("duration", duration))
			return nil
		}

		if stepCtx.Err() == context.DeadlineExceeded {
			timeoutErr := NewTimeoutError(step.ID(), timeout.String())
			stepState.Fail(timeoutErr)
			m.broadcaster.FailStep(state.ID, step.ID(), timeoutErr)
			return timeoutErr
		}

		lastErr = err
		if !IsRetryable(err) || attempt >= retry.MaxAttempts {
			stepState.Fail(err)
			m.broadcaster.FailStep(state.ID, step.ID(), err)
			return WrapError(err, step.ID(), "step execution failed")
		}

		delay := m.retryDelay(attempt, retry)
		m.logger.WarnContext(ctx, "retrying step",
			slog.String("run_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		select {
		case <-time.After(delay):
		case <-stepCtx.Done():
			timeoutErr := NewTimeoutError(step.ID(), timeout.String())
			stepState.Fail(timeoutErr)
			m.broadcaster.FailStep(state.ID, step.ID(), timeoutErr)
			return timeoutErr
		}
	}

	stepState.Fail(lastErr)
	m.broadcaster.FailStep(state.ID, step.ID(), lastErr)
	return WrapError(lastErr, step.ID(), "step execution failed after retries")
}

// skipDependents marks every transitive dependent of a failed step
func (m *Manager) skipDependents(state *RunState, failedID string) {
	for _, id := range m.registry.Dependents(failedID) {
		stepState := state.Step(id)
		if stepState != nil && stepState.CurrentStatus() == StepStatusPending {
			reason := fmt.Sprintf("dependency %s failed", failedID)
			stepState.Skip(reason)
			m.broadcaster.SkipStep(state.ID, id, reason)
		}
	}
}

func (m *Manager) retryDelay(attempt int, retry RetryConfig) time.Duration {
	delay := retry.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * retry.Multiplier)
	}
	if delay > retry.MaxDelay {
		delay = retry.MaxDelay
	}
	return delay
}

func (m *Manager) response(state *RunState) *RunResponse {
	clone := state.Clone()
	return &RunResponse{
		ID:       clone.ID,
		Status:   clone.Status,
		Duration: clone.Duration(),
		Steps:    clone.Steps,
		Error:    clone.Error,
	}
}

// Run returns a copy of a run's state, including finished runs
func (m *Manager) Run(id string) (*RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.runs[id]
	if !exists {
		return nil, ErrRunNotFound
	}
	return state.Clone(), nil
}

// ListRuns returns copies of all known runs
func (m *Manager) ListRuns() []*RunState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*RunState, 0, len(m.runs))
	for _, state := range m.runs {
		runs = append(runs, state.Clone())
	}
	return runs
}

// CleanupOldRuns drops terminal runs older than maxAge from memory
func (m *Manager) CleanupOldRuns(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, state := range m.runs {
		clone := state.Clone()
		if clone.EndTime != nil && now.Sub(*clone.EndTime) > maxAge {
			delete(m.runs, id)
		}
	}
	m.broadcaster.CleanupOldRuns(maxAge)
}

func (m *Manager) storeRun(state *RunState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[state.ID] = state
}
