package pipeline

import (
	"log/slog"
	"sync"
	"time"
)

// Hub pushes run snapshots to connected dashboard clients
type Hub interface {
	BroadcastUpdate(eventType string, payload any)
}

// Event type pushed over the WebSocket for every snapshot change
const EventRunSnapshot = "run:snapshot"

// RunSnapshot is the complete view of a run sent to the frontend. The
// broadcaster always sends whole snapshots so clients never have to
// stitch partial updates together.
type RunSnapshot struct {
	RunID       string         `json:"run_id"`
	Status      string         `json:"status"`
	Progress    int            `json:"progress"`
	CurrentStep string         `json:"current_step,omitempty"`
	Steps       []StepSnapshot `json:"steps"`
	StartedAt   time.Time      `json:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Message     string         `json:"message,omitempty"`
}

// StepSnapshot is the view of one step inside a run snapshot
type StepSnapshot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

type snapshotUpdate struct {
	runID string
	apply func(*RunSnapshot)
	done  chan struct{}
}

// StatusBroadcaster is the single writer of run snapshots. All updates
// funnel through one goroutine so ordering is consistent for every
// client.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	runs    map[string]*RunSnapshot
	hub     Hub
	logger  *slog.Logger
	updates chan snapshotUpdate
	stop    chan struct{}
	once    sync.Once
}

// NewStatusBroadcaster creates a broadcaster and starts its update loop
func NewStatusBroadcaster(hub Hub, logger *slog.Logger) *StatusBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	sb := &StatusBroadcaster{
		runs:    make(map[string]*RunSnapshot),
		hub:     hub,
		logger:  logger.With(slog.String("component", "status_broadcaster")),
		updates: make(chan snapshotUpdate, 64),
		stop:    make(chan struct{}),
	}
	go sb.loop()
	return sb
}

func (sb *StatusBroadcaster) loop() {
	for {
		select {
		case <-sb.stop:
			return
		case upd := <-sb.updates:
			sb.handle(upd)
		}
	}
}

func (sb *StatusBroadcaster) handle(upd snapshotUpdate) {
	defer close(upd.done)

	sb.mu.Lock()
	snapshot, exists := sb.runs[upd.runID]
	if !exists {
		snapshot = &RunSnapshot{
			RunID:     upd.runID,
			Status:    string(RunStatusPending),
			StartedAt: time.Now(),
		}
		sb.runs[upd.runID] = snapshot
	}

	upd.apply(snapshot)
	snapshot.UpdatedAt = time.Now()

	if len(snapshot.Steps) > 0 {
		total := 0
		for _, step := range snapshot.Steps {
			total += step.Progress
		}
		snapshot.Progress = total / len(snapshot.Steps)
	}

	terminal := snapshot.Status == string(RunStatusCompleted) ||
		snapshot.Status == string(RunStatusFailed) ||
		snapshot.Status == string(RunStatusCancelled)
	if terminal && snapshot.CompletedAt == nil {
		now := time.Now()
		snapshot.CompletedAt = &now
	}

	out := *snapshot
	sb.mu.Unlock()

	if sb.hub != nil {
		sb.hub.BroadcastUpdate(EventRunSnapshot, &out)
	}
}

// update applies a mutation and waits for it to be broadcast
func (sb *StatusBroadcaster) update(runID string, apply func(*RunSnapshot)) {
	upd := snapshotUpdate{runID: runID, apply: apply, done: make(chan struct{})}
	select {
	case sb.updates <- upd:
		<-upd.done
	case <-sb.stop:
	}
}

// CreateRun initializes a snapshot with pending entries for every step
func (sb *StatusBroadcaster) CreateRun(runID string, steps []StepSnapshot) {
	sb.update(runID, func(s *RunSnapshot) {
		s.Status = string(RunStatusPending)
		s.Progress = 0
		s.Steps = append([]StepSnapshot(nil), steps...)
		s.Message = "Run created"
	})
}

// StartRun marks a run as running
func (sb *StatusBroadcaster) StartRun(runID string) {
	sb.update(runID, func(s *RunSnapshot) {
		s.Status = string(RunStatusRunning)
		s.Message = "Run started"
	})
}

// UpdateStep records progress for one step
func (sb *StatusBroadcaster) UpdateStep(runID, stepID string, progress int, message string) {
	sb.update(runID, func(s *RunSnapshot) {
		for i := range s.Steps {
			if s.Steps[i].ID != stepID {
				continue
			}
			if progress > s.Steps[i].Progress {
				s.Steps[i].Progress = progress
			}
			s.Steps[i].Message = message
			if progress >= 100 {
				s.Steps[i].Status = string(StepStatusCompleted)
				s.Steps[i].Progress = 100
			} else if progress > 0 {
				s.Steps[i].Status = string(StepStatusActive)
				s.CurrentStep = s.Steps[i].Name
			}
			return
		}
	})
}

// CompleteStep marks one step completed
func (sb *StatusBroadcaster) CompleteStep(runID, stepID, message string) {
	sb.update(runID, func(s *RunSnapshot) {
		for i := range s.Steps {
			if s.Steps[i].ID == stepID {
				s.Steps[i].Status = string(StepStatusCompleted)
				s.Steps[i].Progress = 100
				s.Steps[i].Message = message
				return
			}
		}
	})
}

// FailStep marks one step failed
func (sb *StatusBroadcaster) FailStep(runID, stepID string, err error) {
	sb.update(runID, func(s *RunSnapshot) {
		for i := range s.Steps {
			if s.Steps[i].ID == stepID {
				s.Steps[i].Status = string(StepStatusFailed)
				s.Steps[i].Error = err.Error()
				return
			}
		}
	})
}

// SkipStep marks one step skipped with a reason
func (sb *StatusBroadcaster) SkipStep(runID, stepID, reason string) {
	sb.update(runID, func(s *RunSnapshot) {
		for i := range s.Steps {
			if s.Steps[i].ID == stepID {
				s.Steps[i].Status = string(StepStatusSkipped)
				s.Steps[i].Message = reason
				return
			}
		}
	})
}

// CompleteRun marks a run completed
func (sb *StatusBroadcaster) CompleteRun(runID, message string) {
	sb.update(runID, func(s *RunSnapshot) {
		s.Status = string(RunStatusCompleted)
		s.Progress = 100
		s.CurrentStep = ""
		s.Message = message
	})
}

// FailRun marks a run failed
func (sb *StatusBroadcaster) FailRun(runID string, err error) {
	sb.update(runID, func(s *RunSnapshot) {
		s.Status = string(RunStatusFailed)
		s.Error = err.Error()
		s.CurrentStep = ""
	})
}

// Snapshot returns a copy of a run's snapshot
func (sb *StatusBroadcaster) Snapshot(runID string) (*RunSnapshot, bool) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	snapshot, exists := sb.runs[runID]
	if !exists {
		return nil, false
	}
	out := *snapshot
	out.Steps = append([]StepSnapshot(nil), snapshot.Steps...)
	return &out, true
}

// CleanupOldRuns drops terminal runs older than maxAge
func (sb *StatusBroadcaster) CleanupOldRuns(maxAge time.Duration) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	now := time.Now()
	for id, snapshot := range sb.runs {
		if snapshot.CompletedAt != nil && now.Sub(*snapshot.CompletedAt) > maxAge {
			delete(sb.runs, id)
			sb.logger.Info("cleaned up old run",
				slog.String("run_id", id),
				slog.String("status", snapshot.Status))
		}
	}
}

// Stop shuts down the update loop
func (sb *StatusBroadcaster) Stop() {
	sb.once.Do(func() { close(sb.stop) })
}
