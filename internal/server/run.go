package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/policyfit/internal/store"
)

// RunState represents the current state of a training run
type RunState string

const (
	StatePending   RunState = "pending"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
)

// RunConfig is an alias to avoid duplication with store.RunConfig
type RunConfig = store.RunConfig

// Run represents a training run managed by the server
type Run struct {
	ID          string     `json:"id"`
	State       RunState   `json:"state"`
	Config      RunConfig  `json:"config"`
	Generation  int        `json:"generation"`
	BestReward  float64    `json:"bestReward"`
	FinalReward float64    `json:"finalReward"`
	Converged   bool       `json:"converged"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RunManager manages the lifecycle of training runs
type RunManager struct {
	mu          sync.RWMutex
	runs        map[string]*Run
	cancels     map[string]func()
	broadcaster *EventBroadcaster
}

// NewRunManager creates a new RunManager
func NewRunManager() *RunManager {
	return &RunManager{
		runs:        make(map[string]*Run),
		cancels:     make(map[string]func()),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateRun registers a new run with the given configuration
func (rm *RunManager) CreateRun(config RunConfig) *Run {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	run := &Run{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}

	rm.runs[run.ID] = run
	return run
}

// GetRun retrieves a run by ID
func (rm *RunManager) GetRun(id string) (*Run, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	run, exists := rm.runs[id]
	return run, exists
}

// ListRuns returns all runs
func (rm *RunManager) ListRuns() []*Run {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	runs := make([]*Run, 0, len(rm.runs))
	for _, run := range rm.runs {
		runs = append(runs, run)
	}
	return runs
}

// UpdateRun atomically updates a run using the provided function
func (rm *RunManager) UpdateRun(id string, updateFn func(*Run)) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	run, exists := rm.runs[id]
	if !exists {
		return fmt.Errorf("run not found: %s", id)
	}

	updateFn(run)
	return nil
}

// GetRunningRuns returns all runs currently in the running state
func (rm *RunManager) GetRunningRuns() []*Run {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	running := make([]*Run, 0)
	for _, run := range rm.runs {
		if run.State == StateRunning {
			running = append(running, run)
		}
	}
	return running
}

// setCancel stores the cancel function for an active run.
func (rm *RunManager) setCancel(id string, cancel func()) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.cancels[id] = cancel
}

// CancelRun requests cancellation of a running run.
func (rm *RunManager) CancelRun(id string) error {
	rm.mu.Lock()
	cancel, exists := rm.cancels[id]
	if exists {
		delete(rm.cancels, id)
	}
	rm.mu.Unlock()

	if !exists {
		return fmt.Errorf("run not active: %s", id)
	}
	cancel()
	return nil
}
