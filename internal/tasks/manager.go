package tasks

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"autocut-desktop/internal/domain"
)

// ErrTaskBusy is returned when starting a kind that already has an active task.
var ErrTaskBusy = errors.New("task of this kind is already running")

// ErrNoRunningTask is returned when cancel is requested for an idle kind.
var ErrNoRunningTask = errors.New("no running task")

// Manager leases at most one active task per kind and tracks transitions.
type Manager struct {
	mu      sync.RWMutex
	current map[domain.TaskKind]domain.Task
	now     func() time.Time
}

// NewManager creates a manager with every kind idle.
func NewManager() *Manager {
	return &Manager{
		current: make(map[domain.TaskKind]domain.Task),
		now:     time.Now,
	}
}

// Start takes the lease for kind and moves it to running.
func (m *Manager) Start(kind domain.TaskKind, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.lookup(kind)
	if cur.State == domain.TaskStateRunning {
		return ErrTaskBusy
	}
	if !isValidTransition(cur.State, domain.TaskStateRunning) {
		return fmt.Errorf("invalid transition: %s -> %s", cur.State, domain.TaskStateRunning)
	}

	m.current[kind] = domain.Task{
		ID:        taskID,
		Kind:      kind,
		State:     domain.TaskStateRunning,
		StartedAt: m.now().UTC(),
	}
	return nil
}

// Update records the latest progress of the running task with taskID.
// Updates for stale task IDs are ignored.
func (m *Manager) Update(kind domain.TaskKind, taskID string, progress float64, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.lookup(kind)
	if cur.ID != taskID || cur.State != domain.TaskStateRunning {
		return
	}
	cur.Progress = progress
	cur.Message = message
	m.current[kind] = cur
}

// Finish moves the running task with taskID into a terminal state and
// releases the lease.
func (m *Manager) Finish(kind domain.TaskKind, taskID string, state domain.TaskState, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.lookup(kind)
	if cur.ID != taskID {
		return fmt.Errorf("task %s is not the active %s task", taskID, kind)
	}
	if !isValidTransition(cur.State, state) {
		return fmt.Errorf("invalid transition: %s -> %s", cur.State, state)
	}

	cur.State = state
	cur.Message = message
	m.current[kind] = cur
	return nil
}

// Current returns a snapshot of the task for kind.
func (m *Manager) Current(kind domain.TaskKind) domain.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(kind)
}

// IsRunning reports whether kind currently holds a lease.
func (m *Manager) IsRunning(kind domain.TaskKind) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(kind).State == domain.TaskStateRunning
}

// Snapshot returns every kind that has run at least once, ordered by kind.
func (m *Manager) Snapshot() []domain.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Task, 0, len(m.current))
	for _, task := range m.current {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Reset returns kind to idle. Running tasks are left untouched.
func (m *Manager) Reset(kind domain.TaskKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookup(kind).State == domain.TaskStateRunning {
		return
	}
	delete(m.current, kind)
}

func (m *Manager) lookup(kind domain.TaskKind) domain.Task {
	task, ok := m.current[kind]
	if !ok {
		return domain.Task{Kind: kind, State: domain.TaskStateIdle}
	}
	return task
}

// isValidTransition enforces Idle -> Running -> {Succeeded, Failed}.
func isValidTransition(from, to domain.TaskState) bool {
	switch from {
	case domain.TaskStateIdle, domain.TaskStateSucceeded, domain.TaskStateFailed:
		return to == domain.TaskStateRunning
	case domain.TaskStateRunning:
		return to == domain.TaskStateSucceeded || to == domain.TaskStateFailed
	default:
		return false
	}
}
