package tasks

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"autocut-desktop/internal/domain"
)

// Reporter receives intermediate progress from a running operation.
// Values are clamped so a stream never goes backwards.
type Reporter func(process float64, msg string)

// Operation is one externally executed unit of work. It returns the final
// user-facing message on success.
type Operation func(ctx context.Context, report Reporter) (string, error)

// Runner starts operations as tasks and turns their reports into an ordered
// event stream that always ends with exactly one terminal event.
type Runner struct {
	manager *Manager
	timeout time.Duration
	buffer  int
	newID   func() string

	mu     sync.Mutex
	active map[domain.TaskKind]*Task
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout fails tasks that run longer than d. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithIDFunc overrides task ID generation.
func WithIDFunc(fn func() string) Option {
	return func(r *Runner) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// NewRunner builds a runner that leases kinds through manager.
func NewRunner(manager *Manager, opts ...Option) *Runner {
	if manager == nil {
		manager = NewManager()
	}
	r := &Runner{
		manager: manager,
		buffer:  64,
		newID:   uuid.NewString,
		active:  make(map[domain.TaskKind]*Task),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Manager exposes the lease table backing this runner.
func (r *Runner) Manager() *Manager {
	return r.manager
}

// Start runs op asynchronously as a task of kind. It fails fast with
// ErrTaskBusy when kind already has an active task.
//
// Callers must drain Events until it is closed.
func (r *Runner) Start(parent context.Context, kind domain.TaskKind, op Operation) (*Task, error) {
	id := r.newID()
	if err := r.manager.Start(kind, id); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(parent)
	stopTimer := context.CancelFunc(func() {})
	if r.timeout > 0 {
		ctx, stopTimer = context.WithTimeoutCause(ctx, r.timeout, domain.ErrTimeout)
	}

	t := &Task{
		id:     id,
		kind:   kind,
		events: make(chan domain.ProgressEvent, r.buffer),
		done:   make(chan struct{}),
		cancel: cancel,
		runner: r,
	}

	r.mu.Lock()
	r.active[kind] = t
	r.mu.Unlock()

	go t.run(ctx, op, stopTimer)
	return t, nil
}

// Cancel requests cancellation of the active task of kind.
func (r *Runner) Cancel(kind domain.TaskKind) error {
	r.mu.Lock()
	t := r.active[kind]
	r.mu.Unlock()

	if t == nil {
		return ErrNoRunningTask
	}
	t.Cancel()
	return nil
}

func (r *Runner) release(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[t.kind] == t {
		delete(r.active, t.kind)
	}
}

// Task is one running operation and its event stream.
type Task struct {
	id     string
	kind   domain.TaskKind
	events chan domain.ProgressEvent
	done   chan struct{}
	cancel context.CancelCauseFunc
	runner *Runner

	mu       sync.Mutex
	closed   bool
	progress float64
	err      error
}

type opResult struct {
	msg string
	err error
}

// ID returns the unique task identifier.
func (t *Task) ID() string { return t.id }

// Kind returns the task kind.
func (t *Task) Kind() domain.TaskKind { return t.kind }

// Events returns the ordered event stream. It is closed after the
// terminal event.
func (t *Task) Events() <-chan domain.ProgressEvent { return t.events }

// Done is closed once the terminal event has been queued.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the failure cause after Done is closed, nil on success.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Cancel stops the task. The stream ends with a failed event whose cause
// is domain.ErrCancelled.
func (t *Task) Cancel() {
	t.cancel(domain.ErrCancelled)
}

func (t *Task) run(ctx context.Context, op Operation, stopTimer context.CancelFunc) {
	defer stopTimer()
	defer t.cancel(nil)

	result := make(chan opResult, 1)
	go func() {
		msg, err := op(ctx, t.report)
		result <- opResult{msg: msg, err: err}
	}()

	select {
	case res := <-result:
		t.finish(ctx, res.msg, res.err)
	case <-ctx.Done():
		// The operation may still be unwinding; its late reports are dropped.
		t.finish(ctx, "", context.Cause(ctx))
	}
}

func (t *Task) report(process float64, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	t.progress = clampProgress(process, t.progress)
	t.runner.manager.Update(t.kind, t.id, t.progress, msg)
	t.events <- domain.ProgressEvent{
		Status:  true,
		Msg:     msg,
		Process: t.progress,
		State:   domain.TaskStateRunning,
	}
}

func (t *Task) finish(ctx context.Context, msg string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true

	if err != nil && ctx.Err() != nil {
		err = normalizeCause(context.Cause(ctx))
	}

	event := domain.ProgressEvent{
		Status:  true,
		Msg:     msg,
		Process: 100,
		State:   domain.TaskStateSucceeded,
	}
	if err != nil {
		event = domain.ProgressEvent{
			Status:  false,
			Msg:     err.Error(),
			Process: t.progress,
			State:   domain.TaskStateFailed,
		}
	} else {
		t.progress = 100
	}
	t.err = err

	// Release the lease before the terminal event is observable so a
	// consumer reacting to it can immediately start the next task.
	_ = t.runner.manager.Finish(t.kind, t.id, event.State, event.Msg)
	t.runner.release(t)

	t.events <- event
	close(t.events)
	close(t.done)
}

func normalizeCause(cause error) error {
	switch {
	case errors.Is(cause, domain.ErrCancelled), errors.Is(cause, domain.ErrTimeout):
		return cause
	case errors.Is(cause, context.DeadlineExceeded):
		return domain.ErrTimeout
	case errors.Is(cause, context.Canceled):
		return domain.ErrCancelled
	default:
		return cause
	}
}

// clampProgress keeps values within [last, 100].
func clampProgress(value, last float64) float64 {
	if math.IsNaN(value) || value < last {
		return last
	}
	if value > 100 {
		return 100
	}
	return value
}
