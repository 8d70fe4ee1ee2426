package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fecsync/internal/finance/models"
	"fecsync/pkg/platform/sentinel"
)

// Run is one multi-candidate sync. Its progress is updated by the goroutine
// driving it and read from anywhere.
type Run struct {
	ID      string
	Kind    models.RunKind
	control *Control
	store   ProgressStore
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	progress models.SyncProgress
	done     chan struct{}
}

func (r *Run) Control() *Control {
	return r.control
}

// Progress returns a snapshot of the run.
func (r *Run) Progress() *models.SyncProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress.Clone()
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// update applies fn to the progress and saves the snapshot. A failed save
// is logged; the in-process copy stays authoritative.
func (r *Run) update(ctx context.Context, fn func(p *models.SyncProgress)) {
	r.mu.Lock()
	fn(&r.progress)
	snapshot := r.progress.Clone()
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	if err := r.store.Save(ctx, snapshot); err != nil {
		r.logger.WarnContext(ctx, "failed to save run progress",
			"run_id", r.ID,
			"error", err,
		)
	}
}

func (r *Run) finish(ctx context.Context, state State) {
	if r.finished() {
		return
	}
	at := r.now()
	r.update(ctx, func(p *models.SyncProgress) {
		p.State = string(state)
		p.CurrentCandidate = ""
		p.Paused = false
		p.Retrying = false
		p.Cancelled = state == StateCancelled
		p.FinishedAt = &at
	})
	close(r.done)
}

// Registry tracks the runs started by this process.
type Registry struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	store  ProgressStore
	logger *slog.Logger
	now    func() time.Time
}

type RegistryOption func(*Registry)

func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(g *Registry) {
		g.logger = logger
	}
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(g *Registry) {
		g.now = now
	}
}

// NewRegistry keeps progress in store; a nil store keeps it in memory.
func NewRegistry(store ProgressStore, opts ...RegistryOption) *Registry {
	g := &Registry{
		runs:   make(map[string]*Run),
		store:  store,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.store == nil {
		g.store = NewMemoryProgressStore()
	}
	return g
}

// Start registers a new run in the idle state.
func (g *Registry) Start(ctx context.Context, kind models.RunKind) *Run {
	run := &Run{
		ID:      uuid.NewString(),
		Kind:    kind,
		control: NewControl(),
		store:   g.store,
		logger:  g.logger,
		now:     g.now,
		done:    make(chan struct{}),
	}
	run.progress = models.SyncProgress{
		RunID:     run.ID,
		Kind:      kind,
		State:     string(StateIdle),
		Errors:    []models.RunError{},
		StartedAt: g.now(),
	}

	g.mu.Lock()
	g.runs[run.ID] = run
	g.mu.Unlock()

	run.update(ctx, func(*models.SyncProgress) {})
	g.logger.InfoContext(ctx, "sync run registered", "run_id", run.ID, "kind", kind)
	return run
}

func (g *Registry) Get(id string) (*Run, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	run, ok := g.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, sentinel.ErrNotFound)
	}
	return run, nil
}

// Pause stops the run at its next page or candidate boundary.
func (g *Registry) Pause(ctx context.Context, id string) (*models.SyncProgress, error) {
	run, err := g.active(id)
	if err != nil {
		return nil, err
	}
	if !run.control.Pause() {
		return nil, fmt.Errorf("run %s is cancelled: %w", id, sentinel.ErrInvalidState)
	}
	run.update(ctx, func(p *models.SyncProgress) {
		p.Paused = true
	})
	return run.Progress(), nil
}

func (g *Registry) Resume(ctx context.Context, id string) (*models.SyncProgress, error) {
	run, err := g.active(id)
	if err != nil {
		return nil, err
	}
	run.control.Resume()
	run.update(ctx, func(p *models.SyncProgress) {
		p.Paused = false
	})
	return run.Progress(), nil
}

func (g *Registry) Cancel(ctx context.Context, id string) (*models.SyncProgress, error) {
	run, err := g.active(id)
	if err != nil {
		return nil, err
	}
	run.control.Cancel()
	run.update(ctx, func(p *models.SyncProgress) {
		p.Cancelled = true
		p.Paused = false
	})
	return run.Progress(), nil
}

// Progress reports a run of this process, or one another instance saved.
func (g *Registry) Progress(ctx context.Context, id string) (*models.SyncProgress, error) {
	if run, err := g.Get(id); err == nil {
		return run.Progress(), nil
	}
	return g.store.Get(ctx, id)
}

func (g *Registry) active(id string) (*Run, error) {
	run, err := g.Get(id)
	if err != nil {
		return nil, err
	}
	if run.finished() {
		return nil, fmt.Errorf("run %s already finished: %w", id, sentinel.ErrInvalidState)
	}
	return run, nil
}
