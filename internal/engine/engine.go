package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/lazypower/nest/internal/affinity"
	"github.com/lazypower/nest/internal/filter"
	"github.com/lazypower/nest/internal/hypr"
	"github.com/lazypower/nest/internal/metrics"
)

// Compositor is everything the engine needs from Hyprland.
type Compositor interface {
	affinity.Dispatcher
	SwitchWorkspace(ctx context.Context, workspace int32) error
	Clients(ctx context.Context) ([]hypr.Window, error)
	ActiveWorkspace(ctx context.Context) (hypr.WorkspaceRef, error)
}

// Saver persists a full snapshot of program records.
type Saver interface {
	Save(ctx context.Context, records []affinity.Record) error
}

// Options configures an Engine.
type Options struct {
	Tau            float64
	RestoreTimeout time.Duration
	RestoreFilter  filter.Policy
	PollInterval   time.Duration
	SaveInterval   time.Duration
	Logger         logr.Logger
	Metrics        metrics.Recorder
	Now            func() time.Time
}

// Engine reacts to compositor events, polls floating geometry, and flushes
// the store to its backend.
type Engine struct {
	Store *affinity.Store

	hypr    Compositor
	backend Saver
	opts    Options
	log     logr.Logger
	metrics metrics.Recorder
	now     func() time.Time

	pollMu   sync.Mutex
	observed map[string]observation

	flushMu  sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Engine.
func New(store *affinity.Store, compositor Compositor, backend Saver, opts Options) *Engine {
	e := &Engine{
		Store:    store,
		hypr:     compositor,
		backend:  backend,
		opts:     opts,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
		observed: make(map[string]observation),
		stopCh:   make(chan struct{}),
	}
	if e.metrics == nil {
		e.metrics = metrics.Nop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Init seeds the current workspace from the compositor.
func (e *Engine) Init(ctx context.Context) error {
	ws, err := e.hypr.ActiveWorkspace(ctx)
	if err != nil {
		return fmt.Errorf("query active workspace: %w", err)
	}
	e.Store.SetCurrentWorkspace(ws.ID)
	e.log.V(1).Info("active workspace", "workspace", ws.ID)
	return nil
}

// Run handles events in order until ctx is cancelled or the stream ends.
func (e *Engine) Run(ctx context.Context, events <-chan hypr.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return errors.New("event stream closed")
			}
			e.Handle(ctx, ev)
		}
	}
}

// Handle applies a single event. Failures are logged, never returned.
func (e *Engine) Handle(ctx context.Context, ev hypr.Event) {
	switch ev := ev.(type) {
	case hypr.WindowOpened:
		e.windowOpened(ctx, ev)
	case hypr.WindowClosed:
		e.windowClosed(ctx, ev)
	case hypr.WindowMoved:
		if err := e.Store.RecordExternalMove(ev.Address, ev.Workspace); err != nil {
			e.logErr(err, "record move", "address", ev.Address, "workspace", ev.Workspace)
		}
	case hypr.WorkspaceChanged:
		e.Store.SetCurrentWorkspace(ev.Workspace)
	}
}

func (e *Engine) windowOpened(ctx context.Context, ev hypr.WindowOpened) {
	if !e.Store.RegisterWindow(ev.Class, ev.Address) {
		e.log.V(1).Info("ignoring window", "address", ev.Address, "class", ev.Class)
		return
	}
	rec, ok := e.Store.Record(ev.Class)
	if !ok {
		e.logErr(affinity.ErrUnknownClass, "lookup program", "class", ev.Class)
		return
	}

	if ws, ok := SelectWorkspaceAt(rec.Placements, e.opts.Tau, e.now()); ok && ws != ev.WorkspaceID() {
		if _, err := e.Store.RequestMove(ctx, ev.Address, ws); err != nil {
			e.logErr(err, "move window", "address", ev.Address, "workspace", ws)
		}
	}

	if rec.Floating != nil {
		if _, err := e.Store.RequestFloatMove(ctx, ev.Address, *rec.Floating); err != nil {
			e.logErr(err, "restore floating window", "address", ev.Address)
		}
	}
}

func (e *Engine) windowClosed(ctx context.Context, ev hypr.WindowClosed) {
	h, ok := e.Store.UnregisterWindow(ev.Address)
	if !ok {
		return
	}
	e.forget(ev.Address)

	if !ShouldReturnToOrigin(h, e.now(), e.opts.RestoreTimeout, e.opts.RestoreFilter) {
		return
	}
	if e.Store.CurrentWorkspace() == h.Origin {
		return
	}
	err := e.hypr.SwitchWorkspace(ctx, h.Origin)
	e.metrics.Dispatch("workspace", err == nil)
	if err != nil {
		e.log.Info("return to origin not completed", "class", h.Class, "workspace", h.Origin, "err", err.Error())
		return
	}
	e.log.Info("returned to origin workspace", "class", h.Class, "workspace", h.Origin)
}

// StartTimers runs the floating poll and the persistence flush until Stop.
func (e *Engine) StartTimers(ctx context.Context) {
	e.every(e.opts.PollInterval, func() {
		if err := e.PollFloating(ctx); err != nil {
			e.log.V(1).Info("floating poll failed", "err", err.Error())
		}
	})
	e.every(e.opts.SaveInterval, func() {
		if err := e.Flush(ctx); err != nil {
			e.log.Error(err, "flush failed, will retry")
		}
	})
}

func (e *Engine) every(interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				fn()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines and waits for them.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) logErr(err error, msg string, kv ...any) {
	if errors.Is(err, affinity.ErrUnknownAddress) {
		e.log.V(1).Info(msg, append(kv, "err", err.Error())...)
		return
	}
	e.log.Error(err, msg, kv...)
}
