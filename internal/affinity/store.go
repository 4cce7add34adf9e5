package affinity

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/lazypower/nest/internal/filter"
	"github.com/lazypower/nest/internal/metrics"
)

// Dispatcher is the part of the compositor the store drives directly.
type Dispatcher interface {
	MoveToWorkspace(ctx context.Context, address string, workspace int32) error
	ToggleFloating(ctx context.Context, address string) error
	MoveWindowPixel(ctx context.Context, address string, x, y int16) error
	ResizeWindowPixel(ctx context.Context, address string, w, h int16) error
}

// DefaultBufferSize is the history length used when Options.BufferSize is unset.
const DefaultBufferSize = 30

var errNoDispatcher = errors.New("no compositor dispatcher configured")

// Options configures a Store.
type Options struct {
	BufferSize      int
	Ignore          []string
	WorkspaceFilter filter.Policy
	FloatingFilter  filter.Policy
	Dispatcher      Dispatcher
	Logger          logr.Logger
	Metrics         metrics.Recorder
	Now             func() time.Time // defaults to time.Now
}

// Generation identifies the mutation count a snapshot was taken at.
type Generation uint64

// Store owns the program records and the live window handles.
//
// Lock order: handlesMu before recordsMu, always. Neither lock is held while
// a compositor command is in flight.
type Store struct {
	handlesMu sync.Mutex
	handles   map[string]WindowHandle

	recordsMu sync.Mutex
	records   map[string]*Record

	current atomic.Int32
	changes atomic.Uint64
	flushed atomic.Uint64

	bufferSize      int
	ignore          map[string]struct{}
	workspaceFilter filter.Policy
	floatingFilter  filter.Policy
	dispatcher      Dispatcher
	log             logr.Logger
	metrics         metrics.Recorder
	now             func() time.Time
}

// New creates a Store seeded with previously persisted records. Histories
// longer than the buffer are trimmed, which marks the store dirty.
func New(opts Options, records []Record) *Store {
	s := &Store{
		handles:         make(map[string]WindowHandle),
		records:         make(map[string]*Record, len(records)),
		bufferSize:      opts.BufferSize,
		ignore:          make(map[string]struct{}, len(opts.Ignore)),
		workspaceFilter: opts.WorkspaceFilter,
		floatingFilter:  opts.FloatingFilter,
		dispatcher:      opts.Dispatcher,
		log:             opts.Logger,
		metrics:         opts.Metrics,
		now:             opts.Now,
	}
	if s.bufferSize < 1 {
		s.bufferSize = DefaultBufferSize
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	for _, class := range opts.Ignore {
		s.ignore[class] = struct{}{}
	}
	// Hyprland starts on workspace 1.
	s.current.Store(1)

	for _, r := range records {
		rec := r.Clone()
		rec.SuppressWorkspaceMove = false
		rec.SuppressFloatMove = false
		if dropSpecial(&rec) {
			s.markDirty()
		}
		if s.trim(&rec) {
			s.markDirty()
		}
		s.records[rec.Class] = &rec
	}
	return s
}

// BufferSize returns the per-program history bound.
func (s *Store) BufferSize() int {
	return s.bufferSize
}

// RegisterWindow starts tracking a newly opened window. It returns false for
// ignored or untrackable classes and does nothing in that case.
func (s *Store) RegisterWindow(class, address string) bool {
	if !Trackable(class) {
		return false
	}
	if _, ignored := s.ignore[class]; ignored {
		return false
	}

	now := s.now()
	workspace := s.CurrentWorkspace()

	s.recordsMu.Lock()
	if _, ok := s.records[class]; !ok {
		s.records[class] = &Record{
			Class:      class,
			Placements: []Placement{{Workspace: workspace, Timestamp: now.Unix()}},
		}
		s.markDirty()
		s.log.Info("new program", "class", class, "workspace", workspace)
	}
	s.recordsMu.Unlock()

	s.handlesMu.Lock()
	s.handles[address] = WindowHandle{
		Address:  address,
		Class:    class,
		OpenedAt: now,
		Origin:   workspace,
	}
	s.handlesMu.Unlock()

	s.log.V(1).Info("window added", "address", address, "class", class)
	return true
}

// UnregisterWindow forgets a window. The program record is never removed.
func (s *Store) UnregisterWindow(address string) (WindowHandle, bool) {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()

	h, ok := s.handles[address]
	if ok {
		delete(s.handles, address)
		s.log.V(1).Info("window removed", "address", address, "class", h.Class)
	}
	return h, ok
}

// RecordExternalMove appends a placement for a move the user made. A move
// the daemon caused itself consumes the suppression flag instead.
func (s *Store) RecordExternalMove(address string, workspace int32) error {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()

	h, ok := s.handles[address]
	if !ok {
		return ErrUnknownAddress
	}

	s.recordsMu.Lock()
	defer s.recordsMu.Unlock()

	rec, ok := s.records[h.Class]
	if !ok {
		return ErrUnknownClass
	}

	if rec.SuppressWorkspaceMove {
		rec.SuppressWorkspaceMove = false
		s.metrics.EchoSuppressed("workspace")
		s.log.V(1).Info("internal move, ignoring", "address", address, "class", h.Class)
		return nil
	}
	if !RegularWorkspace(workspace) {
		s.log.V(1).Info("special workspace, not recorded", "address", address, "class", h.Class, "workspace", workspace)
		return nil
	}

	rec.Placements = append(rec.Placements, Placement{Workspace: workspace, Timestamp: s.now().Unix()})
	s.trim(rec)
	s.markDirty()
	s.metrics.PlacementRecorded()
	s.log.Info("program moved", "class", h.Class, "workspace", workspace)
	return nil
}

// RequestMove moves a window to target on the daemon's behalf. It returns
// false without error when target is a special workspace, the workspace
// filter excludes the class, or the compositor rejects the command.
func (s *Store) RequestMove(ctx context.Context, address string, target int32) (bool, error) {
	if !RegularWorkspace(target) {
		return false, nil
	}
	class, ok, err := s.arm(address, s.workspaceFilter, func(r *Record) { r.SuppressWorkspaceMove = true })
	if err != nil || !ok {
		return false, err
	}

	err = s.dispatch("movetoworkspace", func() error {
		return s.dispatcher.MoveToWorkspace(ctx, address, target)
	})
	if err != nil {
		// The window may already be where we wanted it.
		s.disarm(class, func(r *Record) { r.SuppressWorkspaceMove = false })
		s.log.Info("move not completed", "address", address, "class", class, "workspace", target, "err", err.Error())
		return false, nil
	}

	s.log.Info("moved window", "address", address, "class", class, "workspace", target)
	return true, nil
}

// RequestFloatMove floats a window and restores its stored position and size
// with three sequential commands. The first failure aborts the rest.
func (s *Store) RequestFloatMove(ctx context.Context, address string, g Geometry) (bool, error) {
	class, ok, err := s.arm(address, s.floatingFilter, func(r *Record) { r.SuppressFloatMove = true })
	if err != nil || !ok {
		return false, err
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"togglefloating", func() error { return s.dispatcher.ToggleFloating(ctx, address) }},
		{"movewindowpixel", func() error { return s.dispatcher.MoveWindowPixel(ctx, address, g.X, g.Y) }},
		{"resizewindowpixel", func() error { return s.dispatcher.ResizeWindowPixel(ctx, address, g.W, g.H) }},
	}
	for _, step := range steps {
		if err := s.dispatch(step.name, step.run); err != nil {
			s.disarm(class, func(r *Record) { r.SuppressFloatMove = false })
			s.log.Info("floating restore not completed", "address", address, "class", class, "step", step.name, "err", err.Error())
			return false, nil
		}
	}

	s.log.Info("restored floating window", "address", address, "class", class,
		"x", g.X, "y", g.Y, "w", g.W, "h", g.H)
	return true, nil
}

// SetFloatingGeometry stores g for class. Identical geometry is a no-op and
// does not mark the store dirty.
func (s *Store) SetFloatingGeometry(class string, g Geometry) error {
	s.recordsMu.Lock()
	defer s.recordsMu.Unlock()

	rec, ok := s.records[class]
	if !ok {
		return ErrUnknownClass
	}
	if rec.Floating != nil && *rec.Floating == g {
		return nil
	}
	rec.Floating = &g
	s.markDirty()
	s.log.V(1).Info("floating geometry updated", "class", class, "x", g.X, "y", g.Y, "w", g.W, "h", g.H)
	return nil
}

// ClearFloatingGeometry forgets the floating geometry of class.
func (s *Store) ClearFloatingGeometry(class string) error {
	s.recordsMu.Lock()
	defer s.recordsMu.Unlock()

	rec, ok := s.records[class]
	if !ok {
		return ErrUnknownClass
	}
	if rec.Floating == nil {
		return nil
	}
	rec.Floating = nil
	s.markDirty()
	s.log.V(1).Info("floating geometry cleared", "class", class)
	return nil
}

// ConsumeFloatSuppression clears the floating suppression flag of class and
// reports whether it was set.
func (s *Store) ConsumeFloatSuppression(class string) bool {
	s.recordsMu.Lock()
	defer s.recordsMu.Unlock()

	rec, ok := s.records[class]
	if !ok || !rec.SuppressFloatMove {
		return false
	}
	rec.SuppressFloatMove = false
	s.metrics.EchoSuppressed("floating")
	return true
}

// Record returns a copy of the record for class.
func (s *Store) Record(class string) (Record, bool) {
	s.recordsMu.Lock()
	defer s.recordsMu.Unlock()

	rec, ok := s.records[class]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns copies of all records sorted by class.
func (s *Store) Snapshot() []Record {
	records, _ := s.SnapshotForFlush()
	return records
}

// SnapshotMap returns copies of all records keyed by class.
func (s *Store) SnapshotMap() map[string]Record {
	s.recordsMu.Lock()
	defer s.recordsMu.Unlock()

	out := make(map[string]Record, len(s.records))
	for class, rec := range s.records {
		out[class] = rec.Clone()
	}
	return out
}

// SnapshotForFlush returns a sorted snapshot and the generation it reflects.
// Pass the generation to ClearDirty after the snapshot has been written.
func (s *Store) SnapshotForFlush() ([]Record, Generation) {
	s.recordsMu.Lock()
	gen := Generation(s.changes.Load())
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	s.recordsMu.Unlock()

	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.Class, b.Class) })
	return out, gen
}

// Handle returns the live handle for address.
func (s *Store) Handle(address string) (WindowHandle, bool) {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()
	h, ok := s.handles[address]
	return h, ok
}

// Handles returns all live handles sorted by address.
func (s *Store) Handles() []WindowHandle {
	s.handlesMu.Lock()
	out := make([]WindowHandle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	s.handlesMu.Unlock()

	slices.SortFunc(out, func(a, b WindowHandle) int { return strings.Compare(a.Address, b.Address) })
	return out
}

// Counts returns the number of programs and live windows.
func (s *Store) Counts() (programs, windows int) {
	s.handlesMu.Lock()
	windows = len(s.handles)
	s.handlesMu.Unlock()

	s.recordsMu.Lock()
	programs = len(s.records)
	s.recordsMu.Unlock()
	return programs, windows
}

// SetCurrentWorkspace records the active workspace.
func (s *Store) SetCurrentWorkspace(id int32) {
	if !RegularWorkspace(id) {
		return
	}
	s.current.Store(id)
}

// CurrentWorkspace returns the active workspace.
func (s *Store) CurrentWorkspace() int32 {
	return s.current.Load()
}

// Dirty reports whether there are changes not yet written.
func (s *Store) Dirty() bool {
	return s.changes.Load() != s.flushed.Load()
}

// ClearDirty marks everything up to gen as persisted. Changes made after the
// snapshot keep the store dirty.
func (s *Store) ClearDirty(gen Generation) {
	for {
		cur := s.flushed.Load()
		if uint64(gen) <= cur {
			return
		}
		if s.flushed.CompareAndSwap(cur, uint64(gen)) {
			return
		}
	}
}

// markDirty must be called with recordsMu held so snapshots see a
// consistent generation.
func (s *Store) markDirty() {
	s.changes.Add(1)
}

func (s *Store) trim(rec *Record) bool {
	over := len(rec.Placements) - s.bufferSize
	if over <= 0 {
		return false
	}
	rec.Placements = slices.Delete(rec.Placements, 0, over)
	return true
}

func dropSpecial(rec *Record) bool {
	n := len(rec.Placements)
	rec.Placements = slices.DeleteFunc(rec.Placements, func(p Placement) bool {
		return !RegularWorkspace(p.Workspace)
	})
	return len(rec.Placements) != n
}

// arm looks up the record behind address and, if policy admits its class,
// applies set while holding both locks.
func (s *Store) arm(address string, policy filter.Policy, set func(*Record)) (string, bool, error) {
	if s.dispatcher == nil {
		return "", false, errNoDispatcher
	}

	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()

	h, ok := s.handles[address]
	if !ok {
		return "", false, ErrUnknownAddress
	}
	if !policy.Applies(h.Class) {
		return h.Class, false, nil
	}

	s.recordsMu.Lock()
	defer s.recordsMu.Unlock()

	rec, ok := s.records[h.Class]
	if !ok {
		return h.Class, false, ErrUnknownClass
	}
	set(rec)
	return h.Class, true, nil
}

func (s *Store) disarm(class string, clear func(*Record)) {
	s.recordsMu.Lock()
	defer s.recordsMu.Unlock()
	if rec, ok := s.records[class]; ok {
		clear(rec)
	}
}

func (s *Store) dispatch(command string, run func() error) error {
	err := run()
	s.metrics.Dispatch(command, err == nil)
	return err
}
