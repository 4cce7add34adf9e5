package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/nest/internal/affinity"
	"github.com/lazypower/nest/internal/filter"
	"github.com/lazypower/nest/internal/hypr"
)

type fakeCompositor struct {
	mu       sync.Mutex
	calls    []string
	clients  []hypr.Window
	active   int32
	failing  map[string]bool
	queryErr error
}

func newFakeCompositor() *fakeCompositor {
	return &fakeCompositor{active: 1, failing: map[string]bool{}}
}

func (f *fakeCompositor) call(kind, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	if f.failing[kind] {
		return &hypr.CommandError{Command: cmd, Reply: "nope"}
	}
	return nil
}

func (f *fakeCompositor) MoveToWorkspace(_ context.Context, addr string, ws int32) error {
	return f.call("movetoworkspace", fmt.Sprintf("movetoworkspace %d,address:%s", ws, addr))
}

func (f *fakeCompositor) ToggleFloating(_ context.Context, addr string) error {
	return f.call("togglefloating", "togglefloating address:"+addr)
}

func (f *fakeCompositor) MoveWindowPixel(_ context.Context, addr string, x, y int16) error {
	return f.call("movewindowpixel", fmt.Sprintf("movewindowpixel exact %d %d,address:%s", x, y, addr))
}

func (f *fakeCompositor) ResizeWindowPixel(_ context.Context, addr string, w, h int16) error {
	return f.call("resizewindowpixel", fmt.Sprintf("resizewindowpixel exact %d %d,address:%s", w, h, addr))
}

func (f *fakeCompositor) SwitchWorkspace(_ context.Context, ws int32) error {
	return f.call("workspace", fmt.Sprintf("workspace %d", ws))
}

func (f *fakeCompositor) Clients(context.Context) ([]hypr.Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return append([]hypr.Window(nil), f.clients...), nil
}

func (f *fakeCompositor) ActiveWorkspace(context.Context) (hypr.WorkspaceRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return hypr.WorkspaceRef{}, f.queryErr
	}
	return hypr.WorkspaceRef{ID: f.active, Name: fmt.Sprint(f.active)}, nil
}

func (f *fakeCompositor) setClients(ws ...hypr.Window) {
	f.mu.Lock()
	f.clients = ws
	f.mu.Unlock()
}

func (f *fakeCompositor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCompositor) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

type memSaver struct {
	mu    sync.Mutex
	saves [][]affinity.Record
	err   error
}

func (m *memSaver) Save(_ context.Context, records []affinity.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves = append(m.saves, records)
	return nil
}

func (m *memSaver) last() []affinity.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saves) == 0 {
		return nil
	}
	return m.saves[len(m.saves)-1]
}

type harness struct {
	eng   *Engine
	store *affinity.Store
	hypr  *fakeCompositor
	saver *memSaver
	clock time.Time
}

func newHarness(t *testing.T, opts Options, records ...affinity.Record) *harness {
	t.Helper()
	h := &harness{
		hypr:  newFakeCompositor(),
		saver: &memSaver{},
		clock: time.Unix(1_700_000_000, 0),
	}
	now := func() time.Time { return h.clock }
	h.store = affinity.New(affinity.Options{
		Dispatcher: h.hypr,
		Logger:     logr.Discard(),
		Now:        now,
	}, records)

	if opts.Tau == 0 {
		opts.Tau = 3600
	}
	opts.Logger = logr.Discard()
	opts.Now = now
	h.eng = New(h.store, h.hypr, h.saver, opts)
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func TestInitSeedsWorkspace(t *testing.T) {
	h := newHarness(t, Options{})
	h.hypr.active = 6
	require.NoError(t, h.eng.Init(context.Background()))
	require.Equal(t, int32(6), h.store.CurrentWorkspace())

	h.hypr.queryErr = errors.New("down")
	require.Error(t, h.eng.Init(context.Background()))
}

func TestOpenNewProgramDoesNotMove(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.eng.Handle(ctx, hypr.WorkspaceChanged{Workspace: 2})
	h.eng.Handle(ctx, hypr.WindowOpened{Address: "0xa", Workspace: "2", Class: "kitty"})

	require.Empty(t, h.hypr.Calls())
	rec, ok := h.store.Record("kitty")
	require.True(t, ok)
	require.Equal(t, int32(2), rec.Placements[0].Workspace)
}

func TestOpenKnownProgramMovesToPredictedWorkspace(t *testing.T) {
	h := newHarness(t, Options{}, affinity.Record{
		Class:      "firefox",
		Placements: []affinity.Placement{{Workspace: 3, Timestamp: 1_700_000_000}},
	})
	ctx := context.Background()

	h.eng.Handle(ctx, hypr.WindowOpened{Address: "0xa", Workspace: "1", Class: "firefox"})
	require.Equal(t, []string{"movetoworkspace 3,address:0xa"}, h.hypr.Calls())

	// The compositor echoes our move; history must not grow.
	h.eng.Handle(ctx, hypr.WindowMoved{Address: "0xa", Workspace: 3})
	rec, _ := h.store.Record("firefox")
	require.Len(t, rec.Placements, 1)

	// A real move by the user is recorded.
	h.advance(time.Minute)
	h.eng.Handle(ctx, hypr.WindowMoved{Address: "0xa", Workspace: 4})
	rec, _ = h.store.Record("firefox")
	require.Len(t, rec.Placements, 2)
	require.Equal(t, int32(4), rec.Placements[1].Workspace)
}

func TestOpenOnPredictedWorkspaceSkipsMove(t *testing.T) {
	h := newHarness(t, Options{}, affinity.Record{
		Class:      "firefox",
		Placements: []affinity.Placement{{Workspace: 3, Timestamp: 1_700_000_000}},
	})
	ctx := context.Background()

	h.eng.Handle(ctx, hypr.WindowOpened{Address: "0xa", Workspace: "3", Class: "firefox"})
	require.Empty(t, h.hypr.Calls())

	// No flag was armed, so the next move counts.
	h.eng.Handle(ctx, hypr.WindowMoved{Address: "0xa", Workspace: 5})
	rec, _ := h.store.Record("firefox")
	require.Len(t, rec.Placements, 2)
}

func TestOpenRestoresFloatingGeometry(t *testing.T) {
	h := newHarness(t, Options{}, affinity.Record{
		Class:    "pavucontrol",
		Floating: &affinity.Geometry{X: 10, Y: 20, W: 800, H: 600},
	})

	h.eng.Handle(context.Background(), hypr.WindowOpened{Address: "0xa", Workspace: "1", Class: "pavucontrol"})

	require.Equal(t, []string{
		"togglefloating address:0xa",
		"movewindowpixel exact 10 20,address:0xa",
		"resizewindowpixel exact 800 600,address:0xa",
	}, h.hypr.Calls())
}

func TestFailedMoveIsNotSuppressed(t *testing.T) {
	h := newHarness(t, Options{}, affinity.Record{
		Class:      "firefox",
		Placements: []affinity.Placement{{Workspace: 3, Timestamp: 1_700_000_000}},
	})
	h.hypr.failing["movetoworkspace"] = true
	ctx := context.Background()

	h.eng.Handle(ctx, hypr.WindowOpened{Address: "0xa", Workspace: "1", Class: "firefox"})
	h.eng.Handle(ctx, hypr.WindowMoved{Address: "0xa", Workspace: 3})

	rec, _ := h.store.Record("firefox")
	require.Len(t, rec.Placements, 2)
}

func TestSpecialWorkspaceNeverBecomesTarget(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.eng.Handle(ctx, hypr.WindowOpened{Address: "0xa", Workspace: "2", Class: "firefox"})
	h.eng.Handle(ctx, hypr.WindowMoved{Address: "0xa", Workspace: -98, WorkspaceName: "special:magic"})
	h.eng.Handle(ctx, hypr.WindowMoved{Address: "0xa", Workspace: -98, WorkspaceName: "special:magic"})
	h.eng.Handle(ctx, hypr.WindowClosed{Address: "0xa"})

	rec, _ := h.store.Record("firefox")
	require.Len(t, rec.Placements, 1)

	h.eng.Handle(ctx, hypr.WindowOpened{Address: "0xb", Workspace: "2", Class: "firefox"})
	for _, c := range h.hypr.Calls() {
		require.NotContains(t, c, "-98")
	}
}

func TestIgnoredWindowIsUntouched(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.eng.Handle(ctx, hypr.WindowOpened{Address: "0xa", Workspace: "1", Class: ""})
	h.eng.Handle(ctx, hypr.WindowMoved{Address: "0xa", Workspace: 2})
	h.eng.Handle(ctx, hypr.WindowClosed{Address: "0xa"})

	require.Empty(t, h.hypr.Calls())
	require.Empty(t, h.store.Snapshot())
}

func TestQuickCloseReturnsToOrigin(t *testing.T) {
	h := newHarness(t, Options{
		RestoreTimeout: 5 * time.Second,
		RestoreFilter:  filter.New(filter.Include, []string{"firefox"}),
	}, affinity.Record{
		Class:      "firefox",
		Placements: []affinity.Placement{{Workspace: 3, Timestamp: 1_700_000_000}},
	})
	ctx := context.Background()

	h.eng.Handle(ctx, hypr.WindowOpened{Address: "0xa", Workspace: "1", Class: "firefox"})
	h.eng.Handle(ctx, hypr.WindowMoved{Address: "0xa", Workspace: 3})
	h.eng.Handle(ctx, hypr.WorkspaceChanged{Workspace: 3})
	h.hypr.reset()

	h.advance(2 * time.Second)
	h.eng.Handle(ctx, hypr.WindowClosed{Address: "0xa"})

	require.Equal(t, []string{"workspace 1"}, h.hypr.Calls())
	_, ok := h.store.Handle("0xa")
	require.False(t, ok)
}

func TestSlowCloseStays(t *testing.T) {
	h := newHarness(t, Options{
		RestoreTimeout: 5 * time.Second,
		RestoreFilter:  filter.New(filter.Exclude, nil),
	})
	ctx := context.Background()

	h.eng.Handle(ctx, hypr.WindowOpened{Address: "0xa", Workspace: "1", Class: "kitty"})
	h.eng.Handle(ctx, hypr.WorkspaceChanged{Workspace: 4})
	h.advance(time.Minute)
	h.eng.Handle(ctx, hypr.WindowClosed{Address: "0xa"})

	require.Empty(t, h.hypr.Calls())
}

func TestRestoreFilterDefaultsOff(t *testing.T) {
	h := newHarness(t, Options{
		RestoreTimeout: 5 * time.Second,
		RestoreFilter:  filter.New(filter.Include, nil),
	})
	ctx := context.Background()

	h.eng.Handle(ctx, hypr.WindowOpened{Address: "0xa", Workspace: "1", Class: "kitty"})
	h.eng.Handle(ctx, hypr.WorkspaceChanged{Workspace: 4})
	h.eng.Handle(ctx, hypr.WindowClosed{Address: "0xa"})

	require.Empty(t, h.hypr.Calls())
}

func TestCloseUnknownAddress(t *testing.T) {
	h := newHarness(t, Options{RestoreTimeout: time.Hour})
	h.eng.Handle(context.Background(), hypr.WindowClosed{Address: "0xdead"})
	require.Empty(t, h.hypr.Calls())
}

func TestRunStopsOnCancelAndClosedStream(t *testing.T) {
	h := newHarness(t, Options{})

	events := make(chan hypr.Event, 2)
	events <- hypr.WorkspaceChanged{Workspace: 9}
	close(events)

	err := h.eng.Run(context.Background(), events)
	require.EqualError(t, err, "event stream closed")
	require.Equal(t, int32(9), h.store.CurrentWorkspace())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = h.eng.Run(ctx, make(chan hypr.Event))
	require.ErrorIs(t, err, context.Canceled)
}

func TestFlush(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	require.NoError(t, h.eng.Flush(ctx))
	require.Nil(t, h.saver.last(), "clean store must not write")

	h.eng.Handle(ctx, hypr.WindowOpened{Address: "0xa", Workspace: "1", Class: "kitty"})
	require.NoError(t, h.eng.Flush(ctx))
	require.Len(t, h.saver.last(), 1)
	require.False(t, h.store.Dirty())
}

func TestFlushFailureKeepsDirty(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.saver.err = errors.New("disk full")

	h.eng.Handle(ctx, hypr.WindowOpened{Address: "0xa", Workspace: "1", Class: "kitty"})
	require.Error(t, h.eng.Flush(ctx))
	require.True(t, h.store.Dirty())

	h.saver.err = nil
	require.NoError(t, h.eng.Flush(ctx))
	require.False(t, h.store.Dirty())
}

func TestTimersFlushAndStop(t *testing.T) {
	h := newHarness(t, Options{
		PollInterval: 5 * time.Millisecond,
		SaveInterval: 5 * time.Millisecond,
	})
	ctx := context.Background()

	h.eng.Handle(ctx, hypr.WindowOpened{Address: "0xa", Workspace: "1", Class: "kitty"})
	h.eng.StartTimers(ctx)

	require.Eventually(t, func() bool { return !h.store.Dirty() }, time.Second, 5*time.Millisecond)

	h.eng.Stop()
	h.eng.Stop()
}
