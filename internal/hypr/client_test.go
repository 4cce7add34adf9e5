package hypr

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

// fakeHyprland serves the command socket with a canned reply per request.
type fakeHyprland struct {
	dir string

	mu       sync.Mutex
	requests []string
	replies  map[string]string
}

func newFakeHyprland(t *testing.T) *fakeHyprland {
	t.Helper()
	// Unix socket paths are length limited; keep the directory short.
	dir, err := os.MkdirTemp("", "hypr")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	f := &fakeHyprland{dir: dir, replies: map[string]string{}}

	ln, err := net.Listen("unix", filepath.Join(dir, commandSocket))
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f
}

func (f *fakeHyprland) serve(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return
	}
	req := string(buf[:n])

	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply, ok := f.replies[req]
	f.mu.Unlock()

	if !ok {
		reply = "ok"
	}
	conn.Write([]byte(reply))
}

func (f *fakeHyprland) reply(req, reply string) {
	f.mu.Lock()
	f.replies[req] = reply
	f.mu.Unlock()
}

func (f *fakeHyprland) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func TestClientDispatchCommands(t *testing.T) {
	f := newFakeHyprland(t)
	c := NewClient(f.dir)
	ctx := context.Background()

	require.NoError(t, c.MoveToWorkspace(ctx, "0xabc", 4))
	require.NoError(t, c.ToggleFloating(ctx, "0xabc"))
	require.NoError(t, c.MoveWindowPixel(ctx, "0xabc", 10, -20))
	require.NoError(t, c.ResizeWindowPixel(ctx, "0xabc", 800, 600))
	require.NoError(t, c.SwitchWorkspace(ctx, 2))

	require.Equal(t, []string{
		"dispatch movetoworkspace 4,address:0xabc",
		"dispatch togglefloating address:0xabc",
		"dispatch movewindowpixel exact 10 -20,address:0xabc",
		"dispatch resizewindowpixel exact 800 600,address:0xabc",
		"dispatch workspace 2",
	}, f.Requests())
}

func TestClientDispatchRejected(t *testing.T) {
	f := newFakeHyprland(t)
	f.reply("dispatch workspace 9", "Invalid workspace")
	c := NewClient(f.dir)

	err := c.SwitchWorkspace(context.Background(), 9)
	require.ErrorIs(t, err, ErrCommand)

	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, "dispatch workspace 9", ce.Command)
	require.Equal(t, "Invalid workspace", ce.Reply)
}

func TestClientDispatchNoSocket(t *testing.T) {
	c := NewClient(t.TempDir())
	err := c.ToggleFloating(context.Background(), "0x1")
	require.ErrorIs(t, err, ErrCommand)
}

func TestClientQueries(t *testing.T) {
	f := newFakeHyprland(t)
	f.reply("j/clients", `[
		{"address":"0xabc","mapped":true,"at":[10,20],"size":[800,600],
		 "workspace":{"id":3,"name":"3"},"floating":true,"class":"pavucontrol","title":"Volume"},
		{"address":"0xdef","mapped":true,"at":[0,0],"size":[1920,1080],
		 "workspace":{"id":1,"name":"1"},"floating":false,"class":"kitty","title":"vim"}
	]`)
	f.reply("j/activeworkspace", `{"id":5,"name":"5","monitor":"DP-1","windows":2}`)
	c := NewClient(f.dir)

	windows, err := c.Clients(context.Background())
	require.NoError(t, err)
	require.Len(t, windows, 2)
	require.Equal(t, Window{
		Address:   "0xabc",
		At:        [2]int{10, 20},
		Size:      [2]int{800, 600},
		Workspace: WorkspaceRef{ID: 3, Name: "3"},
		Floating:  true,
		Mapped:    true,
		Class:     "pavucontrol",
		Title:     "Volume",
	}, windows[0])

	ws, err := c.ActiveWorkspace(context.Background())
	require.NoError(t, err)
	require.Equal(t, WorkspaceRef{ID: 5, Name: "5"}, ws)
}

func TestClientQueryBadJSON(t *testing.T) {
	f := newFakeHyprland(t)
	f.reply("j/clients", "not json")
	_, err := NewClient(f.dir).Clients(context.Background())
	require.Error(t, err)
}

func TestSocketDir(t *testing.T) {
	t.Setenv("HYPRLAND_INSTANCE_SIGNATURE", "")
	_, err := SocketDir()
	require.ErrorIs(t, err, ErrNoInstance)

	runtime := t.TempDir()
	t.Setenv("HYPRLAND_INSTANCE_SIGNATURE", "sig123")
	t.Setenv("XDG_RUNTIME_DIR", runtime)

	// Falls back to /tmp until the runtime socket exists.
	dir, err := SocketDir()
	require.NoError(t, err)
	require.Equal(t, "/tmp/hypr/sig123", dir)

	want := filepath.Join(runtime, "hypr", "sig123")
	require.NoError(t, os.MkdirAll(want, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(want, commandSocket), nil, 0o600))
	dir, err = SocketDir()
	require.NoError(t, err)
	require.Equal(t, want, dir)
}

func TestSubscribe(t *testing.T) {
	dir, err := os.MkdirTemp("", "hypr")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	ln, err := net.Listen("unix", filepath.Join(dir, eventSocket))
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("activewindow>>kitty,vim\n" +
			"openwindow>>abc,2,kitty,vim\n" +
			"garbage line\n" +
			"movewindowv2>>abc,3,3\n" +
			"workspacev2>>3,3\n" +
			"closewindow>>abc\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := Subscribe(ctx, dir, logr.Discard())
	require.NoError(t, err)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Equal(t, []Event{
		WindowOpened{Address: "0xabc", Workspace: "2", Class: "kitty", Title: "vim"},
		WindowMoved{Address: "0xabc", Workspace: 3, WorkspaceName: "3"},
		WorkspaceChanged{Workspace: 3, Name: "3"},
		WindowClosed{Address: "0xabc"},
	}, got)
}

func TestSubscribeNoSocket(t *testing.T) {
	_, err := Subscribe(context.Background(), t.TempDir(), logr.Discard())
	require.Error(t, err)
}
