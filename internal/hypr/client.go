package hypr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	commandSocket = ".socket.sock"
	eventSocket   = ".socket2.sock"
	ioTimeout     = 2 * time.Second
)

// ErrCommand matches every *CommandError via errors.Is.
var ErrCommand = errors.New("hyprland command failed")

// ErrNoInstance is returned when no Hyprland instance signature is set.
var ErrNoInstance = errors.New("HYPRLAND_INSTANCE_SIGNATURE not set; is Hyprland running?")

// CommandError reports a command the compositor rejected or that could not be
// delivered.
type CommandError struct {
	Command string
	Reply   string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hyprland %q: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("hyprland %q: %s", e.Command, e.Reply)
}

func (e *CommandError) Is(target error) bool { return target == ErrCommand }

func (e *CommandError) Unwrap() error { return e.Err }

// SocketDir returns the directory holding the sockets of the running
// instance.
func SocketDir() (string, error) {
	sig := os.Getenv("HYPRLAND_INSTANCE_SIGNATURE")
	if sig == "" {
		return "", ErrNoInstance
	}
	if runtime := os.Getenv("XDG_RUNTIME_DIR"); runtime != "" {
		dir := filepath.Join(runtime, "hypr", sig)
		if _, err := os.Stat(filepath.Join(dir, commandSocket)); err == nil {
			return dir, nil
		}
	}
	return filepath.Join("/tmp", "hypr", sig), nil
}

// Window is one entry of the clients query.
type Window struct {
	Address   string       `json:"address"`
	At        [2]int       `json:"at"`
	Size      [2]int       `json:"size"`
	Workspace WorkspaceRef `json:"workspace"`
	Floating  bool         `json:"floating"`
	Mapped    bool         `json:"mapped"`
	Class     string       `json:"class"`
	Title     string       `json:"title"`
}

// WorkspaceRef identifies a workspace.
type WorkspaceRef struct {
	ID   int32  `json:"id"`
	Name string `json:"name"`
}

// Client issues requests on the command socket. Hyprland closes the
// connection after each reply, so every request dials.
type Client struct {
	dir    string
	dialer net.Dialer
}

// NewClient returns a client for the instance whose sockets live in dir.
func NewClient(dir string) *Client {
	return &Client{dir: dir}
}

// Dir returns the socket directory.
func (c *Client) Dir() string {
	return c.dir
}

func (c *Client) request(ctx context.Context, req string) ([]byte, error) {
	conn, err := c.dialer.DialContext(ctx, "unix", filepath.Join(c.dir, commandSocket))
	if err != nil {
		return nil, fmt.Errorf("dial command socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(ioTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := io.WriteString(conn, req); err != nil {
		return nil, fmt.Errorf("write %q: %w", req, err)
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read reply to %q: %w", req, err)
	}
	return reply, nil
}

// Dispatch runs "dispatch <args>" and expects an "ok" reply.
func (c *Client) Dispatch(ctx context.Context, args string) error {
	cmd := "dispatch " + args
	reply, err := c.request(ctx, cmd)
	if err != nil {
		return &CommandError{Command: cmd, Err: err}
	}
	if r := strings.TrimSpace(string(reply)); r != "ok" {
		return &CommandError{Command: cmd, Reply: r}
	}
	return nil
}

func (c *Client) MoveToWorkspace(ctx context.Context, address string, workspace int32) error {
	return c.Dispatch(ctx, fmt.Sprintf("movetoworkspace %d,address:%s", workspace, address))
}

func (c *Client) ToggleFloating(ctx context.Context, address string) error {
	return c.Dispatch(ctx, "togglefloating address:"+address)
}

func (c *Client) MoveWindowPixel(ctx context.Context, address string, x, y int16) error {
	return c.Dispatch(ctx, fmt.Sprintf("movewindowpixel exact %d %d,address:%s", x, y, address))
}

func (c *Client) ResizeWindowPixel(ctx context.Context, address string, w, h int16) error {
	return c.Dispatch(ctx, fmt.Sprintf("resizewindowpixel exact %d %d,address:%s", w, h, address))
}

// SwitchWorkspace focuses workspace.
func (c *Client) SwitchWorkspace(ctx context.Context, workspace int32) error {
	return c.Dispatch(ctx, fmt.Sprintf("workspace %d", workspace))
}

// Clients lists all windows.
func (c *Client) Clients(ctx context.Context) ([]Window, error) {
	var out []Window
	if err := c.query(ctx, "j/clients", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveWorkspace returns the focused workspace.
func (c *Client) ActiveWorkspace(ctx context.Context) (WorkspaceRef, error) {
	var ws WorkspaceRef
	err := c.query(ctx, "j/activeworkspace", &ws)
	return ws, err
}

func (c *Client) query(ctx context.Context, req string, v any) error {
	reply, err := c.request(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(reply, v); err != nil {
		return fmt.Errorf("decode %s: %w", req, err)
	}
	return nil
}
