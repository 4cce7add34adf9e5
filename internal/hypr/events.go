package hypr

import (
	"fmt"
	"strconv"
	"strings"
)

// Event is one compositor notification the daemon reacts to.
type Event interface {
	isEvent()
}

// WindowOpened is emitted when a window is mapped.
type WindowOpened struct {
	Address   string
	Workspace string // workspace name as reported by the compositor
	Class     string
	Title     string
}

// WorkspaceID returns the numeric id behind Workspace, or 0 for named and
// special workspaces.
func (e WindowOpened) WorkspaceID() int32 {
	id, err := strconv.ParseInt(e.Workspace, 10, 32)
	if err != nil {
		return 0
	}
	return int32(id)
}

// WindowClosed is emitted when a window is destroyed.
type WindowClosed struct {
	Address string
}

// WindowMoved is emitted when a window changes workspace, including moves
// the daemon requested itself.
type WindowMoved struct {
	Address       string
	Workspace     int32
	WorkspaceName string
}

// WorkspaceChanged is emitted when the focused workspace changes.
type WorkspaceChanged struct {
	Workspace int32
	Name      string
}

func (WindowOpened) isEvent()     {}
func (WindowClosed) isEvent()     {}
func (WindowMoved) isEvent()      {}
func (WorkspaceChanged) isEvent() {}

// NormalizeAddress returns addr with a single "0x" prefix. The event socket
// reports bare hex while queries report prefixed addresses.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "0x") {
		return addr
	}
	return "0x" + addr
}

// ParseEvent parses one line from the event socket. Events the daemon does
// not handle return (nil, nil).
func ParseEvent(line string) (Event, error) {
	kind, data, ok := strings.Cut(strings.TrimRight(line, "\r\n"), ">>")
	if !ok {
		return nil, fmt.Errorf("malformed event %q", line)
	}

	switch kind {
	case "openwindow":
		f := strings.SplitN(data, ",", 4)
		if len(f) < 3 || f[0] == "" {
			return nil, fmt.Errorf("malformed openwindow event %q", data)
		}
		ev := WindowOpened{
			Address:   NormalizeAddress(f[0]),
			Workspace: f[1],
			Class:     f[2],
		}
		if len(f) == 4 {
			ev.Title = f[3]
		}
		return ev, nil

	case "closewindow":
		if data == "" {
			return nil, fmt.Errorf("malformed closewindow event %q", data)
		}
		return WindowClosed{Address: NormalizeAddress(data)}, nil

	case "movewindowv2":
		f := strings.SplitN(data, ",", 3)
		if len(f) < 2 || f[0] == "" {
			return nil, fmt.Errorf("malformed movewindowv2 event %q", data)
		}
		id, err := strconv.ParseInt(f[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("movewindowv2 workspace id: %w", err)
		}
		ev := WindowMoved{Address: NormalizeAddress(f[0]), Workspace: int32(id)}
		if len(f) == 3 {
			ev.WorkspaceName = f[2]
		}
		return ev, nil

	case "workspacev2":
		idText, name, _ := strings.Cut(data, ",")
		id, err := strconv.ParseInt(idText, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("workspacev2 id: %w", err)
		}
		return WorkspaceChanged{Workspace: int32(id), Name: name}, nil
	}
	return nil, nil
}
