package affinity

import (
	"strings"
	"time"
)

// Placement is one observed (workspace, time) pair for a program.
type Placement struct {
	Workspace int32 `json:"workspace" yaml:"workspace"`
	Timestamp int64 `json:"timestamp" yaml:"timestamp"` // unix seconds
}

// Geometry is the last known position and size of a floating window.
type Geometry struct {
	X int16 `json:"x" yaml:"x"`
	Y int16 `json:"y" yaml:"y"`
	W int16 `json:"w" yaml:"w"`
	H int16 `json:"h" yaml:"h"`
}

// Record is the affinity state of one application class.
type Record struct {
	Class      string      `json:"class" yaml:"class"`
	Placements []Placement `json:"placements" yaml:"placements"`
	Floating   *Geometry   `json:"floating,omitempty" yaml:"floating,omitempty"`

	// SuppressWorkspaceMove is set right before the daemon dispatches a
	// workspace move and consumed by the echoed move event.
	SuppressWorkspaceMove bool `json:"-" yaml:"-"`
	// SuppressFloatMove guards the daemon's own toggle/move/resize sequence.
	SuppressFloatMove bool `json:"-" yaml:"-"`
}

// Clone returns a deep copy so callers never share the store's slices.
func (r Record) Clone() Record {
	out := r
	if r.Placements != nil {
		out.Placements = make([]Placement, len(r.Placements))
		copy(out.Placements, r.Placements)
	}
	if r.Floating != nil {
		g := *r.Floating
		out.Floating = &g
	}
	return out
}

// WindowHandle ties a live window back to its program. It is never persisted.
type WindowHandle struct {
	Address  string    `json:"address"`
	Class    string    `json:"class"`
	OpenedAt time.Time `json:"opened_at"`
	Origin   int32     `json:"origin"`
}

// Trackable reports whether class can be stored and round-tripped through the
// line format.
func Trackable(class string) bool {
	return class != "" && !strings.ContainsAny(class, ":\r\n")
}

// RegularWorkspace reports whether id names a normal numbered workspace.
// Special workspaces have negative ids and cannot be targeted by number.
func RegularWorkspace(id int32) bool {
	return id > 0
}
