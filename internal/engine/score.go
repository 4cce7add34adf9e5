package engine

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/lazypower/nest/internal/affinity"
)

// Workspace selection:
//   - every placement contributes exp(-age/tau), age in seconds at one
//     snapshot of "now"
//   - contributions are summed per workspace and the largest sum wins
//   - equal sums go to the workspace placed on most recently, then to the
//     lower id
//   - future timestamps count as age zero
//   - a non-positive tau weighs everything zero, which reduces to "most
//     recent placement wins"

// WorkspaceScore is the summed weight of one workspace in a history.
type WorkspaceScore struct {
	Workspace int32   `json:"workspace" yaml:"workspace"`
	Score     float64 `json:"score" yaml:"score"`
	Count     int     `json:"count" yaml:"count"`
	Latest    int64   `json:"latest" yaml:"latest"` // unix seconds of the newest placement
}

// Scores returns the per-workspace breakdown, best first.
func Scores(placements []affinity.Placement, tau float64, now time.Time) []WorkspaceScore {
	if len(placements) == 0 {
		return nil
	}

	at := now.Unix()
	byWorkspace := make(map[int32]*WorkspaceScore)
	for _, p := range placements {
		s, ok := byWorkspace[p.Workspace]
		if !ok {
			s = &WorkspaceScore{Workspace: p.Workspace, Latest: p.Timestamp}
			byWorkspace[p.Workspace] = s
		}
		s.Count++
		s.Score += weight(at-p.Timestamp, tau)
		if p.Timestamp > s.Latest {
			s.Latest = p.Timestamp
		}
	}

	out := make([]WorkspaceScore, 0, len(byWorkspace))
	for _, s := range byWorkspace {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b WorkspaceScore) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Latest, a.Latest); c != 0 {
			return c
		}
		return cmp.Compare(a.Workspace, b.Workspace)
	})
	return out
}

// SelectWorkspaceAt picks the workspace a program most likely belongs on.
// It returns false for an empty history.
func SelectWorkspaceAt(placements []affinity.Placement, tau float64, now time.Time) (int32, bool) {
	scores := Scores(placements, tau, now)
	if len(scores) == 0 {
		return 0, false
	}
	return scores[0].Workspace, true
}

// SelectWorkspace is SelectWorkspaceAt at the current time.
func SelectWorkspace(placements []affinity.Placement, tau float64) (int32, bool) {
	return SelectWorkspaceAt(placements, tau, time.Now())
}

func weight(age int64, tau float64) float64 {
	if tau <= 0 {
		return 0
	}
	if age < 0 {
		age = 0
	}
	return math.Exp(-float64(age) / tau)
}

// Prediction is a record with the workspace it would be sent to.
type Prediction struct {
	Class      string               `json:"class" yaml:"class"`
	Workspace  *int32               `json:"predicted_workspace,omitempty" yaml:"predicted_workspace,omitempty"`
	Scores     []WorkspaceScore     `json:"scores" yaml:"scores"`
	Placements []affinity.Placement `json:"placements" yaml:"placements"`
	Floating   *affinity.Geometry   `json:"floating,omitempty" yaml:"floating,omitempty"`
}

// Predict scores r at now.
func Predict(r affinity.Record, tau float64, now time.Time) Prediction {
	p := Prediction{
		Class:      r.Class,
		Scores:     Scores(r.Placements, tau, now),
		Placements: r.Placements,
		Floating:   r.Floating,
	}
	if len(p.Scores) > 0 {
		ws := p.Scores[0].Workspace
		p.Workspace = &ws
	}
	if p.Scores == nil {
		p.Scores = []WorkspaceScore{}
	}
	if p.Placements == nil {
		p.Placements = []affinity.Placement{}
	}
	return p
}
