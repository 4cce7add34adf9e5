package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/lazypower/nest/internal/affinity"
	"github.com/lazypower/nest/internal/hypr"
)

type observation struct {
	floating bool
	geometry affinity.Geometry
}

// PollFloating compares the compositor's client list with the previous poll
// and records floating geometry changes of tracked windows.
//
// The first sighting of an address only sets a baseline. A change the daemon
// caused itself is swallowed once through the program's float suppression;
// if it left the window tiled, the stored geometry is dropped.
func (e *Engine) PollFloating(ctx context.Context) error {
	windows, err := e.hypr.Clients(ctx)
	if err != nil {
		return fmt.Errorf("list clients: %w", err)
	}

	e.pollMu.Lock()
	defer e.pollMu.Unlock()

	seen := make(map[string]struct{}, len(windows))
	for _, w := range windows {
		if !w.Mapped {
			continue
		}
		addr := hypr.NormalizeAddress(w.Address)
		h, ok := e.Store.Handle(addr)
		if !ok {
			continue
		}
		seen[addr] = struct{}{}

		cur := observation{floating: w.Floating, geometry: geometryOf(w)}
		prev, had := e.observed[addr]
		e.observed[addr] = cur

		if !had {
			e.Store.ConsumeFloatSuppression(h.Class)
			continue
		}
		if cur == prev {
			continue
		}
		if e.Store.ConsumeFloatSuppression(h.Class) {
			e.log.V(1).Info("internal float change, ignoring", "address", addr, "class", h.Class)
			// Our own toggle may have left the window tiled.
			if !cur.floating {
				if err := e.Store.ClearFloatingGeometry(h.Class); err != nil {
					e.log.Error(err, "update floating geometry", "class", h.Class)
				}
			}
			continue
		}

		// Tiled windows moving around carry no floating state.
		var err error
		switch {
		case prev.floating && !cur.floating:
			err = e.Store.ClearFloatingGeometry(h.Class)
		case cur.floating:
			err = e.Store.SetFloatingGeometry(h.Class, cur.geometry)
		}
		if err != nil {
			e.log.Error(err, "update floating geometry", "class", h.Class)
		}
	}

	for addr := range e.observed {
		if _, ok := seen[addr]; !ok {
			delete(e.observed, addr)
		}
	}

	e.metrics.Tracked(e.Store.Counts())
	return nil
}

func (e *Engine) forget(address string) {
	e.pollMu.Lock()
	delete(e.observed, address)
	e.pollMu.Unlock()
}

func geometryOf(w hypr.Window) affinity.Geometry {
	return affinity.Geometry{
		X: clamp16(w.At[0]),
		Y: clamp16(w.At[1]),
		W: clamp16(w.Size[0]),
		H: clamp16(w.Size[1]),
	}
}

func clamp16(v int) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
