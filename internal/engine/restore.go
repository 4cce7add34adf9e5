package engine

import (
	"time"

	"github.com/lazypower/nest/internal/affinity"
	"github.com/lazypower/nest/internal/filter"
)

// ShouldReturnToOrigin reports whether closing h should send focus back to the
// workspace the window opened on: the window lived at most timeout (whole
// seconds) and policy applies to its class.
func ShouldReturnToOrigin(h affinity.WindowHandle, now time.Time, timeout time.Duration, policy filter.Policy) bool {
	elapsed := now.Sub(h.OpenedAt).Truncate(time.Second)
	return elapsed <= timeout && policy.Applies(h.Class)
}
