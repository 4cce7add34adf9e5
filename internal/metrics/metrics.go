package metrics

import "time"

// Recorder receives daemon events worth counting. Implementations must be
// safe for concurrent use.
type Recorder interface {
	// Dispatch counts one compositor command and whether it succeeded.
	Dispatch(command string, ok bool)
	// PlacementRecorded counts a user-initiated move added to history.
	PlacementRecorded()
	// EchoSuppressed counts an event swallowed because the daemon caused it.
	// kind is "workspace" or "floating".
	EchoSuppressed(kind string)
	// Flush records one persistence attempt.
	Flush(ok bool, took time.Duration)
	// Tracked reports the current number of programs and live windows.
	Tracked(programs, windows int)
}

// Nop discards everything.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) Dispatch(string, bool) {}
func (Nop) PlacementRecorded() {}
func (Nop) EchoSuppressed(string) {}
func (Nop) Flush(bool, time.Duration) {}
func (Nop) Tracked(programs, windows int) {}
