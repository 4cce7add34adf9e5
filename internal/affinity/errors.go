package affinity

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAddress is returned when an address has no live handle. This is
	// usually a close racing a late event and is not worth more than a debug line.
	ErrUnknownAddress = errors.New("address not mapped to a window")

	// ErrUnknownClass is returned when a class has no record. Every live handle
	// must have a backing record, so this indicates a bug.
	ErrUnknownClass = errors.New("class not mapped to a program")
)

// FormatError reports a persisted line that does not parse.
type FormatError struct {
	Line   int // 1-based, 0 when decoding a single line
	Text   string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid record on line %d: %s: %q", e.Line, e.Reason, e.Text)
	}
	return fmt.Sprintf("invalid record: %s: %q", e.Reason, e.Text)
}
