package filter

import (
	"fmt"
	"strings"
)

// Mode selects how a program list is interpreted.
type Mode int

const (
	// Exclude applies to every class not in the list. It is the zero value,
	// so an empty Policy applies to everything.
	Exclude Mode = iota
	// Include applies only to classes in the list.
	Include
)

func (m Mode) String() string {
	if m == Include {
		return "include"
	}
	return "exclude"
}

// MarshalText implements encoding.TextMarshaler for TOML/JSON output.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so config files can say
// mode = "include" or mode = "exclude".
func (m *Mode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "include":
		*m = Include
	case "exclude", "":
		*m = Exclude
	default:
		return fmt.Errorf("unknown filter mode %q (expected include or exclude)", text)
	}
	return nil
}

// Applies reports whether class participates under list and mode.
func Applies(class string, list []string, mode Mode) bool {
	in := false
	for _, p := range list {
		if p == class {
			in = true
			break
		}
	}
	if mode == Include {
		return in
	}
	return !in
}

// Policy is a set-backed include/exclude filter. The zero value applies to
// every class.
type Policy struct {
	mode     Mode
	programs map[string]struct{}
}

// New builds a Policy from a mode and a program list.
func New(mode Mode, programs []string) Policy {
	set := make(map[string]struct{}, len(programs))
	for _, p := range programs {
		set[p] = struct{}{}
	}
	return Policy{mode: mode, programs: set}
}

// Applies reports whether class participates.
func (p Policy) Applies(class string) bool {
	_, in := p.programs[class]
	if p.mode == Include {
		return in
	}
	return !in
}

// Mode returns the policy's mode.
func (p Policy) Mode() Mode {
	return p.mode
}

// Len returns the number of listed programs.
func (p Policy) Len() int {
	return len(p.programs)
}
