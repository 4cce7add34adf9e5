package filter

import "testing"

func TestApplies(t *testing.T) {
	list := []string{"firefox", "kitty"}

	tests := []struct {
		class string
		mode  Mode
		want  bool
	}{
		{"firefox", Include, true},
		{"steam", Include, false},
		{"firefox", Exclude, false},
		{"steam", Exclude, true},
	}

	for _, tt := range tests {
		if got := Applies(tt.class, list, tt.mode); got != tt.want {
			t.Errorf("Applies(%q, %v) = %v, want %v", tt.class, tt.mode, got, tt.want)
		}
		p := New(tt.mode, list)
		if got := p.Applies(tt.class); got != tt.want {
			t.Errorf("Policy(%v).Applies(%q) = %v, want %v", tt.mode, tt.class, got, tt.want)
		}
	}
}

func TestEmptyListEdges(t *testing.T) {
	if Applies("firefox", nil, Include) {
		t.Error("include with empty list should apply to nothing")
	}
	if !Applies("firefox", nil, Exclude) {
		t.Error("exclude with empty list should apply to everything")
	}

	var zero Policy
	if !zero.Applies("anything") {
		t.Error("zero Policy should apply to everything")
	}
}

func TestModeText(t *testing.T) {
	var m Mode
	if err := m.UnmarshalText([]byte("Include")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if m != Include {
		t.Errorf("mode = %v, want include", m)
	}

	if err := m.UnmarshalText([]byte("exclude")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if m != Exclude {
		t.Errorf("mode = %v, want exclude", m)
	}

	if err := m.UnmarshalText([]byte("sometimes")); err == nil {
		t.Error("expected error for unknown mode")
	}

	out, _ := Include.MarshalText()
	if string(out) != "include" {
		t.Errorf("MarshalText = %q, want include", out)
	}
}

func TestPolicyAccessors(t *testing.T) {
	p := New(Include, []string{"firefox", "kitty", "firefox"})
	if p.Mode() != Include {
		t.Errorf("Mode = %v, want include", p.Mode())
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}
	var zero Policy
	if zero.Mode() != Exclude || zero.Len() != 0 {
		t.Errorf("zero Policy = %v/%d, want exclude/0", zero.Mode(), zero.Len())
	}
}
