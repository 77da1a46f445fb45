package post

import "testing"

func TestNewSlug(t *testing.T) {
	tests := []struct {
		title, suffix, want string
	}{
		{"Dark mode, please!", "a1b2", "dark-mode-please-a1b2"},
		{"  --Export CSV--  ", "", "export-csv"},
		{"???", "a1b2", "a1b2"},
		{"Ünïcode Tïtle", "x", "n-code-t-tle-x"},
	}
	for _, tt := range tests {
		if got := NewSlug(tt.title, tt.suffix); got != tt.want {
			t.Errorf("NewSlug(%q, %q) = %q, want %q", tt.title, tt.suffix, got, tt.want)
		}
	}
}

func TestNewSlugTruncates(t *testing.T) {
	long := "word word word word word word word word word word word word word word"
	got := NewSlug(long, "s")
	if len(got) > 62 {
		t.Fatalf("slug too long: %d %q", len(got), got)
	}
}

func TestPath(t *testing.T) {
	if got := Path("bugs", "crash-on-start"); got != "/b/bugs/p/crash-on-start" {
		t.Fatalf("Path = %q", got)
	}
}
