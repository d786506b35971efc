package queueviews

import "testing"

func TestNormalizePriority(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"urgent", "high"},
		{"HIGH", "high"},
		{"  High  ", "high"},
		{"medium", "normal"},
		{"Normal", "normal"},
		{"low", "low"},
		{"LOW", "low"},
		{"routine", "routine"},
		{"", ""},
	}

	for _, c := range cases {
		if got := NormalizePriority(c.in); got != c.want {
			t.Errorf("NormalizePriority(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
