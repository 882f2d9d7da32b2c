package cmd

import (
	"testing"

	"github.com/laboras/laboras/internal/config"
)

func TestFormatElapsed(t *testing.T) {
	cases := []struct {
		ms   int64
		want string
	}{
		{0, "0:00:00"},
		{999, "0:00:00"},
		{61_000, "0:01:01"},
		{3_725_000, "1:02:05"},
	}
	for _, tc := range cases {
		if got := formatElapsed(tc.ms); got != tc.want {
			t.Errorf("formatElapsed(%d) = %q, want %q", tc.ms, got, tc.want)
		}
	}
}

func TestInheritanceIndicator(t *testing.T) {
	if got := getInheritanceIndicator(config.InheritedValue); got != "[inherited]" {
		t.Errorf("got %q", got)
	}
	if got := getInheritanceIndicator(config.ProfileSpecificValue); got != "[profile-specific]" {
		t.Errorf("got %q", got)
	}
	if got := getInheritanceIndicator(""); got != "[built-in]" {
		t.Errorf("got %q", got)
	}
}
