package remote

import (
	"testing"
	"time"
)

func TestParseISO8601Duration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"PT15M33S", 15*time.Minute + 33*time.Second},
		{"PT1H2M10S", time.Hour + 2*time.Minute + 10*time.Second},
		{"PT45S", 45 * time.Second},
		{"PT2H", 2 * time.Hour},
		{"P0D", 0},
	}
	for _, tt := range tests {
		if got := parseISO8601Duration(tt.in); got != tt.want {
			t.Errorf("parseISO8601Duration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	d := backoffDelay(20)
	if d > maxBackoff+baseBackoff {
		t.Errorf("backoffDelay should cap near maxBackoff, got %v", d)
	}
}
