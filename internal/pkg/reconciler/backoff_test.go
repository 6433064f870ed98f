package reconciler

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	base := 60 * time.Second
	cap := 24 * time.Hour

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 60 * time.Second},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{8, 128 * time.Minute},
		{20, 24 * time.Hour},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempts, base, cap); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempts, got, tt.want)
		}
	}
}

func TestBackoffDefaults(t *testing.T) {
	if got := Backoff(0, 0, 0); got != time.Minute {
		t.Errorf("Backoff with zero inputs = %s, want 1m", got)
	}
	// No cap means unbounded doubling.
	if got := Backoff(5, time.Second, 0); got != 16*time.Second {
		t.Errorf("Backoff(5, 1s, no cap) = %s, want 16s", got)
	}
}
