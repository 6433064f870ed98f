package reconciler

import "time"

// Backoff returns the retry delay after the given attempt count (1-based).
// Delays double per attempt starting from base and never exceed cap.
func Backoff(attempts int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	if attempts < 1 {
		attempts = 1
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if cap > 0 && delay >= cap {
			return cap
		}
	}
	if cap > 0 && delay > cap {
		return cap
	}
	return delay
}
