package dispatch

import "time"

// Backoff returns the delay before retry attempt n (1-based): base
// doubled per attempt, capped. Attempt numbers out of range clamp to
// the nearest bound rather than overflowing.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if max < base {
		max = base
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return max
	}
	d := base << uint(attempt-1)
	if d <= 0 || d > max {
		return max
	}
	return d
}
