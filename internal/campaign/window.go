package campaign

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Admission window evaluation.
//
// Pure functions only: given a campaign's timezone and calling window,
// decide whether an instant falls inside it. Used by both the queue's
// claim filter and the feeder; no state, no side effects.

// minuteOfDay parses "HH:MM" into minutes since midnight.
func minuteOfDay(v string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(v), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", v)
	}
	return h*60 + m, nil
}

// WindowOpen reports whether now, converted to tz, falls within the
// inclusive [start, end] calling window. Windows where start > end span
// midnight (e.g. 21:00-03:00).
func WindowOpen(tz, start, end string, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(tz))
	if err != nil {
		return false, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	startMin, err := minuteOfDay(start)
	if err != nil {
		return false, err
	}
	endMin, err := minuteOfDay(end)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	if startMin <= endMin {
		return cur >= startMin && cur <= endMin, nil
	}
	// Overnight window.
	return cur >= startMin || cur <= endMin, nil
}

// WindowOpenNow evaluates the campaign's own window configuration.
func (c Campaign) WindowOpenNow(now time.Time) (bool, error) {
	return WindowOpen(c.Timezone, c.WindowStart, c.WindowEnd, now)
}

// ValidateWindow checks a window configuration without evaluating it,
// so bad configs are rejected at campaign save time rather than
// surfacing as feeder errors.
func ValidateWindow(tz, start, end string) error {
	if _, err := time.LoadLocation(strings.TrimSpace(tz)); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	if _, err := minuteOfDay(start); err != nil {
		return err
	}
	if _, err := minuteOfDay(end); err != nil {
		return err
	}
	return nil
}
