package transfer

import "time"

// throttle decides when a progress report is due: whenever the integer
// percentage changes, or when interval has passed since the last report.
type throttle struct {
	interval    time.Duration
	lastPercent int
	lastAt      time.Time
}

// noReport is never a real percentage, so the first check is always due.
const noReport = -2

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval, lastPercent: noReport}
}

func (t *throttle) due(pct int, now time.Time) bool {
	if pct == t.lastPercent && now.Sub(t.lastAt) < t.interval {
		return false
	}
	t.lastPercent = pct
	t.lastAt = now
	return true
}
