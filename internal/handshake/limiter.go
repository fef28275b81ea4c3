package handshake

import (
	"time"

	"firestige.xyz/rawshake/internal/packet"
)

const (
	defaultDiscardLogLimit  = 20
	defaultDiscardLogWindow = time.Second
)

// discardLogLimiter caps debug lines for discarded datagrams per reason.
// Without a socket filter the raw channel sees every TCP segment on the
// host, so logging each one would bury the handshake's own lines.
// Counts are kept per window and reset when the window expires.
type discardLogLimiter struct {
	current      map[packet.Reason]int
	windowStart  time.Time
	windowSize   time.Duration
	maxPerWindow int

	suppressed int
}

// newDiscardLogLimiter returns nil when limit <= 0; a nil limiter allows everything.
func newDiscardLogLimiter(limit int, window time.Duration) *discardLogLimiter {
	if limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = defaultDiscardLogWindow
	}
	return &discardLogLimiter{
		current:      make(map[packet.Reason]int),
		windowSize:   window,
		maxPerWindow: limit,
	}
}

// Allow reports whether a discard with reason may be logged at now.
func (l *discardLogLimiter) Allow(reason packet.Reason, now time.Time) bool {
	if l == nil {
		return true
	}

	// Rotate window if expired
	if now.Sub(l.windowStart) >= l.windowSize {
		clear(l.current)
		l.windowStart = now
	}

	l.current[reason]++
	if l.current[reason] > l.maxPerWindow {
		l.suppressed++
		return false
	}
	return true
}

// Suppressed returns the number of log lines dropped so far.
func (l *discardLogLimiter) Suppressed() int {
	if l == nil {
		return 0
	}
	return l.suppressed
}
