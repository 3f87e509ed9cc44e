package scheduler

import (
	"strings"
	"time"
)

// Layouts accepted for customer-entered appointment times.
var Layouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// WakeReason explains how a wake-up delay was derived.
type WakeReason string

const (
	WakeOnTime    WakeReason = "on_time"
	WakeFallback  WakeReason = "unparseable"
	WakeNearPast  WakeReason = "near_past"
	WakeStalePast WakeReason = "stale_past"
)

// Timing holds the thresholds used when a requested execution time cannot be
// honoured as-is. Stale schedules still fire (after FarPastDelay); callers see
// WakeStalePast and are expected to log it.
type Timing struct {
	Location      *time.Location
	FallbackDelay time.Duration
	PastGrace     time.Duration
	NearPastDelay time.Duration
	FarPastDelay  time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Location:      time.UTC,
		FallbackDelay: time.Minute,
		PastGrace:     30 * time.Minute,
		NearPastDelay: time.Second,
		FarPastDelay:  5 * time.Second,
	}
}

// ParseTime parses raw with each accepted layout in turn.
func (t Timing) ParseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	loc := t.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range Layouts {
		if ts, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// DelayFor converts an absolute execution time into a wake-up delay.
func (t Timing) DelayFor(at, now time.Time) (time.Duration, WakeReason) {
	delay := at.Sub(now)
	switch {
	case delay >= 0:
		return delay, WakeOnTime
	case -delay <= t.PastGrace:
		return t.NearPastDelay, WakeNearPast
	default:
		return t.FarPastDelay, WakeStalePast
	}
}
