// Package dedup records which notification firings have already been
// delivered so that a firing window is delivered at most once.
package dedup

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Cache tracks delivered notification keys.
//
// Implementations are safe for concurrent use. Keys are scoped to a rule,
// so concurrent writers for different rules never conflict.
type Cache interface {
	HasSent(ctx context.Context, key string) (bool, error)
	// MarkSent records key as delivered at. hold keeps the entry alive past
	// the retention horizon until at+hold, for windows longer than it.
	MarkSent(ctx context.Context, key string, at time.Time, hold time.Duration) error
	// PurgeOlderThan drops entries recorded before now-horizon whose hold has
	// passed, and entries whose stamp cannot be read. It returns how many
	// were dropped.
	PurgeOlderThan(ctx context.Context, horizon time.Duration, now time.Time) (int, error)
	Len(ctx context.Context) (int, error)
}

// DefaultRetention is how long a delivered key is remembered.
const DefaultRetention = 2 * time.Hour

const minuteLayout = "2006-01-02T15:04"

// IntervalKey identifies the window-th firing of an interval rule.
func IntervalKey(ruleID string, window int64) string {
	return ruleID + "-interval-" + strconv.FormatInt(window, 10)
}

// TimeKey identifies a time rule's firing by the UTC minute it happened in.
func TimeKey(ruleID string, now time.Time) string {
	return ruleID + "-time-" + now.UTC().Truncate(time.Minute).Format(minuteLayout)
}

// encodeStamp stores "recorded|held-until" as the entry value.
func encodeStamp(at time.Time, hold time.Duration) string {
	if hold < 0 {
		hold = 0
	}
	return at.UTC().Format(time.RFC3339Nano) + "|" + at.Add(hold).UTC().Format(time.RFC3339Nano)
}

// stale reports whether a stored stamp is unreadable, or was recorded
// before cutoff and is no longer held at now.
func stale(raw string, cutoff, now time.Time) bool {
	recordedRaw, untilRaw, held := strings.Cut(raw, "|")
	recorded, err := time.Parse(time.RFC3339Nano, recordedRaw)
	if err != nil {
		return true
	}
	if !recorded.Before(cutoff) {
		return false
	}
	if !held {
		return true
	}
	until, err := time.Parse(time.RFC3339Nano, untilRaw)
	if err != nil {
		return true
	}
	return until.Before(now)
}

func ttl(retention, hold time.Duration) time.Duration {
	if hold > retention {
		return hold
	}
	return retention
}
