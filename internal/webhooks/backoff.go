package webhooks

import "time"

// nextRetryAt returns when a delivery that has made attempts sends should be
// retried, or nil once attempts reaches maxAttempts. The table is indexed by
// attempts-1 and clamped to its last entry.
func nextRetryAt(now time.Time, attempts, maxAttempts int, table []time.Duration) *time.Time {
	if attempts >= maxAttempts || len(table) == 0 {
		return nil
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(table) {
		idx = len(table) - 1
	}
	at := now.Add(table[idx]).UTC()
	return &at
}
