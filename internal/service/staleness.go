package service

import "time"

// DefaultStaleAfter is the default staleness threshold.
const DefaultStaleAfter = time.Hour

// ItemNeedsSync reports whether an item last synced at lastSync is a
// reconciliation candidate at now. A never-synced item always is.
func ItemNeedsSync(lastSync *time.Time, now time.Time, threshold time.Duration) bool {
	if lastSync == nil {
		return true
	}
	return lastSync.Before(now.Add(-threshold))
}
