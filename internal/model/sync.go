package model

import "time"

// SyncTrigger names what started a reconciliation pass.
type SyncTrigger string

const (
	TriggerTimer  SyncTrigger = "timer"
	TriggerChange SyncTrigger = "change"
	TriggerManual SyncTrigger = "manual"
)

// SyncAction is what a successful push did remotely.
type SyncAction string

const (
	ActionCreated SyncAction = "created"
	ActionUpdated SyncAction = "updated"
)

// ItemResult is the outcome of pushing a single item. Pending marks a push
// the remote accepted while the local row changed underneath it; the item
// stays stale and is pushed again.
type ItemResult struct {
	ItemID   int64      `json:"id"`
	Name     string     `json:"name,omitempty"`
	Success  bool       `json:"success"`
	Pending  bool       `json:"pending,omitempty"`
	Action   SyncAction `json:"action,omitempty"`
	RemoteID string     `json:"remote_id,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// SyncOutcome is the per-pass result list, in candidate selection order.
// Skipped is set when another pass was already running. Suppressed counts
// chronically failing items left out of a scheduled pass.
type SyncOutcome struct {
	Trigger    SyncTrigger  `json:"trigger"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Skipped    bool         `json:"skipped,omitempty"`
	Suppressed int          `json:"suppressed,omitempty"`
	Results    []ItemResult `json:"results"`
}

// Succeeded returns the number of successful item pushes.
func (o *SyncOutcome) Succeeded() int {
	n := 0
	for _, r := range o.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// Failed returns the number of failed item pushes.
func (o *SyncOutcome) Failed() int {
	return len(o.Results) - o.Succeeded()
}

// RecentSync is a row of the dashboard's recent activity list.
type RecentSync struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Quantity int       `json:"quantity"`
	LastSync time.Time `json:"last_sync"`
}

// SyncStats summarizes local synchronization state.
type SyncStats struct {
	TotalItems  int64        `json:"total_items"`
	SyncedItems int64        `json:"synced_items"`
	StaleItems  int64        `json:"stale_items"`
	OldestSync  *time.Time   `json:"oldest_sync,omitempty"`
	LatestSync  *time.Time   `json:"latest_sync,omitempty"`
	RecentSyncs []RecentSync `json:"recent_syncs"`
}

// SchedulerStatus reports the scheduler's state and its last pass.
type SchedulerStatus struct {
	Enabled        bool        `json:"enabled"`
	Running        bool        `json:"running"`
	Interval       string      `json:"interval"`
	Debounce       string      `json:"debounce"`
	NextRun        *time.Time  `json:"next_run,omitempty"`
	LastTrigger    SyncTrigger `json:"last_trigger,omitempty"`
	LastStartedAt  *time.Time  `json:"last_started_at,omitempty"`
	LastFinishedAt *time.Time  `json:"last_finished_at,omitempty"`
	LastSucceeded  int         `json:"last_succeeded"`
	LastFailed     int         `json:"last_failed"`
	LastError      string      `json:"last_error,omitempty"`
	PassesRun      int64       `json:"passes_run"`
	PassesSkipped  int64       `json:"passes_skipped"`
}
