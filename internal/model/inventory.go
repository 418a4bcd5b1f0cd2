package model

import "time"

// InventoryItem is the local record of a stock-keeping unit.
// RemoteID stays nil until the item has been created in the accounting system.
type InventoryItem struct {
	ID          int64      `json:"id"`
	RemoteID    *string    `json:"remote_id,omitempty"`
	Name        string     `json:"name"`
	Quantity    int        `json:"quantity"`
	Cost        float64    `json:"cost"`
	Description string     `json:"description"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// HasRemoteID reports whether the item already exists remotely.
func (i *InventoryItem) HasRemoteID() bool {
	return i.RemoteID != nil && *i.RemoteID != ""
}

// NewInventoryItem holds the operator-supplied fields for a new item.
type NewInventoryItem struct {
	Name        string  `json:"name"`
	Quantity    int     `json:"quantity"`
	Cost        float64 `json:"cost"`
	Description string  `json:"description"`
}

// QuantityUpdate is one entry of a batch quantity change.
type QuantityUpdate struct {
	ItemID   int64 `json:"id"`
	Quantity int   `json:"quantity"`
}

// QuantityUpdateResult reports a local update and the follow-up push.
// The local change stands even when Synced is false.
type QuantityUpdateResult struct {
	Item      *InventoryItem `json:"item"`
	Synced    bool           `json:"synced"`
	SyncError string         `json:"sync_error,omitempty"`
}

// BatchSuccess is a batch entry whose local update committed.
type BatchSuccess struct {
	ItemID      int64  `json:"id"`
	NewQuantity int    `json:"new_quantity"`
	Synced      bool   `json:"synced"`
	SyncError   string `json:"sync_error,omitempty"`
}

// BatchFailure is a batch entry whose local update failed.
type BatchFailure struct {
	ItemID int64  `json:"id"`
	Error  string `json:"error"`
}

// BatchUpdateResult lists per-entry results of a batch quantity change.
type BatchUpdateResult struct {
	Successes []BatchSuccess `json:"success"`
	Errors    []BatchFailure `json:"errors"`
}
