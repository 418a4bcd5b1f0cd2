package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Robinemad1/EEETrading/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("repository: not found")

	// ErrRemoteIDAssigned is returned when an item already carries a
	// different remote identifier. Remote identifiers never change.
	ErrRemoteIDAssigned = errors.New("repository: remote id already assigned")

	// ErrItemChanged is returned when a sync stamp is refused because the
	// row was modified after the state that was pushed.
	ErrItemChanged = errors.New("repository: item changed since push")
)

// InventoryRepository defines inventory data access methods.
type InventoryRepository interface {
	// CreateItem inserts a new local item and fills in its ID and timestamps.
	CreateItem(ctx context.Context, item *model.InventoryItem) error

	// GetItem returns one item or ErrNotFound.
	GetItem(ctx context.Context, id int64) (*model.InventoryItem, error)

	// ListItems returns every item in insertion order.
	ListItems(ctx context.Context) ([]model.InventoryItem, error)

	// ListItemsByIDs returns the named items in insertion order. Unknown ids are ignored.
	ListItemsByIDs(ctx context.Context, ids []int64) ([]model.InventoryItem, error)

	// UpdateQuantity sets the on-hand quantity inside one local transaction
	// and returns the updated row.
	UpdateQuantity(ctx context.Context, id int64, quantity int, now time.Time) (*model.InventoryItem, error)

	// AssignRemoteID stores the remote identifier of a newly created remote
	// item and stamps last_sync if the row still has updated_at == pushedAt.
	// Assigning the same id twice is a no-op.
	AssignRemoteID(ctx context.Context, id int64, remoteID string, syncedAt, pushedAt time.Time) error

	// MarkSynced stamps last_sync after a successful push, provided the row
	// still has updated_at == pushedAt.
	MarkSynced(ctx context.Context, id int64, syncedAt, pushedAt time.Time) error

	// GetSyncStats returns aggregate sync bookkeeping. StaleItems is left for
	// the caller, which owns the staleness predicate.
	GetSyncStats(ctx context.Context, recent int) (*model.SyncStats, error)
}

// CredentialRepository stores remote OAuth2 credential records. Records are
// append-only.
type CredentialRepository interface {
	// LatestCredential returns the most recently issued record or ErrNotFound.
	LatestCredential(ctx context.Context) (*model.Credential, error)

	// AppendCredential inserts a new record and fills in its ID.
	AppendCredential(ctx context.Context, cred *model.Credential) error
}
