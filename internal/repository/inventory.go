package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Robinemad1/EEETrading/internal/model"
)

const itemColumns = `id, remote_id, name, quantity, cost, description, last_sync, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.InventoryItem, error) {
	var (
		item     model.InventoryItem
		remoteID sql.NullString
		lastSync sql.NullTime
	)
	err := row.Scan(&item.ID, &remoteID, &item.Name, &item.Quantity, &item.Cost,
		&item.Description, &lastSync, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if remoteID.Valid {
		item.RemoteID = &remoteID.String
	}
	if lastSync.Valid {
		t := lastSync.Time.UTC()
		item.LastSync = &t
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func collectItems(rows *sql.Rows) ([]model.InventoryItem, error) {
	defer rows.Close()

	items := make([]model.InventoryItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// CreateItem inserts a new local item.
func (s *Store) CreateItem(ctx context.Context, item *model.InventoryItem) error {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = item.CreatedAt

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory (name, quantity, cost, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.Name, item.Quantity, item.Cost, item.Description, item.CreatedAt.UTC(), item.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read item id: %w", err)
	}
	item.ID = id
	return nil
}

// GetItem returns a single item by local id.
func (s *Store) GetItem(ctx context.Context, id int64) (*model.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM inventory WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %d: %w", id, err)
	}
	return item, nil
}

// ListItems returns all items ordered by id.
func (s *Store) ListItems(ctx context.Context) ([]model.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM inventory ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return collectItems(rows)
}

// ListItemsByIDs returns the requested items ordered by id.
func (s *Store) ListItemsByIDs(ctx context.Context, ids []int64) ([]model.InventoryItem, error) {
	if len(ids) == 0 {
		return []model.InventoryItem{}, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM inventory WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list items by id: %w", err)
	}
	return collectItems(rows)
}

// UpdateQuantity updates the quantity and reads the row back in the same
// transaction.
func (s *Store) UpdateQuantity(ctx context.Context, id int64, quantity int, now time.Time) (*model.InventoryItem, error) {
	var updated *model.InventoryItem

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// MySQL reports 0 affected rows when the value is unchanged, so
		// existence is decided by the read-back below.
		_, err := tx.ExecContext(ctx,
			`UPDATE inventory SET quantity = ?, updated_at = ? WHERE id = ?`,
			quantity, now.UTC(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update quantity: %w", err)
		}

		row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM inventory WHERE id = ?`, id)
		item, err := scanItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read back item %d: %w", id, err)
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AssignRemoteID records the remote id of a freshly created remote item.
// The id is stored even when the row changed after pushedAt; last_sync is
// only stamped when it did not, and ErrItemChanged is returned otherwise.
func (s *Store) AssignRemoteID(ctx context.Context, id int64, remoteID string, syncedAt, pushedAt time.Time) error {
	changed := false

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			current   sql.NullString
			updatedAt time.Time
		)
		err := tx.QueryRowContext(ctx,
			`SELECT remote_id, updated_at FROM inventory WHERE id = ?`+s.rowLock(), id,
		).Scan(&current, &updatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read remote id: %w", err)
		}
		if current.Valid && current.String != remoteID {
			return fmt.Errorf("%w: item %d has %s", ErrRemoteIDAssigned, id, current.String)
		}

		if !sameInstant(updatedAt, pushedAt) {
			changed = true
			_, err = tx.ExecContext(ctx,
				`UPDATE inventory SET remote_id = ? WHERE id = ?`,
				remoteID, id,
			)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE inventory SET remote_id = ?, last_sync = ? WHERE id = ?`,
				remoteID, syncedAt.UTC(), id,
			)
		}
		if err != nil {
			return fmt.Errorf("failed to assign remote id: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		return fmt.Errorf("%w: item %d", ErrItemChanged, id)
	}
	return nil
}

// MarkSynced stamps last_sync for an item whose pushed state was last
// modified at pushedAt. A row modified since then keeps its old last_sync
// and ErrItemChanged is returned.
func (s *Store) MarkSynced(ctx context.Context, id int64, syncedAt, pushedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var updatedAt time.Time
		err := tx.QueryRowContext(ctx,
			`SELECT updated_at FROM inventory WHERE id = ?`+s.rowLock(), id,
		).Scan(&updatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read item %d: %w", id, err)
		}
		if !sameInstant(updatedAt, pushedAt) {
			return fmt.Errorf("%w: item %d", ErrItemChanged, id)
		}

		_, err = tx.ExecContext(ctx, `UPDATE inventory SET last_sync = ? WHERE id = ?`, syncedAt.UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to mark item %d synced: %w", id, err)
		}
		return nil
	})
}

// rowLock holds the selected row until commit. SQLite serializes writers
// on its own.
func (s *Store) rowLock() string {
	if s.dialect == DialectMySQL {
		return " FOR UPDATE"
	}
	return ""
}

// sameInstant compares timestamps at the precision both backends keep.
func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

// GetSyncStats returns totals, the oldest sync and the most recent syncs.
func (s *Store) GetSyncStats(ctx context.Context, recent int) (*model.SyncStats, error) {
	stats := &model.SyncStats{RecentSyncs: []model.RecentSync{}}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(remote_id) FROM inventory`,
	).Scan(&stats.TotalItems, &stats.SyncedItems)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}

	// Plain column selects keep the declared DATETIME type so drivers
	// return time values; aggregates over it would not.
	var oldest sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT last_sync FROM inventory WHERE last_sync IS NOT NULL ORDER BY last_sync ASC LIMIT 1`,
	).Scan(&oldest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query oldest sync: %w", err)
	}
	if oldest.Valid {
		t := oldest.Time.UTC()
		stats.OldestSync = &t
	}

	if recent <= 0 {
		recent = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, quantity, last_sync FROM inventory
		 WHERE last_sync IS NOT NULL ORDER BY last_sync DESC, id DESC LIMIT ?`,
		recent,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent syncs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.RecentSync
		if err := rows.Scan(&r.ID, &r.Name, &r.Quantity, &r.LastSync); err != nil {
			return nil, fmt.Errorf("failed to scan recent sync: %w", err)
		}
		r.LastSync = r.LastSync.UTC()
		stats.RecentSyncs = append(stats.RecentSyncs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(stats.RecentSyncs) > 0 {
		latest := stats.RecentSyncs[0].LastSync
		stats.LatestSync = &latest
	}

	return stats, nil
}
