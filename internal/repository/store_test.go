package repository

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Robinemad1/EEETrading/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "inventory.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedItem(t *testing.T, s *Store, name string, qty int) *model.InventoryItem {
	t.Helper()

	item := &model.InventoryItem{Name: name, Quantity: qty, Cost: 2.5}
	require.NoError(t, s.CreateItem(context.Background(), item))
	require.NotZero(t, item.ID)
	return item
}

func TestOpenSQLite_MigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "twice.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s1, err := OpenSQLite(context.Background(), path, logger)
	require.NoError(t, err)
	seedItem(t, s1, "Widget", 1)
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(context.Background(), path, logger)
	require.NoError(t, err)
	defer s2.Close()

	items, err := s2.ListItems(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, DialectSQLite, s2.Dialect())
}

func TestCreateAndGetItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := seedItem(t, s, "Blue Widget", 12)

	got, err := s.GetItem(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Blue Widget", got.Name)
	assert.Equal(t, 12, got.Quantity)
	assert.InDelta(t, 2.5, got.Cost, 0.0001)
	assert.Nil(t, got.RemoteID)
	assert.Nil(t, got.LastSync)
	assert.False(t, got.HasRemoteID())

	_, err = s.GetItem(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListItemsByIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := seedItem(t, s, "A", 1)
	seedItem(t, s, "B", 2)
	c := seedItem(t, s, "C", 3)

	items, err := s.ListItemsByIDs(ctx, []int64{c.ID, a.ID, 424242})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, a.ID, items[0].ID)
	assert.Equal(t, c.ID, items[1].ID)

	none, err := s.ListItemsByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateQuantity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	item := seedItem(t, s, "Gadget", 5)
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	updated, err := s.UpdateQuantity(ctx, item.ID, 42, now)
	require.NoError(t, err)
	assert.Equal(t, 42, updated.Quantity)
	assert.True(t, updated.UpdatedAt.Equal(now))

	// Same value again still resolves the row.
	again, err := s.UpdateQuantity(ctx, item.ID, 42, now)
	require.NoError(t, err)
	assert.Equal(t, 42, again.Quantity)

	_, err = s.UpdateQuantity(ctx, 9999, 1, now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateQuantity_RejectsNegative(t *testing.T) {
	s := newTestStore(t)
	item := seedItem(t, s, "Gadget", 5)

	_, err := s.UpdateQuantity(context.Background(), item.ID, -1, time.Now())
	require.Error(t, err)

	got, err := s.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Quantity, "failed transaction must not change the row")
}

func TestAssignRemoteID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	item := seedItem(t, s, "Sprocket", 3)
	syncedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.AssignRemoteID(ctx, item.ID, "77", syncedAt, item.UpdatedAt))

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RemoteID)
	assert.Equal(t, "77", *got.RemoteID)
	require.NotNil(t, got.LastSync)
	assert.True(t, got.LastSync.Equal(syncedAt))

	// Re-assigning the same id is accepted.
	require.NoError(t, s.AssignRemoteID(ctx, item.ID, "77", syncedAt.Add(time.Minute), item.UpdatedAt))

	err = s.AssignRemoteID(ctx, item.ID, "78", syncedAt, item.UpdatedAt)
	assert.ErrorIs(t, err, ErrRemoteIDAssigned)

	err = s.AssignRemoteID(ctx, 9999, "1", syncedAt, item.UpdatedAt)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignRemoteID_KeepsIDWhenRowChanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	item := seedItem(t, s, "Washer", 3)
	pushed := item.UpdatedAt

	_, err := s.UpdateQuantity(ctx, item.ID, 9, pushed.Add(time.Second))
	require.NoError(t, err)

	err = s.AssignRemoteID(ctx, item.ID, "81", pushed.Add(2*time.Second), pushed)
	require.ErrorIs(t, err, ErrItemChanged)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RemoteID, "remote id must survive so the next pass updates instead of creating")
	assert.Equal(t, "81", *got.RemoteID)
	assert.Nil(t, got.LastSync, "a row edited after the push stays pending")
}

func TestMarkSynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	item := seedItem(t, s, "Bolt", 100)
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.MarkSynced(ctx, item.ID, at, item.UpdatedAt))
	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSync)
	assert.True(t, got.LastSync.Equal(at))

	assert.ErrorIs(t, s.MarkSynced(ctx, 9999, at, at), ErrNotFound)
}

func TestMarkSynced_RefusesWhenRowChanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	item := seedItem(t, s, "Nut", 10)
	first := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkSynced(ctx, item.ID, first, item.UpdatedAt))

	edited, err := s.UpdateQuantity(ctx, item.ID, 11, item.UpdatedAt.Add(time.Second))
	require.NoError(t, err)

	err = s.MarkSynced(ctx, item.ID, first.Add(time.Hour), item.UpdatedAt)
	require.ErrorIs(t, err, ErrItemChanged)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSync)
	assert.True(t, got.LastSync.Equal(first), "last_sync must not cover the unpushed edit")

	// Stamping with the row's current version succeeds.
	require.NoError(t, s.MarkSynced(ctx, item.ID, first.Add(time.Hour), edited.UpdatedAt))
}

func TestGetSyncStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.GetSyncStats(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalItems)
	assert.Nil(t, empty.OldestSync)
	assert.Nil(t, empty.LatestSync)
	assert.Empty(t, empty.RecentSyncs)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := seedItem(t, s, "A", 1)
	b := seedItem(t, s, "B", 2)
	seedItem(t, s, "C", 3)

	require.NoError(t, s.AssignRemoteID(ctx, a.ID, "1", base, a.UpdatedAt))
	require.NoError(t, s.AssignRemoteID(ctx, b.ID, "2", base.Add(90*time.Minute), b.UpdatedAt))

	stats, err := s.GetSyncStats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalItems)
	assert.Equal(t, int64(2), stats.SyncedItems)
	require.NotNil(t, stats.OldestSync)
	assert.True(t, stats.OldestSync.Equal(base))
	require.NotNil(t, stats.LatestSync)
	assert.True(t, stats.LatestSync.Equal(base.Add(90*time.Minute)))
	require.Len(t, stats.RecentSyncs, 2)
	assert.Equal(t, "B", stats.RecentSyncs[0].Name)
}

func TestCredentials_LatestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LatestCredential(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	older := &model.Credential{
		AccessToken: "a1", RefreshToken: "r1", RealmID: "realm",
		IssuedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), ExpiresIn: 3600,
	}
	newer := &model.Credential{
		AccessToken: "a2", RefreshToken: "r2", RealmID: "realm",
		IssuedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), ExpiresIn: 3600,
	}

	// Insert newer first so ordering comes from issued_at, not insertion.
	require.NoError(t, s.AppendCredential(ctx, newer))
	require.NoError(t, s.AppendCredential(ctx, older))
	assert.NotEqual(t, newer.ID, older.ID)

	latest, err := s.LatestCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)
	assert.Equal(t, "a2", latest.AccessToken)
	assert.Equal(t, "r2", latest.RefreshToken)
	assert.True(t, latest.IssuedAt.Equal(newer.IssuedAt))
}
