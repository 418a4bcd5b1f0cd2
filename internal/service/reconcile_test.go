package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Robinemad1/EEETrading/internal/model"
)

func TestCandidates_StalenessSelection(t *testing.T) {
	f := newSyncFixture(t, ReconcilerConfig{StaleAfter: time.Hour})
	ctx := context.Background()

	f.addItem(t, "recent", 1, true, timePtr(f.now.Add(-30*time.Minute)))
	older := f.addItem(t, "older", 2, true, timePtr(f.now.Add(-90*time.Minute)))
	never := f.addItem(t, "never", 3, false, nil)

	got, err := f.reconciler.Candidates(ctx, model.TriggerTimer, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, older.ID, got[0].ID)
	assert.Equal(t, never.ID, got[1].ID)

	all, err := f.reconciler.Candidates(ctx, model.TriggerManual, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	subset, err := f.reconciler.Candidates(ctx, model.TriggerManual, []int64{never.ID})
	require.NoError(t, err)
	require.Len(t, subset, 1)
	assert.Equal(t, never.ID, subset[0].ID)
}

func TestReconcile_CreatesUnlinkedItems(t *testing.T) {
	f := newSyncFixture(t, ReconcilerConfig{})
	ctx := context.Background()
	item := f.addItem(t, "  Café Mug  ", 12, false, nil)

	outcome, err := f.reconciler.Reconcile(ctx, model.TriggerTimer, nil)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)

	res := outcome.Results[0]
	assert.True(t, res.Success)
	assert.Equal(t, model.ActionCreated, res.Action)
	require.NotEmpty(t, res.RemoteID)

	remote := f.remote.item(res.RemoteID)
	assert.Equal(t, "Café Mug", remote.Name, "name is trimmed and NFC-normalized")
	assert.InDelta(t, 12, remote.QtyOnHand, 0)
	assert.Equal(t, "2026-03-10", remote.InvStartDate)
	require.NotNil(t, remote.IncomeAccountRef)
	assert.Equal(t, "128", remote.IncomeAccountRef.Value)

	stored, err := f.store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RemoteID)
	assert.Equal(t, res.RemoteID, *stored.RemoteID)
	require.NotNil(t, stored.LastSync)
	assert.True(t, stored.LastSync.Equal(f.now))
	assert.Equal(t, 1, f.notifier.count())
}

func TestReconcile_IdempotentPush(t *testing.T) {
	f := newSyncFixture(t, ReconcilerConfig{})
	ctx := context.Background()
	item := f.addItem(t, "Widget", 42, true, nil)

	first, err := f.reconciler.PushItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionUpdated, first.Action)

	second, err := f.reconciler.PushItem(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, second.Success)

	remote := f.remote.item(*item.RemoteID)
	assert.InDelta(t, 42, remote.QtyOnHand, 0)
	assert.Equal(t, "2", remote.SyncToken, "each push advanced the version token")
	assert.Equal(t, 0, f.remote.callCount("create"))
}

func TestReconcile_LocalQuantityWins(t *testing.T) {
	f := newSyncFixture(t, ReconcilerConfig{})
	ctx := context.Background()
	item := f.addItem(t, "Gizmo", 5, true, nil)

	// Remote drifted to 99; the push overwrites it and the local row is untouched.
	f.remote.mu.Lock()
	f.remote.items[*item.RemoteID].QtyOnHand = 99
	f.remote.mu.Unlock()

	_, err := f.reconciler.PushItem(ctx, item.ID)
	require.NoError(t, err)

	assert.InDelta(t, 5, f.remote.item(*item.RemoteID).QtyOnHand, 0)
	stored, err := f.store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Quantity)
}

func TestReconcile_BatchIsolation(t *testing.T) {
	f := newSyncFixture(t, ReconcilerConfig{})
	ctx := context.Background()
	old := f.now.Add(-3 * time.Hour)

	items := make([]*model.InventoryItem, 5)
	for i := range items {
		items[i] = f.addItem(t, "item-"+string(rune('A'+i)), i+1, true, timePtr(old))
	}
	f.remote.staleOn[*items[2].RemoteID] = true

	outcome, err := f.reconciler.Reconcile(ctx, model.TriggerTimer, nil)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 5)
	assert.Equal(t, 4, outcome.Succeeded())
	assert.Equal(t, 1, outcome.Failed())

	for i, res := range outcome.Results {
		assert.Equal(t, items[i].ID, res.ItemID, "results keep selection order")

		stored, err := f.store.GetItem(ctx, items[i].ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastSync)

		if i == 2 {
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, "Stale Object Error")
			assert.True(t, stored.LastSync.Equal(old), "failed item keeps its last sync")
			continue
		}
		assert.True(t, res.Success)
		assert.True(t, stored.LastSync.Equal(f.now), "successful item is stamped")
	}

	assert.Equal(t, 4, f.notifier.count())
}

func TestReconcile_ItemErrorClassification(t *testing.T) {
	f := newSyncFixture(t, ReconcilerConfig{})
	item := f.addItem(t, "Conflicted", 1, true, nil)
	f.remote.staleOn[*item.RemoteID] = true

	_, err := f.reconciler.PushItem(context.Background(), item.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteItem)

	var ierr *ItemError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "update", ierr.Op)
	require.NotNil(t, ierr.Fault())
	assert.Equal(t, "ValidationFault", ierr.Fault().Type)
}

func TestReconcile_NoCandidatesNeedsNoCredential(t *testing.T) {
	store := newTestStore(t)
	tokens := NewTokenManager(store, &fakeAuthorizer{}, nil, 0, discardLogger())
	rec := NewReconciler(store, NewClientFactory(tokens, newFakeRemote().builder(), discardLogger()), nil, ReconcilerConfig{}, discardLogger())

	outcome, err := rec.Reconcile(context.Background(), model.TriggerTimer, nil)
	require.NoError(t, err)
	assert.Empty(t, outcome.Results)
}

func TestReconcile_NoCredentialIsReturned(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateItem(context.Background(), &model.InventoryItem{Name: "A", Quantity: 1}))

	tokens := NewTokenManager(store, &fakeAuthorizer{}, nil, 0, discardLogger())
	rec := NewReconciler(store, NewClientFactory(tokens, newFakeRemote().builder(), discardLogger()), nil, ReconcilerConfig{}, discardLogger())

	_, err := rec.Reconcile(context.Background(), model.TriggerManual, nil)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestReconcile_DeadCredentialFailsRemainingItems(t *testing.T) {
	f := newSyncFixture(t, ReconcilerConfig{})
	f.remote.rejectTokens["at-1"] = true
	f.remote.rejectTokens["at-2"] = true

	for _, name := range []string{"A", "B", "C"} {
		f.addItem(t, name, 1, true, nil)
	}

	outcome, err := f.reconciler.Reconcile(context.Background(), model.TriggerManual, nil)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 3)
	assert.Zero(t, outcome.Succeeded())
	assert.Equal(t, 2, f.remote.callCount("get"), "remaining items are not attempted")
	assert.Contains(t, outcome.Results[2].Error, ErrRemoteAuth.Error())
}

func TestReconcile_SuppressesChronicFailuresOnScheduledPasses(t *testing.T) {
	f := newSyncFixture(t, ReconcilerConfig{FailureThreshold: 2, FailureCooldown: time.Hour})
	ctx := context.Background()

	bad := f.addItem(t, "bad", 1, false, nil)
	f.addItem(t, "good", 1, true, nil)
	f.remote.failNames["bad"] = staleFault()

	for range 2 {
		_, err := f.reconciler.Reconcile(ctx, model.TriggerTimer, nil)
		require.NoError(t, err)
	}

	scheduled, err := f.reconciler.Reconcile(ctx, model.TriggerTimer, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, scheduled.Suppressed)
	for _, r := range scheduled.Results {
		assert.NotEqual(t, bad.ID, r.ItemID)
	}
	assert.Equal(t, 1, f.reconciler.SuppressedItems())

	manual, err := f.reconciler.Reconcile(ctx, model.TriggerManual, []int64{bad.ID})
	require.NoError(t, err)
	require.Len(t, manual.Results, 1, "manual passes never skip")
	assert.Zero(t, manual.Suppressed)
}

func TestReconcile_SuppressionHoldsAcrossHourlyPasses(t *testing.T) {
	f := newSyncFixture(t, ReconcilerConfig{})
	ctx := context.Background()

	f.addItem(t, "bad", 1, false, nil)
	f.remote.failNames["bad"] = staleFault()

	pass := func() int {
		t.Helper()
		outcome, err := f.reconciler.Reconcile(ctx, model.TriggerTimer, nil)
		require.NoError(t, err)
		f.now = f.now.Add(time.Hour)
		return outcome.Suppressed
	}

	suppressed := make([]int, 0, 6)
	for range 6 {
		suppressed = append(suppressed, pass())
	}
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1}, suppressed)
	assert.Equal(t, DefaultFailureThreshold, f.remote.callCount("create"))

	// The hold runs out six hours after the third failure.
	f.now = f.now.Add(2 * time.Hour)
	assert.Zero(t, pass(), "the item is retried once the hold lapses")
	assert.Equal(t, DefaultFailureThreshold+1, f.remote.callCount("create"))
	assert.Equal(t, 1, pass(), "the failed retry holds it again")
}

func TestReconcile_PassDeadline(t *testing.T) {
	f := newSyncFixture(t, ReconcilerConfig{PassTimeout: 300 * time.Millisecond})
	f.remote.delay = 200 * time.Millisecond

	for _, name := range []string{"A", "B", "C", "D"} {
		f.addItem(t, name, 1, false, nil)
	}

	outcome, err := f.reconciler.Reconcile(context.Background(), model.TriggerTimer, nil)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 4)
	assert.True(t, outcome.Results[0].Success)

	last := outcome.Results[3]
	assert.False(t, last.Success)
	assert.Equal(t, reasonPassDeadline, last.Error)
}

func TestRemoteName(t *testing.T) {
	assert.Equal(t, "Caf\u00e9", remoteName("Cafe\u0301"), "decomposed accents are composed")
	assert.Equal(t, "Parts-Bolts", remoteName("Parts:Bolts"))
	assert.Len(t, []rune(remoteName(strings.Repeat("x", 150))), maxRemoteNameLen)
}
