package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Robinemad1/EEETrading/internal/model"
	"github.com/Robinemad1/EEETrading/internal/qbo"
	"github.com/Robinemad1/EEETrading/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()

	s, err := repository.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sync.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeRemote is an in-memory accounting backend. Every update advances the
// item's SyncToken; an update carrying an old token is rejected the way the
// real service rejects it.
type fakeRemote struct {
	mu      sync.Mutex
	items   map[string]*qbo.Item
	nextID  int
	calls   map[string]int
	created []string

	rejectTokens map[string]bool  // access tokens answered with 401
	staleOn      map[string]bool  // remote ids whose GetItem returns an outdated SyncToken
	failNames    map[string]error // item names whose create/update fails
	delay        time.Duration    // per-call latency, honoring ctx

	afterWrite func(stored qbo.Item) // runs after a create or update is applied

	accounts []qbo.Account
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		items:        make(map[string]*qbo.Item),
		calls:        make(map[string]int),
		rejectTokens: make(map[string]bool),
		staleOn:      make(map[string]bool),
		failNames:    make(map[string]error),
	}
}

func (f *fakeRemote) builder() ClientBuilder {
	return func(cred *model.Credential) RemoteItems {
		return &boundRemote{remote: f, token: cred.AccessToken}
	}
}

func (f *fakeRemote) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRemote) item(id string) qbo.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

// seed stores a remote item and returns its id.
func (f *fakeRemote) seed(name string, qty float64) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := strconv.Itoa(f.nextID)
	f.items[id] = &qbo.Item{ID: id, SyncToken: "0", Name: name, QtyOnHand: qty}
	return id
}

func authFault() error {
	return &qbo.Error{
		StatusCode: 401,
		Fault:      &qbo.Fault{Type: "AUTHENTICATION", Errors: []qbo.FaultDetail{{Message: "AuthenticationFailed", Code: "3200"}}},
		Err:        qbo.ErrAuthentication,
	}
}

func staleFault() error {
	return &qbo.Error{
		StatusCode: 400,
		Fault:      &qbo.Fault{Type: "ValidationFault", Errors: []qbo.FaultDetail{{Message: "Stale Object Error", Code: "5010"}}},
		Err:        qbo.ErrStaleObject,
	}
}

type boundRemote struct {
	remote *fakeRemote
	token  string
}

func (b *boundRemote) enter(ctx context.Context, op string) error {
	f := b.remote

	f.mu.Lock()
	f.calls[op]++
	delay := f.delay
	rejected := f.rejectTokens[b.token]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if rejected {
		return authFault()
	}
	return nil
}

func (b *boundRemote) CreateItem(ctx context.Context, item *qbo.Item) (*qbo.Item, error) {
	return b.written(b.create(ctx, item))
}

func (b *boundRemote) UpdateItem(ctx context.Context, item *qbo.Item) (*qbo.Item, error) {
	return b.written(b.update(ctx, item))
}

func (b *boundRemote) written(item *qbo.Item, err error) (*qbo.Item, error) {
	b.remote.mu.Lock()
	hook := b.remote.afterWrite
	b.remote.mu.Unlock()

	if err == nil && hook != nil {
		hook(*item)
	}
	return item, err
}

func (b *boundRemote) create(ctx context.Context, item *qbo.Item) (*qbo.Item, error) {
	if err := b.enter(ctx, "create"); err != nil {
		return nil, err
	}

	f := b.remote
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failNames[item.Name]; err != nil {
		return nil, err
	}

	f.nextID++
	stored := *item
	stored.ID = strconv.Itoa(f.nextID)
	stored.SyncToken = "0"
	f.items[stored.ID] = &stored
	f.created = append(f.created, stored.ID)

	out := stored
	return &out, nil
}

func (b *boundRemote) GetItem(ctx context.Context, id string) (*qbo.Item, error) {
	if err := b.enter(ctx, "get"); err != nil {
		return nil, err
	}

	f := b.remote
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.items[id]
	if !ok {
		return nil, &qbo.Error{StatusCode: 400, Err: qbo.ErrNotFound}
	}

	out := *stored
	if f.staleOn[id] {
		// Someone else updated the record between our read and write.
		n, _ := strconv.Atoi(out.SyncToken)
		out.SyncToken = strconv.Itoa(n - 1)
	}
	return &out, nil
}

func (b *boundRemote) update(ctx context.Context, item *qbo.Item) (*qbo.Item, error) {
	if err := b.enter(ctx, "update"); err != nil {
		return nil, err
	}

	f := b.remote
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failNames[item.Name]; err != nil {
		return nil, err
	}

	stored, ok := f.items[item.ID]
	if !ok {
		return nil, &qbo.Error{StatusCode: 400, Err: qbo.ErrNotFound}
	}
	if item.SyncToken != stored.SyncToken {
		return nil, staleFault()
	}

	n, _ := strconv.Atoi(stored.SyncToken)
	next := *item
	next.SyncToken = strconv.Itoa(n + 1)
	f.items[item.ID] = &next

	out := next
	return &out, nil
}

func (b *boundRemote) QueryItems(ctx context.Context) ([]qbo.Item, error) {
	if err := b.enter(ctx, "query"); err != nil {
		return nil, err
	}

	f := b.remote
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]qbo.Item, 0, len(f.items))
	for id := 1; id <= f.nextID; id++ {
		item, ok := f.items[strconv.Itoa(id)]
		if !ok || (item.Active != nil && !*item.Active) {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (b *boundRemote) QueryAccounts(ctx context.Context) ([]qbo.Account, error) {
	if err := b.enter(ctx, "query"); err != nil {
		return nil, err
	}

	f := b.remote
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]qbo.Account(nil), f.accounts...), nil
}

// fakeAuthorizer hands out numbered token pairs.
type fakeAuthorizer struct {
	mu        sync.Mutex
	refreshes int
	err       error
	gate      chan struct{} // when set, Refresh waits on it
}

func (a *fakeAuthorizer) AuthCodeURL(state string) string {
	return "https://appcenter.intuit.com/connect/oauth2?state=" + state
}

func (a *fakeAuthorizer) Exchange(_ context.Context, code string) (*qbo.Grant, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &qbo.Grant{AccessToken: "at-" + code, RefreshToken: "rt-" + code, ExpiresIn: 3600}, nil
}

func (a *fakeAuthorizer) Refresh(_ context.Context, refreshToken string) (*qbo.Grant, error) {
	if a.gate != nil {
		<-a.gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.refreshes++
	if a.err != nil {
		return nil, a.err
	}
	n := a.refreshes + 1
	return &qbo.Grant{
		AccessToken:  fmt.Sprintf("at-%d", n),
		RefreshToken: fmt.Sprintf("rt-%d", n),
		ExpiresIn:    3600,
	}, nil
}

func (a *fakeAuthorizer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshes
}

// seedCredential stores credential "at-1"/"rt-1" issued at issuedAt.
func seedCredential(t *testing.T, store *repository.Store, issuedAt time.Time) *model.Credential {
	t.Helper()

	cred := &model.Credential{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		IssuedAt:     issuedAt.UTC(),
		ExpiresIn:    3600,
		RealmID:      "4620816365",
	}
	require.NoError(t, store.AppendCredential(context.Background(), cred))
	return cred
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []model.InventoryItem
	hook  func(item model.InventoryItem)
}

func (n *recordingNotifier) NotifyInventoryUpdate(item model.InventoryItem) {
	n.mu.Lock()
	n.items = append(n.items, item)
	hook := n.hook
	n.mu.Unlock()

	if hook != nil {
		hook(item)
	}
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.items)
}

type countingSignaler struct {
	mu sync.Mutex
	n  int
}

func (s *countingSignaler) NotifyChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
}

// syncFixture wires the synchronization core against a temp store and a
// fake accounting backend with a fresh credential.
type syncFixture struct {
	store      *repository.Store
	remote     *fakeRemote
	auth       *fakeAuthorizer
	tokens     *TokenManager
	factory    *ClientFactory
	reconciler *Reconciler
	notifier   *recordingNotifier
	now        time.Time
}

func newSyncFixture(t *testing.T, cfg ReconcilerConfig) *syncFixture {
	t.Helper()

	f := &syncFixture{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	// Tests move the clock by assigning f.now between passes.
	clock := func() time.Time { return f.now }

	f.store = newTestStore(t)
	seedCredential(t, f.store, f.now.Add(-10*time.Minute))

	f.remote = newFakeRemote()
	f.auth = &fakeAuthorizer{}
	logger := discardLogger()

	f.tokens = NewTokenManager(f.store, f.auth, nil, DefaultTokenSkew, logger)
	f.tokens.nowFunc = clock

	f.factory = NewClientFactory(f.tokens, f.remote.builder(), logger)
	f.notifier = &recordingNotifier{}

	f.reconciler = NewReconciler(f.store, f.factory, f.notifier, cfg, logger)
	f.reconciler.nowFunc = clock
	f.reconciler.held.nowFunc = clock

	return f
}

// addItem creates a local item, optionally linked to a remote item and
// synced at lastSync.
func (f *syncFixture) addItem(t *testing.T, name string, qty int, linked bool, lastSync *time.Time) *model.InventoryItem {
	t.Helper()
	ctx := context.Background()

	item := &model.InventoryItem{Name: name, Quantity: qty, Cost: 1.25}
	require.NoError(t, f.store.CreateItem(ctx, item))

	if linked {
		remoteID := f.remote.seed(name, float64(qty))
		at := f.now.Add(-24 * time.Hour)
		if lastSync != nil {
			at = *lastSync
		}
		require.NoError(t, f.store.AssignRemoteID(ctx, item.ID, remoteID, at, item.UpdatedAt))
	} else if lastSync != nil {
		require.NoError(t, f.store.MarkSynced(ctx, item.ID, *lastSync, item.UpdatedAt))
	}

	got, err := f.store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	return got
}

func timePtr(t time.Time) *time.Time {
	return &t
}
