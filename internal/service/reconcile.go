package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/Robinemad1/EEETrading/internal/cache"
	"github.com/Robinemad1/EEETrading/internal/config"
	"github.com/Robinemad1/EEETrading/internal/model"
	"github.com/Robinemad1/EEETrading/internal/qbo"
	"github.com/Robinemad1/EEETrading/internal/repository"
)

// maxRemoteNameLen is the longest item name the accounting system accepts.
const maxRemoteNameLen = 100

// reasonPassDeadline is recorded for items a timed-out pass never reached.
const reasonPassDeadline = "pass deadline exceeded"

// Pushes of one item are serialized: in-process through a striped mutex
// and, with a locker configured, across replicas.
const (
	itemLockStripes = 64
	itemLockTTL     = 2 * time.Minute
)

// ChangeNotifier receives the state of every successfully applied mutation.
type ChangeNotifier interface {
	NotifyInventoryUpdate(item model.InventoryItem)
}

// ReconcilerConfig tunes candidate selection and remote payloads.
type ReconcilerConfig struct {
	StaleAfter       time.Duration
	PassTimeout      time.Duration // bounds scheduled passes; 0 disables
	FailureThreshold int
	FailureCooldown  time.Duration
	Accounts         config.AccountRefs
}

// Reconciler pushes local inventory state to the accounting system. Local
// quantity always wins; remote quantities are never read back.
type Reconciler struct {
	repo     repository.InventoryRepository
	clients  *ClientFactory
	notifier ChangeNotifier
	held     *quarantine
	cfg      ReconcilerConfig
	logger   *slog.Logger

	locker cache.Locker
	itemMu [itemLockStripes]sync.Mutex

	nowFunc func() time.Time
}

// NewReconciler creates a reconciler. notifier may be nil.
func NewReconciler(repo repository.InventoryRepository, clients *ClientFactory, notifier ChangeNotifier, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Accounts == (config.AccountRefs{}) {
		cfg.Accounts = config.DefaultAccountRefs()
	}

	return &Reconciler{
		repo:     repo,
		clients:  clients,
		notifier: notifier,
		held:     newQuarantine(cfg.FailureThreshold, cfg.FailureCooldown, logger),
		cfg:      cfg,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// SetLocker makes pushes of the same item exclusive across processes
// sharing locker.
func (r *Reconciler) SetLocker(locker cache.Locker) {
	r.locker = locker
}

// StaleAfter returns the staleness threshold.
func (r *Reconciler) StaleAfter() time.Duration {
	return r.cfg.StaleAfter
}

// Candidates selects the items a pass will push. Scheduled passes take
// stale items only; manual passes take every item or the given subset.
func (r *Reconciler) Candidates(ctx context.Context, trigger model.SyncTrigger, itemIDs []int64) ([]model.InventoryItem, error) {
	if trigger == model.TriggerManual {
		if len(itemIDs) > 0 {
			return r.repo.ListItemsByIDs(ctx, itemIDs)
		}
		return r.repo.ListItems(ctx)
	}

	items, err := r.repo.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	now := r.nowFunc()
	stale := items[:0]
	for _, item := range items {
		if ItemNeedsSync(item.LastSync, now, r.cfg.StaleAfter) {
			stale = append(stale, item)
		}
	}
	return stale, nil
}

// Reconcile runs one pass. Per-item remote failures land in the outcome;
// only candidate selection and credential errors are returned.
func (r *Reconciler) Reconcile(ctx context.Context, trigger model.SyncTrigger, itemIDs []int64) (*model.SyncOutcome, error) {
	outcome := &model.SyncOutcome{
		Trigger:   trigger,
		StartedAt: r.nowFunc().UTC(),
		Results:   []model.ItemResult{},
	}

	candidates, err := r.Candidates(ctx, trigger, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("selecting sync candidates: %w", err)
	}

	if trigger != model.TriggerManual {
		kept := candidates[:0]
		for _, item := range candidates {
			if r.held.holds(item.ID) {
				outcome.Suppressed++
				continue
			}
			kept = append(kept, item)
		}
		candidates = kept
	}

	if len(candidates) == 0 {
		r.logger.Debug("no items need syncing", slog.String("trigger", string(trigger)))
		outcome.FinishedAt = r.nowFunc().UTC()
		return outcome, nil
	}

	passCtx := ctx
	if r.cfg.PassTimeout > 0 && trigger != model.TriggerManual {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, r.cfg.PassTimeout)
		defer cancel()
	}

	session, err := r.clients.Client(passCtx)
	if err != nil {
		return nil, err
	}

	r.logger.Info("reconciliation pass started",
		slog.String("trigger", string(trigger)),
		slog.Int("candidates", len(candidates)),
		slog.Int("suppressed", outcome.Suppressed),
	)

	var abort error
	for i := range candidates {
		item := &candidates[i]

		switch {
		case abort != nil:
			outcome.Results = append(outcome.Results, failedResult(item, abort.Error()))
			continue
		case passCtx.Err() != nil:
			reason := reasonPassDeadline
			if ctx.Err() != nil {
				reason = ctx.Err().Error()
			}
			outcome.Results = append(outcome.Results, failedResult(item, reason))
			continue
		}

		result, err := r.push(passCtx, session, item)
		if err != nil {
			r.held.fail(item.ID, err.Error())
			r.logger.Warn("item sync failed",
				slog.Int64("item_id", item.ID),
				slog.String("name", item.Name),
				slog.String("error", err.Error()),
			)

			// A dead credential fails every remaining item the same way.
			if errors.Is(err, ErrRemoteAuth) || errors.Is(err, ErrRefreshFailed) || errors.Is(err, ErrNoCredential) {
				abort = err
			}
		} else {
			r.held.release(item.ID)
		}
		outcome.Results = append(outcome.Results, result)
	}

	outcome.FinishedAt = r.nowFunc().UTC()

	r.logger.Info("reconciliation pass finished",
		slog.String("trigger", string(trigger)),
		slog.Int("succeeded", outcome.Succeeded()),
		slog.Int("failed", outcome.Failed()),
		slog.Duration("duration", outcome.FinishedAt.Sub(outcome.StartedAt)),
	)
	return outcome, nil
}

// PushItem pushes a single item outside of a pass. The item must exist.
func (r *Reconciler) PushItem(ctx context.Context, itemID int64) (model.ItemResult, error) {
	item, err := r.repo.GetItem(ctx, itemID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.ItemResult{ItemID: itemID}, ErrItemNotFound
	}
	if err != nil {
		return model.ItemResult{ItemID: itemID}, fmt.Errorf("loading item %d: %w", itemID, err)
	}

	session, err := r.clients.Client(ctx)
	if err != nil {
		return failedResult(item, err.Error()), err
	}

	result, err := r.push(ctx, session, item)
	if err != nil {
		r.held.fail(item.ID, err.Error())
		return result, err
	}
	r.held.release(item.ID)
	return result, nil
}

// SuppressedItems returns how many items scheduled passes currently skip.
func (r *Reconciler) SuppressedItems() int {
	return r.held.size()
}

// push creates or updates one item remotely and stamps it locally. The row
// is re-read first so a pass never pushes the quantity of its candidate
// snapshot, and the stamp only lands if the row is still the one pushed.
func (r *Reconciler) push(ctx context.Context, remote RemoteItems, item *model.InventoryItem) (model.ItemResult, error) {
	unlock, err := r.lockItem(ctx, item.ID)
	if err != nil {
		return failedResult(item, err.Error()), err
	}
	defer unlock()

	current, err := r.repo.GetItem(ctx, item.ID)
	if err != nil {
		return r.localFailure(item, err)
	}
	item = current
	payload := r.remotePayload(item)

	var (
		action   model.SyncAction
		remoteID string
		stampErr error
	)

	if !item.HasRemoteID() {
		payload.InvStartDate = r.nowFunc().UTC().Format(time.DateOnly)

		created, err := remote.CreateItem(ctx, payload)
		if err != nil {
			return r.itemFailure(item, "create", err)
		}

		action, remoteID = model.ActionCreated, created.ID
		stampErr = r.repo.AssignRemoteID(ctx, item.ID, created.ID, r.nowFunc(), item.UpdatedAt)
		if stampErr != nil && !errors.Is(stampErr, repository.ErrItemChanged) {
			// The remote item exists now; without the local id the next pass
			// would create a duplicate.
			r.logger.Error("remote item created but local id not stored",
				slog.Int64("item_id", item.ID),
				slog.String("remote_id", created.ID),
				slog.String("error", stampErr.Error()),
			)
			return r.localFailure(item, stampErr)
		}
	} else {
		existing, err := remote.GetItem(ctx, *item.RemoteID)
		if err != nil {
			return r.itemFailure(item, "fetch", err)
		}

		payload.ID = existing.ID
		payload.SyncToken = existing.SyncToken

		if _, err := remote.UpdateItem(ctx, payload); err != nil {
			return r.itemFailure(item, "update", err)
		}

		action, remoteID = model.ActionUpdated, existing.ID
		stampErr = r.repo.MarkSynced(ctx, item.ID, r.nowFunc(), item.UpdatedAt)
		if stampErr != nil && !errors.Is(stampErr, repository.ErrItemChanged) {
			return r.localFailure(item, stampErr)
		}
	}

	result := model.ItemResult{
		ItemID:   item.ID,
		Name:     item.Name,
		Success:  true,
		Action:   action,
		RemoteID: remoteID,
	}

	if stampErr != nil {
		// The local row moved on while the push was in flight. It keeps its
		// old last_sync, so the next pass picks it up again.
		result.Pending = true
		r.logger.Info("item changed during push, left pending",
			slog.Int64("item_id", item.ID),
			slog.Int("pushed_quantity", item.Quantity),
			slog.String("remote_id", remoteID),
		)
	} else {
		r.logger.Debug("item synced",
			slog.Int64("item_id", item.ID),
			slog.String("action", string(action)),
			slog.String("remote_id", remoteID),
		)
	}

	if r.notifier != nil {
		if fresh, err := r.repo.GetItem(ctx, item.ID); err == nil {
			r.notifier.NotifyInventoryUpdate(*fresh)
		}
	}

	return result, nil
}

func (r *Reconciler) lockItem(ctx context.Context, id int64) (func(), error) {
	mu := &r.itemMu[uint64(id)%itemLockStripes]
	mu.Lock()
	if r.locker == nil {
		return mu.Unlock, nil
	}

	lock, err := r.locker.Lock(ctx, fmt.Sprintf("sync:item:%d", id), itemLockTTL)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("item %d: acquiring push lock: %w", id, err)
	}
	return func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("releasing push lock", slog.Int64("item_id", id), slog.String("error", err.Error()))
		}
		mu.Unlock()
	}, nil
}

func (r *Reconciler) itemFailure(item *model.InventoryItem, op string, err error) (model.ItemResult, error) {
	ierr := &ItemError{ItemID: item.ID, Op: op, Err: err}
	return failedResult(item, ierr.Error()), ierr
}

func (r *Reconciler) localFailure(item *model.InventoryItem, err error) (model.ItemResult, error) {
	if errors.Is(err, repository.ErrRemoteIDAssigned) {
		err = fmt.Errorf("%w: %w", ErrRemoteIDAssigned, err)
	}
	lerr := &LocalTxError{ItemID: item.ID, Err: err}
	return failedResult(item, lerr.Error()), lerr
}

func failedResult(item *model.InventoryItem, reason string) model.ItemResult {
	return model.ItemResult{
		ItemID:  item.ID,
		Name:    item.Name,
		Success: false,
		Error:   reason,
	}
}

// remotePayload maps a local item onto the remote item shape.
func (r *Reconciler) remotePayload(item *model.InventoryItem) *qbo.Item {
	accounts := r.cfg.Accounts

	return &qbo.Item{
		Name:              remoteName(item.Name),
		Type:              qbo.ItemTypeInventory,
		TrackQtyOnHand:    true,
		QtyOnHand:         float64(item.Quantity),
		Description:       item.Description,
		PurchaseCost:      item.Cost,
		IncomeAccountRef:  &qbo.Ref{Value: accounts.Income.ID, Name: accounts.Income.Name},
		AssetAccountRef:   &qbo.Ref{Value: accounts.Asset.ID, Name: accounts.Asset.Name},
		ExpenseAccountRef: &qbo.Ref{Value: accounts.Expense.ID, Name: accounts.Expense.Name},
	}
}

// remoteName normalizes a display name for the accounting system: NFC,
// no colons (they denote sub-items remotely), no surrounding space, and at
// most maxRemoteNameLen characters.
func remoteName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, ":", "-")

	if utf8.RuneCountInString(name) <= maxRemoteNameLen {
		return name
	}
	runes := []rune(name)
	return string(runes[:maxRemoteNameLen])
}
