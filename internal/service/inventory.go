package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Robinemad1/EEETrading/internal/model"
	"github.com/Robinemad1/EEETrading/internal/repository"
)

// recentSyncLimit is the length of the dashboard's recent activity list.
const recentSyncLimit = 5

// ChangeSignaler is told about every committed local mutation.
type ChangeSignaler interface {
	NotifyChange()
}

// InventoryService handles local inventory writes. Every write commits
// locally first; notification and the remote push follow the commit and
// never undo it.
type InventoryService struct {
	repo       repository.InventoryRepository
	reconciler *Reconciler
	signaler   ChangeSignaler
	notifier   ChangeNotifier
	logger     *slog.Logger

	nowFunc func() time.Time
}

// NewInventoryService creates a new inventory service. signaler and
// notifier may be nil.
func NewInventoryService(
	repo repository.InventoryRepository,
	reconciler *Reconciler,
	signaler ChangeSignaler,
	notifier ChangeNotifier,
	logger *slog.Logger,
) *InventoryService {
	return &InventoryService{
		repo:       repo,
		reconciler: reconciler,
		signaler:   signaler,
		notifier:   notifier,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// CreateItem stores an operator-created item. It has no remote id yet, so
// the next pass creates it remotely.
func (s *InventoryService) CreateItem(ctx context.Context, in model.NewInventoryItem) (*model.InventoryItem, error) {
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	case in.Quantity < 0:
		return nil, fmt.Errorf("%w: quantity must be a non-negative integer", ErrInvalidInput)
	case in.Cost < 0:
		return nil, fmt.Errorf("%w: cost must not be negative", ErrInvalidInput)
	}

	item := &model.InventoryItem{
		Name:        name,
		Quantity:    in.Quantity,
		Cost:        in.Cost,
		Description: in.Description,
		CreatedAt:   s.nowFunc().UTC(),
	}
	if err := s.repo.CreateItem(ctx, item); err != nil {
		return nil, &LocalTxError{Err: err}
	}

	s.logger.Info("inventory item created",
		slog.Int64("item_id", item.ID),
		slog.String("name", item.Name),
	)

	s.afterCommit(item)
	return item, nil
}

// ListItems returns the local inventory.
func (s *InventoryService) ListItems(ctx context.Context) ([]model.InventoryItem, error) {
	return s.repo.ListItems(ctx)
}

// GetItem returns one item.
func (s *InventoryService) GetItem(ctx context.Context, id int64) (*model.InventoryItem, error) {
	item, err := s.repo.GetItem(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrItemNotFound
	}
	return item, err
}

// UpdateQuantity commits a quantity change and then pushes the item. A
// failed push is reported in the result, not as an error; only local
// failures are returned as errors.
func (s *InventoryService) UpdateQuantity(ctx context.Context, id int64, quantity int) (*model.QuantityUpdateResult, error) {
	item, err := s.applyLocal(ctx, id, quantity)
	if err != nil {
		return nil, err
	}

	result := &model.QuantityUpdateResult{Item: item}

	pushed, err := s.reconciler.PushItem(ctx, id)
	if err != nil {
		s.logger.Warn("quantity updated locally but not remotely",
			slog.Int64("item_id", id),
			slog.String("error", err.Error()),
		)
		result.SyncError = err.Error()
		return result, nil
	}

	// A newer local write overtook this push; its own push follows.
	result.Synced = !pushed.Pending
	if fresh, err := s.repo.GetItem(ctx, id); err == nil {
		result.Item = fresh
	}
	return result, nil
}

// BatchUpdate applies each entry independently: a failure on one entry
// never affects the others.
func (s *InventoryService) BatchUpdate(ctx context.Context, updates []model.QuantityUpdate) *model.BatchUpdateResult {
	result := &model.BatchUpdateResult{
		Successes: []model.BatchSuccess{},
		Errors:    []model.BatchFailure{},
	}

	for _, u := range updates {
		item, err := s.applyLocal(ctx, u.ItemID, u.Quantity)
		if err != nil {
			result.Errors = append(result.Errors, model.BatchFailure{ItemID: u.ItemID, Error: err.Error()})
			continue
		}

		entry := model.BatchSuccess{ItemID: item.ID, NewQuantity: item.Quantity}
		if pushed, err := s.reconciler.PushItem(ctx, item.ID); err != nil {
			entry.SyncError = err.Error()
		} else {
			entry.Synced = !pushed.Pending
		}
		result.Successes = append(result.Successes, entry)
	}

	s.logger.Info("batch update finished",
		slog.Int("updated", len(result.Successes)),
		slog.Int("failed", len(result.Errors)),
	)
	return result
}

// applyLocal runs the local transaction for a quantity change and fans the
// committed state out.
func (s *InventoryService) applyLocal(ctx context.Context, id int64, quantity int) (*model.InventoryItem, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must be a non-negative integer", ErrInvalidInput)
	}

	item, err := s.repo.UpdateQuantity(ctx, id, quantity, s.nowFunc())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, &LocalTxError{ItemID: id, Err: err}
	}

	s.afterCommit(item)
	return item, nil
}

func (s *InventoryService) afterCommit(item *model.InventoryItem) {
	if s.notifier != nil {
		s.notifier.NotifyInventoryUpdate(*item)
	}
	if s.signaler != nil {
		s.signaler.NotifyChange()
	}
}

// SyncStats returns dashboard statistics including the current stale count.
func (s *InventoryService) SyncStats(ctx context.Context) (*model.SyncStats, error) {
	stats, err := s.repo.GetSyncStats(ctx, recentSyncLimit)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()
	threshold := s.reconciler.StaleAfter()
	for _, item := range items {
		if ItemNeedsSync(item.LastSync, now, threshold) {
			stats.StaleItems++
		}
	}
	return stats, nil
}
