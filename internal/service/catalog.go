package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Robinemad1/EEETrading/internal/config"
	"github.com/Robinemad1/EEETrading/internal/model"
	"github.com/Robinemad1/EEETrading/internal/qbo"
)

// CatalogService reads the remote catalogue for operators. Reads go through
// the same refresh-and-retry session as pushes. Nothing read here changes
// local state.
type CatalogService struct {
	clients  *ClientFactory
	accounts config.AccountRefs
	logger   *slog.Logger
}

// NewCatalogService creates a catalogue reader. accounts marks the ledger
// accounts pushed items reference.
func NewCatalogService(clients *ClientFactory, accounts config.AccountRefs, logger *slog.Logger) *CatalogService {
	if accounts == (config.AccountRefs{}) {
		accounts = config.DefaultAccountRefs()
	}
	return &CatalogService{clients: clients, accounts: accounts, logger: logger}
}

// Items lists the active remote inventory items.
func (s *CatalogService) Items(ctx context.Context) ([]model.RemoteItem, error) {
	session, err := s.clients.Client(ctx)
	if err != nil {
		return nil, err
	}

	items, err := session.QueryItems(ctx)
	if err != nil {
		return nil, remoteReadError("listing items", err)
	}

	out := make([]model.RemoteItem, 0, len(items))
	for i := range items {
		out = append(out, toRemoteItem(&items[i]))
	}

	s.logger.Debug("remote items listed", slog.Int("count", len(out)))
	return out, nil
}

// Item reads one remote item by its remote id.
func (s *CatalogService) Item(ctx context.Context, remoteID string) (*model.RemoteItem, error) {
	if n, err := strconv.ParseUint(remoteID, 10, 64); err != nil || n == 0 {
		return nil, fmt.Errorf("%w: remote id must be a positive integer", ErrInvalidInput)
	}

	session, err := s.clients.Client(ctx)
	if err != nil {
		return nil, err
	}

	item, err := session.GetItem(ctx, remoteID)
	if err != nil {
		return nil, remoteReadError("reading item "+remoteID, err)
	}

	out := toRemoteItem(item)
	return &out, nil
}

// Accounts lists the income, cost of goods sold and asset accounts.
func (s *CatalogService) Accounts(ctx context.Context) (*model.AccountCatalog, error) {
	session, err := s.clients.Client(ctx)
	if err != nil {
		return nil, err
	}

	accounts, err := session.QueryAccounts(ctx)
	if err != nil {
		return nil, remoteReadError("listing accounts", err)
	}

	catalog := &model.AccountCatalog{
		Income: []model.LedgerAccount{},
		COGS:   []model.LedgerAccount{},
		Asset:  []model.LedgerAccount{},
	}
	for _, a := range accounts {
		switch a.AccountType {
		case qbo.AccountTypeIncome:
			catalog.Income = append(catalog.Income, toLedgerAccount(a, s.accounts.Income.ID))
		case qbo.AccountTypeCostOfGoodsSold:
			catalog.COGS = append(catalog.COGS, toLedgerAccount(a, s.accounts.Expense.ID))
		case qbo.AccountTypeOtherCurrentAsset:
			catalog.Asset = append(catalog.Asset, toLedgerAccount(a, s.accounts.Asset.ID))
		}
	}
	return catalog, nil
}

// remoteReadError keeps credential errors as they are and classifies the
// rest for callers.
func remoteReadError(op string, err error) error {
	switch {
	case errors.Is(err, ErrRemoteAuth), errors.Is(err, ErrRefreshFailed), errors.Is(err, ErrNoCredential):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, qbo.ErrNotFound):
		return fmt.Errorf("%w: %s: %w", ErrRemoteNotFound, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrRemoteUnavailable, op, err)
	}
}

func toRemoteItem(item *qbo.Item) model.RemoteItem {
	category := item.Type
	if category == "" {
		category = qbo.ItemTypeInventory
	}
	return model.RemoteItem{
		ID:          item.ID,
		Name:        item.Name,
		SKU:         item.Sku,
		Quantity:    item.QtyOnHand,
		UnitPrice:   item.UnitPrice,
		Cost:        item.PurchaseCost,
		Description: item.Description,
		Category:    category,
		SyncToken:   item.SyncToken,
	}
}

func toLedgerAccount(a qbo.Account, configuredID string) model.LedgerAccount {
	return model.LedgerAccount{
		ID:         a.ID,
		Name:       a.Name,
		FullName:   a.FullyQualifiedName,
		SubType:    a.AccountSubType,
		Active:     a.Active,
		Balance:    a.CurrentBalance,
		Configured: a.ID == configuredID,
	}
}
