package qbo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// ItemTypeInventory marks a quantity-tracked item.
const ItemTypeInventory = "Inventory"

// Ref references another entity, such as a ledger account.
type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

// Item is the remote representation of an inventory item. SyncToken is the
// optimistic-concurrency version token the server requires on update.
type Item struct {
	ID                string  `json:"Id,omitempty"`
	SyncToken         string  `json:"SyncToken,omitempty"`
	Name              string  `json:"Name"`
	Sku               string  `json:"Sku,omitempty"`
	Type              string  `json:"Type,omitempty"`
	TrackQtyOnHand    bool    `json:"TrackQtyOnHand"`
	QtyOnHand         float64 `json:"QtyOnHand"`
	InvStartDate      string  `json:"InvStartDate,omitempty"`
	Description       string  `json:"Description,omitempty"`
	UnitPrice         float64 `json:"UnitPrice,omitempty"`
	PurchaseCost      float64 `json:"PurchaseCost"`
	IncomeAccountRef  *Ref    `json:"IncomeAccountRef,omitempty"`
	AssetAccountRef   *Ref    `json:"AssetAccountRef,omitempty"`
	ExpenseAccountRef *Ref    `json:"ExpenseAccountRef,omitempty"`
	Active            *bool   `json:"Active,omitempty"`
}

type itemEnvelope struct {
	Item *Item `json:"Item"`
}

// CreateItem creates an item and returns the server copy with Id and SyncToken.
func (c *Client) CreateItem(ctx context.Context, item *Item) (*Item, error) {
	if item.ID != "" {
		return nil, fmt.Errorf("qbo: create item %q: Id must be empty", item.Name)
	}

	var env itemEnvelope
	if err := c.do(ctx, http.MethodPost, "/item", nil, item, &env); err != nil {
		return nil, err
	}
	if env.Item == nil {
		return nil, fmt.Errorf("qbo: create item %q: empty response", item.Name)
	}

	return env.Item, nil
}

// GetItem reads an item by remote id.
func (c *Client) GetItem(ctx context.Context, id string) (*Item, error) {
	var env itemEnvelope
	if err := c.do(ctx, http.MethodGet, "/item/"+url.PathEscape(id), nil, nil, &env); err != nil {
		return nil, err
	}
	if env.Item == nil {
		return nil, fmt.Errorf("qbo: get item %s: empty response", id)
	}

	return env.Item, nil
}

// UpdateItem performs a full update. item must carry Id and the SyncToken
// of the revision being replaced; a stale token yields ErrStaleObject.
func (c *Client) UpdateItem(ctx context.Context, item *Item) (*Item, error) {
	if item.ID == "" || item.SyncToken == "" {
		return nil, fmt.Errorf("qbo: update item %q: Id and SyncToken are required", item.Name)
	}

	var env itemEnvelope
	if err := c.do(ctx, http.MethodPost, "/item", nil, item, &env); err != nil {
		return nil, err
	}
	if env.Item == nil {
		return nil, fmt.Errorf("qbo: update item %s: empty response", item.ID)
	}

	return env.Item, nil
}
