package model

// RemoteItem is an inventory item as the accounting system holds it. It is
// shown next to local items and never written back.
type RemoteItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	SKU         string  `json:"sku"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Cost        float64 `json:"cost"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	SyncToken   string  `json:"sync_token,omitempty"`
}

// LedgerAccount is a remote account an inventory item can reference.
// Configured marks the account pushed items are attached to.
type LedgerAccount struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	FullName   string  `json:"full_name,omitempty"`
	SubType    string  `json:"sub_type,omitempty"`
	Active     bool    `json:"active"`
	Balance    float64 `json:"balance"`
	Configured bool    `json:"configured"`
}

// AccountCatalog groups ledger accounts by the role they play for items.
type AccountCatalog struct {
	Income []LedgerAccount `json:"income"`
	COGS   []LedgerAccount `json:"cogs"`
	Asset  []LedgerAccount `json:"asset"`
}
