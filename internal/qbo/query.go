package qbo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// queryPageSize is the largest page the query endpoint returns.
const queryPageSize = 1000

// Ledger account types an inventory item references.
const (
	AccountTypeIncome            = "Income"
	AccountTypeCostOfGoodsSold   = "Cost of Goods Sold"
	AccountTypeOtherCurrentAsset = "Other Current Asset"
)

// Account is a ledger account.
type Account struct {
	ID                 string  `json:"Id"`
	Name               string  `json:"Name"`
	FullyQualifiedName string  `json:"FullyQualifiedName,omitempty"`
	AccountType        string  `json:"AccountType"`
	AccountSubType     string  `json:"AccountSubType,omitempty"`
	Active             bool    `json:"Active"`
	CurrentBalance     float64 `json:"CurrentBalance"`
}

type queryEnvelope struct {
	QueryResponse struct {
		Item          []Item    `json:"Item"`
		Account       []Account `json:"Account"`
		StartPosition int       `json:"startPosition"`
		MaxResults    int       `json:"maxResults"`
	} `json:"QueryResponse"`
}

// QueryItems lists every active inventory item, following pages.
func (c *Client) QueryItems(ctx context.Context) ([]Item, error) {
	items := make([]Item, 0)
	err := c.queryAll(ctx, "select * from Item where Active = true and Type = 'Inventory'", func(env *queryEnvelope) int {
		items = append(items, env.QueryResponse.Item...)
		return len(env.QueryResponse.Item)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// QueryAccounts lists the income, cost of goods sold and inventory asset
// accounts.
func (c *Client) QueryAccounts(ctx context.Context) ([]Account, error) {
	statement := fmt.Sprintf("select * from Account where AccountType in ('%s', '%s', '%s')",
		AccountTypeIncome, AccountTypeCostOfGoodsSold, AccountTypeOtherCurrentAsset)

	accounts := make([]Account, 0)
	err := c.queryAll(ctx, statement, func(env *queryEnvelope) int {
		accounts = append(accounts, env.QueryResponse.Account...)
		return len(env.QueryResponse.Account)
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// queryAll runs statement page by page until a short page comes back.
// collect returns the number of rows it took from a page.
func (c *Client) queryAll(ctx context.Context, statement string, collect func(*queryEnvelope) int) error {
	for start := 1; ; start += queryPageSize {
		paged := fmt.Sprintf("%s startposition %d maxresults %d", statement, start, queryPageSize)

		var env queryEnvelope
		if err := c.do(ctx, http.MethodGet, "/query", url.Values{"query": {paged}}, nil, &env); err != nil {
			return err
		}
		if collect(&env) < queryPageSize {
			return nil
		}
	}
}
