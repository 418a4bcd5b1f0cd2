package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/BurntSushi/toml"
)

// AccountRef points at a ledger account in the accounting system.
type AccountRef struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// AccountRefs are the ledger accounts attached to every inventory item pushed
// to the accounting system.
type AccountRefs struct {
	Income  AccountRef `toml:"income"`
	Asset   AccountRef `toml:"asset"`
	Expense AccountRef `toml:"expense"`
}

// DefaultAccountRefs returns the chart-of-accounts ids of a fresh company file.
func DefaultAccountRefs() AccountRefs {
	return AccountRefs{
		Income:  AccountRef{ID: "128", Name: "Sales of Product Income"},
		Asset:   AccountRef{ID: "130", Name: "Inventory Asset"},
		Expense: AccountRef{ID: "129", Name: "Cost of Goods Sold"},
	}
}

// LoadAccountRefs reads account references from a TOML file. A missing file
// yields the defaults; keys absent from the file keep their default value.
//
//	[income]
//	id = "79"
//	name = "Sales of Product Income"
func LoadAccountRefs(path string) (AccountRefs, error) {
	refs := DefaultAccountRefs()
	if path == "" {
		return refs, nil
	}

	if _, err := toml.DecodeFile(path, &refs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultAccountRefs(), nil
		}
		return AccountRefs{}, fmt.Errorf("config: reading account refs %s: %w", path, err)
	}

	for name, ref := range map[string]AccountRef{"income": refs.Income, "asset": refs.Asset, "expense": refs.Expense} {
		if ref.ID == "" {
			return AccountRefs{}, fmt.Errorf("config: account %q has an empty id in %s", name, path)
		}
	}

	return refs, nil
}
