// Package urnhistory reconstructs the set of debt positions for a collateral
// type. The ledger does not expose positions as an enumerable collection, so
// the set of owners has to be derived from the historical sequence of
// debt-adjustment events, either by replaying chain logs or by querying a
// pre-indexed service.
package urnhistory

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"cagekeeper/dss"
)

// Provider returns the current positions for a collateral type. Both
// implementations must return an identical logical result for the same
// inputs; the scanner does not care which one it holds.
type Provider interface {
	Urns(ctx context.Context, ilk string) (map[common.Address]dss.Urn, error)
}
