package dss

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

var spotterABI = mustABI(`[
  {"type":"function","name":"ilks","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"pip","type":"address"},{"name":"mat","type":"uint256"}]}
]`)

// Spotter exposes the per-ilk liquidation ratio.
type Spotter struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewSpotter binds the spotter contract at the given address.
func NewSpotter(address common.Address, backend bind.ContractBackend) *Spotter {
	return &Spotter{
		address:  address,
		contract: bind.NewBoundContract(address, spotterABI, backend, backend, backend),
	}
}

// Address returns the spotter contract address.
func (s *Spotter) Address() common.Address { return s.address }

// Mat reads the liquidation ratio for a collateral type.
func (s *Spotter) Mat(ctx context.Context, ilk string) (Ray, error) {
	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "ilks", IlkBytes(ilk))
	if err != nil {
		return Ray{}, fmt.Errorf("spotter ilks(%s): %w", ilk, err)
	}
	return NewRay(out[1].(*big.Int)), nil
}
