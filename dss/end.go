package dss

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var endABI = mustABI(`[
  {"type":"function","name":"live","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"when","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"wait","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"cage","stateMutability":"nonpayable","inputs":[{"name":"ilk","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"skip","stateMutability":"nonpayable","inputs":[{"name":"ilk","type":"bytes32"},{"name":"id","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"snip","stateMutability":"nonpayable","inputs":[{"name":"ilk","type":"bytes32"},{"name":"id","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"skim","stateMutability":"nonpayable","inputs":[{"name":"ilk","type":"bytes32"},{"name":"urn","type":"address"}],"outputs":[]},
  {"type":"function","name":"thaw","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"flow","stateMutability":"nonpayable","inputs":[{"name":"ilk","type":"bytes32"}],"outputs":[]}
]`)

// End is the shutdown module: holds the cage flag and timestamps and exposes
// the per-phase unwind operations.
type End struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewEnd binds the shutdown module at the given address.
func NewEnd(address common.Address, backend bind.ContractBackend) *End {
	return &End{
		address:  address,
		contract: bind.NewBoundContract(address, endABI, backend, backend, backend),
	}
}

// Address returns the shutdown module address.
func (e *End) Address() common.Address { return e.address }

// Live reports whether the protocol is still running. False means the cage
// has been triggered.
func (e *End) Live(ctx context.Context) (bool, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "live"); err != nil {
		return false, fmt.Errorf("end live: %w", err)
	}
	return out[0].(*big.Int).Sign() != 0, nil
}

// When returns the cage timestamp.
func (e *End) When(ctx context.Context) (time.Time, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "when"); err != nil {
		return time.Time{}, fmt.Errorf("end when: %w", err)
	}
	return time.Unix(out[0].(*big.Int).Int64(), 0).UTC(), nil
}

// Wait returns the processing window that must elapse before thaw.
func (e *End) Wait(ctx context.Context) (time.Duration, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "wait"); err != nil {
		return 0, fmt.Errorf("end wait: %w", err)
	}
	return time.Duration(out[0].(*big.Int).Int64()) * time.Second, nil
}

// Cage freezes one collateral type for settlement.
func (e *End) Cage(opts *bind.TransactOpts, ilk string) (*types.Transaction, error) {
	return e.contract.Transact(opts, "cage", IlkBytes(ilk))
}

// Skip force-settles one legacy collateral auction.
func (e *End) Skip(opts *bind.TransactOpts, ilk string, id *big.Int) (*types.Transaction, error) {
	return e.contract.Transact(opts, "skip", IlkBytes(ilk), id)
}

// Snip force-settles one new-style collateral auction.
func (e *End) Snip(opts *bind.TransactOpts, ilk string, id *big.Int) (*types.Transaction, error) {
	return e.contract.Transact(opts, "snip", IlkBytes(ilk), id)
}

// Skim marks down one under-collateralized position.
func (e *End) Skim(opts *bind.TransactOpts, ilk string, urn common.Address) (*types.Transaction, error) {
	return e.contract.Transact(opts, "skim", IlkBytes(ilk), urn)
}

// Thaw ends the processing window once End.wait has elapsed.
func (e *End) Thaw(opts *bind.TransactOpts) (*types.Transaction, error) {
	return e.contract.Transact(opts, "thaw")
}

// Flow fixes the final redemption ratio for one collateral type.
func (e *End) Flow(opts *bind.TransactOpts, ilk string) (*types.Transaction, error) {
	return e.contract.Transact(opts, "flow", IlkBytes(ilk))
}
