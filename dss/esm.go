package dss

import (
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var esmABI = mustABI(`[
  {"type":"function","name":"burn","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"deny","stateMutability":"nonpayable","inputs":[{"name":"usr","type":"address"}],"outputs":[]}
]`)

// ESM is the emergency shutdown module holding the governance deposit.
type ESM struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewESM binds the emergency shutdown module at the given address.
func NewESM(address common.Address, backend bind.ContractBackend) *ESM {
	return &ESM{
		address:  address,
		contract: bind.NewBoundContract(address, esmABI, backend, backend, backend),
	}
}

// Address returns the emergency shutdown module address.
func (e *ESM) Address() common.Address { return e.address }

// Burn destroys the deposited governance tokens after shutdown.
func (e *ESM) Burn(opts *bind.TransactOpts) (*types.Transaction, error) {
	return e.contract.Transact(opts, "burn")
}

// Deny revokes an auction contract's settlement-triggering permission.
func (e *ESM) Deny(opts *bind.TransactOpts, usr common.Address) (*types.Transaction, error) {
	return e.contract.Transact(opts, "deny", usr)
}
