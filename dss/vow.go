package dss

import (
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var vowABI = mustABI(`[
  {"type":"function","name":"heal","stateMutability":"nonpayable","inputs":[{"name":"rad","type":"uint256"}],"outputs":[]}
]`)

// Vow is the settlement account. Its internal dai balance must be annihilated
// before the system can thaw.
type Vow struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewVow binds the settlement account contract at the given address.
func NewVow(address common.Address, backend bind.ContractBackend) *Vow {
	return &Vow{
		address:  address,
		contract: bind.NewBoundContract(address, vowABI, backend, backend, backend),
	}
}

// Address returns the settlement account address.
func (v *Vow) Address() common.Address { return v.address }

// Heal annihilates surplus dai against bad debt.
func (v *Vow) Heal(opts *bind.TransactOpts, amount Rad) (*types.Transaction, error) {
	return v.contract.Transact(opts, "heal", amount.Int())
}
