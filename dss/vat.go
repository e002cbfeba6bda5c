package dss

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

var vatABI = mustABI(`[
  {"type":"function","name":"ilks","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"Art","type":"uint256"},{"name":"rate","type":"uint256"},{"name":"spot","type":"uint256"},{"name":"line","type":"uint256"},{"name":"dust","type":"uint256"}]},
  {"type":"function","name":"urns","stateMutability":"view","inputs":[{"name":"","type":"bytes32"},{"name":"","type":"address"}],"outputs":[{"name":"ink","type":"uint256"},{"name":"art","type":"uint256"}]},
  {"type":"function","name":"dai","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`)

// Vat is the core ledger: per-ilk risk parameters, per-urn balances, and
// internal dai balances.
type Vat struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewVat binds the ledger contract at the given address.
func NewVat(address common.Address, backend bind.ContractBackend) *Vat {
	return &Vat{
		address:  address,
		contract: bind.NewBoundContract(address, vatABI, backend, backend, backend),
	}
}

// Address returns the ledger contract address.
func (v *Vat) Address() common.Address { return v.address }

// ABI exposes the parsed ledger ABI for log topic derivation.
func (v *Vat) ABI() abi.ABI { return vatABI }

// Ilk reads the current risk parameters for a collateral type.
func (v *Vat) Ilk(ctx context.Context, name string) (Ilk, error) {
	var out []interface{}
	err := v.contract.Call(&bind.CallOpts{Context: ctx}, &out, "ilks", IlkBytes(name))
	if err != nil {
		return Ilk{}, fmt.Errorf("vat ilks(%s): %w", name, err)
	}
	return Ilk{
		Name: name,
		Art:  NewWad(out[0].(*big.Int)),
		Rate: NewRay(out[1].(*big.Int)),
		Spot: NewRay(out[2].(*big.Int)),
		Line: NewRad(out[3].(*big.Int)),
		Dust: NewRad(out[4].(*big.Int)),
	}, nil
}

// Urn reads the current collateral and debt balances for one position.
func (v *Vat) Urn(ctx context.Context, ilk string, owner common.Address) (Urn, error) {
	var out []interface{}
	err := v.contract.Call(&bind.CallOpts{Context: ctx}, &out, "urns", IlkBytes(ilk), owner)
	if err != nil {
		return Urn{}, fmt.Errorf("vat urns(%s, %s): %w", ilk, owner.Hex(), err)
	}
	return Urn{
		Ilk:     ilk,
		Address: owner,
		Ink:     NewWad(out[0].(*big.Int)),
		Art:     NewWad(out[1].(*big.Int)),
	}, nil
}

// Dai reads the internal dai balance of an account.
func (v *Vat) Dai(ctx context.Context, account common.Address) (Rad, error) {
	var out []interface{}
	err := v.contract.Call(&bind.CallOpts{Context: ctx}, &out, "dai", account)
	if err != nil {
		return Rad{}, fmt.Errorf("vat dai(%s): %w", account.Hex(), err)
	}
	return NewRad(out[0].(*big.Int)), nil
}
