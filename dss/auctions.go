package dss

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// AuctionHouse is the read surface common to all four auction variants:
// a total-kicked counter and per-id bid state.
type AuctionHouse interface {
	Kind() AuctionKind
	Address() common.Address
	Kicks(ctx context.Context) (*big.Int, error)
	Bid(ctx context.Context, id *big.Int) (Bid, error)
}

// ActiveLister is the direct active-auction enumeration only the new-style
// collateral variant exposes.
type ActiveLister interface {
	ActiveBids(ctx context.Context) ([]Bid, error)
}

var flipperABI = mustABI(`[
  {"type":"function","name":"kicks","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"bids","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"bid","type":"uint256"},{"name":"lot","type":"uint256"},{"name":"guy","type":"address"},{"name":"tic","type":"uint48"},{"name":"end","type":"uint48"},{"name":"usr","type":"address"},{"name":"gal","type":"address"},{"name":"tab","type":"uint256"}]}
]`)

var clipperABI = mustABI(`[
  {"type":"function","name":"kicks","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"count","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"list","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"sales","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"pos","type":"uint256"},{"name":"tab","type":"uint256"},{"name":"lot","type":"uint256"},{"name":"usr","type":"address"},{"name":"tic","type":"uint96"},{"name":"top","type":"uint256"}]}
]`)

var kickableABI = mustABI(`[
  {"type":"function","name":"kicks","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"bids","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"bid","type":"uint256"},{"name":"lot","type":"uint256"},{"name":"guy","type":"address"},{"name":"tic","type":"uint48"},{"name":"end","type":"uint48"}]},
  {"type":"function","name":"yank","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"}],"outputs":[]}
]`)

func callKicks(ctx context.Context, contract *bind.BoundContract, kind AuctionKind) (*big.Int, error) {
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "kicks"); err != nil {
		return nil, fmt.Errorf("%s kicks: %w", kind, err)
	}
	return out[0].(*big.Int), nil
}

// Flipper is a legacy collateral auction house for one ilk.
type Flipper struct {
	address  common.Address
	ilk      string
	contract *bind.BoundContract
}

// NewFlipper binds a legacy collateral auction house.
func NewFlipper(address common.Address, ilk string, backend bind.ContractBackend) *Flipper {
	return &Flipper{
		address:  address,
		ilk:      ilk,
		contract: bind.NewBoundContract(address, flipperABI, backend, backend, backend),
	}
}

// Kind reports the auction variant tag.
func (f *Flipper) Kind() AuctionKind { return KindFlip }

// Address returns the auction house address.
func (f *Flipper) Address() common.Address { return f.address }

// Ilk returns the collateral type this house auctions.
func (f *Flipper) Ilk() string { return f.ilk }

// Kicks returns the total number of auctions ever started.
func (f *Flipper) Kicks(ctx context.Context) (*big.Int, error) {
	return callKicks(ctx, f.contract, KindFlip)
}

// Bid reads the bid state for one auction id.
func (f *Flipper) Bid(ctx context.Context, id *big.Int) (Bid, error) {
	var out []interface{}
	if err := f.contract.Call(&bind.CallOpts{Context: ctx}, &out, "bids", id); err != nil {
		return Bid{}, fmt.Errorf("flip bids(%s): %w", id, err)
	}
	return Bid{
		ID:   new(big.Int).Set(id),
		Kind: KindFlip,
		Ilk:  f.ilk,
		Guy:  out[2].(common.Address),
		Bid:  NewRad(out[0].(*big.Int)),
		Tab:  NewRad(out[7].(*big.Int)),
	}, nil
}

// Clipper is a new-style collateral auction house for one ilk.
type Clipper struct {
	address  common.Address
	ilk      string
	contract *bind.BoundContract
}

// NewClipper binds a new-style collateral auction house.
func NewClipper(address common.Address, ilk string, backend bind.ContractBackend) *Clipper {
	return &Clipper{
		address:  address,
		ilk:      ilk,
		contract: bind.NewBoundContract(address, clipperABI, backend, backend, backend),
	}
}

// Kind reports the auction variant tag.
func (c *Clipper) Kind() AuctionKind { return KindClip }

// Address returns the auction house address.
func (c *Clipper) Address() common.Address { return c.address }

// Ilk returns the collateral type this house auctions.
func (c *Clipper) Ilk() string { return c.ilk }

// Kicks returns the total number of auctions ever started.
func (c *Clipper) Kicks(ctx context.Context) (*big.Int, error) {
	return callKicks(ctx, c.contract, KindClip)
}

// Bid reads the sale state for one auction id.
func (c *Clipper) Bid(ctx context.Context, id *big.Int) (Bid, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "sales", id); err != nil {
		return Bid{}, fmt.Errorf("clip sales(%s): %w", id, err)
	}
	return Bid{
		ID:   new(big.Int).Set(id),
		Kind: KindClip,
		Ilk:  c.ilk,
		Guy:  out[3].(common.Address),
		Tab:  NewRad(out[1].(*big.Int)),
	}, nil
}

// ActiveBids enumerates currently running auctions via the contract's own
// active list, avoiding a full id sweep.
func (c *Clipper) ActiveBids(ctx context.Context) ([]Bid, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "list"); err != nil {
		return nil, fmt.Errorf("clip list: %w", err)
	}
	ids := out[0].([]*big.Int)
	bids := make([]Bid, 0, len(ids))
	for _, id := range ids {
		bid, err := c.Bid(ctx, id)
		if err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	return bids, nil
}

// Flapper is the global surplus auction house.
type Flapper struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewFlapper binds the surplus auction house.
func NewFlapper(address common.Address, backend bind.ContractBackend) *Flapper {
	return &Flapper{
		address:  address,
		contract: bind.NewBoundContract(address, kickableABI, backend, backend, backend),
	}
}

// Kind reports the auction variant tag.
func (f *Flapper) Kind() AuctionKind { return KindFlap }

// Address returns the auction house address.
func (f *Flapper) Address() common.Address { return f.address }

// Kicks returns the total number of auctions ever started.
func (f *Flapper) Kicks(ctx context.Context) (*big.Int, error) {
	return callKicks(ctx, f.contract, KindFlap)
}

// Bid reads the bid state for one auction id.
func (f *Flapper) Bid(ctx context.Context, id *big.Int) (Bid, error) {
	return readKickableBid(ctx, f.contract, KindFlap, id)
}

// Yank force-cancels one auction during shutdown.
func (f *Flapper) Yank(opts *bind.TransactOpts, id *big.Int) (*types.Transaction, error) {
	return f.contract.Transact(opts, "yank", id)
}

// Flopper is the global debt auction house.
type Flopper struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewFlopper binds the debt auction house.
func NewFlopper(address common.Address, backend bind.ContractBackend) *Flopper {
	return &Flopper{
		address:  address,
		contract: bind.NewBoundContract(address, kickableABI, backend, backend, backend),
	}
}

// Kind reports the auction variant tag.
func (f *Flopper) Kind() AuctionKind { return KindFlop }

// Address returns the auction house address.
func (f *Flopper) Address() common.Address { return f.address }

// Kicks returns the total number of auctions ever started.
func (f *Flopper) Kicks(ctx context.Context) (*big.Int, error) {
	return callKicks(ctx, f.contract, KindFlop)
}

// Bid reads the bid state for one auction id.
func (f *Flopper) Bid(ctx context.Context, id *big.Int) (Bid, error) {
	return readKickableBid(ctx, f.contract, KindFlop, id)
}

// Yank force-cancels one auction during shutdown.
func (f *Flopper) Yank(opts *bind.TransactOpts, id *big.Int) (*types.Transaction, error) {
	return f.contract.Transact(opts, "yank", id)
}

func readKickableBid(ctx context.Context, contract *bind.BoundContract, kind AuctionKind, id *big.Int) (Bid, error) {
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "bids", id); err != nil {
		return Bid{}, fmt.Errorf("%s bids(%s): %w", kind, id, err)
	}
	return Bid{
		ID:   new(big.Int).Set(id),
		Kind: kind,
		Guy:  out[2].(common.Address),
		Bid:  NewRad(out[0].(*big.Int)),
	}, nil
}
