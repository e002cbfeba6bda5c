package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"cagekeeper/dss"
)

// DssWriter submits protocol transactions one at a time, each signed with the
// keeper's single account and awaited to inclusion before the next is sent.
// It exclusively owns the signing account's nonce sequence.
type DssWriter struct {
	dep     *dss.Deployment
	backend bind.DeployBackend
	opts    *bind.TransactOpts
	gas     GasStrategy

	// reactiveMultiplier scales the price for the one same-nonce replacement
	// attempted when a transaction is not mined within mineTimeout.
	reactiveMultiplier float64
	mineTimeout        time.Duration
	log                *slog.Logger
}

// DssWriterOption customises a DssWriter.
type DssWriterOption func(*DssWriter)

// WithMineTimeout overrides how long a transaction may stay unmined before a
// replacement is attempted.
func WithMineTimeout(timeout time.Duration) DssWriterOption {
	return func(w *DssWriter) { w.mineTimeout = timeout }
}

// WithReactiveMultiplier overrides the replacement price multiplier.
func WithReactiveMultiplier(multiplier float64) DssWriterOption {
	return func(w *DssWriter) { w.reactiveMultiplier = multiplier }
}

// NewDssWriter builds the write surface over a deployment. opts must carry
// the keeper account and signer; its nonce and gas price fields are managed
// per call.
func NewDssWriter(dep *dss.Deployment, backend bind.DeployBackend, opts *bind.TransactOpts, gas GasStrategy, logger *slog.Logger, options ...DssWriterOption) *DssWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if gas == nil {
		gas = DefaultGasStrategy{}
	}
	w := &DssWriter{
		dep:                dep,
		backend:            backend,
		opts:               opts,
		gas:                gas,
		reactiveMultiplier: 2.25,
		mineTimeout:        5 * time.Minute,
		log:                logger,
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// submit sends one transaction and blocks until it is mined. If it is still
// pending at mineTimeout, a single same-nonce replacement is sent at the
// reactive price before giving up.
func (w *DssWriter) submit(ctx context.Context, action string, send func(*bind.TransactOpts) (*gethtypes.Transaction, error)) error {
	price, err := w.gas.GasPrice(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}

	opts := *w.opts
	opts.Context = ctx
	opts.GasPrice = price

	tx, err := send(&opts)
	if err != nil {
		return fmt.Errorf("%s: submit: %w", action, err)
	}
	w.log.Info("submitted transaction", "action", action, "tx", tx.Hash().Hex(), "nonce", tx.Nonce())

	receipt, err := w.waitMined(ctx, tx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// Stuck below the market rate: replace at the reactive price.
		replacement := scaleGasPrice(tx.GasPrice(), w.reactiveMultiplier)
		opts.Nonce = new(big.Int).SetUint64(tx.Nonce())
		opts.GasPrice = replacement
		w.log.Warn("transaction not mined in time, replacing",
			"action", action, "tx", tx.Hash().Hex(), "gas_price", replacement)
		tx, err = send(&opts)
		if err != nil {
			return fmt.Errorf("%s: replace: %w", action, err)
		}
		receipt, err = w.waitMined(ctx, tx)
	}
	if err != nil {
		return fmt.Errorf("%s: wait mined: %w", action, err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("%s: transaction %s reverted", action, tx.Hash().Hex())
	}
	w.log.Info("transaction mined",
		"action", action, "tx", tx.Hash().Hex(), "block", receipt.BlockNumber)
	return nil
}

func (w *DssWriter) waitMined(ctx context.Context, tx *gethtypes.Transaction) (*gethtypes.Receipt, error) {
	mineCtx, cancel := context.WithTimeout(ctx, w.mineTimeout)
	defer cancel()
	return bind.WaitMined(mineCtx, w.backend, tx)
}

// YankFlap force-cancels one surplus auction.
func (w *DssWriter) YankFlap(ctx context.Context, id *big.Int) error {
	return w.submit(ctx, fmt.Sprintf("flap.yank(%s)", id), func(opts *bind.TransactOpts) (*gethtypes.Transaction, error) {
		return w.dep.Flapper.Yank(opts, id)
	})
}

// YankFlop force-cancels one debt auction.
func (w *DssWriter) YankFlop(ctx context.Context, id *big.Int) error {
	return w.submit(ctx, fmt.Sprintf("flop.yank(%s)", id), func(opts *bind.TransactOpts) (*gethtypes.Transaction, error) {
		return w.dep.Flopper.Yank(opts, id)
	})
}

// CageIlk freezes one collateral type for settlement.
func (w *DssWriter) CageIlk(ctx context.Context, ilk string) error {
	return w.submit(ctx, fmt.Sprintf("end.cage(%s)", ilk), func(opts *bind.TransactOpts) (*gethtypes.Transaction, error) {
		return w.dep.End.Cage(opts, ilk)
	})
}

// Snip force-settles one new-style collateral auction.
func (w *DssWriter) Snip(ctx context.Context, ilk string, id *big.Int) error {
	return w.submit(ctx, fmt.Sprintf("end.snip(%s, %s)", ilk, id), func(opts *bind.TransactOpts) (*gethtypes.Transaction, error) {
		return w.dep.End.Snip(opts, ilk, id)
	})
}

// Skip force-settles one legacy collateral auction.
func (w *DssWriter) Skip(ctx context.Context, ilk string, id *big.Int) error {
	return w.submit(ctx, fmt.Sprintf("end.skip(%s, %s)", ilk, id), func(opts *bind.TransactOpts) (*gethtypes.Transaction, error) {
		return w.dep.End.Skip(opts, ilk, id)
	})
}

// Skim marks down one under-collateralized position.
func (w *DssWriter) Skim(ctx context.Context, ilk string, owner common.Address) error {
	return w.submit(ctx, fmt.Sprintf("end.skim(%s, %s)", ilk, owner.Hex()), func(opts *bind.TransactOpts) (*gethtypes.Transaction, error) {
		return w.dep.End.Skim(opts, ilk, owner)
	})
}

// Heal annihilates settlement-account surplus.
func (w *DssWriter) Heal(ctx context.Context, amount dss.Rad) error {
	return w.submit(ctx, "vow.heal", func(opts *bind.TransactOpts) (*gethtypes.Transaction, error) {
		return w.dep.Vow.Heal(opts, amount)
	})
}

// Thaw ends the processing window.
func (w *DssWriter) Thaw(ctx context.Context) error {
	return w.submit(ctx, "end.thaw", func(opts *bind.TransactOpts) (*gethtypes.Transaction, error) {
		return w.dep.End.Thaw(opts)
	})
}

// Flow fixes one ilk's final redemption ratio.
func (w *DssWriter) Flow(ctx context.Context, ilk string) error {
	return w.submit(ctx, fmt.Sprintf("end.flow(%s)", ilk), func(opts *bind.TransactOpts) (*gethtypes.Transaction, error) {
		return w.dep.End.Flow(opts, ilk)
	})
}

// DenyESM revokes a contract's settlement-triggering permission.
func (w *DssWriter) DenyESM(ctx context.Context, usr common.Address) error {
	return w.submit(ctx, fmt.Sprintf("esm.deny(%s)", usr.Hex()), func(opts *bind.TransactOpts) (*gethtypes.Transaction, error) {
		return w.dep.ESM.Deny(opts, usr)
	})
}

// Burn destroys the emergency-shutdown deposit.
func (w *DssWriter) Burn(ctx context.Context) error {
	return w.submit(ctx, "esm.burn", func(opts *bind.TransactOpts) (*gethtypes.Transaction, error) {
		return w.dep.ESM.Burn(opts)
	})
}
