package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"cagekeeper/dss"
)

// ChainReader is the subset of the Ethereum RPC the block-driven loop uses.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// PegModule identifies a stablecoin-peg module to include in the thaw
// sequence.
type PegModule struct {
	Ilk     string
	Address common.Address
}

// Keeper watches the protocol for Emergency Shutdown and drives the unwind
// sequence once the cage is final. One logical thread of control: a new block
// is never evaluated before the previous evaluation returns.
type Keeper struct {
	log     *slog.Logger
	metrics *Metrics

	chain   ChainReader
	dep     *dss.Deployment
	agg     *Aggregator
	scanner *UrnScanner
	orch    *Orchestrator
	budget  *ErrorBudget

	address      common.Address
	psm          *PegModule
	pollInterval time.Duration

	state     CageState
	lastBlock uint64
}

// Option customises a Keeper.
type Option func(*Keeper)

// WithPollInterval overrides the new-block polling cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(k *Keeper) { k.pollInterval = interval }
}

// WithPegModule includes a stablecoin-peg module in the thaw sequence.
func WithPegModule(psm PegModule) Option {
	return func(k *Keeper) { k.psm = &psm }
}

// WithPreviousCage seeds the facilitated latch, skipping straight to
// thaw-timing checks. Operators set this when restarting a keeper that
// already ran the facilitation phase.
func WithPreviousCage() Option {
	return func(k *Keeper) { k.state.Facilitated = true }
}

// New assembles a keeper from its collaborators.
func New(chain ChainReader, dep *dss.Deployment, agg *Aggregator, scanner *UrnScanner, orch *Orchestrator, budget *ErrorBudget, address common.Address, logger *slog.Logger, metrics *Metrics, opts ...Option) *Keeper {
	if logger == nil {
		logger = slog.Default()
	}
	k := &Keeper{
		log:          logger,
		metrics:      metrics,
		chain:        chain,
		dep:          dep,
		agg:          agg,
		scanner:      scanner,
		orch:         orch,
		budget:       budget,
		address:      address,
		pollInterval: 13 * time.Second,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Run enters the block-driven loop until the context is cancelled or the
// error budget is exhausted. Cancellation is graceful: the current block's
// evaluation completes or is abandoned, never left half-applied.
func (k *Keeper) Run(ctx context.Context) error {
	if err := k.banner(ctx); err != nil {
		k.log.Warn("deployment banner unavailable", "err", err)
	}

	ticker := time.NewTicker(k.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.log.Info("interrupt received, shutting down")
			return nil
		case <-ticker.C:
			if k.budget.Exhausted() {
				k.log.Error("error budget exhausted, terminating", "errors", k.budget.Count())
				return ErrBudgetExhausted
			}
			head, err := k.chain.BlockNumber(ctx)
			if err != nil {
				k.recordError("read head block", err)
				continue
			}
			if head == k.lastBlock {
				continue
			}
			k.lastBlock = head
			k.checkCage(ctx, head)
		}
	}
}

// banner logs the deployment details so the operator can confirm them.
func (k *Keeper) banner(ctx context.Context) error {
	balance, err := k.chain.BalanceAt(ctx, k.address, nil)
	if err != nil {
		return fmt.Errorf("read keeper balance: %w", err)
	}
	eth, _ := new(big.Float).Quo(
		new(big.Float).SetInt(balance),
		big.NewFloat(1e18),
	).Float64()
	k.log.Info("please confirm the deployment details",
		"keeper", k.address.Hex(),
		"balance_eth", eth,
		"vat", k.dep.Vat.Address().Hex(),
		"vow", k.dep.Vow.Address().Hex(),
		"end", k.dep.End.Address().Hex(),
		"esm", k.dep.ESM.Address().Hex(),
		"flapper", k.dep.Flapper.Address().Hex(),
		"flopper", k.dep.Flopper.Address().Hex())
	return nil
}

// checkCage evaluates the shutdown state machine for one block and acts on
// the resulting phase. All inputs are read fresh; a failed read defers the
// decision to the next block.
func (k *Keeper) checkCage(ctx context.Context, blockNumber uint64) {
	k.log.Info("checking cage", "block", blockNumber)

	live, err := k.dep.End.Live(ctx)
	if err != nil {
		k.recordError("read shutdown flag", err)
		return
	}

	obs := Observation{Live: live}
	if !live {
		header, err := k.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			k.recordError("read block header", err)
			return
		}
		obs.Now = time.Unix(int64(header.Time), 0).UTC()
		if obs.CagedAt, err = k.dep.End.When(ctx); err != nil {
			k.recordError("read cage timestamp", err)
			return
		}
		if obs.ProcessingWindow, err = k.dep.End.Wait(ctx); err != nil {
			k.recordError("read processing window", err)
			return
		}
	}

	if live && k.state.Confirmations > 0 {
		// The protocol contract says this cannot happen; surface it loudly
		// rather than guessing at a reset.
		k.log.Warn("shutdown flag reverted to live after confirmations began",
			"confirmations", k.state.Confirmations)
	}

	phase := k.state.Evaluate(obs)
	if k.metrics != nil {
		k.metrics.Confirmations.Set(float64(k.state.Confirmations))
		k.metrics.Phase.Set(float64(phase))
	}

	switch phase {
	case PhaseNormal:
		k.log.Debug("system live", "block", blockNumber)
	case PhaseAwaitingFinality:
		k.log.Info("system has been caged", "confirmations", k.state.Confirmations)
	case PhaseFinalUnprocessed:
		k.log.Info("cage is final, facilitating processing period")
		k.facilitate(ctx)
	case PhaseProcessing:
		k.log.Info("cage processed, awaiting thaw", "thaw_at", obs.ThawTime())
	case PhaseReadyToThaw:
		k.log.Info("processing window elapsed, thawing")
		k.thaw(ctx)
	case PhaseThawed:
		k.log.Info("cage fully processed, nothing left to do")
	}
}

// facilitate gathers the complete facilitation work list and submits it. The
// facilitated latch is set before submission begins: a mid-phase failure is
// not retried internally, matching the protocol's no-op safety for duplicate
// cancellations and the operator's restart flag.
func (k *Keeper) facilitate(ctx context.Context) {
	k.state.Facilitated = true

	auctions, err := k.agg.Collect(ctx)
	if err != nil {
		k.recordError("collect auctions", err)
		return
	}
	if k.metrics != nil {
		for _, kind := range []dss.AuctionKind{dss.KindFlip, dss.KindClip, dss.KindFlap, dss.KindFlop} {
			k.metrics.ActiveAuctions.WithLabelValues(string(kind)).Set(float64(auctions.Count(kind)))
		}
	}

	ilks, err := k.collateralsWithDebt(ctx)
	if err != nil {
		k.recordError("enumerate collaterals", err)
		return
	}

	underwater, err := k.scanner.Underwater(ctx, ilks)
	if err != nil {
		k.recordError("scan positions", err)
		return
	}

	// Step failures are recorded inside the orchestrator; the phase resumes
	// only through the operator restart flag.
	_ = k.orch.Facilitate(ctx, FacilitationWork{
		Auctions:   auctions,
		Ilks:       ilks,
		Underwater: underwater,
	})
}

// thaw gathers the thaw work list and submits it. Unlike facilitation, a
// failed thaw is retried on a later block: the latch is only set on success.
func (k *Keeper) thaw(ctx context.Context) {
	balance, err := k.dep.Vat.Dai(ctx, k.dep.Vow.Address())
	if err != nil {
		k.recordError("read settlement balance", err)
		return
	}
	if balance.Sign() < 0 {
		k.log.Warn("ledger anomaly: negative settlement balance", "balance", balance)
	}

	work := ThawWork{VowBalance: balance}
	for _, col := range k.dep.Collaterals {
		entry := ThawCollateral{Ilk: col.Ilk}
		switch {
		case col.Clipper != nil:
			entry.AuctionHouse = col.Clipper.Address()
			entry.HasHouse = true
		case col.Flipper != nil:
			entry.AuctionHouse = col.Flipper.Address()
			entry.HasHouse = true
		}
		work.Collaterals = append(work.Collaterals, entry)
	}
	if k.psm != nil {
		work.PSM = &ThawCollateral{
			Ilk:          k.psm.Ilk,
			AuctionHouse: k.psm.Address,
			HasHouse:     true,
		}
	}

	if err := k.orch.Thaw(ctx, work); err != nil {
		return
	}
	k.state.Thawed = true
}

// collateralsWithDebt returns the ilks carrying outstanding normalized debt,
// freshly read. The deprecated single-collateral legacy ilk is excluded.
func (k *Keeper) collateralsWithDebt(ctx context.Context) ([]dss.Ilk, error) {
	var ilks []dss.Ilk
	for _, col := range k.dep.Collaterals {
		if col.Ilk == "SAI" {
			continue
		}
		ilk, err := k.dep.Vat.Ilk(ctx, col.Ilk)
		if err != nil {
			return nil, err
		}
		if ilk.Art.Sign() > 0 {
			ilks = append(ilks, ilk)
		}
	}
	names := make([]string, 0, len(ilks))
	for _, ilk := range ilks {
		names = append(names, ilk.Name)
	}
	k.log.Info("collaterals to check", "ilks", names)
	return ilks, nil
}

func (k *Keeper) recordError(action string, err error) {
	count := k.budget.Record()
	if k.metrics != nil {
		k.metrics.Errors.Inc()
	}
	k.log.Error("block evaluation error, retrying next block",
		"action", action, "errors", count, "err", err)
}
