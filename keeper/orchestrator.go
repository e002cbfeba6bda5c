package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"cagekeeper/dss"
)

// protocolWriter is the mutating surface the orchestrator drives. Exactly one
// call is in flight at a time; each method blocks until its transaction is
// mined so state read by step N already reflects step N-1.
type protocolWriter interface {
	YankFlap(ctx context.Context, id *big.Int) error
	YankFlop(ctx context.Context, id *big.Int) error
	CageIlk(ctx context.Context, ilk string) error
	Snip(ctx context.Context, ilk string, id *big.Int) error
	Skip(ctx context.Context, ilk string, id *big.Int) error
	Skim(ctx context.Context, ilk string, owner common.Address) error
	Heal(ctx context.Context, amount dss.Rad) error
	Thaw(ctx context.Context) error
	Flow(ctx context.Context, ilk string) error
	DenyESM(ctx context.Context, usr common.Address) error
	Burn(ctx context.Context) error
}

// FacilitationWork is everything the facilitation phase submits, gathered in
// full before the first transaction goes out.
type FacilitationWork struct {
	Auctions *AuctionSet
	// Ilks are the collateral types with outstanding debt, to be caged.
	Ilks []dss.Ilk
	// Underwater are the positions to mark down.
	Underwater []dss.Urn
}

// ThawCollateral is one ilk's thaw-phase work: fix its redemption ratio and
// revoke its auction house's settlement permission.
type ThawCollateral struct {
	Ilk          string
	AuctionHouse common.Address
	HasHouse     bool
}

// ThawWork is everything the thaw phase submits.
type ThawWork struct {
	// VowBalance is the settlement account's internal dai balance; a positive
	// balance is annihilated before anything else.
	VowBalance dss.Rad
	Collaterals []ThawCollateral
	// PSM, when set, is a stablecoin-peg module included in the sequence.
	PSM *ThawCollateral
}

// Orchestrator sequences and submits the mutating calls required by each
// phase. A failed call is recorded against the shared error budget and
// abandons the rest of the phase for the current block; the next block
// retries from whatever state the machine derives then.
type Orchestrator struct {
	writer  protocolWriter
	budget  *ErrorBudget
	log     *slog.Logger
	metrics *Metrics
}

// NewOrchestrator builds an orchestrator over the given write surface.
func NewOrchestrator(writer protocolWriter, budget *ErrorBudget, logger *slog.Logger, metrics *Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		writer:  writer,
		budget:  budget,
		log:     logger,
		metrics: metrics,
	}
}

func (o *Orchestrator) step(phase, action string, err error) error {
	if err != nil {
		count := o.budget.Record()
		if o.metrics != nil {
			o.metrics.Errors.Inc()
			o.metrics.Transactions.WithLabelValues(phase, action, "error").Inc()
		}
		o.log.Error("abandoning phase for this block",
			"phase", phase, "action", action, "errors", count, "err", err)
		return fmt.Errorf("%s %s: %w", phase, action, err)
	}
	if o.metrics != nil {
		o.metrics.Transactions.WithLabelValues(phase, action, "mined").Inc()
	}
	return nil
}

// Facilitate executes the facilitation phase: cancel surplus then debt
// auctions, cage every ilk with outstanding debt, force-settle new-style then
// legacy collateral auctions, and mark down every underwater position.
func (o *Orchestrator) Facilitate(ctx context.Context, work FacilitationWork) error {
	const phase = "facilitate"
	o.log.Info("facilitating processing period",
		"auctions", work.Auctions.Total(),
		"ilks", len(work.Ilks),
		"underwater_urns", len(work.Underwater))

	for _, bid := range work.Auctions.Flaps {
		if err := o.step(phase, "flap.yank", o.writer.YankFlap(ctx, bid.ID)); err != nil {
			return err
		}
	}
	for _, bid := range work.Auctions.Flops {
		if err := o.step(phase, "flop.yank", o.writer.YankFlop(ctx, bid.ID)); err != nil {
			return err
		}
	}

	for _, ilk := range work.Ilks {
		if err := o.step(phase, "end.cage", o.writer.CageIlk(ctx, ilk.Name)); err != nil {
			return err
		}
	}

	for _, ilk := range sortedKeys(work.Auctions.Clips) {
		for _, bid := range work.Auctions.Clips[ilk] {
			if err := o.step(phase, "end.snip", o.writer.Snip(ctx, ilk, bid.ID)); err != nil {
				return err
			}
		}
	}
	for _, ilk := range sortedKeys(work.Auctions.Flips) {
		for _, bid := range work.Auctions.Flips[ilk] {
			if err := o.step(phase, "end.skip", o.writer.Skip(ctx, ilk, bid.ID)); err != nil {
				return err
			}
		}
	}

	for _, urn := range work.Underwater {
		if err := o.step(phase, "end.skim", o.writer.Skim(ctx, urn.Ilk, urn.Address)); err != nil {
			return err
		}
	}
	return nil
}

// Thaw executes the thaw phase: annihilate any settlement-account surplus,
// globally thaw, fix every ilk's redemption ratio and revoke its auction
// house's permission, handle the peg module when configured, and finally burn
// the emergency-shutdown deposit.
func (o *Orchestrator) Thaw(ctx context.Context, work ThawWork) error {
	const phase = "thaw"
	o.log.Info("thawing cage", "ilks", len(work.Collaterals))

	if work.VowBalance.Sign() > 0 {
		if err := o.step(phase, "vow.heal", o.writer.Heal(ctx, work.VowBalance)); err != nil {
			return err
		}
	}
	if err := o.step(phase, "end.thaw", o.writer.Thaw(ctx)); err != nil {
		return err
	}

	for _, col := range work.Collaterals {
		if err := o.step(phase, "end.flow", o.writer.Flow(ctx, col.Ilk)); err != nil {
			return err
		}
		if col.HasHouse {
			if err := o.step(phase, "esm.deny", o.writer.DenyESM(ctx, col.AuctionHouse)); err != nil {
				return err
			}
		}
	}

	if work.PSM != nil {
		if err := o.step(phase, "end.flow", o.writer.Flow(ctx, work.PSM.Ilk)); err != nil {
			return err
		}
		if work.PSM.HasHouse {
			if err := o.step(phase, "esm.deny", o.writer.DenyESM(ctx, work.PSM.AuctionHouse)); err != nil {
				return err
			}
		}
	}

	o.log.Info("burning deposited governance tokens")
	return o.step(phase, "esm.burn", o.writer.Burn(ctx))
}

func sortedKeys(bids map[string][]dss.Bid) []string {
	keys := make([]string, 0, len(bids))
	for key := range bids {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
