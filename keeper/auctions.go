package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"cagekeeper/dss"
)

// AuctionSet is the complete work list of cancellable auctions, collected in
// full before any cancellation is submitted. Partial results are never acted
// upon.
type AuctionSet struct {
	// Flips holds legacy collateral bids eligible for End.skip, per ilk.
	Flips map[string][]dss.Bid
	// Clips holds new-style collateral bids eligible for End.snip, per ilk.
	Clips map[string][]dss.Bid
	// Flaps holds surplus auction bids eligible for yank.
	Flaps []dss.Bid
	// Flops holds debt auction bids eligible for yank.
	Flops []dss.Bid
}

// Count returns the number of bids collected for one auction variant.
func (s *AuctionSet) Count(kind dss.AuctionKind) int {
	switch kind {
	case dss.KindFlip:
		n := 0
		for _, bids := range s.Flips {
			n += len(bids)
		}
		return n
	case dss.KindClip:
		n := 0
		for _, bids := range s.Clips {
			n += len(bids)
		}
		return n
	case dss.KindFlap:
		return len(s.Flaps)
	case dss.KindFlop:
		return len(s.Flops)
	}
	return 0
}

// Total counts every bid across all four variants.
func (s *AuctionSet) Total() int {
	return s.Count(dss.KindFlip) + s.Count(dss.KindClip) +
		s.Count(dss.KindFlap) + s.Count(dss.KindFlop)
}

// collateralHouse pairs an ilk with its auction house, if it has one.
type collateralHouse struct {
	ilk   string
	house dss.AuctionHouse
}

// Aggregator enumerates and classifies currently-open auctions across the
// four auction contract variants.
type Aggregator struct {
	collaterals []collateralHouse
	flapper     dss.AuctionHouse
	flopper     dss.AuctionHouse
	log         *slog.Logger
}

// NewAggregator builds an aggregator over a protocol deployment.
func NewAggregator(dep *dss.Deployment, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	agg := &Aggregator{
		flapper: dep.Flapper,
		flopper: dep.Flopper,
		log:     logger,
	}
	for _, col := range dep.Collaterals {
		entry := collateralHouse{ilk: col.Ilk}
		switch {
		case col.Clipper != nil:
			entry.house = col.Clipper
		case col.Flipper != nil:
			entry.house = col.Flipper
		}
		agg.collaterals = append(agg.collaterals, entry)
	}
	return agg
}

// Collect returns every bid eligible for forced cancellation. Any read
// failure aborts the whole collection.
func (a *Aggregator) Collect(ctx context.Context) (*AuctionSet, error) {
	set := &AuctionSet{
		Flips: make(map[string][]dss.Bid),
		Clips: make(map[string][]dss.Bid),
	}
	for _, col := range a.collaterals {
		if col.house == nil {
			continue
		}
		bids, err := activeBids(ctx, col.house)
		if err != nil {
			return nil, fmt.Errorf("collect %s auctions for %s: %w", col.house.Kind(), col.ilk, err)
		}
		switch col.house.Kind() {
		case dss.KindClip:
			set.Clips[col.ilk] = bids
		case dss.KindFlip:
			set.Flips[col.ilk] = bids
		}
	}

	var err error
	if set.Flaps, err = activeBids(ctx, a.flapper); err != nil {
		return nil, fmt.Errorf("collect surplus auctions: %w", err)
	}
	if set.Flops, err = activeBids(ctx, a.flopper); err != nil {
		return nil, fmt.Errorf("collect debt auctions: %w", err)
	}

	a.log.Info("collected cancellable auctions",
		"flaps", len(set.Flaps),
		"flops", len(set.Flops),
		"flip_ilks", len(set.Flips),
		"clip_ilks", len(set.Clips),
		"total", set.Total())
	return set, nil
}

// activeBids returns the cancellable bids of one auction house. The clip
// variant exposes its active set directly; every other variant requires a
// sweep over ids 1..kicks.
func activeBids(ctx context.Context, house dss.AuctionHouse) ([]dss.Bid, error) {
	if lister, ok := house.(dss.ActiveLister); ok {
		return lister.ActiveBids(ctx)
	}

	kicks, err := house.Kicks(ctx)
	if err != nil {
		return nil, err
	}
	var bids []dss.Bid
	one := big.NewInt(1)
	for id := big.NewInt(1); id.Cmp(kicks) <= 0; id = new(big.Int).Add(id, one) {
		bid, err := house.Bid(ctx, id)
		if err != nil {
			return nil, err
		}
		if cancellable(bid) {
			bids = append(bids, bid)
		}
	}
	return bids, nil
}

// cancellable classifies a bid as eligible for forced cancellation. A zero
// bidder means the slot is unkicked or settled; a legacy collateral auction
// whose bid already covers its tab has nothing left to skip.
func cancellable(bid dss.Bid) bool {
	if !bid.Active() {
		return false
	}
	if bid.Kind == dss.KindFlip {
		return bid.Bid.Cmp(bid.Tab) < 0
	}
	return true
}
