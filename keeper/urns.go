package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"cagekeeper/dss"
	"cagekeeper/keeper/urnhistory"
)

// ledgerReader is the read surface the scanner needs from the core ledger.
type ledgerReader interface {
	Ilk(ctx context.Context, name string) (dss.Ilk, error)
	Urn(ctx context.Context, ilk string, owner common.Address) (dss.Urn, error)
}

// ratioReader exposes the per-ilk liquidation ratio.
type ratioReader interface {
	Mat(ctx context.Context, ilk string) (dss.Ray, error)
}

// UrnScanner reconstructs the full position set for each collateral type and
// flags the under-collateralized ones. Position discovery is delegated to a
// history provider chosen at startup; the scanner does not care whether that
// is direct log replay or a remote index.
type UrnScanner struct {
	provider      urnhistory.Provider
	ledger        ledgerReader
	ratios        ratioReader
	log           *slog.Logger
	metrics       *Metrics
	progressEvery int
}

// NewUrnScanner builds a scanner over the given history provider and ledger.
func NewUrnScanner(provider urnhistory.Provider, ledger ledgerReader, ratios ratioReader, logger *slog.Logger, metrics *Metrics) *UrnScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &UrnScanner{
		provider:      provider,
		ledger:        ledger,
		ratios:        ratios,
		log:           logger,
		metrics:       metrics,
		progressEvery: 100,
	}
}

// Underwater returns every position across the supplied collateral types
// whose debt value exceeds its risk-adjusted collateral value. Results are
// ordered by ilk then owner so transaction submission is deterministic.
func (s *UrnScanner) Underwater(ctx context.Context, ilks []dss.Ilk) ([]dss.Urn, error) {
	var flagged []dss.Urn
	for _, stale := range ilks {
		urns, err := s.provider.Urns(ctx, stale.Name)
		if err != nil {
			return nil, fmt.Errorf("position history for %s: %w", stale.Name, err)
		}
		s.log.Info("collected positions", "ilk", stale.Name, "urns", len(urns))

		ilk, err := s.ledger.Ilk(ctx, stale.Name)
		if err != nil {
			return nil, err
		}
		mat, err := s.ratios.Mat(ctx, stale.Name)
		if err != nil {
			return nil, err
		}

		owners := make([]common.Address, 0, len(urns))
		for owner := range urns {
			owners = append(owners, owner)
		}
		sort.Slice(owners, func(i, j int) bool {
			return owners[i].Cmp(owners[j]) < 0
		})

		processed := 0
		for _, owner := range owners {
			urn, err := s.ledger.Urn(ctx, ilk.Name, owner)
			if err != nil {
				return nil, err
			}
			if underwater(urn, ilk, mat) {
				flagged = append(flagged, urn)
			}
			processed++
			if s.metrics != nil {
				s.metrics.UrnsScanned.Inc()
			}
			if s.progressEvery > 0 && processed%s.progressEvery == 0 {
				s.log.Info("scanning positions", "ilk", ilk.Name, "processed", processed, "total", len(owners))
			}
		}
	}
	if s.metrics != nil {
		s.metrics.UnderwaterUrns.Set(float64(len(flagged)))
	}
	return flagged, nil
}

// underwater reports whether a position's debt value exceeds its
// risk-adjusted collateral value:
//
//	art * rate > ink * spot * mat
//
// evaluated at Ray precision so a near-boundary position never flips bucket
// through rounding.
func underwater(urn dss.Urn, ilk dss.Ilk, mat dss.Ray) bool {
	debt := urn.Art.Ray().Mul(ilk.Rate)
	collateral := urn.Ink.Ray().Mul(ilk.Spot).Mul(mat)
	return debt.Cmp(collateral) > 0
}
