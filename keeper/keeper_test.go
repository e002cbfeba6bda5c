package keeper

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"cagekeeper/dss"
)

type fakeChain struct {
	head uint64
}

func (c *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	c.head++
	return c.head, nil
}

func (c *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{Time: uint64(time.Now().Unix())}, nil
}

func (c *fakeChain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return big.NewInt(1e18), nil
}

func testDeployment() *dss.Deployment {
	zero := common.Address{}
	return &dss.Deployment{
		Vat:     dss.NewVat(zero, nil),
		End:     dss.NewEnd(zero, nil),
		Vow:     dss.NewVow(zero, nil),
		ESM:     dss.NewESM(zero, nil),
		Spotter: dss.NewSpotter(zero, nil),
		Flapper: dss.NewFlapper(zero, nil),
		Flopper: dss.NewFlopper(zero, nil),
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	k := New(&fakeChain{}, testDeployment(), nil, nil, nil, NewErrorBudget(10),
		common.Address{}, testLogger(), nil, WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancelled run must return nil, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on cancellation")
	}
}

func TestFacilitateExportsAuctionGauges(t *testing.T) {
	flipper := &fakeHouse{
		kind: dss.KindFlip,
		bids: []dss.Bid{
			{ID: big.NewInt(1), Kind: dss.KindFlip, Ilk: "BAT-A", Guy: addr(1), Bid: rad(0), Tab: rad(10)},
		},
	}
	clipper := &fakeClipHouse{
		fakeHouse: fakeHouse{kind: dss.KindClip},
		active: []dss.Bid{
			{ID: big.NewInt(1), Kind: dss.KindClip, Ilk: "ETH-A", Guy: addr(2)},
			{ID: big.NewInt(2), Kind: dss.KindClip, Ilk: "ETH-A", Guy: addr(3)},
		},
	}
	agg := &Aggregator{
		collaterals: []collateralHouse{
			{ilk: "BAT-A", house: flipper},
			{ilk: "ETH-A", house: clipper},
		},
		flapper: &fakeHouse{
			kind: dss.KindFlap,
			bids: []dss.Bid{{ID: big.NewInt(1), Kind: dss.KindFlap, Guy: addr(4)}},
		},
		flopper: &fakeHouse{kind: dss.KindFlop},
		log:     testLogger(),
	}
	scanner := NewUrnScanner(&fakeProvider{}, &fakeLedger{}, &fakeRatios{}, testLogger(), nil)
	budget := NewErrorBudget(10)
	metrics := NewMetrics()
	orch := NewOrchestrator(&recordingWriter{}, budget, testLogger(), metrics)

	k := New(&fakeChain{}, testDeployment(), agg, scanner, orch, budget,
		common.Address{}, testLogger(), metrics)
	k.facilitate(context.Background())

	for kind, want := range map[dss.AuctionKind]float64{
		dss.KindFlip: 1,
		dss.KindClip: 2,
		dss.KindFlap: 1,
		dss.KindFlop: 0,
	} {
		got := testutil.ToFloat64(metrics.ActiveAuctions.WithLabelValues(string(kind)))
		if got != want {
			t.Fatalf("%s auction gauge = %v, want %v", kind, got, want)
		}
	}
	if !k.state.Facilitated {
		t.Fatal("facilitation latch must be set")
	}
}

func TestRunTerminatesOnExhaustedBudget(t *testing.T) {
	budget := NewErrorBudget(1)
	budget.Record()

	k := New(&fakeChain{}, testDeployment(), nil, nil, nil, budget,
		common.Address{}, testLogger(), nil, WithPollInterval(time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- k.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrBudgetExhausted) {
			t.Fatalf("expected budget exhaustion, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not terminate on exhausted budget")
	}
}
