package keeper

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"cagekeeper/dss"
)

// recordingWriter captures the exact call sequence the orchestrator submits.
// failOn, when non-empty, makes the matching call fail.
type recordingWriter struct {
	calls  []string
	failOn string
}

func (w *recordingWriter) record(call string) error {
	w.calls = append(w.calls, call)
	if w.failOn != "" && call == w.failOn {
		return errors.New("reverted")
	}
	return nil
}

func (w *recordingWriter) YankFlap(ctx context.Context, id *big.Int) error {
	return w.record(fmt.Sprintf("flap.yank(%s)", id))
}

func (w *recordingWriter) YankFlop(ctx context.Context, id *big.Int) error {
	return w.record(fmt.Sprintf("flop.yank(%s)", id))
}

func (w *recordingWriter) CageIlk(ctx context.Context, ilk string) error {
	return w.record(fmt.Sprintf("end.cage(%s)", ilk))
}

func (w *recordingWriter) Snip(ctx context.Context, ilk string, id *big.Int) error {
	return w.record(fmt.Sprintf("end.snip(%s,%s)", ilk, id))
}

func (w *recordingWriter) Skip(ctx context.Context, ilk string, id *big.Int) error {
	return w.record(fmt.Sprintf("end.skip(%s,%s)", ilk, id))
}

func (w *recordingWriter) Skim(ctx context.Context, ilk string, owner common.Address) error {
	return w.record(fmt.Sprintf("end.skim(%s,%s)", ilk, owner.Hex()))
}

func (w *recordingWriter) Heal(ctx context.Context, amount dss.Rad) error {
	return w.record("vow.heal")
}

func (w *recordingWriter) Thaw(ctx context.Context) error {
	return w.record("end.thaw")
}

func (w *recordingWriter) Flow(ctx context.Context, ilk string) error {
	return w.record(fmt.Sprintf("end.flow(%s)", ilk))
}

func (w *recordingWriter) DenyESM(ctx context.Context, usr common.Address) error {
	return w.record(fmt.Sprintf("esm.deny(%s)", usr.Hex()))
}

func (w *recordingWriter) Burn(ctx context.Context) error {
	return w.record("esm.burn")
}

func addr(b byte) common.Address {
	return common.Address{19: b}
}

func bidWith(id int64, kind dss.AuctionKind, ilk string) dss.Bid {
	return dss.Bid{ID: big.NewInt(id), Kind: kind, Ilk: ilk, Guy: addr(1)}
}

func requireCalls(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("call count mismatch: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d: got %q, want %q\nfull sequence: %v", i, got[i], want[i], got)
		}
	}
}

func TestFacilitateOrdering(t *testing.T) {
	writer := &recordingWriter{}
	orch := NewOrchestrator(writer, NewErrorBudget(10), nil, nil)

	work := FacilitationWork{
		Auctions: &AuctionSet{
			Flaps: []dss.Bid{bidWith(7, dss.KindFlap, "")},
			Flops: []dss.Bid{bidWith(3, dss.KindFlop, "")},
			Clips: map[string][]dss.Bid{
				"WBTC-A": {bidWith(2, dss.KindClip, "WBTC-A")},
				"ETH-A":  {bidWith(1, dss.KindClip, "ETH-A")},
			},
			Flips: map[string][]dss.Bid{
				"BAT-A": {bidWith(4, dss.KindFlip, "BAT-A"), bidWith(9, dss.KindFlip, "BAT-A")},
			},
		},
		Ilks: []dss.Ilk{{Name: "ETH-A"}, {Name: "BAT-A"}},
		Underwater: []dss.Urn{
			{Ilk: "ETH-A", Address: addr(5)},
		},
	}

	if err := orch.Facilitate(context.Background(), work); err != nil {
		t.Fatalf("facilitate: %v", err)
	}

	requireCalls(t, writer.calls, []string{
		"flap.yank(7)",
		"flop.yank(3)",
		"end.cage(ETH-A)",
		"end.cage(BAT-A)",
		"end.snip(ETH-A,1)",
		"end.snip(WBTC-A,2)",
		"end.skip(BAT-A,4)",
		"end.skip(BAT-A,9)",
		fmt.Sprintf("end.skim(ETH-A,%s)", addr(5).Hex()),
	})
}

func TestFacilitateFailureAbandonsPhase(t *testing.T) {
	writer := &recordingWriter{failOn: "end.cage(ETH-A)"}
	budget := NewErrorBudget(10)
	orch := NewOrchestrator(writer, budget, nil, nil)

	work := FacilitationWork{
		Auctions: &AuctionSet{
			Flips: map[string][]dss.Bid{"ETH-A": {bidWith(1, dss.KindFlip, "ETH-A")}},
			Clips: map[string][]dss.Bid{},
		},
		Ilks:       []dss.Ilk{{Name: "ETH-A"}},
		Underwater: []dss.Urn{{Ilk: "ETH-A", Address: addr(5)}},
	}

	err := orch.Facilitate(context.Background(), work)
	if err == nil {
		t.Fatal("expected error from failed cage")
	}
	if budget.Count() != 1 {
		t.Fatalf("expected one recorded error, got %d", budget.Count())
	}
	// Nothing after the failing call may be submitted.
	requireCalls(t, writer.calls, []string{"end.cage(ETH-A)"})
}

func TestThawOrdering(t *testing.T) {
	writer := &recordingWriter{}
	orch := NewOrchestrator(writer, NewErrorBudget(10), nil, nil)

	work := ThawWork{
		VowBalance: dss.NewRad(big.NewInt(1)),
		Collaterals: []ThawCollateral{
			{Ilk: "ETH-A", AuctionHouse: addr(10), HasHouse: true},
			{Ilk: "SPARE-A"},
		},
		PSM: &ThawCollateral{Ilk: "PSM-USDC-A", AuctionHouse: addr(11), HasHouse: true},
	}

	if err := orch.Thaw(context.Background(), work); err != nil {
		t.Fatalf("thaw: %v", err)
	}

	requireCalls(t, writer.calls, []string{
		"vow.heal",
		"end.thaw",
		"end.flow(ETH-A)",
		fmt.Sprintf("esm.deny(%s)", addr(10).Hex()),
		"end.flow(SPARE-A)",
		"end.flow(PSM-USDC-A)",
		fmt.Sprintf("esm.deny(%s)", addr(11).Hex()),
		"esm.burn",
	})
}

func TestThawSkipsHealWithoutSurplus(t *testing.T) {
	writer := &recordingWriter{}
	orch := NewOrchestrator(writer, NewErrorBudget(10), nil, nil)

	work := ThawWork{
		VowBalance:  dss.NewRad(big.NewInt(0)),
		Collaterals: []ThawCollateral{{Ilk: "ETH-A"}},
	}
	if err := orch.Thaw(context.Background(), work); err != nil {
		t.Fatalf("thaw: %v", err)
	}

	requireCalls(t, writer.calls, []string{
		"end.thaw",
		"end.flow(ETH-A)",
		"esm.burn",
	})
}

func TestThawHealFailureStopsBeforeThaw(t *testing.T) {
	writer := &recordingWriter{failOn: "vow.heal"}
	orch := NewOrchestrator(writer, NewErrorBudget(10), nil, nil)

	work := ThawWork{
		VowBalance:  dss.NewRad(big.NewInt(5)),
		Collaterals: []ThawCollateral{{Ilk: "ETH-A"}},
	}
	if err := orch.Thaw(context.Background(), work); err == nil {
		t.Fatal("expected error from failed heal")
	}
	requireCalls(t, writer.calls, []string{"vow.heal"})
}

func TestErrorBudgetExhaustion(t *testing.T) {
	budget := NewErrorBudget(2)
	if budget.Exhausted() {
		t.Fatal("fresh budget must not be exhausted")
	}
	budget.Record()
	if budget.Exhausted() {
		t.Fatal("one error below the ceiling must not exhaust")
	}
	budget.Record()
	if !budget.Exhausted() {
		t.Fatal("reaching the ceiling must exhaust")
	}
	if budget.Count() != 2 {
		t.Fatalf("unexpected count %d", budget.Count())
	}
}
