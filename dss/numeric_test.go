package dss

import (
	"math/big"
	"testing"
)

func TestParseWadRoundTrip(t *testing.T) {
	w, err := ParseWad("1.5")
	if err != nil {
		t.Fatalf("parse wad: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(15), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	if w.Int().Cmp(want) != 0 {
		t.Fatalf("unexpected raw value: %s", w.Int())
	}
	if got := w.String(); got != "1.500000000000000000" {
		t.Fatalf("unexpected rendering: %s", got)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	if _, err := ParseWad(""); err == nil {
		t.Fatal("expected error for empty literal")
	}
	if _, err := ParseWad("1.2.3"); err == nil {
		t.Fatal("expected error for double separator")
	}
	if _, err := ParseWad("0.1234567890123456789"); err == nil {
		t.Fatal("expected error for excess precision")
	}
}

func TestParseNegative(t *testing.T) {
	w, err := ParseWad("-0.25")
	if err != nil {
		t.Fatalf("parse wad: %v", err)
	}
	if w.Sign() >= 0 {
		t.Fatalf("expected negative, got %s", w)
	}
	if got := w.String(); got != "-0.250000000000000000" {
		t.Fatalf("unexpected rendering: %s", got)
	}
}

func TestRayMulExact(t *testing.T) {
	two, _ := ParseRay("2")
	three, _ := ParseRay("3")
	if got := two.Mul(three).String(); got != "6.000000000000000000000000000" {
		t.Fatalf("2*3 = %s", got)
	}
}

// A comparison one base unit apart at Ray scale must not collapse to
// equality: float arithmetic would round both sides to the same value.
func TestRayBoundaryPrecision(t *testing.T) {
	base, _ := ParseRay("1000000")
	epsilon := NewRay(big.NewInt(1))
	bumped := NewRay(new(big.Int).Add(base.Int(), epsilon.Int()))

	if base.Cmp(bumped) != -1 {
		t.Fatal("one-unit bump at ray scale must compare greater")
	}
	if bumped.Cmp(base) != 1 {
		t.Fatal("comparison must be antisymmetric")
	}
	if base.Cmp(base) != 0 {
		t.Fatal("equal rays must compare equal")
	}
}

func TestWadToRayWidening(t *testing.T) {
	w, _ := ParseWad("0.000000000000000001") // one wad base unit
	r := w.Ray()
	if r.Int().Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("widening must scale by 1e9, got %s", r.Int())
	}
}

func TestIlkBytesRoundTrip(t *testing.T) {
	raw := IlkBytes("ETH-A")
	if raw[0] != 'E' || raw[5] != 0 {
		t.Fatalf("unexpected encoding: %x", raw)
	}
	if got := IlkName(raw); got != "ETH-A" {
		t.Fatalf("round trip mismatch: %q", got)
	}
}
