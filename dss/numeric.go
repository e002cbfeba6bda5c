package dss

import (
	"fmt"
	"math/big"
	"strings"
)

// Fixed-point scales used across the protocol contracts. Wad carries 18
// decimal places, Ray 27, and Rad 45. Debt values combine a Wad quantity with
// a Ray rate, so all risk comparisons are performed at Ray precision or above
// to keep near-boundary positions in the right bucket.
var (
	wadScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	rayScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)
	radScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(45), nil)
)

// Wad is an 18-decimal fixed-point quantity.
type Wad struct {
	v *big.Int
}

// Ray is a 27-decimal fixed-point quantity.
type Ray struct {
	v *big.Int
}

// Rad is a 45-decimal fixed-point quantity.
type Rad struct {
	v *big.Int
}

// NewWad wraps a raw integer already scaled by 1e18. A nil input is zero.
func NewWad(v *big.Int) Wad {
	return Wad{v: copyInt(v)}
}

// NewRay wraps a raw integer already scaled by 1e27. A nil input is zero.
func NewRay(v *big.Int) Ray {
	return Ray{v: copyInt(v)}
}

// NewRad wraps a raw integer already scaled by 1e45. A nil input is zero.
func NewRad(v *big.Int) Rad {
	return Rad{v: copyInt(v)}
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Int returns a copy of the underlying raw integer.
func (w Wad) Int() *big.Int { return copyInt(w.v) }

// Int returns a copy of the underlying raw integer.
func (r Ray) Int() *big.Int { return copyInt(r.v) }

// Int returns a copy of the underlying raw integer.
func (r Rad) Int() *big.Int { return copyInt(r.v) }

// Sign reports the sign of the quantity.
func (w Wad) Sign() int { return copyInt(w.v).Sign() }

// Sign reports the sign of the quantity.
func (r Ray) Sign() int { return copyInt(r.v).Sign() }

// Sign reports the sign of the quantity.
func (r Rad) Sign() int { return copyInt(r.v).Sign() }

// Cmp compares two Wads, returning -1, 0, or 1.
func (w Wad) Cmp(other Wad) int { return copyInt(w.v).Cmp(copyInt(other.v)) }

// Cmp compares two Rays, returning -1, 0, or 1.
func (r Ray) Cmp(other Ray) int { return copyInt(r.v).Cmp(copyInt(other.v)) }

// Cmp compares two Rads, returning -1, 0, or 1.
func (r Rad) Cmp(other Rad) int { return copyInt(r.v).Cmp(copyInt(other.v)) }

// Ray widens a Wad to Ray precision.
func (w Wad) Ray() Ray {
	scaled := new(big.Int).Mul(copyInt(w.v), big.NewInt(1_000_000_000))
	return Ray{v: scaled}
}

// Mul multiplies two Rays at full precision, flooring the result back to Ray
// scale. The intermediate product never loses bits.
func (r Ray) Mul(other Ray) Ray {
	product := new(big.Int).Mul(copyInt(r.v), copyInt(other.v))
	return Ray{v: product.Quo(product, rayScale)}
}

// MulWad multiplies a Ray by a Wad, yielding a Rad. This mirrors the
// contract-side convention where art (Wad) times rate (Ray) is a Rad.
func (r Ray) MulWad(w Wad) Rad {
	product := new(big.Int).Mul(copyInt(r.v), copyInt(w.v))
	return Rad{v: product}
}

// String renders the Wad as a decimal number.
func (w Wad) String() string { return formatFixed(w.v, 18) }

// String renders the Ray as a decimal number.
func (r Ray) String() string { return formatFixed(r.v, 27) }

// String renders the Rad as a decimal number.
func (r Rad) String() string { return formatFixed(r.v, 45) }

// ParseWad parses a decimal string into a Wad.
func ParseWad(s string) (Wad, error) {
	v, err := parseFixed(s, 18)
	if err != nil {
		return Wad{}, err
	}
	return Wad{v: v}, nil
}

// ParseRay parses a decimal string into a Ray.
func ParseRay(s string) (Ray, error) {
	v, err := parseFixed(s, 27)
	if err != nil {
		return Ray{}, err
	}
	return Ray{v: v}, nil
}

// ParseRad parses a decimal string into a Rad.
func ParseRad(s string) (Rad, error) {
	v, err := parseFixed(s, 45)
	if err != nil {
		return Rad{}, err
	}
	return Rad{v: v}, nil
}

func formatFixed(v *big.Int, decimals int) string {
	v = copyInt(v)
	negative := v.Sign() < 0
	if negative {
		v.Neg(v)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(v, scale, new(big.Int))
	out := fmt.Sprintf("%s.%0*s", whole.String(), decimals, frac.String())
	if negative {
		out = "-" + out
	}
	return out
}

func parseFixed(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty fixed-point literal")
	}
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("too many decimal places in %q (max %d)", s, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))
	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("malformed fixed-point literal %q", s)
	}
	if negative {
		v.Neg(v)
	}
	return v, nil
}
