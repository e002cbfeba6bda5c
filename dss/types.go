package dss

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AuctionKind tags the four structurally distinct auction houses.
type AuctionKind string

const (
	// KindFlip is the legacy collateral auction, cancelled via End.skip.
	KindFlip AuctionKind = "flip"
	// KindClip is the new collateral auction, cancelled via End.snip.
	KindClip AuctionKind = "clip"
	// KindFlap is the surplus auction, cancelled via Flapper.yank.
	KindFlap AuctionKind = "flap"
	// KindFlop is the debt auction, cancelled via Flopper.yank.
	KindFlop AuctionKind = "flop"
)

// Ilk is one collateral type with its current risk parameters. Name is the
// immutable identity; the numeric fields are refreshed on every read.
type Ilk struct {
	Name string
	Rate Ray // debt scaling factor
	Spot Ray // price with liquidation ratio applied
	Art  Wad // total normalized debt
	Line Rad // debt ceiling
	Dust Rad // debt floor
}

// Urn is one account's position in one collateral type. Identity is
// (ilk, address); the ledger does not expose urns as an enumerable set.
type Urn struct {
	Ilk     string
	Address common.Address
	Ink     Wad // locked collateral
	Art     Wad // normalized debt
}

// Bid is the observed state of a single auction. A zero Guy means the slot
// was never kicked or has been settled.
type Bid struct {
	ID   *big.Int
	Kind AuctionKind
	Ilk  string // empty for flap/flop
	Guy  common.Address
	Bid  Rad
	Tab  Rad // legacy collateral auctions only
}

// Active reports whether the bid slot holds a live auction.
func (b Bid) Active() bool {
	return b.Guy != (common.Address{})
}

// IlkBytes encodes an ilk name as the bytes32 the contracts expect:
// right-padded ASCII.
func IlkBytes(name string) [32]byte {
	var out [32]byte
	copy(out[:], strings.TrimSpace(name))
	return out
}

// IlkName decodes a bytes32 ilk identifier back to its string form.
func IlkName(raw [32]byte) string {
	return string(common.TrimRightZeroes(raw[:]))
}
