package keeper

import (
	"context"
	"fmt"
	"math/big"
)

// GasStrategy supplies a gas price, consulted fresh for every submitted call.
type GasStrategy interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// GasSuggester is the node-side price oracle a dynamic strategy consults.
type GasSuggester interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// DefaultGasStrategy defers entirely to the node: a nil price lets the
// transactor fill in the node's suggestion unmodified.
type DefaultGasStrategy struct{}

// GasPrice returns nil, delegating the choice to the transactor.
func (DefaultGasStrategy) GasPrice(ctx context.Context) (*big.Int, error) {
	return nil, nil
}

// NodeGasStrategy scales the node's suggested price by a configured
// multiplier and caps the result.
type NodeGasStrategy struct {
	suggester  GasSuggester
	multiplier float64
	maximum    *big.Int
}

// NewNodeGasStrategy builds a strategy over the given suggester. A
// multiplier at or below zero is treated as 1.0; a nil maximum disables the
// cap.
func NewNodeGasStrategy(suggester GasSuggester, multiplier float64, maximum *big.Int) *NodeGasStrategy {
	if multiplier <= 0 {
		multiplier = 1.0
	}
	return &NodeGasStrategy{
		suggester:  suggester,
		multiplier: multiplier,
		maximum:    maximum,
	}
}

// GasPrice returns the scaled, capped node suggestion.
func (s *NodeGasStrategy) GasPrice(ctx context.Context) (*big.Int, error) {
	suggested, err := s.suggester.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	price := scaleGasPrice(suggested, s.multiplier)
	if s.maximum != nil && price.Cmp(s.maximum) > 0 {
		price = new(big.Int).Set(s.maximum)
	}
	return price, nil
}

// scaleGasPrice multiplies a price by a float factor, rounding down.
func scaleGasPrice(price *big.Int, factor float64) *big.Int {
	if price == nil {
		return nil
	}
	scaled, _ := new(big.Float).Mul(new(big.Float).SetInt(price), big.NewFloat(factor)).Int(nil)
	return scaled
}
