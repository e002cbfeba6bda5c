package keeper

import (
	"errors"
	"sync"
)

// ErrBudgetExhausted signals that the error ceiling was reached and the
// keeper should terminate in an orderly fashion.
var ErrBudgetExhausted = errors.New("keeper: error budget exhausted")

// ErrorBudget is the process-wide, monotonically increasing error counter.
// It is checked once per block before new work is attempted; exceeding the
// ceiling bounds further damage from a possibly-compromised environment.
type ErrorBudget struct {
	mu    sync.Mutex
	count int
	max   int
}

// NewErrorBudget builds a budget with the given ceiling.
func NewErrorBudget(max int) *ErrorBudget {
	return &ErrorBudget{max: max}
}

// Record increments the counter and returns the new total.
func (b *ErrorBudget) Record() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
	return b.count
}

// Count returns the current total.
func (b *ErrorBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Exhausted reports whether the ceiling has been reached.
func (b *ErrorBudget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count >= b.max
}
