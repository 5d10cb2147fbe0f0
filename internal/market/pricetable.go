package market

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnauthorized = errors.New("caller is not the price table owner")
	ErrPriceNotSet  = errors.New("no price recorded for instrument")
)

// PriceTable holds plaintext reference prices keyed by instrument symbol.
// Prices are public reads; writes are gated on the table owner.
type PriceTable struct {
	mu     sync.RWMutex
	owner  string
	prices map[string]uint64
}

func NewPriceTable(owner string) *PriceTable {
	return &PriceTable{
		owner:  owner,
		prices: make(map[string]uint64),
	}
}

// Owner returns the current table owner address.
func (pt *PriceTable) Owner() string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.owner
}

// SetPrice records the reference price for an instrument. Only the owner may
// write; zero is a legal price and distinct from unset.
func (pt *PriceTable) SetPrice(caller, instrument string, price uint64) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if caller != pt.owner {
		return fmt.Errorf("set price for %s: %w", instrument, ErrUnauthorized)
	}

	pt.prices[instrument] = price
	return nil
}

// GetPrice returns the recorded price for an instrument.
func (pt *PriceTable) GetPrice(instrument string) (uint64, error) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	price, ok := pt.prices[instrument]
	if !ok {
		return 0, fmt.Errorf("get price for %s: %w", instrument, ErrPriceNotSet)
	}
	return price, nil
}

// TransferOwnership hands write control to a new owner. Only the current
// owner may transfer.
func (pt *PriceTable) TransferOwnership(caller, newOwner string) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if caller != pt.owner {
		return fmt.Errorf("transfer ownership: %w", ErrUnauthorized)
	}

	pt.owner = newOwner
	return nil
}

// Instruments returns the symbols with a recorded price.
func (pt *PriceTable) Instruments() []string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	out := make([]string, 0, len(pt.prices))
	for sym := range pt.prices {
		out = append(out, sym)
	}
	return out
}
