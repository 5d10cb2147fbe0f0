package ledger

import "fmt"

// BalanceTracker maintains in-memory plaintext custody balances.
//
// Only custody-visible flows are tracked: external deposits and withdrawals
// crossing the boundary accounts. Confidential journal legs move ciphertext
// inside the encrypted value service and are skipped here, which keeps the
// plaintext view zero-sum without revealing stake magnitudes.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances.
// Confidential legs are a no-op.
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	if j.Confidential() {
		return
	}
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// GetCustodyInflow returns the cumulative amount a holder has moved into
// custody through the deposit boundary.
func (bt *BalanceTracker) GetCustodyInflow(addr Address) int64 {
	return bt.GetBalance(NewUserAccountKey(addr, SubTypeBalance))
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() int64 {
	var total int64
	for _, balance := range bt.balances {
		total += balance
	}
	return total
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
