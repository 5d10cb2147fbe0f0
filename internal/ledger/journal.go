package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeStakeDebit
	JournalTypeSettlementPayout
)

// Journal represents a single double-entry journal entry.
//
// Plaintext legs carry a positive Amount and an empty StakeRef. Confidential
// legs record custody movements whose magnitude lives inside the encrypted
// value service: they carry Amount == 0 and a non-empty StakeRef naming the
// ciphertext handle that holds the moved value.
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source event
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Amount        int64       // Fixed-point amount (positive for plaintext legs)
	StakeRef      string      // Ciphertext handle for confidential legs
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Confidential reports whether the entry's magnitude is ciphertext-only.
func (j Journal) Confidential() bool {
	return j.StakeRef != ""
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Note on balance invariant: each journal entry is a balanced transfer by
// construction (a single amount moves from credit account to debit account),
// so Σ debits == Σ credits holds per-entry. Confidential legs are balanced
// inside the encrypted value service instead: both sides reference the same
// ciphertext, and the plaintext tracker skips them entirely.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Confidential() {
			if j.Amount != 0 {
				return fmt.Errorf("journal %s is confidential but carries plaintext amount %d", j.JournalID, j.Amount)
			}
		} else if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		// Validate batch consistency
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		// Validate debit != credit (no self-transfers)
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}
