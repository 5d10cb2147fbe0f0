package ledger

import "github.com/google/uuid"

// JournalGenerator creates balanced journal batches for custody movements.
//
// Sufficiency checks happen upstream: the encrypted value service performs
// the compare-then-subtract on ciphertext before any batch is generated, so
// the generator never sees an unfunded movement.
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{
		sequence: startSequence,
	}
}

// GenerateDeposit creates journals for funds entering custody.
// Moves funds: external:deposits → user:balance
func (jg *JournalGenerator) GenerateDeposit(
	addr Address,
	eventRef string,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewUserAccountKey(addr, SubTypeBalance),
			CreditAccount: NewExternalAccountKey(SubTypeExternalDeposits),
			Amount:        amount,
			JournalType:   JournalTypeDeposit,
			Timestamp:     timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}

// GenerateWithdrawal creates journals for funds leaving custody.
// Moves funds: user:balance → external:withdrawals
func (jg *JournalGenerator) GenerateWithdrawal(
	addr Address,
	eventRef string,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewExternalAccountKey(SubTypeExternalWithdrawals),
			CreditAccount: NewUserAccountKey(addr, SubTypeBalance),
			Amount:        amount,
			JournalType:   JournalTypeWithdrawal,
			Timestamp:     timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}

// GenerateStakeDebit creates the confidential journal for a stake leaving a
// holder's encrypted balance into the house account at position open. The
// magnitude stays ciphertext-only: the leg carries the stake's handle.
func (jg *JournalGenerator) GenerateStakeDebit(
	addr Address,
	eventRef string,
	stakeRef string,
	timestamp int64,
) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewSystemAccountKey("house", SubTypeSystemHouse),
			CreditAccount: NewUserAccountKey(addr, SubTypeBalance),
			StakeRef:      stakeRef,
			JournalType:   JournalTypeStakeDebit,
			Timestamp:     timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}

// GenerateSettlementPayout creates the confidential journal for a winning
// settlement: the payout ciphertext moves from the house account back to the
// holder's encrypted balance.
func (jg *JournalGenerator) GenerateSettlementPayout(
	addr Address,
	eventRef string,
	payoutRef string,
	timestamp int64,
) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewUserAccountKey(addr, SubTypeBalance),
			CreditAccount: NewSystemAccountKey("house", SubTypeSystemHouse),
			StakeRef:      payoutRef,
			JournalType:   JournalTypeSettlementPayout,
			Timestamp:     timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}

// Sequence returns the next sequence number the generator will assign.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}
