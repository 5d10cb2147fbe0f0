package core

import (
	"secretinvest/internal/fhe"

	"github.com/google/uuid"
)

// Direction values as encrypted by clients. The plaintext constants exist only
// for clients and for settlement-time equality checks; the engine never learns
// a position's direction before close.
const (
	DirectionLong  uint64 = 1
	DirectionShort uint64 = 2
)

// Position is the write-once record of an open bet. Direction, quantity, and
// stake are ciphertext handles; only the instrument, reference price, and
// timestamps are public.
type Position struct {
	ID         uuid.UUID
	Account    string
	Instrument string
	Direction  fhe.Handle
	Quantity   fhe.Handle
	Stake      fhe.Handle
	OpenPrice  uint64
	OpenedAt   int64 // epoch microseconds
	Active     bool
}
