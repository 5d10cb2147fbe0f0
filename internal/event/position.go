// internal/event/position.go
package event

import "github.com/google/uuid"

// PositionOpened records the public facts of an open: that a position exists,
// against which instrument, at which reference price, and the handle of the
// staked ciphertext. Direction, quantity, and stake magnitude stay encrypted.
type PositionOpened struct {
	EventID   uuid.UUID
	Account   string
	Symbol    string
	OpenPrice uint64
	CostRef   string // stake ciphertext handle, magnitude not revealed
	OpenedAt  int64  // epoch microseconds
}

func (p *PositionOpened) IdempotencyKey() string {
	return p.EventID.String()
}

func (p *PositionOpened) EventType() EventType {
	return EventTypePositionOpened
}

func (p *PositionOpened) Instrument() *string {
	return &p.Symbol
}

// PositionClosed records the settlement result. Win and payout are public
// once settlement completes; the closed position's encrypted fields are not.
type PositionClosed struct {
	EventID   uuid.UUID
	Account   string
	Symbol    string
	Win       bool
	Payout    uint64 // plaintext payout amount, zero on loss
	PayoutRef string // payout ciphertext handle, empty on loss
}

func (p *PositionClosed) IdempotencyKey() string {
	return p.EventID.String()
}

func (p *PositionClosed) EventType() EventType {
	return EventTypePositionClosed
}

func (p *PositionClosed) Instrument() *string {
	return &p.Symbol
}
