// internal/event/price.go
package event

import "github.com/google/uuid"

type PriceUpdated struct {
	EventID   uuid.UUID
	Symbol    string
	Price     uint64
	UpdatedBy string
}

func (p *PriceUpdated) IdempotencyKey() string {
	return p.EventID.String()
}

func (p *PriceUpdated) EventType() EventType {
	return EventTypePriceUpdated
}

func (p *PriceUpdated) Instrument() *string {
	return &p.Symbol
}

type OwnershipTransferred struct {
	EventID  uuid.UUID
	OldOwner string
	NewOwner string
}

func (o *OwnershipTransferred) IdempotencyKey() string {
	return o.EventID.String()
}

func (o *OwnershipTransferred) EventType() EventType {
	return EventTypeOwnershipTransferred
}

func (o *OwnershipTransferred) Instrument() *string {
	return nil
}
