// internal/event/balance.go
package event

import "github.com/google/uuid"

type Deposited struct {
	EventID uuid.UUID
	Account string
	Amount  int64 // Fixed-point
}

func (d *Deposited) IdempotencyKey() string {
	return d.EventID.String()
}

func (d *Deposited) EventType() EventType {
	return EventTypeDeposited
}

func (d *Deposited) Instrument() *string {
	return nil // Global event
}

type Withdrawn struct {
	EventID uuid.UUID
	Account string
	Amount  int64
}

func (w *Withdrawn) IdempotencyKey() string {
	return w.EventID.String()
}

func (w *Withdrawn) EventType() EventType {
	return EventTypeWithdrawn
}

func (w *Withdrawn) Instrument() *string {
	return nil
}
