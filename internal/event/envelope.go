package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposited
	EventTypeWithdrawn
	EventTypePriceUpdated
	EventTypeOwnershipTransferred
	EventTypePositionOpened
	EventTypePositionClosed
)

// EventEnvelope wraps every event in the log.
//
// Payloads are plaintext-only: confidential quantities never enter the log,
// only the handle IDs that reference them inside the encrypted value service.
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Instrument context (nullable for global events)
	Instrument *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Instrument returns the instrument context (nil for global events)
	Instrument() *string
}

func (et EventType) String() string {
	switch et {
	case EventTypeDeposited:
		return "Deposited"
	case EventTypeWithdrawn:
		return "Withdrawn"
	case EventTypePriceUpdated:
		return "PriceUpdated"
	case EventTypeOwnershipTransferred:
		return "OwnershipTransferred"
	case EventTypePositionOpened:
		return "PositionOpened"
	case EventTypePositionClosed:
		return "PositionClosed"
	default:
		return "Unknown"
	}
}
