package persistence_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"secretinvest/internal/persistence"
	"secretinvest/internal/testutil"

	"github.com/google/uuid"
)

// ==== Test: EventLogWriter (integration) ====

func TestWriteBatches_RoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	migrator := persistence.NewMigrator(db, filepath.Join("..", "..", "migrations"))
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	writer := persistence.NewEventLogWriter(db)

	instrument := "TOKENA"
	events := []persistence.EventRow{
		{
			Sequence:       0,
			EventType:      "Deposited",
			IdempotencyKey: uuid.NewString(),
			Payload:        []byte(`{"account":"0xalice","amount":1000}`),
			StateHash:      make([]byte, 32),
			PrevHash:       make([]byte, 32),
			Timestamp:      time.UnixMicro(1_700_000_000_000_000),
		},
		{
			Sequence:       1,
			EventType:      "PositionOpened",
			IdempotencyKey: uuid.NewString(),
			Instrument:     &instrument,
			Payload:        []byte(`{"account":"0xalice"}`),
			StateHash:      make([]byte, 32),
			PrevHash:       make([]byte, 32),
			Timestamp:      time.UnixMicro(1_700_000_001_000_000),
		},
	}

	journals := []persistence.JournalRow{
		{
			JournalID:     uuid.NewString(),
			BatchID:       uuid.NewString(),
			EventRef:      events[0].IdempotencyKey,
			Sequence:      0,
			DebitAccount:  "external:deposits",
			CreditAccount: "user:0xalice:balance",
			Amount:        1000,
			JournalType:   0,
			Timestamp:     1_700_000_000_000_000,
		},
		{
			JournalID:     uuid.NewString(),
			BatchID:       uuid.NewString(),
			EventRef:      events[1].IdempotencyKey,
			Sequence:      1,
			DebitAccount:  "system:house:house",
			CreditAccount: "user:0xalice:balance",
			Amount:        0,
			StakeRef:      "handle-abc",
			JournalType:   2,
			Timestamp:     1_700_000_001_000_000,
		},
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := writer.WriteEventBatch(ctx, events, tx); err != nil {
		tx.Rollback()
		t.Fatalf("write events: %v", err)
	}
	if err := writer.WriteJournalBatch(ctx, journals, tx); err != nil {
		tx.Rollback()
		t.Fatalf("write journals: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var eventCount int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.events`).Scan(&eventCount); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 2 {
		t.Errorf("event count = %d, want 2", eventCount)
	}

	var stakeRef string
	if err := db.QueryRowContext(ctx,
		`SELECT stake_ref FROM event_log.journal WHERE amount = 0`).Scan(&stakeRef); err != nil {
		t.Fatalf("query confidential leg: %v", err)
	}
	if stakeRef != "handle-abc" {
		t.Errorf("stake_ref = %q, want handle-abc", stakeRef)
	}

	// Re-inserting the same sequence is a no-op (idempotent writes).
	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := writer.WriteEventBatch(ctx, events[:1], tx); err != nil {
		tx.Rollback()
		t.Fatalf("rewrite events: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.events`).Scan(&eventCount); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 2 {
		t.Errorf("event count after replay = %d, want 2", eventCount)
	}
}
