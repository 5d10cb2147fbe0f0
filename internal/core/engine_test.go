package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"secretinvest/internal/core"
	"secretinvest/internal/event"
	"secretinvest/internal/fhe"
	"secretinvest/internal/market"
)

const (
	owner    = "0xowner"
	alice    = "0xalice"
	bob      = "0xbob"
	contract = "secretinvest-ledger"
)

// stubRandom returns a scripted sequence of draws.
type stubRandom struct {
	draws []bool
	err   error
}

func (s *stubRandom) Draw(ctx context.Context) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if len(s.draws) == 0 {
		return false, nil
	}
	d := s.draws[0]
	s.draws = s.draws[1:]
	return d, nil
}

type testRig struct {
	engine  *core.Engine
	svc     *fhe.LocalService
	prices  *market.PriceTable
	random  *stubRandom
	persist chan core.CoreOutput
	notify  chan core.CoreOutput
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	svc := fhe.NewLocalService()
	prices := market.NewPriceTable(owner)
	random := &stubRandom{}

	// Generous buffers so the blocking persist send never stalls a test.
	persist := make(chan core.CoreOutput, 256)
	notify := make(chan core.CoreOutput, 256)

	clock := func() time.Time { return time.UnixMicro(1_700_000_000_000_000) }

	engine := core.NewEngine(
		svc,
		fhe.NewInputValidator(svc, contract),
		prices,
		random,
		clock,
		nil,
		persist,
		notify,
	)

	return &testRig{
		engine:  engine,
		svc:     svc,
		prices:  prices,
		random:  random,
		persist: persist,
		notify:  notify,
	}
}

func (r *testRig) balance(t *testing.T, account string) uint64 {
	t.Helper()
	h, err := r.engine.BalanceHandle(account)
	if err != nil {
		t.Fatalf("balance handle: %v", err)
	}
	plain, err := r.svc.DecryptFor(h, account)
	if err != nil {
		t.Fatalf("balance decrypt: %v", err)
	}
	return plain
}

func (r *testRig) open(t *testing.T, account, instrument string, direction, quantity uint64) *core.Position {
	t.Helper()
	input, err := r.svc.EncryptInput(account, contract, direction, quantity)
	if err != nil {
		t.Fatalf("encrypt input: %v", err)
	}
	pos, err := r.engine.OpenPosition(account, instrument, input.Ciphertexts, input.Proof)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return pos
}

// ============================================================================
// Test: Deposit / Withdraw
// ============================================================================

func TestEngine_DepositZero_Rejected(t *testing.T) {
	r := newTestRig(t)

	err := r.engine.Deposit(alice, 0)
	if !errors.Is(err, core.ErrZeroAmount) {
		t.Errorf("got %v, want ErrZeroAmount", err)
	}
}

// Custody journal amounts are signed 64-bit. Amounts beyond that range must
// be rejected up front, before any balance handle changes hands.
func TestEngine_DepositBeyondJournalRange_Rejected(t *testing.T) {
	r := newTestRig(t)

	err := r.engine.Deposit(alice, 1<<63)
	if !errors.Is(err, core.ErrAmountTooLarge) {
		t.Fatalf("got %v, want ErrAmountTooLarge", err)
	}

	if seq := r.engine.Sequence(); seq != 0 {
		t.Errorf("rejected deposit must not advance the sequence, got %d", seq)
	}
	if got := r.balance(t, alice); got != 0 {
		t.Errorf("balance after rejected deposit: got %d, want 0", got)
	}
}

func TestEngine_WithdrawBeyondJournalRange_Rejected(t *testing.T) {
	r := newTestRig(t)

	if err := r.engine.Deposit(alice, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := r.engine.Withdraw(alice, 1<<63)
	if !errors.Is(err, core.ErrAmountTooLarge) {
		t.Fatalf("got %v, want ErrAmountTooLarge", err)
	}
	if got := r.balance(t, alice); got != 100 {
		t.Errorf("balance after rejected withdraw: got %d, want 100", got)
	}
}

func TestEngine_DepositCreditsBalance(t *testing.T) {
	r := newTestRig(t)

	if err := r.engine.Deposit(alice, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := r.engine.Deposit(alice, 50_000); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	if got := r.balance(t, alice); got != 150_000 {
		t.Errorf("balance: got %d, want 150_000", got)
	}
}

func TestEngine_WithdrawInsufficient_Rejected(t *testing.T) {
	r := newTestRig(t)

	if err := r.engine.Deposit(alice, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := r.engine.Withdraw(alice, 101)
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}

	// Failed withdrawal must not clamp or partially debit.
	if got := r.balance(t, alice); got != 100 {
		t.Errorf("balance after rejected withdraw: got %d, want 100", got)
	}
}

func TestEngine_WithdrawDebitsBalance(t *testing.T) {
	r := newTestRig(t)

	if err := r.engine.Deposit(alice, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := r.engine.Withdraw(alice, 100); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if got := r.balance(t, alice); got != 0 {
		t.Errorf("balance: got %d, want 0", got)
	}
}

// ============================================================================
// Test: OpenPosition
// ============================================================================

func TestEngine_OpenWithoutPrice_Rejected(t *testing.T) {
	r := newTestRig(t)

	if err := r.engine.Deposit(alice, 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	input, _ := r.svc.EncryptInput(alice, contract, core.DirectionLong, 10)
	_, err := r.engine.OpenPosition(alice, "BTC", input.Ciphertexts, input.Proof)
	if !errors.Is(err, market.ErrPriceNotSet) {
		t.Errorf("got %v, want ErrPriceNotSet", err)
	}
}

func TestEngine_OpenDebitsStake(t *testing.T) {
	r := newTestRig(t)

	if err := r.engine.Deposit(alice, 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := r.engine.SetPrice(owner, "BTC", 5787); err != nil {
		t.Fatalf("set price: %v", err)
	}

	pos := r.open(t, alice, "BTC", core.DirectionLong, 64)

	if !pos.Active {
		t.Error("position should be active")
	}
	if pos.OpenPrice != 5787 {
		t.Errorf("open price: got %d, want 5787", pos.OpenPrice)
	}

	// stake = 5787 * 64 = 370_368
	if got := r.balance(t, alice); got != 1_000_000-370_368 {
		t.Errorf("balance after open: got %d, want %d", got, 1_000_000-370_368)
	}

	stake, err := r.svc.DecryptFor(pos.Stake, alice)
	if err != nil {
		t.Fatalf("stake decrypt: %v", err)
	}
	if stake != 370_368 {
		t.Errorf("stake: got %d, want 370_368", stake)
	}
}

func TestEngine_OpenTwice_Rejected(t *testing.T) {
	r := newTestRig(t)

	r.engine.Deposit(alice, 1_000_000)
	r.engine.SetPrice(owner, "BTC", 100)
	r.open(t, alice, "BTC", core.DirectionLong, 10)

	input, _ := r.svc.EncryptInput(alice, contract, core.DirectionShort, 5)
	_, err := r.engine.OpenPosition(alice, "BTC", input.Ciphertexts, input.Proof)
	if !errors.Is(err, core.ErrPositionAlreadyOpen) {
		t.Errorf("got %v, want ErrPositionAlreadyOpen", err)
	}
}

func TestEngine_OpenInsufficientFunds_Rejected(t *testing.T) {
	r := newTestRig(t)

	r.engine.Deposit(alice, 100)
	r.engine.SetPrice(owner, "BTC", 5787)

	input, _ := r.svc.EncryptInput(alice, contract, core.DirectionLong, 64)
	_, err := r.engine.OpenPosition(alice, "BTC", input.Ciphertexts, input.Proof)
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}

	if r.engine.HasActivePosition(alice) {
		t.Error("rejected open must not record a position")
	}
	if got := r.balance(t, alice); got != 100 {
		t.Errorf("balance after rejected open: got %d, want 100", got)
	}
}

func TestEngine_OpenZeroQuantity_Rejected(t *testing.T) {
	r := newTestRig(t)

	r.engine.Deposit(alice, 1_000_000)
	r.engine.SetPrice(owner, "BTC", 100)

	input, _ := r.svc.EncryptInput(alice, contract, core.DirectionLong, 0)
	_, err := r.engine.OpenPosition(alice, "BTC", input.Ciphertexts, input.Proof)
	if !errors.Is(err, core.ErrZeroAmount) {
		t.Errorf("got %v, want ErrZeroAmount", err)
	}
}

func TestEngine_OpenForeignCiphertexts_Rejected(t *testing.T) {
	r := newTestRig(t)

	r.engine.Deposit(bob, 1_000_000)
	r.engine.SetPrice(owner, "BTC", 100)

	// Bob replays Alice's encrypted inputs under his own identity.
	input, _ := r.svc.EncryptInput(alice, contract, core.DirectionLong, 10)
	_, err := r.engine.OpenPosition(bob, "BTC", input.Ciphertexts, input.Proof)
	if !errors.Is(err, fhe.ErrInvalidProof) {
		t.Errorf("got %v, want ErrInvalidProof", err)
	}
}

// ============================================================================
// Test: ClosePosition
// ============================================================================

func TestEngine_CloseWithoutPosition_Rejected(t *testing.T) {
	r := newTestRig(t)

	_, err := r.engine.ClosePosition(context.Background(), alice, core.DirectionLong, 10)
	if !errors.Is(err, core.ErrNoActivePosition) {
		t.Errorf("got %v, want ErrNoActivePosition", err)
	}
}

func TestEngine_CloseWrongClaim_Rejected(t *testing.T) {
	r := newTestRig(t)

	r.engine.Deposit(alice, 1_000_000)
	r.engine.SetPrice(owner, "BTC", 100)
	r.open(t, alice, "BTC", core.DirectionLong, 10)

	// Wrong quantity
	_, err := r.engine.ClosePosition(context.Background(), alice, core.DirectionLong, 11)
	if !errors.Is(err, fhe.ErrInvalidProof) {
		t.Errorf("wrong quantity: got %v, want ErrInvalidProof", err)
	}

	// Wrong direction
	_, err = r.engine.ClosePosition(context.Background(), alice, core.DirectionShort, 10)
	if !errors.Is(err, fhe.ErrInvalidProof) {
		t.Errorf("wrong direction: got %v, want ErrInvalidProof", err)
	}

	// Position must survive a rejected close.
	if !r.engine.HasActivePosition(alice) {
		t.Error("position should remain active after rejected close")
	}
}

func TestEngine_CloseWin_PaysDoubleStake(t *testing.T) {
	r := newTestRig(t)

	r.engine.Deposit(alice, 1_000_000)
	r.engine.SetPrice(owner, "BTC", 5787)
	r.open(t, alice, "BTC", core.DirectionLong, 64)

	// Price moved up: long wins.
	r.engine.SetPrice(owner, "BTC", 6000)

	result, err := r.engine.ClosePosition(context.Background(), alice, core.DirectionLong, 64)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !result.Win {
		t.Fatal("long should win on a price rise")
	}
	if result.PayoutRef == "" {
		t.Fatal("winning close should return a payout handle")
	}
	if result.Payout != 2*370_368 {
		t.Errorf("plaintext payout: got %d, want %d", result.Payout, 2*370_368)
	}

	payout, err := r.svc.DecryptFor(fhe.Handle(result.PayoutRef), alice)
	if err != nil {
		t.Fatalf("payout decrypt: %v", err)
	}
	if payout != result.Payout {
		t.Errorf("payout ciphertext: got %d, want %d", payout, result.Payout)
	}

	// 1_000_000 - 370_368 + 740_736
	if got := r.balance(t, alice); got != 1_370_368 {
		t.Errorf("final balance: got %d, want 1_370_368", got)
	}

	if r.engine.HasActivePosition(alice) {
		t.Error("position should be settled")
	}
}

// A winning close settles publicly: subscribers get the plaintext payout in
// the notification, matching the ciphertext credited to the balance.
func TestEngine_CloseWin_NotifiesPlaintextPayout(t *testing.T) {
	r := newTestRig(t)

	r.engine.Deposit(alice, 1_000_000)
	r.engine.SetPrice(owner, "BTC", 100)
	r.open(t, alice, "BTC", core.DirectionLong, 10)
	r.engine.SetPrice(owner, "BTC", 200)

	result, err := r.engine.ClosePosition(context.Background(), alice, core.DirectionLong, 10)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	var closed *event.EventEnvelope
	for len(r.notify) > 0 {
		out := <-r.notify
		if out.Envelope.EventType == event.EventTypePositionClosed {
			closed = out.Envelope
		}
	}
	if closed == nil {
		t.Fatal("expected a PositionClosed notification")
	}

	var payload event.PositionClosed
	if err := json.Unmarshal(closed.Payload, &payload); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if payload.Payout != 2*100*10 {
		t.Errorf("payload payout: got %d, want %d", payload.Payout, 2*100*10)
	}
	if payload.Payout != result.Payout {
		t.Errorf("payload payout %d does not match close result %d", payload.Payout, result.Payout)
	}
	if payload.PayoutRef == "" {
		t.Error("payload should carry the payout handle reference")
	}
}

func TestEngine_CloseLose_NoCredit(t *testing.T) {
	r := newTestRig(t)

	r.engine.Deposit(alice, 1_000_000)
	r.engine.SetPrice(owner, "BTC", 5787)
	r.open(t, alice, "BTC", core.DirectionLong, 64)

	// Price moved down: long loses.
	r.engine.SetPrice(owner, "BTC", 5000)

	result, err := r.engine.ClosePosition(context.Background(), alice, core.DirectionLong, 64)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if result.Win {
		t.Fatal("long should lose on a price drop")
	}
	if result.PayoutRef != "" {
		t.Error("losing close should not return a payout handle")
	}
	if result.Payout != 0 {
		t.Errorf("losing close payout: got %d, want 0", result.Payout)
	}

	if got := r.balance(t, alice); got != 1_000_000-370_368 {
		t.Errorf("final balance: got %d, want %d", got, 1_000_000-370_368)
	}
}

func TestEngine_CloseFlatPrice_TieBrokenByDraw(t *testing.T) {
	r := newTestRig(t)

	r.engine.Deposit(alice, 1_000_000)
	r.engine.SetPrice(owner, "BTC", 100)
	r.open(t, alice, "BTC", core.DirectionLong, 10)

	// Price unchanged; draw says up, so long wins.
	r.random.draws = []bool{true}

	result, err := r.engine.ClosePosition(context.Background(), alice, core.DirectionLong, 10)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !result.Win {
		t.Error("draw=up should settle the tie in long's favor")
	}
}

func TestEngine_CloseDrawFails_PositionStaysOpen(t *testing.T) {
	r := newTestRig(t)

	r.engine.Deposit(alice, 1_000_000)
	r.engine.SetPrice(owner, "BTC", 100)
	r.open(t, alice, "BTC", core.DirectionLong, 10)

	r.random.err = errors.New("entropy source down")

	_, err := r.engine.ClosePosition(context.Background(), alice, core.DirectionLong, 10)
	if !errors.Is(err, core.ErrSettlementUnavailable) {
		t.Fatalf("got %v, want ErrSettlementUnavailable", err)
	}
	if !r.engine.HasActivePosition(alice) {
		t.Fatal("position should stay active when settlement inputs are unavailable")
	}

	// Retry succeeds once the draw recovers.
	r.random.err = nil
	r.random.draws = []bool{false}

	result, err := r.engine.ClosePosition(context.Background(), alice, core.DirectionLong, 10)
	if err != nil {
		t.Fatalf("retried close: %v", err)
	}
	if result.Win {
		t.Error("draw=down should settle the tie against long")
	}
}

// ============================================================================
// Test: Event log outputs
// ============================================================================

func TestEngine_HashChainLinks(t *testing.T) {
	r := newTestRig(t)

	r.engine.Deposit(alice, 1_000)
	r.engine.Withdraw(alice, 500)
	r.engine.SetPrice(owner, "BTC", 100)

	var envelopes []*event.EventEnvelope
	for i := 0; i < 3; i++ {
		out := <-r.persist
		envelopes = append(envelopes, out.Envelope)
	}

	for i, env := range envelopes {
		if env.Sequence != int64(i) {
			t.Errorf("envelope %d: sequence %d", i, env.Sequence)
		}
		if i > 0 && env.PrevHash != envelopes[i-1].StateHash {
			t.Errorf("envelope %d: prev hash does not chain to envelope %d", i, i-1)
		}
	}
}

func TestEngine_NotificationPayloadIsPlaintextOnly(t *testing.T) {
	r := newTestRig(t)

	r.engine.Deposit(alice, 1_000_000)
	r.engine.SetPrice(owner, "BTC", 5787)
	r.open(t, alice, "BTC", core.DirectionLong, 64)

	var opened *event.EventEnvelope
	for len(r.notify) > 0 {
		out := <-r.notify
		if out.Envelope.EventType == event.EventTypePositionOpened {
			opened = out.Envelope
		}
	}
	if opened == nil {
		t.Fatal("expected a PositionOpened notification")
	}

	var payload event.PositionOpened
	if err := json.Unmarshal(opened.Payload, &payload); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if payload.OpenPrice != 5787 {
		t.Errorf("open price: got %d, want 5787", payload.OpenPrice)
	}
	if payload.CostRef == "" {
		t.Error("notification should carry the stake handle reference")
	}
}
