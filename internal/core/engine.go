package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"sync"
	"time"

	"secretinvest/internal/event"
	"secretinvest/internal/fhe"
	"secretinvest/internal/ledger"
	"secretinvest/internal/market"
	"secretinvest/internal/observability"

	"github.com/google/uuid"
)

// Engine is the single-writer settlement core. All mutating operations take
// the engine mutex, which also makes price writes mutually exclusive with
// position opens.
type Engine struct {
	mu sync.Mutex

	svc      fhe.Service
	admitter *fhe.InputValidator
	prices   *market.PriceTable
	random   RandomSource
	clock    func() time.Time
	metrics  *observability.Metrics

	sequence       int64
	hasher         *StateHasher
	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator

	// Per-account encrypted state. Balances are ciphertext handles; the
	// engine never sees the plaintext amounts behind them.
	balances  map[string]fhe.Handle
	positions map[string]*Position

	persistChan chan<- CoreOutput
	notifyChan  chan<- CoreOutput
}

// CoreOutput carries one applied operation downstream: the envelope for the
// event log and the custody journal batch (nil for state-only operations).
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
}

func NewEngine(
	svc fhe.Service,
	admitter *fhe.InputValidator,
	prices *market.PriceTable,
	random RandomSource,
	clock func() time.Time,
	metrics *observability.Metrics,
	persistChan, notifyChan chan<- CoreOutput,
) *Engine {
	balanceTracker := ledger.NewBalanceTracker()

	return &Engine{
		svc:            svc,
		admitter:       admitter,
		prices:         prices,
		random:         random,
		clock:          clock,
		metrics:        metrics,
		hasher:         NewStateHasher(),
		balanceTracker: balanceTracker,
		journalGen:     ledger.NewJournalGenerator(0),
		validator:      ledger.NewInvariantValidator(balanceTracker),
		balances:       make(map[string]fhe.Handle),
		positions:      make(map[string]*Position),
		persistChan:    persistChan,
		notifyChan:     notifyChan,
	}
}

// Deposit credits an account's encrypted balance with a plaintext amount
// entering custody.
func (e *Engine) Deposit(account string, amount uint64) error {
	if amount == 0 {
		return e.reject("deposit", "zero_amount", ErrZeroAmount)
	}
	if amount > math.MaxInt64 {
		return e.reject("deposit", "amount_too_large", ErrAmountTooLarge)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	enc, err := e.svc.Encrypt(account, amount)
	if err != nil {
		return fmt.Errorf("deposit encrypt: %w", err)
	}

	newBal, err := e.creditBalance(account, enc)
	if err != nil {
		return fmt.Errorf("deposit credit: %w", err)
	}

	now := e.clock()
	evt := &event.Deposited{
		EventID: uuid.New(),
		Account: account,
		Amount:  int64(amount),
	}

	batch, err := e.journalGen.GenerateDeposit(ledger.Address(account), evt.IdempotencyKey(), int64(amount), now.UnixMicro())
	if err != nil {
		return fmt.Errorf("deposit journal: %w", err)
	}
	if err := e.validator.ValidateBatchBalance(batch); err != nil {
		return fmt.Errorf("deposit journal: %w", err)
	}

	// State commit point: balance handle swap is the last fallible step.
	e.balances[account] = newBal

	e.commit("deposit", evt, batch, now)
	return nil
}

// Withdraw debits an account's encrypted balance by a plaintext amount. The
// compare-then-subtract runs atomically under the engine mutex: the balance
// either covers the full amount or the operation fails with no change.
func (e *Engine) Withdraw(account string, amount uint64) error {
	if amount == 0 {
		return e.reject("withdraw", "zero_amount", ErrZeroAmount)
	}
	if amount > math.MaxInt64 {
		return e.reject("withdraw", "amount_too_large", ErrAmountTooLarge)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bal, err := e.balanceHandleLocked(account)
	if err != nil {
		return fmt.Errorf("withdraw balance: %w", err)
	}

	covered, err := e.svc.CompareAtLeast(bal, amount)
	if err != nil {
		return fmt.Errorf("withdraw compare: %w", err)
	}
	if !covered {
		return e.reject("withdraw", "insufficient_balance", ErrInsufficientBalance)
	}

	enc, err := e.svc.Encrypt(account, amount)
	if err != nil {
		return fmt.Errorf("withdraw encrypt: %w", err)
	}
	newBal, err := e.svc.Sub(bal, enc)
	if err != nil {
		return fmt.Errorf("withdraw debit: %w", err)
	}

	now := e.clock()
	evt := &event.Withdrawn{
		EventID: uuid.New(),
		Account: account,
		Amount:  int64(amount),
	}

	batch, err := e.journalGen.GenerateWithdrawal(ledger.Address(account), evt.IdempotencyKey(), int64(amount), now.UnixMicro())
	if err != nil {
		return fmt.Errorf("withdraw journal: %w", err)
	}
	if err := e.validator.ValidateBatchBalance(batch); err != nil {
		return fmt.Errorf("withdraw journal: %w", err)
	}

	e.balances[account] = newBal

	e.commit("withdraw", evt, batch, now)
	return nil
}

// SetPrice records the reference price for an instrument. Only the table
// owner may write. Taking the engine mutex makes price updates mutually
// exclusive with opens, so no open can observe a half-applied price.
func (e *Engine) SetPrice(caller, instrument string, price uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.prices.SetPrice(caller, instrument, price); err != nil {
		e.rejectLocked("set_price", "unauthorized")
		return err
	}

	now := e.clock()
	evt := &event.PriceUpdated{
		EventID:   uuid.New(),
		Symbol:    instrument,
		Price:     price,
		UpdatedBy: caller,
	}

	e.commit("set_price", evt, nil, now)
	return nil
}

// TransferOwnership hands price-table control to a new owner.
func (e *Engine) TransferOwnership(caller, newOwner string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldOwner := e.prices.Owner()
	if err := e.prices.TransferOwnership(caller, newOwner); err != nil {
		e.rejectLocked("transfer_ownership", "unauthorized")
		return err
	}

	now := e.clock()
	evt := &event.OwnershipTransferred{
		EventID:  uuid.New(),
		OldOwner: oldOwner,
		NewOwner: newOwner,
	}

	e.commit("transfer_ownership", evt, nil, now)
	return nil
}

// OpenPosition admits the caller's encrypted direction and quantity, derives
// the stake, debits the encrypted balance, and records the write-once
// position. Check order: active position, then price, then admission, then
// funds. Nothing is mutated until every check has passed.
func (e *Engine) OpenPosition(account, instrument string, ciphertexts [][]byte, proof []byte) (*Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pos, ok := e.positions[account]; ok && pos.Active {
		return nil, e.reject("open", "position_already_open", ErrPositionAlreadyOpen)
	}

	openPrice, err := e.prices.GetPrice(instrument)
	if err != nil {
		e.rejectLocked("open", "price_not_set")
		return nil, err
	}

	handles, err := e.admitter.Admit(ciphertexts, proof, account)
	if err != nil {
		e.rejectLocked("open", "admission_failed")
		return nil, err
	}
	if len(handles) != 2 {
		e.rejectLocked("open", "admission_failed")
		return nil, fmt.Errorf("open expects direction and quantity ciphertexts, got %d: %w", len(handles), fhe.ErrInvalidProof)
	}
	direction, quantity := handles[0], handles[1]

	// Reject a zero-quantity bet. The check reveals only that qty >= 1.
	nonZero, err := e.svc.CompareAtLeast(quantity, 1)
	if err != nil {
		return nil, fmt.Errorf("open quantity check: %w", err)
	}
	if !nonZero {
		return nil, e.reject("open", "zero_amount", ErrZeroAmount)
	}

	// stake = open_price × quantity, computed on ciphertext by double-and-add
	// so the engine never learns the quantity.
	stake, err := e.scaleHandle(account, quantity, openPrice)
	if err != nil {
		return nil, fmt.Errorf("open stake derivation: %w", err)
	}

	bal, err := e.balanceHandleLocked(account)
	if err != nil {
		return nil, fmt.Errorf("open balance: %w", err)
	}

	covered, err := e.svc.CompareAtLeastHandle(bal, stake)
	if err != nil {
		return nil, fmt.Errorf("open funds compare: %w", err)
	}
	if !covered {
		return nil, e.reject("open", "insufficient_balance", ErrInsufficientBalance)
	}

	newBal, err := e.svc.Sub(bal, stake)
	if err != nil {
		return nil, fmt.Errorf("open stake debit: %w", err)
	}

	now := e.clock()
	pos := &Position{
		ID:         uuid.New(),
		Account:    account,
		Instrument: instrument,
		Direction:  direction,
		Quantity:   quantity,
		Stake:      stake,
		OpenPrice:  openPrice,
		OpenedAt:   now.UnixMicro(),
		Active:     true,
	}

	evt := &event.PositionOpened{
		EventID:   uuid.New(),
		Account:   account,
		Symbol:    instrument,
		OpenPrice: openPrice,
		CostRef:   string(stake),
		OpenedAt:  pos.OpenedAt,
	}

	batch, err := e.journalGen.GenerateStakeDebit(ledger.Address(account), evt.IdempotencyKey(), string(stake), now.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	e.balances[account] = newBal
	e.positions[account] = pos

	e.commit("open", evt, batch, now)
	if e.metrics != nil {
		e.metrics.PositionsOpen.Inc()
	}
	return pos, nil
}

// CloseResult reports the settlement of a position: the outcome, the
// plaintext payout (zero on a loss) and the handle of the payout ciphertext.
type CloseResult struct {
	Win       bool
	Payout    uint64
	PayoutRef string
}

// ClosePosition settles the caller's active position. The caller reveals the
// claimed direction and quantity in plaintext; the engine verifies both
// against the position's ciphertexts before settling. A win credits twice
// the stake, derived from the staked ciphertext itself. If settlement inputs
// are unavailable the position stays active and closable.
func (e *Engine) ClosePosition(ctx context.Context, account string, clearDirection, clearQuantity uint64) (*CloseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[account]
	if !ok || !pos.Active {
		return nil, e.reject("close", "no_active_position", ErrNoActivePosition)
	}

	if clearDirection != DirectionLong && clearDirection != DirectionShort {
		return nil, e.reject("close", "invalid_claim", fhe.ErrInvalidProof)
	}

	// The revealed plaintexts must match the encrypted position exactly.
	if err := e.verifyClaim(account, pos.Quantity, clearQuantity); err != nil {
		e.rejectLocked("close", "invalid_claim")
		return nil, err
	}
	if err := e.verifyClaim(account, pos.Direction, clearDirection); err != nil {
		e.rejectLocked("close", "invalid_claim")
		return nil, err
	}

	closePrice, err := e.prices.GetPrice(pos.Instrument)
	if err != nil {
		e.rejectLocked("close", "settlement_unavailable")
		return nil, fmt.Errorf("close price for %s: %v: %w", pos.Instrument, err, ErrSettlementUnavailable)
	}

	// The winning direction follows the price move since open. A flat price
	// is settled by coin flip.
	var winningDirection uint64
	switch {
	case closePrice > pos.OpenPrice:
		winningDirection = DirectionLong
	case closePrice < pos.OpenPrice:
		winningDirection = DirectionShort
	default:
		up, err := e.random.Draw(ctx)
		if err != nil {
			e.rejectLocked("close", "settlement_unavailable")
			return nil, fmt.Errorf("close tie draw: %v: %w", err, ErrSettlementUnavailable)
		}
		if up {
			winningDirection = DirectionLong
		} else {
			winningDirection = DirectionShort
		}
	}

	win := clearDirection == winningDirection
	now := e.clock()

	evt := &event.PositionClosed{
		EventID: uuid.New(),
		Account: account,
		Symbol:  pos.Instrument,
		Win:     win,
	}

	var batch *ledger.Batch
	result := &CloseResult{Win: win}

	if win {
		// The plaintext payout mirrors the ciphertext credit: twice the
		// stake, and the verified claim pins the stake to open_price × qty.
		hi, stakeClear := bits.Mul64(pos.OpenPrice, clearQuantity)
		if hi != 0 || stakeClear > math.MaxUint64/2 {
			return nil, e.reject("close", "amount_too_large", ErrAmountTooLarge)
		}
		result.Payout = 2 * stakeClear

		// Payout is 2x the stake, built from the staked ciphertext itself so
		// the credit shares the stake's lineage.
		payout, err := e.svc.Add(pos.Stake, pos.Stake)
		if err != nil {
			return nil, fmt.Errorf("close payout derivation: %w", err)
		}

		bal, err := e.balanceHandleLocked(account)
		if err != nil {
			return nil, fmt.Errorf("close balance: %w", err)
		}
		newBal, err := e.svc.Add(bal, payout)
		if err != nil {
			return nil, fmt.Errorf("close payout credit: %w", err)
		}

		result.PayoutRef = string(payout)
		evt.Payout = result.Payout
		evt.PayoutRef = result.PayoutRef

		batch, err = e.journalGen.GenerateSettlementPayout(ledger.Address(account), evt.IdempotencyKey(), result.PayoutRef, now.UnixMicro())
		if err != nil {
			return nil, fmt.Errorf("close journal: %w", err)
		}

		e.balances[account] = newBal
	}

	pos.Active = false

	e.commit("close", evt, batch, now)
	if e.metrics != nil {
		e.metrics.PositionsOpen.Dec()
		outcome := "lose"
		if win {
			outcome = "win"
		}
		e.metrics.SettlementOutcomes.WithLabelValues(pos.Instrument, outcome).Inc()
	}
	return result, nil
}

// BalanceHandle returns the account's encrypted balance handle, lazily
// creating a zero balance for accounts never seen before.
func (e *Engine) BalanceHandle(account string) (fhe.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balanceHandleLocked(account)
}

// HasActivePosition reports whether the account has an unsettled position.
func (e *Engine) HasActivePosition(account string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[account]
	return ok && pos.Active
}

// PositionFor returns a copy of the account's position record, if any.
func (e *Engine) PositionFor(account string) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[account]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Sequence returns the current global sequence number.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// StateHash returns the current state hash chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// --- internals ---

func (e *Engine) balanceHandleLocked(account string) (fhe.Handle, error) {
	if bal, ok := e.balances[account]; ok {
		return bal, nil
	}
	zero, err := e.svc.Encrypt(account, 0)
	if err != nil {
		return "", err
	}
	e.balances[account] = zero
	return zero, nil
}

func (e *Engine) creditBalance(account string, enc fhe.Handle) (fhe.Handle, error) {
	bal, ok := e.balances[account]
	if !ok {
		return enc, nil
	}
	return e.svc.Add(bal, enc)
}

// scaleHandle computes k × h using only ciphertext additions (double-and-add
// over the bits of the plaintext multiplier k).
func (e *Engine) scaleHandle(account string, h fhe.Handle, k uint64) (fhe.Handle, error) {
	if k == 0 {
		return e.svc.Encrypt(account, 0)
	}

	var acc fhe.Handle
	have := false
	cur := h
	var err error

	for k > 0 {
		if k&1 == 1 {
			if !have {
				acc = cur
				have = true
			} else {
				acc, err = e.svc.Add(acc, cur)
				if err != nil {
					return "", err
				}
			}
		}
		k >>= 1
		if k > 0 {
			cur, err = e.svc.Add(cur, cur)
			if err != nil {
				return "", err
			}
		}
	}

	return acc, nil
}

// verifyClaim checks that a ciphertext equals a revealed plaintext by running
// the at-least comparison both ways. A mismatch is an invalid claim.
func (e *Engine) verifyClaim(account string, h fhe.Handle, claimed uint64) error {
	atLeast, err := e.svc.CompareAtLeast(h, claimed)
	if err != nil {
		return fmt.Errorf("claim compare: %w", err)
	}

	encClaim, err := e.svc.Encrypt(account, claimed)
	if err != nil {
		return fmt.Errorf("claim encrypt: %w", err)
	}
	atMost, err := e.svc.CompareAtLeastHandle(encClaim, h)
	if err != nil {
		return fmt.Errorf("claim compare: %w", err)
	}

	if !atLeast || !atMost {
		return fmt.Errorf("revealed value does not match position ciphertext: %w", fhe.ErrInvalidProof)
	}
	return nil
}

// commit applies the journal batch, advances the hash chain, and emits the
// operation downstream. Callers must hold the engine mutex and must have
// finished every fallible step: a failure past this point is a bug, so
// invariant violations panic.
func (e *Engine) commit(operation string, evt event.Event, batch *ledger.Batch, ts time.Time) {
	start := time.Now()

	if batch != nil && len(batch.Journals) > 0 {
		if err := e.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := e.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch: %v", err))
		}
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal event payload: %v", err))
	}

	stateDigest := e.computeStateDigest(batch)
	prevHash := e.hasher.GetPrevHash()
	hashStart := time.Now()
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)
	if e.metrics != nil {
		e.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       e.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Instrument:     evt.Instrument(),
		Timestamp:      ts,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{Envelope: envelope, Batch: batch}
	e.sequence++

	if err := e.validator.ValidateGlobalBalance(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Persistence: blocking send. The core stalls until the persistence
	// worker drains, which guarantees no event is lost.
	select {
	case e.persistChan <- output:
	default:
		if e.metrics != nil {
			e.metrics.PersistBackpressure.Inc()
		}
		e.persistChan <- output
	}

	// Notifications: non-blocking send with drop on full. Subscribers can
	// rebuild from the event log if they fall behind.
	select {
	case e.notifyChan <- output:
	default:
		if e.metrics != nil {
			e.metrics.NotifyDrops.Inc()
		}
	}

	if e.metrics != nil {
		e.metrics.CoreOpsApplied.WithLabelValues(operation).Inc()
		e.metrics.CoreOpDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}
}

// computeStateDigest creates canonical bytes for the state hash from the
// accounts touched by the batch.
func (e *Engine) computeStateDigest(batch *ledger.Batch) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		balance := e.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		digest = appendInt64LE(digest, balance)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (e *Engine) reject(operation, reason string, err error) error {
	if e.metrics != nil {
		e.metrics.CoreOpsRejected.WithLabelValues(operation, reason).Inc()
	}
	return err
}

func (e *Engine) rejectLocked(operation, reason string) {
	if e.metrics != nil {
		e.metrics.CoreOpsRejected.WithLabelValues(operation, reason).Inc()
	}
}
