/*
engine.go - Ledger engine: the only writer of balances and records

PURPOSE:
  Applies cashier operations. For every accepted operation the engine
  appends exactly one TransactionRecord and replaces exactly one Balance,
  as an all-or-nothing unit keyed by (cashierId, currency).

FLOW (Apply):
  1. Reconciler.Validate (pure, no state touched)
  2. Enter the key's critical section (the only cancellable step)
  3. Load current balance, check Total == Σ denominations
  4. Compute next balance (deposit: add; withdraw: denomination-exact debit)
  5. Stamp the record: UUID id, accepted_at = max(now, last on this key);
     the last stamp is seeded from the log on first entry after a restart
  6. Commit record + balance together

CONCURRENCY:
  Operations on the same key run one at a time in arrival order at the
  critical section. Different keys never wait on each other; there is no
  global lock. Once the section is entered the caller's cancellation is
  ignored so a half-applied operation can't exist.

COMMIT STRATEGIES:
  - Store implements cash.Committer and is also the log (store/sqlite):
    one database transaction covers both writes.
  - Otherwise: put balance, append record; if append fails, put the
    previous balance back. If that also fails the key is inconsistent.
    Balance reads take the key's critical section on this path so the
    put is never visible before its record is.

SEE ALSO:
  - keylock.go: per-key critical sections
  - rebuild.go: balance index recovery from the log
  - audit.go: log vs index verification
*/
package ledger

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/cashdesk/cash"
	"github.com/warp/cashdesk/cash/store"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine applies operations against a balance store and a transaction log.
type Engine struct {
	reconciler *cash.Reconciler
	balances   cash.BalanceStore
	log        cash.TransactionLog
	committer  cash.Committer

	locks  *keyLocks
	clock  func() time.Time
	newID  func() string
	logger *zap.Logger
	shards int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now. Tests use it to pin accepted_at.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithShards sets the number of lock shards, rounded up to a power of two.
func WithShards(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.shards = n
		}
	}
}

// WithIDGenerator replaces uuid.NewString for record ids.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// New builds an engine. When balances and log are the same object and it
// implements cash.Committer, commits go through a single storage transaction.
func New(reconciler *cash.Reconciler, balances cash.BalanceStore, log cash.TransactionLog, opts ...Option) *Engine {
	e := &Engine{
		reconciler: reconciler,
		balances:   balances,
		log:        log,
		clock:      time.Now,
		newID:      uuid.NewString,
		logger:     zap.NewNop(),
		shards:     store.DefaultShards,
	}
	for _, opt := range opts {
		opt(e)
	}
	if c, ok := balances.(cash.Committer); ok && sameObject(balances, log) {
		e.committer = c
	}
	e.locks = newKeyLocks(e.shards)
	return e
}

func sameObject(a, b any) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// Reconciler returns the validator the engine runs before every operation.
func (e *Engine) Reconciler() *cash.Reconciler { return e.reconciler }

// =============================================================================
// APPLY
// =============================================================================

// Apply validates op, updates the balance of op.Key() and records the
// operation. It returns the balance after the operation.
//
// ctx is honoured only while waiting for the key. After that the operation
// runs to completion or fails as a whole.
func (e *Engine) Apply(ctx context.Context, op cash.Operation) (cash.Balance, error) {
	if err := e.reconciler.Validate(op.Currency, op.Amount, op.Denominations); err != nil {
		return cash.Balance{}, err
	}

	key := op.Key()
	s, err := e.locks.acquire(ctx, key)
	if err != nil {
		return cash.Balance{}, err
	}
	defer s.release()
	ctx = context.WithoutCancel(ctx)

	if err := e.seed(ctx, key, s); err != nil {
		return cash.Balance{}, err
	}

	current, err := e.balances.Get(ctx, key)
	if err != nil {
		return cash.Balance{}, e.storageErr(key, "load balance", err)
	}
	if current.Currency == "" {
		current.Currency = key.Currency
	}
	if err := current.Check(); err != nil {
		return cash.Balance{}, e.inconsistent(key, err.Error())
	}

	next, err := e.next(key, current, op)
	if err != nil {
		return cash.Balance{}, err
	}

	rec := cash.TransactionRecord{
		ID:            e.newID(),
		AcceptedAt:    e.stamp(s),
		CashierID:     op.CashierID,
		Kind:          op.Kind,
		Currency:      op.Currency,
		Amount:        op.Amount,
		Denominations: op.Denominations.Clone(),
	}

	stored, err := e.commit(ctx, key, current, next, rec)
	if err != nil {
		return cash.Balance{}, err
	}
	s.lastAt = stored.AcceptedAt

	e.logger.Info("operation accepted",
		zap.String("cashier_id", key.CashierID),
		zap.String("currency", string(key.Currency)),
		zap.String("operation", string(op.Kind)),
		zap.String("amount", op.Amount.String()),
		zap.String("balance", next.Total.String()),
		zap.Uint64("seq", stored.Seq),
		zap.String("tx_id", stored.ID),
	)
	return next.Clone(), nil
}

func (e *Engine) next(key cash.Key, current cash.Balance, op cash.Operation) (cash.Balance, error) {
	switch op.Kind {
	case cash.Deposit:
		next := cash.Balance{
			Currency:      key.Currency,
			Total:         current.Total.Add(op.Amount),
			Denominations: current.Denominations.Add(op.Denominations),
		}
		if err := next.Check(); err != nil {
			return cash.Balance{}, e.inconsistent(key, "after deposit: "+err.Error())
		}
		return next, nil

	case cash.Withdraw:
		if current.Total.LessThan(op.Amount) {
			return cash.Balance{}, &cash.InsufficientFundsError{
				Key:       key,
				Available: current.Total,
				Requested: op.Amount,
			}
		}
		left, missing := current.Denominations.Sub(op.Denominations)
		if len(missing) > 0 {
			return cash.Balance{}, &cash.InsufficientFundsError{
				Key:       key,
				Available: current.Total,
				Requested: op.Amount,
				Missing:   missing,
			}
		}
		next := cash.Balance{
			Currency:      key.Currency,
			Total:         current.Total.Sub(op.Amount),
			Denominations: left,
		}
		if err := next.Check(); err != nil {
			return cash.Balance{}, e.inconsistent(key, "after withdrawal: "+err.Error())
		}
		return next, nil
	}
	return cash.Balance{}, &cash.OperationError{Field: "operation", Reason: fmt.Sprintf("unknown kind %q", op.Kind)}
}

// seed loads the newest accepted_at of key from the log the first time the
// key is entered, so stamps keep growing across restarts.
func (e *Engine) seed(ctx context.Context, key cash.Key, s *slot) error {
	if s.seeded {
		return nil
	}
	for r, err := range e.log.Records(ctx, cash.Filter{CashierID: key.CashierID, Currency: key.Currency}) {
		if err != nil {
			return e.storageErr(key, "load last timestamp", err)
		}
		if r.AcceptedAt.After(s.lastAt) {
			s.lastAt = r.AcceptedAt
		}
	}
	s.seeded = true
	return nil
}

// stamp returns a UTC timestamp never earlier than the last one on the key.
func (e *Engine) stamp(s *slot) time.Time {
	now := e.clock().UTC()
	if now.Before(s.lastAt) {
		return s.lastAt
	}
	return now
}

func (e *Engine) commit(ctx context.Context, key cash.Key, current, next cash.Balance, rec cash.TransactionRecord) (cash.TransactionRecord, error) {
	if e.committer != nil {
		stored, err := e.committer.Commit(ctx, rec, next)
		if err != nil {
			return rec, e.storageErr(key, "commit", err)
		}
		return stored, nil
	}

	if err := e.balances.Put(ctx, key, next); err != nil {
		return rec, e.storageErr(key, "persist balance", err)
	}
	stored, err := e.log.Append(ctx, rec)
	if err == nil {
		return stored, nil
	}

	if rbErr := e.balances.Put(ctx, key, current); rbErr != nil {
		return rec, e.inconsistent(key, fmt.Sprintf("append failed (%v) and balance rollback failed (%v)", err, rbErr))
	}
	return rec, e.storageErr(key, "append record", err)
}

// =============================================================================
// READS
// =============================================================================

// Balance returns the current balance of key, zero if it was never touched.
//
// Without a Committer the store briefly holds a balance whose record is
// still being appended, so the read waits for the key like a writer does.
func (e *Engine) Balance(ctx context.Context, key cash.Key) (cash.Balance, error) {
	if e.committer == nil {
		s, err := e.locks.acquire(ctx, key)
		if err != nil {
			return cash.Balance{}, err
		}
		defer s.release()
	}

	b, err := e.balances.Get(ctx, key)
	if err != nil {
		return cash.Balance{}, e.storageErr(key, "load balance", err)
	}
	if b.Currency == "" {
		b.Currency = key.Currency
	}
	return b, nil
}

// Balances returns every currency balance held by one cashier.
func (e *Engine) Balances(ctx context.Context, cashierID string) ([]cash.Balance, error) {
	list, err := e.balances.List(ctx, cashierID)
	if err != nil {
		return nil, e.storageErr(cash.Key{CashierID: cashierID}, "list balances", err)
	}
	if e.committer != nil {
		return list, nil
	}

	// re-read each key inside its critical section
	out := make([]cash.Balance, 0, len(list))
	for _, b := range list {
		cur, err := e.Balance(ctx, cash.Key{CashierID: cashierID, Currency: b.Currency})
		if err != nil {
			return nil, err
		}
		out = append(out, cur)
	}
	return out, nil
}

// Log exposes the transaction log for read-only consumers.
func (e *Engine) Log() cash.TransactionLog { return e.log }

// =============================================================================
// ERRORS
// =============================================================================

func (e *Engine) storageErr(key cash.Key, op string, err error) error {
	e.logger.Error("storage failure",
		zap.String("key", key.String()),
		zap.String("step", op),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s: %w", cash.ErrStorageUnavailable, op, err)
}

func (e *Engine) inconsistent(key cash.Key, reason string) error {
	e.logger.Error("internal inconsistency",
		zap.String("key", key.String()),
		zap.String("reason", reason),
	)
	return &cash.InconsistencyError{Key: key, Reason: reason}
}
