package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config installs a reward schedule and the token contracts it applies to.
type Config struct {
	StakingToken     common.Address
	RewardToken      common.Address
	DistributionTime uint64
	RewardTotal      *uint256.Int
}

// Validate rejects schedules that cannot emit.
func (c Config) Validate() error {
	if c.RewardTotal == nil || c.RewardTotal.IsZero() {
		return ErrZeroReward
	}
	if c.DistributionTime == 0 {
		return ErrZeroTime
	}
	return nil
}

// Metrics receives engine instrumentation.
type Metrics interface {
	RecordOperation(operation, outcome string)
	ObserveTransfer(operation, outcome string, elapsed time.Duration)
	SetPendingTransactions(count int)
	SetTotalStaked(total *uint256.Int)
	RecordInvariantViolation()
}

type noopMetrics struct{}

func (noopMetrics) RecordOperation(string, string)                {}
func (noopMetrics) ObserveTransfer(string, string, time.Duration) {}
func (noopMetrics) SetPendingTransactions(int)                    {}
func (noopMetrics) SetTotalStaked(*uint256.Int)                   {}
func (noopMetrics) RecordInvariantViolation()                     {}

// Engine is the staking service. Pool state is only mutated while mu is held;
// the lock is released for the duration of each token transfer so other
// requests proceed while an operation is suspended.
type Engine struct {
	mu           sync.Mutex
	initialized  bool
	owner        common.Address
	stakingToken common.Address
	rewardToken  common.Address
	acc          *Accumulator
	stakers      *StakerLedger
	txs          *TransactionLedger

	pool    common.Address
	port    TokenTransferPort
	store   Store
	emitter Emitter
	metrics Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	nowFn   func() uint64
}

// Option customises the engine instance.
type Option func(*Engine)

// WithTransferPort supplies the token contract client.
func WithTransferPort(port TokenTransferPort) Option {
	return func(e *Engine) { e.port = port }
}

// WithStore enables durable persistence.
func WithStore(store Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithEmitter configures the event emitter.
func WithEmitter(emitter Emitter) Option {
	return func(e *Engine) { e.emitter = emitter }
}

// WithMetrics configures instrumentation.
func WithMetrics(metrics Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock sets the time source. Timestamps are in the same unit as the
// configured distribution time.
func WithClock(now func() uint64) Option {
	return func(e *Engine) { e.nowFn = now }
}

// NewEngine constructs an uninitialised engine whose staked and reward funds
// are held by the pool address.
func NewEngine(pool common.Address, opts ...Option) *Engine {
	e := &Engine{
		acc:     NewAccumulator(),
		stakers: NewStakerLedger(),
		txs:     NewTransactionLedger(),
		pool:    pool,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.emitter == nil {
		e.emitter = NoopEmitter{}
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.nowFn == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
	}
	e.tracer = otel.Tracer("stakeledger/native/staking")
	return e
}

// Load restores pool state from the configured store. It is a no-op when no
// store is configured or nothing has been persisted.
func (e *Engine) Load() error {
	if e.store == nil {
		return nil
	}
	snapshot, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("load staking state: %w", err)
	}
	if snapshot == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := snapshot.Pool
	e.owner = rec.Owner
	e.stakingToken = rec.StakingToken
	e.rewardToken = rec.RewardToken
	e.acc = &Accumulator{
		RewardTotal:       cloneAmount(rec.RewardTotal),
		DistributionTime:  rec.DistributionTime,
		EmissionStartedAt: rec.EmissionStartedAt,
		AllTimeEmitted:    cloneAmount(rec.AllTimeEmitted),
		RewardEmitted:     cloneAmount(rec.RewardEmitted),
		RewardPerShare:    cloneAmount(rec.RewardPerShare),
		TotalStaked:       cloneAmount(rec.TotalStaked),
	}
	e.stakers = NewStakerLedger()
	for id, staker := range snapshot.Stakers {
		e.stakers.restore(id, staker)
	}
	e.txs = NewTransactionLedger()
	e.txs.restore(rec.NextTxID, snapshot.Transactions)
	e.initialized = true
	if total := e.stakers.TotalBalance(); !total.Eq(e.acc.TotalStaked) {
		return fmt.Errorf("%w: total staked %s does not match staker balances %s", ErrInvariantViolation, e.acc.TotalStaked.Dec(), total.Dec())
	}
	e.metrics.SetPendingTransactions(e.txs.PendingCount())
	e.metrics.SetTotalStaked(e.acc.TotalStaked)
	e.logger.Info("staking state restored",
		slog.Int("stakers", e.stakers.Len()),
		slog.Int("pending", e.txs.PendingCount()),
		slog.String("total_staked", e.acc.TotalStaked.Dec()))
	return nil
}

// Initialize makes caller the pool owner and installs the first schedule.
func (e *Engine) Initialize(ctx context.Context, caller common.Address, cfg Config) (Event, error) {
	_, span := e.tracer.Start(ctx, "staking.Initialize")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return Event{}, ErrAlreadyInitialized
	}
	if err := cfg.Validate(); err != nil {
		e.metrics.RecordOperation("initialize", outcomeOf(err))
		return Event{}, err
	}
	e.owner = caller
	reply := e.applyConfig(caller, cfg)
	if err := e.persist(nil, nil, nil); err != nil {
		e.owner = common.Address{}
		e.acc = NewAccumulator()
		e.stakingToken, e.rewardToken = common.Address{}, common.Address{}
		return Event{}, err
	}
	e.initialized = true
	e.metrics.RecordOperation("initialize", "ok")
	e.logger.Info("staking pool initialized",
		slog.String("owner", caller.Hex()),
		slog.String("staking_token", cfg.StakingToken.Hex()),
		slog.String("reward_token", cfg.RewardToken.Hex()),
		slog.Uint64("distribution_time", cfg.DistributionTime),
		slog.String("reward_total", cfg.RewardTotal.Dec()))
	e.emitter.Emit(reply)
	return reply, nil
}

// UpdateConfig freezes accrual under the current schedule and installs cfg.
func (e *Engine) UpdateConfig(ctx context.Context, caller common.Address, cfg Config) (Event, error) {
	_, span := e.tracer.Start(ctx, "staking.UpdateConfig")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return Event{}, ErrNotInitialized
	}
	if caller != e.owner {
		e.metrics.RecordOperation("update_config", outcomeOf(ErrNotOwner))
		return Event{}, ErrNotOwner
	}
	if err := cfg.Validate(); err != nil {
		e.metrics.RecordOperation("update_config", outcomeOf(err))
		return Event{}, err
	}
	reply := e.applyConfig(caller, cfg)
	if err := e.persist(nil, nil, nil); err != nil {
		e.logger.Error("persist schedule update", slog.Any("error", err))
	}
	e.metrics.RecordOperation("update_config", "ok")
	e.logger.Info("staking schedule updated",
		slog.Uint64("distribution_time", cfg.DistributionTime),
		slog.String("reward_total", cfg.RewardTotal.Dec()),
		slog.String("all_time_emitted", e.acc.AllTimeEmitted.Dec()))
	e.emitter.Emit(reply)
	return reply, nil
}

func (e *Engine) applyConfig(caller common.Address, cfg Config) Event {
	now := e.now()
	e.acc.Reschedule(now, cfg.RewardTotal, cfg.DistributionTime)
	e.stakingToken = cfg.StakingToken
	e.rewardToken = cfg.RewardToken
	return Event{Kind: EventUpdated, Caller: caller, At: now}
}

// Stake transfers amount of the staking token from caller into the pool and
// credits it once the transfer is confirmed.
func (e *Engine) Stake(ctx context.Context, caller common.Address, amount *uint256.Int) (Event, error) {
	return e.execute(ctx, nil, Action{Kind: ActionStake, Caller: caller, Amount: cloneAmount(amount)})
}

// Withdraw returns amount of staked tokens to caller.
func (e *Engine) Withdraw(ctx context.Context, caller common.Address, amount *uint256.Int) (Event, error) {
	return e.execute(ctx, nil, Action{Kind: ActionWithdraw, Caller: caller, Amount: cloneAmount(amount)})
}

// GetReward pays out the reward currently claimable by caller.
func (e *Engine) GetReward(ctx context.Context, caller common.Address) (Event, error) {
	return e.execute(ctx, nil, Action{Kind: ActionClaim, Caller: caller})
}

// Continue resumes a pending transaction. A transaction that already
// completed replies EventTransactionProcessed without side effects.
func (e *Engine) Continue(ctx context.Context, caller common.Address, txid uint64) (Event, error) {
	return e.execute(ctx, &txid, Action{Caller: caller})
}

// execute drives one transaction: validate and begin under the lock, release
// it for the transfer, then commit or abort under the lock again.
func (e *Engine) execute(ctx context.Context, explicit *uint64, action Action) (Event, error) {
	operation := "continue"
	if explicit == nil {
		operation = action.Kind.String()
	}
	ctx, span := e.tracer.Start(ctx, "staking."+operation,
		trace.WithAttributes(attribute.String("caller", action.Caller.Hex())))
	defer span.End()

	tx, req, reply, err := e.begin(explicit, action)
	if err != nil {
		e.metrics.RecordOperation(operation, outcomeOf(err))
		span.SetStatus(codes.Error, err.Error())
		return Event{}, err
	}
	if reply != nil {
		e.metrics.RecordOperation(operation, "processed")
		return *reply, nil
	}
	span.SetAttributes(
		attribute.Int64("txid", int64(tx.ID)),
		attribute.String("kind", tx.Action.Kind.String()),
		attribute.String("amount", req.Amount.Dec()))

	start := time.Now()
	transferErr := e.transfer(ctx, req)
	elapsed := time.Since(start)

	switch {
	case transferErr == nil:
		e.metrics.ObserveTransfer(tx.Action.Kind.String(), "ok", elapsed)
		event, err := e.commit(tx.ID)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			e.metrics.RecordOperation(operation, outcomeOf(err))
			return Event{}, err
		}
		e.metrics.RecordOperation(operation, "ok")
		return event, nil
	case isNoReply(transferErr):
		e.metrics.ObserveTransfer(tx.Action.Kind.String(), "no_reply", elapsed)
		e.interrupt(tx.ID, transferErr)
		err := &TxError{TxID: tx.ID, Err: fmt.Errorf("%w: %v", ErrTransferPending, transferErr)}
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordOperation(operation, outcomeOf(err))
		return Event{}, err
	default:
		e.metrics.ObserveTransfer(tx.Action.Kind.String(), "failed", elapsed)
		e.abort(tx.ID, transferErr)
		err := &TxError{TxID: tx.ID, Err: fmt.Errorf("%w: %v", ErrTransferFailed, transferErr)}
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordOperation(operation, outcomeOf(err))
		return Event{}, err
	}
}

// begin validates the request and records the transaction before any
// transfer is issued. A non-nil reply means there is nothing left to do.
func (e *Engine) begin(explicit *uint64, action Action) (*Transaction, Transfer, *Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, Transfer{}, nil, ErrNotInitialized
	}
	now := e.now()

	if explicit != nil {
		existing, ok := e.txs.Lookup(*explicit)
		if !ok || (existing.Action.Caller != action.Caller && action.Caller != e.owner) {
			return nil, Transfer{}, nil, ErrUnknownTransaction
		}
		if existing.Done {
			reply := Event{Kind: EventTransactionProcessed, TxID: existing.ID, Caller: action.Caller, At: now}
			e.emitter.Emit(reply)
			return nil, Transfer{}, &reply, nil
		}
		action = existing.Action.clone()
	} else if action.Kind != ActionClaim && (action.Amount == nil || action.Amount.IsZero()) {
		return nil, Transfer{}, nil, ErrZeroAmount
	}

	// Checks run against a refreshed copy of the index so a request that is
	// rejected or aborted leaves the pool untouched.
	acc := e.acc.Clone()
	acc.Refresh(now)

	// Fresh requests are checked before a record exists; resumed ones are
	// marked in flight first so the check excludes their own reservation.
	var except uint64
	if explicit != nil {
		tx, err := e.txs.Begin(explicit, action, now)
		if err != nil {
			if errors.Is(err, errAlreadyProcessed) {
				reply := Event{Kind: EventTransactionProcessed, TxID: *explicit, Caller: action.Caller, At: now}
				return nil, Transfer{}, &reply, nil
			}
			return nil, Transfer{}, nil, &TxError{TxID: *explicit, Err: err}
		}
		except = tx.ID
		if err := e.precheck(acc, &action, except, true); err != nil {
			e.txs.Interrupt(tx.ID)
			return nil, Transfer{}, nil, &TxError{TxID: tx.ID, Err: err}
		}
		if err := e.persist(nil, []*Transaction{tx}, nil); err != nil {
			e.txs.Interrupt(tx.ID)
			return nil, Transfer{}, nil, &TxError{TxID: tx.ID, Err: err}
		}
		e.logger.Info("staking transaction resumed",
			slog.Uint64("txid", tx.ID),
			slog.String("kind", action.Kind.String()),
			slog.String("caller", action.Caller.Hex()),
			slog.Uint64("attempt", uint64(tx.Attempts)))
		return tx.Clone(), e.transferFor(tx.ID, action), nil, nil
	}

	except = e.txs.NextID()
	if err := e.precheck(acc, &action, except, false); err != nil {
		return nil, Transfer{}, nil, err
	}
	tx, err := e.txs.Begin(nil, action, now)
	if err != nil {
		return nil, Transfer{}, nil, err
	}
	if err := e.persist(nil, []*Transaction{tx}, nil); err != nil {
		e.txs.Abort(tx.ID)
		return nil, Transfer{}, nil, err
	}
	e.metrics.SetPendingTransactions(e.txs.PendingCount())
	e.logger.Info("staking transaction started",
		slog.Uint64("txid", tx.ID),
		slog.String("kind", action.Kind.String()),
		slog.String("caller", action.Caller.Hex()),
		slog.String("amount", action.Amount.Dec()))
	return tx.Clone(), e.transferFor(tx.ID, action), nil, nil
}

// precheck rejects requests that are bound to fail before a transfer is
// issued. For fresh claims it fills in the reward amount.
func (e *Engine) precheck(acc *Accumulator, action *Action, except uint64, resumed bool) error {
	switch action.Kind {
	case ActionStake:
		return nil
	case ActionWithdraw:
		staker, ok := e.stakers.Get(action.Caller)
		if !ok {
			return ErrStakerNotFound
		}
		reserved := e.txs.Reserved(action.Caller, ActionWithdraw, except)
		if satSub(staker.Balance, reserved).Lt(action.Amount) {
			return ErrInsufficientBalance
		}
		return nil
	case ActionClaim:
		claimable, err := e.stakers.Claimable(acc, action.Caller)
		if err != nil {
			if errors.Is(err, ErrInvariantViolation) {
				e.reportInvariant(action.Caller, err)
			}
			return err
		}
		available := satSub(claimable, e.txs.Reserved(action.Caller, ActionClaim, except))
		if resumed {
			if available.Lt(action.Amount) {
				err := fmt.Errorf("%w: pending claim %s exceeds claimable %s", ErrInvariantViolation, action.Amount.Dec(), available.Dec())
				e.reportInvariant(action.Caller, err)
				return err
			}
			return nil
		}
		if available.IsZero() {
			return ErrZeroReward
		}
		action.Amount = available
		return nil
	default:
		return fmt.Errorf("staking: unsupported action %d", action.Kind)
	}
}

func (e *Engine) transferFor(txid uint64, action Action) Transfer {
	req := Transfer{TxID: txid, Amount: cloneAmount(action.Amount)}
	switch action.Kind {
	case ActionStake:
		req.Token, req.From, req.To = e.stakingToken, action.Caller, e.pool
	case ActionWithdraw:
		req.Token, req.From, req.To = e.stakingToken, e.pool, action.Caller
	case ActionClaim:
		req.Token, req.From, req.To = e.rewardToken, e.pool, action.Caller
	}
	return req
}

func (e *Engine) transfer(ctx context.Context, req Transfer) error {
	if e.port == nil {
		return fmt.Errorf("token transfer port not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.port.Transfer(ctx, req)
}

// commit applies the ledger mutations of a confirmed transfer.
func (e *Engine) commit(txid uint64) (Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, ok := e.txs.Lookup(txid)
	if !ok || tx.Done {
		return Event{}, &TxError{TxID: txid, Err: fmt.Errorf("%w: transaction vanished while in flight", ErrInvariantViolation)}
	}
	action := tx.Action
	now := e.now()
	e.acc.Refresh(now)

	switch action.Kind {
	case ActionStake:
		e.stakers.RecordDeposit(e.acc, action.Caller, action.Amount)
		e.acc.TotalStaked = satAdd(e.acc.TotalStaked, action.Amount)
	case ActionWithdraw:
		if _, err := e.stakers.RecordWithdrawal(e.acc, action.Caller, action.Amount); err != nil {
			e.txs.Interrupt(txid)
			err = fmt.Errorf("%w: confirmed withdrawal could not be applied: %v", ErrInvariantViolation, err)
			e.reportInvariant(action.Caller, err)
			return Event{}, &TxError{TxID: txid, Err: err}
		}
		e.acc.TotalStaked = satSub(e.acc.TotalStaked, action.Amount)
	case ActionClaim:
		if err := e.stakers.RecordDistribution(action.Caller, action.Amount); err != nil {
			e.txs.Interrupt(txid)
			err = fmt.Errorf("%w: confirmed claim could not be applied: %v", ErrInvariantViolation, err)
			e.reportInvariant(action.Caller, err)
			return Event{}, &TxError{TxID: txid, Err: err}
		}
	}
	e.txs.Commit(txid, now)

	if _, err := e.stakers.Claimable(e.acc, action.Caller); err != nil && errors.Is(err, ErrInvariantViolation) {
		e.reportInvariant(action.Caller, err)
	}
	staker, _ := e.stakers.Get(action.Caller)
	if err := e.persist(map[common.Address]*Staker{action.Caller: staker}, []*Transaction{tx}, nil); err != nil {
		e.logger.Error("persist committed transaction",
			slog.Uint64("txid", txid),
			slog.Any("error", err))
	}
	e.metrics.SetPendingTransactions(e.txs.PendingCount())
	e.metrics.SetTotalStaked(e.acc.TotalStaked)

	reply := Event{
		Kind:   completedKind(action.Kind),
		TxID:   txid,
		Caller: action.Caller,
		Amount: cloneAmount(action.Amount),
		At:     now,
	}
	e.logger.Info("staking transaction committed",
		slog.Uint64("txid", txid),
		slog.String("kind", action.Kind.String()),
		slog.String("caller", action.Caller.Hex()),
		slog.String("amount", action.Amount.Dec()))
	e.emitter.Emit(reply)
	return reply, nil
}

// abort drops a transaction whose transfer failed. No ledger mutation has
// been applied for it.
func (e *Engine) abort(txid uint64, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, ok := e.txs.Lookup(txid)
	if !ok {
		return
	}
	action := tx.Action.clone()
	e.txs.Abort(txid)
	if err := e.persist(nil, nil, []uint64{txid}); err != nil {
		e.logger.Error("persist aborted transaction", slog.Uint64("txid", txid), slog.Any("error", err))
	}
	e.metrics.SetPendingTransactions(e.txs.PendingCount())
	e.logger.Warn("staking transaction aborted",
		slog.Uint64("txid", txid),
		slog.String("kind", action.Kind.String()),
		slog.String("caller", action.Caller.Hex()),
		slog.Any("error", cause))
	e.emitter.Emit(Event{
		Kind:   EventAborted,
		TxID:   txid,
		Caller: action.Caller,
		Amount: action.Amount,
		Reason: cause.Error(),
		At:     e.now(),
	})
}

// interrupt leaves a transaction pending after its transfer never replied.
func (e *Engine) interrupt(txid uint64, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, ok := e.txs.Lookup(txid)
	if !ok {
		return
	}
	e.txs.Interrupt(txid)
	e.logger.Warn("staking transfer did not reply; transaction left pending",
		slog.Uint64("txid", txid),
		slog.String("kind", tx.Action.Kind.String()),
		slog.String("caller", tx.Action.Caller.Hex()),
		slog.Any("error", cause))
	e.emitter.Emit(Event{
		Kind:   EventInterrupted,
		TxID:   txid,
		Caller: tx.Action.Caller,
		Amount: cloneAmount(tx.Action.Amount),
		Reason: cause.Error(),
		At:     e.now(),
	})
}

// PruneTransactions removes terminal markers completed more than retention
// time units ago and returns how many were removed.
func (e *Engine) PruneTransactions(retention uint64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if now < retention {
		return 0, nil
	}
	removed := e.txs.Prune(now - retention)
	if len(removed) == 0 {
		return 0, nil
	}
	if err := e.persist(nil, nil, removed); err != nil {
		return len(removed), err
	}
	e.logger.Debug("pruned staking transactions", slog.Int("count", len(removed)))
	return len(removed), nil
}

func (e *Engine) reportInvariant(caller common.Address, err error) {
	e.metrics.RecordInvariantViolation()
	e.logger.Error("staking invariant violated",
		slog.String("caller", caller.Hex()),
		slog.Any("error", err))
}

func (e *Engine) persist(stakers map[common.Address]*Staker, txs []*Transaction, deleted []uint64) error {
	if e.store == nil {
		return nil
	}
	return e.store.Save(&Changes{
		Pool:         e.poolRecord(),
		Stakers:      stakers,
		Transactions: txs,
		Deleted:      deleted,
	})
}

func (e *Engine) poolRecord() PoolRecord {
	return PoolRecord{
		Owner:             e.owner,
		StakingToken:      e.stakingToken,
		RewardToken:       e.rewardToken,
		RewardTotal:       cloneAmount(e.acc.RewardTotal),
		DistributionTime:  e.acc.DistributionTime,
		EmissionStartedAt: e.acc.EmissionStartedAt,
		AllTimeEmitted:    cloneAmount(e.acc.AllTimeEmitted),
		RewardEmitted:     cloneAmount(e.acc.RewardEmitted),
		RewardPerShare:    cloneAmount(e.acc.RewardPerShare),
		TotalStaked:       cloneAmount(e.acc.TotalStaked),
		NextTxID:          e.txs.NextID(),
	}
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrZeroReward):
		return "zero_reward"
	case errors.Is(err, ErrZeroTime):
		return "zero_time"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrStakerNotFound):
		return "staker_not_found"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrUnknownTransaction):
		return "unknown_transaction"
	case errors.Is(err, ErrTransactionInFlight):
		return "transaction_in_flight"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrTransferPending):
		return "transfer_pending"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	default:
		return "error"
	}
}

// ErrorCode maps an engine error to a stable machine-readable code.
func ErrorCode(err error) string { return outcomeOf(err) }
