package staking

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ActionKind enumerates the operations that suspend on a token transfer.
type ActionKind uint8

const (
	ActionStake ActionKind = iota + 1
	ActionWithdraw
	ActionClaim
)

func (k ActionKind) Valid() bool {
	switch k {
	case ActionStake, ActionWithdraw, ActionClaim:
		return true
	default:
		return false
	}
}

func (k ActionKind) String() string {
	switch k {
	case ActionStake:
		return "stake"
	case ActionWithdraw:
		return "withdraw"
	case ActionClaim:
		return "claim"
	default:
		return "unknown"
	}
}

// Action is a mutating request with its original arguments.
type Action struct {
	Kind   ActionKind
	Caller common.Address
	Amount *uint256.Int
}

func (a Action) clone() Action {
	return Action{Kind: a.Kind, Caller: a.Caller, Amount: cloneAmount(a.Amount)}
}

// Transaction is the ledger entry for one operation spanning a transfer.
// Once Done is set the action is no longer pending and the record only
// remains as a terminal marker until housekeeping removes it.
type Transaction struct {
	ID          uint64
	Action      Action
	Done        bool
	Attempts    uint32
	CreatedAt   uint64
	CompletedAt uint64

	inFlight bool
}

// PendingAction returns the action awaiting completion, if any.
func (t *Transaction) PendingAction() (Action, bool) {
	if t == nil || t.Done {
		return Action{}, false
	}
	return t.Action.clone(), true
}

// InFlight reports whether a transfer for the record is awaiting a reply.
func (t *Transaction) InFlight() bool { return t != nil && t.inFlight }

// Clone returns a deep copy of the record.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	out := *t
	out.Action = t.Action.clone()
	return &out
}

// TransactionLedger tracks in-flight operations by id so they can be resumed
// after an interrupted transfer.
type TransactionLedger struct {
	nextID  uint64
	records map[uint64]*Transaction
}

// NewTransactionLedger returns an empty ledger whose first id is zero.
func NewTransactionLedger() *TransactionLedger {
	return &TransactionLedger{records: make(map[uint64]*Transaction)}
}

// Begin establishes the transaction for action. With an explicit id the
// existing pending record is resumed; otherwise a fresh id is allocated.
// The returned record is marked in flight.
func (l *TransactionLedger) Begin(explicit *uint64, action Action, now uint64) (*Transaction, error) {
	if explicit != nil {
		tx, ok := l.records[*explicit]
		if !ok {
			return nil, ErrUnknownTransaction
		}
		if tx.Done {
			return tx, errAlreadyProcessed
		}
		if tx.inFlight {
			return tx, ErrTransactionInFlight
		}
		tx.inFlight = true
		tx.Attempts++
		return tx, nil
	}
	tx := &Transaction{
		ID:        l.nextID,
		Action:    action.clone(),
		Attempts:  1,
		CreatedAt: now,
		inFlight:  true,
	}
	l.records[tx.ID] = tx
	l.nextID++
	return tx, nil
}

// Lookup returns the live record for id.
func (l *TransactionLedger) Lookup(id uint64) (*Transaction, bool) {
	tx, ok := l.records[id]
	return tx, ok
}

// Commit turns the record into a terminal marker.
func (l *TransactionLedger) Commit(id uint64, now uint64) {
	tx, ok := l.records[id]
	if !ok {
		return
	}
	tx.Done = true
	tx.inFlight = false
	tx.CompletedAt = now
}

// Abort removes the record; a later resume with the same id is unknown.
func (l *TransactionLedger) Abort(id uint64) {
	delete(l.records, id)
}

// Interrupt clears the in-flight flag of a record whose transfer never
// replied, leaving its action pending for Continue.
func (l *TransactionLedger) Interrupt(id uint64) {
	if tx, ok := l.records[id]; ok {
		tx.inFlight = false
	}
}

// Reserved sums the amounts of pending actions of kind by caller, skipping
// the record identified by except.
func (l *TransactionLedger) Reserved(caller common.Address, kind ActionKind, except uint64) *uint256.Int {
	total := new(uint256.Int)
	for id, tx := range l.records {
		if id == except || tx.Done {
			continue
		}
		if tx.Action.Kind != kind || tx.Action.Caller != caller {
			continue
		}
		total = satAdd(total, cloneAmount(tx.Action.Amount))
	}
	return total
}

// Prune removes terminal markers completed at or before cutoff. Pending and
// in-flight records are never removed.
func (l *TransactionLedger) Prune(cutoff uint64) []uint64 {
	removed := make([]uint64, 0)
	for id, tx := range l.records {
		if !tx.Done || tx.inFlight || tx.CompletedAt > cutoff {
			continue
		}
		delete(l.records, id)
		removed = append(removed, id)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

// NextID is the id the next fresh Begin will allocate.
func (l *TransactionLedger) NextID() uint64 { return l.nextID }

// PendingCount reports how many records still carry a pending action.
func (l *TransactionLedger) PendingCount() int {
	count := 0
	for _, tx := range l.records {
		if !tx.Done {
			count++
		}
	}
	return count
}

// Len reports the number of records, terminal markers included.
func (l *TransactionLedger) Len() int { return len(l.records) }

// Snapshot returns copies of every record ordered by id.
func (l *TransactionLedger) Snapshot() []*Transaction {
	out := make([]*Transaction, 0, len(l.records))
	for _, tx := range l.records {
		out = append(out, tx.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *TransactionLedger) restore(nextID uint64, records []*Transaction) {
	l.nextID = nextID
	l.records = make(map[uint64]*Transaction, len(records))
	for _, tx := range records {
		if tx == nil {
			continue
		}
		restored := tx.Clone()
		restored.inFlight = false
		l.records[restored.ID] = restored
		if restored.ID >= l.nextID {
			l.nextID = restored.ID + 1
		}
	}
}
