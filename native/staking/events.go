package staking

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind names a reply or lifecycle notification produced by the engine.
type EventKind string

const (
	EventStakeAccepted        EventKind = "stake_accepted"
	EventWithdrawn            EventKind = "withdrawn"
	EventReward               EventKind = "reward"
	EventUpdated              EventKind = "updated"
	EventTransactionProcessed EventKind = "transaction_processed"

	// EventAborted and EventInterrupted are emitted for observers only; the
	// caller receives an error instead.
	EventAborted     EventKind = "aborted"
	EventInterrupted EventKind = "interrupted"
)

// Event is the reply to a request and the payload handed to emitters.
type Event struct {
	Kind   EventKind
	TxID   uint64
	Caller common.Address
	Amount *uint256.Int
	Reason string
	At     uint64
}

// HasTxID reports whether the reply carries a transaction id.
func (e Event) HasTxID() bool {
	switch e.Kind {
	case EventUpdated, "":
		return false
	default:
		return true
	}
}

// Emitter broadcasts events to downstream subscribers (journal, webhooks).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

func completedKind(kind ActionKind) EventKind {
	switch kind {
	case ActionStake:
		return EventStakeAccepted
	case ActionWithdraw:
		return EventWithdrawn
	case ActionClaim:
		return EventReward
	default:
		return ""
	}
}
