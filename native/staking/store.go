package staking

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"stakeledger/storage"
)

var (
	poolKey           = []byte("staking/pool")
	stakerPrefix      = []byte("staking/staker/")
	transactionPrefix = []byte("staking/tx/")
)

// PoolRecord is the persisted form of the pool singleton.
type PoolRecord struct {
	Owner             common.Address
	StakingToken      common.Address
	RewardToken       common.Address
	RewardTotal       *uint256.Int
	DistributionTime  uint64
	EmissionStartedAt uint64
	AllTimeEmitted    *uint256.Int
	RewardEmitted     *uint256.Int
	RewardPerShare    *uint256.Int
	TotalStaked       *uint256.Int
	NextTxID          uint64
}

// Snapshot is the full persisted state of a pool.
type Snapshot struct {
	Pool         PoolRecord
	Stakers      map[common.Address]*Staker
	Transactions []*Transaction
}

// Changes is one atomic write: the pool record plus touched stakers and
// transactions.
type Changes struct {
	Pool         PoolRecord
	Stakers      map[common.Address]*Staker
	Transactions []*Transaction
	Deleted      []uint64
}

// Store persists engine state.
type Store interface {
	// Load returns nil without error when nothing has been persisted yet.
	Load() (*Snapshot, error)
	Save(changes *Changes) error
}

// KVStore persists pool state into a storage.Database using RLP records.
type KVStore struct {
	db storage.Database
}

// NewKVStore wraps db.
func NewKVStore(db storage.Database) *KVStore {
	return &KVStore{db: db}
}

type txRecord struct {
	ID          uint64
	Kind        uint8
	Caller      common.Address
	Amount      *uint256.Int
	Done        bool
	Attempts    uint32
	CreatedAt   uint64
	CompletedAt uint64
}

// Load reads the pool, every staker and every transaction record.
func (s *KVStore) Load() (*Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("staking store not configured")
	}
	raw, err := s.db.Get(poolKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	snapshot := &Snapshot{Stakers: make(map[common.Address]*Staker)}
	if err := rlp.DecodeBytes(raw, &snapshot.Pool); err != nil {
		return nil, fmt.Errorf("decode pool: %w", err)
	}
	err = s.db.Iterate(stakerPrefix, func(key, value []byte) error {
		addrBytes := key[len(stakerPrefix):]
		if len(addrBytes) != common.AddressLength {
			return fmt.Errorf("malformed staker key %x", key)
		}
		staker := newStaker()
		if err := rlp.DecodeBytes(value, staker); err != nil {
			return fmt.Errorf("decode staker %x: %w", addrBytes, err)
		}
		snapshot.Stakers[common.BytesToAddress(addrBytes)] = staker
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.db.Iterate(transactionPrefix, func(key, value []byte) error {
		var rec txRecord
		if err := rlp.DecodeBytes(value, &rec); err != nil {
			return fmt.Errorf("decode transaction %x: %w", key, err)
		}
		snapshot.Transactions = append(snapshot.Transactions, &Transaction{
			ID:          rec.ID,
			Action:      Action{Kind: ActionKind(rec.Kind), Caller: rec.Caller, Amount: cloneAmount(rec.Amount)},
			Done:        rec.Done,
			Attempts:    rec.Attempts,
			CreatedAt:   rec.CreatedAt,
			CompletedAt: rec.CompletedAt,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Save writes changes in a single batch.
func (s *KVStore) Save(changes *Changes) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("staking store not configured")
	}
	if changes == nil {
		return nil
	}
	batch := storage.NewBatch()
	encoded, err := rlp.EncodeToBytes(&changes.Pool)
	if err != nil {
		return fmt.Errorf("encode pool: %w", err)
	}
	batch.Put(poolKey, encoded)
	for id, staker := range changes.Stakers {
		encoded, err := rlp.EncodeToBytes(staker.Clone())
		if err != nil {
			return fmt.Errorf("encode staker %s: %w", id.Hex(), err)
		}
		batch.Put(stakerKey(id), encoded)
	}
	for _, tx := range changes.Transactions {
		rec := txRecord{
			ID:          tx.ID,
			Kind:        uint8(tx.Action.Kind),
			Caller:      tx.Action.Caller,
			Amount:      cloneAmount(tx.Action.Amount),
			Done:        tx.Done,
			Attempts:    tx.Attempts,
			CreatedAt:   tx.CreatedAt,
			CompletedAt: tx.CompletedAt,
		}
		encoded, err := rlp.EncodeToBytes(&rec)
		if err != nil {
			return fmt.Errorf("encode transaction %d: %w", tx.ID, err)
		}
		batch.Put(transactionKey(tx.ID), encoded)
	}
	for _, id := range changes.Deleted {
		batch.Delete(transactionKey(id))
	}
	if err := s.db.Write(batch); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

func stakerKey(id common.Address) []byte {
	key := make([]byte, 0, len(stakerPrefix)+common.AddressLength)
	key = append(key, stakerPrefix...)
	return append(key, id.Bytes()...)
}

func transactionKey(id uint64) []byte {
	key := make([]byte, len(transactionPrefix)+8)
	copy(key, transactionPrefix)
	binary.BigEndian.PutUint64(key[len(transactionPrefix):], id)
	return key
}
