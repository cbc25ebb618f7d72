package staking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"stakeledger/storage"
)

var errTestRejected = errors.New("rejected")

func TestKVStoreEmptyDatabase(t *testing.T) {
	store := NewKVStore(storage.NewMemDB())
	snapshot, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, snapshot)

	h := newHarness(t, WithStore(store))
	require.NoError(t, h.engine.Load())
	_, err = h.engine.Stake(context.Background(), stakerA, u(1))
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestEngineStateSurvivesRestart(t *testing.T) {
	db := storage.NewMemDB()
	h := newInitializedHarness(t, WithStore(NewKVStore(db)))
	ctx := context.Background()

	_, err := h.engine.Stake(ctx, stakerA, u(1500))
	require.NoError(t, err)
	h.at(2000)
	_, err = h.engine.Stake(ctx, stakerB, u(2000))
	require.NoError(t, err)
	h.at(3000)
	_, err = h.engine.GetReward(ctx, stakerA)
	require.NoError(t, err)
	h.port.failNext(ErrNoReply)
	_, err = h.engine.Withdraw(ctx, stakerA, u(500))
	require.ErrorIs(t, err, ErrTransferPending)
	pendingID, _ := TxIDFromError(err)
	h.port.failNext(errTestRejected)
	_, err = h.engine.Stake(ctx, stakerC, u(5))
	require.ErrorIs(t, err, ErrTransferFailed)

	restarted := newHarness(t, WithStore(NewKVStore(db)))
	restarted.at(3000)
	require.NoError(t, restarted.engine.Load())

	require.Equal(t, h.engine.Pool(), restarted.engine.Pool())
	require.Equal(t, h.engine.Stakers(), restarted.engine.Stakers())
	require.Equal(t, h.engine.Transactions(), restarted.engine.Transactions())

	reply, err := restarted.engine.Continue(ctx, stakerA, pendingID)
	require.NoError(t, err)
	require.Equal(t, EventWithdrawn, reply.Kind)

	reply, err = restarted.engine.Stake(ctx, stakerC, u(5))
	require.NoError(t, err)
	require.Equal(t, pendingID+2, reply.TxID)

	again := newHarness(t, WithStore(NewKVStore(db)))
	require.NoError(t, again.engine.Load())
	view, err := again.engine.Staker(stakerA)
	require.NoError(t, err)
	require.True(t, view.Staker.Balance.Eq(u(1000)))
	requireConservation(t, again.engine)
}

func TestKVStoreDeletesPrunedTransactions(t *testing.T) {
	db := storage.NewMemDB()
	h := newInitializedHarness(t, WithStore(NewKVStore(db)))
	_, err := h.engine.Stake(context.Background(), stakerA, u(10))
	require.NoError(t, err)

	h.at(10)
	removed, err := h.engine.PruneTransactions(1)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	snapshot, err := NewKVStore(db).Load()
	require.NoError(t, err)
	require.Empty(t, snapshot.Transactions)
	require.Equal(t, uint64(1), snapshot.Pool.NextTxID)
	require.Len(t, snapshot.Stakers, 1)
}
