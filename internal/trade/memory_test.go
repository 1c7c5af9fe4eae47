package trade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePositions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetPosition(ctx, "x")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutPosition(ctx, Position{StrategyID: "b", Side: Long, EntryPrice: 1}))
	require.NoError(t, s.PutPosition(ctx, Position{StrategyID: "a", Side: Short, EntryPrice: 2}))
	list, err := s.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].StrategyID)

	require.NoError(t, s.DeletePosition(ctx, "a"))
	_, err = s.GetPosition(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTradeLog(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i, id := range []string{"a", "b", "a", "a"} {
		tr := &CompletedTrade{ID: string(rune('w' + i)), StrategyID: id}
		require.NoError(t, s.AppendTrade(ctx, tr))
		assert.Equal(t, int64(i+1), tr.Seq)
	}

	all, _ := s.ListTrades(ctx, TradeFilter{})
	assert.Len(t, all, 4)
	onlyA, _ := s.ListTrades(ctx, TradeFilter{StrategyID: "a"})
	assert.Len(t, onlyA, 3)
	last, _ := s.ListTrades(ctx, TradeFilter{StrategyID: "a", Limit: 2})
	require.Len(t, last, 2)
	assert.Equal(t, int64(4), last[1].Seq)

	// returned slices are copies
	all[0].StrategyID = "mutated"
	again, _ := s.ListTrades(ctx, TradeFilter{})
	assert.Equal(t, "a", again[0].StrategyID)
}

func TestMemoryStoreFlipAndClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PutPosition(ctx, Position{StrategyID: "a", Side: Long}))

	closed := &CompletedTrade{ID: "t1", StrategyID: "a"}
	require.NoError(t, s.Flip(ctx, closed, nil))
	assert.Equal(t, int64(1), closed.Seq)
	_, err := s.GetPosition(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Flip(ctx, &CompletedTrade{ID: "t2", StrategyID: "a"}, &Position{StrategyID: "a", Side: Short}))
	p, err := s.GetPosition(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, Short, p.Side)

	require.NoError(t, s.Clear(ctx))
	list, _ := s.ListPositions(ctx)
	trades, _ := s.ListTrades(ctx, TradeFilter{})
	assert.Empty(t, list)
	assert.Empty(t, trades)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())
	unlockA()
	unlockB()
	assert.Equal(t, 0, k.size())
}
