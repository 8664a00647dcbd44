package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accountSnapshot() *UserEvent {
	return &UserEvent{
		EventType: UserEvent_Snapshot,
		Timestamp: "2024-01-01T00:00:00.000Z",
		Orders: []Order{
			{
				OrderHash: "h1", MarketPubkey: "m1", OrderbookID: "ob1", Side: OrderSide_Buy,
				MakerAmount: "10", TakerAmount: "20", Remaining: "10", Filled: "0", Price: "0.5", CreatedAt: 1,
			},
			{
				OrderHash: "h2", MarketPubkey: "m2", OrderbookID: "ob2", Side: OrderSide_Sell,
				MakerAmount: "5", TakerAmount: "3", Remaining: "5", Filled: "0", Price: "0.6", CreatedAt: 2,
			},
		},
		Balances: map[string]BalanceEntry{
			"m1:usdc": {
				MarketPubkey: "m1", DepositMint: "usdc",
				Outcomes: []OutcomeBalance{
					{OutcomeIndex: 0, Mint: "yes", Idle: "100", OnBook: "10"},
					{OutcomeIndex: 1, Mint: "no", Idle: "50", OnBook: "0"},
				},
			},
		},
	}
}

func TestAccountState_Snapshot(t *testing.T) {
	acc := NewAccountState("user1")
	assert.False(t, acc.HasSnapshot())

	acc.ApplyEvent(accountSnapshot())

	assert.True(t, acc.HasSnapshot())
	assert.Equal(t, 2, acc.OrderCount())
	assert.Equal(t, "2024-01-01T00:00:00.000Z", acc.LastTimestamp())

	order, ok := acc.Order("h1")
	require.True(t, ok)
	assert.Equal(t, "20", order.TakerAmount)
	assert.False(t, order.Synthesized)

	idle, ok := acc.IdleBalance("m1", "usdc", 0)
	require.True(t, ok)
	assert.Equal(t, "100", idle)

	onBook, ok := acc.OnBookBalance("m1", "usdc", 0)
	require.True(t, ok)
	assert.Equal(t, "10", onBook)

	_, ok = acc.IdleBalance("m1", "usdc", 7)
	assert.False(t, ok)

	// a second snapshot replaces everything
	acc.ApplySnapshot(&UserEvent{EventType: UserEvent_Snapshot})
	assert.Equal(t, 0, acc.OrderCount())
	assert.Empty(t, acc.AllBalances())
}

func TestAccountState_OrderUpdate(t *testing.T) {
	acc := NewAccountState("user1")
	acc.ApplySnapshot(accountSnapshot())

	acc.ApplyOrderUpdate(&UserEvent{
		EventType: UserEvent_OrderUpdate,
		Order:     &OrderUpdate{OrderHash: "h1", Remaining: "4", Filled: "6", FillAmount: "6"},
	})

	order, ok := acc.Order("h1")
	require.True(t, ok)
	assert.Equal(t, "4", order.Remaining)
	assert.Equal(t, "6", order.Filled)
	assert.Equal(t, "10", order.MakerAmount)
}

func TestAccountState_OrderRemovedOnFullFill(t *testing.T) {
	for _, remaining := range []string{"0", "0.000", "-0"} {
		t.Run(remaining, func(t *testing.T) {
			acc := NewAccountState("user1")
			acc.ApplySnapshot(accountSnapshot())

			acc.ApplyEvent(&UserEvent{
				EventType: UserEvent_OrderUpdate,
				Order:     &OrderUpdate{OrderHash: "h1", Remaining: remaining, Filled: "10"},
			})

			_, ok := acc.Order("h1")
			assert.False(t, ok)
			assert.Equal(t, 1, acc.OrderCount())
		})
	}
}

func TestAccountState_SynthesizesUnknownOrder(t *testing.T) {
	acc := NewAccountState("user1")
	acc.ApplySnapshot(accountSnapshot())

	acc.ApplyOrderUpdate(&UserEvent{
		EventType:    UserEvent_OrderUpdate,
		MarketPubkey: "m3",
		OrderbookID:  "ob3",
		Order: &OrderUpdate{
			OrderHash: "h3", Price: "0.7", Remaining: "8", Filled: "2", Side: OrderSide_Sell, CreatedAt: 3,
		},
	})

	order, ok := acc.Order("h3")
	require.True(t, ok)
	assert.True(t, order.Synthesized)
	assert.Equal(t, "0", order.TakerAmount)
	assert.Equal(t, "8", order.Remaining)
	assert.Equal(t, "ob3", order.OrderbookID)
	assert.Equal(t, OrderSide_Sell, order.Side)

	// without market context an unknown order is not synthesized
	acc.ApplyOrderUpdate(&UserEvent{
		EventType: UserEvent_OrderUpdate,
		Order:     &OrderUpdate{OrderHash: "h4", Remaining: "1"},
	})
	_, ok = acc.Order("h4")
	assert.False(t, ok)
}

func TestAccountState_OrderUpdateWithEmbeddedBalance(t *testing.T) {
	acc := NewAccountState("user1")
	acc.ApplySnapshot(accountSnapshot())

	acc.ApplyOrderUpdate(&UserEvent{
		EventType:    UserEvent_OrderUpdate,
		MarketPubkey: "m1",
		OrderbookID:  "ob1",
		DepositMint:  "usdc",
		Order: &OrderUpdate{
			OrderHash: "h1", Remaining: "0", Filled: "10",
			Balance: &Balance{Outcomes: []OutcomeBalance{{OutcomeIndex: 0, Idle: "90", OnBook: "0"}}},
		},
	})

	idle, ok := acc.IdleBalance("m1", "usdc", 0)
	require.True(t, ok)
	assert.Equal(t, "90", idle)
}

func TestAccountState_BalanceUpdate(t *testing.T) {
	acc := NewAccountState("user1")
	acc.ApplySnapshot(accountSnapshot())

	acc.ApplyEvent(&UserEvent{
		EventType:    UserEvent_BalanceUpdate,
		MarketPubkey: "m2",
		DepositMint:  "usdt",
		Balance:      &Balance{Outcomes: []OutcomeBalance{{OutcomeIndex: 1, Idle: "7", OnBook: "3"}}},
		Timestamp:    "t2",
	})

	entry, ok := acc.Balance("m2", "usdt")
	require.True(t, ok)
	assert.Equal(t, "m2", entry.MarketPubkey)
	assert.Equal(t, "usdt", entry.DepositMint)
	assert.Equal(t, "t2", acc.LastTimestamp())

	balances := acc.AllBalances()
	require.Len(t, balances, 2)
	assert.Equal(t, "m1", balances[0].MarketPubkey)
}

func TestAccountState_BalanceFallbackWithoutMint(t *testing.T) {
	acc := NewAccountState("user1")
	acc.ApplySnapshot(accountSnapshot())
	acc.ApplyBalanceUpdate(&UserEvent{
		MarketPubkey: "m1",
		DepositMint:  "aaa",
		Balance:      &Balance{Outcomes: []OutcomeBalance{{OutcomeIndex: 0, Idle: "1"}}},
	})

	acc.ApplyBalanceUpdate(&UserEvent{
		MarketPubkey: "m1",
		Balance:      &Balance{Outcomes: []OutcomeBalance{{OutcomeIndex: 0, Idle: "2"}}},
	})

	// lexicographically first candidate wins
	idle, ok := acc.IdleBalance("m1", "aaa", 0)
	require.True(t, ok)
	assert.Equal(t, "2", idle)

	idle, ok = acc.IdleBalance("m1", "usdc", 0)
	require.True(t, ok)
	assert.Equal(t, "100", idle)

	// nothing to match
	acc.ApplyBalanceUpdate(&UserEvent{
		MarketPubkey: "m9",
		Balance:      &Balance{Outcomes: []OutcomeBalance{{OutcomeIndex: 0, Idle: "2"}}},
	})
	assert.Len(t, acc.AllBalances(), 2)
}

func TestAccountState_OrderFilters(t *testing.T) {
	acc := NewAccountState("user1")
	acc.ApplySnapshot(accountSnapshot())

	assert.Len(t, acc.OrdersForMarket("m1"), 1)
	assert.Len(t, acc.OrdersForOrderbook("ob2"), 1)
	assert.Empty(t, acc.OrdersForOrderbook("ob9"))

	open := acc.OpenOrders()
	require.Len(t, open, 2)
	assert.Equal(t, "h1", open[0].OrderHash)
	assert.Equal(t, "h2", open[1].OrderHash)
}

func TestAccountState_Clear(t *testing.T) {
	acc := NewAccountState("user1")
	acc.ApplySnapshot(accountSnapshot())

	acc.Clear()
	assert.False(t, acc.HasSnapshot())
	assert.Equal(t, 0, acc.OrderCount())
	assert.Empty(t, acc.AllBalances())
	assert.Empty(t, acc.LastTimestamp())
}
