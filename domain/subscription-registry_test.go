package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionRegistry_AddRemoveIdempotent(t *testing.T) {
	r := NewSubscriptionRegistry()
	assert.False(t, r.HasSubscriptions())

	r.AddBookUpdate("ob1", "ob2")
	r.AddBookUpdate("ob1")
	r.AddTrades("ob1")
	r.AddUser("user1")
	r.AddUser("user1")
	r.AddPriceHistory("ob1", Resolution_1m, false)
	r.AddPriceHistory("ob1", Resolution_1m, true)
	r.AddMarket("m1")

	assert.Equal(t, 6, r.Count())
	assert.True(t, r.HasSubscriptions())
	assert.True(t, r.IsSubscribedBookUpdate("ob2"))
	assert.True(t, r.IsSubscribedTrades("ob1"))
	assert.False(t, r.IsSubscribedTrades("ob2"))
	assert.True(t, r.IsSubscribedUser("user1"))
	assert.True(t, r.IsSubscribedPriceHistory("ob1", Resolution_1m))
	assert.False(t, r.IsSubscribedPriceHistory("ob1", Resolution_5m))

	r.RemoveBookUpdate("ob2", "missing")
	r.RemoveBookUpdate("ob2")
	r.RemoveUser("user1")
	r.RemovePriceHistory("ob1", Resolution_1m)

	assert.Equal(t, 3, r.Count())
	assert.False(t, r.IsSubscribedBookUpdate("ob2"))
	assert.False(t, r.IsSubscribedUser("user1"))
	assert.False(t, r.IsSubscribedPriceHistory("ob1", Resolution_1m))
}

func TestSubscriptionRegistry_MarketWildcard(t *testing.T) {
	r := NewSubscriptionRegistry()
	r.AddMarket("m1")

	assert.True(t, r.IsSubscribedMarket("m1"))
	assert.False(t, r.IsSubscribedMarket("m2"))

	r.AddMarket(AllMarkets)
	assert.True(t, r.IsSubscribedMarket("m2"))

	r.RemoveMarket(AllMarkets)
	assert.False(t, r.IsSubscribedMarket("m2"))
}

func TestSubscriptionRegistry_SnapshotGroupsRequests(t *testing.T) {
	r := NewSubscriptionRegistry()
	r.AddBookUpdate("ob2", "ob1")
	r.AddTrades("ob3")
	r.AddUser("user1")
	r.AddPriceHistory("ob1", Resolution_1h, true)
	r.AddPriceHistory("ob1", Resolution_15m, false)
	r.AddMarket("m1")

	subs := r.Snapshot()
	require.Len(t, subs, 6)

	assert.Equal(t, Subscription{Kind: SubscriptionKind_BookUpdate, OrderbookIDs: []string{"ob1", "ob2"}}, subs[0])
	assert.Equal(t, Subscription{Kind: SubscriptionKind_Trades, OrderbookIDs: []string{"ob3"}}, subs[1])
	assert.Equal(t, Subscription{Kind: SubscriptionKind_User, User: "user1"}, subs[2])
	assert.Equal(t, SubscriptionKind_PriceHistory, subs[3].Kind)
	assert.Equal(t, Resolution_15m, subs[3].Resolution)
	assert.Equal(t, Resolution_1h, subs[4].Resolution)
	assert.True(t, subs[4].IncludeDetail)
	assert.Equal(t, Subscription{Kind: SubscriptionKind_Market, MarketPubkey: "m1"}, subs[5])

	assert.Equal(t, map[string]interface{}{
		"type":          "book_update",
		"orderbook_ids": []string{"ob1", "ob2"},
	}, subs[0].Params())
	assert.Equal(t, map[string]interface{}{
		"type":          "price_history",
		"orderbook_id":  "ob1",
		"resolution":    "1h",
		"include_ohlcv": true,
	}, subs[4].Params())
	assert.Equal(t, map[string]interface{}{"type": "user", "user": "user1"}, subs[2].Params())
	assert.Equal(t, map[string]interface{}{"type": "market", "market_pubkey": "m1"}, subs[5].Params())
}

func TestSubscriptionRegistry_Clear(t *testing.T) {
	r := NewSubscriptionRegistry()
	r.AddBookUpdate("ob1")
	r.AddMarket("m1")

	r.Clear()
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.Snapshot())
	assert.Empty(t, r.BookUpdateOrderbooks())
	assert.Empty(t, r.Markets())
}

func TestSubscriptionRegistry_Listings(t *testing.T) {
	r := NewSubscriptionRegistry()
	r.AddBookUpdate("b", "a")
	r.AddTrades("c")
	r.AddUser("u2")
	r.AddUser("u1")

	assert.Equal(t, []string{"a", "b"}, r.BookUpdateOrderbooks())
	assert.Equal(t, []string{"c"}, r.TradeOrderbooks())
	assert.Equal(t, []string{"u1", "u2"}, r.Users())
}
