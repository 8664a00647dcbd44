package stream

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/spooky-finn/go-marketstream-sync/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, msgType string, data interface{}) []byte {
	t.Helper()

	b, err := json.Marshal(map[string]interface{}{"type": msgType, "version": 0.1, "data": data})
	require.NoError(t, err)
	return b
}

func bookFrame(t *testing.T, seq int64, snapshot bool, bids, asks [][2]string) []byte {
	toLevels := func(levels [][2]string) []map[string]string {
		out := make([]map[string]string, 0, len(levels))
		for _, l := range levels {
			out = append(out, map[string]string{"price": l[0], "size": l[1]})
		}
		return out
	}

	return frame(t, "book_update", map[string]interface{}{
		"orderbook_id": "ob1",
		"timestamp":    "2024-01-01T00:00:00.000Z",
		"seq":          seq,
		"bids":         toLevels(bids),
		"asks":         toLevels(asks),
		"is_snapshot":  snapshot,
		"resync":       false,
	})
}

func TestRouter_BookUpdateScenario(t *testing.T) {
	r := NewRouter(RouterOptions{})

	events := r.Handle(bookFrame(t, 0, true, [][2]string{{"0.50", "0.001"}}, [][2]string{{"0.51", "0.0005"}}))
	require.Equal(t, []Event{BookUpdateEvent("ob1", true)}, events)

	book, ok := r.Orderbook("ob1")
	require.True(t, ok)

	bid, _ := book.BestBid()
	assert.Equal(t, "0.50", bid.Price)
	assert.Equal(t, "0.001", bid.Size)
	spread, _ := book.Spread()
	assert.Equal(t, "0.01", spread)

	events = r.Handle(bookFrame(t, 1, false, [][2]string{{"0.50", "0.0015"}}, nil))
	require.Equal(t, []Event{BookUpdateEvent("ob1", false)}, events)
	assert.Equal(t, int64(2), book.ExpectedSequence())

	events = r.Handle(bookFrame(t, 5, false, [][2]string{{"0.49", "1"}}, nil))
	require.Equal(t, []Event{ResyncRequiredEvent("ob1")}, events)
	assert.False(t, book.HasSnapshot())
	assert.Equal(t, domain.OrderBookStatus_Desynced, book.Status())
	assert.Equal(t, 0, book.BidCount())

	// a fresh snapshot brings the book back
	events = r.Handle(bookFrame(t, 9, true, [][2]string{{"0.48", "2"}}, nil))
	require.Equal(t, []Event{BookUpdateEvent("ob1", true)}, events)
	assert.Equal(t, domain.OrderBookStatus_Synced, book.Status())
	assert.Equal(t, int64(10), book.ExpectedSequence())
}

func TestRouter_ResyncFlag(t *testing.T) {
	r := NewRouter(RouterOptions{})
	r.Handle(bookFrame(t, 0, true, [][2]string{{"0.50", "1"}}, nil))

	events := r.Handle(frame(t, "book_update", map[string]interface{}{
		"orderbook_id": "ob1", "seq": 1, "resync": true, "message": "please resync",
	}))

	require.Equal(t, []Event{ResyncRequiredEvent("ob1")}, events)
	book, _ := r.Orderbook("ob1")
	assert.False(t, book.HasSnapshot())
}

func TestRouter_BookUpdateWithoutOrderbookID(t *testing.T) {
	r := NewRouter(RouterOptions{})

	events := r.Handle(frame(t, "book_update", map[string]interface{}{
		"seq": 0, "is_snapshot": true, "bids": []map[string]string{{"price": "0.50", "size": "1"}},
	}))

	assert.Empty(t, events)
	assert.Empty(t, r.OrderbookIDs())
}

func TestRouter_InvalidSequenceIgnored(t *testing.T) {
	r := NewRouter(RouterOptions{})
	r.Handle(bookFrame(t, 0, true, [][2]string{{"0.50", "1"}}, nil))

	events := r.Handle(frame(t, "book_update", map[string]interface{}{
		"orderbook_id": "ob1", "seq": "x1", "bids": []map[string]string{{"price": "0.49", "size": "1"}},
	}))

	assert.Empty(t, events)
	book, _ := r.Orderbook("ob1")
	assert.True(t, book.HasSnapshot())
	assert.Equal(t, 1, book.BidCount())
}

func TestRouter_MalformedFrame(t *testing.T) {
	r := NewRouter(RouterOptions{})
	r.Handle(bookFrame(t, 0, true, [][2]string{{"0.50", "1"}}, nil))

	for name, raw := range map[string][]byte{
		"not json":     []byte("{not json"),
		"bad payload":  frame(t, "book_update", map[string]interface{}{"orderbook_id": 12}),
		"missing data": []byte(`{"type":"trades","version":0.1}`),
	} {
		t.Run(name, func(t *testing.T) {
			events := r.Handle(raw)
			require.Len(t, events, 1)
			assert.Equal(t, EventKind_Error, events[0].Kind)
			assert.True(t, errors.Is(events[0].Err, domain.ErrMalformedMessage))
		})
	}

	book, _ := r.Orderbook("ob1")
	assert.Equal(t, 1, book.BidCount())
	assert.Equal(t, int64(1), book.ExpectedSequence())
}

func TestRouter_UnknownTypeSoftFails(t *testing.T) {
	r := NewRouter(RouterOptions{})
	assert.Empty(t, r.Handle(frame(t, "new_feature", map[string]interface{}{"x": 1})))
}

func TestRouter_TradeAndMarketAreStateless(t *testing.T) {
	r := NewRouter(RouterOptions{})

	events := r.Handle(frame(t, "trades", map[string]interface{}{
		"orderbook_id": "ob1", "price": "0.5", "size": "2", "side": "buy", "timestamp": "ts", "trade_id": "t1",
	}))
	require.Len(t, events, 1)
	assert.Equal(t, EventKind_Trade, events[0].Kind)
	assert.Equal(t, "ob1", events[0].OrderbookID)
	assert.Equal(t, "t1", events[0].Trade.TradeID)

	events = r.Handle(frame(t, "market", map[string]interface{}{
		"event_type": "settled", "market_pubkey": "m1", "timestamp": "ts",
	}))
	require.Equal(t, []Event{MarketEventEvent(domain.MarketEvent_Settled, "m1", "")}, events)

	events = r.Handle(frame(t, "market", map[string]interface{}{"event_type": "exploded", "market_pubkey": "m1"}))
	assert.Equal(t, string(domain.MarketEvent_Unknown), events[0].EventType)

	assert.Empty(t, r.OrderbookIDs())
}

func TestRouter_UserEventsRouteToSubscribedAccount(t *testing.T) {
	r := NewRouter(RouterOptions{})

	events := r.Handle(frame(t, "user", map[string]interface{}{"event_type": "snapshot", "orders": []interface{}{}}))
	require.Equal(t, []Event{UserUpdateEvent("snapshot", UnknownAccount)}, events)

	r.InitUserState("user1")
	events = r.Handle(frame(t, "user", map[string]interface{}{
		"event_type": "snapshot",
		"orders": []map[string]interface{}{
			{"order_hash": "h1", "market_pubkey": "m1", "orderbook_id": "ob1", "side": 0, "remaining": "5", "filled": "0", "price": "0.5"},
		},
		"balances":  map[string]interface{}{},
		"timestamp": "ts1",
	}))
	require.Equal(t, []Event{UserUpdateEvent("snapshot", "user1")}, events)

	state, ok := r.UserState("user1")
	require.True(t, ok)
	assert.Equal(t, 1, state.OrderCount())

	r.Handle(frame(t, "user", map[string]interface{}{
		"event_type": "order_update",
		"order":      map[string]interface{}{"order_hash": "h1", "remaining": "0", "filled": "5"},
	}))
	assert.Equal(t, 0, state.OrderCount())

	r.ClearSubscribedUser("other")
	assert.Equal(t, "user1", r.SubscribedAccount())
	r.ClearSubscribedUser("user1")
	assert.Empty(t, r.SubscribedAccount())
}

func TestRouter_PriceHistory(t *testing.T) {
	r := NewRouter(RouterOptions{MaxCandles: 10})

	// update before any snapshot is ignored but still reported
	events := r.Handle(frame(t, "price_history", map[string]interface{}{
		"event_type": "update", "orderbook_id": "ob1", "resolution": "5m", "t": 100, "m": "0.5",
	}))
	require.Equal(t, []Event{PriceUpdateEvent("ob1", domain.Resolution_5m)}, events)
	_, ok := r.PriceHistory("ob1", domain.Resolution_5m)
	assert.False(t, ok)

	// snapshot without resolution lands on 1m and creates the history
	events = r.Handle(frame(t, "price_history", map[string]interface{}{
		"event_type": "snapshot", "orderbook_id": "ob1", "include_ohlcv": true,
		"prices": []map[string]interface{}{{"t": 200, "m": "0.6"}, {"t": 100, "m": "0.5"}},
	}))
	require.Equal(t, []Event{PriceUpdateEvent("ob1", domain.Resolution_1m)}, events)

	history, ok := r.PriceHistory("ob1", domain.Resolution_1m)
	require.True(t, ok)
	assert.True(t, history.IncludeDetail)
	assert.Equal(t, 2, history.Count())

	r.InitPriceHistory("ob2", domain.Resolution_1h, false)
	events = r.Handle(frame(t, "price_history", map[string]interface{}{"event_type": "heartbeat", "server_time": 999}))
	assert.Empty(t, events)

	other, _ := r.PriceHistory("ob2", domain.Resolution_1h)
	assert.Equal(t, int64(999), history.ServerTime())
	assert.Equal(t, int64(999), other.ServerTime())

	assert.Empty(t, r.Handle(frame(t, "price_history", map[string]interface{}{"event_type": "update", "t": 1})))
	assert.Equal(t, []domain.CandleKey{
		{OrderbookID: "ob1", Resolution: domain.Resolution_1m},
		{OrderbookID: "ob2", Resolution: domain.Resolution_1h},
	}, r.PriceHistoryKeys())
}

func TestRouter_ServerErrorAndPong(t *testing.T) {
	r := NewRouter(RouterOptions{})

	events := r.Handle(frame(t, "error", map[string]interface{}{"error": "slow down", "code": "RATE_LIMITED"}))
	require.Len(t, events, 1)

	var serverErr *domain.ServerError
	require.True(t, errors.As(events[0].Err, &serverErr))
	assert.Equal(t, domain.ErrorCode_RateLimited, serverErr.Code)
	assert.Equal(t, "slow down", serverErr.Message)
	assert.ErrorIs(t, events[0].Err, domain.ErrServer)

	events = r.Handle([]byte(`{"type":"pong","version":0.1,"data":{}}`))
	assert.Equal(t, []Event{PongEvent()}, events)
}

func TestRouter_ClearAll(t *testing.T) {
	r := NewRouter(RouterOptions{})
	r.InitOrderbook("ob1")
	r.InitUserState("user1")
	r.InitPriceHistory("ob1", domain.Resolution_1m, false)

	r.ClearAll()

	_, ok := r.Orderbook("ob1")
	assert.False(t, ok)
	_, ok = r.UserState("user1")
	assert.False(t, ok)
	_, ok = r.PriceHistory("ob1", domain.Resolution_1m)
	assert.False(t, ok)
	assert.Equal(t, "user1", r.SubscribedAccount())
}

func TestEvent_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(ErrorEvent(domain.ErrRateLimited))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"error","error":"rate limited: too many connections from this IP"}`, string(b))

	b, err = json.Marshal(BookUpdateEvent("ob1", true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"book_update","orderbook_id":"ob1","is_snapshot":true}`, string(b))
}

func TestResubscribeRequests(t *testing.T) {
	registry := domain.NewSubscriptionRegistry()
	registry.AddBookUpdate("ob1", "ob2")
	registry.AddUser("user1")

	requests := ResubscribeRequests(registry)
	require.Len(t, requests, 2)
	assert.Equal(t, Method_Subscribe, requests[0].Method)
	assert.Equal(t, []string{"ob1", "ob2"}, requests[0].Params["orderbook_ids"])

	b, err := json.Marshal(NewPingRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"ping"}`, string(b))
}
