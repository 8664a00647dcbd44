package domain

import "sort"

type SubscriptionKind string

const (
	SubscriptionKind_BookUpdate   SubscriptionKind = "book_update"
	SubscriptionKind_Trades       SubscriptionKind = "trades"
	SubscriptionKind_User         SubscriptionKind = "user"
	SubscriptionKind_PriceHistory SubscriptionKind = "price_history"
	SubscriptionKind_Market       SubscriptionKind = "market"
)

// AllMarkets subscribes to events of every market.
const AllMarkets = "all"

// Subscription is one logical subscribe request. Book update and trade
// subscriptions carry every orderbook id of their kind.
type Subscription struct {
	Kind          SubscriptionKind
	OrderbookIDs  []string
	User          string
	OrderbookID   string
	Resolution    Resolution
	IncludeDetail bool
	MarketPubkey  string
}

// Params is the subscription-specific params object of a subscribe or unsubscribe request.
func (s Subscription) Params() map[string]interface{} {
	params := map[string]interface{}{"type": string(s.Kind)}

	switch s.Kind {
	case SubscriptionKind_BookUpdate, SubscriptionKind_Trades:
		params["orderbook_ids"] = s.OrderbookIDs
	case SubscriptionKind_User:
		params["user"] = s.User
	case SubscriptionKind_PriceHistory:
		params["orderbook_id"] = s.OrderbookID
		params["resolution"] = string(s.Resolution)
		params["include_ohlcv"] = s.IncludeDetail
	case SubscriptionKind_Market:
		params["market_pubkey"] = s.MarketPubkey
	}

	return params
}

type priceHistorySubscription struct {
	key           CandleKey
	includeDetail bool
}

// SubscriptionRegistry records what the caller currently wants to receive.
// It is pure data and is replayed as subscribe requests after a reconnect.
type SubscriptionRegistry struct {
	bookUpdates  map[string]struct{}
	trades       map[string]struct{}
	users        map[string]struct{}
	priceHistory map[CandleKey]priceHistorySubscription
	markets      map[string]struct{}
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	r := &SubscriptionRegistry{}
	r.Clear()
	return r
}

func (r *SubscriptionRegistry) AddBookUpdate(orderbookIDs ...string) {
	addAll(r.bookUpdates, orderbookIDs)
}

func (r *SubscriptionRegistry) RemoveBookUpdate(orderbookIDs ...string) {
	removeAll(r.bookUpdates, orderbookIDs)
}

func (r *SubscriptionRegistry) IsSubscribedBookUpdate(orderbookID string) bool {
	_, ok := r.bookUpdates[orderbookID]
	return ok
}

func (r *SubscriptionRegistry) AddTrades(orderbookIDs ...string) {
	addAll(r.trades, orderbookIDs)
}

func (r *SubscriptionRegistry) RemoveTrades(orderbookIDs ...string) {
	removeAll(r.trades, orderbookIDs)
}

func (r *SubscriptionRegistry) IsSubscribedTrades(orderbookID string) bool {
	_, ok := r.trades[orderbookID]
	return ok
}

func (r *SubscriptionRegistry) AddUser(user string) {
	r.users[user] = struct{}{}
}

func (r *SubscriptionRegistry) RemoveUser(user string) {
	delete(r.users, user)
}

func (r *SubscriptionRegistry) IsSubscribedUser(user string) bool {
	_, ok := r.users[user]
	return ok
}

// AddPriceHistory keys on (orderbook, resolution); re-adding replaces the detail flag.
func (r *SubscriptionRegistry) AddPriceHistory(orderbookID string, resolution Resolution, includeDetail bool) {
	key := CandleKey{OrderbookID: orderbookID, Resolution: resolution}
	r.priceHistory[key] = priceHistorySubscription{key: key, includeDetail: includeDetail}
}

func (r *SubscriptionRegistry) RemovePriceHistory(orderbookID string, resolution Resolution) {
	delete(r.priceHistory, CandleKey{OrderbookID: orderbookID, Resolution: resolution})
}

func (r *SubscriptionRegistry) IsSubscribedPriceHistory(orderbookID string, resolution Resolution) bool {
	_, ok := r.priceHistory[CandleKey{OrderbookID: orderbookID, Resolution: resolution}]
	return ok
}

func (r *SubscriptionRegistry) AddMarket(marketPubkey string) {
	r.markets[marketPubkey] = struct{}{}
}

func (r *SubscriptionRegistry) RemoveMarket(marketPubkey string) {
	delete(r.markets, marketPubkey)
}

func (r *SubscriptionRegistry) IsSubscribedMarket(marketPubkey string) bool {
	_, ok := r.markets[marketPubkey]
	_, all := r.markets[AllMarkets]
	return ok || all
}

// Snapshot groups the active subscriptions the way they are requested: one
// entry for all book updates, one for all trades, one per user, price history
// and market. The order is deterministic.
func (r *SubscriptionRegistry) Snapshot() []Subscription {
	subs := make([]Subscription, 0)

	if len(r.bookUpdates) > 0 {
		subs = append(subs, Subscription{Kind: SubscriptionKind_BookUpdate, OrderbookIDs: sortedKeys(r.bookUpdates)})
	}

	if len(r.trades) > 0 {
		subs = append(subs, Subscription{Kind: SubscriptionKind_Trades, OrderbookIDs: sortedKeys(r.trades)})
	}

	for _, user := range sortedKeys(r.users) {
		subs = append(subs, Subscription{Kind: SubscriptionKind_User, User: user})
	}

	for _, ph := range r.PriceHistories() {
		subs = append(subs, Subscription{
			Kind:          SubscriptionKind_PriceHistory,
			OrderbookID:   ph.OrderbookID,
			Resolution:    ph.Resolution,
			IncludeDetail: ph.IncludeDetail,
		})
	}

	for _, market := range sortedKeys(r.markets) {
		subs = append(subs, Subscription{Kind: SubscriptionKind_Market, MarketPubkey: market})
	}

	return subs
}

func (r *SubscriptionRegistry) Clear() {
	r.bookUpdates = make(map[string]struct{})
	r.trades = make(map[string]struct{})
	r.users = make(map[string]struct{})
	r.priceHistory = make(map[CandleKey]priceHistorySubscription)
	r.markets = make(map[string]struct{})
}

// Count is the number of keys across every kind, not the number of grouped requests.
func (r *SubscriptionRegistry) Count() int {
	return len(r.bookUpdates) + len(r.trades) + len(r.users) + len(r.priceHistory) + len(r.markets)
}

func (r *SubscriptionRegistry) HasSubscriptions() bool {
	return r.Count() > 0
}

func (r *SubscriptionRegistry) BookUpdateOrderbooks() []string {
	return sortedKeys(r.bookUpdates)
}

func (r *SubscriptionRegistry) TradeOrderbooks() []string {
	return sortedKeys(r.trades)
}

func (r *SubscriptionRegistry) Users() []string {
	return sortedKeys(r.users)
}

func (r *SubscriptionRegistry) Markets() []string {
	return sortedKeys(r.markets)
}

// PriceHistories lists the price history subscriptions sorted by key.
func (r *SubscriptionRegistry) PriceHistories() []Subscription {
	keys := make([]CandleKey, 0, len(r.priceHistory))
	for key := range r.priceHistory {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return CandleKeyLess(keys[i], keys[j]) })

	result := make([]Subscription, len(keys))
	for i, key := range keys {
		result[i] = Subscription{
			Kind:          SubscriptionKind_PriceHistory,
			OrderbookID:   key.OrderbookID,
			Resolution:    key.Resolution,
			IncludeDetail: r.priceHistory[key].includeDetail,
		}
	}

	return result
}

func addAll(set map[string]struct{}, keys []string) {
	for _, k := range keys {
		set[k] = struct{}{}
	}
}

func removeAll(set map[string]struct{}, keys []string) {
	for _, k := range keys {
		delete(set, k)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
