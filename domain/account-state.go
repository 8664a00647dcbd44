package domain

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// AccountState replicates the open orders and balances of the subscribed account.
type AccountState struct {
	Account string

	orders        map[string]*Order
	balances      map[string]*BalanceEntry
	hasSnapshot   bool
	lastTimestamp string
}

func NewAccountState(account string) *AccountState {
	return &AccountState{
		Account:  account,
		orders:   make(map[string]*Order),
		balances: make(map[string]*BalanceEntry),
	}
}

func BalanceKey(marketPubkey, depositMint string) string {
	return marketPubkey + ":" + depositMint
}

func (a *AccountState) ApplySnapshot(data *UserEvent) {
	a.orders = make(map[string]*Order, len(data.Orders))
	a.balances = make(map[string]*BalanceEntry, len(data.Balances))

	for i := range data.Orders {
		order := data.Orders[i]
		a.orders[order.OrderHash] = &order
	}

	for key, entry := range data.Balances {
		entry := entry
		a.balances[key] = &entry
	}

	a.hasSnapshot = true
	a.lastTimestamp = data.Timestamp
}

func (a *AccountState) ApplyOrderUpdate(data *UserEvent) {
	if data.Order == nil {
		return
	}

	update := data.Order
	existing, known := a.orders[update.OrderHash]

	switch {
	case isZeroAmount(update.Remaining):
		// filled or cancelled
		delete(a.orders, update.OrderHash)
	case known:
		existing.Remaining = update.Remaining
		existing.Filled = update.Filled
	case data.MarketPubkey != "" && data.OrderbookID != "":
		a.orders[update.OrderHash] = &Order{
			OrderHash:    update.OrderHash,
			MarketPubkey: data.MarketPubkey,
			OrderbookID:  data.OrderbookID,
			Side:         update.Side,
			MakerAmount:  update.Remaining,
			TakerAmount:  "0",
			Remaining:    update.Remaining,
			Filled:       update.Filled,
			Price:        update.Price,
			CreatedAt:    update.CreatedAt,
			Synthesized:  true,
		}
	}

	if update.Balance != nil {
		a.applyBalance(data.MarketPubkey, data.DepositMint, update.Balance)
	}

	a.lastTimestamp = data.Timestamp
}

func (a *AccountState) ApplyBalanceUpdate(data *UserEvent) {
	if data.Balance != nil {
		a.applyBalance(data.MarketPubkey, data.DepositMint, data.Balance)
	}

	a.lastTimestamp = data.Timestamp
}

// applyBalance upserts the (market, mint) entry. Without a mint the patch is
// narrower than the key space and lands on the first existing entry of the
// market in key order; with several candidates the choice is ambiguous and logged.
func (a *AccountState) applyBalance(marketPubkey, depositMint string, balance *Balance) {
	if marketPubkey == "" {
		return
	}

	if depositMint != "" {
		a.balances[BalanceKey(marketPubkey, depositMint)] = &BalanceEntry{
			MarketPubkey: marketPubkey,
			DepositMint:  depositMint,
			Outcomes:     balance.Outcomes,
		}
		return
	}

	candidates := make([]string, 0)
	for key := range a.balances {
		if strings.HasPrefix(key, marketPubkey+":") {
			candidates = append(candidates, key)
		}
	}

	if len(candidates) == 0 {
		logger.WithField("market_pubkey", marketPubkey).Warn("balance patch without deposit mint matches no known balance, dropped")
		return
	}

	sort.Strings(candidates)
	if len(candidates) > 1 {
		logger.WithFields(map[string]interface{}{
			"market_pubkey": marketPubkey,
			"candidates":    candidates,
			"applied_to":    candidates[0],
		}).Warn("ambiguous balance patch without deposit mint")
	}

	a.balances[candidates[0]].Outcomes = balance.Outcomes
}

func (a *AccountState) ApplyEvent(data *UserEvent) {
	switch data.EventType {
	case UserEvent_Snapshot:
		a.ApplySnapshot(data)
	case UserEvent_OrderUpdate:
		a.ApplyOrderUpdate(data)
	case UserEvent_BalanceUpdate:
		a.ApplyBalanceUpdate(data)
	default:
		logger.WithField("account", a.Account).Warnf("unknown user event type %q", data.EventType)
	}
}

func (a *AccountState) Order(orderHash string) (Order, bool) {
	order, ok := a.orders[orderHash]
	if !ok {
		return Order{}, false
	}

	return *order, true
}

// OpenOrders are sorted by creation time, then hash.
func (a *AccountState) OpenOrders() []Order {
	return a.filterOrders(func(*Order) bool { return true })
}

func (a *AccountState) OrdersForMarket(marketPubkey string) []Order {
	return a.filterOrders(func(o *Order) bool { return o.MarketPubkey == marketPubkey })
}

func (a *AccountState) OrdersForOrderbook(orderbookID string) []Order {
	return a.filterOrders(func(o *Order) bool { return o.OrderbookID == orderbookID })
}

func (a *AccountState) filterOrders(keep func(*Order) bool) []Order {
	result := make([]Order, 0)
	for _, o := range a.orders {
		if keep(o) {
			result = append(result, *o)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].OrderHash < result[j].OrderHash
	})

	return result
}

func (a *AccountState) Balance(marketPubkey, depositMint string) (BalanceEntry, bool) {
	entry, ok := a.balances[BalanceKey(marketPubkey, depositMint)]
	if !ok {
		return BalanceEntry{}, false
	}

	return *entry, true
}

func (a *AccountState) AllBalances() []BalanceEntry {
	keys := make([]string, 0, len(a.balances))
	for key := range a.balances {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]BalanceEntry, len(keys))
	for i, key := range keys {
		result[i] = *a.balances[key]
	}

	return result
}

func (a *AccountState) IdleBalance(marketPubkey, depositMint string, outcomeIndex int) (string, bool) {
	outcome, ok := a.outcome(marketPubkey, depositMint, outcomeIndex)
	return outcome.Idle, ok
}

func (a *AccountState) OnBookBalance(marketPubkey, depositMint string, outcomeIndex int) (string, bool) {
	outcome, ok := a.outcome(marketPubkey, depositMint, outcomeIndex)
	return outcome.OnBook, ok
}

func (a *AccountState) outcome(marketPubkey, depositMint string, outcomeIndex int) (OutcomeBalance, bool) {
	entry, ok := a.balances[BalanceKey(marketPubkey, depositMint)]
	if !ok {
		return OutcomeBalance{}, false
	}

	for _, outcome := range entry.Outcomes {
		if outcome.OutcomeIndex == outcomeIndex {
			return outcome, true
		}
	}

	return OutcomeBalance{}, false
}

func (a *AccountState) OrderCount() int {
	return len(a.orders)
}

func (a *AccountState) HasSnapshot() bool {
	return a.hasSnapshot
}

func (a *AccountState) LastTimestamp() string {
	return a.lastTimestamp
}

func (a *AccountState) Clear() {
	a.orders = make(map[string]*Order)
	a.balances = make(map[string]*BalanceEntry)
	a.hasSnapshot = false
	a.lastTimestamp = ""
}

// isZeroAmount compares with exact decimal precision; garbage is never zero.
func isZeroAmount(s string) bool {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return false
	}

	return d.IsZero()
}
