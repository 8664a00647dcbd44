package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type OrderBookStatus string

const (
	OrderBookStatus_Uninitialized OrderBookStatus = "Uninitialized"
	OrderBookStatus_Synced        OrderBookStatus = "Synced"
	OrderBookStatus_Desynced      OrderBookStatus = "Desynced"
)

const DefaultMaxLevelsPerSide = 1000

// OrderBook is the local replica of one venue orderbook, rebuilt from a snapshot
// and kept current by strictly sequenced deltas.
type OrderBook struct {
	OrderbookID    string
	LastUpdateTime time.Time

	bids          *bookSide
	asks          *bookSide
	expectedSeq   int64
	hasSnapshot   bool
	desynced      bool
	lastTimestamp string
}

func NewOrderBook(orderbookID string, maxLevelsPerSide int) *OrderBook {
	if maxLevelsPerSide <= 0 {
		maxLevelsPerSide = DefaultMaxLevelsPerSide
	}

	return &OrderBook{
		OrderbookID: orderbookID,
		bids:        newBookSide("bid", true, maxLevelsPerSide),
		asks:        newBookSide("ask", false, maxLevelsPerSide),
	}
}

// ApplySnapshot replaces both sides. An invalid seq leaves the book untouched.
func (ob *OrderBook) ApplySnapshot(update *BookUpdate) error {
	seq, err := update.Seq.Int()
	if err != nil {
		return err
	}

	ob.bids.clear()
	ob.asks.clear()

	ob.bids.apply(ob.OrderbookID, update.Bids)
	ob.asks.apply(ob.OrderbookID, update.Asks)

	ob.expectedSeq = seq + 1
	ob.hasSnapshot = true
	ob.desynced = false
	ob.touch(update.Timestamp)

	return nil
}

// ApplyDelta applies level changes only when update.Seq is exactly the expected one.
// On mismatch it returns *SequenceGapError and the book is not modified.
func (ob *OrderBook) ApplyDelta(update *BookUpdate) error {
	seq, err := update.Seq.Int()
	if err != nil {
		return err
	}

	if seq != ob.expectedSeq {
		return &SequenceGapError{Expected: ob.expectedSeq, Received: seq}
	}

	ob.bids.apply(ob.OrderbookID, update.Bids)
	ob.asks.apply(ob.OrderbookID, update.Asks)

	ob.expectedSeq = seq + 1
	ob.touch(update.Timestamp)

	return nil
}

func (ob *OrderBook) ApplyUpdate(update *BookUpdate) error {
	if update.Resync {
		return ErrResyncRequired
	}

	if update.IsSnapshot {
		return ob.ApplySnapshot(update)
	}

	return ob.ApplyDelta(update)
}

func (ob *OrderBook) touch(timestamp string) {
	ob.lastTimestamp = timestamp
	ob.LastUpdateTime = time.Now()
}

// Clear drops every level and the sequence state.
func (ob *OrderBook) Clear() {
	ob.bids.clear()
	ob.asks.clear()
	ob.expectedSeq = 0
	ob.hasSnapshot = false
	ob.desynced = false
	ob.lastTimestamp = ""
	ob.LastUpdateTime = time.Time{}
}

// Invalidate clears the book after an inconsistency; it stays Desynced until the next snapshot.
func (ob *OrderBook) Invalidate() {
	ob.Clear()
	ob.desynced = true
}

func (ob *OrderBook) Status() OrderBookStatus {
	switch {
	case ob.hasSnapshot:
		return OrderBookStatus_Synced
	case ob.desynced:
		return OrderBookStatus_Desynced
	default:
		return OrderBookStatus_Uninitialized
	}
}

func (ob *OrderBook) HasSnapshot() bool {
	return ob.hasSnapshot
}

func (ob *OrderBook) ExpectedSequence() int64 {
	return ob.expectedSeq
}

func (ob *OrderBook) LastTimestamp() string {
	return ob.lastTimestamp
}

// Bids sorted by price descending.
func (ob *OrderBook) Bids() []PriceLevel {
	return ob.bids.sorted(0)
}

// Asks sorted by price ascending.
func (ob *OrderBook) Asks() []PriceLevel {
	return ob.asks.sorted(0)
}

func (ob *OrderBook) TopBids(n int) []PriceLevel {
	return ob.bids.sorted(n)
}

func (ob *OrderBook) TopAsks(n int) []PriceLevel {
	return ob.asks.sorted(n)
}

func (ob *OrderBook) BestBid() (PriceLevel, bool) {
	return ob.bids.best()
}

func (ob *OrderBook) BestAsk() (PriceLevel, bool) {
	return ob.asks.best()
}

// Spread is best ask minus best bid, "0" for a crossed book.
func (ob *OrderBook) Spread() (string, bool) {
	bid, ask, ok := ob.top()
	if !ok {
		return "", false
	}

	if ask.LessThanOrEqual(bid) {
		return decimal.Zero.String(), true
	}

	return ask.Sub(bid).String(), true
}

func (ob *OrderBook) Midpoint() (string, bool) {
	bid, ask, ok := ob.top()
	if !ok {
		return "", false
	}

	return bid.Add(ask).Div(decimal.NewFromInt(2)).String(), true
}

func (ob *OrderBook) top() (decimal.Decimal, decimal.Decimal, bool) {
	bid, ok := ob.bids.bestLevel()
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}

	ask, ok := ob.asks.bestLevel()
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}

	return bid.price, ask.price, true
}

func (ob *OrderBook) BidSizeAt(price string) (string, bool) {
	return ob.bids.sizeAt(price)
}

func (ob *OrderBook) AskSizeAt(price string) (string, bool) {
	return ob.asks.sizeAt(price)
}

func (ob *OrderBook) TotalBidDepth() decimal.Decimal {
	return ob.bids.depth()
}

func (ob *OrderBook) TotalAskDepth() decimal.Decimal {
	return ob.asks.depth()
}

func (ob *OrderBook) BidCount() int {
	return len(ob.bids.levels)
}

func (ob *OrderBook) AskCount() int {
	return len(ob.asks.levels)
}

type level struct {
	price decimal.Decimal
	size  decimal.Decimal
	// wire strings are returned as received
	rawPrice string
	rawSize  string
}

// bookSide is one side of the book keyed by the canonical decimal form of the
// price, so "0.5" and "0.50" address the same level.
type bookSide struct {
	name       string
	descending bool
	maxLevels  int
	levels     map[string]*level
}

func newBookSide(name string, descending bool, maxLevels int) *bookSide {
	return &bookSide{
		name:       name,
		descending: descending,
		maxLevels:  maxLevels,
		levels:     make(map[string]*level),
	}
}

func (s *bookSide) clear() {
	s.levels = make(map[string]*level)
}

func (s *bookSide) apply(orderbookID string, updates []PriceLevel) {
	for _, upd := range updates {
		price, err := decimal.NewFromString(upd.Price)
		if err != nil {
			logger.WithField("orderbook_id", orderbookID).Warnf("skipping %s level with invalid price %q", s.name, upd.Price)
			continue
		}
		size, err := decimal.NewFromString(upd.Size)
		if err != nil {
			logger.WithField("orderbook_id", orderbookID).Warnf("skipping %s level with invalid size %q", s.name, upd.Size)
			continue
		}

		key := price.String()
		if size.IsZero() {
			delete(s.levels, key)
			continue
		}

		if existing, ok := s.levels[key]; ok {
			existing.size = size
			existing.rawSize = upd.Size
			continue
		}

		// a full side only accepts changes to prices it already holds
		if len(s.levels) >= s.maxLevels {
			continue
		}

		s.levels[key] = &level{price: price, size: size, rawPrice: upd.Price, rawSize: upd.Size}
	}
}

func (s *bookSide) sortedLevels() []*level {
	result := make([]*level, 0, len(s.levels))
	for _, l := range s.levels {
		result = append(result, l)
	}

	sort.Slice(result, func(i, j int) bool {
		if s.descending {
			return result[i].price.GreaterThan(result[j].price)
		}
		return result[i].price.LessThan(result[j].price)
	})

	return result
}

func (s *bookSide) sorted(limit int) []PriceLevel {
	levels := s.sortedLevels()
	if limit > 0 && len(levels) > limit {
		levels = levels[:limit]
	}

	result := make([]PriceLevel, len(levels))
	for i, l := range levels {
		result[i] = PriceLevel{Side: s.name, Price: l.rawPrice, Size: l.rawSize}
	}

	return result
}

func (s *bookSide) bestLevel() (*level, bool) {
	var best *level
	for _, l := range s.levels {
		if best == nil ||
			(s.descending && l.price.GreaterThan(best.price)) ||
			(!s.descending && l.price.LessThan(best.price)) {
			best = l
		}
	}

	return best, best != nil
}

func (s *bookSide) best() (PriceLevel, bool) {
	l, ok := s.bestLevel()
	if !ok {
		return PriceLevel{}, false
	}

	return PriceLevel{Side: s.name, Price: l.rawPrice, Size: l.rawSize}, true
}

func (s *bookSide) sizeAt(price string) (string, bool) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return "", false
	}

	l, ok := s.levels[p.String()]
	if !ok {
		return "", false
	}

	return l.rawSize, true
}

func (s *bookSide) depth() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.levels {
		total = total.Add(l.size)
	}

	return total
}
