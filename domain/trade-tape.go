package domain

import "github.com/gammazero/deque"

const DefaultTradeTapeSize = 100

// TradeTape is a bounded rolling window of the most recent trades of one orderbook.
type TradeTape struct {
	OrderbookID string

	trades  deque.Deque[Trade]
	maxSize int
}

func NewTradeTape(orderbookID string, maxSize int) *TradeTape {
	if maxSize <= 0 {
		maxSize = DefaultTradeTapeSize
	}

	return &TradeTape{
		OrderbookID: orderbookID,
		trades:      deque.Deque[Trade]{},
		maxSize:     maxSize,
	}
}

func (t *TradeTape) Add(trade Trade) {
	t.trades.PushFront(trade)
	for t.trades.Len() > t.maxSize {
		t.trades.PopBack()
	}
}

// Recent returns up to n trades, newest first. n <= 0 returns all of them.
func (t *TradeTape) Recent(n int) []Trade {
	if n <= 0 || n > t.trades.Len() {
		n = t.trades.Len()
	}

	result := make([]Trade, n)
	for i := 0; i < n; i++ {
		result[i] = t.trades.At(i)
	}

	return result
}

func (t *TradeTape) Latest() (Trade, bool) {
	if t.trades.Len() == 0 {
		return Trade{}, false
	}
	return t.trades.Front(), true
}

func (t *TradeTape) Len() int {
	return t.trades.Len()
}

func (t *TradeTape) Clear() {
	t.trades.Clear()
}
