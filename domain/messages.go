package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SequenceNumber keeps the raw seq token so a malformed value fails only the
// replica update and not the decoding of the whole frame.
type SequenceNumber string

func (s *SequenceNumber) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}

	*s = SequenceNumber(strings.Trim(string(b), `"`))
	return nil
}

func (s SequenceNumber) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte("0"), nil
	}
	return []byte(s), nil
}

// Int validates the token as a non-negative integer below MaxInt64 so the
// next expected seq stays representable. A missing seq counts as 0.
func (s SequenceNumber) Int() (int64, error) {
	if s == "" {
		return 0, nil
	}

	seq, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil || seq < 0 || seq == math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSequence, string(s))
	}

	return seq, nil
}

func Seq(n int64) SequenceNumber {
	return SequenceNumber(strconv.FormatInt(n, 10))
}

type PriceLevel struct {
	Side  string `json:"side,omitempty"`
	Price string `json:"price"`
	Size  string `json:"size"`
}

type BookUpdate struct {
	OrderbookID string         `json:"orderbook_id"`
	Timestamp   string         `json:"timestamp"`
	Seq         SequenceNumber `json:"seq"`
	Bids        []PriceLevel   `json:"bids"`
	Asks        []PriceLevel   `json:"asks"`
	IsSnapshot  bool           `json:"is_snapshot"`
	Resync      bool           `json:"resync"`
	Message     string         `json:"message,omitempty"`
}

type Trade struct {
	OrderbookID string `json:"orderbook_id"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	Side        string `json:"side"`
	Timestamp   string `json:"timestamp"`
	TradeID     string `json:"trade_id"`
}

type OrderSide int

const (
	OrderSide_Buy  OrderSide = 0
	OrderSide_Sell OrderSide = 1
)

type Order struct {
	OrderHash    string    `json:"order_hash"`
	MarketPubkey string    `json:"market_pubkey"`
	OrderbookID  string    `json:"orderbook_id"`
	Side         OrderSide `json:"side"`
	MakerAmount  string    `json:"maker_amount"`
	TakerAmount  string    `json:"taker_amount"`
	Remaining    string    `json:"remaining"`
	Filled       string    `json:"filled"`
	Price        string    `json:"price"`
	CreatedAt    int64     `json:"created_at"`
	Expiration   int64     `json:"expiration"`

	// Synthesized orders were built from an order_update patch for an order the
	// replica had never seen; their TakerAmount is not known.
	Synthesized bool `json:"-"`
}

type OutcomeBalance struct {
	OutcomeIndex int    `json:"outcome_index"`
	Mint         string `json:"mint"`
	Idle         string `json:"idle"`
	OnBook       string `json:"on_book"`
}

type Balance struct {
	Outcomes []OutcomeBalance `json:"outcomes"`
}

type BalanceEntry struct {
	MarketPubkey string           `json:"market_pubkey"`
	DepositMint  string           `json:"deposit_mint"`
	Outcomes     []OutcomeBalance `json:"outcomes"`
}

type OrderUpdate struct {
	OrderHash  string    `json:"order_hash"`
	Price      string    `json:"price"`
	FillAmount string    `json:"fill_amount"`
	Remaining  string    `json:"remaining"`
	Filled     string    `json:"filled"`
	Side       OrderSide `json:"side"`
	IsMaker    bool      `json:"is_maker"`
	CreatedAt  int64     `json:"created_at"`
	Balance    *Balance  `json:"balance,omitempty"`
}

const (
	UserEvent_Snapshot      = "snapshot"
	UserEvent_OrderUpdate   = "order_update"
	UserEvent_BalanceUpdate = "balance_update"
)

type UserEvent struct {
	EventType    string                  `json:"event_type"`
	Orders       []Order                 `json:"orders"`
	Balances     map[string]BalanceEntry `json:"balances"`
	Order        *OrderUpdate            `json:"order,omitempty"`
	Balance      *Balance                `json:"balance,omitempty"`
	MarketPubkey string                  `json:"market_pubkey,omitempty"`
	OrderbookID  string                  `json:"orderbook_id,omitempty"`
	DepositMint  string                  `json:"deposit_mint,omitempty"`
	Timestamp    string                  `json:"timestamp,omitempty"`
}

type Candle struct {
	T  int64  `json:"t"`
	O  string `json:"o,omitempty"`
	H  string `json:"h,omitempty"`
	L  string `json:"l,omitempty"`
	C  string `json:"c,omitempty"`
	V  string `json:"v,omitempty"`
	M  string `json:"m,omitempty"`
	BB string `json:"bb,omitempty"`
	BA string `json:"ba,omitempty"`
}

const (
	PriceEvent_Snapshot  = "snapshot"
	PriceEvent_Update    = "update"
	PriceEvent_Heartbeat = "heartbeat"
)

type PriceHistoryEvent struct {
	EventType     string   `json:"event_type"`
	OrderbookID   string   `json:"orderbook_id,omitempty"`
	Resolution    string   `json:"resolution,omitempty"`
	IncludeOHLCV  *bool    `json:"include_ohlcv,omitempty"`
	Prices        []Candle `json:"prices"`
	LastTimestamp *int64   `json:"last_timestamp,omitempty"`
	ServerTime    *int64   `json:"server_time,omitempty"`

	// inline candle carried by update events
	T  *int64 `json:"t,omitempty"`
	O  string `json:"o,omitempty"`
	H  string `json:"h,omitempty"`
	L  string `json:"l,omitempty"`
	C  string `json:"c,omitempty"`
	V  string `json:"v,omitempty"`
	M  string `json:"m,omitempty"`
	BB string `json:"bb,omitempty"`
	BA string `json:"ba,omitempty"`
}

// Candle returns the inline candle of an update event, false when it carries none.
func (e *PriceHistoryEvent) Candle() (Candle, bool) {
	if e.T == nil {
		return Candle{}, false
	}

	return Candle{
		T: *e.T, O: e.O, H: e.H, L: e.L, C: e.C, V: e.V, M: e.M, BB: e.BB, BA: e.BA,
	}, true
}

type MarketEventType string

const (
	MarketEvent_OrderbookCreated MarketEventType = "orderbook_created"
	MarketEvent_Settled          MarketEventType = "settled"
	MarketEvent_Opened           MarketEventType = "opened"
	MarketEvent_Paused           MarketEventType = "paused"
	MarketEvent_Unknown          MarketEventType = "unknown"
)

func ParseMarketEventType(s string) MarketEventType {
	switch t := MarketEventType(s); t {
	case MarketEvent_OrderbookCreated, MarketEvent_Settled, MarketEvent_Opened, MarketEvent_Paused:
		return t
	}
	return MarketEvent_Unknown
}

type MarketEvent struct {
	EventType    string `json:"event_type"`
	MarketPubkey string `json:"market_pubkey"`
	OrderbookID  string `json:"orderbook_id,omitempty"`
	Timestamp    string `json:"timestamp"`
}

type ErrorMessage struct {
	Error       string `json:"error"`
	Code        string `json:"code"`
	OrderbookID string `json:"orderbook_id,omitempty"`
}
