package stream

import (
	"encoding/json"

	"github.com/spooky-finn/go-marketstream-sync/domain"
)

type EventKind string

const (
	EventKind_Connected      EventKind = "connected"
	EventKind_Disconnected   EventKind = "disconnected"
	EventKind_Reconnecting   EventKind = "reconnecting"
	EventKind_BookUpdate     EventKind = "book_update"
	EventKind_Trade          EventKind = "trade"
	EventKind_UserUpdate     EventKind = "user_update"
	EventKind_PriceUpdate    EventKind = "price_update"
	EventKind_MarketEvent    EventKind = "market_event"
	EventKind_Error          EventKind = "error"
	EventKind_ResyncRequired EventKind = "resync_required"
	EventKind_Pong           EventKind = "pong"
)

// Event is the notification handed back to the caller after a frame or a
// connection lifecycle change. Only the fields relevant to Kind are set.
type Event struct {
	Kind         EventKind         `json:"kind"`
	OrderbookID  string            `json:"orderbook_id,omitempty"`
	IsSnapshot   bool              `json:"is_snapshot,omitempty"`
	Trade        *domain.Trade     `json:"trade,omitempty"`
	EventType    string            `json:"event_type,omitempty"`
	Account      string            `json:"account,omitempty"`
	Resolution   domain.Resolution `json:"resolution,omitempty"`
	MarketPubkey string            `json:"market_pubkey,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Attempt      int               `json:"attempt,omitempty"`
	Err          error             `json:"-"`
}

func ConnectedEvent() Event {
	return Event{Kind: EventKind_Connected}
}

func DisconnectedEvent(reason string) Event {
	return Event{Kind: EventKind_Disconnected, Reason: reason}
}

func ReconnectingEvent(attempt int) Event {
	return Event{Kind: EventKind_Reconnecting, Attempt: attempt}
}

func BookUpdateEvent(orderbookID string, isSnapshot bool) Event {
	return Event{Kind: EventKind_BookUpdate, OrderbookID: orderbookID, IsSnapshot: isSnapshot}
}

func TradeEvent(trade domain.Trade) Event {
	return Event{Kind: EventKind_Trade, OrderbookID: trade.OrderbookID, Trade: &trade}
}

func UserUpdateEvent(eventType, account string) Event {
	return Event{Kind: EventKind_UserUpdate, EventType: eventType, Account: account}
}

func PriceUpdateEvent(orderbookID string, resolution domain.Resolution) Event {
	return Event{Kind: EventKind_PriceUpdate, OrderbookID: orderbookID, Resolution: resolution}
}

func MarketEventEvent(eventType domain.MarketEventType, marketPubkey, orderbookID string) Event {
	return Event{Kind: EventKind_MarketEvent, EventType: string(eventType), MarketPubkey: marketPubkey, OrderbookID: orderbookID}
}

func ErrorEvent(err error) Event {
	return Event{Kind: EventKind_Error, Err: err}
}

func ResyncRequiredEvent(orderbookID string) Event {
	return Event{Kind: EventKind_ResyncRequired, OrderbookID: orderbookID}
}

func PongEvent() Event {
	return Event{Kind: EventKind_Pong}
}

// MarshalJSON flattens Err into its message so events can leave the process.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(e)}

	if e.Err != nil {
		out.Error = e.Err.Error()
	}

	return json.Marshal(out)
}
