package stream

import (
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-marketstream-sync/domain"
	"github.com/spooky-finn/go-marketstream-sync/helpers"
)

var logger = logrus.WithField("component", "stream")

// UnknownAccount names user events that arrive while no account is subscribed.
const UnknownAccount = "unknown"

type MessageType string

const (
	MessageType_BookUpdate   MessageType = "book_update"
	MessageType_Trades       MessageType = "trades"
	MessageType_User         MessageType = "user"
	MessageType_PriceHistory MessageType = "price_history"
	MessageType_Market       MessageType = "market"
	MessageType_Error        MessageType = "error"
	MessageType_Pong         MessageType = "pong"
)

type envelope struct {
	Type    MessageType     `json:"type"`
	Version float64         `json:"version"`
	Data    json.RawMessage `json:"data"`
}

type RouterOptions struct {
	MaxLevelsPerSide int
	MaxCandles       int
}

// Router classifies inbound frames and applies them to the replica they target.
// It owns every replica and is not safe for concurrent use: frames must be
// handled one at a time in delivery order.
type Router struct {
	orderbooks *domain.ReplicaStorage[string, *domain.OrderBook]
	accounts   *domain.ReplicaStorage[string, *domain.AccountState]
	candles    *domain.ReplicaStorage[domain.CandleKey, *domain.CandleHistory]

	// the single account private events are routed to
	subscribedAccount string
	maxCandles        int
}

func NewRouter(opts RouterOptions) *Router {
	return &Router{
		orderbooks: domain.NewReplicaStorage(func(id string) *domain.OrderBook {
			return domain.NewOrderBook(id, opts.MaxLevelsPerSide)
		}),
		accounts: domain.NewReplicaStorage(domain.NewAccountState),
		candles: domain.NewReplicaStorage(func(key domain.CandleKey) *domain.CandleHistory {
			return domain.NewCandleHistory(key, false, opts.MaxCandles)
		}),
		maxCandles: opts.MaxCandles,
	}
}

// Handle applies one frame and returns the events it produced. It never fails:
// undecodable frames come back as a single error event and mutate nothing.
func (r *Router) Handle(frame []byte) []Event {
	var msg envelope
	if err := json.Unmarshal(frame, &msg); err != nil {
		logger.WithError(err).Warn("failed to parse frame")
		return []Event{ErrorEvent(domain.MalformedMessage(err))}
	}

	switch msg.Type {
	case MessageType_BookUpdate:
		return r.handleBookUpdate(msg.Data)
	case MessageType_Trades:
		return r.handleTrade(msg.Data)
	case MessageType_User:
		return r.handleUserEvent(msg.Data)
	case MessageType_PriceHistory:
		return r.handlePriceHistory(msg.Data)
	case MessageType_Market:
		return r.handleMarketEvent(msg.Data)
	case MessageType_Error:
		return r.handleError(msg.Data)
	case MessageType_Pong:
		return []Event{PongEvent()}
	default:
		logger.WithField("type", msg.Type).Warn("unknown message type")
		return nil
	}
}

func decodeData[T any](msgType MessageType, data json.RawMessage) (*T, error) {
	var payload T
	if len(data) == 0 || string(data) == "null" {
		return nil, domain.MalformedMessage(errors.New(string(msgType) + ": missing data"))
	}

	if err := json.Unmarshal(data, &payload); err != nil {
		logger.WithError(err).WithField("type", msgType).Warn("failed to parse payload")
		return nil, domain.MalformedMessage(err)
	}

	return &payload, nil
}

func (r *Router) handleBookUpdate(data json.RawMessage) []Event {
	update, err := decodeData[domain.BookUpdate](MessageType_BookUpdate, data)
	if err != nil {
		return []Event{ErrorEvent(err)}
	}

	if update.OrderbookID == "" {
		logger.Warn("book update without orderbook_id")
		return nil
	}

	book := r.orderbooks.GetOrCreate(update.OrderbookID)

	err = book.ApplyUpdate(update)
	switch {
	case err == nil:
		return []Event{BookUpdateEvent(update.OrderbookID, update.IsSnapshot)}
	case domain.IsResyncRequired(err):
		logger.WithError(err).WithField("orderbook_id", update.OrderbookID).Warn("orderbook resync required")
		book.Invalidate()
		return []Event{ResyncRequiredEvent(update.OrderbookID)}
	case errors.Is(err, domain.ErrInvalidSequence):
		logger.WithError(err).WithField("orderbook_id", update.OrderbookID).Warn("ignoring book update")
		return nil
	default:
		return []Event{ErrorEvent(err)}
	}
}

func (r *Router) handleTrade(data json.RawMessage) []Event {
	trade, err := decodeData[domain.Trade](MessageType_Trades, data)
	if err != nil {
		return []Event{ErrorEvent(err)}
	}

	return []Event{TradeEvent(*trade)}
}

func (r *Router) handleUserEvent(data json.RawMessage) []Event {
	event, err := decodeData[domain.UserEvent](MessageType_User, data)
	if err != nil {
		return []Event{ErrorEvent(err)}
	}

	account := helpers.FirstNonEmpty(r.subscribedAccount, UnknownAccount)

	if state, ok := r.accounts.Lookup(account); ok {
		state.ApplyEvent(event)
	}

	return []Event{UserUpdateEvent(event.EventType, account)}
}

func (r *Router) handlePriceHistory(data json.RawMessage) []Event {
	event, err := decodeData[domain.PriceHistoryEvent](MessageType_PriceHistory, data)
	if err != nil {
		return []Event{ErrorEvent(err)}
	}

	// heartbeats carry no orderbook and refresh every history
	if event.EventType == domain.PriceEvent_Heartbeat {
		r.candles.Each(func(_ domain.CandleKey, h *domain.CandleHistory) {
			h.ApplyHeartbeat(event)
		})
		return nil
	}

	if event.OrderbookID == "" {
		logger.Warn("price history message without orderbook_id")
		return nil
	}

	resolution := domain.Resolution(helpers.FirstNonEmpty(event.Resolution, string(domain.DefaultResolution)))

	key := domain.CandleKey{OrderbookID: event.OrderbookID, Resolution: resolution}
	if history, ok := r.candles.Lookup(key); ok {
		history.ApplyEvent(event)
	} else if event.EventType == domain.PriceEvent_Snapshot {
		includeDetail := event.IncludeOHLCV != nil && *event.IncludeOHLCV
		history := domain.NewCandleHistory(key, includeDetail, r.maxCandles)
		history.ApplyEvent(event)
		r.candles.Add(key, history)
	}

	return []Event{PriceUpdateEvent(event.OrderbookID, resolution)}
}

func (r *Router) handleMarketEvent(data json.RawMessage) []Event {
	event, err := decodeData[domain.MarketEvent](MessageType_Market, data)
	if err != nil {
		return []Event{ErrorEvent(err)}
	}

	return []Event{MarketEventEvent(domain.ParseMarketEventType(event.EventType), event.MarketPubkey, event.OrderbookID)}
}

func (r *Router) handleError(data json.RawMessage) []Event {
	msg, err := decodeData[domain.ErrorMessage](MessageType_Error, data)
	if err != nil {
		return []Event{ErrorEvent(err)}
	}

	logger.WithFields(logrus.Fields{
		"code":         msg.Code,
		"orderbook_id": msg.OrderbookID,
	}).Errorf("server error: %s", msg.Error)

	return []Event{ErrorEvent(domain.NewServerError(msg.Code, msg.Error, msg.OrderbookID))}
}

func (r *Router) InitOrderbook(orderbookID string) {
	r.orderbooks.GetOrCreate(orderbookID)
}

// InitUserState makes account the target of every subsequent user event.
func (r *Router) InitUserState(account string) {
	r.subscribedAccount = account
	r.accounts.GetOrCreate(account)
}

func (r *Router) ClearSubscribedUser(account string) {
	if r.subscribedAccount == account {
		r.subscribedAccount = ""
	}
}

func (r *Router) SubscribedAccount() string {
	return r.subscribedAccount
}

func (r *Router) InitPriceHistory(orderbookID string, resolution domain.Resolution, includeDetail bool) {
	key := domain.CandleKey{OrderbookID: orderbookID, Resolution: resolution}
	if !r.candles.Has(key) {
		r.candles.Add(key, domain.NewCandleHistory(key, includeDetail, r.maxCandles))
	}
}

func (r *Router) Orderbook(orderbookID string) (*domain.OrderBook, bool) {
	return r.orderbooks.Lookup(orderbookID)
}

func (r *Router) UserState(account string) (*domain.AccountState, bool) {
	return r.accounts.Lookup(account)
}

func (r *Router) PriceHistory(orderbookID string, resolution domain.Resolution) (*domain.CandleHistory, bool) {
	return r.candles.Lookup(domain.CandleKey{OrderbookID: orderbookID, Resolution: resolution})
}

// OrderbookIDs lists the open orderbook replicas in sorted order.
func (r *Router) OrderbookIDs() []string {
	return r.orderbooks.Keys(func(a, b string) bool { return a < b })
}

func (r *Router) PriceHistoryKeys() []domain.CandleKey {
	return r.candles.Keys(domain.CandleKeyLess)
}

func (r *Router) ClearOrderbook(orderbookID string) {
	if book, ok := r.orderbooks.Lookup(orderbookID); ok {
		book.Clear()
	}
}

func (r *Router) ClearUserState(account string) {
	if state, ok := r.accounts.Lookup(account); ok {
		state.Clear()
	}
}

func (r *Router) ClearPriceHistory(orderbookID string, resolution domain.Resolution) {
	if history, ok := r.PriceHistory(orderbookID, resolution); ok {
		history.Clear()
	}
}

// RemoveOrderbook drops the replica entirely, used on unsubscribe.
func (r *Router) RemoveOrderbook(orderbookID string) {
	r.orderbooks.Delete(orderbookID)
}

func (r *Router) RemoveUserState(account string) {
	r.accounts.Delete(account)
}

func (r *Router) RemovePriceHistory(orderbookID string, resolution domain.Resolution) {
	r.candles.Delete(domain.CandleKey{OrderbookID: orderbookID, Resolution: resolution})
}

// ClearAll tears down every replica. The subscribed account survives so a
// reconnect can route private events again.
func (r *Router) ClearAll() {
	r.orderbooks.Clear()
	r.accounts.Clear()
	r.candles.Clear()
}
