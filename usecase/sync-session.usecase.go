package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-marketstream-sync/domain"
	promclient "github.com/spooky-finn/go-marketstream-sync/infrastructure/prometheus"
	"github.com/spooky-finn/go-marketstream-sync/stream"
)

var logger = logrus.WithField("component", "sync-session")

// Sender delivers outbound requests over the stream connection.
type Sender interface {
	Send(req stream.Request) error
	Reconnect()
}

// Authenticator proves control of an account before its private subscription is sent.
type Authenticator interface {
	Authenticate(ctx context.Context, account string) error
}

// EventSink receives every event the session emits, in order.
type EventSink interface {
	Publish(event stream.Event) error
}

type SessionOptions struct {
	Router        stream.RouterOptions
	TradeTapeSize int
	EventBuffer   int
	PingInterval  time.Duration
	PongTimeout   time.Duration
}

type itemKind int

const (
	itemFrame itemKind = iota
	itemConnected
	itemDisconnected
	itemReconnecting
)

type queueItem struct {
	kind    itemKind
	frame   []byte
	err     error
	attempt int
}

// SyncSession ties the transport to the router. Frames and connection changes
// are queued and applied one at a time by a single goroutine; subscription
// calls and reads are serialized with that processing by mu.
type SyncSession struct {
	opts     SessionOptions
	router   *stream.Router
	registry *domain.SubscriptionRegistry
	tapes    *domain.ReplicaStorage[string, *domain.TradeTape]
	sender   Sender
	auth     Authenticator
	sinks    []EventSink
	metrics  *promclient.Metrics
	now      func() time.Time

	mu        sync.Mutex
	connected bool
	stopped   bool
	lastPong  time.Time

	queueMu sync.Mutex
	queue   deque.Deque[queueItem]
	wake    chan struct{}

	events    chan stream.Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSyncSession(opts SessionOptions, metrics *promclient.Metrics, sinks ...EventSink) *SyncSession {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 1024
	}

	return &SyncSession{
		opts:     opts,
		router:   stream.NewRouter(opts.Router),
		registry: domain.NewSubscriptionRegistry(),
		tapes: domain.NewReplicaStorage(func(id string) *domain.TradeTape {
			return domain.NewTradeTape(id, opts.TradeTapeSize)
		}),
		sinks:   sinks,
		metrics: metrics,
		now:     time.Now,

		queue:  deque.Deque[queueItem]{},
		wake:   make(chan struct{}, 1),
		events: make(chan stream.Event, opts.EventBuffer),
		done:   make(chan struct{}),
	}
}

// SetSender must be called before Start; the transport usually needs the
// session as its handler, so it cannot be passed to the constructor.
func (s *SyncSession) SetSender(sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

func (s *SyncSession) SetAuthenticator(auth Authenticator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = auth
}

// Events must be drained by the caller; processing blocks when the buffer is full.
func (s *SyncSession) Events() <-chan stream.Event {
	return s.events
}

func (s *SyncSession) OnFrame(frame []byte) {
	s.enqueue(queueItem{kind: itemFrame, frame: frame})
}

func (s *SyncSession) OnConnected() {
	s.enqueue(queueItem{kind: itemConnected})
}

func (s *SyncSession) OnDisconnected(err error) {
	s.enqueue(queueItem{kind: itemDisconnected, err: err})
}

func (s *SyncSession) OnReconnecting(attempt int) {
	s.enqueue(queueItem{kind: itemReconnecting, attempt: attempt})
}

func (s *SyncSession) enqueue(item queueItem) {
	s.queueMu.Lock()
	s.queue.PushBack(item)
	s.queueMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *SyncSession) pop() (queueItem, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if s.queue.Len() == 0 {
		return queueItem{}, false
	}
	return s.queue.PopFront(), true
}

// Start runs the processing and ping loops until ctx is done or Close is called.
func (s *SyncSession) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.queueReader(ctx)
	go s.pingLoop(ctx)
}

func (s *SyncSession) queueReader(ctx context.Context) {
	defer s.wg.Done()

	for {
		item, ok := s.pop()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}

		var events []stream.Event
		switch item.kind {
		case itemFrame:
			events = s.HandleFrame(item.frame)
		case itemConnected:
			events = s.HandleConnected()
		case itemDisconnected:
			events = s.HandleDisconnected(item.err)
		case itemReconnecting:
			events = s.HandleReconnecting(item.attempt)
		}

		if !s.dispatch(ctx, events) {
			return
		}
	}
}

func (s *SyncSession) dispatch(ctx context.Context, events []stream.Event) bool {
	for _, ev := range events {
		for _, sink := range s.sinks {
			if err := sink.Publish(ev); err != nil {
				logger.WithError(err).WithField("kind", ev.Kind).Warn("event sink failed")
			}
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return false
		case <-s.done:
			return false
		}
	}

	return true
}

// HandleFrame applies one inbound frame and returns the events it produced.
func (s *SyncSession) HandleFrame(frame []byte) []stream.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.dropUnsubscribedBooks(s.router.Handle(frame))
	for _, ev := range events {
		s.metrics.ObserveEvent(string(ev.Kind))

		switch ev.Kind {
		case stream.EventKind_Trade:
			s.tapes.GetOrCreate(ev.OrderbookID).Add(*ev.Trade)
		case stream.EventKind_Pong:
			s.lastPong = s.now()
		case stream.EventKind_ResyncRequired:
			s.metrics.IncResyncs()
			s.requestSnapshot(ev.OrderbookID)
		case stream.EventKind_Error:
			if errors.Is(ev.Err, domain.ErrMalformedMessage) {
				s.metrics.IncParseErrors()
			}
		}
	}

	s.metrics.SetOpenOrderBooks(len(s.router.OrderbookIDs()))
	return events
}

// dropUnsubscribedBooks discards book events for orderbooks that are no longer
// subscribed, along with the replica a late frame re-created.
func (s *SyncSession) dropUnsubscribedBooks(events []stream.Event) []stream.Event {
	kept := events[:0]
	for _, ev := range events {
		isBook := ev.Kind == stream.EventKind_BookUpdate || ev.Kind == stream.EventKind_ResyncRequired
		if isBook && !s.registry.IsSubscribedBookUpdate(ev.OrderbookID) {
			logger.WithField("orderbook_id", ev.OrderbookID).Debug("dropping book update for unsubscribed orderbook")
			s.router.RemoveOrderbook(ev.OrderbookID)
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

// requestSnapshot re-subscribes a desynced orderbook; the server answers with a snapshot.
func (s *SyncSession) requestSnapshot(orderbookID string) {
	if !s.connected || !s.registry.IsSubscribedBookUpdate(orderbookID) {
		return
	}

	err := s.send(stream.NewSubscribeRequest(domain.Subscription{
		Kind: domain.SubscriptionKind_BookUpdate, OrderbookIDs: []string{orderbookID},
	}))
	if err != nil {
		logger.WithError(err).WithField("orderbook_id", orderbookID).Warn("failed to request a fresh snapshot")
	}
}

// HandleConnected rebuilds from scratch: every replica is dropped, the ones the
// registry asks for are re-created empty and the registry is replayed as
// subscribe requests so each of them is rebuilt from a fresh snapshot.
func (s *SyncSession) HandleConnected() []stream.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = true
	s.lastPong = s.now()

	s.resetReplicas()
	s.initFromRegistry()

	if s.sender != nil {
		for _, req := range stream.ResubscribeRequests(s.registry) {
			if err := s.sender.Send(req); err != nil {
				logger.WithError(err).WithField("params", req.Params).Warn("failed to resubscribe")
			}
		}
	}

	s.metrics.SetConnected(true)
	s.metrics.ObserveEvent(string(stream.EventKind_Connected))
	logger.WithField("subscriptions", s.registry.Count()).Info("stream connected")

	return []stream.Event{stream.ConnectedEvent()}
}

// HandleDisconnected tears every replica down; nothing survives into the next
// connection. A rate limit or an exhausted reconnect budget ends the session.
func (s *SyncSession) HandleDisconnected(err error) []stream.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	s.resetReplicas()
	s.metrics.SetConnected(false)

	events := make([]stream.Event, 0, 2)
	if isTerminal(err) {
		s.stopped = true
		logger.WithError(err).Error("stream stopped")
		events = append(events, stream.ErrorEvent(err))
	}
	events = append(events, stream.DisconnectedEvent(stream.DisconnectReason(err)))

	for _, ev := range events {
		s.metrics.ObserveEvent(string(ev.Kind))
	}

	return events
}

func isTerminal(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrReconnectLimit)
}

func (s *SyncSession) HandleReconnecting(attempt int) []stream.Event {
	s.metrics.IncReconnects()
	s.metrics.ObserveEvent(string(stream.EventKind_Reconnecting))

	return []stream.Event{stream.ReconnectingEvent(attempt)}
}

func (s *SyncSession) resetReplicas() {
	s.router.ClearAll()
	s.tapes.Clear()
	s.metrics.SetOpenOrderBooks(0)
}

func (s *SyncSession) initFromRegistry() {
	for _, id := range s.registry.BookUpdateOrderbooks() {
		s.router.InitOrderbook(id)
	}
	for _, id := range s.registry.TradeOrderbooks() {
		s.tapes.GetOrCreate(id)
	}
	for _, account := range s.registry.Users() {
		s.router.InitUserState(account)
	}
	for _, ph := range s.registry.PriceHistories() {
		s.router.InitPriceHistory(ph.OrderbookID, ph.Resolution, ph.IncludeDetail)
	}

	s.metrics.SetOpenOrderBooks(len(s.router.OrderbookIDs()))
}

// CheckLiveness sends a ping, or forces a reconnect when no pong arrived within
// the ping interval plus the pong timeout.
func (s *SyncSession) CheckLiveness() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.stopped || s.sender == nil {
		return
	}

	deadline := s.opts.PingInterval + s.opts.PongTimeout
	if silence := s.now().Sub(s.lastPong); silence > deadline {
		logger.WithField("silence", silence).Warn("pong timeout, reconnecting")
		// the transport reports the drop and the usual teardown follows
		s.lastPong = s.now()
		s.sender.Reconnect()
		return
	}

	if err := s.sender.Send(stream.NewPingRequest()); err != nil {
		logger.WithError(err).Debug("failed to send ping")
	}
}

func (s *SyncSession) pingLoop(ctx context.Context) {
	defer s.wg.Done()

	if s.opts.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CheckLiveness()
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

func (s *SyncSession) send(req stream.Request) error {
	if s.sender == nil {
		return nil
	}

	err := s.sender.Send(req)
	if errors.Is(err, domain.ErrNotConnected) {
		// replayed from the registry once connected
		logger.WithField("method", req.Method).Debug("not connected, request deferred")
		return nil
	}

	return err
}

func (s *SyncSession) SubscribeBookUpdates(orderbookIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.AddBookUpdate(orderbookIDs...)
	for _, id := range orderbookIDs {
		s.router.InitOrderbook(id)
	}
	s.metrics.SetOpenOrderBooks(len(s.router.OrderbookIDs()))

	return s.send(stream.NewSubscribeRequest(domain.Subscription{
		Kind: domain.SubscriptionKind_BookUpdate, OrderbookIDs: orderbookIDs,
	}))
}

func (s *SyncSession) UnsubscribeBookUpdates(orderbookIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.RemoveBookUpdate(orderbookIDs...)
	for _, id := range orderbookIDs {
		s.router.RemoveOrderbook(id)
	}
	s.metrics.SetOpenOrderBooks(len(s.router.OrderbookIDs()))

	return s.send(stream.NewUnsubscribeRequest(domain.Subscription{
		Kind: domain.SubscriptionKind_BookUpdate, OrderbookIDs: orderbookIDs,
	}))
}

func (s *SyncSession) SubscribeTrades(orderbookIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.AddTrades(orderbookIDs...)
	for _, id := range orderbookIDs {
		s.tapes.GetOrCreate(id)
	}

	return s.send(stream.NewSubscribeRequest(domain.Subscription{
		Kind: domain.SubscriptionKind_Trades, OrderbookIDs: orderbookIDs,
	}))
}

func (s *SyncSession) UnsubscribeTrades(orderbookIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.RemoveTrades(orderbookIDs...)
	for _, id := range orderbookIDs {
		s.tapes.Delete(id)
	}

	return s.send(stream.NewUnsubscribeRequest(domain.Subscription{
		Kind: domain.SubscriptionKind_Trades, OrderbookIDs: orderbookIDs,
	}))
}

// SubscribeUser authenticates first when an Authenticator is set. A failed
// authentication leaves the registry untouched and is also emitted as an error event.
func (s *SyncSession) SubscribeUser(ctx context.Context, account string) error {
	s.mu.Lock()
	auth := s.auth
	s.mu.Unlock()

	if auth != nil {
		if err := auth.Authenticate(ctx, account); err != nil {
			err = domain.AuthenticationFailed(err)
			logger.WithError(err).WithField("account", account).Error("cannot subscribe to account")
			s.metrics.ObserveEvent(string(stream.EventKind_Error))
			s.dispatch(ctx, []stream.Event{stream.ErrorEvent(err)})
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.AddUser(account)
	s.router.InitUserState(account)

	return s.send(stream.NewSubscribeRequest(domain.Subscription{
		Kind: domain.SubscriptionKind_User, User: account,
	}))
}

func (s *SyncSession) UnsubscribeUser(account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.RemoveUser(account)
	s.router.ClearSubscribedUser(account)
	s.router.RemoveUserState(account)

	return s.send(stream.NewUnsubscribeRequest(domain.Subscription{
		Kind: domain.SubscriptionKind_User, User: account,
	}))
}

func (s *SyncSession) SubscribePriceHistory(orderbookID string, resolution domain.Resolution, includeDetail bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.AddPriceHistory(orderbookID, resolution, includeDetail)
	s.router.InitPriceHistory(orderbookID, resolution, includeDetail)

	return s.send(stream.NewSubscribeRequest(domain.Subscription{
		Kind:          domain.SubscriptionKind_PriceHistory,
		OrderbookID:   orderbookID,
		Resolution:    resolution,
		IncludeDetail: includeDetail,
	}))
}

func (s *SyncSession) UnsubscribePriceHistory(orderbookID string, resolution domain.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.RemovePriceHistory(orderbookID, resolution)
	s.router.RemovePriceHistory(orderbookID, resolution)

	return s.send(stream.NewUnsubscribeRequest(domain.Subscription{
		Kind:        domain.SubscriptionKind_PriceHistory,
		OrderbookID: orderbookID,
		Resolution:  resolution,
	}))
}

func (s *SyncSession) SubscribeMarket(marketPubkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.AddMarket(marketPubkey)

	return s.send(stream.NewSubscribeRequest(domain.Subscription{
		Kind: domain.SubscriptionKind_Market, MarketPubkey: marketPubkey,
	}))
}

func (s *SyncSession) UnsubscribeMarket(marketPubkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.RemoveMarket(marketPubkey)

	return s.send(stream.NewUnsubscribeRequest(domain.Subscription{
		Kind: domain.SubscriptionKind_Market, MarketPubkey: marketPubkey,
	}))
}

// View runs fn with exclusive access to the replicas. fn must not retain them.
func (s *SyncSession) View(fn func(router *stream.Router)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.router)
}

func (s *SyncSession) RecentTrades(orderbookID string, n int) []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()

	tape, ok := s.tapes.Lookup(orderbookID)
	if !ok {
		return []domain.Trade{}
	}
	return tape.Recent(n)
}

func (s *SyncSession) Subscriptions() []domain.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Snapshot()
}

// Stopped reports whether the transport gave up for good.
func (s *SyncSession) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *SyncSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close stops the loops and drops all state and subscriptions.
func (s *SyncSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.mu.Lock()
		defer s.mu.Unlock()

		s.connected = false
		s.resetReplicas()
		s.registry.Clear()
		s.metrics.SetConnected(false)
	})
}
