package domain

import "sort"

const DefaultMaxCandles = 1000

type CandleKey struct {
	OrderbookID string
	Resolution  Resolution
}

func (k CandleKey) String() string {
	return k.OrderbookID + ":" + string(k.Resolution)
}

func CandleKeyLess(a, b CandleKey) bool {
	if a.OrderbookID != b.OrderbookID {
		return a.OrderbookID < b.OrderbookID
	}
	return a.Resolution < b.Resolution
}

// CandleHistory keeps a bounded window of candles for one (orderbook, resolution),
// newest first, with an index from candle time to list position.
type CandleHistory struct {
	Key           CandleKey
	IncludeDetail bool

	candles     []Candle
	index       map[int64]int
	maxCandles  int
	hasSnapshot bool
	lastTime    int64
	serverTime  int64
}

func NewCandleHistory(key CandleKey, includeDetail bool, maxCandles int) *CandleHistory {
	if maxCandles <= 0 {
		maxCandles = DefaultMaxCandles
	}

	return &CandleHistory{
		Key:           key,
		IncludeDetail: includeDetail,
		index:         make(map[int64]int),
		maxCandles:    maxCandles,
	}
}

func (h *CandleHistory) ApplySnapshot(data *PriceHistoryEvent) {
	candles := make([]Candle, len(data.Prices))
	copy(candles, data.Prices)

	sort.SliceStable(candles, func(i, j int) bool { return candles[i].T > candles[j].T })

	h.candles = h.candles[:0]
	h.index = make(map[int64]int, len(candles))
	for _, c := range candles {
		if _, dup := h.index[c.T]; dup {
			continue
		}
		if len(h.candles) == h.maxCandles {
			break
		}
		h.index[c.T] = len(h.candles)
		h.candles = append(h.candles, c)
	}

	h.lastTime = 0
	if data.LastTimestamp != nil {
		h.lastTime = *data.LastTimestamp
	} else if len(h.candles) > 0 {
		h.lastTime = h.candles[0].T
	}
	if data.ServerTime != nil {
		h.serverTime = *data.ServerTime
	}
	if data.IncludeOHLCV != nil {
		h.IncludeDetail = *data.IncludeOHLCV
	}

	h.hasSnapshot = true
}

func (h *CandleHistory) ApplyUpdate(data *PriceHistoryEvent) {
	candle, ok := data.Candle()
	if !ok {
		logger.WithField("candles", h.Key.String()).Warn("price history update without candle time, ignored")
		return
	}

	h.merge(candle)
}

func (h *CandleHistory) merge(candle Candle) {
	if pos, ok := h.index[candle.T]; ok {
		h.candles[pos] = candle
		return
	}

	// first position whose time is older than the new candle
	pos := sort.Search(len(h.candles), func(i int) bool { return h.candles[i].T < candle.T })
	if pos == h.maxCandles {
		// older than everything in a full window
		return
	}

	for t, i := range h.index {
		if i >= pos {
			h.index[t] = i + 1
		}
	}

	h.candles = append(h.candles, Candle{})
	copy(h.candles[pos+1:], h.candles[pos:])
	h.candles[pos] = candle
	h.index[candle.T] = pos

	if len(h.candles) > h.maxCandles {
		evicted := h.candles[len(h.candles)-1]
		delete(h.index, evicted.T)
		h.candles = h.candles[:len(h.candles)-1]
	}

	if candle.T > h.lastTime {
		h.lastTime = candle.T
	}
}

func (h *CandleHistory) ApplyHeartbeat(data *PriceHistoryEvent) {
	if data.ServerTime != nil {
		h.serverTime = *data.ServerTime
	}
}

func (h *CandleHistory) ApplyEvent(data *PriceHistoryEvent) {
	switch data.EventType {
	case PriceEvent_Snapshot:
		h.ApplySnapshot(data)
	case PriceEvent_Update:
		h.ApplyUpdate(data)
	case PriceEvent_Heartbeat:
		h.ApplyHeartbeat(data)
	default:
		logger.WithField("candles", h.Key.String()).Warnf("unknown price history event type %q", data.EventType)
	}
}

// Candles newest first.
func (h *CandleHistory) Candles() []Candle {
	result := make([]Candle, len(h.candles))
	copy(result, h.candles)
	return result
}

func (h *CandleHistory) Recent(n int) []Candle {
	if n > len(h.candles) {
		n = len(h.candles)
	}
	if n <= 0 {
		return []Candle{}
	}

	result := make([]Candle, n)
	copy(result, h.candles[:n])
	return result
}

func (h *CandleHistory) Get(t int64) (Candle, bool) {
	pos, ok := h.index[t]
	if !ok {
		return Candle{}, false
	}
	return h.candles[pos], true
}

func (h *CandleHistory) Latest() (Candle, bool) {
	if len(h.candles) == 0 {
		return Candle{}, false
	}
	return h.candles[0], true
}

func (h *CandleHistory) Oldest() (Candle, bool) {
	if len(h.candles) == 0 {
		return Candle{}, false
	}
	return h.candles[len(h.candles)-1], true
}

func (h *CandleHistory) CurrentMidpoint() (string, bool) {
	return h.latestField(func(c Candle) string { return c.M })
}

func (h *CandleHistory) BestBid() (string, bool) {
	return h.latestField(func(c Candle) string { return c.BB })
}

func (h *CandleHistory) BestAsk() (string, bool) {
	return h.latestField(func(c Candle) string { return c.BA })
}

func (h *CandleHistory) latestField(field func(Candle) string) (string, bool) {
	c, ok := h.Latest()
	if !ok {
		return "", false
	}

	v := field(c)
	return v, v != ""
}

func (h *CandleHistory) Count() int {
	return len(h.candles)
}

func (h *CandleHistory) HasSnapshot() bool {
	return h.hasSnapshot
}

func (h *CandleHistory) LastTimestamp() int64 {
	return h.lastTime
}

func (h *CandleHistory) ServerTime() int64 {
	return h.serverTime
}

func (h *CandleHistory) Clear() {
	h.candles = nil
	h.index = make(map[int64]int)
	h.hasSnapshot = false
	h.lastTime = 0
	h.serverTime = 0
}
