package promclient

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "promclient")

// Metrics of one sync session. A nil *Metrics records nothing.
type Metrics struct {
	Events         *prometheus.CounterVec
	Resyncs        prometheus.Counter
	ParseErrors    prometheus.Counter
	Reconnects     prometheus.Counter
	OpenOrderBooks prometheus.Gauge
	Connected      prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketstream_events_total",
				Help: "events emitted by the sync session, by kind",
			},
			[]string{"kind"},
		),
		Resyncs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketstream_resyncs_total",
				Help: "orderbook replicas dropped after a sequence gap or a resync request",
			},
		),
		ParseErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketstream_parse_errors_total",
				Help: "inbound frames that could not be decoded",
			},
		),
		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketstream_reconnects_total",
				Help: "lost stream connections",
			},
		),
		OpenOrderBooks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketstream_open_order_book",
				Help: "open orderbook replicas",
			},
		),
		Connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketstream_connected",
				Help: "1 while the stream connection is up",
			},
		),
	}

	reg.MustRegister(m.Events, m.Resyncs, m.ParseErrors, m.Reconnects, m.OpenOrderBooks, m.Connected)
	return m
}

func (m *Metrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncResyncs() {
	if m == nil {
		return
	}
	m.Resyncs.Inc()
}

func (m *Metrics) IncParseErrors() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

func (m *Metrics) IncReconnects() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) SetOpenOrderBooks(n int) {
	if m == nil {
		return
	}
	m.OpenOrderBooks.Set(float64(n))
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

// StartPromClientServer serves reg on addr/metrics in the background.
func StartPromClientServer(addr string, reg *prometheus.Registry) *http.Server {
	reg.MustRegister(collectors.NewGoCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Infof("prometheus server listening at %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("failed to serve: %v", err)
		}
	}()

	return srv
}
