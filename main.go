package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-marketstream-sync/config"
	"github.com/spooky-finn/go-marketstream-sync/domain"
	natspub "github.com/spooky-finn/go-marketstream-sync/infrastructure/nats"
	promclient "github.com/spooky-finn/go-marketstream-sync/infrastructure/prometheus"
	"github.com/spooky-finn/go-marketstream-sync/rpc"
	"github.com/spooky-finn/go-marketstream-sync/stream"
	"github.com/spooky-finn/go-marketstream-sync/usecase"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	cfg.ConfigureLogger()

	var metrics *promclient.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = promclient.NewMetrics(reg)
		srv := promclient.StartPromClientServer(cfg.Metrics.Addr, reg)
		defer srv.Close()
	}

	var sinks []usecase.EventSink

	if cfg.Nats.URL != "" {
		publisher, err := natspub.NewPublisher(natspub.Options{
			URL:           cfg.Nats.URL,
			SubjectPrefix: cfg.Nats.SubjectPrefix,
		})
		if err != nil {
			logrus.Fatalf("failed to connect to nats: %v", err)
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	if cfg.RPC.Enabled {
		healthServer := rpc.NewServer()
		go func() {
			if err := healthServer.Serve(cfg.RPC.Addr); err != nil {
				logrus.Fatalf("failed to serve grpc: %v", err)
			}
		}()
		defer healthServer.Stop()
		sinks = append(sinks, healthServer)
	}

	session := usecase.NewSyncSession(usecase.SessionOptions{
		Router: stream.RouterOptions{
			MaxLevelsPerSide: cfg.Engine.MaxLevelsPerSide,
			MaxCandles:       cfg.Engine.MaxCandles,
		},
		TradeTapeSize: cfg.Engine.TradeTapeSize,
		EventBuffer:   cfg.Engine.EventBuffer,
		PingInterval:  cfg.Stream.PingInterval,
		PongTimeout:   cfg.Stream.PongTimeout,
	}, metrics, sinks...)

	client := stream.NewStreamClient(cfg.Stream.URL, stream.ClientOptions{
		HandshakeTimeout:     cfg.Stream.HandshakeTimeout,
		ReconnectMin:         cfg.Stream.ReconnectMin,
		ReconnectMax:         cfg.Stream.ReconnectMax,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
	}, session)
	session.SetSender(client)

	if err := subscribeFromConfig(context.Background(), session, cfg.Subscriptions); err != nil {
		logrus.Fatalf("failed to register subscriptions: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.Start(ctx)
	client.Connect(ctx)

	logrus.Infof("syncing from %s", cfg.Stream.URL)

	for running := true; running; {
		select {
		case ev := <-session.Events():
			logEvent(ev)
			if ev.Kind == stream.EventKind_Disconnected && session.Stopped() {
				logrus.Error("stream stopped for good")
				running = false
			}
		case <-ctx.Done():
			running = false
		}
	}

	logrus.Info("shutting down")
	client.Close()
	session.Close()
}

func subscribeFromConfig(ctx context.Context, session *usecase.SyncSession, subs config.SubscriptionsConfig) error {
	if len(subs.BookUpdates) > 0 {
		if err := session.SubscribeBookUpdates(subs.BookUpdates...); err != nil {
			return err
		}
	}
	if len(subs.Trades) > 0 {
		if err := session.SubscribeTrades(subs.Trades...); err != nil {
			return err
		}
	}
	if subs.User != "" {
		if err := session.SubscribeUser(ctx, subs.User); err != nil {
			return err
		}
	}
	for _, ph := range subs.PriceHistory {
		resolution, err := domain.ParseResolution(ph.Resolution)
		if err != nil {
			return err
		}
		if err := session.SubscribePriceHistory(ph.OrderbookID, resolution, ph.IncludeDetail); err != nil {
			return err
		}
	}
	for _, market := range subs.Markets {
		if err := session.SubscribeMarket(market); err != nil {
			return err
		}
	}
	return nil
}

func logEvent(ev stream.Event) {
	entry := logrus.WithField("kind", ev.Kind)
	if ev.OrderbookID != "" {
		entry = entry.WithField("orderbook_id", ev.OrderbookID)
	}

	switch ev.Kind {
	case stream.EventKind_Error:
		entry.WithError(ev.Err).Warn("stream error")
	case stream.EventKind_Disconnected:
		entry.WithField("reason", ev.Reason).Warn("disconnected")
	case stream.EventKind_Reconnecting:
		entry.WithField("attempt", ev.Attempt).Info("reconnecting")
	case stream.EventKind_ResyncRequired:
		entry.Warn("orderbook resync required")
	default:
		entry.Debug("event")
	}
}
