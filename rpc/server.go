package rpc

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-marketstream-sync/stream"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

var logger = logrus.WithField("component", "rpc")

// OrderbookService is the health service name reported for one orderbook replica.
func OrderbookService(orderbookID string) string {
	return "orderbook/" + orderbookID
}

// Server exposes the sync state over the standard gRPC health protocol. The
// overall status ("") follows the stream connection; each orderbook is SERVING
// once its snapshot has been applied.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server

	mu         sync.Mutex
	orderbooks map[string]struct{}
}

func NewServer() *Server {
	s := &Server{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		orderbooks: make(map[string]struct{}),
	}

	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return s
}

func (s *Server) Health() healthpb.HealthServer {
	return s.health
}

// Serve blocks until Stop is called.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	logger.Infof("grpc health server listening on %s", lis.Addr())
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// Publish updates serving statuses from session events.
func (s *Server) Publish(event stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Kind {
	case stream.EventKind_Connected:
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	case stream.EventKind_Disconnected:
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		for id := range s.orderbooks {
			s.health.SetServingStatus(OrderbookService(id), healthpb.HealthCheckResponse_NOT_SERVING)
		}
	case stream.EventKind_BookUpdate:
		if event.IsSnapshot {
			s.orderbooks[event.OrderbookID] = struct{}{}
			s.health.SetServingStatus(OrderbookService(event.OrderbookID), healthpb.HealthCheckResponse_SERVING)
		}
	case stream.EventKind_ResyncRequired:
		s.orderbooks[event.OrderbookID] = struct{}{}
		s.health.SetServingStatus(OrderbookService(event.OrderbookID), healthpb.HealthCheckResponse_NOT_SERVING)
	}

	return nil
}
