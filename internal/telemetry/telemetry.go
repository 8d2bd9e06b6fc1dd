// Package telemetry exposes engine statistics over gRPC: a unary GetStats
// call and a server-streaming StreamStats call, both framed as
// structpb.Struct so no protoc-generated stubs are required.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/heapkeeper/heapkeeper/internal/panichandler"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// StatsProvider supplies the live snapshot served to clients.
type StatsProvider interface {
	Stats() map[string]interface{}
}

// Collector lets a remote caller request a blocking collection. Optional:
// a Server with no Collector rejects Collect calls with an error.
type Collector interface {
	CollectBlocked()
}

// Server owns the gRPC listener and server lifecycle. Mirrors the
// lock-guarded start/stop/running shape used elsewhere in this codebase.
type Server struct {
	mu      sync.RWMutex
	running bool

	addr      string
	provider  StatsProvider
	collector Collector
	logger    *slog.Logger

	grpcServer *grpc.Server
}

// New constructs a telemetry Server listening on addr and serving stats
// from provider. collector may be nil, in which case remote Collect
// requests are rejected.
func New(addr string, provider StatsProvider, collector Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, provider: provider, collector: collector, logger: logger}
}

// IsRunning reports whether the server is currently accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("telemetry: already running")
	}

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("telemetry: listen: %w", err)
	}

	s.grpcServer = grpc.NewServer()
	s.grpcServer.RegisterService(&serviceDesc, s)
	s.running = true
	s.mu.Unlock()

	panichandler.SafeGo("telemetry-serve", func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			s.logger.Debug("telemetry server stopped serving", "error", err)
		}
	})
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.grpcServer.GracefulStop()
	s.running = false
}

func (s *Server) statsStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(s.provider.Stats())
}

// getStats is the handler bound to the GetStats unary method.
func (s *Server) getStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.statsStruct()
}

// collect is the handler bound to the Collect unary method: it blocks
// until the requested collection completes, then returns the post-collect
// stats snapshot.
func (s *Server) collect(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.collector == nil {
		return nil, fmt.Errorf("telemetry: no collector configured")
	}
	s.collector.CollectBlocked()
	return s.statsStruct()
}

// streamStats is the handler bound to the StreamStats server-streaming
// method: it emits a fresh snapshot every interval until the client
// disconnects.
func (s *Server) streamStats(_ *structpb.Struct, stream grpc.ServerStream) error {
	const interval = time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := s.statsStruct()
		if err != nil {
			return err
		}
		if err := stream.SendMsg(st); err != nil {
			return err
		}
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.C:
		}
	}
}

func getStatsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.getStats(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/heapkeeper.telemetry.Telemetry/GetStats"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.getStats(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, req, info, handler)
}

func collectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.collect(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/heapkeeper.telemetry.Telemetry/Collect"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.collect(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, req, info, handler)
}

func streamStatsHandler(srv interface{}, stream grpc.ServerStream) error {
	s := srv.(*Server)
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return s.streamStats(req, stream)
}

// serviceDesc is hand-registered in place of a protoc-generated
// _grpc.pb.go: the wire types are structpb.Struct, encoded with the
// standard proto codec via grpc's default marshaler, so no .proto file or
// codegen step is needed.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "heapkeeper.telemetry.Telemetry",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStats",
			Handler:    getStatsHandler,
		},
		{
			MethodName: "Collect",
			Handler:    collectHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamStats",
			Handler:       streamStatsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "heapkeeper/telemetry.proto",
}
