// Package feed streams track snapshots to remote consumers over gRPC.
//
// The service is tws.v1.TrackFeed with a single server-streaming method,
// StreamTracks. Requests and updates travel as google.protobuf.Struct
// messages whose fields mirror Request and Update.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/tws/internal/monitoring"
	"github.com/banshee-data/tws/internal/timeutil"
	"github.com/banshee-data/tws/internal/tracking"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "tws.v1.TrackFeed"
	// StreamTracksMethod is the full method name of the stream.
	StreamTracksMethod = "/" + ServiceName + "/StreamTracks"

	// DefaultInterval is the update period when the request leaves it unset.
	DefaultInterval = 100 * time.Millisecond
	// MinInterval bounds how fast a client may ask to be updated.
	MinInterval = 10 * time.Millisecond
)

var logf = monitoring.Prefixed("feed")

// TrackSource is the read side of the track manager.
type TrackSource interface {
	Tracks() []tracking.TrackSnapshot
	ExtrapolatedTracks(now float64) []tracking.TrackSnapshot
	Metrics() tracking.Metrics
}

// Config configures the feed server.
type Config struct {
	Address string
	Source  TrackSource
	// Now returns the tracker's current time for extrapolation. Defaults to
	// Clock in Unix seconds.
	Now       func() float64
	Interval  time.Duration
	Clock     timeutil.Clock
	Collector *monitoring.TrackerCollector
}

// Server implements tws.v1.TrackFeed and the standard gRPC health service.
type Server struct {
	address  string
	source   TrackSource
	now      func() float64
	interval time.Duration
	clock    timeutil.Clock

	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer creates the gRPC server and registers the feed and health services.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, errors.New("track feed requires a track source")
	}
	s := &Server{
		address:  cfg.Address,
		source:   cfg.Source,
		now:      cfg.Now,
		interval: cfg.Interval,
		clock:    cfg.Clock,
		health:   health.NewServer(),
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if s.now == nil {
		s.now = func() float64 { return timeutil.UnixSeconds(s.clock.Now()) }
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}

	var opts []grpc.ServerOption
	if cfg.Collector != nil {
		opts = append(opts, grpc.ChainStreamInterceptor(cfg.Collector.StreamServerInterceptor()))
	}
	s.grpcServer = grpc.NewServer(opts...)
	s.grpcServer.RegisterService(&trackFeedServiceDesc, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s, nil
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		logf("gRPC track feed listening on %s", ln.Addr())
		errCh <- s.grpcServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("track feed server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		s.grpcServer.Stop()
	}
	logf("gRPC track feed stopped")
	return nil
}

// StreamTracks sends an update immediately and then once per interval until
// the client goes away or the request's update budget is spent.
func (s *Server) StreamTracks(req Request, stream grpc.ServerStream) error {
	interval, err := s.validate(req)
	if err != nil {
		return err
	}
	ctx := stream.Context()
	logf("StreamTracks started: interval=%v extrapolate=%v state=%q",
		interval, req.Extrapolate, req.State)

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	for {
		seq++
		msg, err := toStruct(s.update(req, seq))
		if err != nil {
			return status.Errorf(codes.Internal, "encode update: %v", err)
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
		if req.MaxUpdates > 0 && seq >= uint64(req.MaxUpdates) {
			return nil
		}

		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case <-ticker.C():
		}
	}
}

func (s *Server) validate(req Request) (time.Duration, error) {
	switch req.State {
	case "", tracking.TrackTentative, tracking.TrackConfirmed, tracking.TrackCoasting:
	default:
		return 0, status.Errorf(codes.InvalidArgument, "unknown track state %q", req.State)
	}
	if req.MaxUpdates < 0 {
		return 0, status.Error(codes.InvalidArgument, "max_updates must not be negative")
	}
	if req.IntervalMS == 0 {
		return s.interval, nil
	}
	interval := time.Duration(req.IntervalMS) * time.Millisecond
	if interval < MinInterval {
		return 0, status.Errorf(codes.InvalidArgument, "interval_ms must be at least %d", MinInterval.Milliseconds())
	}
	return interval, nil
}

func (s *Server) update(req Request, seq uint64) Update {
	now := s.now()
	var tracks []tracking.TrackSnapshot
	if req.Extrapolate {
		tracks = s.source.ExtrapolatedTracks(now)
	} else {
		tracks = s.source.Tracks()
	}

	out := make([]tracking.TrackSnapshot, 0, len(tracks))
	for _, t := range tracks {
		if req.State != "" && t.State != req.State {
			continue
		}
		if !req.History {
			t.History = nil
		}
		out = append(out, t)
	}
	return Update{
		Sequence:     seq,
		Time:         now,
		Extrapolated: req.Extrapolate,
		Tracks:       out,
		Metrics:      s.source.Metrics(),
	}
}

// trackFeedServer is the handler type checked by RegisterService.
type trackFeedServer interface {
	StreamTracks(req Request, stream grpc.ServerStream) error
}

var trackFeedServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*trackFeedServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamTracks",
			Handler:       streamTracksHandler,
			ServerStreams: true,
		},
	},
	Metadata: "tws/v1/feed.proto",
}

func streamTracksHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	var req Request
	if err := fromStruct(in, &req); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return srv.(trackFeedServer).StreamTracks(req, stream)
}
