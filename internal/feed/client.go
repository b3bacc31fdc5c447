package feed

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client subscribes to a track feed.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to a feed server without transport security.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to track feed %s: %w", target, err)
	}
	return conn, nil
}

// Check asks the server's health service whether the feed is serving.
func (c *Client) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// TrackStream is an open StreamTracks call.
type TrackStream struct {
	stream grpc.ClientStream
}

// StreamTracks opens a stream with the given request.
func (c *Client) StreamTracks(ctx context.Context, req Request) (*TrackStream, error) {
	msg, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	stream, err := c.conn.NewStream(ctx, &trackFeedServiceDesc.Streams[0], StreamTracksMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(msg); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &TrackStream{stream: stream}, nil
}

// Recv blocks for the next update. It returns io.EOF when the server ends
// the stream.
func (s *TrackStream) Recv() (Update, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return Update{}, err
	}
	var u Update
	if err := fromStruct(msg, &u); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}
