package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/tws/internal/tracking"
)

func TestTrackerCollector_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewTrackerCollector(reg)
	if err != nil {
		t.Fatalf("NewTrackerCollector: %v", err)
	}

	c.Observe(tracking.Metrics{
		TotalTracks:         4,
		ConfirmedTracks:     2,
		TentativeTracks:     1,
		CoastingTracks:      1,
		TotalPlots:          10,
		AssociatedPlots:     8,
		CorrectAssociations: 7,
		TracksCreated:       5,
		TracksDeleted:       1,
		AvgPositionError:    12.5,
	})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"confirmed", testutil.ToFloat64(c.Tracks.WithLabelValues("confirmed")), 2},
		{"coasting", testutil.ToFloat64(c.Tracks.WithLabelValues("coasting")), 1},
		{"plots", testutil.ToFloat64(c.Plots), 10},
		{"correct", testutil.ToFloat64(c.Correct), 7},
		{"deleted", testutil.ToFloat64(c.Deleted), 1},
		{"position error", testutil.ToFloat64(c.PosError), 12.5},
		{"purity", testutil.ToFloat64(c.Purity), 0.5},
		{"association rate", testutil.ToFloat64(c.AssocRate), 0.8},
		{"false track rate", testutil.ToFloat64(c.FalseRate), 0.25},
	}
	for _, tc := range checks {
		if tc.got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestTrackerCollector_ReRegisterReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewTrackerCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewTrackerCollector(reg)
	if err != nil {
		t.Fatalf("second NewTrackerCollector: %v", err)
	}
	a.Plots.Set(3)
	if got := testutil.ToFloat64(b.Plots); got != 3 {
		t.Errorf("shared gauge = %v, want 3", got)
	}
}

func TestTrackerCollector_StreamInterceptor(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewTrackerCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	interceptor := c.StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/tws.v1.TrackFeed/StreamTracks", IsServerStream: true}

	_ = interceptor(nil, nil, info, func(srv interface{}, ss grpc.ServerStream) error {
		if got := testutil.ToFloat64(c.ActiveFeeds); got != 1 {
			t.Errorf("active streams during handler = %v, want 1", got)
		}
		return status.Error(codes.Canceled, "client went away")
	})

	if got := testutil.ToFloat64(c.Streams.WithLabelValues("StreamTracks", "Canceled")); got != 1 {
		t.Errorf("tws_feed_streams_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ActiveFeeds); got != 0 {
		t.Errorf("active streams after handler = %v, want 0", got)
	}
}

func TestTrackerCollector_NilIsSafe(t *testing.T) {
	var c *TrackerCollector
	c.Observe(tracking.Metrics{TotalPlots: 1})
	called := false
	err := c.StreamServerInterceptor()(nil, nil, nil, func(interface{}, grpc.ServerStream) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("nil collector interceptor: err=%v called=%v", err, called)
	}
}

func TestTrackerCollector_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewTrackerCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	c.Observe(tracking.Metrics{TotalTracks: 1, ConfirmedTracks: 1})

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{`tws_tracks{state="confirmed"} 1`, "tws_track_purity 1"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMethodName(t *testing.T) {
	tests := map[string]string{
		"/tws.v1.TrackFeed/StreamTracks": "StreamTracks",
		"":                               "unknown",
		"/svc/":                          "unknown",
		"Bare":                           "Bare",
	}
	for in, want := range tests {
		if got := methodName(in); got != want {
			t.Errorf("methodName(%q) = %q, want %q", in, got, want)
		}
	}
}
