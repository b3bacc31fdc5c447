package monitoring

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/tws/internal/tracking"
)

// TrackerCollector exposes tracker metrics to Prometheus and instruments
// the gRPC track feed.
type TrackerCollector struct {
	gatherer prometheus.Gatherer

	Tracks      *prometheus.GaugeVec
	Plots       prometheus.Gauge
	Associated  prometheus.Gauge
	Correct     prometheus.Gauge
	Incorrect   prometheus.Gauge
	Created     prometheus.Gauge
	Deleted     prometheus.Gauge
	PosError    prometheus.Gauge
	Purity      prometheus.Gauge
	AssocRate   prometheus.Gauge
	FalseRate   prometheus.Gauge
	Streams     *prometheus.CounterVec
	StreamTime  *prometheus.HistogramVec
	ActiveFeeds prometheus.Gauge
}

// NewTrackerCollector registers the tracker metrics against reg, defaulting
// to the global Prometheus registry when nil.
func NewTrackerCollector(reg prometheus.Registerer) (*TrackerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &TrackerCollector{gatherer: gatherer}

	tracks := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tws_tracks",
		Help: "Live tracks by lifecycle state.",
	}, []string{"state"})
	if err := reg.Register(tracks); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return nil, fmt.Errorf("collector tws_tracks already registered with incompatible type")
		}
		tracks = existing
	}
	c.Tracks = tracks

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.Plots, "tws_plots_processed", "Plots processed since start."},
		{&c.Associated, "tws_plots_associated", "Plots associated with an existing track."},
		{&c.Correct, "tws_associations_correct", "Associations matching the sender's ground-truth id."},
		{&c.Incorrect, "tws_associations_incorrect", "Associations not matching the sender's ground-truth id."},
		{&c.Created, "tws_tracks_created", "Tracks spawned since start."},
		{&c.Deleted, "tws_tracks_deleted", "Tracks pruned since start."},
		{&c.PosError, "tws_position_error_meters", "Running mean distance between associated plots and corrected estimates."},
		{&c.Purity, "tws_track_purity", "Confirmed share of live tracks."},
		{&c.AssocRate, "tws_association_rate", "Share of plots that joined an existing track."},
		{&c.FalseRate, "tws_false_track_rate", "Tentative share of live tracks."},
		{&c.ActiveFeeds, "tws_feed_streams_active", "Open track feed streams."},
	}
	for _, g := range gauges {
		gauge, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name)
		if err != nil {
			return nil, err
		}
		*g.dst = gauge
	}

	streams, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tws_feed_streams_total",
		Help: "Track feed streams handled, labeled by method and gRPC status code.",
	}, []string{"method", "code"}), "tws_feed_streams_total")
	if err != nil {
		return nil, err
	}
	c.Streams = streams

	streamTime, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tws_feed_stream_duration_seconds",
		Help:    "Track feed stream lifetime in seconds.",
		Buckets: []float64{0.1, 1, 10, 60, 300, 1800, 3600},
	}, []string{"method"}), "tws_feed_stream_duration_seconds")
	if err != nil {
		return nil, err
	}
	c.StreamTime = streamTime

	return c, nil
}

// Observe publishes one metrics snapshot. It satisfies pipeline.MetricsObserver.
func (c *TrackerCollector) Observe(m tracking.Metrics) {
	if c == nil {
		return
	}
	c.Tracks.WithLabelValues(string(tracking.TrackTentative)).Set(float64(m.TentativeTracks))
	c.Tracks.WithLabelValues(string(tracking.TrackConfirmed)).Set(float64(m.ConfirmedTracks))
	c.Tracks.WithLabelValues(string(tracking.TrackCoasting)).Set(float64(m.CoastingTracks))
	c.Plots.Set(float64(m.TotalPlots))
	c.Associated.Set(float64(m.AssociatedPlots))
	c.Correct.Set(float64(m.CorrectAssociations))
	c.Incorrect.Set(float64(m.IncorrectAssociations))
	c.Created.Set(float64(m.TracksCreated))
	c.Deleted.Set(float64(m.TracksDeleted))
	c.PosError.Set(m.AvgPositionError)
	c.Purity.Set(m.TrackPurity())
	c.AssocRate.Set(m.AssociationRate())
	c.FalseRate.Set(m.FalseTrackRate())
}

// StreamServerInterceptor counts feed streams and records their lifetime.
func (c *TrackerCollector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if c == nil {
			return handler(srv, ss)
		}
		start := time.Now()
		c.ActiveFeeds.Inc()
		err := handler(srv, ss)
		c.ActiveFeeds.Dec()

		method := "unknown"
		if info != nil {
			method = methodName(info.FullMethod)
		}
		c.Streams.WithLabelValues(method, status.Code(err).String()).Inc()
		c.StreamTime.WithLabelValues(method).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *TrackerCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// methodName returns the final path element of a gRPC method name.
func methodName(fullMethod string) string {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(fullMethod, "/"); i >= 0 {
		fullMethod = fullMethod[i+1:]
	}
	if fullMethod == "" {
		return "unknown"
	}
	return fullMethod
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
