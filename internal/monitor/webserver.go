// Package monitor serves the tracker's HTTP interface: health, JSON track
// snapshots, the scope page, Prometheus metrics and the database debug pages.
package monitor

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/banshee-data/tws/internal/db"
	"github.com/banshee-data/tws/internal/httputil"
	"github.com/banshee-data/tws/internal/monitoring"
	"github.com/banshee-data/tws/internal/network"
	"github.com/banshee-data/tws/internal/timeutil"
	"github.com/banshee-data/tws/internal/tracking"
	"github.com/banshee-data/tws/internal/version"
)

//go:embed status.html
var statusHTML embed.FS

var statusTemplate = template.Must(template.ParseFS(statusHTML, "status.html"))

// TrackSource is the read side of the track manager.
type TrackSource interface {
	Tracks() []tracking.TrackSnapshot
	ExtrapolatedTracks(now float64) []tracking.TrackSnapshot
	Metrics() tracking.Metrics
}

// WebServer handles the HTTP interface for monitoring the tracker.
type WebServer struct {
	address   string
	input     string
	model     string
	source    TrackSource
	now       func() float64
	stats     *network.PacketStats
	collector *monitoring.TrackerCollector
	db        *db.DB
	clock     timeutil.Clock
	started   time.Time
	handler   http.Handler
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	// Input describes where plots come from, for the status page.
	Input  string
	Model  string
	Source TrackSource
	// Now returns the tracker's current time for extrapolated snapshots.
	// Defaults to the wall clock in Unix seconds.
	Now       func() float64
	Stats     *network.PacketStats
	Collector *monitoring.TrackerCollector
	// DB enables /api/sessions and the /debug/ pages.
	DB    *db.DB
	Clock timeutil.Clock
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	if config.Source == nil {
		return nil, errors.New("web server requires a track source")
	}
	clock := config.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ws := &WebServer{
		address:   config.Address,
		input:     config.Input,
		model:     config.Model,
		source:    config.Source,
		now:       config.Now,
		stats:     config.Stats,
		collector: config.Collector,
		db:        config.DB,
		clock:     clock,
		started:   clock.Now(),
	}
	if ws.now == nil {
		ws.now = func() float64 { return timeutil.UnixSeconds(ws.clock.Now()) }
	}

	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.handler = mux
	return ws, nil
}

// Handler returns the server's routes.
func (ws *WebServer) Handler() http.Handler {
	return ws.handler
}

// Start serves HTTP until ctx is cancelled, then shuts the server down.
// A bind failure is returned immediately.
func (ws *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ws.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ws.address, err)
	}
	return ws.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (ws *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           ws.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ln.Addr())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/tracks", ws.handleTracks)
	mux.HandleFunc("/api/metrics", ws.handleMetrics)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/sessions", ws.handleSessions)
	mux.HandleFunc("/scope", ws.handleScope)

	if ws.collector != nil {
		mux.Handle("/metrics", ws.collector.Handler())
	}
	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":    "ok",
		"service":   "tws",
		"version":   version.Version,
		"timestamp": ws.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := struct {
		Version     string
		Model       string
		Input       string
		HTTPAddress string
		Uptime      string
		Metrics     tracking.Metrics
		Stats       *network.StatsSnapshot
		Debug       bool
	}{
		Version:     version.String(),
		Model:       ws.model,
		Input:       ws.input,
		HTTPAddress: ws.address,
		Uptime:      ws.clock.Now().Sub(ws.started).Round(time.Second).String(),
		Metrics:     ws.source.Metrics(),
		Debug:       ws.db != nil,
	}
	if ws.stats != nil {
		snap := ws.stats.Snapshot()
		data.Stats = &snap
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
	}
}

// tracksResponse is the /api/tracks body.
type tracksResponse struct {
	Time         float64                  `json:"time"`
	Extrapolated bool                     `json:"extrapolated"`
	Count        int                      `json:"count"`
	Tracks       []tracking.TrackSnapshot `json:"tracks"`
}

// handleTracks returns the live tracks. Query params:
//
//	extrapolate (optional, default false) predict positions to the current time
//	history     (optional, default true)  include each track's position history
func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	extrapolate, err := httputil.QueryBool(r, "extrapolate", false)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	history, err := httputil.QueryBool(r, "history", true)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	now := ws.now()
	var tracks []tracking.TrackSnapshot
	if extrapolate {
		tracks = ws.source.ExtrapolatedTracks(now)
	} else {
		tracks = ws.source.Tracks()
	}
	if tracks == nil {
		tracks = []tracking.TrackSnapshot{}
	}
	if !history {
		for i := range tracks {
			tracks[i].History = nil
		}
	}

	httputil.WriteJSONOK(w, tracksResponse{
		Time:         now,
		Extrapolated: extrapolate,
		Count:        len(tracks),
		Tracks:       tracks,
	})
}

// metricsResponse is the /api/metrics body: the raw counters plus the
// derived ratios.
type metricsResponse struct {
	tracking.Metrics
	TrackPurity     float64 `json:"track_purity"`
	AssociationRate float64 `json:"association_rate"`
	FalseTrackRate  float64 `json:"false_track_rate"`
}

func (ws *WebServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	m := ws.source.Metrics()
	httputil.WriteJSONOK(w, metricsResponse{
		Metrics:         m,
		TrackPurity:     m.TrackPurity(),
		AssociationRate: m.AssociationRate(),
		FalseTrackRate:  m.FalseTrackRate(),
	})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if ws.stats == nil {
		httputil.ServiceUnavailable(w, "receiver statistics not available")
		return
	}
	httputil.WriteJSONOK(w, ws.stats.Snapshot())
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if ws.db == nil {
		httputil.ServiceUnavailable(w, "recording database not configured")
		return
	}
	sessions, err := ws.db.Sessions()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}
