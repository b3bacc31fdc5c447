package tracking

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Association describes the outcome of ProcessPlot.
type Association struct {
	TrackID         uint32  // track that received the plot
	New             bool    // true when the plot spawned TrackID
	DistanceSquared float64 // gate score of the winning track; 0 for new tracks
}

// Manager owns the live track set and performs association, spawning,
// lifecycle transitions and pruning. All public methods are safe for
// concurrent use and hold a single lock for their duration.
type Manager struct {
	mu      sync.Mutex
	tracks  []*Track // ascending id
	nextID  uint32
	touched map[uint32]struct{}
	cfg     TrackerConfig
	metrics Metrics
}

// NewManager creates a manager. Internal track ids start at 1.
func NewManager(cfg TrackerConfig) *Manager {
	return &Manager{
		nextID:  1,
		touched: make(map[uint32]struct{}),
		cfg:     cfg,
	}
}

// Config returns the manager configuration.
func (m *Manager) Config() TrackerConfig {
	return m.cfg
}

// ProcessPlot associates one plot with the nearest track inside the gate, or
// spawns a new track. Scores use each track's last corrected belief; no
// prediction is applied while scoring. plotID is the sender's debug id and is
// used only for association scoring metrics.
func (m *Manager) ProcessPlot(plotID uint32, x, y, timestamp float64) Association {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.TotalPlots++

	var best *Track
	bestDist := math.MaxFloat64
	for _, t := range m.tracks {
		d := t.MahalanobisDistanceSquared(x, y)
		if d < bestDist && d < m.cfg.GateDistanceSquared {
			bestDist = d
			best = t
		}
	}

	if best == nil {
		t := NewTrack(m.nextID, x, y, timestamp, m.cfg)
		t.truthID = plotID
		m.nextID++
		m.tracks = append(m.tracks, t)
		m.touched[t.id] = struct{}{}
		m.metrics.NewTracks++
		m.metrics.TracksCreated++
		return Association{TrackID: t.id, New: true}
	}

	best.ApplyMeasurement(x, y, timestamp)
	m.touched[best.id] = struct{}{}

	m.metrics.AssociatedPlots++
	if best.truthID == plotID {
		m.metrics.CorrectAssociations++
	} else {
		m.metrics.IncorrectAssociations++
	}
	px, py := best.Position()
	m.metrics.AddPositionError(floats.Distance([]float64{x, y}, []float64{px, py}, 2))

	return Association{TrackID: best.id, DistanceSquared: bestDist}
}

// RegisterMisses marks every track not touched by ProcessPlot since the
// previous call as having missed a scan. The caller defines the scan boundary.
func (m *Manager) RegisterMisses(now float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tracks {
		if _, ok := m.touched[t.id]; !ok {
			t.RegisterMiss(now)
		}
	}
	clear(m.touched)
}

// PruneTracks removes tracks that are Tentative and idle past the timeout,
// Coasting with too many misses, or idle past the timeout in any state. It
// returns snapshots of the removed tracks.
func (m *Manager) PruneTracks(now float64) []TrackSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []TrackSnapshot
	kept := m.tracks[:0]
	for _, t := range m.tracks {
		if m.shouldPrune(t, now) {
			removed = append(removed, t.Snapshot())
			delete(m.touched, t.id)
			continue
		}
		kept = append(kept, t)
	}
	clear(m.tracks[len(kept):])
	m.tracks = kept
	m.metrics.TracksDeleted += len(removed)
	return removed
}

func (m *Manager) shouldPrune(t *Track, now float64) bool {
	timeout := m.cfg.TrackTimeout.Seconds()
	switch {
	case t.state == TrackTentative && t.idleFor(now) > timeout:
		return true
	case t.state == TrackCoasting && t.misses >= m.cfg.MaxCoastMisses:
		return true
	default:
		return t.idleFor(now) > timeout
	}
}

// Tracks returns snapshots of all live tracks in ascending id order.
func (m *Manager) Tracks() []TrackSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TrackSnapshot, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t.Snapshot())
	}
	return out
}

// ExtrapolatedTracks returns snapshots of all live tracks predicted forward
// to now. The live tracks are not modified.
func (m *Manager) ExtrapolatedTracks(now float64) []TrackSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TrackSnapshot, 0, len(m.tracks))
	for _, t := range m.tracks {
		c := t.clone()
		c.PredictTo(now)
		out = append(out, c.Snapshot())
	}
	return out
}

// TrackCount returns the number of live tracks.
func (m *Manager) TrackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks)
}

// UpdateMetrics recomputes the per-state counts and returns a copy of the metrics.
func (m *Manager) UpdateMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.TotalTracks = len(m.tracks)
	m.metrics.ConfirmedTracks = 0
	m.metrics.TentativeTracks = 0
	m.metrics.CoastingTracks = 0
	for _, t := range m.tracks {
		switch t.state {
		case TrackConfirmed:
			m.metrics.ConfirmedTracks++
		case TrackTentative:
			m.metrics.TentativeTracks++
		case TrackCoasting:
			m.metrics.CoastingTracks++
		}
	}
	return m.metrics
}

// Metrics returns a copy of the metrics. Per-state counts are as of the last
// UpdateMetrics call.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}
