package tracking

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // New track, needs confirmation
	TrackConfirmed TrackState = "confirmed" // Enough hits to be trusted
	TrackCoasting  TrackState = "coasting"  // Confirmed track extrapolating through misses
)

// TrackPoint is one corrected position in a track's history.
type TrackPoint struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp float64 `json:"timestamp"`
}

// Track binds one estimator to an identity, a bounded history and the
// confirmation state machine. Tracks are owned by a Manager and are not safe
// for concurrent use.
type Track struct {
	id         uint32
	truthID    uint32
	estimator  Estimator
	lastUpdate float64
	history    []TrackPoint
	state      TrackState
	hits       int
	misses     int
	cfg        TrackerConfig
}

// NewTrack creates a Tentative track at (x, y). The initial velocity is
// unknown, so the estimator starts at rest facing north.
func NewTrack(id uint32, x, y, timestamp float64, cfg TrackerConfig) *Track {
	var est Estimator
	if cfg.Model == ModelCV {
		est = NewKalmanFilterWithNoise(x, y, cfg.Noise.MeasurementNoise)
	} else {
		est = NewExtendedKalmanFilterWithNoise(x, y, 0, 0, cfg.Noise)
	}
	t := &Track{
		id:         id,
		estimator:  est,
		lastUpdate: timestamp,
		history:    make([]TrackPoint, 0, cfg.MaxHistory),
		state:      TrackTentative,
		hits:       1,
		cfg:        cfg,
	}
	t.history = append(t.history, TrackPoint{X: x, Y: y, Timestamp: timestamp})
	return t
}

// PredictTo extrapolates the belief to now. It never predicts backward.
func (t *Track) PredictTo(now float64) {
	if now <= t.lastUpdate {
		return
	}
	t.estimator.Predict(now - t.lastUpdate)
	t.lastUpdate = now
}

// ApplyMeasurement predicts to the measurement time when it is meaningfully
// later than the last update, corrects the belief, records the new position
// and applies the confirmation transitions.
func (t *Track) ApplyMeasurement(x, y, timestamp float64) {
	if dt := timestamp - t.lastUpdate; dt > t.cfg.UpdateEpsilon {
		t.estimator.Predict(dt)
	}
	t.estimator.Update(x, y)
	if timestamp > t.lastUpdate {
		t.lastUpdate = timestamp
	}

	t.hits++
	t.misses = 0

	px, py := t.estimator.Position()
	if len(t.history) >= t.cfg.MaxHistory {
		copy(t.history, t.history[1:])
		t.history = t.history[:len(t.history)-1]
	}
	t.history = append(t.history, TrackPoint{X: px, Y: py, Timestamp: timestamp})

	switch t.state {
	case TrackTentative:
		if t.hits >= t.cfg.HitsToConfirm {
			t.state = TrackConfirmed
		}
	case TrackCoasting:
		t.state = TrackConfirmed
	}
}

// RegisterMiss records a scan without an association.
func (t *Track) RegisterMiss(now float64) {
	t.misses++
	if t.state == TrackConfirmed && t.misses >= t.cfg.MissesToCoast {
		t.state = TrackCoasting
	}
}

// MahalanobisDistanceSquared scores a measurement against the last corrected
// belief without mutating the track.
func (t *Track) MahalanobisDistanceSquared(x, y float64) float64 {
	return t.estimator.MahalanobisDistanceSquared(x, y)
}

func (t *Track) ID() uint32          { return t.id }
func (t *Track) State() TrackState   { return t.state }
func (t *Track) HitCount() int       { return t.hits }
func (t *Track) MissCount() int      { return t.misses }
func (t *Track) LastUpdate() float64 { return t.lastUpdate }

// Position returns the estimated position.
func (t *Track) Position() (float64, float64) { return t.estimator.Position() }

// Velocity returns the estimated Cartesian velocity.
func (t *Track) Velocity() (float64, float64) { return t.estimator.Velocity() }

// History returns a copy of the trajectory history, oldest first.
func (t *Track) History() []TrackPoint {
	out := make([]TrackPoint, len(t.history))
	copy(out, t.history)
	return out
}

// idleFor returns the seconds since the last update.
func (t *Track) idleFor(now float64) float64 { return now - t.lastUpdate }

// clone returns a deep copy used for read-only extrapolation.
func (t *Track) clone() *Track {
	c := *t
	c.estimator = t.estimator.Clone()
	c.history = t.History()
	return &c
}

// TrackSnapshot is a read-only copy of the fields presentation layers use.
type TrackSnapshot struct {
	ID         uint32       `json:"id"`
	TruthID    uint32       `json:"truth_id"`
	State      TrackState   `json:"state"`
	X          float64      `json:"x"`
	Y          float64      `json:"y"`
	VX         float64      `json:"vx"`
	VY         float64      `json:"vy"`
	Hits       int          `json:"hits"`
	Misses     int          `json:"misses"`
	LastUpdate float64      `json:"last_update"`
	History    []TrackPoint `json:"history,omitempty"`
}

// Snapshot copies the track's presentation state.
func (t *Track) Snapshot() TrackSnapshot {
	x, y := t.Position()
	vx, vy := t.Velocity()
	return TrackSnapshot{
		ID:         t.id,
		TruthID:    t.truthID,
		State:      t.state,
		X:          x,
		Y:          y,
		VX:         vx,
		VY:         vy,
		Hits:       t.hits,
		Misses:     t.misses,
		LastUpdate: t.lastUpdate,
		History:    t.History(),
	}
}
