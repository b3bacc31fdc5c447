package tracking

// Metrics aggregates observational tracker statistics. Nothing in the
// tracking path reads these values.
type Metrics struct {
	// Track counts, recomputed by UpdateMetrics.
	TotalTracks     int `json:"total_tracks"`
	ConfirmedTracks int `json:"confirmed_tracks"`
	TentativeTracks int `json:"tentative_tracks"`
	CoastingTracks  int `json:"coasting_tracks"`

	// Association counters.
	TotalPlots      int `json:"total_plots"`
	AssociatedPlots int `json:"associated_plots"`
	NewTracks       int `json:"new_tracks"`

	// Ground-truth scoring against the sender's debug plot id.
	CorrectAssociations   int `json:"correct_associations"`
	IncorrectAssociations int `json:"incorrect_associations"`

	// Lifecycle.
	TracksCreated int `json:"tracks_created"`
	TracksDeleted int `json:"tracks_deleted"`

	// Running mean distance between an associated plot and the corrected estimate.
	AvgPositionError     float64 `json:"avg_position_error"`
	PositionErrorSamples int     `json:"position_error_samples"`
}

// AddPositionError folds one sample into the running mean.
func (m *Metrics) AddPositionError(e float64) {
	m.AvgPositionError = (m.AvgPositionError*float64(m.PositionErrorSamples) + e) /
		float64(m.PositionErrorSamples+1)
	m.PositionErrorSamples++
}

// TrackPurity is the confirmed share of live tracks.
func (m Metrics) TrackPurity() float64 {
	if m.TotalTracks == 0 {
		return 0
	}
	return float64(m.ConfirmedTracks) / float64(m.TotalTracks)
}

// AssociationRate is the share of plots that joined an existing track.
func (m Metrics) AssociationRate() float64 {
	if m.TotalPlots == 0 {
		return 0
	}
	return float64(m.AssociatedPlots) / float64(m.TotalPlots)
}

// FalseTrackRate is the tentative share of live tracks.
func (m Metrics) FalseTrackRate() float64 {
	if m.TotalTracks == 0 {
		return 0
	}
	return float64(m.TentativeTracks) / float64(m.TotalTracks)
}
