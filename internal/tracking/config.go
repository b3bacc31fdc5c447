package tracking

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Motion models selectable through TrackerConfig.Model.
const (
	ModelCTRV = "ctrv" // extended Kalman filter, constant turn rate and velocity
	ModelCV   = "cv"   // linear Kalman filter, constant velocity
)

// Constants for tracker configuration
const (
	// MinDeterminantThreshold is the minimum |det S| accepted before inverting
	// the 2x2 innovation covariance.
	MinDeterminantThreshold = 1e-6
	// MinTurnRate is the |ω| (rad/s) below which the straight-line motion limit is used.
	MinTurnRate = 1e-3
	// DefaultGateDistanceSquared is the chi-squared 2-DOF critical value at 99%.
	DefaultGateDistanceSquared = 9.21
	// DefaultTrackTimeout is the idle time after which a track is pruned.
	DefaultTrackTimeout = 5 * time.Second
	// DefaultMaxHistory bounds each track's trajectory history.
	DefaultMaxHistory = 100
)

// NoiseConfig holds the filter noise parameters.
type NoiseConfig struct {
	InitialCovariance [5]float64 // diagonal of P0 for [x, y, v, θ, ω]
	ProcessNoise      [5]float64 // diagonal of Q for [x, y, v, θ, ω]
	MeasurementNoise  float64    // variance of each position axis (m²)
}

// DefaultNoiseConfig returns the EKF noise used by the tracker.
func DefaultNoiseConfig() NoiseConfig {
	return NoiseConfig{
		InitialCovariance: [5]float64{1, 1, 1, 1, 1},
		ProcessNoise:      [5]float64{0.1, 0.1, 1.0, 0.1, 0.1},
		MeasurementNoise:  2500, // 50 m std-dev per axis
	}
}

// TrackerConfig holds configuration parameters for the track manager.
type TrackerConfig struct {
	Model               string        // ModelCTRV or ModelCV
	GateDistanceSquared float64       // Mahalanobis² gate for association
	HitsToConfirm       int           // Cumulative hits for Tentative -> Confirmed
	MissesToCoast       int           // Misses for Confirmed -> Coasting
	MaxCoastMisses      int           // Misses at which a Coasting track is pruned
	TrackTimeout        time.Duration // Idle time after which any track is pruned
	MaxHistory          int           // Trajectory points kept per track
	UpdateEpsilon       float64       // Seconds; smaller gaps skip the predict before update
	Noise               NoiseConfig
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Model:               ModelCTRV,
		GateDistanceSquared: DefaultGateDistanceSquared,
		HitsToConfirm:       3,
		MissesToCoast:       2,
		MaxCoastMisses:      5,
		TrackTimeout:        DefaultTrackTimeout,
		MaxHistory:          DefaultMaxHistory,
		UpdateEpsilon:       1e-4,
		Noise:               DefaultNoiseConfig(),
	}
}

// Validate reports the first invalid field, if any.
func (c TrackerConfig) Validate() error {
	switch c.Model {
	case ModelCTRV, ModelCV:
	default:
		return fmt.Errorf("unknown motion model %q", c.Model)
	}
	if c.GateDistanceSquared <= 0 {
		return fmt.Errorf("gate distance must be positive, got %f", c.GateDistanceSquared)
	}
	if c.HitsToConfirm < 1 {
		return fmt.Errorf("hits to confirm must be at least 1, got %d", c.HitsToConfirm)
	}
	if c.MissesToCoast < 1 || c.MaxCoastMisses < c.MissesToCoast {
		return fmt.Errorf("coast thresholds invalid: misses_to_coast=%d max_coast_misses=%d",
			c.MissesToCoast, c.MaxCoastMisses)
	}
	if c.TrackTimeout <= 0 {
		return fmt.Errorf("track timeout must be positive, got %v", c.TrackTimeout)
	}
	if c.MaxHistory < 1 {
		return fmt.Errorf("max history must be at least 1, got %d", c.MaxHistory)
	}
	if c.Noise.MeasurementNoise <= 0 {
		return fmt.Errorf("measurement noise must be positive, got %f", c.Noise.MeasurementNoise)
	}
	return nil
}

// GateForConfidence returns the chi-squared gate for a 2-D position
// measurement at the given confidence, e.g. 0.99 -> 9.21.
func GateForConfidence(p float64) (float64, error) {
	if p <= 0 || p >= 1 {
		return 0, fmt.Errorf("confidence must be in (0, 1), got %f", p)
	}
	return distuv.ChiSquared{K: 2}.Quantile(p), nil
}
