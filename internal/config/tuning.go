package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/tws/internal/tracking"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// Time bases accepted by time_base.
const (
	TimeBaseWall   = "wall"
	TimeBaseSensor = "sensor"
)

// TuningConfig is the JSON tuning file. Every field is optional; omitted
// fields fall back to the tracker defaults through the Get* methods.
type TuningConfig struct {
	// Association and lifecycle
	Model               *string  `json:"model,omitempty"` // "ctrv" or "cv"
	GateDistanceSquared *float64 `json:"gate_distance_squared,omitempty"`
	GateConfidence      *float64 `json:"gate_confidence,omitempty"` // used when gate_distance_squared is unset
	HitsToConfirm       *int     `json:"hits_to_confirm,omitempty"`
	MissesToCoast       *int     `json:"misses_to_coast,omitempty"`
	MaxCoastMisses      *int     `json:"max_coast_misses,omitempty"`
	TrackTimeout        *string  `json:"track_timeout,omitempty"` // duration string like "5s"
	MaxHistory          *int     `json:"max_history,omitempty"`
	UpdateEpsilon       *float64 `json:"update_epsilon,omitempty"`

	// Filter noise
	MeasurementNoise  *float64  `json:"measurement_noise,omitempty"`  // m² per axis
	ProcessNoise      []float64 `json:"process_noise,omitempty"`      // diag(Q) for [x, y, v, θ, ω]
	InitialCovariance []float64 `json:"initial_covariance,omitempty"` // diag(P0) for [x, y, v, θ, ω]

	// Pipeline
	ScanInterval *string `json:"scan_interval,omitempty"` // duration string like "100ms"
	TimeBase     *string `json:"time_base,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be at most 1 MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upward from the
// working directory. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/*
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.Model != nil {
		switch *c.Model {
		case tracking.ModelCTRV, tracking.ModelCV:
		default:
			return fmt.Errorf("model must be %q or %q, got %q", tracking.ModelCTRV, tracking.ModelCV, *c.Model)
		}
	}
	if c.GateDistanceSquared != nil && *c.GateDistanceSquared <= 0 {
		return fmt.Errorf("gate_distance_squared must be positive, got %f", *c.GateDistanceSquared)
	}
	if c.GateConfidence != nil {
		if _, err := tracking.GateForConfidence(*c.GateConfidence); err != nil {
			return fmt.Errorf("gate_confidence: %w", err)
		}
	}
	for name, v := range map[string]*int{
		"hits_to_confirm":  c.HitsToConfirm,
		"misses_to_coast":  c.MissesToCoast,
		"max_coast_misses": c.MaxCoastMisses,
		"max_history":      c.MaxHistory,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}
	if c.UpdateEpsilon != nil && *c.UpdateEpsilon < 0 {
		return fmt.Errorf("update_epsilon must be non-negative, got %f", *c.UpdateEpsilon)
	}
	if c.MeasurementNoise != nil && *c.MeasurementNoise <= 0 {
		return fmt.Errorf("measurement_noise must be positive, got %f", *c.MeasurementNoise)
	}
	if err := validateDiagonal("process_noise", c.ProcessNoise); err != nil {
		return err
	}
	if err := validateDiagonal("initial_covariance", c.InitialCovariance); err != nil {
		return err
	}
	for name, v := range map[string]*string{
		"track_timeout": c.TrackTimeout,
		"scan_interval": c.ScanInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}
	if c.TimeBase != nil && *c.TimeBase != TimeBaseWall && *c.TimeBase != TimeBaseSensor {
		return fmt.Errorf("time_base must be %q or %q, got %q", TimeBaseWall, TimeBaseSensor, *c.TimeBase)
	}
	return nil
}

func validateDiagonal(name string, v []float64) error {
	if v == nil {
		return nil
	}
	if len(v) != 5 {
		return fmt.Errorf("%s must have 5 entries, got %d", name, len(v))
	}
	for i, x := range v {
		if x < 0 {
			return fmt.Errorf("%s[%d] must be non-negative, got %f", name, i, x)
		}
	}
	return nil
}

// GetModel returns the model value or the default.
func (c *TuningConfig) GetModel() string {
	if c.Model == nil {
		return tracking.ModelCTRV
	}
	return *c.Model
}

// GetGateDistanceSquared returns gate_distance_squared, else the gate
// derived from gate_confidence, else the 99% default.
func (c *TuningConfig) GetGateDistanceSquared() float64 {
	if c.GateDistanceSquared != nil {
		return *c.GateDistanceSquared
	}
	if c.GateConfidence != nil {
		if g, err := tracking.GateForConfidence(*c.GateConfidence); err == nil {
			return g
		}
	}
	return tracking.DefaultGateDistanceSquared
}

// GetHitsToConfirm returns the hits_to_confirm value or the default.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 3
	}
	return *c.HitsToConfirm
}

// GetMissesToCoast returns the misses_to_coast value or the default.
func (c *TuningConfig) GetMissesToCoast() int {
	if c.MissesToCoast == nil {
		return 2
	}
	return *c.MissesToCoast
}

// GetMaxCoastMisses returns the max_coast_misses value or the default.
func (c *TuningConfig) GetMaxCoastMisses() int {
	if c.MaxCoastMisses == nil {
		return 5
	}
	return *c.MaxCoastMisses
}

// GetTrackTimeout parses and returns the TrackTimeout as a time.Duration.
func (c *TuningConfig) GetTrackTimeout() time.Duration {
	return parseDurationOr(c.TrackTimeout, tracking.DefaultTrackTimeout)
}

// GetMaxHistory returns the max_history value or the default.
func (c *TuningConfig) GetMaxHistory() int {
	if c.MaxHistory == nil {
		return tracking.DefaultMaxHistory
	}
	return *c.MaxHistory
}

// GetUpdateEpsilon returns the update_epsilon value or the default.
func (c *TuningConfig) GetUpdateEpsilon() float64 {
	if c.UpdateEpsilon == nil {
		return 1e-4
	}
	return *c.UpdateEpsilon
}

// GetNoise returns the filter noise with any configured overrides applied.
func (c *TuningConfig) GetNoise() tracking.NoiseConfig {
	n := tracking.DefaultNoiseConfig()
	if c.MeasurementNoise != nil {
		n.MeasurementNoise = *c.MeasurementNoise
	}
	if len(c.ProcessNoise) == 5 {
		copy(n.ProcessNoise[:], c.ProcessNoise)
	}
	if len(c.InitialCovariance) == 5 {
		copy(n.InitialCovariance[:], c.InitialCovariance)
	}
	return n
}

// GetScanInterval parses and returns the ScanInterval as a time.Duration.
func (c *TuningConfig) GetScanInterval() time.Duration {
	return parseDurationOr(c.ScanInterval, 100*time.Millisecond)
}

// GetTimeBase returns the time_base value or the default.
func (c *TuningConfig) GetTimeBase() string {
	if c.TimeBase == nil {
		return TimeBaseWall
	}
	return *c.TimeBase
}

// TrackerConfig returns the tracker configuration described by c.
func (c *TuningConfig) TrackerConfig() tracking.TrackerConfig {
	cfg := tracking.DefaultTrackerConfig()
	c.ApplyTo(&cfg)
	return cfg
}

// ApplyTo overwrites cfg with every value c sets explicitly.
func (c *TuningConfig) ApplyTo(cfg *tracking.TrackerConfig) {
	if c.Model != nil {
		cfg.Model = *c.Model
	}
	if c.GateDistanceSquared != nil || c.GateConfidence != nil {
		cfg.GateDistanceSquared = c.GetGateDistanceSquared()
	}
	if c.HitsToConfirm != nil {
		cfg.HitsToConfirm = *c.HitsToConfirm
	}
	if c.MissesToCoast != nil {
		cfg.MissesToCoast = *c.MissesToCoast
	}
	if c.MaxCoastMisses != nil {
		cfg.MaxCoastMisses = *c.MaxCoastMisses
	}
	if c.TrackTimeout != nil && *c.TrackTimeout != "" {
		cfg.TrackTimeout = c.GetTrackTimeout()
	}
	if c.MaxHistory != nil {
		cfg.MaxHistory = *c.MaxHistory
	}
	if c.UpdateEpsilon != nil {
		cfg.UpdateEpsilon = *c.UpdateEpsilon
	}
	if c.MeasurementNoise != nil {
		cfg.Noise.MeasurementNoise = *c.MeasurementNoise
	}
	if len(c.ProcessNoise) == 5 {
		copy(cfg.Noise.ProcessNoise[:], c.ProcessNoise)
	}
	if len(c.InitialCovariance) == 5 {
		copy(cfg.Noise.InitialCovariance[:], c.InitialCovariance)
	}
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}
