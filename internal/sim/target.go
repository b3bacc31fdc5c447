// Package sim generates synthetic plots from targets flying constant
// turn-rate, constant-speed paths.
package sim

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/tws/internal/sensor"
)

const (
	// DefaultAltitude is the z coordinate of every synthetic target, in meters.
	DefaultAltitude = 1000.0
	// DefaultNoiseStdDev is the per-axis measurement noise, in meters.
	DefaultNoiseStdDev = 50.0

	minTurnRateDeg = 0.001
)

// TargetSpec describes a target's initial state. Heading is in degrees,
// 0 = north (+Y), clockwise. TurnRate is in degrees per second.
type TargetSpec struct {
	ID       uint32  `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Speed    float64 `json:"speed"`
	Heading  float64 `json:"heading"`
	TurnRate float64 `json:"turn_rate"`
}

// Target advances a true CTRV state and emits noisy plots of it.
type Target struct {
	id       uint32
	x, y, z  float64
	speed    float64
	heading  float64
	turnRate float64
	noise    distuv.Normal
}

// NewTarget creates a target with DefaultNoiseStdDev noise seeded from seed.
func NewTarget(spec TargetSpec, seed uint64) *Target {
	return NewTargetWithNoise(spec, DefaultNoiseStdDev, seed)
}

// NewTargetWithNoise creates a target with the given noise standard deviation.
// A zero stdDev yields exact plots.
func NewTargetWithNoise(spec TargetSpec, stdDev float64, seed uint64) *Target {
	return &Target{
		id:       spec.ID,
		x:        spec.X,
		y:        spec.Y,
		z:        DefaultAltitude,
		speed:    spec.Speed,
		heading:  spec.Heading,
		turnRate: spec.TurnRate,
		noise: distuv.Normal{
			Mu:    0,
			Sigma: stdDev,
			Src:   rand.NewPCG(seed, uint64(spec.ID)),
		},
	}
}

// ID returns the target's ground-truth id.
func (t *Target) ID() uint32 { return t.id }

// Position returns the true position.
func (t *Target) Position() (x, y float64) { return t.x, t.y }

// Heading returns the true heading in degrees within [0, 360).
func (t *Target) Heading() float64 { return t.heading }

// Step advances the true state by dt seconds.
func (t *Target) Step(dt float64) {
	if dt <= 0 {
		return
	}
	h := t.heading * math.Pi / 180
	if math.Abs(t.turnRate) < minTurnRateDeg {
		t.x += math.Sin(h) * t.speed * dt
		t.y += math.Cos(h) * t.speed * dt
		return
	}

	w := t.turnRate * math.Pi / 180
	t.x += t.speed / w * (math.Cos(h) - math.Cos(h+w*dt))
	t.y += t.speed / w * (math.Sin(h+w*dt) - math.Sin(h))
	t.heading = math.Mod(t.heading+t.turnRate*dt, 360)
	if t.heading < 0 {
		t.heading += 360
	}
}

// Plot returns a noisy measurement of the current state stamped with ts.
func (t *Target) Plot(ts float64) sensor.Measurement {
	sample := func() float64 {
		if t.noise.Sigma == 0 {
			return 0
		}
		return t.noise.Rand()
	}
	return sensor.Measurement{
		ID:        t.id,
		X:         float32(t.x + sample()),
		Y:         float32(t.y + sample()),
		Z:         float32(t.z + sample()),
		Velocity:  float32(t.speed),
		Heading:   float32(t.heading),
		Timestamp: ts,
	}
}
