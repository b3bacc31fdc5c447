package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/tws/internal/sensor"
	"github.com/banshee-data/tws/internal/timeutil"
)

// DefaultUpdateInterval is the scan period of the default sender (10 Hz).
const DefaultUpdateInterval = 100 * time.Millisecond

// DefaultScenario returns two crossing, turning targets.
func DefaultScenario() []TargetSpec {
	return []TargetSpec{
		{ID: 101, X: -5000, Y: -5000, Speed: 250, Heading: 45, TurnRate: 5},
		{ID: 102, X: 5000, Y: 5000, Speed: 150, Heading: 225, TurnRate: -3},
	}
}

// Scenario steps a set of targets together.
type Scenario struct {
	targets []*Target
}

// NewScenario builds targets from specs. Each target draws noise from its
// own stream derived from seed and its id.
func NewScenario(specs []TargetSpec, stdDev float64, seed uint64) (*Scenario, error) {
	seen := make(map[uint32]bool, len(specs))
	s := &Scenario{}
	for _, spec := range specs {
		if seen[spec.ID] {
			return nil, fmt.Errorf("duplicate target id %d", spec.ID)
		}
		seen[spec.ID] = true
		s.targets = append(s.targets, NewTargetWithNoise(spec, stdDev, seed))
	}
	return s, nil
}

// Targets returns the scenario's targets.
func (s *Scenario) Targets() []*Target {
	return s.targets
}

// Step advances every target by dt and returns one plot per target stamped ts.
func (s *Scenario) Step(dt, ts float64) []sensor.Measurement {
	plots := make([]sensor.Measurement, 0, len(s.targets))
	for _, t := range s.targets {
		t.Step(dt)
		plots = append(plots, t.Plot(ts))
	}
	return plots
}

// PlotSender transmits plots; *network.Sender satisfies it.
type PlotSender interface {
	Send(m sensor.Measurement) error
}

// Run steps the scenario on every clock tick until ctx is done, sending each
// plot stamped with the clock's time. It returns ctx.Err() on cancellation.
func (s *Scenario) Run(ctx context.Context, clock timeutil.Clock, interval time.Duration, out PlotSender) error {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	dt := interval.Seconds()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			ts := timeutil.UnixSeconds(now)
			for _, m := range s.Step(dt, ts) {
				if err := out.Send(m); err != nil {
					return err
				}
			}
		}
	}
}
