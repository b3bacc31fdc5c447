// Package pipeline runs the tracking loop: it drains the ingest queue into
// the track manager and closes each scan on a fixed-rate tick.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/tws/internal/monitoring"
	"github.com/banshee-data/tws/internal/queue"
	"github.com/banshee-data/tws/internal/sensor"
	"github.com/banshee-data/tws/internal/timeutil"
	"github.com/banshee-data/tws/internal/tracking"
)

// DefaultScanInterval matches the 10 Hz plot rate of the simulator.
const DefaultScanInterval = 100 * time.Millisecond

// TimeBase selects the clock used for scan boundaries.
type TimeBase string

const (
	// TimeBaseWall uses the local clock. Plots must be stamped with Unix time.
	TimeBaseWall TimeBase = "wall"
	// TimeBaseSensor follows the newest plot timestamp, advanced by local time
	// elapsed since it arrived. Suited to replays and senders with their own epoch.
	TimeBaseSensor TimeBase = "sensor"
)

// Recorder persists the tracker's activity. Errors are logged and do not
// stop the loop.
type Recorder interface {
	RecordPlot(m sensor.Measurement, a tracking.Association) error
	RecordScan(now float64, live, pruned []tracking.TrackSnapshot) error
}

// MetricsObserver receives the metrics computed at each scan boundary.
type MetricsObserver interface {
	Observe(m tracking.Metrics)
}

// Config configures a Processor.
type Config struct {
	ScanInterval time.Duration
	TimeBase     TimeBase
	Clock        timeutil.Clock
	Recorder     Recorder
	Observers    []MetricsObserver
}

// Processor is the single consumer of the ingest queue and the only writer
// to the Manager.
type Processor struct {
	manager      *tracking.Manager
	queue        *queue.Queue[sensor.Measurement]
	scanInterval time.Duration
	timeBase     TimeBase
	clock        timeutil.Clock
	recorder     Recorder
	observers    []MetricsObserver

	mu           sync.Mutex
	lastSensorTs float64
	lastArrival  time.Time
	scans        int
}

// NewProcessor creates a processor. Zero Config fields take defaults: a
// 100 ms scan, wall time base and the real clock.
func NewProcessor(mgr *tracking.Manager, q *queue.Queue[sensor.Measurement], cfg Config) (*Processor, error) {
	if mgr == nil || q == nil {
		return nil, fmt.Errorf("pipeline: manager and queue are required")
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	switch cfg.TimeBase {
	case "":
		cfg.TimeBase = TimeBaseWall
	case TimeBaseWall, TimeBaseSensor:
	default:
		return nil, fmt.Errorf("pipeline: unknown time base %q", cfg.TimeBase)
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Processor{
		manager:      mgr,
		queue:        q,
		scanInterval: cfg.ScanInterval,
		timeBase:     cfg.TimeBase,
		clock:        cfg.Clock,
		recorder:     cfg.Recorder,
		observers:    cfg.Observers,
	}, nil
}

// Run processes plots and scan ticks until ctx is done or the queue is
// closed and drained. A closed queue returns nil; cancellation returns ctx.Err().
func (p *Processor) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.scanInterval)
	defer ticker.Stop()

	monitoring.Logf("Tracking loop started (scan %v, %s time)", p.scanInterval, p.timeBase)
	for {
		select {
		case <-ctx.Done():
			p.Drain()
			return ctx.Err()
		case <-p.queue.Ready():
			p.Drain()
		case <-p.queue.Done():
			p.Drain()
			p.Scan(p.Now())
			monitoring.Logf("Tracking loop stopping: ingest queue closed")
			return nil
		case <-ticker.C():
			p.Drain()
			p.Scan(p.Now())
		}
	}
}

// Drain feeds every pending plot to the manager and returns the count.
func (p *Processor) Drain() int {
	n := 0
	for {
		m, ok := p.queue.TryPop()
		if !ok {
			return n
		}
		p.HandlePlot(m)
		n++
	}
}

// HandlePlot associates one plot and records the outcome.
func (p *Processor) HandlePlot(m sensor.Measurement) tracking.Association {
	p.mu.Lock()
	if m.Timestamp > p.lastSensorTs {
		p.lastSensorTs = m.Timestamp
	}
	p.lastArrival = p.clock.Now()
	p.mu.Unlock()

	a := p.manager.ProcessPlot(m.ID, float64(m.X), float64(m.Y), m.Timestamp)
	if p.recorder != nil {
		if err := p.recorder.RecordPlot(m, a); err != nil {
			monitoring.Logf("record plot %d: %v", m.ID, err)
		}
	}
	return a
}

// Now returns the current time in the configured time base, in seconds.
func (p *Processor) Now() float64 {
	now := p.clock.Now()
	if p.timeBase == TimeBaseWall {
		return timeutil.UnixSeconds(now)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastArrival.IsZero() {
		return p.lastSensorTs
	}
	return p.lastSensorTs + now.Sub(p.lastArrival).Seconds()
}

// Scan closes one scan: tracks without a plot since the previous scan take a
// miss, stale tracks are pruned and metrics are recomputed.
func (p *Processor) Scan(now float64) tracking.Metrics {
	p.manager.RegisterMisses(now)
	pruned := p.manager.PruneTracks(now)
	metrics := p.manager.UpdateMetrics()

	p.mu.Lock()
	p.scans++
	p.mu.Unlock()

	for _, s := range pruned {
		monitoring.Logf("Track %d pruned (%s, %d hits, %d misses)", s.ID, s.State, s.Hits, s.Misses)
	}
	if p.recorder != nil {
		if err := p.recorder.RecordScan(now, p.manager.Tracks(), pruned); err != nil {
			monitoring.Logf("record scan: %v", err)
		}
	}
	for _, o := range p.observers {
		o.Observe(metrics)
	}
	return metrics
}

// Scans returns the number of completed scans.
func (p *Processor) Scans() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scans
}
