package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/tws/internal/monitoring"
)

// PacketStats tracks datagram statistics with thread-safe operations.
type PacketStats struct {
	mu             sync.Mutex
	packetCount    int64
	byteCount      int64
	malformedCount int64
	droppedCount   int64
	plotCount      int64
	lastReset      time.Time

	totalPackets   int64
	totalMalformed int64
	totalDropped   int64
	totalPlots     int64
}

// StatsSnapshot is a point-in-time copy of the cumulative counters.
type StatsSnapshot struct {
	Packets   int64 `json:"packets"`
	Malformed int64 `json:"malformed"`
	Dropped   int64 `json:"dropped"`
	Plots     int64 `json:"plots"`
}

// NewPacketStats creates a new PacketStats instance.
func NewPacketStats() *PacketStats {
	return &PacketStats{
		lastReset: time.Now(),
	}
}

// AddPacket counts a received datagram of the given size.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.totalPackets++
	ps.byteCount += int64(bytes)
}

// AddMalformed counts a datagram discarded for having the wrong size.
func (ps *PacketStats) AddMalformed() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.malformedCount++
	ps.totalMalformed++
}

// AddDropped counts a datagram that could not be queued or forwarded.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
	ps.totalDropped++
}

// AddPlots counts plots handed to the ingest queue.
func (ps *PacketStats) AddPlots(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.plotCount += int64(count)
	ps.totalPlots += int64(count)
}

// Snapshot returns the cumulative counters.
func (ps *PacketStats) Snapshot() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return StatsSnapshot{
		Packets:   ps.totalPackets,
		Malformed: ps.totalMalformed,
		Dropped:   ps.totalDropped,
		Plots:     ps.totalPlots,
	}
}

// GetAndReset returns the interval counters and resets them.
func (ps *PacketStats) GetAndReset() (packets, bytes, malformed, dropped, plots int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	packets = ps.packetCount
	bytes = ps.byteCount
	malformed = ps.malformedCount
	dropped = ps.droppedCount
	plots = ps.plotCount

	ps.packetCount = 0
	ps.byteCount = 0
	ps.malformedCount = 0
	ps.droppedCount = 0
	ps.plotCount = 0
	ps.lastReset = now

	return
}

// LogStats logs the per-second rates since the previous call.
func (ps *PacketStats) LogStats() {
	packets, bytes, malformed, dropped, plots, duration := ps.GetAndReset()
	if packets == 0 && dropped == 0 {
		return
	}
	secs := duration.Seconds()
	msg := fmt.Sprintf("Plot stats (/sec): %.1f packets, %.1f KB, %.1f plots",
		float64(packets)/secs, float64(bytes)/secs/1024, float64(plots)/secs)
	if malformed > 0 {
		msg += fmt.Sprintf(", %d malformed", malformed)
	}
	if dropped > 0 {
		msg += fmt.Sprintf(", %d dropped", dropped)
	}
	monitoring.Logf("%s", msg)
}
