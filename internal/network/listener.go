package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/tws/internal/monitoring"
	"github.com/banshee-data/tws/internal/sensor"
	"github.com/banshee-data/tws/internal/timeutil"
)

// DefaultPort is the UDP port plots are sent to and received on.
const DefaultPort = 5000

// readTimeout bounds each blocking read so Start notices cancellation.
const readTimeout = 100 * time.Millisecond

// PlotSink receives decoded plots. *queue.Queue[sensor.Measurement] satisfies it.
type PlotSink interface {
	Push(m sensor.Measurement) error
}

// UDPListener receives plot datagrams and hands them to a PlotSink.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	stats       *PacketStats
	forwarder   *PacketForwarder
	recorder    PacketRecorder
	sink        PlotSink
	factory     UDPSocketFactory
	clock       timeutil.Clock

	addrReady chan net.Addr
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Stats       *PacketStats
	Forwarder   *PacketForwarder
	Recorder    PacketRecorder
	Sink        PlotSink

	// SocketFactory defaults to RealUDPSocketFactory.
	SocketFactory UDPSocketFactory
	// Clock stamps received datagrams and drives stats logging.
	Clock timeutil.Clock
}

// PacketRecorder captures raw datagrams, e.g. to a pcap file.
type PacketRecorder interface {
	WritePacket(payload []byte, ts time.Time) error
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	stats := config.Stats
	if stats == nil {
		stats = NewPacketStats()
	}
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	factory := config.SocketFactory
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}
	clock := config.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	address := config.Address
	if address == "" {
		address = fmt.Sprintf(":%d", DefaultPort)
	}

	return &UDPListener{
		address:     address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		stats:       stats,
		forwarder:   config.Forwarder,
		recorder:    config.Recorder,
		sink:        config.Sink,
		factory:     factory,
		clock:       clock,
		addrReady:   make(chan net.Addr, 1),
	}
}

// Stats returns the listener's packet statistics.
func (l *UDPListener) Stats() *PacketStats {
	return l.stats
}

// LocalAddr blocks until the socket is bound or ctx is done.
func (l *UDPListener) LocalAddr(ctx context.Context) (net.Addr, error) {
	select {
	case addr := <-l.addrReady:
		l.addrReady <- addr
		return addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start binds the socket and receives datagrams until ctx is cancelled.
// It returns ctx.Err() on a clean shutdown.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	select {
	case l.addrReady <- conn.LocalAddr():
	default:
	}
	monitoring.Logf("UDP plot listener started on %s", conn.LocalAddr())

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}
	go l.logStats(ctx)

	// Oversized so a larger datagram is seen at its true length and rejected.
	buffer := make([]byte, 2048)
	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("UDP plot listener stopping: %v", err)
			return err
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("UDP socket closed: %w", err)
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}

		if err := l.HandlePacket(buffer[:n], l.clock.Now()); err != nil {
			monitoring.Logf("Dropped datagram from %v: %v", from, err)
		}
	}
}

// HandlePacket decodes one datagram and pushes it to the sink. Datagrams
// that are not exactly one plot long are counted as malformed and dropped.
func (l *UDPListener) HandlePacket(packet []byte, received time.Time) error {
	l.stats.AddPacket(len(packet))

	m, err := sensor.Unmarshal(packet)
	if err != nil {
		l.stats.AddMalformed()
		l.stats.AddDropped()
		return err
	}

	if l.recorder != nil {
		if err := l.recorder.WritePacket(packet, received); err != nil {
			monitoring.Logf("pcap record failed: %v", err)
		}
	}
	if l.forwarder != nil {
		l.forwarder.ForwardAsync(packet)
	}
	if l.sink == nil {
		return nil
	}
	if err := l.sink.Push(m); err != nil {
		l.stats.AddDropped()
		return fmt.Errorf("enqueue plot %d: %w", m.ID, err)
	}
	l.stats.AddPlots(1)
	return nil
}

func (l *UDPListener) logStats(ctx context.Context) {
	ticker := l.clock.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			l.stats.LogStats()
		}
	}
}
