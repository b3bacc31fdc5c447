package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/tws/internal/monitoring"
	"github.com/banshee-data/tws/internal/sensor"
)

// ReplayConfig controls pcap replay.
type ReplayConfig struct {
	// Port keeps only UDP datagrams to this destination port; 0 keeps all.
	Port int
	// Realtime paces delivery by the capture timestamps.
	Realtime bool
	// Speed scales realtime pacing; values <= 0 mean 1.
	Speed     float64
	Stats     *PacketStats
	Forwarder *PacketForwarder
}

// ReplayPCAPFile opens path and replays it with ReplayPCAP.
func ReplayPCAPFile(ctx context.Context, path string, sink PlotSink, cfg ReplayConfig) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return ReplayPCAP(ctx, f, sink, cfg)
}

// ReplayPCAP decodes every UDP payload in a pcap stream as a plot and pushes
// it to sink. It returns the number of plots delivered.
func ReplayPCAP(ctx context.Context, r io.Reader, sink PlotSink, cfg ReplayConfig) (int, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read PCAP header: %w", err)
	}
	speed := cfg.Speed
	if speed <= 0 {
		speed = 1
	}
	stats := cfg.Stats
	if stats == nil {
		stats = NewPacketStats()
	}

	var packetCount, delivered int
	var firstCapture time.Time
	replayStart := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("PCAP replay stopping (processed %d packets)", packetCount)
			return delivered, err
		}

		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			monitoring.Logf("PCAP replay complete: %d packets, %d plots in %v",
				packetCount, delivered, time.Since(replayStart))
			return delivered, nil
		}
		if err != nil {
			return delivered, fmt.Errorf("read PCAP packet %d: %w", packetCount+1, err)
		}
		packetCount++

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.NoCopy)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if cfg.Port != 0 && int(udp.DstPort) != cfg.Port {
			continue
		}

		if cfg.Realtime {
			if firstCapture.IsZero() {
				firstCapture = ci.Timestamp
			}
			due := replayStart.Add(time.Duration(float64(ci.Timestamp.Sub(firstCapture)) / speed))
			if err := sleepUntil(ctx, due); err != nil {
				return delivered, err
			}
		}

		stats.AddPacket(len(udp.Payload))
		m, err := sensor.Unmarshal(udp.Payload)
		if err != nil {
			stats.AddMalformed()
			stats.AddDropped()
			continue
		}
		if cfg.Forwarder != nil {
			cfg.Forwarder.ForwardAsync(udp.Payload)
		}
		if err := sink.Push(m); err != nil {
			stats.AddDropped()
			return delivered, fmt.Errorf("enqueue replayed plot: %w", err)
		}
		stats.AddPlots(1)
		delivered++

		if packetCount%10000 == 0 {
			monitoring.Logf("PCAP progress: %d packets, %d plots", packetCount, delivered)
		}
	}
}

func sleepUntil(ctx context.Context, due time.Time) error {
	d := time.Until(due)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PcapRecorder writes received plot datagrams to a pcap stream wrapped in
// synthetic Ethernet/IPv4/UDP headers so standard tools can open it.
type PcapRecorder struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	closer  io.Closer
	srcIP   net.IP
	dstIP   net.IP
	srcPort layers.UDPPort
	dstPort layers.UDPPort
	buf     gopacket.SerializeBuffer
}

const recordSnapLen = 65536

// NewPcapRecorder writes a pcap file header to w. Datagrams are recorded as
// addressed to 127.0.0.1:dstPort.
func NewPcapRecorder(w io.Writer, dstPort int) (*PcapRecorder, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(recordSnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write PCAP header: %w", err)
	}
	return &PcapRecorder{
		w:       pw,
		srcIP:   net.IPv4(127, 0, 0, 1).To4(),
		dstIP:   net.IPv4(127, 0, 0, 1).To4(),
		srcPort: layers.UDPPort(dstPort),
		dstPort: layers.UDPPort(dstPort),
		buf:     gopacket.NewSerializeBuffer(),
	}, nil
}

// CreatePcapFile creates (or truncates) path and returns a recorder writing to it.
func CreatePcapFile(path string, dstPort int) (*PcapRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create PCAP file: %w", err)
	}
	rec, err := NewPcapRecorder(f, dstPort)
	if err != nil {
		f.Close()
		return nil, err
	}
	rec.closer = f
	return rec, nil
}

// WritePacket records one datagram payload captured at ts.
func (r *PcapRecorder) WritePacket(payload []byte, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    r.srcIP,
		DstIP:    r.dstIP,
	}
	udp := &layers.UDP{SrcPort: r.srcPort, DstPort: r.dstPort}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(r.buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize datagram: %w", err)
	}
	data := r.buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
	return r.w.WritePacket(ci, data)
}

// Close closes the underlying file when the recorder owns one.
func (r *PcapRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}
