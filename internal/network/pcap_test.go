package network

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/tws/internal/queue"
	"github.com/banshee-data/tws/internal/sensor"
)

func drain(q *queue.Queue[sensor.Measurement]) []sensor.Measurement {
	var out []sensor.Measurement
	for {
		m, ok := q.TryPop()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

func recordPlots(t *testing.T, port int, payloads ...[]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	rec, err := NewPcapRecorder(&buf, port)
	if err != nil {
		t.Fatalf("NewPcapRecorder() error: %v", err)
	}
	start := time.Unix(1700000000, 0)
	for i, p := range payloads {
		if err := rec.WritePacket(p, start.Add(time.Duration(i)*10*time.Millisecond)); err != nil {
			t.Fatalf("WritePacket(%d) error: %v", i, err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	return &buf
}

func TestPcapRecorder_ReplayRoundTrip(t *testing.T) {
	want := []sensor.Measurement{testPlot(1), testPlot(2), testPlot(3)}
	buf := recordPlots(t, DefaultPort,
		want[0].Marshal(), want[1].Marshal(), []byte("garbage"), want[2].Marshal())

	q := queue.New[sensor.Measurement]()
	stats := NewPacketStats()
	n, err := ReplayPCAP(context.Background(), buf, q, ReplayConfig{Port: DefaultPort, Stats: stats})
	if err != nil {
		t.Fatalf("ReplayPCAP() error: %v", err)
	}
	if n != len(want) {
		t.Errorf("delivered %d plots, want %d", n, len(want))
	}
	if diff := cmp.Diff(want, drain(q)); diff != "" {
		t.Errorf("replayed plots mismatch (-want +got):\n%s", diff)
	}
	if snap := stats.Snapshot(); snap.Packets != 4 || snap.Malformed != 1 {
		t.Errorf("stats = %+v", snap)
	}
}

func TestReplayPCAP_PortFilter(t *testing.T) {
	buf := recordPlots(t, 6000, testPlot(1).Marshal())

	q := queue.New[sensor.Measurement]()
	n, err := ReplayPCAP(context.Background(), buf, q, ReplayConfig{Port: DefaultPort})
	if err != nil {
		t.Fatalf("ReplayPCAP() error: %v", err)
	}
	if n != 0 || q.Len() != 0 {
		t.Errorf("delivered %d plots from another port, want 0", n)
	}
}

func TestReplayPCAP_RealtimePacing(t *testing.T) {
	// Three datagrams 10 ms apart at double speed span about 10 ms.
	buf := recordPlots(t, DefaultPort, testPlot(1).Marshal(), testPlot(2).Marshal(), testPlot(3).Marshal())

	q := queue.New[sensor.Measurement]()
	start := time.Now()
	if _, err := ReplayPCAP(context.Background(), buf, q, ReplayConfig{Realtime: true, Speed: 2}); err != nil {
		t.Fatalf("ReplayPCAP() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 9*time.Millisecond {
		t.Errorf("realtime replay took %v, want at least ~10ms", elapsed)
	}
	if q.Len() != 3 {
		t.Errorf("queued %d plots, want 3", q.Len())
	}
}

func TestReplayPCAP_Cancelled(t *testing.T) {
	buf := recordPlots(t, DefaultPort, testPlot(1).Marshal())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := queue.New[sensor.Measurement]()
	if _, err := ReplayPCAP(ctx, buf, q, ReplayConfig{}); err != context.Canceled {
		t.Errorf("ReplayPCAP() error = %v, want context.Canceled", err)
	}
}

func TestReplayPCAP_BadHeader(t *testing.T) {
	q := queue.New[sensor.Measurement]()
	if _, err := ReplayPCAP(context.Background(), bytes.NewReader([]byte("nope")), q, ReplayConfig{}); err == nil {
		t.Error("ReplayPCAP() should reject a stream without a pcap header")
	}
}

func TestReplayPCAPFile_Missing(t *testing.T) {
	q := queue.New[sensor.Measurement]()
	if _, err := ReplayPCAPFile(context.Background(), t.TempDir()+"/missing.pcap", q, ReplayConfig{}); err == nil {
		t.Error("ReplayPCAPFile() should fail for a missing file")
	}
}

func TestCreatePcapFile(t *testing.T) {
	path := t.TempDir() + "/plots.pcap"
	rec, err := CreatePcapFile(path, DefaultPort)
	if err != nil {
		t.Fatalf("CreatePcapFile() error: %v", err)
	}
	if err := rec.WritePacket(testPlot(9).Marshal(), time.Unix(1, 0)); err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	q := queue.New[sensor.Measurement]()
	n, err := ReplayPCAPFile(context.Background(), path, q, ReplayConfig{})
	if err != nil || n != 1 {
		t.Fatalf("ReplayPCAPFile() = %d, %v", n, err)
	}
}
