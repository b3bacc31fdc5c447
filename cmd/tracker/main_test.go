package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tws/internal/db"
	"github.com/banshee-data/tws/internal/monitoring"
	"github.com/banshee-data/tws/internal/network"
	"github.com/banshee-data/tws/internal/pipeline"
	"github.com/banshee-data/tws/internal/sensor"
	"github.com/banshee-data/tws/internal/tracking"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestParseFlags_Defaults(t *testing.T) {
	o, err := parseFlags(nil)
	require.NoError(t, err)

	assert.Equal(t, ":5000", o.listen)
	assert.Equal(t, ":8080", o.httpAddr)
	assert.Equal(t, ":50051", o.grpcAddr)
	assert.Empty(t, o.dbPath)
	assert.True(t, o.replayRealtime)
	assert.True(t, o.replayExit)
	assert.Equal(t, 1.0, o.replaySpeed)
	assert.Equal(t, time.Minute, o.logInterval)
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no input", []string{"-listen", ""}},
		{"bad speed", []string{"-replay-speed", "0"}},
		{"unknown flag", []string{"-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args)
			assert.Error(t, err)
		})
	}

	o, err := parseFlags([]string{"-listen", "", "-replay-pcap", "plots.pcap"})
	require.NoError(t, err)
	assert.Equal(t, "plots.pcap", o.replayPCAP)
}

func TestResolveSettings(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tuning.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"model": "cv", "hits_to_confirm": 4, "scan_interval": "250ms"}`), 0o644))

	t.Run("defaults", func(t *testing.T) {
		s, err := resolveSettings(options{})
		require.NoError(t, err)
		assert.Equal(t, tracking.DefaultTrackerConfig(), s.tracker)
		assert.Equal(t, pipeline.TimeBaseWall, s.timeBase)
		assert.Equal(t, 100*time.Millisecond, s.scanInterval)
	})

	t.Run("config file", func(t *testing.T) {
		s, err := resolveSettings(options{configPath: cfgPath})
		require.NoError(t, err)
		assert.Equal(t, tracking.ModelCV, s.tracker.Model)
		assert.Equal(t, 4, s.tracker.HitsToConfirm)
		assert.Equal(t, 250*time.Millisecond, s.scanInterval)
	})

	t.Run("flags override file", func(t *testing.T) {
		s, err := resolveSettings(options{configPath: cfgPath, model: "ctrv", timeBase: "sensor"})
		require.NoError(t, err)
		assert.Equal(t, tracking.ModelCTRV, s.tracker.Model)
		assert.Equal(t, pipeline.TimeBaseSensor, s.timeBase)
	})

	t.Run("replay uses sensor time", func(t *testing.T) {
		s, err := resolveSettings(options{replayPCAP: "x.pcap"})
		require.NoError(t, err)
		assert.Equal(t, pipeline.TimeBaseSensor, s.timeBase)
	})

	t.Run("bad model", func(t *testing.T) {
		_, err := resolveSettings(options{model: "ukf"})
		assert.Error(t, err)
	})

	t.Run("bad time base", func(t *testing.T) {
		_, err := resolveSettings(options{timeBase: "gps"})
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := resolveSettings(options{configPath: filepath.Join(dir, "missing.json")})
		assert.Error(t, err)
	})
}

func TestPortOf(t *testing.T) {
	assert.Equal(t, 5000, portOf(":5000", 1))
	assert.Equal(t, 6001, portOf("127.0.0.1:6001", 1))
	assert.Equal(t, 1, portOf("nonsense", 1))
	assert.Equal(t, 1, portOf(":0", 1))
}

func TestRun_ReplayToDatabase(t *testing.T) {
	dir := t.TempDir()
	pcapPath := filepath.Join(dir, "plots.pcap")
	dbPath := filepath.Join(dir, "tracks.db")

	rec, err := network.CreatePcapFile(pcapPath, network.DefaultPort)
	require.NoError(t, err)
	const n = 20
	for i := 0; i < n; i++ {
		m := sensor.Measurement{
			ID:        101,
			X:         float32(10 * i),
			Y:         0,
			Z:         1000,
			Velocity:  100,
			Heading:   90,
			Timestamp: 1000 + 0.1*float64(i),
		}
		require.NoError(t, rec.WritePacket(m.Marshal(), time.Unix(1000, int64(i)*int64(100*time.Millisecond))))
	}
	require.NoError(t, rec.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = run(ctx, options{
		listen:         ":5000",
		dbPath:         dbPath,
		replayPCAP:     pcapPath,
		replayRealtime: false,
		replaySpeed:    1,
		replayExit:     true,
		logInterval:    time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, ctx.Err(), "run should exit on its own after the replay")

	database, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer database.Close()

	session, err := database.LatestSession()
	require.NoError(t, err)
	assert.Equal(t, "pcap:"+pcapPath, session.Source)
	assert.Equal(t, tracking.ModelCTRV, session.Model)

	plots, err := database.SessionPlots(session.ID)
	require.NoError(t, err)
	assert.Len(t, plots, n)

	paths, err := database.TrackPaths(session.ID)
	require.NoError(t, err)
	assert.Len(t, paths, 1, "one target should yield one track")
}
