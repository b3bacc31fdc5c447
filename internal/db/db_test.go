package db

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/banshee-data/tws/internal/sensor"
	"github.com/banshee-data/tws/internal/tracking"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "tracks.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("version = %d dirty = %v, want 2 clean", version, dirty)
	}

	// Running again is a no-op.
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		t.Errorf("second MigrateUp failed: %v", err)
	}

	if err := db.MigrateDown(MigrationsFS()); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='tracks'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("tracks table should be dropped after MigrateDown")
	}
	if version, _, _ := db.MigrateVersion(MigrationsFS()); version != 1 {
		t.Errorf("version after down = %d, want 1", version)
	}
}

func TestOpenDB_NoMigrations(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "raw.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()
	version, dirty, err := db.MigrateVersion(MigrationsFS())
	if err != nil || version != 0 || dirty {
		t.Errorf("MigrateVersion() = %d, %v, %v; want 0, false, nil", version, dirty, err)
	}
}

func TestRecorder_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	rec, err := db.StartSession("udp://:5000", tracking.ModelCTRV, 100)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := uuid.Parse(rec.SessionID()); err != nil {
		t.Errorf("session id %q is not a UUID: %v", rec.SessionID(), err)
	}

	plots := []sensor.Measurement{
		{ID: 101, X: 1.5, Y: -2.25, Z: 1000, Velocity: 250, Heading: 45, Timestamp: 100.1},
		{ID: 101, X: 3, Y: -1, Z: 1000, Velocity: 250, Heading: 45, Timestamp: 100.2},
	}
	if err := rec.RecordPlot(plots[0], tracking.Association{TrackID: 1, New: true}); err != nil {
		t.Fatalf("RecordPlot failed: %v", err)
	}
	if err := rec.RecordPlot(plots[1], tracking.Association{TrackID: 1, DistanceSquared: 0.5}); err != nil {
		t.Fatalf("RecordPlot failed: %v", err)
	}

	live := []tracking.TrackSnapshot{{ID: 1, State: tracking.TrackTentative, X: 2, Y: -1.5, Hits: 2}}
	if err := rec.RecordScan(100.3, live, nil); err != nil {
		t.Fatalf("RecordScan failed: %v", err)
	}
	live[0].X, live[0].Y = 4, -0.5
	if err := rec.RecordScan(100.4, live, nil); err != nil {
		t.Fatalf("RecordScan failed: %v", err)
	}
	pruned := []tracking.TrackSnapshot{{ID: 1, TruthID: 101, State: tracking.TrackCoasting, Hits: 5, Misses: 5, LastUpdate: 100.2}}
	if err := rec.RecordScan(106, nil, pruned); err != nil {
		t.Fatalf("RecordScan failed: %v", err)
	}

	gotPlots, err := db.SessionPlots(rec.SessionID())
	if err != nil {
		t.Fatalf("SessionPlots failed: %v", err)
	}
	if diff := cmp.Diff(plots, gotPlots); diff != "" {
		t.Errorf("plots mismatch (-want +got):\n%s", diff)
	}

	paths, err := db.TrackPaths(rec.SessionID())
	if err != nil {
		t.Fatalf("TrackPaths failed: %v", err)
	}
	wantPaths := map[uint32][]tracking.TrackPoint{
		1: {{X: 2, Y: -1.5, Timestamp: 100.3}, {X: 4, Y: -0.5, Timestamp: 100.4}},
	}
	if diff := cmp.Diff(wantPaths, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}

	retired, err := db.RetiredTracks(rec.SessionID())
	if err != nil {
		t.Fatalf("RetiredTracks failed: %v", err)
	}
	wantRetired := []RetiredTrack{{
		TrackID: 1, TruthID: 101, FinalState: tracking.TrackCoasting,
		Hits: 5, Misses: 5, LastUpdate: 100.2, PrunedAt: 106,
	}}
	if diff := cmp.Diff(wantRetired, retired); diff != "" {
		t.Errorf("retired mismatch (-want +got):\n%s", diff)
	}
}

func TestSessions(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.LatestSession(); !errors.Is(err, ErrNoSessions) {
		t.Errorf("LatestSession() on empty db error = %v, want ErrNoSessions", err)
	}

	first, _ := db.StartSession("pcap:a.pcap", tracking.ModelCV, 10)
	second, _ := db.StartSession("udp://:5000", tracking.ModelCTRV, 20)

	latest, err := db.LatestSession()
	if err != nil {
		t.Fatalf("LatestSession failed: %v", err)
	}
	want := Session{ID: second.SessionID(), Source: "udp://:5000", Model: "ctrv", StartedAt: 20}
	if latest != want {
		t.Errorf("LatestSession() = %+v, want %+v", latest, want)
	}

	sessions, err := db.Sessions()
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 || sessions[1].ID != first.SessionID() {
		t.Errorf("Sessions() = %+v", sessions)
	}
}

func TestAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("backup status = %d, body %q", rr.Code, rr.Body.String())
	}

	zr, err := gzip.NewReader(bytes.NewReader(rr.Body.Bytes()))
	if err != nil {
		t.Fatalf("backup is not gzip: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("SQLite format 3")) {
		t.Errorf("backup does not look like a SQLite file")
	}
}
