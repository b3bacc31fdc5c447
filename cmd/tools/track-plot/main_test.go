package main

import (
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/tws/internal/sensor"
	"github.com/banshee-data/tws/internal/tracking"
)

func TestNewTrackPlot(t *testing.T) {
	paths := map[uint32][]tracking.TrackPoint{
		2: {{X: 0, Y: 0, Timestamp: 1}, {X: 10, Y: 10, Timestamp: 2}},
		1: {{X: -5, Y: 3, Timestamp: 1}, {X: -4, Y: 8, Timestamp: 2}, {X: -2, Y: 12, Timestamp: 3}},
		3: nil,
	}
	plots := []sensor.Measurement{{ID: 1, X: -5, Y: 3}, {ID: 2, X: 1, Y: -1}}

	p, err := newTrackPlot("test", paths, plots)
	if err != nil {
		t.Fatalf("newTrackPlot failed: %v", err)
	}
	if p.Title.Text != "test" {
		t.Errorf("title = %q", p.Title.Text)
	}

	out := filepath.Join(t.TempDir(), "tracks.png")
	if err := p.Save(4*vg.Inch, 4*vg.Inch, out); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 8 || string(data[1:4]) != "PNG" {
		t.Error("output is not a PNG")
	}
}

func TestNewTrackPlot_Empty(t *testing.T) {
	if _, err := newTrackPlot("empty", nil, nil); err != nil {
		t.Fatalf("newTrackPlot with no data failed: %v", err)
	}
}
