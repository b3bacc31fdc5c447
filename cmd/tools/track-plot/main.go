// Command track-plot renders the recorded track paths of a session, over the
// raw plots, to a PNG file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image/color"
	"log"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/tws/internal/db"
	"github.com/banshee-data/tws/internal/sensor"
	"github.com/banshee-data/tws/internal/tracking"
)

var (
	dbPath    = flag.String("db", "tracks.db", "recording database")
	sessionID = flag.String("session", "", "session id (default: latest)")
	out       = flag.String("out", "tracks.png", "output PNG path")
	withPlots = flag.Bool("plots", true, "draw the raw plots behind the tracks")
	size      = flag.Float64("size", 10, "image edge length in inches")
)

// newTrackPlot draws one line per track and, when plots is non-empty, the
// raw plots as small grey points.
func newTrackPlot(title string, paths map[uint32][]tracking.TrackPoint, plots []sensor.Measurement) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "East (m)"
	p.Y.Label.Text = "North (m)"
	p.Add(plotter.NewGrid())

	if len(plots) > 0 {
		pts := make(plotter.XYs, len(plots))
		for i, m := range plots {
			pts[i] = plotter.XY{X: float64(m.X), Y: float64(m.Y)}
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		scatter.GlyphStyle.Color = color.Gray{Y: 160}
		scatter.GlyphStyle.Radius = vg.Points(1)
		p.Add(scatter)
		p.Legend.Add("plots", scatter)
	}

	ids := make([]uint32, 0, len(paths))
	for id := range paths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i, id := range ids {
		path := paths[id]
		if len(path) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(path))
		for j, tp := range path {
			pts[j] = plotter.XY{X: tp.X, Y: tp.Y}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", id, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("track %d", id), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func main() {
	flag.Parse()

	database, err := db.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	id := *sessionID
	if id == "" {
		session, err := database.LatestSession()
		if errors.Is(err, db.ErrNoSessions) {
			log.Fatalf("%s has no recorded sessions", *dbPath)
		}
		if err != nil {
			log.Fatalf("Failed to find latest session: %v", err)
		}
		id = session.ID
	}

	paths, err := database.TrackPaths(id)
	if err != nil {
		log.Fatalf("Failed to load track paths: %v", err)
	}
	var plots []sensor.Measurement
	if *withPlots {
		plots, err = database.SessionPlots(id)
		if err != nil {
			log.Fatalf("Failed to load plots: %v", err)
		}
	}

	p, err := newTrackPlot(fmt.Sprintf("Session %s", id), paths, plots)
	if err != nil {
		log.Fatalf("Failed to build plot: %v", err)
	}
	edge := vg.Length(*size) * vg.Inch
	if err := p.Save(edge, edge, *out); err != nil {
		log.Fatalf("Failed to save plot: %v", err)
	}
	log.Printf("Wrote %d tracks and %d plots to %s", len(paths), len(plots), *out)
}
