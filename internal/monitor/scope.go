package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/tws/internal/httputil"
	"github.com/banshee-data/tws/internal/tracking"
)

// echartsAssetsPrefix is where the scope page loads echarts.min.js from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// minScopeRange is the smallest half-width of the scope in metres.
const minScopeRange = 1000.0

var scopeStates = []tracking.TrackState{
	tracking.TrackConfirmed,
	tracking.TrackTentative,
	tracking.TrackCoasting,
}

// handleScope renders the live tracks as a plan-view scatter: one series per
// lifecycle state plus the recent position history of every track.
func (ws *WebServer) handleScope(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	extrapolate, err := httputil.QueryBool(r, "extrapolate", true)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	now := ws.now()
	tracks := ws.source.Tracks()
	if extrapolate {
		tracks = ws.source.ExtrapolatedTracks(now)
	}

	var buf bytes.Buffer
	if err := renderScope(&buf, tracks, now); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render scope: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func renderScope(buf *bytes.Buffer, tracks []tracking.TrackSnapshot, now float64) error {
	byState := make(map[tracking.TrackState][]opts.ScatterData, len(scopeStates))
	history := make([]opts.ScatterData, 0)
	maxAbs := minScopeRange
	extend := func(x, y float64) {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(x), math.Abs(y)))
	}

	for _, t := range tracks {
		extend(t.X, t.Y)
		byState[t.State] = append(byState[t.State], opts.ScatterData{
			Name:  fmt.Sprintf("track %d", t.ID),
			Value: []interface{}{t.X, t.Y, t.ID},
		})
		for _, p := range t.History {
			extend(p.X, p.Y)
			history = append(history, opts.ScatterData{Value: []interface{}{p.X, p.Y, t.ID}})
		}
	}
	pad := maxAbs * 1.05

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Track Scope", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Track Scope", Subtitle: fmt.Sprintf("t=%.1f tracks=%d", now, len(tracks))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: -pad, Max: pad, Name: "East (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: -pad, Max: pad, Name: "North (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("history", history, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	for _, state := range scopeStates {
		scatter.AddSeries(string(state), byState[state], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	}
	return scatter.Render(buf)
}
