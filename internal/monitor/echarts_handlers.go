package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/wyvern-data/surface.report/internal/fusion"
	"github.com/wyvern-data/surface.report/internal/track"
)

// severityHex maps a severity level to the series color on the map.
func severityHex(level string) string {
	switch level {
	case track.SeverityLight:
		return "#28c828"
	case track.SeverityMedium:
		return "#ff8c00"
	case track.SeveritySevere:
		return "#dc1e1e"
	default:
		return "#e6c800"
	}
}

// handleSurveyMap renders a bird's-eye view (HTML) of the survey: the
// live sector outline from the range sensor with recorded defects
// plotted over it, colored by severity. Debugging-only endpoint, no
// auth. Query params:
//   - session (optional; defaults to the current session, all defects
//     when there is none)
//   - limit (optional; default 200) caps the defect count
func (m *Monitor) handleSurveyMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	session := r.URL.Query().Get("session")
	if session == "" {
		session = m.sessionID
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 5000 {
			limit = v
		}
	}

	var (
		recs []*fusion.DefectRecord
		err  error
	)
	if session != "" {
		recs, err = m.db.SessionDefects(r.Context(), session)
		if err == nil && len(recs) > limit {
			recs = recs[len(recs)-limit:]
		}
	} else {
		recs, err = m.db.RecentDefects(r.Context(), limit)
	}
	if err != nil {
		m.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("failed to load defects: %v", err))
		return
	}

	// Sector outline from the live aggregator, polar to XY. The sensor
	// sits at the origin.
	maxAbs := 1.0
	var outline []opts.ScatterData
	if m.sectors != nil {
		snap := m.sectors.Snapshot()
		for _, reading := range snap.Readings {
			theta := reading.SectorDeg * math.Pi / 180.0
			x := reading.DistanceM * math.Cos(theta)
			y := reading.DistanceM * math.Sin(theta)
			if math.Abs(x) > maxAbs {
				maxAbs = math.Abs(x)
			}
			if math.Abs(y) > maxAbs {
				maxAbs = math.Abs(y)
			}
			outline = append(outline, opts.ScatterData{Value: []interface{}{x, y}})
		}
	}

	// Defects grouped by severity so each level gets its own color
	bySeverity := make(map[string][]opts.ScatterData)
	for _, rec := range recs {
		if !rec.HasAngle || !rec.HasDistance {
			continue
		}
		theta := rec.AngleDeg * math.Pi / 180.0
		x := rec.DistanceM * math.Cos(theta)
		y := rec.DistanceM * math.Sin(theta)
		if math.Abs(x) > maxAbs {
			maxAbs = math.Abs(x)
		}
		if math.Abs(y) > maxAbs {
			maxAbs = math.Abs(y)
		}
		level := rec.Severity.Level
		if level == "" {
			level = track.SeverityUnknown
		}
		bySeverity[level] = append(bySeverity[level], opts.ScatterData{
			Value:  []interface{}{x, y},
			Name:   fmt.Sprintf("#%d %s", rec.TrackID, rec.Class),
			Symbol: "circle",
		})
	}

	pad := maxAbs * 1.05

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Survey Map (Polar->XY)", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Road Surface Survey Map", Subtitle: fmt.Sprintf("session=%s defects=%d outline=%d", session, len(recs), len(outline))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)

	scatter.AddSeries("surface", outline,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#5a7a8a"}),
	)
	// Stable order so the legend doesn't shuffle between reloads
	for _, level := range []string{track.SeveritySevere, track.SeverityMedium, track.SeverityLight, track.SeverityUnknown} {
		pts := bySeverity[level]
		if len(pts) == 0 {
			continue
		}
		scatter.AddSeries(level, pts,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: severityHex(level)}),
		)
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		m.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleSeverityChart renders a bar chart of the defect table broken
// down by severity, plus the repair backlog.
func (m *Monitor) handleSeverityChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats, err := m.db.Stats(r.Context())
	if err != nil {
		m.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("failed to load stats: %v", err))
		return
	}

	x := []string{"severe", "medium", "light", "unknown", "needs repair"}
	y := []opts.BarData{
		{Value: stats.BySeverity[track.SeveritySevere]},
		{Value: stats.BySeverity[track.SeverityMedium]},
		{Value: stats.BySeverity[track.SeverityLight]},
		{Value: stats.BySeverity[track.SeverityUnknown]},
		{Value: stats.NeedsRepair},
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Defect Severity", Subtitle: fmt.Sprintf("%d defects recorded", stats.Total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("defects", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		m.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
