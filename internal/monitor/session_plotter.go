package monitor

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/wyvern-data/surface.report/internal/db"
	"github.com/wyvern-data/surface.report/internal/fusion"
	"github.com/wyvern-data/surface.report/internal/security"
	"github.com/wyvern-data/surface.report/internal/track"
)

// SessionPlotter renders PNG summaries of one recorded survey session:
// a defect timeline, a bird's-eye map, and the shape space the severity
// thresholds cut through.
type SessionPlotter struct {
	outputDir string
}

func NewSessionPlotter(outputDir string) *SessionPlotter {
	return &SessionPlotter{outputDir: outputDir}
}

// OutputDir returns where the plots are written.
func (sp *SessionPlotter) OutputDir() string {
	return sp.outputDir
}

func severityRGBA(level string) color.Color {
	switch level {
	case track.SeverityLight:
		return color.RGBA{40, 200, 40, 255}
	case track.SeverityMedium:
		return color.RGBA{255, 140, 0, 255}
	case track.SeveritySevere:
		return color.RGBA{220, 30, 30, 255}
	default:
		return color.RGBA{230, 200, 0, 255}
	}
}

// Generate loads the session's defects and writes the plot files.
// Returns the number of plots written. A session with no defects
// produces no files and no error.
func (sp *SessionPlotter) Generate(ctx context.Context, database *db.DB, sessionID string) (int, error) {
	session, err := database.SessionByID(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to load session: %w", err)
	}
	recs, err := database.SessionDefects(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to load session defects: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(sp.outputDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}

	count := 0
	if err := sp.timelinePlot(session.StartedAt, recs); err != nil {
		return count, fmt.Errorf("timeline: %w", err)
	}
	count++
	if err := sp.mapPlot(recs); err != nil {
		return count, fmt.Errorf("map: %w", err)
	}
	count++
	if err := sp.shapePlot(recs); err != nil {
		return count, fmt.Errorf("shape: %w", err)
	}
	count++
	return count, nil
}

// timelinePlot draws measured distance against minutes into the run,
// one colored series per defect class.
func (sp *SessionPlotter) timelinePlot(start time.Time, recs []*fusion.DefectRecord) error {
	p := plot.New()
	p.Title.Text = "Defects Over Session"
	p.X.Label.Text = "Minutes into session"
	p.Y.Label.Text = "Distance (m)"

	byClass := make(map[string]plotter.XYs)
	for _, rec := range recs {
		// Skip defects the range sensor never saw
		if !rec.HasDistance {
			continue
		}
		minutes := rec.DetectedAt.Sub(start).Minutes()
		byClass[rec.Class] = append(byClass[rec.Class], plotter.XY{X: minutes, Y: rec.DistanceM})
	}

	var classes []string
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	colors := classPalette(len(classes))
	for i, class := range classes {
		s, err := plotter.NewScatter(byClass[class])
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = colors[i]
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
		p.Legend.Add(class, s)
	}
	p.Legend.Top = true

	file := filepath.Join(sp.outputDir, "defects_timeline.png")
	return p.Save(14*vg.Inch, 6*vg.Inch, file)
}

// mapPlot draws the bird's-eye defect positions, severity-colored,
// sensor at the origin.
func (sp *SessionPlotter) mapPlot(recs []*fusion.DefectRecord) error {
	p := plot.New()
	p.Title.Text = "Survey Map"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	bySeverity := make(map[string]plotter.XYs)
	for _, rec := range recs {
		if !rec.HasAngle || !rec.HasDistance {
			continue
		}
		x, y := polarToXY(rec.AngleDeg, rec.DistanceM)
		level := rec.Severity.Level
		if level == "" {
			level = track.SeverityUnknown
		}
		bySeverity[level] = append(bySeverity[level], plotter.XY{X: x, Y: y})
	}

	for _, level := range []string{track.SeveritySevere, track.SeverityMedium, track.SeverityLight, track.SeverityUnknown} {
		pts := bySeverity[level]
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = severityRGBA(level)
		s.GlyphStyle.Radius = vg.Points(4)
		p.Add(s)
		p.Legend.Add(level, s)
	}
	p.Legend.Top = true

	file := filepath.Join(sp.outputDir, "survey_map.png")
	return p.Save(10*vg.Inch, 10*vg.Inch, file)
}

// shapePlot draws each measured defect in area/circularity space, the
// two axes the severity thresholds cut through.
func (sp *SessionPlotter) shapePlot(recs []*fusion.DefectRecord) error {
	p := plot.New()
	p.Title.Text = "Defect Shape Space"
	p.X.Label.Text = "Area (m²)"
	p.Y.Label.Text = "Circularity"

	bySeverity := make(map[string]plotter.XYs)
	for _, rec := range recs {
		if !rec.Geometry.HasMetric || !rec.Geometry.HasContour {
			continue
		}
		level := rec.Severity.Level
		if level == "" {
			level = track.SeverityUnknown
		}
		bySeverity[level] = append(bySeverity[level], plotter.XY{
			X: rec.Geometry.AreaM2,
			Y: rec.Geometry.Circularity,
		})
	}

	for _, level := range []string{track.SeveritySevere, track.SeverityMedium, track.SeverityLight, track.SeverityUnknown} {
		pts := bySeverity[level]
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = severityRGBA(level)
		s.GlyphStyle.Radius = vg.Points(4)
		p.Add(s)
		p.Legend.Add(level, s)
	}
	p.Legend.Top = true

	file := filepath.Join(sp.outputDir, "shape_space.png")
	return p.Save(8*vg.Inch, 8*vg.Inch, file)
}

// polarToXY converts a bearing and range to map coordinates. Zero
// degrees points along +X so the plots match the echarts map.
func polarToXY(angleDeg, distanceM float64) (x, y float64) {
	theta := angleDeg * math.Pi / 180.0
	return distanceM * math.Cos(theta), distanceM * math.Sin(theta)
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakeReportOutputDir builds reports/<session>/<timestamp>, with the
// session id sanitized so it is safe as a directory name.
func MakeReportOutputDir(baseDir, sessionID string) string {
	name := security.SanitizeFilename(sessionID)
	return filepath.Join(baseDir, name, FormatTimestamp(time.Now()))
}
