// Package monitor serves debug visualizations of the survey state: a
// bird's-eye defect map rendered with go-echarts and PNG session plots
// rendered with gonum/plot.
package monitor

import (
	"encoding/json"
	"net/http"

	"github.com/wyvern-data/surface.report/internal/db"
	"github.com/wyvern-data/surface.report/internal/scan"
)

// echartsAssetsPrefix is where the chart pages load echarts.min.js
// from. The survey cart usually has no internet access in the field,
// so these pages are for bench debugging.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Monitor renders debugging charts from the defect store and the live
// sector state. It holds no sensor references of its own; everything
// it draws comes from snapshots or the database.
type Monitor struct {
	db        *db.DB
	sectors   *scan.Aggregator
	sessionID string
}

func New(database *db.DB, sectors *scan.Aggregator, sessionID string) *Monitor {
	return &Monitor{
		db:        database,
		sectors:   sectors,
		sessionID: sessionID,
	}
}

// AttachRoutes mounts the chart pages on mux.
func (m *Monitor) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/survey-map", m.handleSurveyMap)
	mux.HandleFunc("/debug/severity-chart", m.handleSeverityChart)
}

func (m *Monitor) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
