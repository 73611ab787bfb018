package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/wyvern-data/surface.report/internal/config"
	"github.com/wyvern-data/surface.report/internal/db"
	"github.com/wyvern-data/surface.report/internal/fusion"
	"github.com/wyvern-data/surface.report/internal/scan"
	"github.com/wyvern-data/surface.report/internal/track"
	"github.com/wyvern-data/surface.report/internal/vision"
)

func setupTestServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	server := NewServer(
		database,
		&vision.FrameBuffer{},
		&vision.AnnotationBoard{},
		scan.NewAggregator(5.0, 0, nil),
		fusion.NewCycleStats(),
		config.DefaultTuningConfig(),
	)
	return server, database
}

func apiRecord(trackID int64) *fusion.DefectRecord {
	return &fusion.DefectRecord{
		SessionID:   "s-api",
		TrackID:     trackID,
		Class:       "pothole",
		Confidence:  0.9,
		Box:         vision.Rect{X1: 100, Y1: 150, X2: 300, Y2: 280},
		AngleDeg:    -24.0625,
		HasAngle:    true,
		DistanceM:   2.3,
		HasDistance: true,
		Severity: track.Severity{
			Level:       track.SeveritySevere,
			Priority:    track.PriorityHigh,
			NeedsRepair: true,
		},
		DetectedAt: time.Unix(1700000000, 0).UTC().Add(time.Duration(trackID) * time.Minute),
	}
}

func doRequest(t *testing.T, server *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/api/health")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var health map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", health["status"])
	}
	if health["version"] != "dev" {
		t.Errorf("Expected version dev, got %v", health["version"])
	}
	if health["camera"] != false {
		t.Errorf("Expected camera false with no frames, got %v", health["camera"])
	}
	if health["scan_sectors"] != float64(0) {
		t.Errorf("Expected 0 scan sectors, got %v", health["scan_sectors"])
	}
}

func TestScanLatestEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)
	server.sectors.Ingest([]scan.Sample{
		{AngleDeg: 336, DistanceM: 2.3, Quality: 40},
		{AngleDeg: 12, DistanceM: 7.7, Quality: 40},
	})

	w := doRequest(t, server, http.MethodGet, "/api/scan/latest")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		SectorWidthDeg float64              `json:"sector_width_deg"`
		Readings       []scan.SectorReading `json:"readings"`
		Live           bool                 `json:"live"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode scan: %v", err)
	}
	if resp.SectorWidthDeg != 5.0 {
		t.Errorf("Expected sector width 5, got %v", resp.SectorWidthDeg)
	}
	if len(resp.Readings) != 2 {
		t.Errorf("Expected 2 readings, got %d", len(resp.Readings))
	}
	if !resp.Live {
		t.Error("Expected live scan data")
	}
}

func TestScanLatestEmpty(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/api/scan/latest")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Live  bool  `json:"live"`
		AgeMS int64 `json:"age_ms"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode scan: %v", err)
	}
	if resp.Live {
		t.Error("Expected live=false with no readings")
	}
}

func TestRecentDefectsEndpoint(t *testing.T) {
	server, database := setupTestServer(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if _, err := database.InsertDefect(ctx, apiRecord(i)); err != nil {
			t.Fatalf("InsertDefect failed: %v", err)
		}
	}

	w := doRequest(t, server, http.MethodGet, "/api/defects/recent")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var recs []*fusion.DefectRecord
	if err := json.NewDecoder(w.Body).Decode(&recs); err != nil {
		t.Fatalf("Failed to decode defects: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("Expected 3 defects, got %d", len(recs))
	}
	// Newest first
	if recs[0].TrackID != 3 {
		t.Errorf("Expected track 3 first, got %d", recs[0].TrackID)
	}

	// Limit applies
	w = doRequest(t, server, http.MethodGet, "/api/defects/recent?limit=1")
	recs = nil
	if err := json.NewDecoder(w.Body).Decode(&recs); err != nil {
		t.Fatalf("Failed to decode limited defects: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("Expected 1 defect with limit=1, got %d", len(recs))
	}

	// Bad limit is rejected
	w = doRequest(t, server, http.MethodGet, "/api/defects/recent?limit=zero")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", w.Code)
	}
}

func TestRecentDefectsEmptyIsArray(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/api/defects/recent")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("Expected empty JSON array, got %q", body)
	}
}

func TestDefectsBySession(t *testing.T) {
	server, database := setupTestServer(t)
	ctx := context.Background()

	mine := apiRecord(1)
	if _, err := database.InsertDefect(ctx, mine); err != nil {
		t.Fatalf("InsertDefect failed: %v", err)
	}
	other := apiRecord(2)
	other.SessionID = "s-other"
	if _, err := database.InsertDefect(ctx, other); err != nil {
		t.Fatalf("InsertDefect failed: %v", err)
	}

	w := doRequest(t, server, http.MethodGet, "/api/defects/recent?session=s-api")
	var recs []*fusion.DefectRecord
	if err := json.NewDecoder(w.Body).Decode(&recs); err != nil {
		t.Fatalf("Failed to decode defects: %v", err)
	}
	if len(recs) != 1 || recs[0].TrackID != 1 {
		t.Errorf("Expected only track 1 for s-api, got %+v", recs)
	}
}

func TestDefectByIDEndpoint(t *testing.T) {
	server, database := setupTestServer(t)

	rec := apiRecord(9)
	id, err := database.InsertDefect(context.Background(), rec)
	if err != nil {
		t.Fatalf("InsertDefect failed: %v", err)
	}

	w := doRequest(t, server, http.MethodGet, "/api/defects/"+strconv.FormatInt(id, 10))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var got fusion.DefectRecord
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode defect: %v", err)
	}
	if got.TrackID != 9 || got.Class != "pothole" {
		t.Errorf("Unexpected defect: track %d class %s", got.TrackID, got.Class)
	}
	if !got.HasDistance || got.DistanceM != 2.3 {
		t.Errorf("Expected distance 2.3, got %v %v", got.HasDistance, got.DistanceM)
	}

	// Unknown id is a 404
	w = doRequest(t, server, http.MethodGet, "/api/defects/99999")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing defect, got %d", w.Code)
	}

	// Garbage id is a 400
	w = doRequest(t, server, http.MethodGet, "/api/defects/potato")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad id, got %d", w.Code)
	}
}

func TestDefectStatsEndpoint(t *testing.T) {
	server, database := setupTestServer(t)
	ctx := context.Background()

	severe := apiRecord(1)
	light := apiRecord(2)
	light.Severity = track.Severity{Level: track.SeverityLight, Priority: track.PriorityLow}
	for _, rec := range []*fusion.DefectRecord{severe, light} {
		if _, err := database.InsertDefect(ctx, rec); err != nil {
			t.Fatalf("InsertDefect failed: %v", err)
		}
	}

	w := doRequest(t, server, http.MethodGet, "/api/defects/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var stats db.DefectStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Expected 2 total, got %d", stats.Total)
	}
	if stats.BySeverity["severe"] != 1 || stats.BySeverity["light"] != 1 {
		t.Errorf("Unexpected severity counts: %v", stats.BySeverity)
	}
	if stats.NeedsRepair != 1 {
		t.Errorf("Expected 1 needing repair, got %d", stats.NeedsRepair)
	}
}

func TestClearHistoryEndpoint(t *testing.T) {
	server, database := setupTestServer(t)
	ctx := context.Background()

	for i := int64(1); i <= 2; i++ {
		if _, err := database.InsertDefect(ctx, apiRecord(i)); err != nil {
			t.Fatalf("InsertDefect failed: %v", err)
		}
	}
	server.sectors.Ingest([]scan.Sample{
		{AngleDeg: 90, DistanceM: 1.5, Timestamp: time.Now()},
	})

	// GET is not allowed
	w := doRequest(t, server, http.MethodGet, "/api/clear-history")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", w.Code)
	}

	w = doRequest(t, server, http.MethodPost, "/api/clear-history")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]int64
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if resp["cleared"] != 2 {
		t.Errorf("Expected 2 cleared, got %d", resp["cleared"])
	}

	stats, err := database.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("Expected empty table after clear, got %d", stats.Total)
	}
	if got := server.sectors.Snapshot(); len(got.Readings) != 0 {
		t.Errorf("Expected the scan window dropped after clear, got %d readings", len(got.Readings))
	}
}

func TestDBInfoEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/api/db-info")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var info db.Info
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("Failed to decode db info: %v", err)
	}
	if info.MigrationVersion != 2 {
		t.Errorf("Expected migration version 2, got %d", info.MigrationVersion)
	}
	if info.SizeBytes <= 0 {
		t.Errorf("Expected positive size, got %d", info.SizeBytes)
	}
}

func TestConfigEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/api/config")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var tuning config.TuningConfig
	if err := json.NewDecoder(w.Body).Decode(&tuning); err != nil {
		t.Fatalf("Failed to decode config: %v", err)
	}
	if got := tuning.GetSectorWidthDeg(); got != 5.0 {
		t.Errorf("Expected sector width 5, got %v", got)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	server, database := setupTestServer(t)

	s, err := database.StartSession(context.Background(), "api test run")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	w := doRequest(t, server, http.MethodGet, "/api/sessions")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var sessions []*db.Session
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatalf("Failed to decode sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != s.ID {
		t.Errorf("Expected session %s, got %+v", s.ID, sessions)
	}
}

func TestMethodChecks(t *testing.T) {
	server, _ := setupTestServer(t)

	paths := []string{
		"/api/health",
		"/api/config",
		"/api/scan/latest",
		"/api/defects/recent",
		"/api/defects/stats",
		"/api/defects/1",
		"/api/sessions",
		"/api/db-info",
	}
	for _, path := range paths {
		w := doRequest(t, server, http.MethodPost, path)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: expected 405, got %d", path, w.Code)
		}
	}
}

func TestHomeHandler(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Survey") {
		t.Errorf("Unexpected home body: %q", w.Body.String())
	}
}
