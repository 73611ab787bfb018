// Package api serves the survey service's public HTTP surface: JSON
// endpoints over the defect store and live sensor state, and the
// annotated MJPEG video feed.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wyvern-data/surface.report/internal/config"
	"github.com/wyvern-data/surface.report/internal/db"
	"github.com/wyvern-data/surface.report/internal/fusion"
	"github.com/wyvern-data/surface.report/internal/httputil"
	"github.com/wyvern-data/surface.report/internal/scan"
	"github.com/wyvern-data/surface.report/internal/version"
	"github.com/wyvern-data/surface.report/internal/vision"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	db      *db.DB
	frames  *vision.FrameBuffer
	board   *vision.AnnotationBoard
	sectors *scan.Aggregator
	stats   *fusion.CycleStats
	tuning  *config.TuningConfig
	started time.Time
}

func NewServer(database *db.DB, frames *vision.FrameBuffer, board *vision.AnnotationBoard, sectors *scan.Aggregator, stats *fusion.CycleStats, tuning *config.TuningConfig) *Server {
	return &Server{
		db:      database,
		frames:  frames,
		board:   board,
		sectors: sectors,
		stats:   stats,
		tuning:  tuning,
		started: time.Now(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.showHealth)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/scan/latest", s.showLatestScan)
	mux.HandleFunc("/api/defects/recent", s.listRecentDefects)
	mux.HandleFunc("/api/defects/stats", s.showDefectStats)
	mux.HandleFunc("/api/defects/", s.showDefect)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/clear-history", s.clearHistory)
	mux.HandleFunc("/api/db-info", s.showDBInfo)
	mux.HandleFunc("/video", s.streamVideo)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Road Surface Survey\n\nLive feed at /video, API under /api/.\n"))
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	httputil.WriteJSONError(w, status, msg)
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	health := map[string]interface{}{
		"status":   "ok",
		"version":  version.Version,
		"uptime_s": int64(time.Since(s.started).Seconds()),
	}
	if s.frames != nil {
		frame, ok := s.frames.Latest()
		health["camera"] = ok
		if ok {
			health["frame_age_ms"] = time.Since(frame.Timestamp).Milliseconds()
		}
	}
	if s.sectors != nil {
		snap := s.sectors.Snapshot()
		health["scan_sectors"] = len(snap.Readings)
		if age, ok := snap.Age(time.Now()); ok {
			health["scan_age_ms"] = age.Milliseconds()
		}
	}
	if s.stats != nil {
		cycles, defects := s.stats.Totals()
		health["fusion_cycles"] = cycles
		health["defects_found"] = defects
	}

	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write health")
		return
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	tuning := s.tuning
	if tuning == nil {
		tuning = config.DefaultTuningConfig()
	}
	if err := json.NewEncoder(w).Encode(tuning); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}

type scanResponse struct {
	scan.SectorMap
	AgeMS int64 `json:"age_ms"`
	Live  bool  `json:"live"`
}

func (s *Server) showLatestScan(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.sectors == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No range sensor attached")
		return
	}

	resp := scanResponse{SectorMap: s.sectors.Snapshot()}
	if age, ok := resp.SectorMap.Age(time.Now()); ok {
		resp.AgeMS = age.Milliseconds()
		resp.Live = true
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write scan")
		return
	}
}

func (s *Server) listRecentDefects(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	var (
		recs []*fusion.DefectRecord
		err  error
	)
	if session := r.URL.Query().Get("session"); session != "" {
		recs, err = s.db.SessionDefects(r.Context(), session)
	} else {
		recs, err = s.db.RecentDefects(r.Context(), limit)
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve defects: %v", err))
		return
	}
	if recs == nil {
		recs = []*fusion.DefectRecord{}
	}

	if err := json.NewEncoder(w).Encode(recs); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write defects")
		return
	}
}

func (s *Server) showDefectStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats, err := s.db.Stats(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve stats: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
		return
	}
}

func (s *Server) showDefect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/defects/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id < 1 {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid defect id")
		return
	}

	rec, err := s.db.DefectByID(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No defect with id %d", id))
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve defect: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(rec); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write defect")
		return
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sessions, err := s.db.RecentSessions(r.Context(), 20)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []*db.Session{}
	}

	if err := json.NewEncoder(w).Encode(sessions); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write sessions")
		return
	}
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	n, err := s.db.ClearHistory(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to clear history: %v", err))
		return
	}

	// Restarting the survey also drops the current scan window, so the
	// next snapshot is built from live readings only.
	if s.sectors != nil {
		s.sectors.Reset()
	}

	if err := json.NewEncoder(w).Encode(map[string]int64{"cleared": n}); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write result")
		return
	}
}

func (s *Server) showDBInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	info, err := s.db.DBInfo(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve db info: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(info); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write db info")
		return
	}
}
