package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/wyvern-data/surface.report/internal/fusion"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const defectColumns = `
	id, session_id, track_id, class, confidence,
	x1, y1, x2, y2,
	angle_deg, distance_m, width_m,
	geometry_json, texture_json, depth_json, damage_json,
	severity, priority, needs_repair,
	detected_at`

// InsertDefect stores one defect record and returns its row id. This
// is the write side of the fusion pipeline's Recorder. Re-recording
// the same track within a session updates the existing row, so the
// call is safe to repeat.
func (db *DB) InsertDefect(ctx context.Context, rec *fusion.DefectRecord) (int64, error) {
	geometry, err := json.Marshal(rec.Geometry)
	if err != nil {
		return 0, fmt.Errorf("failed to encode geometry: %w", err)
	}
	texture, err := json.Marshal(rec.Texture)
	if err != nil {
		return 0, fmt.Errorf("failed to encode texture: %w", err)
	}
	depth, err := json.Marshal(rec.Depth)
	if err != nil {
		return 0, fmt.Errorf("failed to encode depth: %w", err)
	}
	damage, err := json.Marshal(rec.Damage)
	if err != nil {
		return 0, fmt.Errorf("failed to encode damage: %w", err)
	}

	// LastInsertId is stale on the conflict path, so the id comes back
	// through RETURNING instead.
	var id int64
	err = db.QueryRowContext(ctx, `
		INSERT INTO defects (
			session_id, track_id, class, confidence,
			x1, y1, x2, y2,
			angle_deg, distance_m, width_m,
			geometry_json, texture_json, depth_json, damage_json,
			severity, priority, needs_repair,
			detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, track_id) DO UPDATE SET
			class = excluded.class,
			confidence = excluded.confidence,
			x1 = excluded.x1, y1 = excluded.y1, x2 = excluded.x2, y2 = excluded.y2,
			angle_deg = excluded.angle_deg,
			distance_m = excluded.distance_m,
			width_m = excluded.width_m,
			geometry_json = excluded.geometry_json,
			texture_json = excluded.texture_json,
			depth_json = excluded.depth_json,
			damage_json = excluded.damage_json,
			severity = excluded.severity,
			priority = excluded.priority,
			needs_repair = excluded.needs_repair,
			detected_at = excluded.detected_at
		RETURNING id`,
		rec.SessionID, rec.TrackID, rec.Class, rec.Confidence,
		rec.Box.X1, rec.Box.Y1, rec.Box.X2, rec.Box.Y2,
		nullFloat(rec.AngleDeg, rec.HasAngle),
		nullFloat(rec.DistanceM, rec.HasDistance),
		nullFloat(rec.WidthM, rec.HasWidth),
		string(geometry), string(texture), string(depth), string(damage),
		rec.Severity.Level, rec.Severity.Priority, boolInt(rec.Severity.NeedsRepair),
		rec.DetectedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert defect: %w", err)
	}
	rec.ID = id
	return id, nil
}

// RecentDefects returns the newest defects, newest first.
func (db *DB) RecentDefects(ctx context.Context, limit int) ([]*fusion.DefectRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+defectColumns+` FROM defects ORDER BY detected_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent defects: %w", err)
	}
	defer rows.Close()
	return scanDefects(rows)
}

// SessionDefects returns every defect recorded under one session,
// oldest first, the order they were found in.
func (db *DB) SessionDefects(ctx context.Context, sessionID string) ([]*fusion.DefectRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+defectColumns+` FROM defects WHERE session_id = ? ORDER BY detected_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session defects: %w", err)
	}
	defer rows.Close()
	return scanDefects(rows)
}

// DefectByID returns one defect, or ErrNotFound.
func (db *DB) DefectByID(ctx context.Context, id int64) (*fusion.DefectRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+defectColumns+` FROM defects WHERE id = ?`, id)
	rec, err := scanDefect(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load defect %d: %w", id, err)
	}
	return rec, nil
}

// DefectStats summarizes the defect table for the stats endpoint.
type DefectStats struct {
	Total       int64            `json:"total"`
	NeedsRepair int64            `json:"needs_repair"`
	BySeverity  map[string]int64 `json:"by_severity"`
	ByClass     map[string]int64 `json:"by_class"`
	LastFound   *time.Time       `json:"last_found,omitempty"`
}

// Stats counts defects overall and broken down by severity and class.
func (db *DB) Stats(ctx context.Context) (*DefectStats, error) {
	stats := &DefectStats{
		BySeverity: make(map[string]int64),
		ByClass:    make(map[string]int64),
	}

	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(needs_repair), 0)
		FROM defects`).Scan(&stats.Total, &stats.NeedsRepair)
	if err != nil {
		return nil, fmt.Errorf("failed to count defects: %w", err)
	}

	// MAX(detected_at) would come back untyped, so take the newest row's
	// column directly and let the driver parse the timestamp.
	var last time.Time
	err = db.QueryRowContext(ctx,
		`SELECT detected_at FROM defects ORDER BY detected_at DESC, id DESC LIMIT 1`).Scan(&last)
	switch {
	case err == nil:
		stats.LastFound = &last
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("failed to read last detection time: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT severity, COUNT(*) FROM defects GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by severity: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var severity string
		var n int64
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, err
		}
		stats.BySeverity[severity] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	classRows, err := db.QueryContext(ctx, `SELECT class, COUNT(*) FROM defects GROUP BY class`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by class: %w", err)
	}
	defer classRows.Close()
	for classRows.Next() {
		var class string
		var n int64
		if err := classRows.Scan(&class, &n); err != nil {
			return nil, err
		}
		stats.ByClass[class] = n
	}
	if err := classRows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// ClearHistory deletes every defect and reports how many went. The
// sessions table is left alone.
func (db *DB) ClearHistory(ctx context.Context) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM defects`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear defects: %w", err)
	}
	return result.RowsAffected()
}

// Info describes the database file and schema state.
type Info struct {
	Path             string `json:"path"`
	SizeBytes        int64  `json:"size_bytes"`
	DefectCount      int64  `json:"defect_count"`
	SessionCount     int64  `json:"session_count"`
	MigrationVersion uint   `json:"migration_version"`
	Dirty            bool   `json:"dirty"`
	JournalMode      string `json:"journal_mode"`
}

// DBInfo reports file size, row counts and migration state.
func (db *DB) DBInfo(ctx context.Context) (*Info, error) {
	info := &Info{Path: db.path}

	if fi, err := os.Stat(db.path); err == nil {
		info.SizeBytes = fi.Size()
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM defects`).Scan(&info.DefectCount); err != nil {
		return nil, fmt.Errorf("failed to count defects: %w", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM survey_sessions`).Scan(&info.SessionCount); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	if err := db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&info.JournalMode); err != nil {
		return nil, fmt.Errorf("failed to read journal_mode: %w", err)
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return nil, err
	}
	info.MigrationVersion = version
	info.Dirty = dirty
	return info, nil
}

func scanDefects(rows *sql.Rows) ([]*fusion.DefectRecord, error) {
	var recs []*fusion.DefectRecord
	for rows.Next() {
		rec, err := scanDefect(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDefect(row scanner) (*fusion.DefectRecord, error) {
	var (
		rec        fusion.DefectRecord
		angle      sql.NullFloat64
		distance   sql.NullFloat64
		width      sql.NullFloat64
		geometry   string
		texture    string
		depth      string
		damage     string
		needs      int
		detectedAt time.Time
	)
	err := row.Scan(
		&rec.ID, &rec.SessionID, &rec.TrackID, &rec.Class, &rec.Confidence,
		&rec.Box.X1, &rec.Box.Y1, &rec.Box.X2, &rec.Box.Y2,
		&angle, &distance, &width,
		&geometry, &texture, &depth, &damage,
		&rec.Severity.Level, &rec.Severity.Priority, &needs,
		&detectedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.AngleDeg, rec.HasAngle = angle.Float64, angle.Valid
	rec.DistanceM, rec.HasDistance = distance.Float64, distance.Valid
	rec.WidthM, rec.HasWidth = width.Float64, width.Valid
	rec.Severity.NeedsRepair = needs != 0
	rec.DetectedAt = detectedAt

	if err := json.Unmarshal([]byte(geometry), &rec.Geometry); err != nil {
		return nil, fmt.Errorf("failed to decode geometry for defect %d: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(texture), &rec.Texture); err != nil {
		return nil, fmt.Errorf("failed to decode texture for defect %d: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(depth), &rec.Depth); err != nil {
		return nil, fmt.Errorf("failed to decode depth for defect %d: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(damage), &rec.Damage); err != nil {
		return nil, fmt.Errorf("failed to decode damage for defect %d: %w", rec.ID, err)
	}
	return &rec, nil
}

func nullFloat(v float64, ok bool) interface{} {
	if !ok {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
