package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/params endpoint so the same JSON can be
// used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Scan params
	SectorWidthDeg *float64 `json:"sector_width_deg,omitempty"`
	ScanStaleAfter *string  `json:"scan_stale_after,omitempty"` // duration string like "2s"

	// Camera and resolver params
	HorizontalFOVDeg *float64 `json:"horizontal_fov_deg,omitempty"`

	// Detector params
	DetectorTimeout       *string  `json:"detector_timeout,omitempty"` // duration string like "2s"
	DetectorMinConfidence *float64 `json:"detector_min_confidence,omitempty"`
	MinContourAreaPx      *int     `json:"min_contour_area_px,omitempty"`

	// Tracker params
	IoUThreshold     *float64 `json:"iou_threshold,omitempty"`
	SmoothingAlpha   *float64 `json:"smoothing_alpha,omitempty"`
	TrackMaxAge      *string  `json:"track_max_age,omitempty"`     // duration string like "5s"
	TrackStaleAfter  *string  `json:"track_stale_after,omitempty"` // duration string like "2s"
	TrackConfirmHits *int     `json:"track_confirm_hits,omitempty"`

	// Fusion params
	FusionInterval *string `json:"fusion_interval,omitempty"` // duration string like "200ms"
	AnnotateFrames *bool   `json:"annotate_frames,omitempty"`

	// Severity params
	SeveritySmallAreaM2     *float64 `json:"severity_small_area_m2,omitempty"`
	SeverityLargeAreaM2     *float64 `json:"severity_large_area_m2,omitempty"`
	SeverityLowCircularity  *float64 `json:"severity_low_circularity,omitempty"`
	SeverityHighCircularity *float64 `json:"severity_high_circularity,omitempty"`
	ReportLightDefects      *bool    `json:"report_light_defects,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to its
// built-in default. The Get* methods return the same values for a nil
// field, so this is mainly useful for serializing the full schema.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		SectorWidthDeg:          ptrFloat64(5.0),
		ScanStaleAfter:          ptrString("2s"),
		HorizontalFOVDeg:        ptrFloat64(70.0),
		DetectorTimeout:         ptrString("2s"),
		DetectorMinConfidence:   ptrFloat64(0.25),
		MinContourAreaPx:        ptrInt(100),
		IoUThreshold:            ptrFloat64(0.3),
		SmoothingAlpha:          ptrFloat64(0.7),
		TrackMaxAge:             ptrString("5s"),
		TrackStaleAfter:         ptrString("2s"),
		TrackConfirmHits:        ptrInt(2),
		FusionInterval:          ptrString("200ms"),
		AnnotateFrames:          ptrBool(true),
		SeveritySmallAreaM2:     ptrFloat64(0.05),
		SeverityLargeAreaM2:     ptrFloat64(0.15),
		SeverityLowCircularity:  ptrFloat64(0.4),
		SeverityHighCircularity: ptrFloat64(0.7),
		ReportLightDefects:      ptrBool(false),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,       // from api/
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.SectorWidthDeg != nil {
		if *c.SectorWidthDeg <= 0 || *c.SectorWidthDeg > 90 {
			return fmt.Errorf("sector_width_deg must be in (0, 90], got %f", *c.SectorWidthDeg)
		}
	}

	if c.HorizontalFOVDeg != nil {
		if *c.HorizontalFOVDeg <= 0 || *c.HorizontalFOVDeg >= 180 {
			return fmt.Errorf("horizontal_fov_deg must be in (0, 180), got %f", *c.HorizontalFOVDeg)
		}
	}

	if c.DetectorMinConfidence != nil {
		if *c.DetectorMinConfidence < 0 || *c.DetectorMinConfidence > 1 {
			return fmt.Errorf("detector_min_confidence must be between 0 and 1, got %f", *c.DetectorMinConfidence)
		}
	}

	if c.MinContourAreaPx != nil {
		if *c.MinContourAreaPx < 0 {
			return fmt.Errorf("min_contour_area_px must be non-negative, got %d", *c.MinContourAreaPx)
		}
	}

	if c.IoUThreshold != nil {
		if *c.IoUThreshold < 0 || *c.IoUThreshold > 1 {
			return fmt.Errorf("iou_threshold must be between 0 and 1, got %f", *c.IoUThreshold)
		}
	}

	if c.SmoothingAlpha != nil {
		if *c.SmoothingAlpha < 0 || *c.SmoothingAlpha > 1 {
			return fmt.Errorf("smoothing_alpha must be between 0 and 1, got %f", *c.SmoothingAlpha)
		}
	}

	if c.TrackConfirmHits != nil {
		if *c.TrackConfirmHits < 1 {
			return fmt.Errorf("track_confirm_hits must be at least 1, got %d", *c.TrackConfirmHits)
		}
	}

	for name, field := range map[string]*string{
		"scan_stale_after":  c.ScanStaleAfter,
		"detector_timeout":  c.DetectorTimeout,
		"track_max_age":     c.TrackMaxAge,
		"track_stale_after": c.TrackStaleAfter,
		"fusion_interval":   c.FusionInterval,
	} {
		if field == nil || *field == "" {
			continue
		}
		d, err := time.ParseDuration(*field)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *field)
		}
	}

	if c.SeveritySmallAreaM2 != nil && *c.SeveritySmallAreaM2 <= 0 {
		return fmt.Errorf("severity_small_area_m2 must be positive, got %f", *c.SeveritySmallAreaM2)
	}
	if c.SeverityLargeAreaM2 != nil && *c.SeverityLargeAreaM2 <= 0 {
		return fmt.Errorf("severity_large_area_m2 must be positive, got %f", *c.SeverityLargeAreaM2)
	}
	if c.SeveritySmallAreaM2 != nil && c.SeverityLargeAreaM2 != nil &&
		*c.SeveritySmallAreaM2 >= *c.SeverityLargeAreaM2 {
		return fmt.Errorf("severity_small_area_m2 (%f) must be less than severity_large_area_m2 (%f)",
			*c.SeveritySmallAreaM2, *c.SeverityLargeAreaM2)
	}

	for name, field := range map[string]*float64{
		"severity_low_circularity":  c.SeverityLowCircularity,
		"severity_high_circularity": c.SeverityHighCircularity,
	} {
		if field == nil {
			continue
		}
		if *field < 0 || *field > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *field)
		}
	}
	if c.SeverityLowCircularity != nil && c.SeverityHighCircularity != nil &&
		*c.SeverityLowCircularity >= *c.SeverityHighCircularity {
		return fmt.Errorf("severity_low_circularity (%f) must be less than severity_high_circularity (%f)",
			*c.SeverityLowCircularity, *c.SeverityHighCircularity)
	}

	return nil
}

// GetSectorWidthDeg returns the sector_width_deg value or the default.
func (c *TuningConfig) GetSectorWidthDeg() float64 {
	if c.SectorWidthDeg == nil {
		return 5.0
	}
	return *c.SectorWidthDeg
}

// GetScanStaleAfter parses and returns the ScanStaleAfter as a time.Duration.
func (c *TuningConfig) GetScanStaleAfter() time.Duration {
	return c.durationOr(c.ScanStaleAfter, 2*time.Second)
}

// GetHorizontalFOVDeg returns the horizontal_fov_deg value or the default.
func (c *TuningConfig) GetHorizontalFOVDeg() float64 {
	if c.HorizontalFOVDeg == nil {
		return 70.0
	}
	return *c.HorizontalFOVDeg
}

// GetDetectorTimeout parses and returns the DetectorTimeout as a time.Duration.
func (c *TuningConfig) GetDetectorTimeout() time.Duration {
	return c.durationOr(c.DetectorTimeout, 2*time.Second)
}

// GetDetectorMinConfidence returns the detector_min_confidence value or the default.
func (c *TuningConfig) GetDetectorMinConfidence() float64 {
	if c.DetectorMinConfidence == nil {
		return 0.25
	}
	return *c.DetectorMinConfidence
}

// GetMinContourAreaPx returns the min_contour_area_px value or the default.
func (c *TuningConfig) GetMinContourAreaPx() int {
	if c.MinContourAreaPx == nil {
		return 100
	}
	return *c.MinContourAreaPx
}

// GetIoUThreshold returns the iou_threshold value or the default.
func (c *TuningConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return 0.3
	}
	return *c.IoUThreshold
}

// GetSmoothingAlpha returns the smoothing_alpha value or the default.
func (c *TuningConfig) GetSmoothingAlpha() float64 {
	if c.SmoothingAlpha == nil {
		return 0.7
	}
	return *c.SmoothingAlpha
}

// GetTrackMaxAge parses and returns the TrackMaxAge as a time.Duration.
func (c *TuningConfig) GetTrackMaxAge() time.Duration {
	return c.durationOr(c.TrackMaxAge, 5*time.Second)
}

// GetTrackStaleAfter parses and returns the TrackStaleAfter as a time.Duration.
func (c *TuningConfig) GetTrackStaleAfter() time.Duration {
	return c.durationOr(c.TrackStaleAfter, 2*time.Second)
}

// GetTrackConfirmHits returns the track_confirm_hits value or the default.
func (c *TuningConfig) GetTrackConfirmHits() int {
	if c.TrackConfirmHits == nil {
		return 2
	}
	return *c.TrackConfirmHits
}

// GetFusionInterval parses and returns the FusionInterval as a time.Duration.
func (c *TuningConfig) GetFusionInterval() time.Duration {
	return c.durationOr(c.FusionInterval, 200*time.Millisecond)
}

// GetAnnotateFrames returns the annotate_frames value or the default.
func (c *TuningConfig) GetAnnotateFrames() bool {
	if c.AnnotateFrames == nil {
		return true
	}
	return *c.AnnotateFrames
}

// GetSeveritySmallAreaM2 returns the severity_small_area_m2 value or the default.
func (c *TuningConfig) GetSeveritySmallAreaM2() float64 {
	if c.SeveritySmallAreaM2 == nil {
		return 0.05
	}
	return *c.SeveritySmallAreaM2
}

// GetSeverityLargeAreaM2 returns the severity_large_area_m2 value or the default.
func (c *TuningConfig) GetSeverityLargeAreaM2() float64 {
	if c.SeverityLargeAreaM2 == nil {
		return 0.15
	}
	return *c.SeverityLargeAreaM2
}

// GetSeverityLowCircularity returns the severity_low_circularity value or the default.
func (c *TuningConfig) GetSeverityLowCircularity() float64 {
	if c.SeverityLowCircularity == nil {
		return 0.4
	}
	return *c.SeverityLowCircularity
}

// GetSeverityHighCircularity returns the severity_high_circularity value or the default.
func (c *TuningConfig) GetSeverityHighCircularity() float64 {
	if c.SeverityHighCircularity == nil {
		return 0.7
	}
	return *c.SeverityHighCircularity
}

// GetReportLightDefects returns the report_light_defects value or the default.
func (c *TuningConfig) GetReportLightDefects() bool {
	if c.ReportLightDefects == nil {
		return false
	}
	return *c.ReportLightDefects
}

func (c *TuningConfig) durationOr(field *string, fallback time.Duration) time.Duration {
	if field == nil || *field == "" {
		return fallback
	}
	d, err := time.ParseDuration(*field)
	if err != nil {
		return fallback
	}
	return d
}
