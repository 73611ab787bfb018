package track

// Severity levels and repair priorities.
const (
	SeverityLight   = "light"
	SeverityMedium  = "medium"
	SeveritySevere  = "severe"
	SeverityUnknown = "unknown"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Severity is the derived significance of a defect.
type Severity struct {
	Level       string `json:"level"`
	Priority    string `json:"priority"`
	NeedsRepair bool   `json:"needs_repair"`
}

// Thresholds hold the severity calibration. All of it comes from the
// tuning config so crews can recalibrate without a rebuild.
type Thresholds struct {
	// SmallAreaM2 bounds a light defect from above. Default 0.05.
	SmallAreaM2 float64

	// LargeAreaM2 makes a defect severe on its own. Default 0.15.
	LargeAreaM2 float64

	// LowCircularity marks ragged shapes severe. Default 0.4.
	LowCircularity float64

	// HighCircularity is how round a light defect must be. Default 0.7.
	HighCircularity float64

	// RepairLight flags even light defects for repair. Default false.
	RepairLight bool
}

// DefaultThresholds returns the severity calibration defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SmallAreaM2:     0.05,
		LargeAreaM2:     0.15,
		LowCircularity:  0.4,
		HighCircularity: 0.7,
	}
}

// Classify rates a defect from its metric area and circularity. Without
// real-world geometry (no range reading reached the analyzer) the
// severity is unknown but the defect still queues for repair at medium
// priority; missing data must never make a defect disappear.
func (t Thresholds) Classify(areaM2, circularity float64, hasGeometry bool) Severity {
	if !hasGeometry {
		return Severity{Level: SeverityUnknown, Priority: PriorityMedium, NeedsRepair: true}
	}
	switch {
	case areaM2 < t.SmallAreaM2 && circularity > t.HighCircularity:
		return Severity{Level: SeverityLight, Priority: PriorityLow, NeedsRepair: t.RepairLight}
	case areaM2 > t.LargeAreaM2 || circularity < t.LowCircularity:
		return Severity{Level: SeveritySevere, Priority: PriorityHigh, NeedsRepair: true}
	default:
		return Severity{Level: SeverityMedium, Priority: PriorityMedium, NeedsRepair: true}
	}
}
