package vision

import "math"

// RangeField resolves a bearing to the nearest measured distance. The
// scan aggregator satisfies this; nil means no range data at all.
type RangeField interface {
	Distance(angleDeg float64) (float64, bool)
}

// AngleResolver maps image-space detections onto real-world bearings and,
// through the range field, distances. The camera axis is 0 degrees, the
// left edge of the frame -FOV/2, the right edge +FOV/2.
type AngleResolver struct {
	Ranges RangeField
	FOVDeg float64
}

// Bearing reports the horizontal bearing of the box center. The second
// return is false for a malformed box or frame width; a bad detection
// gets a zero no-op result instead of taking down the cycle.
func (r *AngleResolver) Bearing(box Rect, frameWidth int) (float64, bool) {
	if frameWidth <= 0 || box.X2 < box.X1 {
		return 0, false
	}
	rel := box.CenterX()/float64(frameWidth) - 0.5
	return rel * r.FOVDeg, true
}

// EstimateWidth converts the box's angular extent at the measured
// distance into a linear width via arc length.
func (r *AngleResolver) EstimateWidth(box Rect, frameWidth int, distanceM float64) (float64, bool) {
	if frameWidth <= 0 || box.X2 < box.X1 || distanceM <= 0 {
		return 0, false
	}
	boxAngle := box.Width() / float64(frameWidth) * r.FOVDeg
	return math.Max(0, distanceM*2*math.Pi*boxAngle/360), true
}

// Resolve annotates each detection with bearing, distance and estimated
// width. A sector without a reading leaves HasDistance false and the
// detection flows on; absence of range data never drops a detection.
func (r *AngleResolver) Resolve(dets []Detection, frameWidth int) []ResolvedDetection {
	out := make([]ResolvedDetection, 0, len(dets))
	for _, d := range dets {
		rd := ResolvedDetection{Detection: d}
		angle, ok := r.Bearing(d.Box, frameWidth)
		if ok {
			rd.AngleDeg = angle
			rd.HasAngle = true
			if r.Ranges != nil {
				if dist, found := r.Ranges.Distance(angle); found {
					rd.DistanceM = dist
					rd.HasDistance = true
					if w, wok := r.EstimateWidth(d.Box, frameWidth, dist); wok {
						rd.WidthM = w
						rd.HasWidth = true
					}
				}
			}
		}
		out = append(out, rd)
	}
	return out
}
