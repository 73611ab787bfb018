package vision

import (
	"image"
	"math"
)

// Depth classes on the mean gradient strength.
const (
	DepthShallow  = "shallow"
	DepthModerate = "moderate"
	DepthDeep     = "deep"
)

// DepthEstimate is a monocular depth guess for a defect region, built
// from shading cues rather than real geometry. DepthCm is a rough
// figure for reporting, not a measurement.
type DepthEstimate struct {
	MeanGradient      float64 `json:"mean_gradient"`
	ShadowPct         float64 `json:"shadow_pct"`
	BorderCenterDelta float64 `json:"border_center_delta"`
	Score             float64 `json:"score"`
	DepthCm           float64 `json:"depth_cm"`
	Class             string  `json:"class"`
}

// EstimateDepth scores how deep the masked region looks. Three cues are
// blended: gradient strength across the region, the share of pixels in
// shadow (below an Otsu split), and the intensity drop from the region's
// rim to its center. Range distance scales the centimetre figure down
// for far defects, where the same cues span more real surface.
func EstimateDepth(gray *image.Gray, mask []bool, distanceM float64, hasDistance bool) DepthEstimate {
	est := DepthEstimate{Class: DepthShallow}
	if gray == nil {
		return est
	}
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return est
	}
	inMask := func(idx int) bool { return mask == nil || mask[idx] }

	magnitude := sobelMagnitude(gray)
	var gradSum, masked float64
	var hist [256]float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if !inMask(idx) {
				continue
			}
			masked++
			gradSum += magnitude[idx]
			hist[gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y]++
		}
	}
	if masked == 0 {
		return est
	}
	est.MeanGradient = gradSum / masked

	// Shadow share below the Otsu split of the masked histogram.
	split := otsuThreshold(hist, masked)
	var below float64
	for v := 0; v < split; v++ {
		below += hist[v]
	}
	est.ShadowPct = below / masked * 100

	est.BorderCenterDelta = borderCenterDelta(gray, mask, w, h)

	est.Score = 0.4*(est.MeanGradient/255*100) +
		0.3*est.ShadowPct +
		0.3*(est.BorderCenterDelta/255*100)
	est.Score = math.Max(0, math.Min(100, est.Score))

	if !hasDistance {
		distanceM = 2.0
	}
	est.DepthCm = depthCm(est.Score, distanceM)

	switch {
	case est.MeanGradient < 15:
		est.Class = DepthShallow
	case est.MeanGradient < 35:
		est.Class = DepthModerate
	default:
		est.Class = DepthDeep
	}
	return est
}

// otsuThreshold returns the intensity split maximising between-class
// variance for the histogram. total is the histogram sum.
func otsuThreshold(hist [256]float64, total float64) int {
	var sumAll float64
	for v, c := range hist {
		sumAll += float64(v) * c
	}
	var sumBelow, weightBelow float64
	best, bestVariance := 0, -1.0
	for v := 0; v < 256; v++ {
		weightBelow += hist[v]
		if weightBelow == 0 {
			continue
		}
		weightAbove := total - weightBelow
		if weightAbove == 0 {
			break
		}
		sumBelow += float64(v) * hist[v]
		muBelow := sumBelow / weightBelow
		muAbove := (sumAll - sumBelow) / weightAbove
		variance := weightBelow * weightAbove * (muBelow - muAbove) * (muBelow - muAbove)
		if variance > bestVariance {
			bestVariance = variance
			best = v + 1
		}
	}
	return best
}

// borderCenterDelta measures the intensity gap between the region's rim
// and its interior. The interior is the mask eroded five times; the rim
// is what erosion removed. A pronounced gap reads as a shaded cavity.
func borderCenterDelta(gray *image.Gray, mask []bool, w, h int) float64 {
	full := mask
	if full == nil {
		full = make([]bool, w*h)
		for i := range full {
			full[i] = true
		}
	}
	center := full
	for i := 0; i < 5; i++ {
		center = erode4(center, w, h)
	}

	b := gray.Bounds()
	var borderSum, borderN, centerSum, centerN float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if !full[idx] {
				continue
			}
			v := float64(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			if center[idx] {
				centerSum += v
				centerN++
			} else {
				borderSum += v
				borderN++
			}
		}
	}
	if borderN == 0 || centerN == 0 {
		return 0
	}
	return math.Abs(borderSum/borderN - centerSum/centerN)
}

// erode4 erodes the mask by one pixel with a 4-neighbour structuring
// element. Out-of-bounds neighbours count as foreground, so the mask
// only shrinks at its own boundary, not at the ROI edge.
func erode4(mask []bool, w, h int) []bool {
	out := make([]bool, len(mask))
	at := func(x, y int) bool {
		if x < 0 || x >= w || y < 0 || y >= h {
			return true
		}
		return mask[y*w+x]
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = mask[y*w+x] &&
				at(x-1, y) && at(x+1, y) && at(x, y-1) && at(x, y+1)
		}
	}
	return out
}

// depthCm converts the 0..100 score to centimetres, attenuated with
// distance: past 2 m the shading cues cover more road per pixel and
// overstate depth, so the figure is scaled down to 70% by 5 m.
func depthCm(score, distanceM float64) float64 {
	factor := 1.0
	switch {
	case distanceM <= 2.0:
		factor = 1.0
	case distanceM <= 5.0:
		factor = 1.0 - ((distanceM-2)/3)*0.3
	default:
		factor = 0.7
	}
	cm := (0.5 + score/100*9.5) * factor
	return math.Max(0.5, math.Min(15.0, cm))
}
