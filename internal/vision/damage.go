package vision

import "math"

// Damage kinds, scored independently per region.
const (
	DamageCircularPothole  = "circular_pothole"
	DamageIrregularPothole = "irregular_pothole"
	DamageCrack            = "crack"
	DamageErosion          = "erosion"
)

// KindScore is one kind's accumulated evidence, capped at 100.
type KindScore struct {
	Kind  string  `json:"kind"`
	Score float64 `json:"score"`
}

// DamageReport names the most likely damage kind for a region.
// Secondary is set when a runner-up scored high enough that the region
// plausibly shows both kinds at once, a common sight on worn asphalt.
type DamageReport struct {
	Kind       string      `json:"kind"`
	Secondary  string      `json:"secondary,omitempty"`
	Confidence float64     `json:"confidence"`
	Scores     []KindScore `json:"scores"`
}

// ClassifyDamage scores the region against each damage kind from its
// shape and texture and keeps the best. Metric cues only apply when the
// geometry carries real-world scale; without it the shape and texture
// evidence still rank the kinds, just with less to go on.
func ClassifyDamage(geom GeometricDescriptor, tex TextureDescriptor) DamageReport {
	scores := []KindScore{
		{Kind: DamageCircularPothole, Score: scoreCircularPothole(geom, tex)},
		{Kind: DamageIrregularPothole, Score: scoreIrregularPothole(geom, tex)},
		{Kind: DamageCrack, Score: scoreCrack(geom)},
		{Kind: DamageErosion, Score: scoreErosion(geom, tex)},
	}

	best, second := 0, -1
	for i := 1; i < len(scores); i++ {
		if scores[i].Score > scores[best].Score {
			second = best
			best = i
		} else if second < 0 || scores[i].Score > scores[second].Score {
			second = i
		}
	}

	rep := DamageReport{
		Kind:       scores[best].Kind,
		Confidence: scores[best].Score / 100,
		Scores:     scores,
	}
	if second >= 0 && scores[second].Score > 50 && scores[best].Score-scores[second].Score < 20 {
		rep.Secondary = scores[second].Kind
	}
	return rep
}

func scoreCircularPothole(geom GeometricDescriptor, tex TextureDescriptor) float64 {
	var s float64
	switch {
	case geom.Circularity > 0.80:
		s += 40
	case geom.Circularity > 0.65:
		s += 30
	case geom.Circularity > 0.50:
		s += 15
	}
	switch {
	case geom.Convexity > 0.85:
		s += 30
	case geom.Convexity > 0.70:
		s += 20
	}
	if geom.HasMetric && geom.AreaM2 >= 0.01 && geom.AreaM2 <= 0.3 {
		s += 15
	}
	switch {
	case tex.Homogeneity > 0.5:
		s += 15
	case tex.Homogeneity > 0.3:
		s += 10
	}
	return math.Min(100, s)
}

func scoreIrregularPothole(geom GeometricDescriptor, tex TextureDescriptor) float64 {
	var s float64
	switch {
	case geom.Circularity < 0.40:
		s += 30
	case geom.Circularity < 0.60:
		s += 20
	}
	switch {
	case geom.Convexity < 0.50:
		s += 30
	case geom.Convexity < 0.70:
		s += 20
	}
	switch {
	case tex.Entropy > 6:
		s += 25
	case tex.Entropy > 5:
		s += 15
	}
	switch {
	case tex.EdgeDensity > 30:
		s += 15
	case tex.EdgeDensity > 20:
		s += 10
	}
	return math.Min(100, s)
}

func scoreCrack(geom GeometricDescriptor) float64 {
	var s float64
	switch {
	case geom.AspectRatio > 5:
		s += 40
	case geom.AspectRatio > 3:
		s += 30
	case geom.AspectRatio > 2:
		s += 15
	}
	// Thinness from the fitted ellipse: a crack's minor axis stays
	// small no matter how it meanders.
	if geom.EllipseMajorPx > 0 {
		thinness := geom.EllipseMinorPx / geom.EllipseMajorPx
		switch {
		case thinness < 0.2:
			s += 35
		case thinness < 0.35:
			s += 25
		}
	}
	switch {
	case geom.Convexity > 0.9:
		s += 25
	case geom.Convexity > 0.8:
		s += 15
	}
	return math.Min(100, s)
}

func scoreErosion(geom GeometricDescriptor, tex TextureDescriptor) float64 {
	var s float64
	if geom.HasMetric {
		switch {
		case geom.AreaM2 < 0.05:
			s += 40
		case geom.AreaM2 < 0.08:
			s += 25
		}
	}
	switch {
	case tex.Homogeneity < 0.3:
		s += 30
	case tex.Homogeneity < 0.5:
		s += 20
	}
	switch {
	case tex.EdgeDensity < 15:
		s += 30
	case tex.EdgeDensity < 25:
		s += 20
	}
	return math.Min(100, s)
}
