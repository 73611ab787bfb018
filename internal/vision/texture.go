package vision

import (
	"image"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Texture labels, from smoothest to busiest.
const (
	TextureSmooth    = "smooth"
	TextureRough     = "rough"
	TextureIrregular = "irregular"
	TextureComplex   = "complex"
	TextureUnknown   = "unknown"
)

// edgeMagnitudeThreshold is the Sobel magnitude above which a pixel
// counts as an edge for the density metrics.
const edgeMagnitudeThreshold = 128

// TextureDescriptor captures the surface appearance inside a defect
// region. The plain statistics always carry; the co-occurrence block is
// an extension that can fail on tiny regions without taking the rest
// down, signalled by HasCooccurrence.
type TextureDescriptor struct {
	MeanIntensity   float64 `json:"mean_intensity"`
	IntensityStddev float64 `json:"intensity_stddev"`
	Contrast        float64 `json:"contrast"`
	Entropy         float64 `json:"entropy"`
	EdgeDensity     float64 `json:"edge_density"`

	Energy          float64 `json:"energy"`
	Homogeneity     float64 `json:"homogeneity"`
	GLCMContrast    float64 `json:"glcm_contrast"`
	Correlation     float64 `json:"correlation"`
	HasCooccurrence bool    `json:"has_cooccurrence"`

	Label string `json:"label"`
}

// AnalyzeTexture measures the ROI's texture. The simple statistics cover
// the whole ROI; entropy, edge density and the co-occurrence block are
// restricted to the mask when one is given (nil means the full ROI).
func AnalyzeTexture(roi *image.Gray, mask []bool) TextureDescriptor {
	if roi == nil {
		return TextureDescriptor{Label: TextureUnknown}
	}
	b := roi.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return TextureDescriptor{Label: TextureUnknown}
	}

	values := make([]float64, 0, w*h)
	minV, maxV := 255.0, 0.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(roi.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			values = append(values, v)
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
	}

	td := TextureDescriptor{
		MeanIntensity:   stat.Mean(values, nil),
		IntensityStddev: stat.PopStdDev(values, nil),
		Contrast:        (maxV - minV) / 255,
	}

	inMask := func(idx int) bool { return mask == nil || mask[idx] }

	// Shannon entropy over the masked histogram.
	var hist [256]float64
	var total float64
	for idx, v := range values {
		if inMask(idx) {
			hist[int(v)]++
			total++
		}
	}
	if total == 0 {
		td.Label = TextureUnknown
		return td
	}
	for _, c := range hist {
		if c > 0 {
			p := c / total
			td.Entropy -= p * math.Log2(p)
		}
	}

	// Edge density as the share of strong-gradient pixels in the mask.
	magnitude := sobelMagnitude(roi)
	var edges, covered float64
	for idx := range magnitude {
		if !inMask(idx) {
			continue
		}
		covered++
		if magnitude[idx] >= edgeMagnitudeThreshold {
			edges++
		}
	}
	if covered > 0 {
		td.EdgeDensity = edges / covered * 100
	}

	td.Energy, td.Homogeneity, td.GLCMContrast, td.Correlation, td.HasCooccurrence = cooccurrence(roi, mask)
	td.Label = textureLabel(td.Entropy, td.Homogeneity, td.EdgeDensity)
	return td
}

// sobelMagnitude computes per-pixel gradient magnitude with the 3x3
// Sobel kernels. Border pixels are zero.
func sobelMagnitude(g *image.Gray) []float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float64, w*h)
	if w < 3 || h < 3 {
		return out
	}
	at := func(x, y int) float64 {
		return float64(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := -at(x-1, y-1) + at(x+1, y-1) +
				-2*at(x-1, y) + 2*at(x+1, y) +
				-at(x-1, y+1) + at(x+1, y+1)
			gy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
				at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
			out[y*w+x] = math.Hypot(gx, gy)
		}
	}
	return out
}

const glcmLevels = 32

// cooccurrence averages grey-level co-occurrence features over four
// pixel offsets (0, 45, 90, 135 degrees) at 32 intensity levels. The
// last return is false when the region was too small to pair any pixels.
func cooccurrence(roi *image.Gray, mask []bool) (energy, homogeneity, contrast, correlation float64, ok bool) {
	b := roi.Bounds()
	w, h := b.Dx(), b.Dy()
	level := func(x, y int) int {
		return int(roi.GrayAt(b.Min.X+x, b.Min.Y+y).Y) / 8
	}
	inMask := func(x, y int) bool { return mask == nil || mask[y*w+x] }

	offsets := [4][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}}
	var used int
	for _, off := range offsets {
		dx, dy := off[0], off[1]
		var glcm [glcmLevels][glcmLevels]float64
		var total float64
		for y := 0; y < h; y++ {
			ny := y + dy
			if ny < 0 || ny >= h {
				continue
			}
			for x := 0; x < w; x++ {
				nx := x + dx
				if nx < 0 || nx >= w {
					continue
				}
				if !inMask(x, y) || !inMask(nx, ny) {
					continue
				}
				glcm[level(x, y)][level(nx, ny)]++
				total++
			}
		}
		if total == 0 {
			continue
		}
		used++

		var e, hom, con float64
		var muI, muJ float64
		for i := 0; i < glcmLevels; i++ {
			for j := 0; j < glcmLevels; j++ {
				p := glcm[i][j] / total
				e += p * p
				d := float64(i - j)
				hom += p / (1 + d*d)
				con += p * d * d
				muI += float64(i) * p
				muJ += float64(j) * p
			}
		}
		var sigmaI, sigmaJ, cov float64
		for i := 0; i < glcmLevels; i++ {
			for j := 0; j < glcmLevels; j++ {
				p := glcm[i][j] / total
				sigmaI += p * (float64(i) - muI) * (float64(i) - muI)
				sigmaJ += p * (float64(j) - muJ) * (float64(j) - muJ)
				cov += p * (float64(i) - muI) * (float64(j) - muJ)
			}
		}
		energy += e
		homogeneity += hom
		contrast += con
		if sigmaI > 0 && sigmaJ > 0 {
			correlation += cov / math.Sqrt(sigmaI*sigmaJ)
		}
	}
	if used == 0 {
		return 0, 0, 0, 0, false
	}
	n := float64(used)
	return energy / n, homogeneity / n, contrast / n, correlation / n, true
}

func textureLabel(entropy, homogeneity, edgeDensity float64) string {
	switch {
	case entropy < 4 && homogeneity > 0.7 && edgeDensity < 10:
		return TextureSmooth
	case entropy >= 4 && entropy < 6 && homogeneity < 0.5 && edgeDensity < 30:
		return TextureRough
	case entropy >= 6 && homogeneity < 0.3 && edgeDensity >= 30:
		return TextureIrregular
	default:
		return TextureComplex
	}
}
