package monitor

import "image/color"

// classPalette returns n distinct colors for per-class plot series.
// Hues advance by the golden angle so neighboring series stay apart at
// any n.
func classPalette(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	out := make([]color.Color, n)
	hue := 0.0
	for i := range out {
		out[i] = hsvToRGB(hue, 0.65, 0.9)
		hue += 0.618033988749895
		if hue >= 1 {
			hue -= 1
		}
	}
	return out
}

// hsvToRGB converts hue/saturation/value in [0,1) to an opaque RGBA.
func hsvToRGB(h, s, v float64) color.RGBA {
	sector := int(h * 6)
	f := h*6 - float64(sector)
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var r, g, b float64
	switch sector % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 255}
}
