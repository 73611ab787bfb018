package vision

import "testing"

func TestClassifyDamageCircularPothole(t *testing.T) {
	t.Parallel()

	geom := GeometricDescriptor{
		Circularity: 0.9,
		Convexity:   0.9,
		AreaM2:      0.1,
		HasMetric:   true,
	}
	tex := TextureDescriptor{Homogeneity: 0.6}

	got := ClassifyDamage(geom, tex)
	if got.Kind != DamageCircularPothole {
		t.Fatalf("Kind = %q, want %q (scores %v)", got.Kind, DamageCircularPothole, got.Scores)
	}
	if got.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", got.Confidence)
	}
}

func TestClassifyDamageCrack(t *testing.T) {
	t.Parallel()

	geom := GeometricDescriptor{
		AspectRatio:    6,
		EllipseMajorPx: 100,
		EllipseMinorPx: 10,
		Circularity:    0.1,
		Convexity:      0.95,
	}
	tex := TextureDescriptor{Homogeneity: 0.6, Entropy: 3, EdgeDensity: 10}

	got := ClassifyDamage(geom, tex)
	if got.Kind != DamageCrack {
		t.Fatalf("Kind = %q, want %q (scores %v)", got.Kind, DamageCrack, got.Scores)
	}
	if got.Secondary != "" {
		t.Errorf("Secondary = %q, want none with a wide score gap", got.Secondary)
	}
}

func TestClassifyDamageIrregularPothole(t *testing.T) {
	t.Parallel()

	geom := GeometricDescriptor{
		Circularity:    0.3,
		Convexity:      0.4,
		AspectRatio:    1.5,
		EllipseMajorPx: 50,
		EllipseMinorPx: 40,
	}
	tex := TextureDescriptor{Entropy: 6.5, EdgeDensity: 35, Homogeneity: 0.2}

	got := ClassifyDamage(geom, tex)
	if got.Kind != DamageIrregularPothole {
		t.Fatalf("Kind = %q, want %q (scores %v)", got.Kind, DamageIrregularPothole, got.Scores)
	}
}

func TestClassifyDamageErosion(t *testing.T) {
	t.Parallel()

	geom := GeometricDescriptor{
		Circularity: 0.45,
		Convexity:   0.8,
		AreaM2:      0.03,
		HasMetric:   true,
	}
	tex := TextureDescriptor{Homogeneity: 0.2, EdgeDensity: 10, Entropy: 2}

	got := ClassifyDamage(geom, tex)
	if got.Kind != DamageErosion {
		t.Fatalf("Kind = %q, want %q (scores %v)", got.Kind, DamageErosion, got.Scores)
	}
}

func TestClassifyDamageSecondary(t *testing.T) {
	t.Parallel()

	// Circularity and convexity say round pothole, the thin ellipse
	// and aspect say crack; both pile up past 50 within 20 points.
	geom := GeometricDescriptor{
		Circularity:    0.55,
		Convexity:      0.92,
		AspectRatio:    2.5,
		EllipseMajorPx: 100,
		EllipseMinorPx: 30,
		AreaM2:         0.05,
		HasMetric:      true,
	}
	tex := TextureDescriptor{Homogeneity: 0.55, EdgeDensity: 18, Entropy: 4}

	got := ClassifyDamage(geom, tex)
	if got.Kind != DamageCircularPothole {
		t.Fatalf("Kind = %q, want %q (scores %v)", got.Kind, DamageCircularPothole, got.Scores)
	}
	if got.Secondary != DamageCrack {
		t.Errorf("Secondary = %q, want %q (scores %v)", got.Secondary, DamageCrack, got.Scores)
	}
	if got.Confidence != 0.75 {
		t.Errorf("Confidence = %v, want 0.75", got.Confidence)
	}
}

func TestClassifyDamageScoreOrderStable(t *testing.T) {
	t.Parallel()

	got := ClassifyDamage(GeometricDescriptor{}, TextureDescriptor{})
	want := []string{DamageCircularPothole, DamageIrregularPothole, DamageCrack, DamageErosion}
	if len(got.Scores) != len(want) {
		t.Fatalf("Scores has %d entries, want %d", len(got.Scores), len(want))
	}
	for i, ks := range got.Scores {
		if ks.Kind != want[i] {
			t.Errorf("Scores[%d] = %q, want %q", i, ks.Kind, want[i])
		}
	}
}

func TestClassifyDamageCapsAtHundred(t *testing.T) {
	t.Parallel()

	// Every circular cue at its strongest bucket.
	geom := GeometricDescriptor{
		Circularity: 0.95,
		Convexity:   0.95,
		AreaM2:      0.1,
		HasMetric:   true,
	}
	tex := TextureDescriptor{Homogeneity: 0.9}

	got := ClassifyDamage(geom, tex)
	for _, ks := range got.Scores {
		if ks.Score > 100 {
			t.Errorf("%s score = %v, exceeds 100", ks.Kind, ks.Score)
		}
	}
}
