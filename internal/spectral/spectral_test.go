package spectral

import (
	"math"
	"testing"
)

func TestMagnitudeLengthIsHalfFrame(t *testing.T) {
	a := NewAnalyzer(8)
	frame := make([]float64, 8)
	for i := range frame {
		frame[i] = 1.0
	}
	spec := a.Magnitude(frame)
	if len(spec) != 4 {
		t.Fatalf("expected half-spectrum of length 4, got %d", len(spec))
	}
}

func TestMagnitudeDetectsDominantFrequency(t *testing.T) {
	const n = 64
	a := NewAnalyzer(n)
	frame := make([]float64, n)
	// A pure tone at bin 8 of an n-point DFT.
	for i := range frame {
		frame[i] = math.Sin(2 * math.Pi * 8 * float64(i) / n)
	}
	spec := a.Magnitude(frame)

	peakBin, peakVal := 0, -1.0
	for i, v := range spec {
		if v > peakVal {
			peakVal = v
			peakBin = i
		}
	}
	if peakBin < 6 || peakBin > 10 {
		t.Fatalf("expected peak near bin 8, got bin %d", peakBin)
	}
}

func TestWithTransformOverridesDefault(t *testing.T) {
	called := false
	a := NewAnalyzer(4).WithTransform(func(frame []float64) []complex128 {
		called = true
		return make([]complex128, len(frame))
	})
	a.Magnitude(make([]float64, 4))
	if !called {
		t.Fatal("expected overridden transform to be invoked")
	}
}
