// Package spectral turns windowed PCM frames into magnitude spectra.
// It is the concrete adapter for spec §4.1/§6's FFT (consumed)
// interface, backed by github.com/mjibson/go-dsp/fft the way
// lukechampine/barbershop pairs faiface/beep decode output with a
// real FFT library rather than hand-rolling one.
package spectral

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Spectrum is one frame's half-spectrum magnitude vector, length N/2.
type Spectrum []float64

// Transform maps a length-N real frame to its complex DFT. Exposed as a
// func type so tests can substitute a deterministic stub without
// depending on the real FFT.
type Transform func(frame []float64) []complex128

// Analyzer applies a Hann window then a real FFT to each incoming frame.
type Analyzer struct {
	frameSize int
	window    []float64
	transform Transform
}

// NewAnalyzer builds an Analyzer for frames of the given size, using
// go-dsp's FFTReal as the default transform.
func NewAnalyzer(frameSize int) *Analyzer {
	return &Analyzer{
		frameSize: frameSize,
		window:    hannWindow(frameSize),
		transform: fft.FFTReal,
	}
}

// WithTransform overrides the FFT implementation (used by tests).
func (a *Analyzer) WithTransform(t Transform) *Analyzer {
	a.transform = t
	return a
}

// Magnitude windows and transforms one frame, returning the half-spectrum
// magnitude = sqrt(re^2 + im^2). Deterministic: identical input yields an
// identical result.
func (a *Analyzer) Magnitude(frame []float64) Spectrum {
	if len(frame) != a.frameSize {
		panic("spectral: frame length does not match analyzer frame size")
	}

	windowed := make([]float64, a.frameSize)
	for i, s := range frame {
		windowed[i] = s * a.window[i]
	}

	spectrum := a.transform(windowed)

	half := a.frameSize / 2
	mag := make(Spectrum, half)
	for i := 0; i < half; i++ {
		mag[i] = cmplx.Abs(spectrum[i])
	}
	return mag
}

// hannWindow precomputes the Hann window coefficients for a frame of
// the given size.
func hannWindow(size int) []float64 {
	w := make([]float64, size)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return w
}
