// Package extract locates sparse spectral peaks ("event points") in a
// stream of magnitude spectra: spec §4.2's two-stage filter (2-D local
// maximum, then EMA-whitened magnitude gating) plus a per-frame density
// cap. Grounded on the teacher's isLocalPeak (a 3x3 local-max check)
// generalised to a configurable (2*dt+1)x(2*df+1) neighbourhood, and on
// owulveryck-echoprint-codegen's per-band smoothed energy estimate for
// the whitening step.
package extract

import (
	"context"
	"sort"

	"github.com/triplescan/triplescan/internal/config"
	"github.com/triplescan/triplescan/internal/spectral"
)

// EventPoint is a local maximum on the STFT magnitude surface that
// survived whitening and density gating. Never persisted — consumed
// immediately by the triplet builder.
type EventPoint struct {
	T int     // frame index
	F int     // frequency bin, 0..N/2-1
	M float64 // magnitude
}

// Extractor holds the running state (ring buffer of recent spectra,
// per-bin EMA) needed to evaluate the two-stage filter as frames
// arrive in order.
type Extractor struct {
	cfg config.Peaks

	ring      []spectral.Spectrum // ring buffer, length 2*dt+1
	ringStart int                 // frame index of ring[0]
	filled    int

	ema []float64 // per-bin exponentially smoothed magnitude
}

// New builds an Extractor for the given peak-picking configuration.
func New(cfg config.Peaks) *Extractor {
	return &Extractor{
		cfg:  cfg,
		ring: make([]spectral.Spectrum, 2*cfg.NeighbourhoodT+1),
	}
}

// Run consumes spectra from in and emits accepted EventPoints to the
// returned channel, closing it when in closes or ctx is cancelled.
// CPU-bound work (the local-max and whitening checks) runs to
// completion per frame; ctx is only checked at frame boundaries, per
// spec §5's cancellation policy.
func (e *Extractor) Run(ctx context.Context, in <-chan spectral.Spectrum) <-chan EventPoint {
	out := make(chan EventPoint)

	go func() {
		defer close(out)
		t := 0
		for spectrum := range in {
			if ctx.Err() != nil {
				return
			}
			for _, pt := range e.process(t, spectrum) {
				select {
				case out <- pt:
				case <-ctx.Done():
					return
				}
			}
			t++
		}
	}()

	return out
}

// process feeds one spectrum through the ring buffer, evaluates the
// local-max + whitening filter for the frame that is now centred in
// the buffer (t - dt), and updates the EMA. It returns that frame's
// accepted event points, density-capped.
func (e *Extractor) process(t int, spectrum spectral.Spectrum) []EventPoint {
	if e.ema == nil {
		e.ema = make([]float64, len(spectrum))
	}

	e.pushRing(t, spectrum)
	e.updateEMA(spectrum)

	dt := e.cfg.NeighbourhoodT
	centreT := t - dt
	if e.filled <= 2*dt || centreT < 0 {
		return nil
	}

	centre := e.ringAt(centreT)
	if centre == nil {
		return nil
	}

	var candidates []EventPoint
	for f, m := range centre {
		if !e.isLocalMax(centreT, f) {
			continue
		}
		if m <= e.cfg.EMAK*e.ema[f] {
			continue
		}
		candidates = append(candidates, EventPoint{T: centreT, F: f, M: m})
	}

	return capDensity(candidates, e.cfg.PerFrameMax)
}

func (e *Extractor) pushRing(t int, spectrum spectral.Spectrum) {
	idx := t % len(e.ring)
	e.ring[idx] = spectrum
	e.filled++
	// ringStart slides so it always names the oldest frame still held.
	e.ringStart = t - len(e.ring) + 1
	if e.ringStart < 0 {
		e.ringStart = 0
	}
}

// ringAt returns the spectrum recorded for frame t, or nil if it has
// already been evicted from (or never entered) the ring.
func (e *Extractor) ringAt(t int) spectral.Spectrum {
	if t < e.ringStart {
		return nil
	}
	if t >= e.ringStart+len(e.ring) {
		return nil
	}
	return e.ring[t%len(e.ring)]
}

func (e *Extractor) updateEMA(spectrum spectral.Spectrum) {
	alpha := e.cfg.EMAAlpha
	for f, m := range spectrum {
		e.ema[f] = alpha*e.ema[f] + (1-alpha)*m
	}
}

// isLocalMax implements spec §4.2.1: strictly greater than every other
// bin in the (2dt+1)x(2df+1) neighbourhood around (t, f).
func (e *Extractor) isLocalMax(t, f int) bool {
	dt := e.cfg.NeighbourhoodT
	df := e.cfg.NeighbourhoodF

	centre := e.ringAt(t)
	if centre == nil || f < 0 || f >= len(centre) {
		return false
	}
	value := centre[f]

	for ddt := -dt; ddt <= dt; ddt++ {
		neighbour := e.ringAt(t + ddt)
		if neighbour == nil {
			// Out of the ring means outside what's been decoded yet;
			// only possible at stream edges, treated as no constraint.
			continue
		}
		for ddf := -df; ddf <= df; ddf++ {
			if ddt == 0 && ddf == 0 {
				continue
			}
			nf := f + ddf
			if nf < 0 || nf >= len(neighbour) {
				continue
			}
			if value <= neighbour[nf] {
				return false
			}
		}
	}
	return true
}

// capDensity keeps at most max event points per frame, the highest
// magnitude ones, implementing spec §4.2.3.
func capDensity(points []EventPoint, max int) []EventPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	sort.Slice(points, func(i, j int) bool { return points[i].M > points[j].M })
	kept := make([]EventPoint, max)
	copy(kept, points[:max])
	sort.Slice(kept, func(i, j int) bool { return kept[i].F < kept[j].F })
	return kept
}
