// Package triplet combines an event-point stream into three-peak
// fingerprints and folds each triplet into a 64-bit hash (spec §4.3).
// Grounded on the teacher's fan-out pairing in
// generateFingerprintsWithTolerance, widened from pairs to ordered
// triplets, and on tefkah-seek-tune's bit-packed address encoding for
// the general shape of "quantise a few numbers into fixed bit fields".
package triplet

import (
	"context"
	"sort"

	"github.com/triplescan/triplescan/internal/config"
	"github.com/triplescan/triplescan/internal/extract"
)

// Fingerprint is three ordered event points plus their derived hash.
// Identity in the index is (Hash, resourceID, P1.T) — P2/P3 are kept
// for diagnostics and the fingerprint report (spec §6).
type Fingerprint struct {
	Hash   uint64
	P1, P2, P3 extract.EventPoint
}

// Builder accumulates a sliding window of recent event points (bounded
// by the triplet geometry's max time window) and emits Fingerprints as
// soon as an anchor's candidates are fully known.
type Builder struct {
	cfg config.Fingerprint

	window []windowPoint // points still in range of a future anchor
}

// windowPoint tracks whether an event point still pending in the
// window has already been used as an anchor.
type windowPoint struct {
	pt    extract.EventPoint
	final bool
}

// New builds a Builder for the given triplet geometry.
func New(cfg config.Fingerprint) *Builder {
	return &Builder{cfg: cfg}
}

// Run consumes event points from in (assumed ordered by T, as the
// extractor guarantees) and emits Fingerprints to the returned channel.
func (b *Builder) Run(ctx context.Context, in <-chan extract.EventPoint) <-chan Fingerprint {
	out := make(chan Fingerprint)

	go func() {
		defer close(out)
		for pt := range in {
			if ctx.Err() != nil {
				return
			}
			b.window = append(b.window, windowPoint{pt: pt})

			for _, fp := range b.fingerprintsFor(pt, false) {
				select {
				case out <- fp:
				case <-ctx.Done():
					return
				}
			}
			b.evict(pt.T)
		}

		// End of stream: no later point can arrive, so every anchor
		// still pending has its full candidate set.
		for _, fp := range b.fingerprintsFor(extract.EventPoint{}, true) {
			select {
			case out <- fp:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// evict drops points from the front of the window once they can no
// longer serve as an anchor whose third-peak window reaches current.
func (b *Builder) evict(currentT int) {
	maxWindow := b.cfg.DtMax * 2 // widened window allowed for the third peak
	i := 0
	for i < len(b.window) && currentT-b.window[i].pt.T > maxWindow {
		i++
	}
	if i > 0 {
		b.window = b.window[i:]
	}
}

// fingerprintsFor re-evaluates every anchor p1 still pending in the
// window and, for each one whose candidates are fully known, emits the
// (p2, p3) pairs that follow it in the window and satisfy the geometric
// constraints of spec §4.3. Because points are only appended in T
// order, an anchor's candidates are fully known once latest.T reaches
// anchor.T + 2*dtMax, or once endOfStream is set. The caller invokes
// this once per new point, and once more with endOfStream at the end.
func (b *Builder) fingerprintsFor(latest extract.EventPoint, endOfStream bool) []Fingerprint {
	var out []Fingerprint

	for i := range b.window {
		anchor := b.window[i].pt
		if !endOfStream && latest.T-anchor.T < b.cfg.DtMax*2 {
			// Not yet ready to finalise this anchor's candidate set.
			continue
		}
		if b.window[i].final {
			continue
		}
		b.window[i].final = true

		rest := make([]extract.EventPoint, 0, len(b.window)-i-1)
		for _, wp := range b.window[i+1:] {
			rest = append(rest, wp.pt)
		}

		candidates := b.candidatesFor(anchor, rest)
		out = append(out, candidates...)
	}
	return out
}

// candidatesFor builds all (p2, p3) triplets for anchor that satisfy
// the geometric window, capped at MaxPerAnchor by highest
// sum-of-magnitudes.
func (b *Builder) candidatesFor(anchor extract.EventPoint, rest []extract.EventPoint) []Fingerprint {
	type cand struct {
		p2, p3 extract.EventPoint
		sumMag float64
	}

	var p2s []extract.EventPoint
	for _, p := range rest {
		dt := p.T - anchor.T
		if dt < b.cfg.DtMin || dt > b.cfg.DtMax {
			continue
		}
		df := abs(p.F - anchor.F)
		if df < b.cfg.DfMin || df > b.cfg.DfMax {
			continue
		}
		p2s = append(p2s, p)
	}

	var cands []cand
	for _, p2 := range p2s {
		for _, p3 := range rest {
			if p3.T <= p2.T {
				continue
			}
			dt := p3.T - anchor.T
			if dt > b.cfg.DtMax*2 {
				continue
			}
			if p3 == p2 {
				continue
			}
			cands = append(cands, cand{p2: p2, p3: p3, sumMag: anchor.M + p2.M + p3.M})
		}
	}

	if len(cands) > b.cfg.MaxPerAnchor {
		sort.Slice(cands, func(i, j int) bool { return cands[i].sumMag > cands[j].sumMag })
		cands = cands[:b.cfg.MaxPerAnchor]
	}

	out := make([]Fingerprint, 0, len(cands))
	for _, c := range cands {
		out = append(out, Fingerprint{
			Hash: Hash(anchor, c.p2, c.p3),
			P1:   anchor, P2: c.p2, P3: c.p3,
		})
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Hash folds a triplet into a 64-bit integer per spec §4.3's bit
// layout. It is a pure function of (p1, p2, p3): identical quantised
// triplets always hash identically, independent of absolute time.
func Hash(p1, p2, p3 extract.EventPoint) uint64 {
	f1 := clampBits(p1.F, 9)

	f2r := quantiseRatio(float64(p2.F)/float64(max1(p1.F)), 256, 9)
	f3r := quantiseRatio(float64(p3.F)/float64(max1(p1.F)), 256, 9)

	dt13 := float64(p3.T - p1.T)
	t12r := quantiseRatio(safeDiv(float64(p2.T-p1.T), dt13), 4095, 12)
	t23r := quantiseRatio(safeDiv(float64(p3.T-p2.T), dt13), 4095, 12)

	var h uint64
	h |= uint64(f1) << 55
	h |= uint64(f2r) << 46
	h |= uint64(f3r) << 37
	h |= uint64(t12r) << 25
	h |= uint64(t23r) << 13
	return h
}

func max1(x int) int {
	if x < 1 {
		return 1
	}
	return x
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// clampBits quantises a bin index directly into an n-bit field.
func clampBits(v, bits int) uint32 {
	maxVal := uint32(1)<<bits - 1
	if v < 0 {
		return 0
	}
	if uint32(v) > maxVal {
		return maxVal
	}
	return uint32(v)
}

// quantiseRatio maps a ratio onto an n-bit field by multiplying it by
// scale and clamping to the field's range.
func quantiseRatio(ratio, scale float64, bits int) uint32 {
	maxVal := float64(uint32(1)<<bits - 1)
	scaled := ratio * scale
	if scaled < 0 {
		scaled = 0
	}
	if scaled > maxVal {
		scaled = maxVal
	}
	return uint32(scaled)
}
