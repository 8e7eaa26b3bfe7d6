package match

import (
	"context"
	"testing"

	"github.com/triplescan/triplescan/internal/config"
	"github.com/triplescan/triplescan/internal/store"
	"github.com/triplescan/triplescan/internal/store/memstore"
)

// newTestMatcher builds a Matcher with hop=1, sampleRate=1 so
// secondsPerFrame is 1 and every frame index in a synthetic Hit can be
// read directly as a "second" in the assertions below.
func newTestMatcher(cfg config.Matcher, s store.Store) *Matcher {
	return New(cfg, s, 1, 1)
}

// testConfig relaxes the duration/coverage thresholds so small synthetic
// hit sets can exercise the pipeline without needing thousands of points.
func testConfig() config.Matcher {
	return config.Matcher{
		QueryRange:        5,
		MinHitsUnfiltered: 3,
		MinHitsFiltered:   2,
		HitPartMaxSize:    3,
		HitPartDivider:    100,
		MinTimeFactor:     0.5,
		MaxTimeFactor:     1.5,
		MinMatchDuration:  0,
		MinSecWithMatch:   0,
		FallbackToHist:    true,
		MaxResults:        10,
	}
}

// consistentHits builds a resource's hit group with a fixed delta-T, the
// shape a correctly time-aligned match produces.
func consistentHits(resourceID int32, deltaT int32, n int) []Hit {
	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Hit{ResourceID: resourceID, QueryT1: int32(i), RefT1: int32(i) + deltaT}
	}
	return hits
}

func TestMatchAdmitsConsistentDeltaT(t *testing.T) {
	m := newTestMatcher(testConfig(), memstore.New())
	hits := consistentHits(1, 100, 5)

	results := m.Match(context.Background(), hits, nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d: %+v", len(results), results)
	}
	r := results[0]
	if r.ResourceID != 1 {
		t.Fatalf("expected resource 1, got %d", r.ResourceID)
	}
	if r.Score != 5 {
		t.Fatalf("expected all 5 hits admitted, got score %d", r.Score)
	}
	if r.TimeFactor != 1.0 {
		t.Fatalf("expected time factor 1.0 for zero drift, got %v", r.TimeFactor)
	}
	if r.RefStartFrame != 100 || r.RefStopFrame != 104 {
		t.Fatalf("unexpected ref frame span: %d..%d", r.RefStartFrame, r.RefStopFrame)
	}
}

func TestMatchDropsGroupBelowMinHits(t *testing.T) {
	m := newTestMatcher(testConfig(), memstore.New())
	hits := consistentHits(1, 100, 2) // below MinHitsUnfiltered of 3

	results := m.Match(context.Background(), hits, nil)
	if len(results) != 0 {
		t.Fatalf("expected no results for an under-sized group, got %+v", results)
	}
}

func TestMatchRejectsExtremeTimeFactor(t *testing.T) {
	cfg := testConfig()
	m := newTestMatcher(cfg, memstore.New())

	// Resource 1: clean, consistent alignment (passes).
	good := consistentHits(1, 100, 5)

	// Resource 2: delta-T drifts sharply with query time, well outside the
	// accepted time-stretch factor.
	var drifting []Hit
	for _, qt := range []int32{0, 1, 2} {
		drifting = append(drifting, Hit{ResourceID: 2, QueryT1: qt, RefT1: qt + 100})
	}
	for _, qt := range []int32{10, 11, 12} {
		drifting = append(drifting, Hit{ResourceID: 2, QueryT1: qt, RefT1: qt + 130})
	}

	all := append(good, drifting...)
	results := m.Match(context.Background(), all, nil)

	for _, r := range results {
		if r.ResourceID == 2 {
			t.Fatalf("expected resource 2 to be rejected for its time factor, got %+v", r)
		}
	}
	found1 := false
	for _, r := range results {
		if r.ResourceID == 1 {
			found1 = true
		}
	}
	if !found1 {
		t.Fatalf("expected resource 1 to still be admitted, got %+v", results)
	}
}

func TestMatchFallsBackToHistogramWhenFitUnavailable(t *testing.T) {
	cfg := testConfig()
	// Force fitDrift to report ok=false for every group (l stays 0).
	cfg.HitPartMaxSize = 0
	cfg.HitPartDivider = 0
	cfg.MinHitsUnfiltered = 0
	m := newTestMatcher(cfg, memstore.New())

	hits := consistentHits(1, 100, 5)
	results := m.Match(context.Background(), hits, nil)
	if len(results) != 1 {
		t.Fatalf("expected the histogram fallback to admit resource 1, got %+v", results)
	}
	if results[0].TimeFactor != 1.0 {
		t.Fatalf("expected fallback path to report a neutral time factor, got %v", results[0].TimeFactor)
	}
}

func TestMatchRespectsAvoidSet(t *testing.T) {
	m := newTestMatcher(testConfig(), memstore.New())
	hits := consistentHits(1, 100, 5)

	results := m.Match(context.Background(), hits, map[int32]bool{1: true})
	if len(results) != 0 {
		t.Fatalf("expected avoided resource to be excluded, got %+v", results)
	}
}

func TestMatchConvertsFramesToSecondsForDurationAndCoverage(t *testing.T) {
	// 10s of hits at SR=16000/HOP=128 (~125 frames/sec), the §8 scenario 2
	// shape: frame-count-based thresholds would wrongly reject this as a
	// 1.25s match; second-based thresholds correctly admit it as 10s.
	const hop, sampleRate = 128, 16000
	const framesPerSecond = sampleRate / hop

	cfg := testConfig()
	cfg.MinMatchDuration = 2.0
	cfg.MinSecWithMatch = 0.3
	cfg.MinHitsUnfiltered = 3
	cfg.MinHitsFiltered = 2

	var hits []Hit
	for sec := 0; sec < 10; sec++ {
		for k := 0; k < 3; k++ {
			frame := int32(sec*framesPerSecond + k*10)
			hits = append(hits, Hit{ResourceID: 1, QueryT1: frame, RefT1: frame + 5000})
		}
	}

	m := New(cfg, memstore.New(), hop, sampleRate)
	results := m.Match(context.Background(), hits, nil)
	if len(results) != 1 {
		t.Fatalf("expected a 10s, multi-hit-per-second match to be admitted, got %+v", results)
	}
	if results[0].PercentSecondsMatched < 0.99 {
		t.Fatalf("expected near-full per-second coverage, got %v", results[0].PercentSecondsMatched)
	}
}

func TestLookupQueriesStoreNeighbourhood(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	s.Add(1000, 7, 42)
	s.Add(1002, 8, 43)
	if err := s.FlushStore(ctx); err != nil {
		t.Fatalf("FlushStore: %v", err)
	}

	m := newTestMatcher(testConfig(), s)
	hits, err := m.Lookup(ctx, []QueryFingerprint{{Hash: 1000, QT1: 10}})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits within query range, got %d: %+v", len(hits), hits)
	}
}
