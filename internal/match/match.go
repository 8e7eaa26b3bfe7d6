// Package match turns raw hash-neighbourhood hits into ranked
// QueryResults: group by resource, fit a robust (slope, offset) for
// the time-drift of a resource match, admit by time-stretch factor,
// filter by predicted drift, and score by per-second coverage (spec
// §4.5). Grounded on the teacher's findMatches/calculateTemporalScore
// pair, generalised from "most common Δt" (a single scalar) to a
// linear fit so a resource can still be recognised when played back at
// a different speed.
package match

import (
	"context"
	"math"
	"sort"

	"github.com/triplescan/triplescan/internal/config"
	"github.com/triplescan/triplescan/internal/logging"
	"github.com/triplescan/triplescan/internal/store"
	"go.uber.org/zap"
)

// QueryFingerprint is one triplet hash extracted from the query clip,
// anchored at q_t1 frames into the query.
type QueryFingerprint struct {
	Hash uint64
	QT1  int32
}

// Hit is one (query fingerprint, stored posting) pairing surviving the
// hash-neighbourhood lookup.
type Hit struct {
	ResourceID int32
	RefT1      int32
	QueryT1    int32
}

// deltaT is the frame offset between a stored anchor and the query
// anchor it matched: ref_t1 - q_t1. A correct, untouched alignment
// keeps this constant across all of a resource's hits.
func (h Hit) deltaT() int32 { return h.RefT1 - h.QueryT1 }

// Result is one admitted resource match, spec §4.5 Step 7's QueryResult.
type Result struct {
	ResourceID            int32
	Score                 int
	TimeFactor            float64
	FrequencyFactor       float64
	PercentSecondsMatched float64
	QueryStartFrame       int32
	QueryStopFrame        int32
	RefStartFrame         int32
	RefStopFrame          int32
}

// groupState names the pipeline stage a resource's hit group reached,
// for debug-log observability only (spec §4.5's state machine note).
type groupState string

const (
	stateRaw      groupState = "raw"
	stateGrouped  groupState = "grouped"
	stateFitted   groupState = "fitted"
	stateFiltered groupState = "filtered"
	stateCovered  groupState = "covered"
	stateEmitted  groupState = "emitted"
)

// Matcher evaluates spec §4.5's pipeline against a Store. QT1/RefT1 on
// every Hit are frame indices, not a time unit; secondsPerFrame (=
// hop/sampleRate) is what Step 6 needs to turn those into seconds, per
// spec §3's seconds = t*hop/sampleRate conversion.
type Matcher struct {
	cfg             config.Matcher
	store           store.Store
	secondsPerFrame float64
}

// New builds a Matcher against the given store, tuned by cfg. hop and
// sampleRate are the spectral framing parameters that produced the
// frame indices stored in postings and carried on Hit/QueryFingerprint.
func New(cfg config.Matcher, s store.Store, hop, sampleRate int) *Matcher {
	return &Matcher{cfg: cfg, store: s, secondsPerFrame: float64(hop) / float64(sampleRate)}
}

// Lookup implements Step 1: collect postings for every query
// fingerprint's hash neighbourhood and flatten them into Hits.
func (m *Matcher) Lookup(ctx context.Context, queries []QueryFingerprint) ([]Hit, error) {
	var hits []Hit
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return hits, err
		}
		postings, err := m.store.Query(ctx, q.Hash, uint64(m.cfg.QueryRange))
		if err != nil {
			return nil, err
		}
		for _, p := range postings {
			hits = append(hits, Hit{ResourceID: p.ResourceID, RefT1: p.T1, QueryT1: q.QT1})
		}
	}
	return hits, nil
}

// Match runs the full pipeline (Steps 2-7) over hits collected by
// Lookup, dropping resource IDs in avoid, and returns ranked Results.
func (m *Matcher) Match(ctx context.Context, hits []Hit, avoid map[int32]bool) []Result {
	groups := groupByResource(hits, avoid, m.cfg.MinHitsUnfiltered)

	var results []Result
	for id, groupHits := range groups {
		if err := ctx.Err(); err != nil {
			break
		}
		if result, ok := m.evaluateGroup(id, groupHits); ok {
			results = append(results, result)
		}
	}

	if len(results) == 0 && m.cfg.FallbackToHist {
		for id, groupHits := range groups {
			if err := ctx.Err(); err != nil {
				break
			}
			if result, ok := m.fallbackHistogram(id, groupHits); ok {
				results = append(results, result)
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if m.cfg.MaxResults > 0 && len(results) > m.cfg.MaxResults {
		results = results[:m.cfg.MaxResults]
	}
	return results
}

// groupByResource implements Step 2.
func groupByResource(hits []Hit, avoid map[int32]bool, minHits int) map[int32][]Hit {
	byID := make(map[int32][]Hit)
	for _, h := range hits {
		if avoid != nil && avoid[h.ResourceID] {
			continue
		}
		byID[h.ResourceID] = append(byID[h.ResourceID], h)
	}
	for id, group := range byID {
		if len(group) < minHits {
			delete(byID, id)
		}
	}
	return byID
}

// evaluateGroup runs Steps 3-7 for a single resource's hit group,
// logging the state reached at debug level per spec §4.5's state note.
func (m *Matcher) evaluateGroup(id int32, hits []Hit) (Result, bool) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].QueryT1 < hits[j].QueryT1 })
	m.logState(id, stateGrouped, len(hits))

	slope, offset, ok := m.fitDrift(hits)
	if !ok {
		m.logState(id, stateRaw, len(hits))
		return Result{}, false
	}
	m.logState(id, stateFitted, len(hits))

	timeFactor := 1 - slope
	if !(m.cfg.MinTimeFactor < timeFactor && timeFactor < m.cfg.MaxTimeFactor) {
		return Result{}, false
	}

	filtered := m.filterByPrediction(hits, slope, offset)
	m.logState(id, stateFiltered, len(filtered))
	if len(filtered) <= m.cfg.MinHitsFiltered {
		return Result{}, false
	}

	return m.coverAndEmit(id, filtered, timeFactor)
}

func (m *Matcher) logState(id int32, state groupState, hitCount int) {
	logging.Log.Debug("match group state",
		zap.Int32("resource_id", id), zap.String("state", string(state)), zap.Int("hits", hitCount))
}

// fitDrift implements Step 3: a robust linear fit using the mode of Δt
// among the first and last L hits as two anchor points, where
// L = min(HitPartMaxSize, max(MinHitsUnfiltered, n/HitPartDivider)),
// further capped at n.
func (m *Matcher) fitDrift(hits []Hit) (slope, offset float64, ok bool) {
	n := len(hits)
	l := m.cfg.MinHitsUnfiltered
	if div := m.cfg.HitPartDivider; div > 0 {
		if alt := n / div; alt > l {
			l = alt
		}
	}
	if l > m.cfg.HitPartMaxSize {
		l = m.cfg.HitPartMaxSize
	}
	if l > n {
		l = n
	}
	if l <= 0 {
		return 0, 0, false
	}

	first := hits[:l]
	var last []Hit
	if n-l < 0 {
		last = hits
	} else {
		last = hits[n-l:]
	}

	y1 := modeDelta(first)
	y2 := modeDelta(last)

	var x1, x2 int32
	var x1Found, x2Found bool
	for _, h := range first {
		if h.deltaT() == y1 {
			x1 = h.QueryT1
			x1Found = true
			break
		}
	}
	for i := len(last) - 1; i >= 0; i-- {
		if last[i].deltaT() == y2 {
			x2 = last[i].QueryT1
			x2Found = true
			break
		}
	}
	if !x1Found || !x2Found || x1 == x2 {
		return 0, float64(y1), true
	}

	slope = float64(y2-y1) / float64(x2-x1)
	offset = float64(y1) - slope*float64(x1)
	return slope, offset, true
}

// modeDelta returns the most frequent Δt among hits.
func modeDelta(hits []Hit) int32 {
	counts := make(map[int32]int)
	var best int32
	bestCount := -1
	for _, h := range hits {
		d := h.deltaT()
		counts[d]++
		if counts[d] > bestCount {
			bestCount = counts[d]
			best = d
		}
	}
	return best
}

// filterByPrediction implements Step 5.
func (m *Matcher) filterByPrediction(hits []Hit, slope, offset float64) []Hit {
	threshold := float64(m.cfg.QueryRange)
	var out []Hit
	for _, h := range hits {
		predicted := slope*float64(h.QueryT1) + offset
		if math.Abs(float64(h.deltaT())-predicted) <= threshold {
			out = append(out, h)
		}
	}
	return out
}

// coverAndEmit implements Steps 6-7.
func (m *Matcher) coverAndEmit(id int32, hits []Hit, timeFactor float64) (Result, bool) {
	if len(hits) == 0 || len(hits) <= m.cfg.MinHitsFiltered {
		return Result{}, false
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].QueryT1 < hits[j].QueryT1 })

	first, last := hits[0], hits[len(hits)-1]
	durationSec := float64(last.QueryT1-first.QueryT1) * m.secondsPerFrame
	if durationSec < m.cfg.MinMatchDuration {
		return Result{}, false
	}

	refFirst, refLast := hits[0].RefT1, hits[0].RefT1
	for _, h := range hits {
		if h.RefT1 < refFirst {
			refFirst = h.RefT1
		}
		if h.RefT1 > refLast {
			refLast = h.RefT1
		}
	}

	percent := m.coverage(hits, refFirst, refLast)
	if percent < m.cfg.MinSecWithMatch {
		return Result{}, false
	}
	m.logState(id, stateCovered, len(hits))
	m.logState(id, stateEmitted, len(hits))

	return Result{
		ResourceID:            id,
		Score:                 len(hits),
		TimeFactor:            timeFactor,
		FrequencyFactor:       1.0,
		PercentSecondsMatched: percent,
		QueryStartFrame:       first.QueryT1,
		QueryStopFrame:        last.QueryT1,
		RefStartFrame:         refFirst,
		RefStopFrame:          refLast,
	}, true
}

// coverage builds a per-integer-second histogram of hits by reference
// time and returns the fraction of seconds in [refFirst, refLast] that
// contain at least one hit, converting reference frame indices to
// integer seconds via secondsPerFrame first (spec §4.5 Step 6).
func (m *Matcher) coverage(hits []Hit, refFirst, refLast int32) float64 {
	span := int(float64(refLast-refFirst)*m.secondsPerFrame) + 1
	if span <= 0 {
		return 0
	}
	seen := make(map[int]bool, span)
	for _, h := range hits {
		seen[int(float64(h.RefT1-refFirst)*m.secondsPerFrame)] = true
	}
	empty := 0
	for s := 0; s < span; s++ {
		if !seen[s] {
			empty++
		}
	}
	return 1 - float64(empty)/float64(span)
}

// fallbackHistogram implements the config-gated fallback path: bucket
// Δt by 5 frames and, if the dominant bucket is large enough, admit
// every hit within ±5 frames of that bucket's centre, skipping the
// linear fit entirely.
func (m *Matcher) fallbackHistogram(id int32, hits []Hit) (Result, bool) {
	const bucketWidth = 5

	buckets := make(map[int32][]Hit)
	for _, h := range hits {
		b := h.deltaT() / bucketWidth
		buckets[b] = append(buckets[b], h)
	}

	var bestBucket int32
	bestCount := -1
	for b, group := range buckets {
		if len(group) > bestCount {
			bestCount = len(group)
			bestBucket = b
		}
	}
	if bestCount <= m.cfg.MinHitsUnfiltered {
		return Result{}, false
	}

	centre := bestBucket*bucketWidth + bucketWidth/2
	var admitted []Hit
	for _, h := range hits {
		if abs32(h.deltaT()-centre) <= bucketWidth {
			admitted = append(admitted, h)
		}
	}

	return m.coverAndEmit(id, admitted, 1.0)
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}
