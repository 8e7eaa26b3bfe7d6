// Package monitor slides a fixed window with overlap across a long
// query and dispatches the resulting sub-queries through a small
// bounded worker pool (spec §4.6). Grounded on zfogg-sidechain's
// internal/queue.AudioQueue: a buffered job channel, a
// runtime.NumCPU()-sized (capped) worker count, and a context-based
// shutdown, generalised here from "jobs are audio uploads" to "jobs
// are independent sub-query windows against the same store".
package monitor

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/triplescan/triplescan/internal/config"
)

const maxWorkers = 8

// Window is one [StartSeconds, StartSeconds+LenSeconds) sub-query.
type Window struct {
	Index        int
	StartSeconds float64
	LenSeconds   float64
}

// WindowResult pairs a window with whatever QueryFunc returned for it.
type WindowResult struct {
	Window Window
	Value  any
	Err    error
}

// QueryFunc runs one sub-query over [startS, startS+lenS) and returns
// an engine-defined result value (typically []match.Result).
type QueryFunc func(ctx context.Context, startS, lenS float64) (any, error)

// Windows computes the sequence of sub-query windows for a clip of
// duration D given step S and overlap O: t = 0, S-O, 2(S-O), ... while
// t+S < D, per spec §4.6.
func Windows(durationSeconds float64, cfg config.Monitor) []Window {
	step := cfg.StepSeconds - cfg.OverlapSeconds
	if step <= 0 {
		step = cfg.StepSeconds
	}

	var windows []Window
	for i, t := 0, 0.0; t+cfg.StepSeconds < durationSeconds; i, t = i+1, t+step {
		windows = append(windows, Window{Index: i, StartSeconds: t, LenSeconds: cfg.StepSeconds})
	}
	return windows
}

// Monitor dispatches Windows to query through a bounded worker pool.
type Monitor struct {
	workers int
}

// New builds a Monitor with cfg.Workers workers (runtime.NumCPU() when
// unset, the way AudioQueue sizes itself), capped at maxWorkers so a long
// query can't flood the shared store with unbounded concurrent readers.
func New(cfg config.Monitor) *Monitor {
	w := cfg.Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > maxWorkers {
		w = maxWorkers
	}
	if w < 1 {
		w = 1
	}
	return &Monitor{workers: w}
}

// Run dispatches every window in windows to query, run concurrently
// across the worker pool, and returns results in window order. It
// returns as soon as ctx is done, with results collected so far.
func (mon *Monitor) Run(ctx context.Context, windows []Window, query QueryFunc) []WindowResult {
	jobs := make(chan Window)
	resultsCh := make(chan WindowResult)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < mon.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range jobs {
				value, err := query(ctx, w.StartSeconds, w.LenSeconds)
				select {
				case resultsCh <- WindowResult{Window: w, Value: value, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, w := range windows {
			select {
			case jobs <- w:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var out []WindowResult
	for r := range resultsCh {
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Window.Index < out[j].Window.Index })
	return out
}
