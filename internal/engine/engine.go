// Package engine is the library façade gluing the decoder, spectral
// front-end, extractor, triplet builder, store and matcher into three
// operations: Store, Query and QueryLong (spec §2.8). Grounded on the
// teacher's Eureka type (internal/eureka/recognition.go), which plays
// the same role of wiring fingerprinting and recognition behind a
// small method set, generalised from a single SQL-backed database
// field to an injected store.Store so any backend can be wired in.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/triplescan/triplescan/internal/config"
	"github.com/triplescan/triplescan/internal/decode"
	"github.com/triplescan/triplescan/internal/extract"
	"github.com/triplescan/triplescan/internal/ferrors"
	"github.com/triplescan/triplescan/internal/logging"
	"github.com/triplescan/triplescan/internal/match"
	"github.com/triplescan/triplescan/internal/monitor"
	"github.com/triplescan/triplescan/internal/spectral"
	"github.com/triplescan/triplescan/internal/store"
	"github.com/triplescan/triplescan/internal/store/cachestore"
	"github.com/triplescan/triplescan/internal/store/filestore"
	"github.com/triplescan/triplescan/internal/store/kvstore"
	"github.com/triplescan/triplescan/internal/store/memstore"
	"github.com/triplescan/triplescan/internal/triplet"
	"go.uber.org/zap"
)

// OpenStore picks and opens the backend named by cfg.Storage.Backend,
// the way the teacher's database.NewDatabase switches on cfg.Database.Type.
func OpenStore(cfg config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memstore.New(), nil
	case "kv":
		kv, err := kvstore.Open(cfg.Storage.KVDriver, cfg.Storage.KVDataSource)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.CacheToFile {
			cache, err := filestore.Open(cfg.Storage.CacheFolder)
			if err != nil {
				return nil, err
			}
			return cachestore.New(kv, cache), nil
		}
		return kv, nil
	case "file":
		return filestore.Open(cfg.Storage.FileDataDir)
	default:
		return nil, ferrors.Config("unknown storage.storage_backend "+cfg.Storage.Backend, nil)
	}
}

// middleSampleChunks and chunkSize implement spec §3's ResourceId
// content-hash recipe: 8 chunks of 8 KiB read from the middle of the
// file.
const (
	middleSampleChunks = 8
	chunkSize          = 8 * 1024
	// resourceIDFloor is the lowest value a content-hashed ResourceId
	// may take, reserving [0, resourceIDFloor) for explicit sequential
	// (all-digit-basename) IDs.
	resourceIDFloor = int32(1) << 30
)

// Engine wires one Store backend to the fingerprinting pipeline.
type Engine struct {
	cfg   config.Config
	store store.Store
}

// New builds an Engine over an already-opened store.
func New(cfg config.Config, s store.Store) *Engine {
	return &Engine{cfg: cfg, store: s}
}

// Close releases the underlying store.
func (e *Engine) Close() error { return e.store.Close() }

// ResourceID derives spec §3's ResourceId: the integer basename if the
// extension-stripped filename is all digits, otherwise a MurmurHash3
// content hash of the file's middle, folded into the upper half of the
// int32 range.
func ResourceID(path string) (int32, error) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base != "" && isAllDigits(base) {
		n, err := strconv.ParseInt(base, 10, 32)
		if err == nil && n >= 0 && n < int64(resourceIDFloor) {
			return int32(n), nil
		}
	}

	h, err := contentHash(path)
	if err != nil {
		return 0, err
	}
	folded := int32((h >> 1) | uint32(resourceIDFloor))
	return folded, nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// contentHash reads middleSampleChunks chunks of chunkSize bytes
// centred on the file's midpoint and folds them through MurmurHash3.
func contentHash(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, ferrors.Decode("opening file for resource id", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, ferrors.Decode("statting file for resource id", err)
	}

	total := middleSampleChunks * chunkSize
	size := info.Size()
	start := size/2 - int64(total)/2
	if start < 0 {
		start = 0
	}

	h := murmur3.New32()
	buf := make([]byte, chunkSize)
	for i := 0; i < middleSampleChunks; i++ {
		offset := start + int64(i*chunkSize)
		if offset >= size {
			break
		}
		n, err := f.ReadAt(buf, offset)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return h.Sum32(), nil
}

// pipeline runs decode -> spectral -> extract -> triplet for one
// source, collecting every Fingerprint produced.
func (e *Engine) pipeline(ctx context.Context, src decode.Source) ([]triplet.Fingerprint, error) {
	analyzer := spectral.NewAnalyzer(e.cfg.Spectral.FrameSize)
	extractor := extract.New(e.cfg.Peaks)
	builder := triplet.New(e.cfg.Fingerprint)

	spectra := make(chan spectral.Spectrum)
	go func() {
		defer close(spectra)
		for {
			frame, ok, err := src.Next(ctx)
			if err != nil || !ok {
				return
			}
			select {
			case spectra <- analyzer.Magnitude(frame.Samples):
			case <-ctx.Done():
				return
			}
		}
	}()

	events := extractor.Run(ctx, spectra)
	fpChan := builder.Run(ctx, events)

	var fps []triplet.Fingerprint
	for fp := range fpChan {
		fps = append(fps, fp)
	}
	if err := ctx.Err(); err != nil {
		return fps, ferrors.Cancelled("pipeline: " + err.Error())
	}
	return fps, nil
}

// Store decodes path, extracts fingerprints, writes them (and the
// resource's metadata) to the backing store, and emits the fingerprint
// report side effect documented in spec §6. A clip that yields no
// fingerprints is logged with a warning and leaves the index untouched.
func (e *Engine) Store(ctx context.Context, path string) error {
	id, err := ResourceID(path)
	if err != nil {
		return err
	}

	src, err := decode.Open(path, e.cfg.Spectral.SampleRate, e.cfg.Spectral.FrameSize, e.cfg.Spectral.Hop, 0, 0)
	if err != nil {
		return err
	}
	defer src.Close()

	fps, err := e.pipeline(ctx, src)
	if err != nil {
		return err
	}
	if len(fps) == 0 {
		logging.Log.Warn("no fingerprints extracted, resource not stored", zap.String("path", path))
		return nil
	}

	seen := make(map[[2]uint64]bool, len(fps))
	for _, fp := range fps {
		key := [2]uint64{fp.Hash, uint64(fp.P1.T)}
		if seen[key] {
			continue
		}
		seen[key] = true
		e.store.Add(fp.Hash, id, int32(fp.P1.T))
	}
	if err := e.store.FlushStore(ctx); err != nil {
		return err
	}

	fileSrc, _ := src.(*decode.FileSource)
	var duration float32
	if fileSrc != nil {
		duration = float32(fileSrc.DurationSeconds())
	}

	meta := store.Metadata{
		ResourceID:      id,
		Path:            path,
		DurationSeconds: duration,
		NumFingerprints: int32(len(fps)),
	}
	if err := e.store.PutMetadata(ctx, meta); err != nil {
		return err
	}

	if err := writeFingerprintReport(path, fps, duration, e.cfg.Spectral.Hop, e.cfg.Spectral.SampleRate); err != nil {
		logging.Log.Warn("failed to write fingerprint report", zap.String("path", path), zap.Error(err))
	}

	logging.Log.Info("stored resource",
		zap.Int32("resource_id", id), zap.String("path", path), zap.Int("fingerprints", len(fps)))
	return nil
}

// writeFingerprintReport implements spec §6's stable output contract.
func writeFingerprintReport(path string, fps []triplet.Fingerprint, duration float32, hop, sampleRate int) error {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	f, err := os.Create(base + ".txt")
	if err != nil {
		return ferrors.StorageIO("creating fingerprint report", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "Duration: %.3f\n", duration)
	fmt.Fprintf(f, "Number of Prints: %d\n", len(fps))
	fmt.Fprintln(f, "Fingerprint format: Hash, t1, f1, m1, t2, f2, m2, t3, f3, m3, ts")

	for _, fp := range fps {
		minT := fp.P1.T
		if fp.P2.T < minT {
			minT = fp.P2.T
		}
		if fp.P3.T < minT {
			minT = fp.P3.T
		}
		ts := float64(minT) * float64(hop) / float64(sampleRate) * 1000.0

		fmt.Fprintf(f, "%d, %d, %d, %g, %d, %d, %g, %d, %d, %g, %.3f\n",
			fp.Hash,
			fp.P1.T, fp.P1.F, fp.P1.M,
			fp.P2.T, fp.P2.F, fp.P2.M,
			fp.P3.T, fp.P3.F, fp.P3.M,
			ts)
	}
	return nil
}

// Query decodes path in full and returns ranked matches against the
// current index.
func (e *Engine) Query(ctx context.Context, path string) ([]match.Result, error) {
	return e.queryWindow(ctx, path, 0, 0)
}

func (e *Engine) queryWindow(ctx context.Context, path string, startS, lenS float64) ([]match.Result, error) {
	src, err := decode.Open(path, e.cfg.Spectral.SampleRate, e.cfg.Spectral.FrameSize, e.cfg.Spectral.Hop, startS, lenS)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return e.querySource(ctx, src)
}

// QueryLive runs the matcher continuously over a live decode.Source
// (typically *decode.MicSource), emitting one result set per
// windowSeconds of captured audio until ctx is cancelled. Grounded on
// the teacher's RecognizeFromMicrophone polling loop, restructured
// around this package's Source/pipeline abstraction instead of a
// dedicated spectrogram-plus-ticker routine.
func (e *Engine) QueryLive(ctx context.Context, src decode.Source, windowSeconds float64) (<-chan []match.Result, error) {
	out := make(chan []match.Result)
	framesPerWindow := int(windowSeconds*float64(e.cfg.Spectral.SampleRate)) / e.cfg.Spectral.Hop
	if framesPerWindow < 1 {
		framesPerWindow = 1
	}

	go func() {
		defer close(out)
		analyzer := spectral.NewAnalyzer(e.cfg.Spectral.FrameSize)
		extractor := extract.New(e.cfg.Peaks)
		builder := triplet.New(e.cfg.Fingerprint)

		spectra := make(chan spectral.Spectrum)
		go func() {
			defer close(spectra)
			for {
				frame, ok, err := src.Next(ctx)
				if err != nil || !ok {
					return
				}
				select {
				case spectra <- analyzer.Magnitude(frame.Samples):
				case <-ctx.Done():
					return
				}
			}
		}()

		events := extractor.Run(ctx, spectra)
		fpChan := builder.Run(ctx, events)

		var buffered []triplet.Fingerprint
		nextEmit := framesPerWindow
		for fp := range fpChan {
			buffered = append(buffered, fp)
			if fp.P1.T >= nextEmit {
				nextEmit = (fp.P1.T/framesPerWindow + 1) * framesPerWindow
				results, err := e.matchFingerprints(ctx, buffered)
				if err == nil {
					select {
					case out <- results:
					case <-ctx.Done():
						return
					}
				}
				buffered = nil
			}
		}
	}()

	return out, nil
}

func (e *Engine) querySource(ctx context.Context, src decode.Source) ([]match.Result, error) {
	fps, err := e.pipeline(ctx, src)
	if err != nil {
		return nil, err
	}
	return e.matchFingerprints(ctx, fps)
}

func (e *Engine) matchFingerprints(ctx context.Context, fps []triplet.Fingerprint) ([]match.Result, error) {
	queries := make([]match.QueryFingerprint, len(fps))
	for i, fp := range fps {
		queries[i] = match.QueryFingerprint{Hash: fp.Hash, QT1: int32(fp.P1.T)}
	}

	matcher := match.New(e.cfg.Matcher, e.store, e.cfg.Spectral.Hop, e.cfg.Spectral.SampleRate)
	hits, err := matcher.Lookup(ctx, queries)
	if err != nil {
		return nil, err
	}
	return matcher.Match(ctx, hits, nil), nil
}

// QueryLong slides a window across a long query per spec §4.6,
// dispatching sub-queries through a bounded worker pool, and returns
// one result set per window in window order.
func (e *Engine) QueryLong(ctx context.Context, path string) ([][]match.Result, error) {
	src, err := decode.Open(path, e.cfg.Spectral.SampleRate, e.cfg.Spectral.FrameSize, e.cfg.Spectral.Hop, 0, 0)
	if err != nil {
		return nil, err
	}
	fileSrc, ok := src.(*decode.FileSource)
	src.Close()
	if !ok {
		return nil, ferrors.Decode("QueryLong requires a seekable file source", nil)
	}

	windows := monitor.Windows(fileSrc.DurationSeconds(), e.cfg.Monitor)
	mon := monitor.New(e.cfg.Monitor)

	results := mon.Run(ctx, windows, func(ctx context.Context, startS, lenS float64) (any, error) {
		return e.queryWindow(ctx, path, startS, lenS)
	})

	out := make([][]match.Result, len(results))
	for i, r := range results {
		if r.Err != nil {
			logging.Log.Warn("monitor window failed", zap.Int("window", r.Window.Index), zap.Error(r.Err))
			continue
		}
		if v, ok := r.Value.([]match.Result); ok {
			out[i] = v
		}
	}
	return out, nil
}

// Delete removes a resource's metadata and every posting recorded
// under it: DeleteMetadata cascades on every backend, so a query
// issued after Delete returns never resolves the resource again.
func (e *Engine) Delete(ctx context.Context, resourceID int32) error {
	if _, err := e.store.GetMetadata(ctx, resourceID); err != nil {
		return err
	}
	return e.store.DeleteMetadata(ctx, resourceID)
}

// Stats reports the current store's summary counts.
func (e *Engine) Stats(ctx context.Context) (store.Stats, error) {
	return e.store.Stats(ctx)
}
