// Package decode is the concrete adapter for spec §6's Decoder
// (consumed) interface, backed by github.com/faiface/beep and its
// format packages — the way the teacher's fingerprint.ConvertToWAV /
// ReadWavInfo turn a file into a flat samples slice. Open decodes the
// whole requested span into memory at once; the returned source then
// slides frames across that buffer one at a time, so a long clip is
// held in memory in full while it is processed.
package decode

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"

	"github.com/triplescan/triplescan/internal/ferrors"
)

// Frame is one length-N mono PCM window, sample values in [-1, 1].
type Frame struct {
	Index   int // frame index; seconds = Index * Hop / SampleRate
	Samples []float64
}

// Source yields overlapping frames of PCM in order. It is the
// engine-facing contract; FileSource and MicSource implement it, and
// extract/triplet code only ever depends on this interface so a test
// can substitute a synthetic generator.
type Source interface {
	// Next returns the next frame, or ok=false once the stream is
	// exhausted. It respects ctx cancellation between frames.
	Next(ctx context.Context) (frame Frame, ok bool, err error)
	Close() error
}

// FileSource decodes an audio file with beep and slides a frameSize/hop
// window of mono samples across it.
type FileSource struct {
	samples    []float64
	sampleRate int
	frameSize  int
	hop        int
	nextFrame  int
}

// Open decodes path (wav or mp3, chosen by extension) to mono PCM at
// sampleRate, optionally restricted to [startS, startS+lenS) seconds
// (lenS <= 0 means "to end of file"), and returns a Source that slides
// a frameSize-sample window across it with the given hop.
func Open(path string, sampleRate, frameSize, hop int, startS, lenS float64) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ferrors.Decode("opening audio file", err)
	}
	defer f.Close()

	var streamer beep.StreamSeekCloser
	var format beep.Format

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	default:
		return nil, ferrors.Decode("unsupported audio format: "+filepath.Ext(path), nil)
	}
	if err != nil {
		return nil, ferrors.Decode("decoding audio stream", err)
	}
	defer streamer.Close()

	resampled := beep.Resample(4, format.SampleRate, beep.SampleRate(sampleRate), streamer)

	samples, err := drain(resampled)
	if err != nil {
		return nil, ferrors.Decode("reading PCM samples", err)
	}

	samples = window(samples, sampleRate, startS, lenS)

	return &FileSource{
		samples:    samples,
		sampleRate: sampleRate,
		frameSize:  frameSize,
		hop:        hop,
	}, nil
}

// drain reads every sample out of a beep streamer, mixing stereo down
// to mono by averaging channels.
func drain(s beep.Streamer) ([]float64, error) {
	const chunk = 4096
	buf := make([][2]float64, chunk)
	var out []float64

	for {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			out = append(out, (buf[i][0]+buf[i][1])/2)
		}
		if !ok {
			break
		}
	}
	return out, nil
}

func window(samples []float64, sampleRate int, startS, lenS float64) []float64 {
	start := int(startS * float64(sampleRate))
	if start < 0 {
		start = 0
	}
	if start > len(samples) {
		start = len(samples)
	}

	end := len(samples)
	if lenS > 0 {
		e := start + int(lenS*float64(sampleRate))
		if e < end {
			end = e
		}
	}

	return samples[start:end]
}

// Next implements Source.
func (fs *FileSource) Next(ctx context.Context) (Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, false, ferrors.Cancelled("decode: " + err.Error())
	}

	start := fs.nextFrame * fs.hop
	end := start + fs.frameSize
	if end > len(fs.samples) {
		return Frame{}, false, nil
	}

	f := Frame{
		Index:   fs.nextFrame,
		Samples: fs.samples[start:end],
	}
	fs.nextFrame++
	return f, true, nil
}

// Close releases FileSource's resources. Samples are already fully
// decoded into memory, so there is nothing left to release, but the
// method exists to satisfy Source and the resource-lifetime discipline
// of spec §5.
func (fs *FileSource) Close() error { return nil }

// DurationSeconds reports the decoded clip's length.
func (fs *FileSource) DurationSeconds() float64 {
	return float64(len(fs.samples)) / float64(fs.sampleRate)
}
