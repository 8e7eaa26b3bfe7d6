// Live-capture decode.Source, adapted from the teacher's
// MicrophoneRecorder: a ring-buffered portaudio input stream, reshaped
// from "accumulate five seconds then recognize in a callback" into a
// plain Source whose Next blocks until one more frameSize/hop window
// of samples has arrived, so it can feed the same decode -> spectral
// -> extract -> triplet pipeline a file does.
package decode

import (
	"context"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/triplescan/triplescan/internal/ferrors"
)

// MicSource reads mono float64 samples from the default input device
// and slides a frameSize/hop window across them as they arrive.
type MicSource struct {
	stream *portaudio.Stream

	mu        sync.Mutex
	buf       []float64 // samples received so far, never trimmed (capture sessions are short)
	nextFrame int

	frameSize int
	hop       int
	closed    bool
}

// OpenMicrophone initializes PortAudio and opens the default input
// device at sampleRate, mono, returning a Source that produces
// frameSize-sample windows with the given hop as audio arrives.
func OpenMicrophone(sampleRate, frameSize, hop int) (*MicSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, ferrors.Decode("initializing portaudio", err)
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, ferrors.Decode("finding default input device", err)
	}

	ms := &MicSource{frameSize: frameSize, hop: hop}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: hop,
	}

	stream, err := portaudio.OpenStream(params, ms.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, ferrors.Decode("opening portaudio stream", err)
	}
	ms.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, ferrors.Decode("starting portaudio stream", err)
	}
	return ms, nil
}

// callback is invoked by portaudio on its own goroutine with each
// incoming chunk; it just appends under the lock, the way the
// teacher's audioCallback feeds its ring buffer.
func (ms *MicSource) callback(in []float32) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, s := range in {
		ms.buf = append(ms.buf, float64(s))
	}
}

// Next blocks (spinning on ctx cancellation) until frameSize samples
// are available from nextFrame*hop, then returns that window.
func (ms *MicSource) Next(ctx context.Context) (Frame, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, false, ferrors.Cancelled("microphone: " + err.Error())
		}

		ms.mu.Lock()
		if ms.closed {
			ms.mu.Unlock()
			return Frame{}, false, nil
		}
		start := ms.nextFrame * ms.hop
		end := start + ms.frameSize
		if end <= len(ms.buf) {
			samples := make([]float64, ms.frameSize)
			copy(samples, ms.buf[start:end])
			ms.nextFrame++
			ms.mu.Unlock()
			return Frame{Index: ms.nextFrame - 1, Samples: samples}, true, nil
		}
		ms.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, false, ferrors.Cancelled("microphone: " + ctx.Err().Error())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Close stops capture and releases the PortAudio device.
func (ms *MicSource) Close() error {
	ms.mu.Lock()
	ms.closed = true
	ms.mu.Unlock()

	if err := ms.stream.Stop(); err != nil {
		return ferrors.Decode("stopping portaudio stream", err)
	}
	if err := ms.stream.Close(); err != nil {
		return ferrors.Decode("closing portaudio stream", err)
	}
	return portaudio.Terminate()
}

var _ Source = (*MicSource)(nil)
