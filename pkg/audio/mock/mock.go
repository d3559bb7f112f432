// Package mock provides an in-memory implementation of [audio.Source] for use
// in unit tests, together with small generators for synthetic frames.
//
// Source is safe for concurrent use. It records every method call so that
// tests can assert on call counts, and it exposes exported fields that the
// test can set to control returned values.
//
// Typical usage:
//
//	frames := mock.Sequence(mock.Ref, mock.Silence(8), mock.Tone(1000, 16))
//	src := &mock.Source{Frames: frames}
//	eng, err := segment.New(src, cfg, tr)
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Ref is the reference capture format: 16 kHz mono, 2000-sample (125 ms) frames.
var Ref = audio.Format{SampleRate: 16000, FrameSize: 2000}

// Source is a mock implementation of [audio.Source] that replays Frames in
// order.
type Source struct {
	mu sync.Mutex

	// Frames are returned one per ReadFrame call.
	Frames []audio.Frame

	// Err is returned once Frames is exhausted. Defaults to [io.EOF].
	Err error

	// Block, when true, makes ReadFrame block until ctx is cancelled or Close
	// is called once Frames is exhausted, modelling a live device.
	Block bool

	// CloseErr is returned by Close.
	CloseErr error

	// ReadCalls counts ReadFrame invocations.
	ReadCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int

	pos    int
	closed chan struct{}
	once   sync.Once
}

func (s *Source) init() {
	s.once.Do(func() { s.closed = make(chan struct{}) })
}

// ReadFrame returns the next scripted frame.
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	s.init()
	s.mu.Lock()
	s.ReadCalls++
	if s.pos < len(s.Frames) {
		f := s.Frames[s.pos]
		s.pos++
		s.mu.Unlock()
		return f, nil
	}
	block, err := s.Block, s.Err
	s.mu.Unlock()

	if block {
		select {
		case <-ctx.Done():
			return audio.Frame{}, ctx.Err()
		case <-s.closed:
			return audio.Frame{}, io.EOF
		}
	}
	if err == nil {
		err = io.EOF
	}
	return audio.Frame{}, err
}

// Close records the call and returns CloseErr.
func (s *Source) Close() error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CloseCalls == 0 {
		close(s.closed)
	}
	s.CloseCalls++
	return s.CloseErr
}

// ReadCallCount returns the number of ReadFrame calls. Thread-safe.
func (s *Source) ReadCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ReadCalls
}

// CloseCallCount returns the number of Close calls. Thread-safe.
func (s *Source) CloseCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)

// Chunk is a run of identical frames used to build scripted streams.
type Chunk struct {
	// Amplitude is the constant sample value of every frame in the chunk.
	Amplitude int16

	// Count is the number of frames.
	Count int
}

// Silence returns a chunk of n digital-silence frames.
func Silence(n int) Chunk { return Chunk{Count: n} }

// Tone returns a chunk of n frames with constant amplitude. A constant
// signal has RMS equal to |amplitude|, which makes loudness easy to predict.
func Tone(amplitude int16, n int) Chunk { return Chunk{Amplitude: amplitude, Count: n} }

// Sequence expands chunks into contiguous frames with sequential indices and
// timestamps in the given format.
func Sequence(f audio.Format, chunks ...Chunk) []audio.Frame {
	var out []audio.Frame
	var idx int64
	for _, c := range chunks {
		for range c.Count {
			samples := make([]int16, f.FrameSize)
			for i := range samples {
				samples[i] = c.Amplitude
			}
			out = append(out, audio.Frame{
				Samples:    samples,
				SampleRate: f.SampleRate,
				Index:      idx,
				Timestamp:  f.FrameDuration() * time.Duration(idx),
			})
			idx++
		}
	}
	return out
}
