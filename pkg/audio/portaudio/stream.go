// Package portaudio provides a pull-model [audio.Source] backed by PortAudio
// via github.com/gordonklaus/portaudio.
//
// Each ReadFrame call blocks inside Pa_ReadStream until exactly one frame of
// samples has been captured; there is no buffering beyond the driver's.
//
// Requires CGO and the PortAudio C library.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/types"
)

// Compile-time interface assertion.
var _ audio.Source = (*Stream)(nil)

// Option is a functional option for [Open].
type Option func(*Stream)

// WithDevice selects an input device whose name contains name
// (case-insensitive). The default input device is used when empty.
func WithDevice(name string) Option {
	return func(s *Stream) { s.deviceName = name }
}

// Stream is an open PortAudio capture stream.
type Stream struct {
	format     audio.Format
	deviceName string

	// mu serialises Read against Close; Close waits for at most one
	// in-flight frame before tearing the stream down.
	mu       sync.Mutex
	stream   *portaudio.Stream
	buf      []int16
	next     int64
	overflow int64
	closed   bool

	closeOnce sync.Once
	closeErr  error
}

// Open initialises PortAudio and starts a mono int16 input stream whose
// buffer size equals the frame size. All failures wrap [types.ErrDevice].
func Open(f audio.Format, opts ...Option) (*Stream, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}
	s := &Stream{format: f, buf: make([]int16, f.FrameSize)}
	for _, o := range opts {
		o(s)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", types.ErrDevice, err)
	}

	params, err := s.streamParameters()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	stream, err := portaudio.OpenStream(params, s.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open stream: %w: %w", types.ErrDevice, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w: %w", types.ErrDevice, err)
	}
	s.stream = stream

	slog.Info("portaudio: capture started",
		"device", params.Input.Device.Name,
		"sample_rate", f.SampleRate,
		"frame_size", f.FrameSize,
	)
	return s, nil
}

func (s *Stream) streamParameters() (portaudio.StreamParameters, error) {
	in, err := s.inputDevice()
	if err != nil {
		return portaudio.StreamParameters{}, fmt.Errorf("portaudio: input device: %w: %w", types.ErrDevice, err)
	}
	p := portaudio.HighLatencyParameters(in, nil)
	p.Input.Channels = 1
	p.Output.Channels = 0
	p.SampleRate = float64(s.format.SampleRate)
	p.FramesPerBuffer = s.format.FrameSize
	return p, nil
}

func (s *Stream) inputDevice() (*portaudio.DeviceInfo, error) {
	if s.deviceName == "" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(s.deviceName)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	slog.Warn("portaudio: input device not found, using default", "device", s.deviceName)
	return portaudio.DefaultInputDevice()
}

// ReadFrame blocks until one frame has been captured. Input overflows are
// logged and the (partially overwritten) frame is still returned.
func (s *Stream) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.Frame{}, io.EOF
	}

	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return audio.Frame{}, fmt.Errorf("portaudio: read: %w: %w", types.ErrDevice, err)
		}
		s.overflow++
		slog.Warn("portaudio: input overflowed", "frame", s.next, "overflows", s.overflow)
	}

	samples := make([]int16, len(s.buf))
	copy(samples, s.buf)
	f := audio.Frame{
		Samples:    samples,
		SampleRate: s.format.SampleRate,
		Index:      s.next,
		Timestamp:  s.format.FrameDuration() * time.Duration(s.next),
	}
	s.next++
	return f, nil
}

// Close stops and closes the stream and terminates PortAudio exactly once.
// It is safe to call from another goroutine while ReadFrame is blocked.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true

		var errs []error
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminate: %w", err))
		}
		if len(errs) > 0 {
			s.closeErr = fmt.Errorf("portaudio: %w", errors.Join(errs...))
		}
		slog.Info("portaudio: capture closed", "frames", s.next, "overflows", s.overflow)
	})
	return s.closeErr
}
