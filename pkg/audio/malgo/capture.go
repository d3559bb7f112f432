// Package malgo provides a push-model [audio.Source] backed by miniaudio via
// github.com/gen2brain/malgo.
//
// miniaudio invokes a realtime data callback on its own thread. The callback
// converts the delivered bytes into fixed-size frames and hands them to a
// bounded queue without ever blocking; when the consumer falls behind, new
// frames are dropped and counted. A stalled device is detected by a timed
// wait plus [malgo.Device.IsStarted].
//
// Requires CGO.
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/types"
)

// Compile-time interface assertion.
var _ audio.Source = (*Capture)(nil)

// Option is a functional option for [Open].
type Option func(*Capture)

// WithDevice selects a capture device whose name contains name
// (case-insensitive). The default device is used when empty or not found.
func WithDevice(name string) Option {
	return func(c *Capture) { c.deviceName = name }
}

// WithChannels sets the device channel count. Stereo input is downmixed to
// mono before framing. Defaults to 1.
func WithChannels(n int) Option {
	return func(c *Capture) { c.channels = n }
}

// WithBuffer sets the queue depth expressed as audio time. Defaults to 2s.
func WithBuffer(d time.Duration) Option {
	return func(c *Capture) { c.buffer = d }
}

// WithDropHook registers fn to be called for every dropped frame. fn runs on
// the realtime callback thread and must not block.
func WithDropHook(fn func(audio.Frame)) Option {
	return func(c *Capture) { c.onDrop = fn }
}

// Capture is a running miniaudio capture device.
type Capture struct {
	format     audio.Format
	deviceName string
	channels   int
	buffer     time.Duration
	onDrop     func(audio.Frame)

	mctx   *malgo.AllocatedContext
	device *malgo.Device
	stream *audio.PushStream

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open initialises miniaudio, opens the capture device in S16 format at the
// requested sample rate and starts it. All failures wrap [types.ErrDevice].
func Open(f audio.Format, opts ...Option) (*Capture, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("malgo: %w", err)
	}
	c := &Capture{
		format:   f,
		channels: 1,
		buffer:   2 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("malgo: "+strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w: %w", types.ErrDevice, err)
	}
	c.mctx = mctx

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(c.channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.Alsa.NoMMap = 1

	if c.deviceName != "" {
		if id, ok := c.findDevice(); ok {
			cfg.Capture.DeviceID = id.Pointer()
		} else {
			slog.Warn("malgo: capture device not found, using default", "device", c.deviceName)
		}
	}

	var qopts []audio.QueueOption
	if c.onDrop != nil {
		qopts = append(qopts, audio.WithDropHook(c.onDrop))
	}
	c.stream = audio.NewPushStream(f, c.channels, c.buffer, c.isActive, qopts...)

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, framecount uint32) {
			if framecount == 0 {
				return
			}
			c.stream.Feed(input)
		},
	})
	if err != nil {
		_ = c.releaseContext()
		return nil, fmt.Errorf("malgo: init device: %w: %w", types.ErrDevice, err)
	}
	c.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = c.releaseContext()
		return nil, fmt.Errorf("malgo: start device: %w: %w", types.ErrDevice, err)
	}

	slog.Info("malgo: capture started",
		"sample_rate", f.SampleRate,
		"frame_size", f.FrameSize,
		"channels", c.channels,
		"queue_frames", c.stream.Queue().Cap(),
	)
	return c, nil
}

func (c *Capture) findDevice() (malgo.DeviceID, bool) {
	infos, err := c.mctx.Devices(malgo.Capture)
	if err != nil {
		slog.Warn("malgo: list capture devices", "err", err)
		return malgo.DeviceID{}, false
	}
	want := strings.ToLower(c.deviceName)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info.ID, true
		}
	}
	return malgo.DeviceID{}, false
}

func (c *Capture) isActive() bool {
	return !c.closed.Load() && c.device != nil && c.device.IsStarted()
}

// ReadFrame returns the next captured frame from the queue.
func (c *Capture) ReadFrame(ctx context.Context) (audio.Frame, error) {
	return c.stream.ReadFrame(ctx)
}

// Dropped returns how many frames were discarded because the queue was full.
func (c *Capture) Dropped() int64 { return c.stream.Queue().Dropped() }

// Close stops the device and frees miniaudio resources exactly once.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		var errs []error
		if c.device != nil {
			if err := c.device.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop device: %w", err))
			}
			c.device.Uninit()
		}
		c.stream.Close()
		if err := c.releaseContext(); err != nil {
			errs = append(errs, err)
		}
		c.closeErr = errors.Join(errs...)
		slog.Info("malgo: capture closed", "dropped_frames", c.Dropped())
	})
	return c.closeErr
}

func (c *Capture) releaseContext() error {
	if c.mctx == nil {
		return nil
	}
	err := c.mctx.Uninit()
	c.mctx.Free()
	c.mctx = nil
	if err != nil {
		return fmt.Errorf("uninit context: %w", err)
	}
	return nil
}
