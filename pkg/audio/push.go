package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/pkg/types"
)

// PushStream adapts a callback-driven capture device to the [Source] pull
// contract. The device callback calls [PushStream.Feed]; the consumer calls
// [PushStream.ReadFrame].
//
// When no frame arrives within twice the frame duration, ReadFrame asks the
// device whether it is still active. An inactive device ends the stream with
// [types.ErrStreamInactive]; an active one is assumed to be in a transient
// gap and the wait is repeated.
type PushStream struct {
	format Format
	queue  *Queue
	asm    FrameAssembler
	active func() bool
}

// NewPushStream creates a push adapter for the given format. channels is the
// device channel count (1 or 2), buffer the queue depth expressed as audio
// time, and active reports whether the device is still running.
func NewPushStream(f Format, channels int, buffer time.Duration, active func() bool, opts ...QueueOption) *PushStream {
	if channels < 1 {
		channels = 1
	}
	return &PushStream{
		format: f,
		queue:  NewQueue(QueueCapacity(f, buffer), opts...),
		asm:    FrameAssembler{Format: f, Channels: channels},
		active: active,
	}
}

// Feed cuts pcm into frames and enqueues them. It never blocks; frames that
// do not fit are dropped and counted. Feed must only be called from the
// single device callback goroutine.
func (p *PushStream) Feed(pcm []byte) {
	for _, f := range p.asm.Write(pcm) {
		p.queue.TryPush(f)
	}
}

// ReadFrame returns the next captured frame.
func (p *PushStream) ReadFrame(ctx context.Context) (Frame, error) {
	wait := 2 * p.format.FrameDuration()
	for {
		f, err := p.queue.Pop(ctx, wait)
		switch {
		case err == nil:
			return f, nil
		case errors.Is(err, ErrQueueTimeout):
			if p.active != nil && !p.active() {
				return Frame{}, fmt.Errorf("audio: no frame within %s: %w", wait, types.ErrStreamInactive)
			}
			slog.Debug("audio: push stream gap, device still active", "wait", wait)
		case errors.Is(err, ErrQueueClosed):
			return Frame{}, io.EOF
		default:
			return Frame{}, err
		}
	}
}

// Close releases the queue and wakes a blocked ReadFrame.
func (p *PushStream) Close() { p.queue.Close() }

// Queue exposes the underlying queue for drop accounting.
func (p *PushStream) Queue() *Queue { return p.queue }
