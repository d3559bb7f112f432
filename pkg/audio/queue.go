package audio

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrQueueTimeout is returned by [Queue.Pop] when no frame arrived within the
// requested wait. It is not an error condition by itself; push sources use it
// to trigger a device liveness check.
var ErrQueueTimeout = errors.New("audio: queue wait timed out")

// ErrQueueClosed is returned by [Queue.Pop] once the queue has been closed and
// drained.
var ErrQueueClosed = errors.New("audio: queue closed")

// Queue is a bounded single-producer, single-consumer frame buffer between a
// realtime capture callback and the segmentation engine.
//
// TryPush never blocks: when the queue is full the incoming frame is dropped
// and counted, leaving the frames already queued untouched.
type Queue struct {
	ch       chan Frame
	pushed   atomic.Int64
	dropped  atomic.Int64
	onDrop   func(Frame)
	closed   atomic.Bool
	closedCh chan struct{}
}

// QueueOption configures a [Queue].
type QueueOption func(*Queue)

// WithDropHook registers fn to be called, on the producer goroutine, for
// every dropped frame. fn must not block.
func WithDropHook(fn func(Frame)) QueueOption {
	return func(q *Queue) { q.onDrop = fn }
}

// NewQueue returns a queue holding at most capacity frames. A capacity below
// one is raised to one.
func NewQueue(capacity int, opts ...QueueOption) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		ch:       make(chan Frame, capacity),
		closedCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// QueueCapacity returns how many frames of format f cover the given buffer
// duration, rounded up. The reference configuration (2 s of 125 ms frames)
// yields 16.
func QueueCapacity(f Format, buffer time.Duration) int {
	fd := f.FrameDuration()
	if fd <= 0 || buffer <= 0 {
		return 1
	}
	n := int((buffer + fd - 1) / fd)
	return max(n, 1)
}

// TryPush enqueues f if there is room and reports whether it did. It never
// blocks. Pushing into a closed queue drops the frame silently.
func (q *Queue) TryPush(f Frame) bool {
	if q.closed.Load() {
		return false
	}
	select {
	case q.ch <- f:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop(f)
		}
		return false
	}
}

// Pop waits up to timeout for the next frame. It returns [ErrQueueTimeout]
// when the wait elapses and ctx.Err() when ctx is cancelled first. After
// [Queue.Close] it drains the remaining frames and then returns
// [ErrQueueClosed].
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-q.ch:
		return f, nil
	case <-timer.C:
		return Frame{}, ErrQueueTimeout
	case <-q.closedCh:
		return Frame{}, ErrQueueClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close wakes any blocked [Queue.Pop] and makes further pushes no-ops.
// Safe to call more than once.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.closedCh)
	}
}

// Len returns the number of frames currently queued.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity in frames.
func (q *Queue) Cap() int { return cap(q.ch) }

// Pushed returns the number of frames accepted so far.
func (q *Queue) Pushed() int64 { return q.pushed.Load() }

// Dropped returns the number of frames rejected because the queue was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }
