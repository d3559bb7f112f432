package audio_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

func frame(idx int64) audio.Frame {
	return audio.Frame{Samples: []int16{int16(idx)}, SampleRate: 16000, Index: idx}
}

func TestQueue_PushPopOrder(t *testing.T) {
	t.Parallel()

	q := audio.NewQueue(4)
	for i := range int64(3) {
		if !q.TryPush(frame(i)) {
			t.Fatalf("TryPush(%d) = false, want true", i)
		}
	}
	for i := range int64(3) {
		f, err := q.Pop(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if f.Index != i {
			t.Errorf("Pop index = %d, want %d", f.Index, i)
		}
	}
}

func TestQueue_FullDropsNewestWithoutBlocking(t *testing.T) {
	t.Parallel()

	var hooked atomic.Int64
	q := audio.NewQueue(2, audio.WithDropHook(func(audio.Frame) { hooked.Add(1) }))
	q.TryPush(frame(0))
	q.TryPush(frame(1))

	done := make(chan bool, 1)
	go func() { done <- q.TryPush(frame(2)) }()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("TryPush on full queue = true, want false")
		}
	case <-time.After(time.Second):
		t.Fatal("TryPush blocked on a full queue")
	}

	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}
	if hooked.Load() != 1 {
		t.Errorf("drop hook calls = %d, want 1", hooked.Load())
	}
	if q.Pushed() != 2 {
		t.Errorf("Pushed() = %d, want 2", q.Pushed())
	}

	// Existing contents are unchanged: the oldest frames survive.
	for _, want := range []int64{0, 1} {
		f, err := q.Pop(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if f.Index != want {
			t.Errorf("Pop index = %d, want %d", f.Index, want)
		}
	}
}

func TestQueue_PopTimeout(t *testing.T) {
	t.Parallel()

	q := audio.NewQueue(1)
	_, err := q.Pop(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, audio.ErrQueueTimeout) {
		t.Fatalf("Pop error = %v, want ErrQueueTimeout", err)
	}
}

func TestQueue_PopContextCancelled(t *testing.T) {
	t.Parallel()

	q := audio.NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Pop error = %v, want context.Canceled", err)
	}
}

func TestQueue_CloseWakesPop(t *testing.T) {
	t.Parallel()

	q := audio.NewQueue(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background(), time.Minute)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close() // idempotent

	select {
	case err := <-errCh:
		if !errors.Is(err, audio.ErrQueueClosed) {
			t.Errorf("Pop after Close = %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}

	if q.TryPush(frame(9)) {
		t.Error("TryPush after Close = true, want false")
	}
}

func TestQueueCapacity(t *testing.T) {
	t.Parallel()

	ref := audio.Format{SampleRate: 16000, FrameSize: 2000}
	if got := audio.QueueCapacity(ref, 2*time.Second); got != 16 {
		t.Errorf("QueueCapacity(ref, 2s) = %d, want 16", got)
	}
	if got := audio.QueueCapacity(ref, 130*time.Millisecond); got != 2 {
		t.Errorf("QueueCapacity(ref, 130ms) = %d, want 2", got)
	}
	if got := audio.QueueCapacity(audio.Format{}, time.Second); got != 1 {
		t.Errorf("QueueCapacity(zero, 1s) = %d, want 1", got)
	}
}
