package malgo_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/malgo"
)

// TestCapture_Live opens the default capture device. It is skipped unless
// EARSHOT_AUDIO_DEVICE is set, since CI machines have no microphone.
func TestCapture_Live(t *testing.T) {
	if os.Getenv("EARSHOT_AUDIO_DEVICE") == "" {
		t.Skip("EARSHOT_AUDIO_DEVICE not set; skipping live capture test")
	}

	f := audio.Format{SampleRate: 16000, FrameSize: 2000}
	c, err := malgo.Open(f, malgo.WithDevice(os.Getenv("EARSHOT_AUDIO_DEVICE")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := range 4 {
		fr, err := c.ReadFrame(ctx)
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if len(fr.Samples) != f.FrameSize {
			t.Errorf("frame %d has %d samples, want %d", i, len(fr.Samples), f.FrameSize)
		}
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestOpen_InvalidFormat(t *testing.T) {
	t.Parallel()

	if _, err := malgo.Open(audio.Format{}); err == nil {
		t.Fatal("Open with zero format succeeded, want error")
	}
}
