package portaudio_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/portaudio"
	"github.com/MrWong99/earshot/pkg/types"
)

// TestStream_Live reads a few frames from a real input device. It is skipped
// unless EARSHOT_AUDIO_DEVICE is set.
func TestStream_Live(t *testing.T) {
	if os.Getenv("EARSHOT_AUDIO_DEVICE") == "" {
		t.Skip("EARSHOT_AUDIO_DEVICE not set; skipping live capture test")
	}

	f := audio.Format{SampleRate: 16000, FrameSize: 2000}
	s, err := portaudio.Open(f, portaudio.WithDevice(os.Getenv("EARSHOT_AUDIO_DEVICE")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := range 3 {
		fr, err := s.ReadFrame(context.Background())
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if fr.Index != int64(i) {
			t.Errorf("Index = %d, want %d", fr.Index, i)
		}
		if len(fr.Samples) != f.FrameSize {
			t.Errorf("frame %d has %d samples, want %d", i, len(fr.Samples), f.FrameSize)
		}
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := s.ReadFrame(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame after Close = %v, want io.EOF", err)
	}
}

func TestOpen_InvalidFormat(t *testing.T) {
	t.Parallel()

	_, err := portaudio.Open(audio.Format{SampleRate: 16000})
	if !errors.Is(err, types.ErrConfiguration) {
		t.Fatalf("Open error = %v, want ErrConfiguration", err)
	}
}
