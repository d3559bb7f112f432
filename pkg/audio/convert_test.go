package audio_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/types"
)

func TestSamplesBytesRoundTrip(t *testing.T) {
	t.Parallel()

	in := []int16{0, 1, -1, 32767, -32768, 1234}
	got := audio.BytesToSamples(audio.SamplesToBytes(in))
	if len(got) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], in[i])
		}
	}
}

func TestSamplesToFloat32(t *testing.T) {
	t.Parallel()

	got := audio.SamplesToFloat32([]int16{0, -32768, 16384})
	want := []float32{0, -1, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := audio.SamplesToBytes([]int16{100, 200, -100, -200})
	got := audio.BytesToSamples(audio.StereoToMono(stereo))
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	t.Parallel()

	stereo := audio.SamplesToBytes([]int16{32767, 32767, -32768, -32768})
	got := audio.BytesToSamples(audio.StereoToMono(stereo))
	if got[0] != 32767 || got[1] != -32768 {
		t.Errorf("got %v, want [32767 -32768]", got)
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate returns input", func(t *testing.T) {
		in := []int16{1, 2, 3}
		got := audio.ResampleMono16(in, 16000, 16000)
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
	})

	t.Run("downsample 48k to 16k", func(t *testing.T) {
		in := make([]int16, 480)
		for i := range in {
			in[i] = 1000
		}
		got := audio.ResampleMono16(in, 48000, 16000)
		if len(got) != 160 {
			t.Fatalf("len = %d, want 160", len(got))
		}
		for i, s := range got {
			if s != 1000 {
				t.Fatalf("sample %d = %d, want 1000", i, s)
			}
		}
	})

	t.Run("upsample interpolates", func(t *testing.T) {
		got := audio.ResampleMono16([]int16{0, 100}, 8000, 16000)
		want := []int16{0, 50, 100, 100}
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
			}
		}
	})
}

func TestFrameAssembler(t *testing.T) {
	t.Parallel()

	a := &audio.FrameAssembler{Format: audio.Format{SampleRate: 16000, FrameSize: 4}, Channels: 1}

	if got := a.Write(audio.SamplesToBytes([]int16{1, 2, 3})); len(got) != 0 {
		t.Fatalf("first write produced %d frames, want 0", len(got))
	}
	got := a.Write(audio.SamplesToBytes([]int16{4, 5, 6, 7, 8, 9}))
	if len(got) != 2 {
		t.Fatalf("second write produced %d frames, want 2", len(got))
	}
	if got[0].Index != 0 || got[1].Index != 1 {
		t.Errorf("indices = %d,%d, want 0,1", got[0].Index, got[1].Index)
	}
	if got[1].Samples[0] != 5 || got[1].Samples[3] != 8 {
		t.Errorf("frame 1 samples = %v, want [5 6 7 8]", got[1].Samples)
	}
	if got[1].Timestamp != 250*time.Microsecond {
		t.Errorf("frame 1 timestamp = %v, want 250µs", got[1].Timestamp)
	}
}

func TestFrameAssembler_Stereo(t *testing.T) {
	t.Parallel()

	a := &audio.FrameAssembler{Format: audio.Format{SampleRate: 16000, FrameSize: 2}, Channels: 2}
	got := a.Write(audio.SamplesToBytes([]int16{10, 20, 30, 50}))
	if len(got) != 1 {
		t.Fatalf("frames = %d, want 1", len(got))
	}
	if got[0].Samples[0] != 15 || got[0].Samples[1] != 40 {
		t.Errorf("samples = %v, want [15 40]", got[0].Samples)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	ref := audio.Format{SampleRate: 16000, FrameSize: 2000}
	if ref.FrameDuration() != 125*time.Millisecond {
		t.Errorf("FrameDuration = %v, want 125ms", ref.FrameDuration())
	}
	if err := ref.Validate(); err != nil {
		t.Errorf("Validate(ref) = %v", err)
	}
	if err := (audio.Format{SampleRate: 16000}).Validate(); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("Validate(zero frame size) = %v, want ErrConfiguration", err)
	}
}

func TestConcat(t *testing.T) {
	t.Parallel()

	got := audio.Concat([]audio.Frame{
		{Samples: []int16{1, 2}},
		{Samples: []int16{3}},
	})
	want := []int16{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}
