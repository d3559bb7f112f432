package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
)

func TestEncodeWAV(t *testing.T) {
	t.Parallel()

	samples := []int16{1, -1, 300}
	wav := audio.EncodeWAV(samples, 16000)

	if len(wav) != 44+6 {
		t.Fatalf("len = %d, want 50", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad header magic: %q %q %q", wav[0:4], wav[8:12], wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != 36+6 {
		t.Errorf("RIFF size = %d, want 42", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	got := audio.BytesToSamples(wav[44:])
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}
