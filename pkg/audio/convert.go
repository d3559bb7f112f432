package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FrameAssembler re-chunks an arbitrary run of little-endian int16 PCM bytes,
// as delivered by device callbacks, into fixed-size mono frames. Stereo input
// is downmixed before chunking.
//
// Create one per stream; not designed for shared use across goroutines.
type FrameAssembler struct {
	Format   Format
	Channels int

	pending       []int16
	next          int64
	warnedCorrupt sync.Once
}

// Write appends pcm to the pending buffer and returns every complete frame
// it can cut. Incomplete trailing samples are kept for the next call.
func (a *FrameAssembler) Write(pcm []byte) []Frame {
	if len(pcm)%2 != 0 {
		a.warnedCorrupt.Do(func() {
			slog.Warn("audio frame assembler: odd byte count in PCM data, truncating",
				"bytes", len(pcm),
				"format", formatString(a.Format.SampleRate, a.Channels),
			)
		})
		pcm = pcm[:len(pcm)-1]
	}
	if a.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	a.pending = append(a.pending, BytesToSamples(pcm)...)

	var out []Frame
	size := a.Format.FrameSize
	for size > 0 && len(a.pending) >= size {
		samples := make([]int16, size)
		copy(samples, a.pending[:size])
		a.pending = append(a.pending[:0], a.pending[size:]...)
		out = append(out, Frame{
			Samples:    samples,
			SampleRate: a.Format.SampleRate,
			Index:      a.next,
			Timestamp:  a.Format.FrameDuration() * time.Duration(a.next),
		})
		a.next++
	}
	return out
}

// BytesToSamples decodes little-endian int16 PCM. A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// SamplesToBytes encodes int16 samples as little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// SamplesToFloat32 normalises int16 samples to [-1.0, 1.0).
func SamplesToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples mono int16 samples from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "16000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
