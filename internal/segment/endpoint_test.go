package segment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/loudness"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/pkg/audio"
	audiomock "github.com/MrWong99/earshot/pkg/audio/mock"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	vadmock "github.com/MrWong99/earshot/pkg/provider/vad/mock"
)

func TestTrailingSilence_Observe(t *testing.T) {
	t.Parallel()

	ts := segment.NewTrailingSilence(250 * time.Millisecond)
	ts.Reset(loudness.Calibration{SpeechThreshold: 30})
	f := audio.Frame{Samples: make([]int16, 2000), SampleRate: 16000}

	steps := []struct {
		level float64
		want  bool
	}{
		{45, false}, // trigger
		{20, false}, // 125ms quiet
		{31, false}, // loud again, run resets
		{30, false}, // at threshold counts as quiet
		{10, true},  // 250ms quiet
	}
	for i, st := range steps {
		got, err := ts.Observe(f, st.level)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != st.want {
			t.Errorf("step %d (level %v): complete = %v, want %v", i, st.level, got, st.want)
		}
	}

	ts.Reset(loudness.Calibration{SpeechThreshold: 30})
	if got, _ := ts.Observe(f, 10); got {
		t.Error("Reset did not clear the quiet run")
	}
}

func TestFixedDuration_NeverCompletes(t *testing.T) {
	t.Parallel()

	var fd segment.FixedDuration
	fd.Reset(loudness.Calibration{})
	for range 100 {
		if done, err := fd.Observe(audio.Frame{}, 0); done || err != nil {
			t.Fatalf("Observe = %v, %v; want false, nil", done, err)
		}
	}
	if fd.Name() != "fixed" {
		t.Errorf("Name = %q", fd.Name())
	}
}

func TestEngine_TrailingSilenceEndsEarly(t *testing.T) {
	t.Parallel()

	frames := audiomock.Sequence(audiomock.Ref,
		audiomock.Tone(noise, 8), audiomock.Tone(tone, 8), audiomock.Tone(noise, 8))
	src := &audiomock.Source{Frames: frames}
	e := newEngine(t, src, baseConfig(2*time.Second), &sttmock.Transcriber{},
		segment.WithEndpointer(segment.NewTrailingSilence(250*time.Millisecond)))

	if e.Strategy() != "trailing_silence" {
		t.Errorf("Strategy = %q", e.Strategy())
	}
	u, err := e.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	wantRange(t, u.Segment, 7, 17)
	if u.Segment.Reason != segment.ReasonEndpoint {
		t.Errorf("Reason = %q, want %q", u.Segment.Reason, segment.ReasonEndpoint)
	}
}

func TestEngine_VADEndpointer(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{
		Events: []vad.VADEvent{
			{Type: vad.VADSpeechStart},
			{Type: vad.VADSpeechContinue},
			{Type: vad.VADSpeechEnd},
		},
		Default: vad.VADEvent{Type: vad.VADSpeechContinue},
	}
	eng := &vadmock.Engine{Session: sess}
	cfg := vad.Config{SampleRate: 16000, FrameSize: 2000, SpeechThreshold: 0.5, MinSilenceMs: 300}
	ep, err := segment.NewVADEndpointer(eng, cfg)
	if err != nil {
		t.Fatalf("NewVADEndpointer: %v", err)
	}
	if got := eng.NewSessionCalls[0].Cfg; got != cfg {
		t.Errorf("session config = %+v, want %+v", got, cfg)
	}

	frames := audiomock.Sequence(audiomock.Ref,
		audiomock.Tone(noise, 8), audiomock.Tone(tone, 8), audiomock.Tone(noise, 8))
	src := &audiomock.Source{Frames: frames}
	e, err := segment.New(src, baseConfig(2*time.Second), &sttmock.Transcriber{}, segment.WithEndpointer(ep))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	u, err := e.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	wantRange(t, u.Segment, 7, 10)
	if u.Segment.Reason != segment.ReasonEndpoint {
		t.Errorf("Reason = %q, want %q", u.Segment.Reason, segment.ReasonEndpoint)
	}
	if sess.ResetCallCount != 1 {
		t.Errorf("Reset called %d times, want 1", sess.ResetCallCount)
	}
	if sess.FrameCount() != 3 {
		t.Errorf("detector saw %d frames, want 3 (calibration and look-back excluded)", sess.FrameCount())
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = e.Close()
	if sess.CloseCallCount != 1 {
		t.Errorf("session closed %d times, want 1", sess.CloseCallCount)
	}
}

func TestEngine_VADFailureFallsBackToMaxDuration(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{ProcessFrameErr: errors.New("onnx runtime crashed")}
	ep, err := segment.NewVADEndpointer(&vadmock.Engine{Session: sess}, vad.Config{SampleRate: 16000, FrameSize: 2000})
	if err != nil {
		t.Fatalf("NewVADEndpointer: %v", err)
	}

	frames := audiomock.Sequence(audiomock.Ref,
		audiomock.Tone(noise, 8), audiomock.Tone(tone, 8), audiomock.Tone(noise, 8))
	e := newEngine(t, &audiomock.Source{Frames: frames}, baseConfig(500*time.Millisecond), &sttmock.Transcriber{},
		segment.WithEndpointer(ep))

	u, err := e.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	wantRange(t, u.Segment, 7, 11)
	if u.Segment.Reason != segment.ReasonMaxDuration {
		t.Errorf("Reason = %q, want %q", u.Segment.Reason, segment.ReasonMaxDuration)
	}
}

func TestNewVADEndpointer_SessionError(t *testing.T) {
	t.Parallel()

	eng := &vadmock.Engine{NewSessionErr: errors.New("model missing")}
	if _, err := segment.NewVADEndpointer(eng, vad.Config{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestVADEndpointer_ObserveAfterClose(t *testing.T) {
	t.Parallel()

	ep, err := segment.NewVADEndpointer(&vadmock.Engine{}, vad.Config{})
	if err != nil {
		t.Fatalf("NewVADEndpointer: %v", err)
	}
	if err := ep.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := ep.Observe(audio.Frame{}, 0); err == nil {
		t.Error("Observe after Close succeeded, want error")
	}
	ep.Reset(loudness.Calibration{})
}
