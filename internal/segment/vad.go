package segment

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/earshot/internal/loudness"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

var _ Endpointer = (*VADEndpointer)(nil)

// VADEndpointer delegates endpoint detection to a voice activity detector.
// The segment is still opened by the loudness threshold; it ends as soon as
// the detector reports the end of a speech run.
type VADEndpointer struct {
	mu     sync.Mutex
	sess   vad.SessionHandle
	closed bool
}

// NewVADEndpointer opens a detector session on engine.
func NewVADEndpointer(engine vad.Engine, cfg vad.Config) (*VADEndpointer, error) {
	sess, err := engine.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("segment: open vad session: %w", err)
	}
	return &VADEndpointer{sess: sess}, nil
}

func (v *VADEndpointer) Name() string { return "vad" }

// Reset clears the detector so state from the previous utterance does not
// carry over.
func (v *VADEndpointer) Reset(loudness.Calibration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.sess.Reset()
	}
}

func (v *VADEndpointer) Observe(f audio.Frame, _ float64) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false, errors.New("segment: vad endpointer closed")
	}
	ev, err := v.sess.ProcessFrame(f.Samples)
	if err != nil {
		return false, fmt.Errorf("segment: vad: %w", err)
	}
	return ev.Type == vad.VADSpeechEnd, nil
}

// Close closes the detector session. Safe to call more than once.
func (v *VADEndpointer) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	return v.sess.Close()
}
