// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (e.g. Silero VAD) and
// surfaces it as a stateful, per-stream session. In earshot it backs the
// decoder-integrated endpointer: instead of recording for a fixed duration,
// a segment ends as soon as the detector reports the end of speech.
//
// VAD is synchronous: ProcessFrame returns with a detection result for the
// frame it was given, so it can run inside the segmentation loop.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines.
package vad

// Config holds the parameters for a VAD session. All numeric thresholds are
// expressed in the model's native scale; see each Engine's documentation for
// recommended starting values.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to ProcessFrame. Silero supports 8000 and 16000.
	SampleRate int

	// FrameSize is the number of samples per frame. ProcessFrame returns an
	// error if a frame of a different length is supplied.
	FrameSize int

	// SpeechThreshold is the probability above which audio is classified as
	// speech. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64

	// MinSilenceMs is how long the detector must observe non-speech before it
	// reports the end of a speech run. Typical: 300.
	MinSilenceMs int

	// SpeechPadMs extends detected speech runs on both sides.
	SpeechPadMs int
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live model. Reset clears detection state without closing the
// session.
type SessionHandle interface {
	// ProcessFrame analyses one frame of mono PCM and returns the detection
	// result. Returns an error if the frame size is wrong or if the engine
	// encounters an internal failure.
	ProcessFrame(samples []int16) (VADEvent, error)

	// Reset clears all accumulated detection state. The segmentation engine
	// calls it whenever a new segment opens so stale state from the previous
	// utterance does not leak into the next.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	//
	// Returns an error if the configuration is invalid (e.g., unsupported sample
	// rate or threshold out of range) or if the engine cannot allocate
	// resources for the session.
	NewSession(cfg Config) (SessionHandle, error)
}
