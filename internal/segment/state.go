package segment

// State is the position of an [Engine] in its state machine.
type State int32

const (
	// StateCalibrating consumes the calibration window. Nothing is emitted.
	StateCalibrating State = iota

	// StateIdle waits for a frame louder than the speech threshold.
	StateIdle

	// StateRecording appends every frame to the open segment.
	StateRecording

	// StateEmitting transcribes the completed segment.
	StateEmitting

	// StateTerminated is final: the source ended, failed or was closed.
	StateTerminated
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateCalibrating:
		return "calibrating"
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateEmitting:
		return "emitting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
