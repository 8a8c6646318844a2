package pipeline

import "fmt"

// State is the lifecycle position of a Driver
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateRunning
	StateDraining  // End of input or frame limit reached
	StateCancelled // Context cancelled or a viewer asked to quit
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCancelled:
		return "cancelled"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stage names used in StageError
const (
	StageSource   = "source"
	StageSink     = "sink"
	StageAnnotate = "annotate"
)

// StageError reports which part of the pipeline failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
