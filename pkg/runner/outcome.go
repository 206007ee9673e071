package runner

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the final state of one benchmark execution.
type Status string

// Statuses.
const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Kind classifies an execution failure.
type Kind string

// Failure kinds.
const (
	KindMissing       Kind = "missing"
	KindStart         Kind = "start"
	KindExit          Kind = "exit"
	KindSignal        Kind = "signal"
	KindTimeout       Kind = "timeout"
	KindCanceled      Kind = "canceled"
	KindNoResult      Kind = "no-result"
	KindInvalidResult Kind = "invalid-result"
)

// ExecutionError describes why a benchmark produced no result. It is a
// value carried in the Outcome, never returned up the call stack.
type ExecutionError struct {
	Kind     Kind   `json:"kind"`
	ExitCode int    `json:"exit_code,omitempty"`
	Signal   string `json:"signal,omitempty"`
	Tail     string `json:"tail,omitempty"`
	Err      error  `json:"-"`
}

func (e *ExecutionError) Error() string {
	switch e.Kind {
	case KindExit:
		return fmt.Sprintf("benchmark exited with status %d", e.ExitCode)
	case KindSignal:
		return "benchmark killed by signal " + e.Signal
	case KindTimeout:
		return "benchmark timed out"
	default:
		if e.Err != nil {
			return fmt.Sprintf("benchmark %s: %v", e.Kind, e.Err)
		}

		return "benchmark " + string(e.Kind)
	}
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Outcome is the result of one Run call.
type Outcome struct {
	Status   Status
	Result   json.RawMessage
	Failure  *ExecutionError
	Duration time.Duration
}

// OK reports whether the benchmark produced a result.
func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

// Canceled reports whether the run was interrupted by the caller rather
// than failing on its own.
func (o Outcome) Canceled() bool {
	return o.Failure != nil && o.Failure.Kind == KindCanceled
}

func failed(kind Kind, err error) Outcome {
	return Outcome{Status: StatusFailed, Failure: &ExecutionError{Kind: kind, Err: err}}
}
