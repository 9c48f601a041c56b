// Package calcstate holds the four-state lifecycle of a solar calculation
// and decides which completed run is allowed to update it.
package calcstate

import (
	"encoding/json"
)

// Kind is the current variant of a Result.
type Kind int

const (
	// KindBlank means no polygon is drawn.
	KindBlank Kind = iota
	// KindLoading means a run has been accepted and has not completed.
	KindLoading
	// KindValue means the latest run produced outputs.
	KindValue
	// KindError means the latest run failed.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindLoading:
		return "loading"
	case KindValue:
		return "value"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is an input to the transition function.
type Event int

const (
	// EventAccept starts a new run.
	EventAccept Event = iota
	// EventClear removes the polygon.
	EventClear
	// EventSucceed completes the current run with outputs.
	EventSucceed
	// EventFail completes the current run with an error.
	EventFail
)

func (e Event) String() string {
	switch e {
	case EventAccept:
		return "accept"
	case EventClear:
		return "clear"
	case EventSucceed:
		return "succeed"
	case EventFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Next is the transition function. It is total: completions outside
// Loading leave the state unchanged.
func Next(from Kind, ev Event) Kind {
	switch ev {
	case EventAccept:
		return KindLoading
	case EventClear:
		return KindBlank
	case EventSucceed:
		if from == KindLoading {
			return KindValue
		}
	case EventFail:
		if from == KindLoading {
			return KindError
		}
	}
	return from
}

// GenericFailure is shown when a failed run carries no message.
const GenericFailure = "Unable to calculate solar output. Please try again."

// Result is a snapshot of the calculation. Outputs is set only for
// KindValue and Message only for KindError.
type Result[T any] struct {
	Kind    Kind
	Outputs *T
	Message string
}

// DisplayMessage returns the error message, or GenericFailure when the
// failure carried none. It is empty for non-error results.
func (r Result[T]) DisplayMessage() string {
	if r.Kind != KindError {
		return ""
	}
	if r.Message == "" {
		return GenericFailure
	}
	return r.Message
}

type resultJSON[T any] struct {
	State        Kind   `json:"state"`
	Outputs      *T     `json:"outputs,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// MarshalJSON renders the result in the shape consumed by the map view:
// {"state": ..., "outputs": ..., "error_message": ...}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	out := resultJSON[T]{State: r.Kind}
	switch r.Kind {
	case KindValue:
		out.Outputs = r.Outputs
	case KindError:
		out.ErrorMessage = r.DisplayMessage()
	case KindBlank, KindLoading:
	}
	return json.Marshal(out)
}

// Machine owns the current Result and the run sequence used to reject
// completions from superseded runs.
//
// A Machine is not safe for concurrent use; it is mutated by one event loop.
type Machine[T any] struct {
	current Result[T]
	seq     uint64
}

// NewMachine returns a machine in the Blank state.
func NewMachine[T any]() *Machine[T] {
	return &Machine[T]{}
}

// Current returns the current result.
func (m *Machine[T]) Current() Result[T] {
	return m.current
}

// Seq returns the sequence number of the current run.
func (m *Machine[T]) Seq() uint64 {
	return m.seq
}

// Begin moves to Loading and returns the sequence number of the new run.
// Any earlier run becomes stale.
func (m *Machine[T]) Begin() uint64 {
	m.seq++
	m.current = Result[T]{Kind: Next(m.current.Kind, EventAccept)}
	return m.seq
}

// Clear moves to Blank and invalidates any in-flight run.
func (m *Machine[T]) Clear() {
	m.seq++
	m.current = Result[T]{Kind: Next(m.current.Kind, EventClear)}
}

// Succeed completes run seq with outputs. It reports false, leaving the
// state untouched, if seq is stale or the run already completed.
func (m *Machine[T]) Succeed(seq uint64, outputs *T) bool {
	if !m.accepts(seq) {
		return false
	}
	m.current = Result[T]{Kind: Next(m.current.Kind, EventSucceed), Outputs: outputs}
	return true
}

// Fail completes run seq with an error message. It reports false, leaving
// the state untouched, if seq is stale or the run already completed.
func (m *Machine[T]) Fail(seq uint64, message string) bool {
	if !m.accepts(seq) {
		return false
	}
	m.current = Result[T]{Kind: Next(m.current.Kind, EventFail), Message: message}
	return true
}

func (m *Machine[T]) accepts(seq uint64) bool {
	return seq == m.seq && m.current.Kind == KindLoading
}
