package orchestrator

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/hochfrequenz/adw-orchestrator/internal/domain"
	"github.com/hochfrequenz/adw-orchestrator/internal/executor"
	"github.com/hochfrequenz/adw-orchestrator/internal/phase"
)

// Kind classifies why a run stopped
type Kind string

const (
	KindInvocation        Kind = "InvocationError"
	KindProtocolViolation Kind = "ProtocolViolation"
	KindChildFailure      Kind = "ChildFailure"
	KindTimedOut          Kind = "TimedOut"
	KindInterrupted       Kind = "Interrupted"
	KindAutoFixExhausted  Kind = "AutoFixExhausted"
)

// Exit codes for failures that have no child exit status to pass through
const (
	ExitProtocolViolation = 1
	ExitUsage             = 2
	ExitTimedOut          = 124
	ExitInvocation        = 127
	ExitInterrupted       = 130
)

// Error is the single fatal error of a run
type Error struct {
	Kind     Kind
	Phase    domain.PhaseName
	ExitCode int
	Msg      string
	Argv     []string // Set for invocation errors and timeouts
	Tail     []string // Last transcript lines, set for protocol violations
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError records a stack trace at the point the run failed; it is only
// printed when debugging.
func newError(e *Error) error {
	return pkgerrors.WithStack(e)
}

// AsError extracts the run error from err
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ExitCodeFor maps err to the process exit code. nil means success.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if e, ok := AsError(err); ok {
		return e.ExitCode
	}
	return 1
}

// phaseError classifies an error returned by a phase runner
func phaseError(p domain.PhaseName, res phase.Result, err error) error {
	var perr *phase.ProtocolError
	switch {
	case errors.Is(err, executor.ErrInterrupted):
		return newError(&Error{
			Kind:     KindInterrupted,
			Phase:    p,
			ExitCode: ExitInterrupted,
			Msg:      fmt.Sprintf("Interrupted during %s phase.", p),
		})
	case errors.Is(err, executor.ErrTimedOut):
		return newError(&Error{
			Kind:     KindTimedOut,
			Phase:    p,
			ExitCode: ExitTimedOut,
			Msg:      fmt.Sprintf("%s phase timed out.", p.Title()),
			Argv:     res.Argv,
			Err:      err,
		})
	case errors.Is(err, executor.ErrSpawnFailed):
		return newError(&Error{
			Kind:     KindInvocation,
			Phase:    p,
			ExitCode: ExitInvocation,
			Msg:      fmt.Sprintf("%s phase could not be started.", p.Title()),
			Argv:     res.Argv,
			Err:      err,
		})
	case errors.As(err, &perr):
		return newError(&Error{
			Kind:     KindProtocolViolation,
			Phase:    p,
			ExitCode: ExitProtocolViolation,
			Msg:      fmt.Sprintf("%s phase violated the output protocol: %s", p.Title(), perr.Reason),
			Tail:     res.Tail,
		})
	default:
		// Output of the child could not be read or consumed
		return newError(&Error{
			Kind:     KindProtocolViolation,
			Phase:    p,
			ExitCode: ExitProtocolViolation,
			Msg:      fmt.Sprintf("%s phase output could not be processed.", p.Title()),
			Argv:     res.Argv,
			Tail:     res.Tail,
			Err:      err,
		})
	}
}
