package executor

import (
	"errors"
	"fmt"
	"strings"
)

// Failure modes of Run. A non-zero exit code is never one of these.
var (
	ErrSpawnFailed = errors.New("spawn failed")
	ErrTimedOut    = errors.New("timed out")
	ErrInterrupted = errors.New("interrupted")
	ErrIO          = errors.New("i/o error")
)

// Error describes a failed child invocation
type Error struct {
	Kind error    // One of the Err* sentinels
	Argv []string // The argv that was being run
	Err  error    // Underlying cause, may be nil
}

func (e *Error) Error() string {
	name := ""
	if len(e.Argv) > 0 {
		name = e.Argv[0]
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", name, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", name, e.Kind, e.Err)
}

// Is matches the sentinel kind so callers can use errors.Is(err, ErrTimedOut)
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, argv []string, err error) *Error {
	return &Error{Kind: kind, Argv: append([]string(nil), argv...), Err: err}
}

// KindName renders the failure kind of err for log fields
func KindName(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "unknown"
	}
	return strings.ReplaceAll(e.Kind.Error(), " ", "_")
}
