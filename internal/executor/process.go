// Package executor runs external CLI processes with a line-oriented stdout
// sink, a whitelisted environment and escalating termination.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultKillGrace is how long a child gets between SIGTERM and SIGKILL
const DefaultKillGrace = 5 * time.Second

// Request describes one child invocation
type Request struct {
	Argv      []string
	Dir       string
	Env       []string // Complete environment; nil means QuietEnv(Dir)
	OnStdout  func(line string) error
	OnStderr  func(line string)
	Capture   bool // Keep stdout in Result.Stdout
	Timeout   time.Duration
	KillGrace time.Duration
}

// Result holds the outcome of a child that was started
type Result struct {
	ExitCode int
	Stdout   string // Only set when Capture was requested
	Captured bool
	Duration time.Duration
}

// Runner spawns one child at a time
type Runner struct {
	logger zerolog.Logger
}

// NewRunner creates a Runner logging lifecycle events to logger
func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run starts argv without a shell and blocks until the child has exited and
// both of its output streams are drained. Every complete stdout line is
// handed to OnStdout in arrival order before the next line is read.
//
// A non-zero exit status is reported in Result.ExitCode, not as an error.
// Cancelling ctx terminates the child and yields ErrInterrupted; exceeding
// Timeout yields ErrTimedOut.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	res := Result{ExitCode: -1, Captured: req.Capture}
	if len(req.Argv) == 0 || req.Argv[0] == "" {
		return res, newError(ErrSpawnFailed, req.Argv, errors.New("empty argv"))
	}

	grace := req.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	env := req.Env
	if env == nil {
		env = QuietEnv(req.Dir)
	}

	cmd := exec.Command(req.Argv[0], req.Argv[1:]...)
	cmd.Dir = req.Dir
	cmd.Env = env
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return res, newError(ErrIO, req.Argv, fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return res, newError(ErrIO, req.Argv, fmt.Errorf("stderr pipe: %w", err))
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return res, newError(ErrSpawnFailed, req.Argv, err)
	}

	r.logger.Debug().
		Int("pid", cmd.Process.Pid).
		Str("argv", shellescape.QuoteCommand(req.Argv)).
		Str("dir", req.Dir).
		Msg("child started")

	exited := make(chan struct{})
	go r.watch(runCtx, cmd, grace, exited)

	var captured strings.Builder
	var sinkErr error

	var g errgroup.Group
	g.Go(func() error {
		return drainLines(stdout, func(line string) {
			if req.Capture {
				captured.WriteString(line)
				captured.WriteByte('\n')
			}
			if req.OnStdout == nil || sinkErr != nil {
				return
			}
			if err := req.OnStdout(line); err != nil {
				// Keep draining so the child is never blocked on a full pipe
				sinkErr = err
				cancel()
			}
		})
	})
	g.Go(func() error {
		return drainLines(stderr, func(line string) {
			if req.OnStderr != nil {
				req.OnStderr(line)
			}
		})
	})

	readErr := g.Wait()
	waitErr := cmd.Wait()
	close(exited)

	res.Duration = time.Since(start)
	if req.Capture {
		res.Stdout = captured.String()
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitStatus(exitErr)
	}

	r.logger.Debug().
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Msg("child exited")

	switch {
	case sinkErr != nil:
		return res, newError(ErrIO, req.Argv, fmt.Errorf("stdout sink: %w", sinkErr))
	case errors.Is(ctx.Err(), context.Canceled):
		return res, newError(ErrInterrupted, req.Argv, nil)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return res, newError(ErrTimedOut, req.Argv, fmt.Errorf("exceeded %s", req.Timeout))
	case readErr != nil:
		return res, newError(ErrIO, req.Argv, readErr)
	case waitErr != nil && exitErr == nil:
		return res, newError(ErrIO, req.Argv, waitErr)
	}
	return res, nil
}

// watch terminates the child when ctx ends: SIGTERM first, SIGKILL once
// grace has elapsed without the child exiting.
func (r *Runner) watch(ctx context.Context, cmd *exec.Cmd, grace time.Duration, exited <-chan struct{}) {
	select {
	case <-exited:
		return
	case <-ctx.Done():
	}

	r.logger.Debug().Int("pid", cmd.Process.Pid).Msg("terminating child")
	if err := terminate(cmd.Process); err != nil {
		r.logger.Debug().Err(err).Msg("terminate failed")
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-exited:
	case <-timer.C:
		r.logger.Warn().Int("pid", cmd.Process.Pid).Dur("grace", grace).Msg("child ignored SIGTERM, killing")
		if err := kill(cmd.Process); err != nil {
			r.logger.Debug().Err(err).Msg("kill failed")
		}
	}
}

func drainLines(rd io.Reader, fn func(string)) error {
	lr := newLineReader(rd)
	for {
		line, ok, err := lr.readLine()
		if ok {
			fn(line)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
