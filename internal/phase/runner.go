// Package phase runs one phase of a run: it builds the CLI argv, streams the
// child's output through the decoder to the console and keeps a capture
// of the canonical event text when asked to.
package phase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/adw-orchestrator/internal/command"
	"github.com/hochfrequenz/adw-orchestrator/internal/domain"
	"github.com/hochfrequenz/adw-orchestrator/internal/executor"
	"github.com/hochfrequenz/adw-orchestrator/internal/stream"
)

// Executor runs one child process
type Executor interface {
	Run(ctx context.Context, req executor.Request) (executor.Result, error)
}

// Renderer receives phase banners and decoded events
type Renderer interface {
	PhaseStart(phase domain.PhaseName, attempt int, argv []string)
	Event(ev stream.Event)
}

// Config is fixed for all phases of a run
type Config struct {
	Kind            domain.CLIKind
	Executable      string
	Model           string
	SkipPermissions bool
	MCPConfig       string
	WorkingDir      string
	EnvAllow        []string // Extra parent variables passed to the child
	Timeout         time.Duration
	KillGrace       time.Duration
}

// Request describes one phase invocation
type Request struct {
	Phase   domain.PhaseName
	Attempt int
	Prompt  string
	Args    []string // Appended after the dialect flags
	Capture bool
}

// TailLines is how many trailing output lines a Result keeps for failure banners
const TailLines = 20

// Result is what a phase leaves behind for the orchestrator
type Result struct {
	ExitCode int
	Captured string   // Canonical text of every event; empty unless captured
	Tail     []string // Last non-empty output lines, kept whatever the capture policy
	Terminal *stream.Event
	SawJSON  bool
	Usage    stream.Usage
	Argv     []string
	Duration time.Duration
}

// ProtocolError reports a child that exited 0 but broke the stream contract
type ProtocolError struct {
	Phase  domain.PhaseName
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s phase: %s", e.Phase, e.Reason)
}

// Runner runs phases one at a time
type Runner struct {
	cfg      Config
	exec     Executor
	renderer Renderer
	logger   zerolog.Logger
}

func NewRunner(cfg Config, exec Executor, renderer Renderer, logger zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, exec: exec, renderer: renderer, logger: logger}
}

// Argv returns the full argv for req without running anything
func (r *Runner) Argv(req Request) []string {
	argv := command.Build(command.Spec{
		Kind:            r.cfg.Kind,
		Executable:      r.cfg.Executable,
		Prompt:          req.Prompt,
		Model:           r.cfg.Model,
		SkipPermissions: r.cfg.SkipPermissions,
		MCPConfig:       r.cfg.MCPConfig,
	})
	return append(argv, req.Args...)
}

// RunPhase runs the child for req to completion. A non-zero exit is
// reported in Result.ExitCode. Errors are either *executor.Error (the
// child could not be run to completion) or *ProtocolError.
func (r *Runner) RunPhase(ctx context.Context, req Request) (Result, error) {
	if req.Attempt < 1 {
		req.Attempt = 1
	}
	argv := r.Argv(req)
	res := Result{Argv: argv, ExitCode: -1}
	logger := r.logger.With().Str("phase", string(req.Phase)).Int("attempt", req.Attempt).Logger()

	r.renderer.PhaseStart(req.Phase, req.Attempt, argv)

	dialect := command.DialectFor(r.cfg.Kind)
	dec := stream.NewDecoder()
	var captured strings.Builder
	tail := newTailBuffer(TailLines)

	onStdout := func(line string) error {
		for _, ev := range dec.Decode(line) {
			r.renderer.Event(ev)
			text := ev.Text()
			tail.add(text)
			if req.Capture {
				captured.WriteString(text)
				captured.WriteByte('\n')
			}
			if ev.Terminal() {
				terminal := ev
				res.Terminal = &terminal
			}
			if ev.Usage != nil {
				res.Usage = res.Usage.Add(*ev.Usage)
			}
		}
		return nil
	}
	onStderr := func(line string) {
		logger.Warn().Msg(line)
	}

	execRes, err := r.exec.Run(ctx, executor.Request{
		Argv:      argv,
		Dir:       r.cfg.WorkingDir,
		Env:       executor.QuietEnv(r.cfg.WorkingDir, r.cfg.EnvAllow...),
		OnStdout:  onStdout,
		OnStderr:  onStderr,
		Timeout:   r.cfg.Timeout,
		KillGrace: r.cfg.KillGrace,
	})

	res.ExitCode = execRes.ExitCode
	res.Duration = execRes.Duration
	res.SawJSON = dec.SawJSON()
	res.Tail = tail.lines()
	if req.Capture {
		res.Captured = captured.String()
	}

	if err != nil {
		logger.Debug().Err(err).Str("kind", executor.KindName(err)).Msg("phase did not complete")
		return res, err
	}

	logger.Debug().
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Bool("json", res.SawJSON).
		Msg("phase finished")

	if res.ExitCode == 0 {
		if res.Terminal != nil && res.Terminal.Kind == stream.KindError {
			return res, &ProtocolError{Phase: req.Phase, Reason: "exited 0 after reporting an error: " + res.Terminal.Message}
		}
		if dialect.StreamsJSON() && res.Terminal == nil {
			return res, &ProtocolError{Phase: req.Phase, Reason: "exited 0 without a terminal result event"}
		}
	}
	return res, nil
}
