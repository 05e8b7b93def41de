// Package orchestrator sequences the plan, build and test phases of a run,
// threads the run id from plan into the later phases and drives the bounded
// auto-fix loop of the test phase.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/adw-orchestrator/internal/command"
	"github.com/hochfrequenz/adw-orchestrator/internal/domain"
	"github.com/hochfrequenz/adw-orchestrator/internal/executor"
	"github.com/hochfrequenz/adw-orchestrator/internal/notify"
	"github.com/hochfrequenz/adw-orchestrator/internal/phase"
	"github.com/hochfrequenz/adw-orchestrator/internal/prompts"
)

const (
	SuccessBanner      = "Plan + Build + Test completed successfully."
	MissingRunIDBanner = "Could not extract run_id from plan output."

	// DefaultMaxFixAttempts bounds the number of test phase invocations
	DefaultMaxFixAttempts = 3
)

// PhaseRunner runs a single phase to completion
type PhaseRunner interface {
	RunPhase(ctx context.Context, req phase.Request) (phase.Result, error)
}

// PromptBuilder renders the instruction for each phase
type PromptBuilder interface {
	BuildPhasePrompt(p domain.PhaseName, data prompts.PhaseData) (string, error)
}

// Reporter shows banners to the operator
type Reporter interface {
	Success(msg string)
	Failure(msg string, details ...string)
	Tail(heading string, lines []string)
	Info(msg string)
}

// Recorder persists runs and their phase attempts
type Recorder interface {
	StartRun(ctx context.Context, run *domain.Run) error
	RecordAttempt(ctx context.Context, run *domain.Run, a domain.PhaseAttempt) error
	FinishRun(ctx context.Context, run *domain.Run, exitCode int, errMsg string) error
}

// Observer aggregates phase metrics
type Observer interface {
	RecordPhase(a domain.PhaseAttempt)
	IsSlow(a domain.PhaseAttempt) bool
	Summary() string
}

// Options tune a single orchestrator
type Options struct {
	MaxFixAttempts int
	RunIDFlag      string // Flag carrying the run id to build and test; empty omits it
	AutoFixFlag    string // Flag marking auto-fix test attempts; empty omits it
	StdoutPiped    bool
	Stdout         io.Writer // Receives the test transcript when StdoutPiped
}

// Outcome is the result of a whole run
type Outcome struct {
	State    domain.RunState
	ExitCode int
	RunID    string
	Attempts []domain.AutoFixAttempt
	Err      error
}

// Orchestrator runs Plan → Build → Test for one run at a time
type Orchestrator struct {
	opts     Options
	phases   PhaseRunner
	prompts  PromptBuilder
	reporter Reporter
	logger   zerolog.Logger

	recorder Recorder
	observer Observer
	notifier notify.Notifier
}

// New creates an orchestrator. Recorder, observer and notifier are optional.
func New(opts Options, phases PhaseRunner, prompts PromptBuilder, reporter Reporter, logger zerolog.Logger) *Orchestrator {
	if opts.MaxFixAttempts < 1 {
		opts.MaxFixAttempts = DefaultMaxFixAttempts
	}
	return &Orchestrator{
		opts:     opts,
		phases:   phases,
		prompts:  prompts,
		reporter: reporter,
		logger:   logger,
	}
}

// SetRecorder sets where runs are persisted
func (o *Orchestrator) SetRecorder(r Recorder) { o.recorder = r }

// SetObserver sets the metrics sink
func (o *Orchestrator) SetObserver(obs Observer) { o.observer = obs }

// SetNotifier sets who is told when a run finishes
func (o *Orchestrator) SetNotifier(n notify.Notifier) { o.notifier = n }

// Run executes the run to a terminal state. It never starts a phase after
// ctx is cancelled, and it returns only after the last child was reaped.
func (o *Orchestrator) Run(ctx context.Context, run *domain.Run) Outcome {
	if o.recorder != nil {
		if err := o.recorder.StartRun(ctx, run); err != nil {
			o.logger.Warn().Err(err).Msg("could not record run start")
		}
	}

	var testCapture string
	out := o.execute(ctx, run, &testCapture)
	out.RunID = run.RunID
	out.ExitCode = ExitCodeFor(out.Err)
	out.State = run.State

	now := time.Now()
	run.FinishedAt = &now

	o.report(out)

	// Pipe consumers get the test transcript verbatim; everything else was on stderr
	if o.opts.StdoutPiped && o.opts.Stdout != nil && testCapture != "" && out.State != domain.StateInterrupted {
		if _, err := io.WriteString(o.opts.Stdout, testCapture); err != nil {
			o.logger.Warn().Err(err).Msg("could not write test transcript to stdout")
		}
	}

	o.finish(run, out)
	return out
}

func (o *Orchestrator) execute(ctx context.Context, run *domain.Run, testCapture *string) Outcome {
	// Plan
	res, err := o.runPhase(ctx, run, domain.PhasePlan, 1, false, true)
	if err != nil {
		return o.abort(run, err)
	}
	if res.ExitCode != 0 {
		return o.abort(run, childFailure(domain.PhasePlan, res.ExitCode))
	}
	runID, ok := phase.ExtractRunID(res.Captured)
	if !ok {
		return o.abort(run, newError(&Error{
			Kind:     KindProtocolViolation,
			Phase:    domain.PhasePlan,
			ExitCode: ExitProtocolViolation,
			Msg:      MissingRunIDBanner,
			Tail:     res.Tail,
		}))
	}
	run.RunID = runID
	o.logger.Info().Str("run_id", runID).Str("run_dir", run.RunDir()).Msg("plan finished")
	if err := run.Transition(domain.StateBuilding); err != nil {
		return o.abort(run, err)
	}

	// Build
	res, err = o.runPhase(ctx, run, domain.PhaseBuild, 1, false, false)
	if err != nil {
		return o.abort(run, err)
	}
	if res.ExitCode != 0 {
		return o.abort(run, childFailure(domain.PhaseBuild, res.ExitCode))
	}
	if err := run.Transition(domain.StateTesting); err != nil {
		return o.abort(run, err)
	}

	// Test with bounded auto-fix
	var attempts []domain.AutoFixAttempt
	capture := domain.CapturePolicyFor(domain.PhaseTest).ShouldCapture(o.opts.StdoutPiped)
	maxAttempts := o.opts.MaxFixAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err = o.runPhase(ctx, run, domain.PhaseTest, attempt, attempt > 1, capture)
		*testCapture = res.Captured
		if err != nil {
			out := o.abort(run, err)
			out.Attempts = attempts
			return out
		}

		outcome := domain.ClassifyAttempt(attempt, maxAttempts, res.ExitCode)
		attempts = append(attempts, domain.AutoFixAttempt{Index: attempt, Outcome: outcome, ExitCode: res.ExitCode})

		switch outcome {
		case domain.AttemptPassed:
			if err := run.Transition(domain.StateSucceeded); err != nil {
				return o.abort(run, err)
			}
			return Outcome{Attempts: attempts}
		case domain.AttemptFailedRetryable:
			o.logger.Warn().
				Int("attempt", attempt).
				Int("max_attempts", maxAttempts).
				Int("exit_code", res.ExitCode).
				Msg("test failed, retrying with auto-fix")
			if err := run.Transition(domain.StateTesting); err != nil {
				return o.abort(run, err)
			}
		case domain.AttemptFailedFatal:
			out := o.abort(run, newError(&Error{
				Kind:     KindAutoFixExhausted,
				Phase:    domain.PhaseTest,
				ExitCode: res.ExitCode,
				Msg:      fmt.Sprintf("Test phase failed after %d %s (exit %d).", attempt, plural(attempt, "attempt"), res.ExitCode),
			}))
			out.Attempts = attempts
			return out
		}
	}
	// Unreachable: the last attempt is never retryable
	return o.abort(run, fmt.Errorf("auto-fix loop ended without an outcome"))
}

// runPhase renders the prompt, runs one attempt and records it. The
// returned error is already classified.
func (o *Orchestrator) runPhase(ctx context.Context, run *domain.Run, p domain.PhaseName, attempt int, autoFix, capture bool) (phase.Result, error) {
	if ctx.Err() != nil {
		return phase.Result{}, phaseError(p, phase.Result{}, &executor.Error{Kind: executor.ErrInterrupted, Err: ctx.Err()})
	}

	data := prompts.PhaseData{
		Prompt:      run.Prompt,
		TaskType:    string(run.TaskType),
		RunID:       run.RunID,
		WorkingDir:  run.WorkingDir,
		Attempt:     attempt,
		MaxAttempts: o.opts.MaxFixAttempts,
		AutoFix:     autoFix,
	}
	if run.RunID != "" {
		data.RunDir = filepath.Join(".runs", run.RunID)
	}
	prompt, err := o.prompts.BuildPhasePrompt(p, data)
	if err != nil {
		return phase.Result{}, newError(&Error{
			Kind:     KindInvocation,
			Phase:    p,
			ExitCode: ExitUsage,
			Msg:      fmt.Sprintf("%s phase prompt could not be rendered.", p.Title()),
			Err:      err,
		})
	}

	var args []string
	if p != domain.PhasePlan && o.opts.RunIDFlag != "" {
		args = append(args, o.opts.RunIDFlag, run.RunID)
	}
	if autoFix && o.opts.AutoFixFlag != "" {
		args = append(args, o.opts.AutoFixFlag)
	}

	started := time.Now()
	res, err := o.phases.RunPhase(ctx, phase.Request{
		Phase:   p,
		Attempt: attempt,
		Prompt:  prompt,
		Args:    args,
		Capture: capture,
	})

	record := domain.PhaseAttempt{
		Phase:        p,
		Attempt:      attempt,
		AutoFix:      autoFix,
		ExitCode:     res.ExitCode,
		StartedAt:    started,
		Duration:     res.Duration,
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
		CostUSD:      res.Usage.CostUSD,
	}
	if err != nil {
		err = phaseError(p, res, err)
		if e, ok := AsError(err); ok {
			record.Error = string(e.Kind)
		}
	}
	o.recordAttempt(ctx, run, record)
	return res, err
}

func (o *Orchestrator) recordAttempt(ctx context.Context, run *domain.Run, a domain.PhaseAttempt) {
	if o.observer != nil {
		o.observer.RecordPhase(a)
		if o.observer.IsSlow(a) {
			o.logger.Warn().Str("phase", string(a.Phase)).Dur("duration", a.Duration).Msg("phase was unusually slow")
		}
	}
	if o.recorder != nil {
		// Record even when ctx was cancelled so interrupted attempts show up in history
		if err := o.recorder.RecordAttempt(context.WithoutCancel(ctx), run, a); err != nil {
			o.logger.Warn().Err(err).Msg("could not record phase attempt")
		}
	}
}

// abort moves the run into the terminal state matching err
func (o *Orchestrator) abort(run *domain.Run, err error) Outcome {
	target := domain.AbortStateFor(phaseOf(run.State))
	if e, ok := AsError(err); ok && e.Kind == KindInterrupted {
		target = domain.StateInterrupted
	}
	if terr := run.Transition(target); terr != nil {
		o.logger.Debug().Err(terr).Msg("state transition rejected")
	}
	return Outcome{Err: err}
}

func phaseOf(s domain.RunState) domain.PhaseName {
	switch s {
	case domain.StatePlanning:
		return domain.PhasePlan
	case domain.StateBuilding:
		return domain.PhaseBuild
	default:
		return domain.PhaseTest
	}
}

func childFailure(p domain.PhaseName, exitCode int) error {
	return newError(&Error{
		Kind:     KindChildFailure,
		Phase:    p,
		ExitCode: exitCode,
		Msg:      fmt.Sprintf("%s phase failed (exit %d).", p.Title(), exitCode),
	})
}

// report prints the single user-facing banner for the outcome
func (o *Orchestrator) report(out Outcome) {
	if out.Err == nil {
		o.reporter.Success(SuccessBanner)
		if o.observer != nil {
			o.reporter.Info(o.observer.Summary())
		}
		return
	}

	e, ok := AsError(out.Err)
	if !ok {
		o.reporter.Failure(out.Err.Error())
		return
	}

	var details []string
	if len(e.Argv) > 0 {
		details = append(details, "argv: "+command.Quote(e.Argv))
	}
	if e.Err != nil {
		details = append(details, "cause: "+e.Err.Error())
	}
	o.reporter.Failure(e.Msg, details...)

	if e.Kind == KindProtocolViolation {
		o.reporter.Tail(fmt.Sprintf("Last %s phase output:", e.Phase), e.Tail)
	}
}

func (o *Orchestrator) finish(run *domain.Run, out Outcome) {
	summary := "no phases ran"
	if o.observer != nil {
		summary = o.observer.Summary()
	}

	if o.recorder != nil {
		errMsg := ""
		if out.Err != nil {
			errMsg = out.Err.Error()
		}
		if err := o.recorder.FinishRun(context.Background(), run, out.ExitCode, errMsg); err != nil {
			o.logger.Warn().Err(err).Msg("could not record run result")
		}
	}

	if o.notifier != nil {
		rep := notify.RunReport{
			ExitCode: out.ExitCode,
			Attempts: len(out.Attempts),
			Usage:    summary,
		}
		if e, ok := AsError(out.Err); ok {
			rep.FailedPhase = e.Phase
			rep.Reason = e.Msg
		} else if out.Err != nil {
			rep.Reason = out.Err.Error()
		}
		if err := o.notifier.Send(notify.ForRun(run, rep)); err != nil {
			o.logger.Warn().Err(err).Msg("notification failed")
		}
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
