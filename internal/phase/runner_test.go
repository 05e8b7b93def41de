package phase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/adw-orchestrator/internal/domain"
	"github.com/hochfrequenz/adw-orchestrator/internal/executor"
	"github.com/hochfrequenz/adw-orchestrator/internal/stream"
)

type fakeExecutor struct {
	stdout   []string
	stderr   []string
	exitCode int
	err      error
	got      executor.Request
}

func (f *fakeExecutor) Run(ctx context.Context, req executor.Request) (executor.Result, error) {
	f.got = req
	for _, l := range f.stderr {
		req.OnStderr(l)
	}
	for _, l := range f.stdout {
		if err := req.OnStdout(l); err != nil {
			return executor.Result{ExitCode: -1}, err
		}
	}
	return executor.Result{ExitCode: f.exitCode}, f.err
}

type recordingRenderer struct {
	starts []domain.PhaseName
	events []stream.Event
}

func (r *recordingRenderer) PhaseStart(phase domain.PhaseName, attempt int, argv []string) {
	r.starts = append(r.starts, phase)
}

func (r *recordingRenderer) Event(ev stream.Event) {
	r.events = append(r.events, ev)
}

func newRunner(cfg Config, exec Executor) (*Runner, *recordingRenderer) {
	rr := &recordingRenderer{}
	return NewRunner(cfg, exec, rr, zerolog.Nop()), rr
}

func TestRunPhase_CapturesCanonicalText(t *testing.T) {
	exec := &fakeExecutor{stdout: []string{
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Planning done"},{"type":"tool_use","name":"Write","input":{"path":"plan.md"}}]}}`,
		"Run ID: a1b2c3d4",
		`{"type":"result","result":"ok","usage":{"input_tokens":5,"output_tokens":7},"total_cost_usd":0.1}`,
	}}
	r, rr := newRunner(Config{Kind: domain.CLIClaude, WorkingDir: "/work"}, exec)

	res, err := r.RunPhase(context.Background(), Request{Phase: domain.PhasePlan, Prompt: "p", Capture: true})
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "Planning done\n[tool] Write: {\"path\":\"plan.md\"}\nRun ID: a1b2c3d4\nok\n", res.Captured)
	require.NotNil(t, res.Terminal)
	assert.Equal(t, stream.KindResult, res.Terminal.Kind)
	assert.True(t, res.SawJSON)
	assert.Equal(t, stream.Usage{InputTokens: 5, OutputTokens: 7, CostUSD: 0.1}, res.Usage)
	assert.Len(t, rr.events, 4)
	assert.Equal(t, []domain.PhaseName{domain.PhasePlan}, rr.starts)
}

func TestRunPhase_NoCaptureWhenNotRequested(t *testing.T) {
	exec := &fakeExecutor{stdout: []string{"hello"}}
	r, rr := newRunner(Config{Kind: domain.CLIGemini}, exec)

	res, err := r.RunPhase(context.Background(), Request{Phase: domain.PhaseBuild, Prompt: "p"})
	require.NoError(t, err)
	assert.Empty(t, res.Captured)
	assert.Len(t, rr.events, 1)
}

func TestRunPhase_ArgvAndEnvironment(t *testing.T) {
	t.Setenv("ADW_TEST_API_KEY", "secret")
	exec := &fakeExecutor{stdout: []string{`{"type":"result","result":"ok"}`}}
	r, _ := newRunner(Config{
		Kind:            domain.CLIClaude,
		Executable:      "/opt/claude",
		Model:           "opus",
		SkipPermissions: true,
		WorkingDir:      "/work",
		EnvAllow:        []string{"ADW_TEST_API_KEY"},
	}, exec)

	res, err := r.RunPhase(context.Background(), Request{
		Phase:  domain.PhaseBuild,
		Prompt: "implement",
		Args:   []string{"--run-id", "deadbeef"},
	})
	require.NoError(t, err)

	want := []string{
		"/opt/claude", "-p", "implement", "--output-format", "stream-json", "--verbose",
		"--model", "opus", "--dangerously-skip-permissions", "--run-id", "deadbeef",
	}
	assert.Equal(t, want, exec.got.Argv)
	assert.Equal(t, want, res.Argv)
	assert.Equal(t, "/work", exec.got.Dir)
	assert.Contains(t, exec.got.Env, "ADW_TEST_API_KEY=secret")
	assert.Contains(t, exec.got.Env, "PWD=/work")
}

func TestRunPhase_NonZeroExitIsNotAnError(t *testing.T) {
	exec := &fakeExecutor{stdout: []string{`{"type":"result","result":"tests failed","is_error":true}`}, exitCode: 1}
	r, _ := newRunner(Config{Kind: domain.CLIClaude}, exec)

	res, err := r.RunPhase(context.Background(), Request{Phase: domain.PhaseTest, Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
}

func TestRunPhase_ProtocolViolations(t *testing.T) {
	tests := []struct {
		name   string
		stdout []string
		reason string
	}{
		{
			name:   "exit 0 with error event",
			stdout: []string{`{"type":"error","error":"quota exceeded"}`},
			reason: "quota exceeded",
		},
		{
			name:   "empty stdout from a stream-json cli",
			stdout: nil,
			reason: "without a terminal result event",
		},
		{
			name:   "plain text from a stream-json cli",
			stdout: []string{"Error: credit balance too low"},
			reason: "without a terminal result event",
		},
		{
			name:   "json stream without terminal event",
			stdout: []string{`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`},
			reason: "without a terminal result event",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRunner(Config{Kind: domain.CLIClaude}, &fakeExecutor{stdout: tt.stdout})

			_, err := r.RunPhase(context.Background(), Request{Phase: domain.PhaseBuild, Prompt: "p"})
			var perr *ProtocolError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, domain.PhaseBuild, perr.Phase)
			assert.Contains(t, perr.Reason, tt.reason)
		})
	}
}

func TestRunPhase_PlainTextStreamNeedsNoTerminal(t *testing.T) {
	r, _ := newRunner(Config{Kind: domain.CLIGemini}, &fakeExecutor{stdout: []string{"all done"}})
	_, err := r.RunPhase(context.Background(), Request{Phase: domain.PhaseBuild, Prompt: "p"})
	assert.NoError(t, err)
}

func TestRunPhase_StreamedJSONFromPlainCLINeedsNoTerminal(t *testing.T) {
	r, _ := newRunner(Config{Kind: domain.CLICopilot}, &fakeExecutor{stdout: []string{`{"status":"ok"}`}})
	_, err := r.RunPhase(context.Background(), Request{Phase: domain.PhaseBuild, Prompt: "p"})
	assert.NoError(t, err)
}

func TestRunPhase_TailKeptWithoutCapture(t *testing.T) {
	var stdout []string
	for i := 1; i <= 50; i++ {
		stdout = append(stdout, fmt.Sprintf("line %d", i))
		if i%10 == 0 {
			stdout = append(stdout, "")
		}
	}
	r, _ := newRunner(Config{Kind: domain.CLIGemini}, &fakeExecutor{stdout: stdout})

	res, err := r.RunPhase(context.Background(), Request{Phase: domain.PhaseBuild, Prompt: "p"})
	require.NoError(t, err)

	assert.Empty(t, res.Captured)
	require.Len(t, res.Tail, TailLines)
	assert.Equal(t, "line 31", res.Tail[0])
	assert.Equal(t, "line 50", res.Tail[TailLines-1])
}

func TestRunPhase_TailOnProtocolViolation(t *testing.T) {
	r, _ := newRunner(Config{Kind: domain.CLIClaude}, &fakeExecutor{stdout: []string{"Error: credit balance too low"}})

	res, err := r.RunPhase(context.Background(), Request{Phase: domain.PhaseBuild, Prompt: "p"})
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, []string{"Error: credit balance too low"}, res.Tail)
}

func TestTailBuffer_MultiLineText(t *testing.T) {
	tb := newTailBuffer(3)
	tb.add("a\nb")
	tb.add("")
	tb.add("c\n\nd")
	assert.Equal(t, []string{"b", "c", "d"}, tb.lines())
	assert.Nil(t, newTailBuffer(3).lines())
}

func TestRunPhase_ExecutorErrorPropagates(t *testing.T) {
	execErr := &executor.Error{Kind: executor.ErrInterrupted, Argv: []string{"claude"}}
	r, _ := newRunner(Config{Kind: domain.CLIClaude}, &fakeExecutor{stdout: []string{"partial"}, err: execErr, exitCode: 143})

	res, err := r.RunPhase(context.Background(), Request{Phase: domain.PhaseBuild, Prompt: "p", Capture: true})
	assert.ErrorIs(t, err, executor.ErrInterrupted)
	assert.Equal(t, "partial\n", res.Captured)
}

func TestRunPhase_RealProcess(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-gemini")
	body := "#!/bin/sh\n" +
		"echo \"prompt=$2\"\n" +
		"echo 'Run ID: 0badc0de'\n" +
		"echo 'noise' >&2\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0755))

	r, _ := newRunner(Config{Kind: domain.CLIGemini, Executable: script, WorkingDir: dir}, executor.NewRunner(zerolog.Nop()))
	res, err := r.RunPhase(context.Background(), Request{Phase: domain.PhasePlan, Prompt: "multi word\nprompt", Capture: true})
	require.NoError(t, err)

	id, ok := ExtractRunID(res.Captured)
	require.True(t, ok)
	assert.Equal(t, "0badc0de", id)
	assert.True(t, strings.HasPrefix(res.Captured, "prompt=multi word\nprompt\n"))
}
