//go:build integration

package integration

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// fakeCLI describes how a scripted child CLI behaves per phase
type fakeCLI struct {
	JSON       bool   // Speak stream-json like claude
	PlanOutput string // Printed by the plan phase
	BuildExit  int
	BuildSleep bool  // Build blocks until it is killed
	TestExits  []int // Exit code per test attempt; the last repeats
	TestOutput string
}

// workspace is one isolated orchestrator invocation environment
type workspace struct {
	t       *testing.T
	dir     string // Working directory of the run
	home    string
	cliDir  string // Holds the fake CLI and its call log
	config  string
	history string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	root := t.TempDir()
	ws := &workspace{
		t:       t,
		dir:     filepath.Join(root, "project"),
		home:    filepath.Join(root, "home"),
		cliDir:  filepath.Join(root, "cli"),
		history: filepath.Join(root, "state", "history.db"),
	}
	for _, d := range []string{ws.dir, ws.home, ws.cliDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	return ws
}

// install writes the fake CLI and a config pointing every kind at it
func (ws *workspace) install(cli fakeCLI) {
	ws.t.Helper()

	script := ws.script(cli)
	exe := filepath.Join(ws.cliDir, "fake-llm")
	if err := os.WriteFile(exe, []byte(script), 0755); err != nil {
		ws.t.Fatal(err)
	}

	kind := "fake"
	if cli.JSON {
		kind = "claude"
	}
	ws.config = filepath.Join(ws.cliDir, "config.toml")
	config := fmt.Sprintf(`[cli]
default = %q

[cli.executables]
%s = %q

[orchestrator]
kill_grace = "1s"

[history]
database_path = %q
`, kind, kind, exe, ws.history)
	if err := os.WriteFile(ws.config, []byte(config), 0644); err != nil {
		ws.t.Fatal(err)
	}
}

func (ws *workspace) script(cli fakeCLI) string {
	emit := func(text string) string {
		if !cli.JSON {
			return fmt.Sprintf("printf '%%s\\n' %s", shellQuote(text))
		}
		line := fmt.Sprintf(`{"type":"assistant","message":{"content":[{"type":"text","text":%q}]}}`, text)
		return fmt.Sprintf("printf '%%s\\n' %s", shellQuote(line))
	}
	result := ":"
	if cli.JSON {
		result = fmt.Sprintf("printf '%%s\\n' %s", shellQuote(`{"type":"result","result":"done","is_error":false,"usage":{"input_tokens":10,"output_tokens":5},"total_cost_usd":0.001}`))
	}

	exits := cli.TestExits
	if len(exits) == 0 {
		exits = []int{0}
	}
	var exitCases strings.Builder
	for i, code := range exits {
		fmt.Fprintf(&exitCases, "  %d) code=%d ;;\n", i+1, code)
	}
	fmt.Fprintf(&exitCases, "  *) code=%d ;;\n", exits[len(exits)-1])

	build := fmt.Sprintf("%s\n  %s\n  exit %d", emit("building"), result, cli.BuildExit)
	if cli.BuildSleep {
		build = fmt.Sprintf("touch %s\n  %s\n  sleep 30\n  exit 0", shellQuote(ws.marker("build-started")), emit("building"))
	}

	return fmt.Sprintf(`#!/bin/sh
dir=%s
prompt="$2"
shift 2
case "$prompt" in
  *"planning phase"*) phase=plan ;;
  *"build phase"*) phase=build ;;
  *"test phase"*) phase=test ;;
  *) phase=unknown ;;
esac
echo "$phase $*" >> "$dir/calls.log"

case "$phase" in
plan)
  %s
  %s
  exit 0
  ;;
build)
  %s
  ;;
test)
  n=$(cat "$dir/test-count" 2>/dev/null || echo 0)
  n=$((n+1))
  echo "$n" > "$dir/test-count"
  case "$n" in
%s  esac
  %s
  %s
  exit $code
  ;;
esac
exit 64
`, shellQuote(ws.cliDir),
		emit(cli.PlanOutput), result,
		build,
		exitCases.String(),
		emit(cli.TestOutput), result)
}

func (ws *workspace) marker(name string) string {
	return filepath.Join(ws.cliDir, name)
}

// calls returns the phases the fake CLI saw, with their trailing arguments
func (ws *workspace) calls() []string {
	ws.t.Helper()
	data, err := os.ReadFile(filepath.Join(ws.cliDir, "calls.log"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		ws.t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// command prepares an orchestrator invocation inside the workspace
func (ws *workspace) command(args ...string) (*exec.Cmd, *bytes.Buffer, *bytes.Buffer) {
	full := append([]string{"--config", ws.config, "--working-dir", ws.dir}, args...)
	cmd := exec.Command(binary, full...)
	cmd.Dir = ws.dir
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + ws.home,
		"NO_COLOR=1",
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	return cmd, &stdout, &stderr
}

// run executes the orchestrator and returns its exit code and output
func (ws *workspace) run(args ...string) (int, string, string) {
	ws.t.Helper()
	cmd, stdout, stderr := ws.command(args...)
	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		ws.t.Fatalf("running orchestrate: %v", err)
	}
	return cmd.ProcessState.ExitCode(), stdout.String(), stderr.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
