//go:build integration

package integration

import (
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestCLI_HappyPath(t *testing.T) {
	ws := newWorkspace(t)
	ws.install(fakeCLI{JSON: true, PlanOutput: "Run ID: a1b2c3d4", TestOutput: "ok 42 tests"})

	code, stdout, stderr := ws.run("Add a CSV export button")

	if code != 0 {
		t.Fatalf("exit = %d, want 0\nstderr:\n%s", code, stderr)
	}
	if !strings.Contains(stderr, "Plan + Build + Test completed successfully.") {
		t.Errorf("missing success banner in stderr:\n%s", stderr)
	}
	if !strings.Contains(stdout, "ok 42 tests") {
		t.Errorf("piped stdout should carry the test transcript, got %q", stdout)
	}

	calls := ws.calls()
	if len(calls) != 3 {
		t.Fatalf("calls = %v, want plan, build, test", calls)
	}
	if !strings.HasPrefix(calls[1], "build") || !strings.Contains(calls[1], "--run-id a1b2c3d4") {
		t.Errorf("build call = %q, want run id", calls[1])
	}
	if strings.Contains(calls[2], "--auto-fix") {
		t.Errorf("first test attempt must not auto-fix: %q", calls[2])
	}
}

func TestCLI_PlanWithoutRunID(t *testing.T) {
	ws := newWorkspace(t)
	ws.install(fakeCLI{PlanOutput: "I made a plan but forgot the id"})

	code, _, stderr := ws.run("do something")

	if code == 0 {
		t.Fatal("exit = 0, want failure")
	}
	if !strings.Contains(stderr, "Could not extract run_id from plan output.") {
		t.Errorf("missing protocol banner in stderr:\n%s", stderr)
	}
	if !strings.Contains(stderr, "I made a plan but forgot the id") {
		t.Errorf("stderr should show the plan output tail:\n%s", stderr)
	}
	if calls := ws.calls(); len(calls) != 1 {
		t.Errorf("calls = %v, want plan only", calls)
	}
}

func TestCLI_BuildFailurePassesExitCode(t *testing.T) {
	ws := newWorkspace(t)
	ws.install(fakeCLI{PlanOutput: "Run ID: deadbeef", BuildExit: 3})

	code, _, stderr := ws.run("break the build")

	if code != 3 {
		t.Fatalf("exit = %d, want 3\nstderr:\n%s", code, stderr)
	}
	for _, c := range ws.calls() {
		if strings.HasPrefix(c, "test") {
			t.Errorf("test phase must not run after a failed build: %v", ws.calls())
		}
	}
}

func TestCLI_AutoFixSucceeds(t *testing.T) {
	ws := newWorkspace(t)
	ws.install(fakeCLI{PlanOutput: "Run ID: a1b2c3d4", TestExits: []int{1, 0}})

	code, _, stderr := ws.run("fix the tests")

	if code != 0 {
		t.Fatalf("exit = %d, want 0\nstderr:\n%s", code, stderr)
	}
	calls := ws.calls()
	if len(calls) != 4 {
		t.Fatalf("calls = %v, want plan, build and two tests", calls)
	}
	if !strings.Contains(calls[3], "--auto-fix") {
		t.Errorf("second test attempt should auto-fix: %q", calls[3])
	}
}

func TestCLI_AutoFixExhausted(t *testing.T) {
	ws := newWorkspace(t)
	ws.install(fakeCLI{PlanOutput: "Run ID: a1b2c3d4", TestExits: []int{1}})

	code, _, stderr := ws.run("never green")

	if code != 1 {
		t.Fatalf("exit = %d, want 1\nstderr:\n%s", code, stderr)
	}
	if !strings.Contains(stderr, "Test phase failed after 3 attempts") {
		t.Errorf("stderr should report the exhausted auto-fix loop:\n%s", stderr)
	}
	var tests int
	for _, c := range ws.calls() {
		if strings.HasPrefix(c, "test") {
			tests++
		}
	}
	if tests != 3 {
		t.Errorf("test attempts = %d, want 3", tests)
	}
}

func TestCLI_InterruptDuringBuild(t *testing.T) {
	ws := newWorkspace(t)
	ws.install(fakeCLI{PlanOutput: "Run ID: a1b2c3d4", BuildSleep: true})

	cmd, _, stderr := ws.command("long build")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Stat(ws.marker("build-started")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			cmd.Process.Kill()
			t.Fatalf("build phase never started\nstderr:\n%s", stderr)
		}
		time.Sleep(20 * time.Millisecond)
	}

	start := time.Now()
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		t.Fatal(err)
	}
	cmd.Wait()

	if code := cmd.ProcessState.ExitCode(); code != 130 {
		t.Errorf("exit = %d, want 130\nstderr:\n%s", code, stderr)
	}
	if elapsed := time.Since(start); elapsed > 8*time.Second {
		t.Errorf("shutdown took %v", elapsed)
	}
	for _, c := range ws.calls() {
		if strings.HasPrefix(c, "test") {
			t.Errorf("test phase must not start after an interrupt: %v", ws.calls())
		}
	}
}

func TestCLI_InvalidArguments(t *testing.T) {
	ws := newWorkspace(t)
	ws.install(fakeCLI{PlanOutput: "Run ID: a1b2c3d4"})

	tests := []struct {
		name string
		args []string
	}{
		{"bad model", []string{"--model", "huge", "prompt"}},
		{"bad type", []string{"--type", "epic", "prompt"}},
		{"bad cli", []string{"--cli", "Not A CLI", "prompt"}},
		{"no prompt", nil},
		{"bad attempts", []string{"--max-fix-attempts", "0", "prompt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := ws.run(tt.args...)
			if code != 2 {
				t.Errorf("exit = %d, want 2\nstderr:\n%s", code, stderr)
			}
		})
	}
	if calls := ws.calls(); len(calls) != 0 {
		t.Errorf("no phase should run on invalid arguments, got %v", calls)
	}
}

func TestCLI_HistoryListsRuns(t *testing.T) {
	ws := newWorkspace(t)
	ws.install(fakeCLI{PlanOutput: "Run ID: a1b2c3d4"})

	if code, _, stderr := ws.run("record me"); code != 0 {
		t.Fatalf("run failed with %d:\n%s", code, stderr)
	}

	cmd, stdout, stderr := ws.command("history", "--limit", "5")
	if err := cmd.Run(); err != nil {
		t.Fatalf("history: %v\n%s", err, stderr)
	}
	out := stdout.String()
	if !strings.Contains(out, "a1b2c3d4") || !strings.Contains(out, "record me") || !strings.Contains(out, "succeeded") {
		t.Errorf("history output missing run:\n%s", out)
	}

	rows := strings.Split(strings.TrimSpace(out), "\n")
	if len(rows) != 2 {
		t.Fatalf("expected one run, got:\n%s", out)
	}
	id := strings.Fields(rows[1])[0]

	cmd, stdout, stderr = ws.command("history", id)
	if err := cmd.Run(); err != nil {
		t.Fatalf("history %s: %v\n%s", id, err, stderr)
	}
	detail := stdout.String()
	for _, phase := range []string{"plan", "build", "test"} {
		if !strings.Contains(detail, phase+" ") {
			t.Errorf("attempt listing missing %s phase:\n%s", phase, detail)
		}
	}
}

func TestCLI_HistoryUnknownIDIsNotUsageError(t *testing.T) {
	ws := newWorkspace(t)
	ws.install(fakeCLI{PlanOutput: "Run ID: a1b2c3d4"})

	code, _, stderr := ws.run("history", "does-not-exist")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1\n%s", code, stderr)
	}
	if strings.Contains(stderr, "--help") {
		t.Errorf("runtime errors should not print the usage hint:\n%s", stderr)
	}
}
