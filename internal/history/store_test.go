package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/adw-orchestrator/internal/domain"
)

func newTestRun(t *testing.T, prompt string) *domain.Run {
	t.Helper()
	run, err := domain.NewRun(prompt, domain.TaskFeature, domain.TierLarge, domain.CLIClaude, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return run
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)
	run := newTestRun(t, "add a health endpoint")

	if err := store.StartRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.StatePlanning {
		t.Errorf("State = %q, want planning", got.State)
	}
	if got.ExitCode != nil {
		t.Errorf("ExitCode = %d, want nil while running", *got.ExitCode)
	}
	if got.FinishedAt != nil {
		t.Error("FinishedAt should be nil while running")
	}

	run.RunID = "a1b2c3d4"
	run.State = domain.StateBuilding
	plan := domain.PhaseAttempt{
		Phase:        domain.PhasePlan,
		Attempt:      1,
		StartedAt:    time.Now(),
		Duration:     1500 * time.Millisecond,
		InputTokens:  1200,
		OutputTokens: 300,
		CostUSD:      0.0125,
	}
	if err := store.RecordAttempt(ctx, run, plan); err != nil {
		t.Fatal(err)
	}

	run.State = domain.StateAbortedTest
	now := time.Now()
	run.FinishedAt = &now
	if err := store.FinishRun(ctx, run, 2, "ChildFailure: Test phase failed"); err != nil {
		t.Fatal(err)
	}

	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunID != "a1b2c3d4" {
		t.Errorf("RunID = %q", got.RunID)
	}
	if got.State != domain.StateAbortedTest {
		t.Errorf("State = %q", got.State)
	}
	if got.ExitCode == nil || *got.ExitCode != 2 {
		t.Errorf("ExitCode = %v, want 2", got.ExitCode)
	}
	if got.Error != "ChildFailure: Test phase failed" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
	if got.TaskType != domain.TaskFeature || got.ModelTier != domain.TierLarge || got.CLIKind != domain.CLIClaude {
		t.Errorf("run metadata not round-tripped: %+v", got)
	}
}

func TestStore_AttemptsInOrder(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)
	run := newTestRun(t, "fix the flaky test")
	if err := store.StartRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	attempts := []domain.PhaseAttempt{
		{Phase: domain.PhasePlan, Attempt: 1},
		{Phase: domain.PhaseBuild, Attempt: 1},
		{Phase: domain.PhaseTest, Attempt: 1, ExitCode: 1},
		{Phase: domain.PhaseTest, Attempt: 2, AutoFix: true, ExitCode: 0, Duration: 2 * time.Second},
	}
	for _, a := range attempts {
		a.StartedAt = time.Now()
		if err := store.RecordAttempt(ctx, run, a); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.Attempts(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("Attempts count = %d, want 4", len(got))
	}
	last := got[3]
	if last.Phase != domain.PhaseTest || last.Attempt != 2 || !last.AutoFix {
		t.Errorf("last attempt = %+v", last)
	}
	if last.Duration != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", last.Duration)
	}
	if got[2].ExitCode != 1 {
		t.Errorf("first test attempt exit = %d, want 1", got[2].ExitCode)
	}
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i, prompt := range []string{"first", "second", "third"} {
		run := newTestRun(t, prompt)
		run.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.StartRun(ctx, run); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, run.ID)
	}

	all, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("ListRuns count = %d, want 3", len(all))
	}
	if all[0].ID != ids[2] || all[2].ID != ids[0] {
		t.Errorf("runs not ordered newest first: %s, %s, %s", all[0].Prompt, all[1].Prompt, all[2].Prompt)
	}

	limited, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("ListRuns(2) count = %d, want 2", len(limited))
	}
}

func TestStore_FinishUnknownRun(t *testing.T) {
	store := openMemory(t)
	run := newTestRun(t, "never started")

	if err := store.FinishRun(context.Background(), run, 0, ""); err == nil {
		t.Error("expected error for a run that was never started")
	}
}

func TestStore_AttemptRequiresRun(t *testing.T) {
	store := openMemory(t)
	run := newTestRun(t, "orphan")

	err := store.RecordAttempt(context.Background(), run, domain.PhaseAttempt{Phase: domain.PhasePlan, Attempt: 1, StartedAt: time.Now()})
	if err == nil {
		t.Error("expected foreign key violation for an unknown run")
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "nested", "history.db")

	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	run := newTestRun(t, "persisted")
	if err := store.StartRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	runs, err := reopened.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Prompt != "persisted" {
		t.Errorf("reopened history = %+v", runs)
	}
}
