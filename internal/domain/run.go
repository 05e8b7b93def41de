package domain

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Run is one operator invocation of the orchestrator
type Run struct {
	ID         string // Unique identifier of this invocation (history key)
	RunID      string // Assigned by the plan phase
	Prompt     string
	TaskType   TaskType // Empty lets the plan phase classify the request
	ModelTier  ModelTier
	CLIKind    CLIKind
	WorkingDir string
	State      RunState
	StartedAt  time.Time
	FinishedAt *time.Time
}

// NewRun creates a run in the planning state. workingDir defaults to the
// current directory and is made absolute.
func NewRun(prompt string, taskType TaskType, tier ModelTier, kind CLIKind, workingDir string) (*Run, error) {
	if prompt == "" {
		return nil, fmt.Errorf("prompt must not be empty")
	}
	dir, err := ResolveWorkingDir(workingDir)
	if err != nil {
		return nil, err
	}
	return &Run{
		ID:         uuid.NewString(),
		Prompt:     prompt,
		TaskType:   taskType,
		ModelTier:  tier,
		CLIKind:    kind,
		WorkingDir: dir,
		State:      StatePlanning,
		StartedAt:  time.Now(),
	}, nil
}

// ResolveWorkingDir returns an absolute path to an existing directory.
// An empty path resolves to the current directory, never the home directory.
func ResolveWorkingDir(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determining current directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving working directory %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("working directory %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory %s is not a directory", abs)
	}
	return abs, nil
}

// RunDir returns the per-run state directory owned by the child CLIs
func (r *Run) RunDir() string {
	if r.RunID == "" {
		return ""
	}
	return filepath.Join(r.WorkingDir, ".runs", r.RunID)
}

// AttemptOutcome is the result of one test attempt
type AttemptOutcome string

const (
	AttemptPassed          AttemptOutcome = "passed"
	AttemptFailedRetryable AttemptOutcome = "failed_retryable"
	AttemptFailedFatal     AttemptOutcome = "failed_fatal"
)

// AutoFixAttempt records one invocation of the test phase
type AutoFixAttempt struct {
	Index    int // 1-based
	Outcome  AttemptOutcome
	ExitCode int
}

// ClassifyAttempt decides the outcome of a test attempt from its exit code.
// The last allowed attempt never yields a retryable outcome.
func ClassifyAttempt(index, maxAttempts, exitCode int) AttemptOutcome {
	switch {
	case exitCode == 0:
		return AttemptPassed
	case index >= maxAttempts:
		return AttemptFailedFatal
	default:
		return AttemptFailedRetryable
	}
}

// PhaseAttempt records one child invocation
type PhaseAttempt struct {
	Phase        PhaseName
	Attempt      int // 1-based; only the test phase goes beyond 1
	AutoFix      bool
	ExitCode     int
	StartedAt    time.Time
	Duration     time.Duration
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Error        string // Failure kind when the child did not exit normally
}
