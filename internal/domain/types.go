package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// TaskType classifies the operator's request. Empty means the plan phase decides.
type TaskType string

const (
	TaskBug      TaskType = "bug"
	TaskFeature  TaskType = "feature"
	TaskChore    TaskType = "chore"
	TaskRefactor TaskType = "refactor"
)

// TaskTypes lists the accepted task types in display order
var TaskTypes = []TaskType{TaskBug, TaskFeature, TaskChore, TaskRefactor}

// ParseTaskType validates s. An empty string yields an empty TaskType.
func ParseTaskType(s string) (TaskType, error) {
	if s == "" {
		return "", nil
	}
	for _, t := range TaskTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid task type %q (expected %s)", s, joinValues(TaskTypes))
}

// ModelTier selects how capable (and expensive) a model the child CLI should use
type ModelTier string

const (
	TierSmall  ModelTier = "small"
	TierMedium ModelTier = "medium"
	TierLarge  ModelTier = "large"
)

// ModelTiers lists the accepted tiers from cheapest to most capable
var ModelTiers = []ModelTier{TierSmall, TierMedium, TierLarge}

// ParseModelTier validates s
func ParseModelTier(s string) (ModelTier, error) {
	for _, t := range ModelTiers {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid model tier %q (expected %s)", s, joinValues(ModelTiers))
}

// CLIKind names the external LLM command-line tool. Kinds other than the
// three known ones are allowed and get a minimal argv.
type CLIKind string

const (
	CLIClaude  CLIKind = "claude"
	CLICopilot CLIKind = "copilot"
	CLIGemini  CLIKind = "gemini"
)

var cliKindRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ParseCLIKind validates the shape of a CLI kind name
func ParseCLIKind(s string) (CLIKind, error) {
	if !cliKindRegex.MatchString(s) {
		return "", fmt.Errorf("invalid cli %q (expected a lowercase name such as claude, copilot or gemini)", s)
	}
	return CLIKind(s), nil
}

// PhaseName identifies one of the three orchestrated phases
type PhaseName string

const (
	PhasePlan  PhaseName = "plan"
	PhaseBuild PhaseName = "build"
	PhaseTest  PhaseName = "test"
)

// Title returns the capitalized phase name for banners
func (p PhaseName) Title() string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}

// CapturePolicy controls whether a phase's stdout is buffered in memory
type CapturePolicy string

const (
	CaptureFull        CapturePolicy = "full"
	CaptureStreamed    CapturePolicy = "streamed"
	CaptureConditional CapturePolicy = "conditional"
)

// CapturePolicyFor returns the fixed capture policy of a phase
func CapturePolicyFor(p PhaseName) CapturePolicy {
	switch p {
	case PhasePlan:
		return CaptureFull
	case PhaseTest:
		return CaptureConditional
	default:
		return CaptureStreamed
	}
}

// ShouldCapture resolves the policy given whether the orchestrator's stdout is piped
func (c CapturePolicy) ShouldCapture(stdoutPiped bool) bool {
	switch c {
	case CaptureFull:
		return true
	case CaptureConditional:
		return stdoutPiped
	default:
		return false
	}
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, "|")
}
