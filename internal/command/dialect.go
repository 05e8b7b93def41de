// Package command builds the argv vector for each supported LLM CLI.
package command

import (
	"al.essio.dev/pkg/shellescape"

	"github.com/hochfrequenz/adw-orchestrator/internal/domain"
)

// Spec holds everything needed to invoke a CLI once
type Spec struct {
	Kind            domain.CLIKind
	Executable      string // Defaults to the kind name
	Prompt          string
	Model           string // Concrete model name, already mapped from the tier
	SkipPermissions bool
	MCPConfig       string
}

// Dialect knows the flag conventions of one CLI
type Dialect interface {
	Name() string
	// Flags returns the arguments that follow the executable
	Flags(s Spec) []string
	// StreamsJSON reports whether the CLI emits one JSON event per line
	StreamsJSON() bool
}

type claudeDialect struct{}

func (claudeDialect) Name() string      { return string(domain.CLIClaude) }
func (claudeDialect) StreamsJSON() bool { return true }

func (claudeDialect) Flags(s Spec) []string {
	args := []string{"-p", s.Prompt, "--output-format", "stream-json", "--verbose"}
	if s.Model != "" {
		args = append(args, "--model", s.Model)
	}
	if s.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if s.MCPConfig != "" {
		args = append(args, "--mcp-config", s.MCPConfig)
	}
	return args
}

// copilot rejects --model
type copilotDialect struct{}

func (copilotDialect) Name() string      { return string(domain.CLICopilot) }
func (copilotDialect) StreamsJSON() bool { return false }

func (copilotDialect) Flags(s Spec) []string {
	args := []string{"-p", s.Prompt}
	if s.SkipPermissions {
		args = append(args, "--allow-all")
	}
	if s.MCPConfig != "" {
		args = append(args, "--additional-mcp-config", s.MCPConfig)
	}
	return args
}

type geminiDialect struct{}

func (geminiDialect) Name() string          { return string(domain.CLIGemini) }
func (geminiDialect) StreamsJSON() bool     { return false }
func (geminiDialect) Flags(s Spec) []string { return []string{"-p", s.Prompt} }

// fallbackDialect is used for CLI kinds we have no flag table for
type fallbackDialect struct{ name string }

func (d fallbackDialect) Name() string        { return d.name }
func (fallbackDialect) StreamsJSON() bool     { return false }
func (fallbackDialect) Flags(s Spec) []string { return []string{"-p", s.Prompt} }

// DialectFor returns the dialect for kind, or the fallback dialect when the
// kind is not one we know.
func DialectFor(kind domain.CLIKind) Dialect {
	switch kind {
	case domain.CLIClaude:
		return claudeDialect{}
	case domain.CLICopilot:
		return copilotDialect{}
	case domain.CLIGemini:
		return geminiDialect{}
	default:
		return fallbackDialect{name: string(kind)}
	}
}

// IsFallback reports whether d is the unknown-kind fallback
func IsFallback(d Dialect) bool {
	_, ok := d.(fallbackDialect)
	return ok
}

// Build assembles the argv for s. It is deterministic and never interpolates
// the prompt: the prompt is always the single element following "-p".
func Build(s Spec) []string {
	exe := s.Executable
	if exe == "" {
		exe = string(s.Kind)
	}
	return append([]string{exe}, DialectFor(s.Kind).Flags(s)...)
}

// Quote renders argv as a copy-pasteable shell command line
func Quote(argv []string) string {
	return shellescape.QuoteCommand(argv)
}
