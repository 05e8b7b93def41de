package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/adw-orchestrator/internal/orchestrator"
)

var (
	configPath string
	debug      bool
	rootCmd    = &cobra.Command{
		Use:   "orchestrate PROMPT",
		Short: "ADW Orchestrator - Plan, Build and Test with an LLM CLI",
		Long: `ADW Orchestrator drives an LLM command-line tool through three phases.
Plan turns the prompt into a run, Build implements it and Test verifies it,
retrying with auto-fix when tests fail. Child output is rendered on stderr;
the exit code is that of the first failing phase.`,
		Args:          cobra.ExactArgs(1),
		RunE:          runOrchestrate,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// exitError carries a specific process exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(format string, args ...any) error {
	return &exitError{code: orchestrator.ExitUsage, err: fmt.Errorf(format, args...)}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging and error stack traces")
	rootCmd.PersistentFlags().StringVar(&workingDirFlag, "working-dir", "", "directory the phases run in (default: current directory)")
}

func main() {
	os.Exit(execute())
}

func execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", ee.err)
		}
		return ee.code
	}

	// Anything cobra rejects itself is an argument problem
	fmt.Fprintln(os.Stderr, "Error:", err)
	fmt.Fprintln(os.Stderr, "Run 'orchestrate --help' for usage.")
	return orchestrator.ExitUsage
}
