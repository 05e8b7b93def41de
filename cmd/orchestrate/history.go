package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/adw-orchestrator/internal/history"
)

var historyLimit int

func init() {
	historyCmd := &cobra.Command{
		Use:   "history [ID]",
		Short: "List recent runs, or show the phase attempts of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show (0 = all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		fmt.Fprintln(os.Stderr, "Run history is disabled ([history] enabled = false)")
		return nil
	}

	store, err := openHistory(cfg.History.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		return showRun(cmd.Context(), os.Stdout, store, args[0])
	}
	return listRuns(cmd.Context(), os.Stdout, store, historyLimit)
}

// openHistory opens the database; failures are runtime errors, not usage errors
func openHistory(path string) (*history.Store, error) {
	store, err := history.Open(path)
	if err != nil {
		return nil, &exitError{code: 1, err: fmt.Errorf("failed to open history: %w", err)}
	}
	return store, nil
}

func listRuns(ctx context.Context, out io.Writer, store *history.Store, limit int) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("failed to list runs: %w", err)}
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tRUN ID\tCLI\tSTATE\tEXIT\tPROMPT")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, humanize.Time(r.StartedAt), orDash(r.RunID), r.CLIKind, r.State, exitText(r.ExitCode), shorten(r.Prompt, 60))
	}
	return w.Flush()
}

func showRun(ctx context.Context, out io.Writer, store *history.Store, id string) error {
	r, err := store.GetRun(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return &exitError{code: 1, err: fmt.Errorf("no run with id %s", id)}
	}
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("failed to load run: %w", err)}
	}
	attempts, err := store.Attempts(ctx, id)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("failed to load attempts: %w", err)}
	}

	fmt.Fprintf(out, "Run:     %s (run id %s)\n", r.ID, orDash(r.RunID))
	fmt.Fprintf(out, "Prompt:  %s\n", shorten(r.Prompt, 72))
	fmt.Fprintf(out, "CLI:     %s, model %s\n", r.CLIKind, r.ModelTier)
	fmt.Fprintf(out, "Dir:     %s\n", r.WorkingDir)
	fmt.Fprintf(out, "State:   %s (exit %s)\n", r.State, exitText(r.ExitCode))
	if r.Error != "" {
		fmt.Fprintf(out, "Error:   %s\n", r.Error)
	}
	fmt.Fprintln(out)

	if len(attempts) == 0 {
		fmt.Fprintln(out, "No phase attempts recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tATTEMPT\tEXIT\tDURATION\tTOKENS IN/OUT\tCOST\tERROR")
	for _, a := range attempts {
		attempt := fmt.Sprint(a.Attempt)
		if a.AutoFix {
			attempt += " (auto-fix)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s/%s\t$%.4f\t%s\n",
			a.Phase, attempt, a.ExitCode, a.Duration.Round(time.Second),
			humanize.Comma(int64(a.InputTokens)), humanize.Comma(int64(a.OutputTokens)), a.CostUSD, orDash(a.Error))
	}
	return w.Flush()
}

func exitText(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprint(*code)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// shorten keeps the first line of s, cut to n runes
func shorten(s string, n int) string {
	s, _, _ = strings.Cut(s, "\n")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
