package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/adw-orchestrator/internal/command"
	"github.com/hochfrequenz/adw-orchestrator/internal/config"
	"github.com/hochfrequenz/adw-orchestrator/internal/console"
	"github.com/hochfrequenz/adw-orchestrator/internal/domain"
	"github.com/hochfrequenz/adw-orchestrator/internal/executor"
	"github.com/hochfrequenz/adw-orchestrator/internal/history"
	"github.com/hochfrequenz/adw-orchestrator/internal/notify"
	"github.com/hochfrequenz/adw-orchestrator/internal/observer"
	"github.com/hochfrequenz/adw-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/adw-orchestrator/internal/phase"
	"github.com/hochfrequenz/adw-orchestrator/internal/prompts"
)

var (
	taskTypeFlag     string
	modelFlag        string
	workingDirFlag   string
	cliFlag          string
	maxFixAttempts   int
	phaseTimeoutFlag time.Duration
	mcpConfigFlag    string
)

func init() {
	f := rootCmd.Flags()
	f.StringVar(&taskTypeFlag, "type", "", "task type: bug, feature, chore or refactor")
	f.StringVar(&modelFlag, "model", string(domain.TierLarge), "model tier: small, medium or large")
	f.StringVar(&cliFlag, "cli", "", "LLM CLI to drive: claude, copilot, gemini (default from config)")
	f.IntVar(&maxFixAttempts, "max-fix-attempts", orchestrator.DefaultMaxFixAttempts, "maximum test phase invocations")
	f.DurationVar(&phaseTimeoutFlag, "phase-timeout", 0, "wall-clock limit per phase (0 = none)")
	f.StringVar(&mcpConfigFlag, "mcp-config", "", "MCP server config handed to the CLI")
}

// runOptions are the validated command-line arguments
type runOptions struct {
	prompt     string
	taskType   domain.TaskType
	tier       domain.ModelTier
	kind       domain.CLIKind
	workingDir string
}

func parseRunOptions(cmd *cobra.Command, args []string, cfg *config.Config) (runOptions, error) {
	opts := runOptions{prompt: args[0]}
	if opts.prompt == "" {
		return opts, usageError("prompt must not be empty")
	}

	if taskTypeFlag != "" {
		t, err := domain.ParseTaskType(taskTypeFlag)
		if err != nil {
			return opts, usageError("--type: %v", err)
		}
		opts.taskType = t
	}

	tier, err := domain.ParseModelTier(modelFlag)
	if err != nil {
		return opts, usageError("--model: %v", err)
	}
	opts.tier = tier

	kindName := cfg.CLI.Default
	if cmd.Flags().Changed("cli") {
		kindName = cliFlag
	}
	kind, err := domain.ParseCLIKind(kindName)
	if err != nil {
		return opts, usageError("--cli: %v", err)
	}
	opts.kind = kind

	dir, err := domain.ResolveWorkingDir(workingDirFlag)
	if err != nil {
		return opts, usageError("--working-dir: %v", err)
	}
	opts.workingDir = dir

	return opts, nil
}

// applyFlagOverrides lets explicitly set flags win over the config file
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("max-fix-attempts") {
		if maxFixAttempts < 1 {
			return usageError("--max-fix-attempts must be at least 1, got %d", maxFixAttempts)
		}
		cfg.Orchestrator.MaxFixAttempts = maxFixAttempts
	}
	if flags.Changed("phase-timeout") {
		if phaseTimeoutFlag < 0 {
			return usageError("--phase-timeout must not be negative")
		}
		cfg.Orchestrator.PhaseTimeout = phaseTimeoutFlag.String()
	}
	if flags.Changed("mcp-config") {
		cfg.CLI.MCPConfig = config.ExpandPath(mcpConfigFlag)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithLocalFallback(configPath, workingDirFlag)
	if err != nil {
		return nil, usageError("config: %v", err)
	}
	return cfg, nil
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyFlagOverrides(cmd, cfg); err != nil {
		return err
	}
	opts, err := parseRunOptions(cmd, args, cfg)
	if err != nil {
		return err
	}

	stderr := console.NewLockedWriter(os.Stderr)
	styled := console.ShouldStyle(os.Stderr)
	con := console.New(stderr, styled)
	logger := console.NewLogger(stderr, debug, styled)

	loader := prompts.DefaultLoader(opts.workingDir, cfg.Prompts.Dir)
	if err := loader.Validate(); err != nil {
		return usageError("prompt templates: %v", err)
	}

	if command.IsFallback(command.DialectFor(opts.kind)) {
		logger.Warn().Str("cli", string(opts.kind)).Msg("unknown CLI, only -p <prompt> will be passed")
	}

	run, err := domain.NewRun(opts.prompt, opts.taskType, opts.tier, opts.kind, opts.workingDir)
	if err != nil {
		return usageError("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := phase.NewRunner(phase.Config{
		Kind:            opts.kind,
		Executable:      cfg.Executable(opts.kind),
		Model:           cfg.Model(opts.tier),
		SkipPermissions: cfg.CLI.SkipPermissions,
		MCPConfig:       cfg.CLI.MCPConfig,
		WorkingDir:      run.WorkingDir,
		EnvAllow:        cfg.Env.Allow,
		Timeout:         cfg.PhaseTimeout(),
		KillGrace:       cfg.KillGrace(),
	}, executor.NewRunner(logger), con, logger)

	orch := orchestrator.New(orchestrator.Options{
		MaxFixAttempts: cfg.Orchestrator.MaxFixAttempts,
		RunIDFlag:      cfg.Orchestrator.RunIDFlag,
		AutoFixFlag:    cfg.Orchestrator.AutoFixFlag,
		StdoutPiped:    !console.IsTerminal(os.Stdout),
		Stdout:         os.Stdout,
	}, runner, loader, con, logger)

	orch.SetObserver(observer.New(cfg.SlowPhase()))
	orch.SetNotifier(buildNotifier(cfg))

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.DatabasePath)
		if err != nil {
			logger.Warn().Err(err).Msg("run history disabled")
		} else {
			defer store.Close()
			orch.SetRecorder(store)
		}
	}

	logger.Debug().
		Str("id", run.ID).
		Str("cli", string(opts.kind)).
		Str("model", cfg.Model(opts.tier)).
		Str("working_dir", run.WorkingDir).
		Msg("starting run")

	out := orch.Run(ctx, run)
	if out.Err != nil && debug {
		fmt.Fprintf(stderr, "%+v\n", out.Err)
	}
	if out.ExitCode != 0 {
		return &exitError{code: out.ExitCode}
	}
	return nil
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}
