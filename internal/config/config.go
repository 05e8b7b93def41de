// Package config loads the orchestrator's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/adw-orchestrator/internal/domain"
)

// LocalConfigName is looked up from the working directory towards the root
const LocalConfigName = ".adw-orchestrator.toml"

// Config holds all application configuration
type Config struct {
	CLI           CLIConfig           `toml:"cli"`
	Models        map[string]string   `toml:"models"`
	Orchestrator  OrchestratorConfig  `toml:"orchestrator"`
	Env           EnvConfig           `toml:"env"`
	History       HistoryConfig       `toml:"history"`
	Notifications NotificationsConfig `toml:"notifications"`
	Prompts       PromptsConfig       `toml:"prompts"`
}

// CLIConfig selects and locates the child CLIs
type CLIConfig struct {
	Default         string            `toml:"default"`
	Executables     map[string]string `toml:"executables"` // kind -> path; missing kinds use the kind name
	SkipPermissions bool              `toml:"skip_permissions"`
	MCPConfig       string            `toml:"mcp_config"`
}

// OrchestratorConfig holds phase limits and the child flag names
type OrchestratorConfig struct {
	MaxFixAttempts int    `toml:"max_fix_attempts"`
	PhaseTimeout   string `toml:"phase_timeout"` // Empty means no limit
	KillGrace      string `toml:"kill_grace"`
	SlowPhase      string `toml:"slow_phase"`
	RunIDFlag      string `toml:"run_id_flag"`   // Empty omits the flag
	AutoFixFlag    string `toml:"auto_fix_flag"` // Empty omits the flag
}

// EnvConfig extends the quiet environment handed to children
type EnvConfig struct {
	Allow []string `toml:"allow"`
}

// HistoryConfig holds run history settings
type HistoryConfig struct {
	Enabled      bool   `toml:"enabled"`
	DatabasePath string `toml:"database_path"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// PromptsConfig points at an extra prompt override directory
type PromptsConfig struct {
	Dir string `toml:"dir"`
}

func defaultModels() map[string]string {
	return map[string]string{
		string(domain.TierSmall):  "haiku",
		string(domain.TierMedium): "sonnet",
		string(domain.TierLarge):  "opus",
	}
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		CLI: CLIConfig{
			Default:     string(domain.CLIClaude),
			Executables: map[string]string{},
		},
		Models: defaultModels(),
		Orchestrator: OrchestratorConfig{
			MaxFixAttempts: 3,
			KillGrace:      "5s",
			SlowPhase:      "20m",
			RunIDFlag:      "--run-id",
			AutoFixFlag:    "--auto-fix",
		},
		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(home, ".local", "state", "adw-orchestrator", "history.db"),
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Tiers left out of [models] keep their default model
	for tier, model := range defaultModels() {
		if _, ok := cfg.Models[tier]; !ok {
			cfg.Models[tier] = model
		}
	}
	if cfg.CLI.Executables == nil {
		cfg.CLI.Executables = map[string]string{}
	}

	// Expand paths
	cfg.History.DatabasePath = ExpandPath(cfg.History.DatabasePath)
	cfg.CLI.MCPConfig = ExpandPath(cfg.CLI.MCPConfig)
	cfg.Prompts.Dir = ExpandPath(cfg.Prompts.Dir)
	for kind, exe := range cfg.CLI.Executables {
		cfg.CLI.Executables[kind] = ExpandPath(exe)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that TOML decoding cannot
func (c *Config) Validate() error {
	if c.Orchestrator.MaxFixAttempts < 1 {
		return fmt.Errorf("orchestrator.max_fix_attempts must be at least 1, got %d", c.Orchestrator.MaxFixAttempts)
	}
	for name, value := range map[string]string{
		"orchestrator.phase_timeout": c.Orchestrator.PhaseTimeout,
		"orchestrator.kill_grace":    c.Orchestrator.KillGrace,
		"orchestrator.slow_phase":    c.Orchestrator.SlowPhase,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.CLI.Default != "" {
		if _, err := domain.ParseCLIKind(c.CLI.Default); err != nil {
			return fmt.Errorf("cli.default: %w", err)
		}
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// PhaseTimeout returns the per-phase wall-clock limit; zero means none
func (c *Config) PhaseTimeout() time.Duration {
	d, _ := parseDuration(c.Orchestrator.PhaseTimeout)
	return d
}

// KillGrace returns the SIGTERM to SIGKILL delay
func (c *Config) KillGrace() time.Duration {
	d, _ := parseDuration(c.Orchestrator.KillGrace)
	return d
}

// SlowPhase returns the duration after which a phase is logged as slow
func (c *Config) SlowPhase() time.Duration {
	d, _ := parseDuration(c.Orchestrator.SlowPhase)
	return d
}

// Executable returns the configured path for kind, defaulting to its name
func (c *Config) Executable(kind domain.CLIKind) string {
	if exe := c.CLI.Executables[string(kind)]; exe != "" {
		return exe
	}
	return string(kind)
}

// Model maps a tier to a concrete model name. Unmapped tiers pass through.
func (c *Config) Model(tier domain.ModelTier) string {
	if m, ok := c.Models[string(tier)]; ok && m != "" {
		return m
	}
	return string(tier)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "adw-orchestrator", "config.toml")
}

// FindLocalConfig looks for LocalConfigName from the current directory up
func FindLocalConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return FindLocalConfigFrom(cwd)
}

// FindLocalConfigFrom looks for LocalConfigName from start up to the root.
// It returns an empty string when none exists.
func FindLocalConfigFrom(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadWithLocalFallback loads explicitPath when given (it must exist),
// otherwise the nearest local config above workingDir, otherwise the
// user config.
func LoadWithLocalFallback(explicitPath, workingDir string) (*Config, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		return Load(explicitPath)
	}
	if workingDir == "" {
		if local := FindLocalConfig(); local != "" {
			return Load(local)
		}
	} else if local := FindLocalConfigFrom(workingDir); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}
