package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Conductor configuration
type Config struct {
	Coordination CoordinationConfig `mapstructure:"coordination"`
	MergeQueue   MergeQueueConfig   `mapstructure:"mergequeue"`
	Breaker      BreakerConfig      `mapstructure:"breaker"`
	Budget       BudgetConfig       `mapstructure:"budget"`
	Gates        GatesConfig        `mapstructure:"gates"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Paths        PathsConfig        `mapstructure:"paths"`
}

// CoordinationConfig controls workflow coordination and plan execution
type CoordinationConfig struct {
	// MaxParallel is the maximum number of workflows executed concurrently
	// within one parallel group (default: 3)
	MaxParallel int `mapstructure:"max_parallel"`
}

// MergeQueueConfig controls merge queue behavior
type MergeQueueConfig struct {
	// MaxAttempts is the maximum number of attempts per queue item before it
	// is terminally failed (default: 3)
	MaxAttempts int `mapstructure:"max_attempts"`
	// MaxItemsPerRun bounds how many items one processor run drains (default: 5)
	MaxItemsPerRun int `mapstructure:"max_items_per_run"`
	// EstimatePerItemMinutes is the per-item wait estimate used by
	// EstimateWaitTime. A placeholder policy, not a guarantee (default: 5)
	EstimatePerItemMinutes int `mapstructure:"estimate_per_item_minutes"`
	// BaseBranch is the integration target branch. Empty means auto-detect
	// (main or master)
	BaseBranch string `mapstructure:"base_branch"`
}

// BreakerConfig controls the circuit breaker protecting adapter calls
type BreakerConfig struct {
	// Failures is the number of failures within the window that opens the
	// circuit (default: 3)
	Failures int `mapstructure:"failures"`
	// WindowSec is the sliding window size in seconds (default: 300)
	WindowSec int `mapstructure:"window_sec"`
	// CooldownSec is how long an open circuit rejects calls (default: 120)
	CooldownSec int `mapstructure:"cooldown_sec"`
}

// BudgetConfig controls spend gating for AI-class operations
type BudgetConfig struct {
	// CostLimit is the total spend ceiling in USD, 0 = no limit
	CostLimit float64 `mapstructure:"cost_limit"`
	// ReserveRatio is the fraction of a step's allowance that must remain
	// in the ledger before an AI operation is permitted (default: 0.2)
	ReserveRatio float64 `mapstructure:"reserve_ratio"`
}

// GatesConfig maps quality gate names to the commands that run them
type GatesConfig struct {
	// Commands maps a gate name (lint, test, typecheck, security) to a
	// shell command executed in the verification directory
	Commands map[string]string `mapstructure:"commands"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
}

// PathsConfig controls where Conductor stores data
type PathsConfig struct {
	// QueueDir is the directory holding persisted merge queue state.
	// If empty, defaults to ".conductor" relative to the repository root.
	// Supports ~ for home directory expansion.
	QueueDir string `mapstructure:"queue_dir"`

	// WorktreeDir is the directory where ephemeral shadow-merge worktrees
	// are created. If empty, defaults to ".conductor/worktrees" relative
	// to the repository root.
	WorktreeDir string `mapstructure:"worktree_dir"`
}

// ResolveQueueDir returns the resolved queue state directory.
func (p *PathsConfig) ResolveQueueDir(baseDir string) string {
	return resolvePath(p.QueueDir, baseDir, filepath.Join(baseDir, ".conductor"))
}

// ResolveWorktreeDir returns the resolved shadow worktree directory.
func (p *PathsConfig) ResolveWorktreeDir(baseDir string) string {
	return resolvePath(p.WorktreeDir, baseDir, filepath.Join(baseDir, ".conductor", "worktrees"))
}

// resolvePath expands ~ and resolves relative paths against baseDir,
// falling back to def when path is empty.
func resolvePath(path, baseDir, def string) string {
	if path == "" {
		return def
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	return path
}

// BreakerWindow returns the breaker window as a time.Duration
func (b *BreakerConfig) BreakerWindow() time.Duration {
	return time.Duration(b.WindowSec) * time.Second
}

// BreakerCooldown returns the breaker cooldown as a time.Duration
func (b *BreakerConfig) BreakerCooldown() time.Duration {
	return time.Duration(b.CooldownSec) * time.Second
}

// EstimatePerItem returns the per-item wait estimate as a time.Duration
func (m *MergeQueueConfig) EstimatePerItem() time.Duration {
	return time.Duration(m.EstimatePerItemMinutes) * time.Minute
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Coordination: CoordinationConfig{
			MaxParallel: 3,
		},
		MergeQueue: MergeQueueConfig{
			MaxAttempts:            3,
			MaxItemsPerRun:         5,
			EstimatePerItemMinutes: 5,
			BaseBranch:             "", // Empty means auto-detect main/master
		},
		Breaker: BreakerConfig{
			Failures:    3,
			WindowSec:   300,
			CooldownSec: 120,
		},
		Budget: BudgetConfig{
			CostLimit:    0, // No limit by default
			ReserveRatio: 0.2,
		},
		Gates: GatesConfig{
			Commands: map[string]string{},
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Paths: PathsConfig{
			QueueDir:    "", // Empty means use default: .conductor
			WorktreeDir: "", // Empty means use default: .conductor/worktrees
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Coordination defaults
	viper.SetDefault("coordination.max_parallel", defaults.Coordination.MaxParallel)

	// Merge queue defaults
	viper.SetDefault("mergequeue.max_attempts", defaults.MergeQueue.MaxAttempts)
	viper.SetDefault("mergequeue.max_items_per_run", defaults.MergeQueue.MaxItemsPerRun)
	viper.SetDefault("mergequeue.estimate_per_item_minutes", defaults.MergeQueue.EstimatePerItemMinutes)
	viper.SetDefault("mergequeue.base_branch", defaults.MergeQueue.BaseBranch)

	// Breaker defaults
	viper.SetDefault("breaker.failures", defaults.Breaker.Failures)
	viper.SetDefault("breaker.window_sec", defaults.Breaker.WindowSec)
	viper.SetDefault("breaker.cooldown_sec", defaults.Breaker.CooldownSec)

	// Budget defaults
	viper.SetDefault("budget.cost_limit", defaults.Budget.CostLimit)
	viper.SetDefault("budget.reserve_ratio", defaults.Budget.ReserveRatio)

	// Gates defaults
	viper.SetDefault("gates.commands", defaults.Gates.Commands)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)

	// Paths defaults
	viper.SetDefault("paths.queue_dir", defaults.Paths.QueueDir)
	viper.SetDefault("paths.worktree_dir", defaults.Paths.WorktreeDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "conductor")
	}
	// Fall back to ~/.config/conductor
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".config", "conductor")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
