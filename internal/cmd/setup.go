package cmd

import (
	"fmt"
	"os"

	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/mergequeue"
	"github.com/Iron-Ham/conductor/internal/vcs"
)

// env bundles the pieces most commands need: resolved config, a logger, and
// the merge queue opened against the state directory.
type env struct {
	cfg    *config.Config
	logger *logging.Logger
	queue  *mergequeue.Queue
	repo   string // repository root (current directory)
}

// setup resolves configuration and opens the merge queue. The returned env's
// logger must be closed by the caller.
func setup() (*env, error) {
	cfg := config.Get()

	repo, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	logDir := ""
	if cfg.Logging.Enabled {
		logDir = cfg.Paths.ResolveQueueDir(repo)
	}
	logger, err := logging.NewLogger(logDir, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	queue, err := mergequeue.Open(cfg.Paths.ResolveQueueDir(repo),
		mergequeue.WithMaxAttempts(cfg.MergeQueue.MaxAttempts),
		mergequeue.WithEstimatePerItem(cfg.MergeQueue.EstimatePerItem()),
		mergequeue.WithLogger(logger))
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("failed to open merge queue: %w", err)
	}

	return &env{cfg: cfg, logger: logger, queue: queue, repo: repo}, nil
}

func (e *env) close() {
	_ = e.logger.Close()
}

// baseBranch returns the configured integration target, auto-detecting
// main/master from the repository when unset.
func (e *env) baseBranch() string {
	if e.cfg.MergeQueue.BaseBranch != "" {
		return e.cfg.MergeQueue.BaseBranch
	}
	return vcs.NewGit(e.repo).FindMainBranch()
}
