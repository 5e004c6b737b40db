// Package vcs wraps the git CLI operations the merge queue depends on:
// branch inspection, worktree lifecycle, merging, and rollback. Command
// execution is abstracted behind an executor interface so tests can run
// without a git binary.
package vcs

import (
	"os"
	"os/exec"
	"strings"

	"github.com/Iron-Ham/conductor/internal/errors"
)

// -----------------------------------------------------------------------------
// Command Executor
// -----------------------------------------------------------------------------

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)

	// RunQuiet executes a command and returns only the error.
	RunQuiet(dir string, name string, args ...string) error
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// RunQuiet executes a command and returns only the error.
func (e *CLICommandExecutor) RunQuiet(dir string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.Run()
}

var _ CommandExecutor = (*CLICommandExecutor)(nil)

// -----------------------------------------------------------------------------
// Git
// -----------------------------------------------------------------------------

// Git performs git operations against a repository.
type Git struct {
	repoDir  string
	executor CommandExecutor
}

// NewGit creates a Git client for the repository at repoDir.
func NewGit(repoDir string) *Git {
	return &Git{
		repoDir:  repoDir,
		executor: NewCLICommandExecutor(),
	}
}

// NewGitWithExecutor creates a Git client with a custom executor.
// This is primarily useful for testing.
func NewGitWithExecutor(repoDir string, executor CommandExecutor) *Git {
	return &Git{
		repoDir:  repoDir,
		executor: executor,
	}
}

// RepoDir returns the repository directory.
func (g *Git) RepoDir() string {
	return g.repoDir
}

// IsRepository reports whether repoDir is inside a git work tree.
func (g *Git) IsRepository() bool {
	return g.executor.RunQuiet(g.repoDir, "git", "rev-parse", "--is-inside-work-tree") == nil
}

// FindMainBranch returns the name of the main branch (main or master).
func (g *Git) FindMainBranch() string {
	if err := g.executor.RunQuiet(g.repoDir, "git", "rev-parse", "--verify", "main"); err == nil {
		return "main"
	}
	return "master"
}

// BranchExists reports whether a local branch exists.
func (g *Git) BranchExists(branch string) bool {
	return g.executor.RunQuiet(g.repoDir, "git", "rev-parse", "--verify", "refs/heads/"+branch) == nil
}

// CurrentBranch returns the checked-out branch name for the given path.
func (g *Git) CurrentBranch(path string) (string, error) {
	output, err := g.executor.Run(path, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errors.NewGitError("failed to get current branch", err).
			WithRepository(path).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// RevParse resolves a ref to a commit SHA in the given path.
func (g *Git) RevParse(path, ref string) (string, error) {
	output, err := g.executor.Run(path, "git", "rev-parse", ref)
	if err != nil {
		return "", errors.NewGitError("failed to resolve ref "+ref, err).
			WithRepository(path).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// Checkout switches the given path to a branch.
func (g *Git) Checkout(path, branch string) error {
	output, err := g.executor.Run(path, "git", "checkout", branch)
	if err != nil {
		if strings.Contains(string(output), "did not match any") {
			return errors.NewGitError("branch not found", errors.ErrBranchNotFound).
				WithRepository(path).
				WithBranch(branch).
				WithGitOutput(string(output))
		}
		return errors.NewGitError("failed to checkout "+branch, err).
			WithRepository(path).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// Merge merges a branch into the current branch of the given path. With
// noFF a merge commit is always created, which keeps integration commits
// attributable to their queue item. Conflicts abort the merge and return
// ErrMergeConflict.
func (g *Git) Merge(path, branch string, noFF bool) error {
	args := []string{"merge"}
	if noFF {
		args = append(args, "--no-ff")
	}
	args = append(args, "--no-edit", branch)

	output, err := g.executor.Run(path, "git", args...)
	if err != nil {
		outputStr := string(output)
		if strings.Contains(outputStr, "CONFLICT") || strings.Contains(outputStr, "Automatic merge failed") {
			// Abort so the tree is not left mid-merge.
			_, _ = g.executor.Run(path, "git", "merge", "--abort")
			return errors.NewGitError("merge conflict detected", errors.ErrMergeConflict).
				WithRepository(path).
				WithBranch(branch).
				WithGitOutput(outputStr)
		}
		return errors.NewGitError("failed to merge "+branch, err).
			WithRepository(path).
			WithBranch(branch).
			WithGitOutput(outputStr)
	}
	return nil
}

// ResetHard resets the given path to a ref, discarding local changes.
func (g *Git) ResetHard(path, ref string) error {
	output, err := g.executor.Run(path, "git", "reset", "--hard", ref)
	if err != nil {
		return errors.NewGitError("failed to reset to "+ref, err).
			WithRepository(path).
			WithGitOutput(string(output))
	}
	return nil
}

// DeleteBranch force-deletes a local branch.
func (g *Git) DeleteBranch(branch string) error {
	output, err := g.executor.Run(g.repoDir, "git", "branch", "-D", branch)
	if err != nil {
		if strings.Contains(string(output), "not found") {
			return errors.NewGitError("branch not found", errors.ErrBranchNotFound).
				WithRepository(g.repoDir).
				WithBranch(branch).
				WithGitOutput(string(output))
		}
		return errors.NewGitError("failed to delete branch", err).
			WithRepository(g.repoDir).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// HasUncommittedChanges reports whether the given path has uncommitted changes.
func (g *Git) HasUncommittedChanges(path string) (bool, error) {
	output, err := g.executor.Run(path, "git", "status", "--porcelain")
	if err != nil {
		return false, errors.NewGitError("failed to check status", err).
			WithRepository(path).
			WithGitOutput(string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// CreateWorktree creates a worktree at path checked out to a detached copy
// of baseRef. Detached HEAD keeps shadow merges off every named branch.
func (g *Git) CreateWorktree(path, baseRef string) error {
	output, err := g.executor.Run(g.repoDir, "git", "worktree", "add", "--detach", path, baseRef)
	if err != nil {
		if strings.Contains(string(output), "already exists") {
			return errors.NewGitError("worktree already exists", errors.ErrWorktreeExists).
				WithRepository(g.repoDir).
				WithWorktree(path).
				WithGitOutput(string(output))
		}
		return errors.NewGitError("failed to create worktree", err).
			WithRepository(g.repoDir).
			WithWorktree(path).
			WithBranch(baseRef).
			WithGitOutput(string(output))
	}
	return nil
}

// RemoveWorktree removes a worktree at the given path. On failure the
// directory is removed manually and stale references are pruned.
func (g *Git) RemoveWorktree(path string) error {
	output, err := g.executor.Run(g.repoDir, "git", "worktree", "remove", "--force", path)
	if err != nil {
		_ = os.RemoveAll(path)
		_, _ = g.executor.Run(g.repoDir, "git", "worktree", "prune")

		return errors.NewGitError("failed to remove worktree cleanly", err).
			WithRepository(g.repoDir).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return nil
}

// ListWorktrees returns the paths of all worktrees in the repository.
func (g *Git) ListWorktrees() ([]string, error) {
	output, err := g.executor.Run(g.repoDir, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.NewGitError("failed to list worktrees", err).
			WithRepository(g.repoDir).
			WithGitOutput(string(output))
	}

	var worktrees []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			worktrees = append(worktrees, strings.TrimPrefix(line, "worktree "))
		}
	}
	return worktrees, nil
}
