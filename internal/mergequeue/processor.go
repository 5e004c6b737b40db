package mergequeue

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/gate"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/vcs"
)

// GitClient is the subset of git operations the processor needs.
type GitClient interface {
	RepoDir() string
	Checkout(path, branch string) error
	Merge(path, branch string, noFF bool) error
	ResetHard(path, ref string) error
	RevParse(path, ref string) (string, error)
	CreateWorktree(path, baseRef string) error
	RemoveWorktree(path string) error
}

var _ GitClient = (*vcs.Git)(nil)

// Processor drains the merge queue: each item is shadow-merged and gated in
// an ephemeral worktree, then merged for real onto the target branch and
// gated again. A post-merge gate failure rolls the target branch back to its
// pre-merge commit. Items are processed strictly one at a time; the target
// branch only ever advances by one verified merge.
type Processor struct {
	queue          *Queue
	git            GitClient
	gates          gate.Runner
	worktreeDir    string
	maxItemsPerRun int
	logger         *logging.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithMaxItemsPerRun bounds how many items one ProcessQueue call drains.
func WithMaxItemsPerRun(n int) ProcessorOption {
	return func(p *Processor) { p.maxItemsPerRun = n }
}

// WithProcessorLogger sets the processor's logger.
func WithProcessorLogger(logger *logging.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// NewProcessor creates a Processor. Shadow worktrees are created under
// worktreeDir and removed when verification finishes, pass or fail.
func NewProcessor(queue *Queue, git GitClient, gates gate.Runner, worktreeDir string, opts ...ProcessorOption) *Processor {
	p := &Processor{
		queue:          queue,
		git:            git,
		gates:          gates,
		worktreeDir:    worktreeDir,
		maxItemsPerRun: 5,
		logger:         logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ItemResult records the outcome of processing one item.
type ItemResult struct {
	ItemID string      `json:"item_id"`
	Branch string      `json:"branch"`
	Status MergeStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// RunReport summarizes one ProcessQueue run.
type RunReport struct {
	Processed int          `json:"processed"`
	Merged    int          `json:"merged"`
	Failed    int          `json:"failed"`
	Conflicts int          `json:"conflicts"`
	Archived  int          `json:"archived"`
	Results   []ItemResult `json:"results"`
}

// ProcessQueue drains up to maxItemsPerRun queued items, then archives
// merged and cancelled items in one final sweep. The queue's processing lock
// is held for the whole run, so concurrent ProcessQueue calls against the
// same state directory fail fast with ErrProcessorBusy. A failure in one
// item never stops the run: the item is marked and the next one proceeds.
// Context cancellation stops the run at the next item boundary.
func (p *Processor) ProcessQueue(ctx context.Context) (*RunReport, error) {
	release, err := p.queue.AcquireProcessing()
	if err != nil {
		return nil, err
	}
	defer release()

	report := &RunReport{}

	for i := 0; i < p.maxItemsPerRun; i++ {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		item := p.queue.GetNextItem()
		if item == nil {
			break
		}

		status, errMsg := p.processItem(ctx, item)
		report.Processed++
		report.Results = append(report.Results, ItemResult{
			ItemID: item.ID,
			Branch: item.Branch,
			Status: status,
			Error:  errMsg,
		})

		switch status {
		case StatusMerged:
			report.Merged++
		case StatusConflict:
			report.Conflicts++
		default:
			report.Failed++
		}
	}

	archived, err := p.queue.RemoveCompleted()
	if err != nil {
		return report, err
	}
	report.Archived = archived

	return report, nil
}

// processItem runs one item through the full verify-then-merge pipeline and
// returns its final status. Panics are contained to the item: the item is
// marked failed and the run continues.
func (p *Processor) processItem(ctx context.Context, item *MergeQueueItem) (status MergeStatus, errMsg string) {
	logger := p.logger.With("item_id", item.ID).WithBranch(item.Branch)

	defer func() {
		if r := recover(); r != nil {
			errMsg = fmt.Sprintf("panic while processing item: %v", r)
			status = StatusFailed
			logger.Error("item processing panicked", "panic", fmt.Sprint(r))
			if err := p.queue.UpdateItemStatus(item.ID, StatusFailed, errMsg); err != nil {
				logger.Error("failed to mark panicked item", "error", err)
			}
		}
	}()

	if err := p.queue.UpdateItemStatus(item.ID, StatusVerifying, ""); err != nil {
		return StatusFailed, err.Error()
	}
	logger.Info("verifying item")

	if st, msg := p.shadowVerify(ctx, item); st != StatusReady {
		_ = p.queue.UpdateItemStatus(item.ID, st, msg)
		return st, msg
	}

	if err := p.queue.UpdateItemStatus(item.ID, StatusReady, ""); err != nil {
		return StatusFailed, err.Error()
	}
	if err := p.queue.UpdateItemStatus(item.ID, StatusMerging, ""); err != nil {
		return StatusFailed, err.Error()
	}
	logger.Info("merging item", "target", item.TargetBranch)

	st, msg := p.realMerge(ctx, item)
	_ = p.queue.UpdateItemStatus(item.ID, st, msg)

	if st == StatusMerged {
		logger.Info("item merged")
	} else {
		logger.Warn("item did not merge", "status", string(st), "error", msg)
	}
	return st, msg
}

// shadowVerify merges the branch into a detached copy of the target in an
// ephemeral worktree and runs the item's gates there. The real target branch
// is never touched. Returns StatusReady on success, or the terminal status
// and failure context otherwise.
func (p *Processor) shadowVerify(ctx context.Context, item *MergeQueueItem) (MergeStatus, string) {
	wtPath := filepath.Join(p.worktreeDir, "shadow-"+item.ID)

	if err := p.git.CreateWorktree(wtPath, item.TargetBranch); err != nil {
		return StatusFailed, fmt.Sprintf("create shadow worktree: %v", err)
	}
	defer func() {
		if err := p.git.RemoveWorktree(wtPath); err != nil {
			p.logger.Warn("failed to remove shadow worktree", "path", wtPath, "error", err)
		}
	}()

	if err := p.git.Merge(wtPath, item.Branch, true); err != nil {
		if errors.Is(err, errors.ErrMergeConflict) {
			return StatusConflict, fmt.Sprintf("shadow merge conflict: %v", err)
		}
		return StatusFailed, fmt.Sprintf("shadow merge: %v", err)
	}

	results, ok := p.gates.RunGates(ctx, wtPath, item.Gates)
	if !ok {
		failed := gate.FailedGate(results)
		return StatusFailed, fmt.Sprintf("gate %q failed during verification", failed)
	}

	return StatusReady, ""
}

// realMerge merges the branch onto the actual target branch and re-runs the
// gates against the merged result. The target may have moved since
// verification, so conflicts and gate failures are still possible here; a
// post-merge gate failure rolls the target back to its pre-merge commit.
func (p *Processor) realMerge(ctx context.Context, item *MergeQueueItem) (MergeStatus, string) {
	repo := p.git.RepoDir()

	if err := p.git.Checkout(repo, item.TargetBranch); err != nil {
		return StatusFailed, fmt.Sprintf("checkout target: %v", err)
	}

	preSHA, err := p.git.RevParse(repo, "HEAD")
	if err != nil {
		return StatusFailed, fmt.Sprintf("resolve pre-merge commit: %v", err)
	}

	if err := p.git.Merge(repo, item.Branch, true); err != nil {
		if errors.Is(err, errors.ErrMergeConflict) {
			return StatusConflict, fmt.Sprintf("merge conflict on %s: %v", item.TargetBranch, err)
		}
		return StatusFailed, fmt.Sprintf("merge: %v", err)
	}

	results, ok := p.gates.RunGates(ctx, repo, item.Gates)
	if !ok {
		failed := gate.FailedGate(results)
		if resetErr := p.git.ResetHard(repo, preSHA); resetErr != nil {
			// Rollback failure leaves the target dirty; surface both.
			return StatusFailed, fmt.Sprintf(
				"gate %q failed after merge and rollback to %s also failed: %v", failed, preSHA, resetErr)
		}
		return StatusFailed, fmt.Sprintf("gate %q failed after merge, target rolled back to %s", failed, preSHA)
	}

	sha, err := p.git.RevParse(repo, "HEAD")
	if err == nil {
		_ = p.queue.RecordMergeCommit(item.ID, sha)
	}

	return StatusMerged, ""
}
