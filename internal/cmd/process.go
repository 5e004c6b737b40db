package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/conductor/internal/gate"
	"github.com/Iron-Ham/conductor/internal/mergequeue"
	"github.com/Iron-Ham/conductor/internal/vcs"
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process the merge queue",
	Long: `Drain queued items: each branch is shadow-merged and gated in an
ephemeral worktree, then merged onto the base branch and gated again.
A post-merge gate failure rolls the base branch back. Interrupting the
run stops it at the next item boundary.`,
	RunE: runProcess,
}

var processMaxItems int

func init() {
	processCmd.Flags().IntVarP(&processMaxItems, "max-items", "n", 0,
		"maximum items to process this run (0 uses mergequeue.max_items_per_run)")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	git := vcs.NewGit(e.repo)
	if !git.IsRepository() {
		return fmt.Errorf("%s is not a git repository", e.repo)
	}

	maxItems := e.cfg.MergeQueue.MaxItemsPerRun
	if processMaxItems > 0 {
		maxItems = processMaxItems
	}

	gates := gate.NewCommandRunner(e.cfg.Gates.Commands, e.logger)
	processor := mergequeue.NewProcessor(e.queue, git, gates,
		e.cfg.Paths.ResolveWorktreeDir(e.repo),
		mergequeue.WithMaxItemsPerRun(maxItems),
		mergequeue.WithProcessorLogger(e.logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := processor.ProcessQueue(ctx)
	if err != nil {
		if report == nil {
			return err
		}
		fmt.Printf("Run stopped: %v\n", err)
	}

	fmt.Printf("Processed %d items: %d merged, %d failed, %d conflicts\n",
		report.Processed, report.Merged, report.Failed, report.Conflicts)
	for _, r := range report.Results {
		line := fmt.Sprintf("  %s  %s -> %s", r.ItemID, r.Branch, r.Status)
		if r.Error != "" {
			line += "  (" + r.Error + ")"
		}
		fmt.Println(line)
	}

	if report.Archived > 0 {
		fmt.Printf("Archived %d completed items\n", report.Archived)
	}

	return nil
}
