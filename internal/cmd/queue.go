package cmd

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/conductor/internal/mergequeue"
	"github.com/Iron-Ham/conductor/internal/workflow"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the merge queue",
	Long:  `Inspect and manage branches queued for verified integration.`,
}

var queueAddCmd = &cobra.Command{
	Use:   "add <branch>",
	Short: "Queue a branch for integration",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueAdd,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued items",
	RunE:  runQueueList,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-queue failed and conflicted items with attempts remaining",
	RunE:  runQueueRetry,
}

var queueCancelCmd = &cobra.Command{
	Use:   "cancel <item-id>",
	Short: "Cancel a queued item",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueCancel,
}

var (
	queueAddPriority int
	queueAddLevel    string
	queueAddGates    []string
	queueAddWorkflow string
)

func init() {
	queueAddCmd.Flags().IntVarP(&queueAddPriority, "priority", "p", 0, "item priority (higher merges earlier)")
	queueAddCmd.Flags().StringVarP(&queueAddLevel, "level", "l", workflow.VerificationStandard,
		"verification level: minimal, standard, or comprehensive")
	queueAddCmd.Flags().StringSliceVarP(&queueAddGates, "gates", "g", nil,
		"explicit quality gates (overrides --level)")
	queueAddCmd.Flags().StringVarP(&queueAddWorkflow, "workflow", "w", "", "workflow id the branch belongs to")

	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueCancelCmd)
	rootCmd.AddCommand(queueCmd)
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	target := e.baseBranch()

	gates := queueAddGates
	if len(gates) == 0 {
		gates = workflow.GatesForLevel(queueAddLevel)
	}

	item, created, err := e.queue.Add(mergequeue.MergeQueueItem{
		Branch:       args[0],
		TargetBranch: target,
		WorkflowID:   queueAddWorkflow,
		Priority:     queueAddPriority,
		Gates:        gates,
	})
	if err != nil {
		return err
	}
	if !created {
		fmt.Printf("Branch %s is already queued as %s (%s)\n", item.Branch, item.ID, item.Status)
		return nil
	}

	wait, _ := e.queue.EstimateWaitTime(item.ID)
	fmt.Printf("Queued %s -> %s as %s (priority %d, gates: %s)\n",
		item.Branch, item.TargetBranch, item.ID, item.Priority, strings.Join(item.Gates, ", "))
	fmt.Printf("Estimated wait: %s\n", wait)
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	items := e.queue.Items()
	if len(items) == 0 {
		fmt.Println("Merge queue is empty")
		return nil
	}

	for i, item := range items {
		fmt.Printf("[%d] %s  %s -> %s (%s)\n", i+1, item.ID, item.Branch, item.TargetBranch, item.Status)
		if item.WorkflowID != "" {
			fmt.Printf("    Workflow: %s\n", item.WorkflowID)
		}
		fmt.Printf("    Priority: %d  Attempts: %d/%d\n", item.Priority, item.Attempts, e.queue.MaxAttempts())
		if item.LastError != "" {
			fmt.Printf("    Last error: %s\n", item.LastError)
		}
		if item.MergeCommit != "" {
			fmt.Printf("    Merge commit: %s\n", item.MergeCommit)
		}
	}
	return nil
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	retried, err := e.queue.RetryFailedItems()
	if err != nil {
		return err
	}
	if len(retried) == 0 {
		fmt.Println("Nothing to retry")
		return nil
	}
	fmt.Printf("Re-queued %d items: %s\n", len(retried), strings.Join(retried, ", "))
	return nil
}

func runQueueCancel(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.queue.CancelItem(args[0]); err != nil {
		return err
	}
	fmt.Printf("Cancelled %s\n", args[0])
	return nil
}
