package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/conductor/internal/mergequeue"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show merge queue status",
	Long:  `Display the merge queue's current items and status counts.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// Status output styles. Color only applies when stdout is a terminal.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mergedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	styled := term.IsTerminal(int(os.Stdout.Fd()))
	render := func(s lipgloss.Style, text string) string {
		if styled {
			return s.Render(text)
		}
		return text
	}

	stats := e.queue.Stats()
	fmt.Println(render(titleStyle, "Merge queue"))
	fmt.Printf("  Active: %d  (queued %d, verifying %d, ready %d, merging %d)\n",
		stats.Queued+stats.Verifying+stats.Ready+stats.Merging,
		stats.Queued, stats.Verifying, stats.Ready, stats.Merging)
	fmt.Printf("  Terminal: merged %d, failed %d, conflict %d, cancelled %d\n",
		stats.Merged, stats.Failed, stats.Conflict, stats.Cancelled)
	fmt.Printf("  History: %d archived\n\n", stats.History)

	items := e.queue.Items()
	if len(items) == 0 {
		fmt.Println(render(mutedStyle, "No items in the queue"))
		return nil
	}

	for i, item := range items {
		status := render(statusStyle(item.Status), string(item.Status))
		fmt.Printf("[%d] %s  %s -> %s  %s\n", i+1, item.ID, item.Branch, item.TargetBranch, status)
		details := fmt.Sprintf("    priority %d, attempts %d/%d, gates: %s",
			item.Priority, item.Attempts, e.queue.MaxAttempts(), strings.Join(item.Gates, ", "))
		fmt.Println(render(mutedStyle, details))
		if item.LastError != "" {
			fmt.Println(render(failedStyle, "    "+item.LastError))
		}
	}
	return nil
}

func statusStyle(status mergequeue.MergeStatus) lipgloss.Style {
	switch status {
	case mergequeue.StatusMerged:
		return mergedStyle
	case mergequeue.StatusFailed, mergequeue.StatusConflict:
		return failedStyle
	case mergequeue.StatusCancelled:
		return mutedStyle
	default:
		return pendingStyle
	}
}
