package cmd

import (
	"fmt"

	"github.com/Iron-Ham/conductor/internal/cancel"
	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <coordination-id>",
	Short: "Cancel a running coordination session",
	Long: `Write a cancellation marker for the coordination session. Executors
observe the marker between units of work and stop scheduling new work;
in-flight units run to completion.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

var cancelReason string

func init() {
	cancelCmd.Flags().StringVarP(&cancelReason, "reason", "r", "", "reason recorded in the marker")
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	markers := cancel.NewRegistry(e.cfg.Paths.ResolveQueueDir(e.repo))
	if err := markers.Set(args[0], cancelReason); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for %s\n", args[0])
	return nil
}
