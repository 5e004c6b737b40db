package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/conductor/internal/coordinator"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/scope"
	"github.com/Iron-Ham/conductor/internal/workflow"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan <workflow-file|dir>...",
	Short: "Plan a batch of workflows",
	Long: `Load workflow definitions, detect file-scope conflicts between them,
and print the execution plan: priority order, parallel groups, and the
phase dependency waves. Plans with conflicts are reported but must not
be executed until the conflicts are resolved.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	workflows, err := loadWorkflowArgs(args)
	if err != nil {
		return err
	}
	if len(workflows) == 0 {
		return fmt.Errorf("no workflow definitions found in %s", strings.Join(args, ", "))
	}

	coord := coordinator.New(scope.NewManager(logging.NopLogger()))
	plan := coord.CreateCoordinationPlan(workflows)

	fmt.Printf("Workflows: %d\n", len(workflows))
	fmt.Printf("Execution order: %s\n", strings.Join(plan.ExecutionOrder, ", "))

	fmt.Println("Parallel groups:")
	for i, group := range plan.ParallelGroups {
		fmt.Printf("  [%d] %s\n", i+1, strings.Join(group, ", "))
	}

	if len(plan.Waves) > 0 {
		fmt.Println("Phase waves:")
		for i, wave := range plan.Waves {
			fmt.Printf("  wave %d: %s\n", i+1, strings.Join(wave, ", "))
		}
	}

	if plan.CycleDetected {
		fmt.Printf("Warning: dependency cycle involving %s; cyclic units scheduled in the final wave\n",
			strings.Join(plan.CycleNodes, ", "))
	}

	if len(plan.Conflicts) > 0 {
		fmt.Printf("\n%d scope conflicts — do not execute this plan as-is:\n", len(plan.Conflicts))
		for _, c := range plan.Conflicts {
			fmt.Printf("  %s (%s) overlaps %s (%s): %q vs %q\n",
				c.WorkflowA, c.ModeA, c.WorkflowB, c.ModeB, c.PatternA, c.PatternB)
		}
		return fmt.Errorf("plan has %d unresolved scope conflicts", len(plan.Conflicts))
	}

	fmt.Println("\nNo scope conflicts; plan is executable.")
	return nil
}

// loadWorkflowArgs loads workflow definitions from the given files and
// directories. Directory arguments load every .yaml/.yml file inside.
func loadWorkflowArgs(args []string) ([]*workflow.Workflow, error) {
	var workflows []*workflow.Workflow
	seen := make(map[string]bool)

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}

		var loaded []*workflow.Workflow
		if info.IsDir() {
			var errs []error
			loaded, errs = workflow.LoadDir(arg)
			for _, loadErr := range errs {
				fmt.Fprintf(os.Stderr, "warning: %v\n", loadErr)
			}
		} else {
			wf, err := workflow.Load(arg)
			if err != nil {
				return nil, err
			}
			loaded = []*workflow.Workflow{wf}
		}

		for _, wf := range loaded {
			if seen[wf.ID] {
				return nil, fmt.Errorf("duplicate workflow id %q", wf.ID)
			}
			seen[wf.ID] = true
			workflows = append(workflows, wf)
		}
	}

	return workflows, nil
}
