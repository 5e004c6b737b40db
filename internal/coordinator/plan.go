package coordinator

import (
	"sort"

	"github.com/Iron-Ham/conductor/internal/depgraph"
	"github.com/Iron-Ham/conductor/internal/scope"
	"github.com/Iron-Ham/conductor/internal/workflow"
)

// Plan is the coordination plan for one batch of workflows: the claims they
// declare, the order they should execute in, how they may be grouped for
// parallel execution, and any scope conflicts found between them.
//
// A plan with a non-empty Conflicts list must not be auto-executed; the
// conflicts are advisory data for the caller to serialize or surface.
type Plan struct {
	// Claims are the file-scope claims extracted from the batch.
	Claims []scope.FileClaim `json:"claims"`

	// ExecutionOrder lists workflow IDs sorted by priority, highest first.
	// Equal priorities keep their input order.
	ExecutionOrder []string `json:"execution_order"`

	// ParallelGroups partitions the workflows for concurrent execution.
	// Conflicting workflows are isolated into singleton groups; everything
	// else shares one group.
	ParallelGroups [][]string `json:"parallel_groups"`

	// Conflicts are the pairwise scope conflicts within the batch.
	Conflicts []scope.Conflict `json:"conflicts,omitempty"`

	// Waves is the phase-level dependency schedule across the batch.
	Waves [][]string `json:"waves,omitempty"`

	// CycleDetected is true when the dependency graph contains a cycle.
	// The cyclic units still appear in the final wave.
	CycleDetected bool `json:"cycle_detected,omitempty"`

	// CycleNodes lists the units involved in a cycle, if any.
	CycleNodes []string `json:"cycle_nodes,omitempty"`
}

// Executable reports whether the plan is safe to run without operator
// intervention.
func (p *Plan) Executable() bool {
	return len(p.Conflicts) == 0
}

// buildPlan computes a Plan for a batch of workflows. The conflict check is
// advisory: it inspects the batch's own claims, not the live claim registry,
// and mutates nothing.
func buildPlan(workflows []*workflow.Workflow) *Plan {
	plan := &Plan{
		Claims:         extractClaims(workflows),
		ExecutionOrder: executionOrder(workflows),
	}

	plan.Conflicts = scope.Detect(plan.Claims)
	plan.ParallelGroups = parallelGroups(plan.ExecutionOrder, plan.Conflicts)

	schedule := buildSchedule(workflows)
	plan.Waves = schedule.Waves
	plan.CycleDetected = schedule.CycleDetected
	plan.CycleNodes = schedule.CycleNodes

	return plan
}

// extractClaims builds one FileClaim per workflow that declares file scope.
func extractClaims(workflows []*workflow.Workflow) []scope.FileClaim {
	var claims []scope.FileClaim
	for _, wf := range workflows {
		if len(wf.Coordination.FileScope) == 0 {
			continue
		}
		mode, _ := scope.ParseMode(wf.Coordination.ClaimMode())
		claims = append(claims, scope.FileClaim{
			WorkflowID: wf.ID,
			Patterns:   wf.Coordination.FileScope,
			Mode:       mode,
			Priority:   wf.Coordination.Priority,
		})
	}
	return claims
}

// executionOrder sorts workflow IDs by descending priority. The sort is
// stable so equal priorities preserve the input order, making repeated
// planning over the same batch deterministic.
func executionOrder(workflows []*workflow.Workflow) []string {
	sorted := append([]*workflow.Workflow(nil), workflows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Coordination.Priority > sorted[j].Coordination.Priority
	})

	order := make([]string, 0, len(sorted))
	for _, wf := range sorted {
		order = append(order, wf.ID)
	}
	return order
}

// parallelGroups partitions the execution order. With no conflicts all
// workflows share one group. Otherwise every workflow named in a conflict is
// isolated into its own singleton group, in execution order, and the
// remaining workflows share one trailing group.
func parallelGroups(order []string, conflicts []scope.Conflict) [][]string {
	if len(order) == 0 {
		return nil
	}
	if len(conflicts) == 0 {
		return [][]string{append([]string(nil), order...)}
	}

	conflicted := make(map[string]bool)
	for _, c := range conflicts {
		conflicted[c.WorkflowA] = true
		conflicted[c.WorkflowB] = true
	}

	var groups [][]string
	var clear []string
	for _, id := range order {
		if conflicted[id] {
			groups = append(groups, []string{id})
		} else {
			clear = append(clear, id)
		}
	}
	if len(clear) > 0 {
		groups = append(groups, clear)
	}
	return groups
}

// buildSchedule constructs the phase-level dependency graph for the batch.
// Each phase becomes one node; a workflow's depends_on edges attach to its
// first phase and point at the dependency workflow's last phase, so a
// dependent workflow cannot start until its dependency has fully finished.
func buildSchedule(workflows []*workflow.Workflow) depgraph.Schedule {
	lastPhase := make(map[string]string, len(workflows))
	for _, wf := range workflows {
		if len(wf.Phases) > 0 {
			lastPhase[wf.ID] = depgraph.NodeID(wf.ID, wf.Phases[len(wf.Phases)-1].ID)
		}
	}

	g := depgraph.New()
	for _, wf := range workflows {
		for i, phase := range wf.Phases {
			var deps []string
			if i > 0 {
				deps = append(deps, depgraph.NodeID(wf.ID, wf.Phases[i-1].ID))
			} else {
				for _, depWF := range wf.Coordination.DependsOn {
					if last, ok := lastPhase[depWF]; ok {
						deps = append(deps, last)
					}
				}
			}
			// Duplicate IDs are caught by workflow validation; an error here
			// means two workflows share an ID and the node is skipped.
			_ = g.AddNode(depgraph.NodeID(wf.ID, phase.ID), deps...)
		}
	}

	return g.Waves()
}
