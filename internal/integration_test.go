// Package internal contains integration tests that verify the packages work
// together: planning a batch, executing it under breaker and cancellation
// control, and integrating the resulting branches through the merge queue.
package internal

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Iron-Ham/conductor/internal/coordinator"
	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/executor"
	"github.com/Iron-Ham/conductor/internal/gate"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/mergequeue"
	"github.com/Iron-Ham/conductor/internal/scope"
	"github.com/Iron-Ham/conductor/internal/workflow"
)

// passingAdapter succeeds every step with a fixed cost.
type passingAdapter struct{}

func (passingAdapter) Execute(ctx context.Context, step executor.Step) (*executor.StepResult, error) {
	return &executor.StepResult{Success: true, CostUsed: 0.1}, nil
}

// recordingGit is a minimal GitClient that performs every operation in
// memory and records the merge targets it saw.
type recordingGit struct {
	merges []string
}

func (g *recordingGit) RepoDir() string                    { return "/repo" }
func (g *recordingGit) Checkout(path, branch string) error { return nil }
func (g *recordingGit) Merge(path, branch string, noFF bool) error {
	g.merges = append(g.merges, fmt.Sprintf("%s<-%s", path, branch))
	return nil
}
func (g *recordingGit) ResetHard(path, ref string) error { return nil }
func (g *recordingGit) RevParse(path, ref string) (string, error) {
	return "sha-" + ref, nil
}
func (g *recordingGit) CreateWorktree(path, baseRef string) error { return nil }
func (g *recordingGit) RemoveWorktree(path string) error          { return nil }

// passGates passes every gate without running commands.
type passGates struct{}

func (passGates) RunGates(ctx context.Context, dir string, gates []string) ([]gate.Result, bool) {
	results := make([]gate.Result, 0, len(gates))
	for _, name := range gates {
		results = append(results, gate.Result{Name: name, Passed: true})
	}
	return results, true
}

// TestPlanExecuteIntegrate walks one batch through the whole pipeline:
// plan -> claim -> execute -> complete -> enqueue -> process.
func TestPlanExecuteIntegrate(t *testing.T) {
	queue, err := mergequeue.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open queue: %v", err)
	}

	scopes := scope.NewManager(logging.NopLogger())
	coord := coordinator.New(scopes,
		coordinator.WithMergeQueue(queue),
		coordinator.WithBaseBranch("main"))

	batch := []*workflow.Workflow{
		{
			ID:     "auth",
			Branch: "feature/auth",
			Phases: []workflow.Phase{{ID: "implement"}, {ID: "verify"}},
			Coordination: workflow.Coordination{
				FileScope: []string{"src/auth/"},
				Priority:  5,
			},
		},
		{
			ID:     "billing",
			Branch: "feature/billing",
			Phases: []workflow.Phase{{ID: "implement"}},
			Coordination: workflow.Coordination{
				FileScope: []string{"src/billing/"},
				Priority:  3,
			},
		},
	}

	session, err := coord.StartCoordination(batch)
	if err != nil {
		t.Fatalf("StartCoordination: %v", err)
	}
	if got := session.Plan.ExecutionOrder; got[0] != "auth" || got[1] != "billing" {
		t.Fatalf("ExecutionOrder = %v, want [auth billing]", got)
	}
	if len(session.Plan.ParallelGroups) != 1 {
		t.Fatalf("ParallelGroups = %v, want one shared group", session.Plan.ParallelGroups)
	}

	exec := executor.New(passingAdapter{})
	results := exec.ExecuteGroup(context.Background(), session.ID, batch)
	for i, r := range results {
		if !r.Success {
			t.Fatalf("workflow %s failed: %s", batch[i].ID, r.Error)
		}
		if err := coord.HandleWorkflowCompletion(session.ID, r.WorkflowID, r.Success, r.CostUsed); err != nil {
			t.Fatalf("HandleWorkflowCompletion(%s): %v", r.WorkflowID, err)
		}
	}

	got, err := coord.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != coordinator.StatusCompleted {
		t.Errorf("session status = %s, want completed", got.Status)
	}

	// Both branches are queued, highest priority first.
	items := queue.Items()
	if len(items) != 2 {
		t.Fatalf("queue has %d items, want 2", len(items))
	}
	if items[0].Branch != "feature/auth" || items[1].Branch != "feature/billing" {
		t.Errorf("queue order = %s, %s; want auth first", items[0].Branch, items[1].Branch)
	}

	// Claims are released, so the scope is free for the next batch.
	if claims := scopes.ActiveClaims(); len(claims) != 0 {
		t.Errorf("active claims after completion = %v, want none", claims)
	}

	git := &recordingGit{}
	processor := mergequeue.NewProcessor(queue, git, passGates{}, "/worktrees")
	report, err := processor.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if report.Merged != 2 {
		t.Fatalf("report = %+v, want 2 merged", report)
	}
	if report.Archived != 2 {
		t.Errorf("Archived = %d, want 2", report.Archived)
	}

	// Each branch merged twice: once in the shadow worktree, once for real.
	shadow, real := 0, 0
	for _, m := range git.merges {
		if strings.Contains(m, "shadow-") {
			shadow++
		} else {
			real++
		}
	}
	if shadow != 2 || real != 2 {
		t.Errorf("merges = %v, want 2 shadow and 2 real", git.merges)
	}

	history := queue.History()
	if len(history) != 2 {
		t.Fatalf("history has %d items, want 2", len(history))
	}
	for _, item := range history {
		if item.Status != mergequeue.StatusMerged {
			t.Errorf("item %s status = %s, want merged", item.Branch, item.Status)
		}
		if item.MergeCommit == "" {
			t.Errorf("item %s has no merge commit", item.Branch)
		}
	}
}

// TestConflictingBatchIsRejected verifies that overlapping exclusive scopes
// keep a batch from starting.
func TestConflictingBatchIsRejected(t *testing.T) {
	coord := coordinator.New(scope.NewManager(logging.NopLogger()))

	batch := []*workflow.Workflow{
		{
			ID:           "one",
			Phases:       []workflow.Phase{{ID: "work"}},
			Coordination: workflow.Coordination{FileScope: []string{"src/shared.go"}},
		},
		{
			ID:           "two",
			Phases:       []workflow.Phase{{ID: "work"}},
			Coordination: workflow.Coordination{FileScope: []string{"src/shared.go"}},
		},
	}

	if _, err := coord.StartCoordination(batch); !errors.Is(err, errors.ErrPlanHasConflicts) {
		t.Errorf("err = %v, want ErrPlanHasConflicts", err)
	}

	plan := coord.CreateCoordinationPlan(batch)
	if len(plan.ParallelGroups) != 2 {
		t.Errorf("ParallelGroups = %v, want singleton isolation", plan.ParallelGroups)
	}
}
