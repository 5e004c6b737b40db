package coordinator

import (
	"reflect"
	"testing"
	"time"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/mergequeue"
	"github.com/Iron-Ham/conductor/internal/scope"
	"github.com/Iron-Ham/conductor/internal/workflow"
)

func wf(id string, priority int, fileScope ...string) *workflow.Workflow {
	return &workflow.Workflow{
		ID:     id,
		Branch: "feature/" + id,
		Phases: []workflow.Phase{{ID: "work"}},
		Coordination: workflow.Coordination{
			FileScope: fileScope,
			Priority:  priority,
		},
	}
}

func newTestCoordinator(opts ...Option) *Coordinator {
	clock := time.Unix(1_700_000_000, 0)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	opts = append([]Option{WithClock(now)}, opts...)
	return New(scope.NewManager(logging.NopLogger()), opts...)
}

func TestPlanIsolatesConflictingWorkflows(t *testing.T) {
	c := newTestCoordinator()

	plan := c.CreateCoordinationPlan([]*workflow.Workflow{
		wf("wf1", 0, "src/a.py"),
		wf("wf2", 0, "src/a.py", "src/b.py"),
	})

	if len(plan.Conflicts) != 1 {
		t.Fatalf("Conflicts = %+v, want exactly one", plan.Conflicts)
	}
	conflict := plan.Conflicts[0]
	if conflict.WorkflowA != "wf1" || conflict.WorkflowB != "wf2" {
		t.Errorf("conflict names %s/%s, want wf1/wf2", conflict.WorkflowA, conflict.WorkflowB)
	}
	if conflict.PatternA != "src/a.py" {
		t.Errorf("PatternA = %s, want src/a.py", conflict.PatternA)
	}

	want := [][]string{{"wf1"}, {"wf2"}}
	if !reflect.DeepEqual(plan.ParallelGroups, want) {
		t.Errorf("ParallelGroups = %v, want singleton isolation %v", plan.ParallelGroups, want)
	}
	if plan.Executable() {
		t.Error("plan with conflicts must not be executable")
	}
}

func TestPlanOrdersByPriorityDescending(t *testing.T) {
	c := newTestCoordinator()

	plan := c.CreateCoordinationPlan([]*workflow.Workflow{
		wf("wf1", 1, "src/one/"),
		wf("wf3", 3, "src/three/"),
		wf("wf2", 2, "src/two/"),
	})

	wantOrder := []string{"wf3", "wf2", "wf1"}
	if !reflect.DeepEqual(plan.ExecutionOrder, wantOrder) {
		t.Errorf("ExecutionOrder = %v, want %v", plan.ExecutionOrder, wantOrder)
	}
	if len(plan.ParallelGroups) != 1 || len(plan.ParallelGroups[0]) != 3 {
		t.Errorf("ParallelGroups = %v, want one group of three", plan.ParallelGroups)
	}
	if !plan.Executable() {
		t.Error("conflict-free plan should be executable")
	}
}

func TestPlanDeterminism(t *testing.T) {
	c := newTestCoordinator()
	batch := []*workflow.Workflow{
		wf("wf-a", 5, "pkg/a/"),
		wf("wf-b", 5, "pkg/b/"),
		wf("wf-c", 2, "pkg/c/"),
	}

	first := c.CreateCoordinationPlan(batch)
	for i := 0; i < 10; i++ {
		again := c.CreateCoordinationPlan(batch)
		if !reflect.DeepEqual(again.ExecutionOrder, first.ExecutionOrder) {
			t.Fatalf("run %d: ExecutionOrder %v != %v", i, again.ExecutionOrder, first.ExecutionOrder)
		}
		if !reflect.DeepEqual(again.ParallelGroups, first.ParallelGroups) {
			t.Fatalf("run %d: ParallelGroups %v != %v", i, again.ParallelGroups, first.ParallelGroups)
		}
	}
}

func TestPlanStableOrderForEqualPriorities(t *testing.T) {
	c := newTestCoordinator()

	plan := c.CreateCoordinationPlan([]*workflow.Workflow{
		wf("first", 5, "pkg/a/"),
		wf("second", 5, "pkg/b/"),
	})

	want := []string{"first", "second"}
	if !reflect.DeepEqual(plan.ExecutionOrder, want) {
		t.Errorf("ExecutionOrder = %v, want input order preserved %v", plan.ExecutionOrder, want)
	}
}

func TestPlanBuildsPhaseWaves(t *testing.T) {
	c := newTestCoordinator()

	setup := &workflow.Workflow{
		ID:     "setup",
		Phases: []workflow.Phase{{ID: "init"}},
	}
	app := &workflow.Workflow{
		ID:     "app",
		Phases: []workflow.Phase{{ID: "build"}, {ID: "test"}},
		Coordination: workflow.Coordination{
			DependsOn: []string{"setup"},
		},
	}

	plan := c.CreateCoordinationPlan([]*workflow.Workflow{setup, app})

	want := [][]string{{"setup_init"}, {"app_build"}, {"app_test"}}
	if !reflect.DeepEqual(plan.Waves, want) {
		t.Errorf("Waves = %v, want %v", plan.Waves, want)
	}
	if plan.CycleDetected {
		t.Error("acyclic batch flagged as cyclic")
	}
}

func TestPlanReportsDependencyCycle(t *testing.T) {
	c := newTestCoordinator()

	a := &workflow.Workflow{
		ID:           "a",
		Phases:       []workflow.Phase{{ID: "p"}},
		Coordination: workflow.Coordination{DependsOn: []string{"b"}},
	}
	b := &workflow.Workflow{
		ID:           "b",
		Phases:       []workflow.Phase{{ID: "p"}},
		Coordination: workflow.Coordination{DependsOn: []string{"a"}},
	}

	plan := c.CreateCoordinationPlan([]*workflow.Workflow{a, b})

	if !plan.CycleDetected {
		t.Fatal("cycle not detected")
	}
	if len(plan.CycleNodes) != 2 {
		t.Errorf("CycleNodes = %v, want both units", plan.CycleNodes)
	}
	total := 0
	for _, wave := range plan.Waves {
		total += len(wave)
	}
	if total != 2 {
		t.Errorf("scheduled %d units, want 2 (cycle fallback keeps all work)", total)
	}
}

func TestStartCoordinationRejectsConflictedBatch(t *testing.T) {
	c := newTestCoordinator()

	_, err := c.StartCoordination([]*workflow.Workflow{
		wf("wf1", 0, "src/a.py"),
		wf("wf2", 0, "src/a.py"),
	})
	if !errors.Is(err, errors.ErrPlanHasConflicts) {
		t.Errorf("err = %v, want ErrPlanHasConflicts", err)
	}
}

func TestStartCoordinationClaimsScope(t *testing.T) {
	scopes := scope.NewManager(logging.NopLogger())
	c := New(scopes)

	session, err := c.StartCoordination([]*workflow.Workflow{wf("wf1", 0, "src/a/")})
	if err != nil {
		t.Fatalf("StartCoordination: %v", err)
	}
	if session.Status != StatusRunning {
		t.Errorf("Status = %s, want running", session.Status)
	}

	if _, held := scopes.Claim("wf1"); !held {
		t.Error("workflow scope not claimed")
	}

	// A second batch touching the same files is blocked by the live claim.
	if _, err := c.StartCoordination([]*workflow.Workflow{wf("other", 0, "src/a/")}); err == nil {
		t.Error("overlapping batch should be rejected while claims are held")
	}
}

type fakeEnqueuer struct {
	items []mergequeue.MergeQueueItem
}

func (f *fakeEnqueuer) Add(item mergequeue.MergeQueueItem) (*mergequeue.MergeQueueItem, bool, error) {
	f.items = append(f.items, item)
	cp := item
	return &cp, true, nil
}

func TestHandleWorkflowCompletion(t *testing.T) {
	queue := &fakeEnqueuer{}
	scopes := scope.NewManager(logging.NopLogger())
	c := New(scopes, WithMergeQueue(queue), WithBaseBranch("develop"))

	session, err := c.StartCoordination([]*workflow.Workflow{
		wf("wf1", 3, "src/a/"),
		wf("wf2", 1, "src/b/"),
	})
	if err != nil {
		t.Fatalf("StartCoordination: %v", err)
	}

	if err := c.HandleWorkflowCompletion(session.ID, "wf1", true, 1.25); err != nil {
		t.Fatalf("HandleWorkflowCompletion: %v", err)
	}

	got, err := c.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("Status = %s, want still running after 1 of 2", got.Status)
	}
	if len(got.CompletedWorkflows) != 1 || got.CompletedWorkflows[0] != "wf1" {
		t.Errorf("CompletedWorkflows = %v, want [wf1]", got.CompletedWorkflows)
	}

	// Claims are released on completion.
	if _, held := scopes.Claim("wf1"); held {
		t.Error("wf1 claim should be released after completion")
	}
	if _, held := scopes.Claim("wf2"); !held {
		t.Error("wf2 claim should still be held")
	}

	// Successful workflow's branch is submitted for integration.
	if len(queue.items) != 1 {
		t.Fatalf("enqueued %d items, want 1", len(queue.items))
	}
	item := queue.items[0]
	if item.Branch != "feature/wf1" || item.TargetBranch != "develop" {
		t.Errorf("enqueued %s -> %s, want feature/wf1 -> develop", item.Branch, item.TargetBranch)
	}
	if item.Priority != 3 || item.CoordinationID != session.ID {
		t.Errorf("item = %+v, want priority and coordination id carried over", item)
	}
	if !reflect.DeepEqual(item.Gates, []string{"lint", "test"}) {
		t.Errorf("Gates = %v, want standard-level defaults", item.Gates)
	}

	if err := c.HandleWorkflowCompletion(session.ID, "wf2", false, 0.5); err != nil {
		t.Fatalf("HandleWorkflowCompletion: %v", err)
	}

	got, _ = c.GetSession(session.ID)
	if got.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed after all reported", got.Status)
	}
	if len(got.FailedWorkflows) != 1 || got.FailedWorkflows[0] != "wf2" {
		t.Errorf("FailedWorkflows = %v, want [wf2]", got.FailedWorkflows)
	}
	if got.CostUsed != 1.75 {
		t.Errorf("CostUsed = %v, want 1.75", got.CostUsed)
	}
	// Failed workflows are not enqueued.
	if len(queue.items) != 1 {
		t.Errorf("enqueued %d items, want 1 (failures stay out of the queue)", len(queue.items))
	}
}

func TestHandleWorkflowCompletionIdempotent(t *testing.T) {
	queue := &fakeEnqueuer{}
	c := newTestCoordinator(WithMergeQueue(queue))

	session, err := c.StartCoordination([]*workflow.Workflow{
		wf("wf1", 0, "src/a/"),
		wf("wf2", 0, "src/b/"),
	})
	if err != nil {
		t.Fatalf("StartCoordination: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := c.HandleWorkflowCompletion(session.ID, "wf1", true, 1.0); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}

	got, _ := c.GetSession(session.ID)
	if len(got.CompletedWorkflows) != 1 {
		t.Errorf("CompletedWorkflows = %v, want single entry despite repeats", got.CompletedWorkflows)
	}
	if got.CostUsed != 1.0 {
		t.Errorf("CostUsed = %v, want 1.0 (duplicates don't accumulate)", got.CostUsed)
	}
	if got.Status == StatusCompleted {
		t.Error("session completed with wf2 outstanding")
	}
	if len(queue.items) != 1 {
		t.Errorf("enqueued %d items, want 1", len(queue.items))
	}
}

func TestHandleWorkflowCompletionUnknownSession(t *testing.T) {
	c := newTestCoordinator()
	err := c.HandleWorkflowCompletion("coord-missing", "wf1", true, 0)
	if !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestHandleWorkflowCompletionUnknownWorkflow(t *testing.T) {
	c := newTestCoordinator()

	session, err := c.StartCoordination([]*workflow.Workflow{wf("wf1", 0, "src/a/")})
	if err != nil {
		t.Fatalf("StartCoordination: %v", err)
	}

	if err := c.HandleWorkflowCompletion(session.ID, "stranger", true, 0); err == nil {
		t.Error("completion for workflow outside the batch should error")
	}
}

func TestStartCoordinationEmptyBatch(t *testing.T) {
	c := newTestCoordinator()
	if _, err := c.StartCoordination(nil); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}
