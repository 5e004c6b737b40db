package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/conductor/internal/breaker"
	"github.com/Iron-Ham/conductor/internal/budget"
	"github.com/Iron-Ham/conductor/internal/cancel"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/workflow"
)

// fakeAdapter executes steps in memory. Steps listed in failPhases fail;
// everything else succeeds with a fixed cost.
type fakeAdapter struct {
	mu         sync.Mutex
	executed   []string // "workflow/phase"
	inFlight   int
	maxSeen    int
	failPhases map[string]bool // "workflow/phase" -> fail
	stepCost   float64
	delay      time.Duration
	err        error
}

func (a *fakeAdapter) Execute(ctx context.Context, step Step) (*StepResult, error) {
	key := step.WorkflowID + "/" + step.PhaseID

	a.mu.Lock()
	a.executed = append(a.executed, key)
	a.inFlight++
	if a.inFlight > a.maxSeen {
		a.maxSeen = a.inFlight
	}
	a.mu.Unlock()

	if a.delay > 0 {
		time.Sleep(a.delay)
	}

	a.mu.Lock()
	a.inFlight--
	a.mu.Unlock()

	if a.err != nil {
		return nil, a.err
	}
	if a.failPhases[key] {
		return &StepResult{Success: false, Error: "step failed"}, nil
	}
	return &StepResult{Success: true, CostUsed: a.stepCost}, nil
}

func (a *fakeAdapter) ran(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.executed {
		if e == key {
			return true
		}
	}
	return false
}

func twoPhaseWorkflow(id string) *workflow.Workflow {
	return &workflow.Workflow{
		ID: id,
		Phases: []workflow.Phase{
			{ID: "build"},
			{ID: "test"},
		},
	}
}

func TestExecuteGroupRunsAllWorkflows(t *testing.T) {
	adapter := &fakeAdapter{stepCost: 0.5}
	e := New(adapter)

	results := e.ExecuteGroup(context.Background(), "coord-1", []*workflow.Workflow{
		twoPhaseWorkflow("wf1"),
		twoPhaseWorkflow("wf2"),
	})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if !r.Success {
			t.Errorf("workflow %s failed: %s", r.WorkflowID, r.Error)
		}
		if len(r.Phases) != 2 {
			t.Errorf("workflow %s ran %d phases, want 2", r.WorkflowID, len(r.Phases))
		}
		if r.CostUsed != 1.0 {
			t.Errorf("workflow %s cost = %v, want 1.0", r.WorkflowID, r.CostUsed)
		}
	}
	// Results keep group order regardless of completion order.
	if results[0].WorkflowID != "wf1" || results[1].WorkflowID != "wf2" {
		t.Errorf("result order = %s, %s; want wf1, wf2", results[0].WorkflowID, results[1].WorkflowID)
	}
}

func TestExecuteGroupFailureDoesNotHaltSiblings(t *testing.T) {
	adapter := &fakeAdapter{failPhases: map[string]bool{"wf1/build": true}}
	e := New(adapter)

	results := e.ExecuteGroup(context.Background(), "coord-1", []*workflow.Workflow{
		twoPhaseWorkflow("wf1"),
		twoPhaseWorkflow("wf2"),
	})

	if results[0].Success {
		t.Error("wf1 should fail")
	}
	if !strings.Contains(results[0].Error, "build") {
		t.Errorf("wf1 error = %q, want failing phase named", results[0].Error)
	}
	if !results[1].Success {
		t.Errorf("wf2 should succeed despite wf1 failing: %s", results[1].Error)
	}
	// Fail-fast within wf1: test phase never ran.
	if adapter.ran("wf1/test") {
		t.Error("wf1/test ran after wf1/build failed")
	}
}

func TestExecuteGroupBoundsParallelism(t *testing.T) {
	adapter := &fakeAdapter{delay: 20 * time.Millisecond}
	e := New(adapter, WithMaxParallel(2))

	var batch []*workflow.Workflow
	for i := 0; i < 6; i++ {
		batch = append(batch, &workflow.Workflow{
			ID:     fmt.Sprintf("wf%d", i),
			Phases: []workflow.Phase{{ID: "only"}},
		})
	}

	e.ExecuteGroup(context.Background(), "coord-1", batch)

	if adapter.maxSeen > 2 {
		t.Errorf("observed %d concurrent executions, limit is 2", adapter.maxSeen)
	}
}

func TestExecuteSequentialFailFast(t *testing.T) {
	adapter := &fakeAdapter{failPhases: map[string]bool{"wf2/build": true}}
	e := New(adapter)

	results := e.ExecuteSequential(context.Background(), "coord-1", []*workflow.Workflow{
		twoPhaseWorkflow("wf1"),
		twoPhaseWorkflow("wf2"),
		twoPhaseWorkflow("wf3"),
	})

	if !results[0].Success {
		t.Error("wf1 should succeed")
	}
	if results[1].Success {
		t.Error("wf2 should fail")
	}
	if !results[2].Skipped {
		t.Error("wf3 should be skipped after wf2 failed")
	}
	if adapter.ran("wf3/build") {
		t.Error("wf3 executed despite sequential fail-fast")
	}
}

func TestCancellationStopsSchedulingBetweenUnits(t *testing.T) {
	dir := t.TempDir()
	markers := cancel.NewRegistry(dir)
	if err := markers.Set("coord-1", "operator abort"); err != nil {
		t.Fatalf("Set marker: %v", err)
	}

	adapter := &fakeAdapter{}
	e := New(adapter, WithCancelRegistry(markers))

	results := e.ExecuteSequential(context.Background(), "coord-1", []*workflow.Workflow{
		twoPhaseWorkflow("wf1"),
		twoPhaseWorkflow("wf2"),
	})

	for _, r := range results {
		if !r.Skipped {
			t.Errorf("workflow %s ran despite cancellation marker", r.WorkflowID)
		}
	}
	if len(adapter.executed) != 0 {
		t.Errorf("adapter executed %v, want nothing", adapter.executed)
	}
}

func TestCancellationChecksBetweenPhases(t *testing.T) {
	dir := t.TempDir()
	markers := cancel.NewRegistry(dir)

	// Set the marker while the first phase runs, before the second starts.
	adapter := &markingAdapter{registry: markers, coordinationID: "coord-1"}
	e := New(adapter, WithCancelRegistry(markers))

	results := e.ExecuteSequential(context.Background(), "coord-1", []*workflow.Workflow{
		twoPhaseWorkflow("wf1"),
	})

	if results[0].Success {
		t.Error("workflow should stop at the phase boundary after cancellation")
	}
	if got := len(results[0].Phases); got != 1 {
		t.Errorf("ran %d phases, want 1 (first completes, second never starts)", got)
	}
}

// markingAdapter sets the cancellation marker during its first execution.
type markingAdapter struct {
	registry       *cancel.Registry
	coordinationID string
	calls          int
}

func (a *markingAdapter) Execute(ctx context.Context, step Step) (*StepResult, error) {
	a.calls++
	if a.calls == 1 {
		if err := a.registry.Set(a.coordinationID, "mid-run cancel"); err != nil {
			return nil, err
		}
	}
	return &StepResult{Success: true}, nil
}

func TestBreakerRejectsAfterRepeatedFailures(t *testing.T) {
	adapter := &fakeAdapter{failPhases: map[string]bool{"wf1/build": true}}
	b := breaker.New(3, 5*time.Minute, time.Minute)
	e := New(adapter, WithBreaker(b))

	wf := &workflow.Workflow{
		ID:     "wf1",
		Phases: []workflow.Phase{{ID: "build"}},
	}

	// Three failing runs open the circuit.
	for i := 0; i < 3; i++ {
		e.ExecuteSequential(context.Background(), "coord-1", []*workflow.Workflow{wf})
	}

	before := len(adapter.executed)
	results := e.ExecuteSequential(context.Background(), "coord-1", []*workflow.Workflow{wf})

	if len(adapter.executed) != before {
		t.Error("adapter called while circuit open")
	}
	if results[0].Success || !strings.Contains(results[0].Error, "circuit open") {
		t.Errorf("result = %+v, want circuit-open rejection", results[0])
	}
}

func TestBreakerRecordsAdapterErrors(t *testing.T) {
	adapter := &fakeAdapter{err: fmt.Errorf("adapter exploded")}
	b := breaker.New(1, 5*time.Minute, time.Minute)
	e := New(adapter, WithBreaker(b))

	wf := &workflow.Workflow{ID: "wf1", Phases: []workflow.Phase{{ID: "build"}}}
	e.ExecuteSequential(context.Background(), "coord-1", []*workflow.Workflow{wf})

	if b.Allow("wf1") {
		t.Error("circuit should open after adapter error at threshold 1")
	}
}

func TestBudgetGuardBlocksAISteps(t *testing.T) {
	ledger := budget.NewLedger(10)
	ledger.Add(9.5) // 0.5 remaining
	guard := budget.NewGuard(ledger, 0.2, logging.NopLogger())

	adapter := &fakeAdapter{}
	e := New(adapter, WithBudgetGuard(guard))

	// Remaining 0.5 < 20% of a 10.0 step allowance.
	result := e.executeStep(context.Background(), Step{
		WorkflowID:    "wf1",
		PhaseID:       "generate",
		AIAssisted:    true,
		EstimatedCost: 10.0,
	})

	if result.Success {
		t.Error("AI step should be blocked by the budget guard")
	}
	if len(adapter.executed) != 0 {
		t.Error("adapter called despite budget denial")
	}

	// Non-AI steps are never budget-gated.
	result = e.executeStep(context.Background(), Step{
		WorkflowID: "wf1",
		PhaseID:    "compile",
	})
	if !result.Success {
		t.Errorf("deterministic step blocked: %s", result.Error)
	}
}

func TestBudgetGuardGatesAIPhasesFromWorkflowDefinitions(t *testing.T) {
	ledger := budget.NewLedger(1)
	ledger.Add(10) // exhausted: remaining is negative
	guard := budget.NewGuard(ledger, 0.2, logging.NopLogger())

	adapter := &fakeAdapter{}
	e := New(adapter, WithBudgetGuard(guard))

	// The phase carries its own AI marking and allowance; the executor must
	// propagate both into the step so the guard is consulted.
	wf := &workflow.Workflow{
		ID: "wf1",
		Phases: []workflow.Phase{
			{ID: "generate", AIAssisted: true, EstimatedCost: 10},
		},
	}

	results := e.ExecuteSequential(context.Background(), "coord-1", []*workflow.Workflow{wf})

	if results[0].Success {
		t.Error("AI-assisted phase should be denied by the budget guard")
	}
	if !strings.Contains(results[0].Error, "budget") {
		t.Errorf("error = %q, want budget denial surfaced", results[0].Error)
	}
	if len(adapter.executed) != 0 {
		t.Errorf("adapter executed %v, want nothing", adapter.executed)
	}
}
