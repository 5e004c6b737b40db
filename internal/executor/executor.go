// Package executor runs coordination plans. Parallel groups execute on a
// bounded worker pool; within a workflow, phases run sequentially and
// fail-fast. Every adapter call is gated by the circuit breaker and, for
// AI-assisted steps, by the budget guard. Cancellation markers are checked
// between units of work, never mid-unit.
package executor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/conductor/internal/breaker"
	"github.com/Iron-Ham/conductor/internal/budget"
	"github.com/Iron-Ham/conductor/internal/cancel"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/workflow"
)

// Step is one unit of adapter work: a single phase of a single workflow.
type Step struct {
	// CoordinationID is the session the step belongs to.
	CoordinationID string `json:"coordination_id"`
	// WorkflowID is the workflow the step belongs to.
	WorkflowID string `json:"workflow_id"`
	// PhaseID is the phase being executed.
	PhaseID string `json:"phase_id"`
	// Command is the phase's configured command, if any.
	Command string `json:"command,omitempty"`
	// AIAssisted marks steps with non-deterministic cost; these are gated
	// by the budget guard before execution.
	AIAssisted bool `json:"ai_assisted,omitempty"`
	// EstimatedCost is the step's cost allowance for budget gating.
	EstimatedCost float64 `json:"estimated_cost,omitempty"`
}

// StepResult is the adapter's report for one executed step.
type StepResult struct {
	// Success is false when the step failed for any reason.
	Success bool `json:"success"`
	// TokensUsed counts tokens consumed by an AI-assisted step.
	TokensUsed int `json:"tokens_used,omitempty"`
	// CostUsed is the actual cost incurred.
	CostUsed float64 `json:"cost_used,omitempty"`
	// Artifacts lists paths produced by the step.
	Artifacts []string `json:"artifacts,omitempty"`
	// Output is the step's captured output.
	Output string `json:"output,omitempty"`
	// Error holds failure context when Success is false.
	Error string `json:"error,omitempty"`
}

// Adapter executes one step of work. Implementations run tools, AI backends,
// or plain shell commands; the executor treats any non-success as the unit's
// failure. An error return means the adapter itself broke, not the step.
type Adapter interface {
	Execute(ctx context.Context, step Step) (*StepResult, error)
}

// WorkflowResult is the outcome of one workflow's full phase sequence.
type WorkflowResult struct {
	// WorkflowID identifies the workflow.
	WorkflowID string `json:"workflow_id"`
	// Success is true when every phase succeeded.
	Success bool `json:"success"`
	// Skipped is true when the workflow never started, because of
	// cancellation or an earlier sequential failure.
	Skipped bool `json:"skipped,omitempty"`
	// Error holds context for the first failing phase.
	Error string `json:"error,omitempty"`
	// CostUsed accumulates cost across the workflow's phases.
	CostUsed float64 `json:"cost_used"`
	// Phases holds per-phase results in execution order.
	Phases []StepResult `json:"phases,omitempty"`
}

// Executor drives workflows through an Adapter under breaker, budget, and
// cancellation control.
type Executor struct {
	adapter     Adapter
	breaker     *breaker.Breaker
	guard       *budget.Guard
	markers     *cancel.Registry
	maxParallel int
	logger      *logging.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxParallel bounds the worker pool for parallel groups.
func WithMaxParallel(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithBreaker wires the circuit breaker gating adapter calls.
func WithBreaker(b *breaker.Breaker) Option {
	return func(e *Executor) { e.breaker = b }
}

// WithBudgetGuard wires the budget guard gating AI-assisted steps.
func WithBudgetGuard(g *budget.Guard) Option {
	return func(e *Executor) { e.guard = g }
}

// WithCancelRegistry wires the cancellation marker registry checked between
// units of work.
func WithCancelRegistry(r *cancel.Registry) Option {
	return func(e *Executor) { e.markers = r }
}

// WithLogger sets the executor's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New creates an Executor around the given adapter.
func New(adapter Adapter, opts ...Option) *Executor {
	e := &Executor{
		adapter:     adapter,
		maxParallel: 3,
		logger:      logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteGroup runs one parallel group of workflows on a bounded pool. Each
// workflow runs to completion independently; failures are collected per
// workflow and never halt siblings. Results are returned in the group's
// order regardless of which workflow finished first.
func (e *Executor) ExecuteGroup(ctx context.Context, coordinationID string, workflows []*workflow.Workflow) []WorkflowResult {
	results := make([]WorkflowResult, len(workflows))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxParallel)

	for i, wf := range workflows {
		if e.cancelled(coordinationID) {
			for j := i; j < len(workflows); j++ {
				results[j] = WorkflowResult{
					WorkflowID: workflows[j].ID,
					Skipped:    true,
					Error:      "coordination cancelled",
				}
			}
			break
		}

		i, wf := i, wf
		g.Go(func() error {
			results[i] = e.runWorkflow(ctx, coordinationID, wf)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// ExecuteSequential runs workflows strictly one at a time, stopping at the
// first failure. Workflows after the failure are reported as skipped.
func (e *Executor) ExecuteSequential(ctx context.Context, coordinationID string, workflows []*workflow.Workflow) []WorkflowResult {
	results := make([]WorkflowResult, 0, len(workflows))
	halted := false

	for _, wf := range workflows {
		if halted || e.cancelled(coordinationID) {
			reason := "halted by earlier failure"
			if !halted {
				reason = "coordination cancelled"
			}
			results = append(results, WorkflowResult{
				WorkflowID: wf.ID,
				Skipped:    true,
				Error:      reason,
			})
			continue
		}

		result := e.runWorkflow(ctx, coordinationID, wf)
		results = append(results, result)
		if !result.Success {
			halted = true
		}
	}

	return results
}

// runWorkflow executes a workflow's phases in order, fail-fast. The
// cancellation marker is consulted between phases; a cancelled workflow
// reports failure with the phases completed so far intact.
func (e *Executor) runWorkflow(ctx context.Context, coordinationID string, wf *workflow.Workflow) WorkflowResult {
	logger := e.logger.WithCoordination(coordinationID).WithWorkflow(wf.ID)
	result := WorkflowResult{WorkflowID: wf.ID, Success: true}

	for i, phase := range wf.Phases {
		if i > 0 && e.cancelled(coordinationID) {
			result.Success = false
			result.Error = "coordination cancelled"
			logger.Info("workflow stopped by cancellation marker", "phase", phase.ID)
			break
		}

		step := Step{
			CoordinationID: coordinationID,
			WorkflowID:     wf.ID,
			PhaseID:        phase.ID,
			Command:        phase.Command,
			AIAssisted:     phase.AIAssisted,
			EstimatedCost:  phase.EstimatedCost,
		}

		stepResult := e.executeStep(ctx, step)
		result.Phases = append(result.Phases, stepResult)
		result.CostUsed += stepResult.CostUsed

		if !stepResult.Success {
			result.Success = false
			result.Error = fmt.Sprintf("phase %s: %s", phase.ID, stepResult.Error)
			logger.Warn("phase failed", "phase", phase.ID, "error", stepResult.Error)
			break
		}
		logger.Debug("phase completed", "phase", phase.ID)
	}

	return result
}

// executeStep runs one adapter call under breaker and budget gating. The
// breaker key is the workflow ID, so one repeatedly failing workflow cannot
// trip execution for its siblings.
func (e *Executor) executeStep(ctx context.Context, step Step) StepResult {
	key := step.WorkflowID

	if e.breaker != nil && !e.breaker.Allow(key) {
		return StepResult{
			Success: false,
			Error:   fmt.Sprintf("circuit open for %s, call rejected", key),
		}
	}

	if step.AIAssisted && e.guard != nil {
		if decision := e.guard.AllowAI(step.EstimatedCost); !decision.Allowed {
			return StepResult{Success: false, Error: decision.Reason}
		}
	}

	result, err := e.adapter.Execute(ctx, step)
	if err != nil {
		if e.breaker != nil {
			e.breaker.RecordFailure(key)
		}
		return StepResult{Success: false, Error: err.Error()}
	}
	if result == nil {
		result = &StepResult{Success: false, Error: "adapter returned no result"}
	}

	if e.breaker != nil {
		if result.Success {
			e.breaker.RecordSuccess(key)
		} else {
			e.breaker.RecordFailure(key)
		}
	}

	return *result
}

// cancelled reports whether the session's cancellation marker is set.
func (e *Executor) cancelled(coordinationID string) bool {
	return e.markers != nil && e.markers.IsSet(coordinationID)
}
