// Package coordinator plans and tracks batches of workflows. Planning
// extracts file-scope claims, detects conflicts between them, orders
// workflows by priority, and partitions them into parallel groups. Each
// started batch becomes a coordination session that tracks per-workflow
// completion until every workflow has reported in.
package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/mergequeue"
	"github.com/Iron-Ham/conductor/internal/scope"
	"github.com/Iron-Ham/conductor/internal/workflow"
)

// SessionStatus is the lifecycle state of a coordination session.
type SessionStatus string

const (
	// StatusRunning indicates workflows are executing. Sessions start here:
	// a batch that cannot start (conflicts, held claims) never becomes a
	// session at all.
	StatusRunning SessionStatus = "running"
	// StatusCompleted indicates every workflow has reported completion.
	StatusCompleted SessionStatus = "completed"
)

// Session tracks one coordination batch from planning through completion.
type Session struct {
	// ID is the coordination ID.
	ID string `json:"id"`
	// Status is the session lifecycle state.
	Status SessionStatus `json:"status"`
	// StartTime is when the session was created.
	StartTime time.Time `json:"start_time"`
	// Plan is the coordination plan the session runs under.
	Plan *Plan `json:"plan"`
	// Workflows lists the workflow IDs in the batch.
	Workflows []string `json:"workflows"`
	// CompletedWorkflows lists workflows that reported success.
	CompletedWorkflows []string `json:"completed_workflows,omitempty"`
	// FailedWorkflows lists workflows that reported failure.
	FailedWorkflows []string `json:"failed_workflows,omitempty"`
	// CostUsed accumulates the cost reported by completed workflows.
	CostUsed float64 `json:"cost_used"`

	// reported tracks which workflows have already counted, so repeated
	// completion reports for the same workflow are ignored.
	reported map[string]bool
	// byID indexes the batch's definitions for completion-time enqueueing.
	byID map[string]*workflow.Workflow
}

// Enqueuer accepts finished branches for integration. *mergequeue.Queue
// satisfies it; tests substitute fakes.
type Enqueuer interface {
	Add(item mergequeue.MergeQueueItem) (*mergequeue.MergeQueueItem, bool, error)
}

var _ Enqueuer = (*mergequeue.Queue)(nil)

// Coordinator plans workflow batches and tracks their sessions. All methods
// are safe for concurrent use.
type Coordinator struct {
	mu         sync.Mutex
	scopes     *scope.Manager
	queue      Enqueuer
	baseBranch string
	logger     *logging.Logger
	now        func() time.Time
	sessions   map[string]*Session
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithMergeQueue wires the merge queue that successful workflows' branches
// are submitted to. Without it, completion bookkeeping still works but no
// branches are enqueued.
func WithMergeQueue(queue Enqueuer) Option {
	return func(c *Coordinator) { c.queue = queue }
}

// WithBaseBranch sets the integration target branch for enqueued items.
// Defaults to main.
func WithBaseBranch(branch string) Option {
	return func(c *Coordinator) {
		if branch != "" {
			c.baseBranch = branch
		}
	}
}

// New creates a Coordinator using the given claim manager.
func New(scopes *scope.Manager, opts ...Option) *Coordinator {
	c := &Coordinator{
		scopes:     scopes,
		baseBranch: "main",
		logger:     logging.NopLogger(),
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateCoordinationPlan computes a plan for the batch without creating a
// session or touching the live claim registry. The conflict check is
// advisory: it compares the batch's claims against each other only.
func (c *Coordinator) CreateCoordinationPlan(workflows []*workflow.Workflow) *Plan {
	plan := buildPlan(workflows)

	c.logger.Info("coordination plan created",
		"workflows", len(workflows),
		"conflicts", len(plan.Conflicts),
		"groups", len(plan.ParallelGroups),
		"cycle_detected", plan.CycleDetected)
	return plan
}

// StartCoordination plans the batch, claims file scope for every workflow,
// and opens a running session. A plan with scope conflicts is not started;
// the returned error wraps ErrPlanHasConflicts and carries the plan so the
// caller can surface the conflicts.
func (c *Coordinator) StartCoordination(workflows []*workflow.Workflow) (*Session, error) {
	if len(workflows) == 0 {
		return nil, errors.NewValidationError("workflows", "", "batch cannot be empty")
	}

	plan := c.CreateCoordinationPlan(workflows)
	if !plan.Executable() {
		return nil, errors.NewCoordinationError(
			fmt.Sprintf("%d scope conflicts in batch", len(plan.Conflicts)),
			errors.ErrPlanHasConflicts)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	session := &Session{
		ID:        fmt.Sprintf("coord-%d", now.UnixNano()),
		Status:    StatusRunning,
		StartTime: now,
		Plan:      plan,
		reported:  make(map[string]bool, len(workflows)),
		byID:      make(map[string]*workflow.Workflow, len(workflows)),
	}
	for _, wf := range workflows {
		session.Workflows = append(session.Workflows, wf.ID)
		session.byID[wf.ID] = wf
	}

	// Claims were conflict-checked against each other above, so granting
	// can only fail against claims held by another live session.
	for _, claim := range plan.Claims {
		if !c.scopes.ClaimFiles(claim) {
			for _, granted := range plan.Claims {
				if granted.WorkflowID == claim.WorkflowID {
					break
				}
				c.scopes.ReleaseClaims(granted.WorkflowID)
			}
			return nil, errors.NewCoordinationError(
				fmt.Sprintf("file scope for workflow %s is held by another session", claim.WorkflowID),
				errors.ErrPlanHasConflicts)
		}
	}

	c.sessions[session.ID] = session

	c.logger.WithCoordination(session.ID).Info("coordination started",
		"workflows", len(session.Workflows))
	return session.snapshot(), nil
}

// HandleWorkflowCompletion records one workflow's completion within a
// session: its claims are released, the completion is counted once, and on
// success the workflow's branch is submitted to the merge queue. Reporting
// the same workflow again is safe and changes nothing. Once every workflow
// in the batch has reported, the session flips to completed.
func (c *Coordinator) HandleWorkflowCompletion(coordinationID, workflowID string, success bool, costUsed float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok := c.sessions[coordinationID]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrSessionNotFound, coordinationID)
	}

	wf, known := session.byID[workflowID]
	if !known {
		return errors.NewCoordinationError(
			fmt.Sprintf("workflow %s is not part of session %s", workflowID, coordinationID),
			errors.ErrInvalidInput)
	}

	logger := c.logger.WithCoordination(coordinationID).WithWorkflow(workflowID)

	if session.reported[workflowID] {
		logger.Debug("duplicate completion report ignored")
		return nil
	}
	session.reported[workflowID] = true
	session.CostUsed += costUsed

	c.scopes.ReleaseClaims(workflowID)

	if success {
		session.CompletedWorkflows = append(session.CompletedWorkflows, workflowID)
		if err := c.enqueueBranch(session, wf); err != nil {
			logger.Error("failed to enqueue branch for integration", "error", err)
		}
	} else {
		session.FailedWorkflows = append(session.FailedWorkflows, workflowID)
	}

	if len(session.reported) == len(session.Workflows) {
		session.Status = StatusCompleted
		logger.Info("coordination completed",
			"succeeded", len(session.CompletedWorkflows),
			"failed", len(session.FailedWorkflows),
			"cost_used", session.CostUsed)
	}

	logger.Info("workflow completion recorded", "success", success)
	return nil
}

// enqueueBranch submits a finished workflow's branch to the merge queue.
// Workflows without a branch, or coordinators without a queue, skip this.
func (c *Coordinator) enqueueBranch(session *Session, wf *workflow.Workflow) error {
	if c.queue == nil || wf.Branch == "" {
		return nil
	}
	_, _, err := c.queue.Add(mergequeue.MergeQueueItem{
		Branch:         wf.Branch,
		TargetBranch:   c.baseBranch,
		WorkflowID:     wf.ID,
		CoordinationID: session.ID,
		Priority:       wf.Coordination.Priority,
		Gates:          wf.Coordination.Gates(),
	})
	return err
}

// GetSession returns a copy of the session, or an error when no session has
// that ID.
func (c *Coordinator) GetSession(coordinationID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok := c.sessions[coordinationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrSessionNotFound, coordinationID)
	}
	return session.snapshot(), nil
}

// Sessions returns copies of all sessions, in unspecified order.
func (c *Coordinator) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s.snapshot())
	}
	return sessions
}

// snapshot returns a copy safe to hand to callers. The internal bookkeeping
// maps are not shared.
func (s *Session) snapshot() *Session {
	cp := &Session{
		ID:        s.ID,
		Status:    s.Status,
		StartTime: s.StartTime,
		Plan:      s.Plan,
		CostUsed:  s.CostUsed,
	}
	cp.Workflows = append(cp.Workflows, s.Workflows...)
	cp.CompletedWorkflows = append(cp.CompletedWorkflows, s.CompletedWorkflows...)
	cp.FailedWorkflows = append(cp.FailedWorkflows, s.FailedWorkflows...)
	return cp
}
