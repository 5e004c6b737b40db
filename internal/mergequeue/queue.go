// Package mergequeue implements a durable, priority-ordered merge queue.
// Branches are enqueued, verified by shadow merge in an ephemeral worktree,
// and merged serially onto the target branch. State is persisted to disk on
// every mutation so a crashed process can resume where it stopped.
package mergequeue

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/logging"
)

// Default limits applied when no option overrides them.
const (
	defaultMaxAttempts     = 3
	defaultEstimatePerItem = 5 * time.Minute
)

// Queue manages merge queue items with durable state. All methods are safe
// for concurrent use via an internal mutex, and every mutation is written
// through to disk before it returns.
type Queue struct {
	mu      sync.Mutex
	dir     string
	items   map[string]*MergeQueueItem // itemID -> item
	order   []string                   // item IDs, priority desc then FIFO
	history []*MergeQueueItem          // archived terminal items

	maxAttempts     int
	estimatePerItem time.Duration
	logger          *logging.Logger
	now             func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxAttempts overrides the per-item attempt limit.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

// WithEstimatePerItem overrides the per-item duration used by
// EstimateWaitTime.
func WithEstimatePerItem(d time.Duration) Option {
	return func(q *Queue) { q.estimatePerItem = d }
}

// WithLogger sets the queue's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Open creates or restores a Queue backed by the given state directory.
// Existing state is loaded; a fresh directory starts an empty queue.
func Open(dir string, opts ...Option) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	q := &Queue{
		dir:             dir,
		items:           make(map[string]*MergeQueueItem),
		maxAttempts:     defaultMaxAttempts,
		estimatePerItem: defaultEstimatePerItem,
		logger:          logging.NopLogger(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}

	state, err := loadState(dir)
	if err != nil {
		return nil, err
	}
	if state != nil {
		q.items = state.Items
		q.history = state.History

		// Tolerate drift between order and items: drop unknown IDs and
		// re-append items the order list is missing.
		inOrder := make(map[string]bool, len(state.Order))
		for _, id := range state.Order {
			if _, ok := q.items[id]; ok && !inOrder[id] {
				q.order = append(q.order, id)
				inOrder[id] = true
			}
		}
		for id := range q.items {
			if !inOrder[id] {
				q.order = append(q.order, id)
			}
		}
		q.sortOrderLocked()
	}

	return q, nil
}

// MaxAttempts returns the per-item attempt limit.
func (q *Queue) MaxAttempts() int {
	return q.maxAttempts
}

// AcquireProcessing takes the cross-process processing lock, guaranteeing at
// most one processor drains this queue at a time. The returned release
// function must be called when the run ends. ErrProcessorBusy is returned
// when another process already holds the lock.
func (q *Queue) AcquireProcessing() (release func(), err error) {
	l := newDirLock(q.dir, processorLockName)
	held, err := l.tryAcquire()
	if err != nil {
		return nil, fmt.Errorf("acquire processing lock: %w", err)
	}
	if !held {
		return nil, fmt.Errorf("%w: %s", errors.ErrProcessorBusy, q.dir)
	}
	return func() { _ = l.release() }, nil
}

// Add enqueues a branch for integration. ID, status, and timestamps are
// assigned by the queue. Enqueueing a branch that already has an active
// (non-terminal) item is idempotent: the existing item is returned with
// created false and nothing changes.
func (q *Queue) Add(item MergeQueueItem) (result *MergeQueueItem, created bool, err error) {
	if item.Branch == "" {
		return nil, false, errors.NewValidationError("branch", "", "cannot be empty")
	}
	if item.TargetBranch == "" {
		return nil, false, errors.NewValidationError("target_branch", "", "cannot be empty")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.order {
		existing := q.items[id]
		if existing.Branch == item.Branch && existing.Status.IsActive() {
			cp := *existing
			return &cp, false, nil
		}
	}

	now := q.now()
	item.ID = fmt.Sprintf("mq-%d", now.UnixNano())
	item.Status = StatusQueued
	item.Attempts = 0
	item.CreatedAt = now
	item.UpdatedAt = now
	item.CompletedAt = nil

	q.items[item.ID] = &item
	q.order = append(q.order, item.ID)
	q.sortOrderLocked()

	if err := q.saveLocked(); err != nil {
		return nil, false, err
	}

	q.logger.Info("item enqueued",
		"item_id", item.ID,
		"branch", item.Branch,
		"priority", item.Priority)

	cp := item
	return &cp, true, nil
}

// GetNextItem returns a copy of the highest-priority queued item, or nil
// when nothing is waiting. It does not claim the item; callers transition
// it to verifying via UpdateItemStatus.
func (q *Queue) GetNextItem() *MergeQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.order {
		item := q.items[id]
		if item.Status == StatusQueued {
			cp := *item
			return &cp
		}
	}
	return nil
}

// UpdateItemStatus transitions an item to a new status. It is the only
// operation that mutates status. A non-empty errMsg records failure context
// and increments the item's attempt counter. Illegal transitions return
// ErrInvalidTransition and leave the item unchanged.
func (q *Queue) UpdateItemStatus(id string, status MergeStatus, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrItemNotFound, id)
	}

	if !canTransition(item.Status, status) {
		return fmt.Errorf("%w: cannot transition %s from %s to %s",
			errors.ErrInvalidTransition, id, item.Status, status)
	}

	item.Status = status
	item.UpdatedAt = q.now()

	if errMsg != "" {
		item.Attempts++
		item.LastError = errMsg
	}

	if status.IsTerminal() {
		completed := q.now()
		item.CompletedAt = &completed
	} else {
		item.CompletedAt = nil
	}

	if err := q.saveLocked(); err != nil {
		return err
	}

	q.logger.Debug("item status updated",
		"item_id", id,
		"branch", item.Branch,
		"status", string(status),
		"attempts", item.Attempts)
	return nil
}

// RecordMergeCommit stores the merge commit SHA for an item.
func (q *Queue) RecordMergeCommit(id, sha string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrItemNotFound, id)
	}
	item.MergeCommit = sha
	item.UpdatedAt = q.now()

	return q.saveLocked()
}

// RetryFailedItems re-queues failed and conflicted items that have attempts
// remaining. Items at the attempt limit stay terminal. Returns the IDs of
// re-queued items.
func (q *Queue) RetryFailedItems() ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var retried []string
	for _, id := range q.order {
		item := q.items[id]
		if item.Status != StatusFailed && item.Status != StatusConflict {
			continue
		}
		if item.Attempts >= q.maxAttempts {
			continue
		}

		item.Status = StatusQueued
		item.CompletedAt = nil
		item.UpdatedAt = q.now()
		retried = append(retried, id)
	}

	if len(retried) > 0 {
		if err := q.saveLocked(); err != nil {
			return nil, err
		}
		q.logger.Info("items re-queued for retry", "count", len(retried))
	}
	return retried, nil
}

// CancelItem cancels a queued, verifying, or ready item. Items that are
// already merging cannot be cancelled; the merge either completes or fails
// on its own terms.
func (q *Queue) CancelItem(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrItemNotFound, id)
	}

	if !canTransition(item.Status, StatusCancelled) {
		return fmt.Errorf("%w: cannot cancel %s in status %s",
			errors.ErrInvalidTransition, id, item.Status)
	}

	item.Status = StatusCancelled
	completed := q.now()
	item.CompletedAt = &completed
	item.UpdatedAt = completed

	if err := q.saveLocked(); err != nil {
		return err
	}

	q.logger.Info("item cancelled", "item_id", id, "branch", item.Branch)
	return nil
}

// RemoveCompleted archives merged and cancelled items to history and removes
// them from the active queue. Failed and conflicted items stay queued so
// RetryFailedItems can revive them. Returns the number of items archived.
func (q *Queue) RemoveCompleted() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var remaining []string
	archived := 0
	for _, id := range q.order {
		item := q.items[id]
		if item.Status == StatusMerged || item.Status == StatusCancelled {
			q.history = append(q.history, item)
			delete(q.items, id)
			archived++
			continue
		}
		remaining = append(remaining, id)
	}
	q.order = remaining

	if archived > 0 {
		if err := q.saveLocked(); err != nil {
			return 0, err
		}
	}
	return archived, nil
}

// EstimateWaitTime estimates how long until the item starts processing,
// based on the number of active items ahead of it in the queue. The figure
// is a planning aid computed from a fixed per-item estimate, not a promise.
func (q *Queue) EstimateWaitTime(id string) (time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errors.ErrItemNotFound, id)
	}
	if item.Status.IsTerminal() {
		return 0, nil
	}

	ahead := 0
	for _, oid := range q.order {
		if oid == id {
			break
		}
		if q.items[oid].Status.IsActive() {
			ahead++
		}
	}
	return time.Duration(ahead) * q.estimatePerItem, nil
}

// Get returns a copy of the item with the given ID, or nil if not found.
func (q *Queue) Get(id string) *MergeQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return nil
	}
	cp := *item
	return &cp
}

// Items returns copies of all active items in queue order.
func (q *Queue) Items() []*MergeQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]*MergeQueueItem, 0, len(q.order))
	for _, id := range q.order {
		cp := *q.items[id]
		items = append(items, &cp)
	}
	return items
}

// History returns copies of archived items, oldest first.
func (q *Queue) History() []*MergeQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]*MergeQueueItem, 0, len(q.history))
	for _, item := range q.history {
		cp := *item
		items = append(items, &cp)
	}
	return items
}

// Stats returns a snapshot of the current queue state counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	s.Total = len(q.items)
	s.History = len(q.history)
	for _, item := range q.items {
		switch item.Status {
		case StatusQueued:
			s.Queued++
		case StatusVerifying:
			s.Verifying++
		case StatusReady:
			s.Ready++
		case StatusMerging:
			s.Merging++
		case StatusMerged:
			s.Merged++
		case StatusFailed:
			s.Failed++
		case StatusConflict:
			s.Conflict++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// sortOrderLocked re-sorts the order slice: priority descending, then
// enqueue time ascending so equal priorities merge first-come-first-served.
// The sort is stable, so repeated sorting never reorders equal items.
// Callers must hold q.mu.
func (q *Queue) sortOrderLocked() {
	sort.SliceStable(q.order, func(i, j int) bool {
		a, b := q.items[q.order[i]], q.items[q.order[j]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
