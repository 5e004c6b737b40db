package mergequeue

import (
	"time"
)

// MergeStatus represents the current state of a queue item.
type MergeStatus string

const (
	// StatusQueued indicates the item is waiting to be processed.
	StatusQueued MergeStatus = "queued"

	// StatusVerifying indicates the item is being shadow-merged and gated
	// in an ephemeral worktree.
	StatusVerifying MergeStatus = "verifying"

	// StatusReady indicates verification passed and the item is cleared to
	// merge.
	StatusReady MergeStatus = "ready"

	// StatusMerging indicates the real merge onto the target branch is in
	// progress.
	StatusMerging MergeStatus = "merging"

	// StatusMerged indicates the item merged successfully.
	StatusMerged MergeStatus = "merged"

	// StatusFailed indicates verification or post-merge gates failed.
	StatusFailed MergeStatus = "failed"

	// StatusConflict indicates the branch cannot merge cleanly.
	StatusConflict MergeStatus = "conflict"

	// StatusCancelled indicates the item was cancelled before merging.
	StatusCancelled MergeStatus = "cancelled"
)

// String returns the string representation of the status.
func (s MergeStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
// Failed and conflict items can still be revived through an explicit retry.
func (s MergeStatus) IsTerminal() bool {
	switch s {
	case StatusMerged, StatusFailed, StatusConflict, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive returns true when the item still occupies a queue slot.
func (s MergeStatus) IsActive() bool {
	return !s.IsTerminal()
}

// validTransitions maps each status to the statuses it may move to.
// Failed and conflict transition back to queued only through retry.
var validTransitions = map[MergeStatus][]MergeStatus{
	StatusQueued:    {StatusVerifying, StatusCancelled},
	StatusVerifying: {StatusReady, StatusFailed, StatusConflict, StatusCancelled},
	StatusReady:     {StatusMerging, StatusFailed, StatusCancelled},
	StatusMerging:   {StatusMerged, StatusFailed, StatusConflict},
	StatusFailed:    {StatusQueued},
	StatusConflict:  {StatusQueued},
}

// canTransition reports whether moving from one status to another is legal.
func canTransition(from, to MergeStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// MergeQueueItem is one branch awaiting integration.
type MergeQueueItem struct {
	// ID uniquely identifies the item.
	ID string `json:"id"`

	// Branch is the branch to merge.
	Branch string `json:"branch"`

	// TargetBranch is the integration target (usually main).
	TargetBranch string `json:"target_branch"`

	// WorkflowID is the workflow that produced the branch (optional).
	WorkflowID string `json:"workflow_id,omitempty"`

	// CoordinationID ties the item to a coordination session (optional).
	CoordinationID string `json:"coordination_id,omitempty"`

	// Priority orders items; higher merges earlier.
	Priority int `json:"priority"`

	// Status is the current state.
	Status MergeStatus `json:"status"`

	// Gates are the quality gates run during verification.
	Gates []string `json:"gates,omitempty"`

	// Attempts counts how many times processing has errored.
	Attempts int `json:"attempts"`

	// LastError holds context from the most recent failure.
	LastError string `json:"last_error,omitempty"`

	// MergeCommit is the SHA of the merge commit once merged.
	MergeCommit string `json:"merge_commit,omitempty"`

	// CreatedAt is when the item was enqueued.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the item last changed.
	UpdatedAt time.Time `json:"updated_at"`

	// CompletedAt is when the item reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Stats is a snapshot of the queue's current state counts.
type Stats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Verifying int `json:"verifying"`
	Ready     int `json:"ready"`
	Merging   int `json:"merging"`
	Merged    int `json:"merged"`
	Failed    int `json:"failed"`
	Conflict  int `json:"conflict"`
	Cancelled int `json:"cancelled"`
	// History counts items archived by RemoveCompleted.
	History int `json:"history"`
}
