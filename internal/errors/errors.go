// Package errors provides centralized error definitions and error handling
// utilities for the Conductor codebase. It defines domain-specific errors,
// error constructors with context wrapping, and classification helpers.
//
// Two categories are provided:
//
// Domain-specific errors represent failures from specific subsystems:
//   - GitError: errors from git operations (worktrees, branches, merges)
//   - CoordinationError: errors from workflow coordination
//   - QueueError: errors from the merge queue
//
// Semantic errors represent common conditions:
//   - ValidationError: invalid input or state
//
// Expected contention (a rejected file-scope claim, a branch already queued)
// is never an error in this codebase; those outcomes are boolean results.
// Errors are reserved for genuinely unexpected conditions.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Coordination-related sentinel errors
var (
	// ErrSessionNotFound indicates that a coordination session could not be found.
	ErrSessionNotFound = New("coordination session not found")
	// ErrDependencyCycle indicates a circular dependency between work units.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrPlanHasConflicts indicates an attempt to execute a plan with unresolved scope conflicts.
	ErrPlanHasConflicts = New("plan has unresolved scope conflicts")
	// ErrCoordinationCanceled indicates that a coordination session was canceled.
	ErrCoordinationCanceled = New("coordination canceled")
)

// Merge-queue-related sentinel errors
var (
	// ErrItemNotFound indicates that a queue item could not be found.
	ErrItemNotFound = New("merge queue item not found")
	// ErrInvalidTransition indicates an illegal merge status transition.
	ErrInvalidTransition = New("invalid status transition")
	// ErrQueueCorrupted indicates that persisted queue state could not be parsed.
	ErrQueueCorrupted = New("queue state corrupted")
	// ErrProcessorBusy indicates that another processor already holds the
	// queue's processing lock.
	ErrProcessorBusy = New("another processor is draining the queue")
)

// Git-related sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrWorktreeExists indicates that a worktree already exists.
	ErrWorktreeExists = New("worktree already exists")
	// ErrBranchNotFound indicates that a branch could not be found.
	ErrBranchNotFound = New("branch not found")
	// ErrBranchExists indicates that a branch already exists.
	ErrBranchExists = New("branch already exists")
	// ErrMergeConflict indicates that a merge conflict occurred.
	ErrMergeConflict = New("merge conflict")
)

// General sentinel errors
var (
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// IsRetryable returns whether the error is transient and the operation
// may succeed on retry.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// -----------------------------------------------------------------------------
// GitError
// -----------------------------------------------------------------------------

// GitError represents errors from git operations.
//
// Example:
//
//	err := errors.NewGitError("merge failed", errors.ErrMergeConflict).
//		WithRepository("/repo").
//		WithBranch("feature/x").
//		WithGitOutput(string(output))
type GitError struct {
	baseError
	Repository string
	Branch     string
	Worktree   string
	GitOutput  string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			retryable: false,
		},
	}
}

// WithRepository adds the repository path to the error context.
func (e *GitError) WithRepository(repo string) *GitError {
	e.Repository = repo
	return e
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithWorktree adds a worktree path to the error context.
func (e *GitError) WithWorktree(path string) *GitError {
	e.Worktree = path
	return e
}

// WithGitOutput attaches the raw git command output.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = strings.TrimSpace(output)
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *GitError) WithRetryable(r bool) *GitError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Worktree != "" {
		parts = append(parts, fmt.Sprintf("worktree=%s", e.Worktree))
	}

	prefix := "git error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("git error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// CoordinationError
// -----------------------------------------------------------------------------

// CoordinationError represents errors from workflow coordination.
type CoordinationError struct {
	baseError
	CoordinationID string
	WorkflowID     string
}

// NewCoordinationError creates a new CoordinationError.
func NewCoordinationError(message string, cause error) *CoordinationError {
	return &CoordinationError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			retryable: false,
		},
	}
}

// WithCoordinationID adds a coordination session ID to the error context.
func (e *CoordinationError) WithCoordinationID(id string) *CoordinationError {
	e.CoordinationID = id
	return e
}

// WithWorkflowID adds a workflow ID to the error context.
func (e *CoordinationError) WithWorkflowID(id string) *CoordinationError {
	e.WorkflowID = id
	return e
}

// Error returns the formatted error message.
func (e *CoordinationError) Error() string {
	var parts []string
	if e.CoordinationID != "" {
		parts = append(parts, fmt.Sprintf("coordination=%s", e.CoordinationID))
	}
	if e.WorkflowID != "" {
		parts = append(parts, fmt.Sprintf("workflow=%s", e.WorkflowID))
	}

	prefix := "coordination error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("coordination error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *CoordinationError) Is(target error) bool {
	if _, ok := target.(*CoordinationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// QueueError
// -----------------------------------------------------------------------------

// QueueError represents errors from the merge queue.
type QueueError struct {
	baseError
	Branch string
}

// NewQueueError creates a new QueueError.
func NewQueueError(message string, cause error) *QueueError {
	return &QueueError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			retryable: false,
		},
	}
}

// WithBranch adds the queued branch to the error context.
func (e *QueueError) WithBranch(branch string) *QueueError {
	e.Branch = branch
	return e
}

// Error returns the formatted error message.
func (e *QueueError) Error() string {
	prefix := "queue error"
	if e.Branch != "" {
		prefix = fmt.Sprintf("queue error [branch=%s]", e.Branch)
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *QueueError) Is(target error) bool {
	if _, ok := target.(*QueueError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// ValidationError
// -----------------------------------------------------------------------------

// ValidationError represents invalid input or state.
type ValidationError struct {
	baseError
	Field string
	Value string
}

// NewValidationError creates a new ValidationError for a field.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message: message,
			cause:   ErrInvalidInput,
		},
		Field: field,
		Value: value,
	}
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation error [%s=%q]: %s", e.Field, e.Value, e.message)
	}
	return fmt.Sprintf("validation error [%s]: %s", e.Field, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// retryableError is implemented by errors that know their own retryability.
type retryableError interface {
	IsRetryable() bool
}

// IsRetryable returns true if the error is transient and the operation
// may succeed on retry. Merge conflicts are retryable: the queue retries
// items up to their attempt limit.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var re retryableError
	if As(err, &re) && re.IsRetryable() {
		return true
	}

	return Is(err, ErrMergeConflict)
}
