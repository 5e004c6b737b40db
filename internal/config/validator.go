package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "mergequeue.max_attempts")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidGateNames returns the gate names recognized by the verification levels
func ValidGateNames() []string {
	return []string{"lint", "test", "typecheck", "security"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateCoordination()...)
	errors = append(errors, c.validateMergeQueue()...)
	errors = append(errors, c.validateBreaker()...)
	errors = append(errors, c.validateBudget()...)
	errors = append(errors, c.validateGates()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validatePaths()...)

	return errors
}

// validateCoordination validates the CoordinationConfig
func (c *Config) validateCoordination() []ValidationError {
	var errors []ValidationError

	const minMaxParallel = 1
	const maxMaxParallel = 20

	if c.Coordination.MaxParallel < minMaxParallel {
		errors = append(errors, ValidationError{
			Field:   "coordination.max_parallel",
			Value:   c.Coordination.MaxParallel,
			Message: fmt.Sprintf("must be at least %d", minMaxParallel),
		})
	}
	if c.Coordination.MaxParallel > maxMaxParallel {
		errors = append(errors, ValidationError{
			Field:   "coordination.max_parallel",
			Value:   c.Coordination.MaxParallel,
			Message: fmt.Sprintf("exceeds maximum of %d", maxMaxParallel),
		})
	}

	return errors
}

// validateMergeQueue validates the MergeQueueConfig
func (c *Config) validateMergeQueue() []ValidationError {
	var errors []ValidationError

	if c.MergeQueue.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "mergequeue.max_attempts",
			Value:   c.MergeQueue.MaxAttempts,
			Message: "must be at least 1",
		})
	}

	const maxAttemptsLimit = 10
	if c.MergeQueue.MaxAttempts > maxAttemptsLimit {
		errors = append(errors, ValidationError{
			Field:   "mergequeue.max_attempts",
			Value:   c.MergeQueue.MaxAttempts,
			Message: fmt.Sprintf("exceeds maximum of %d", maxAttemptsLimit),
		})
	}

	if c.MergeQueue.MaxItemsPerRun < 1 {
		errors = append(errors, ValidationError{
			Field:   "mergequeue.max_items_per_run",
			Value:   c.MergeQueue.MaxItemsPerRun,
			Message: "must be at least 1",
		})
	}

	if c.MergeQueue.EstimatePerItemMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "mergequeue.estimate_per_item_minutes",
			Value:   c.MergeQueue.EstimatePerItemMinutes,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateBreaker validates the BreakerConfig
func (c *Config) validateBreaker() []ValidationError {
	var errors []ValidationError

	if c.Breaker.Failures < 1 {
		errors = append(errors, ValidationError{
			Field:   "breaker.failures",
			Value:   c.Breaker.Failures,
			Message: "must be at least 1",
		})
	}
	if c.Breaker.WindowSec < 1 {
		errors = append(errors, ValidationError{
			Field:   "breaker.window_sec",
			Value:   c.Breaker.WindowSec,
			Message: "must be positive",
		})
	}
	if c.Breaker.CooldownSec < 1 {
		errors = append(errors, ValidationError{
			Field:   "breaker.cooldown_sec",
			Value:   c.Breaker.CooldownSec,
			Message: "must be positive",
		})
	}

	return errors
}

// validateBudget validates the BudgetConfig
func (c *Config) validateBudget() []ValidationError {
	var errors []ValidationError

	if c.Budget.CostLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "budget.cost_limit",
			Value:   c.Budget.CostLimit,
			Message: "must be non-negative (0 disables limit)",
		})
	}

	if c.Budget.ReserveRatio < 0 || c.Budget.ReserveRatio > 1 {
		errors = append(errors, ValidationError{
			Field:   "budget.reserve_ratio",
			Value:   c.Budget.ReserveRatio,
			Message: "must be between 0 and 1",
		})
	}

	return errors
}

// validateGates validates the GatesConfig
func (c *Config) validateGates() []ValidationError {
	var errors []ValidationError

	for name, command := range c.Gates.Commands {
		if strings.TrimSpace(command) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("gates.commands.%s", name),
				Value:   command,
				Message: "command cannot be empty",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	for field, path := range map[string]string{
		"paths.queue_dir":    c.Paths.QueueDir,
		"paths.worktree_dir": c.Paths.WorktreeDir,
	} {
		if path == "" {
			continue
		}

		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   path,
				Message: "path contains invalid null character",
			})
		}

		const maxPathLength = 4096
		if len(path) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   path,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
	}

	return errors
}
