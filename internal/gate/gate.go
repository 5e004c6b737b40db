// Package gate runs quality gates (lint, test, typecheck, security) against
// a checkout before a branch is allowed to merge. Gate names map to shell
// commands through configuration; the runner executes them in order and
// stops at the first failure.
package gate

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/conductor/internal/logging"
)

// Result is the outcome of one gate.
type Result struct {
	// Name is the gate name (lint, test, typecheck, security).
	Name string `json:"name"`
	// Passed is true when the gate command exited zero or was skipped.
	Passed bool `json:"passed"`
	// Skipped is true when no command is configured for the gate.
	Skipped bool `json:"skipped,omitempty"`
	// Output is the combined output of the gate command, trimmed.
	Output string `json:"output,omitempty"`
	// Duration is how long the gate ran.
	Duration time.Duration `json:"duration,omitempty"`
}

// Runner executes a sequence of named gates in a directory.
type Runner interface {
	// RunGates runs the gates in order, stopping at the first failure.
	// An empty gate list passes vacuously. The returned results cover the
	// gates that ran (including the failing one); the bool is true when
	// every executed gate passed.
	RunGates(ctx context.Context, dir string, gates []string) ([]Result, bool)
}

// CommandRunner runs gates as shell commands.
type CommandRunner struct {
	commands map[string]string
	logger   *logging.Logger
}

// NewCommandRunner creates a runner backed by the gate-name-to-command map
// from configuration.
func NewCommandRunner(commands map[string]string, logger *logging.Logger) *CommandRunner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CommandRunner{
		commands: commands,
		logger:   logger,
	}
}

// RunGates implements Runner. Gates without a configured command are
// recorded as skipped and do not fail the run; a missing command means the
// project has nothing to check for that gate, not that the check failed.
func (r *CommandRunner) RunGates(ctx context.Context, dir string, gates []string) ([]Result, bool) {
	results := make([]Result, 0, len(gates))

	for _, name := range gates {
		command, ok := r.commands[name]
		if !ok || strings.TrimSpace(command) == "" {
			r.logger.Debug("gate skipped, no command configured", "gate", name)
			results = append(results, Result{Name: name, Passed: true, Skipped: true})
			continue
		}

		start := time.Now()
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = dir
		output, err := cmd.CombinedOutput()
		duration := time.Since(start)

		result := Result{
			Name:     name,
			Passed:   err == nil,
			Output:   strings.TrimSpace(string(output)),
			Duration: duration,
		}
		results = append(results, result)

		if err != nil {
			r.logger.Warn("gate failed",
				"gate", name,
				"duration", duration.String(),
				"error", err)
			return results, false
		}

		r.logger.Debug("gate passed", "gate", name, "duration", duration.String())
	}

	return results, true
}

var _ Runner = (*CommandRunner)(nil)

// FailedGate returns the name of the first failed gate in results, or "".
func FailedGate(results []Result) string {
	for _, r := range results {
		if !r.Passed {
			return r.Name
		}
	}
	return ""
}
