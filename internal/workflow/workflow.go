// Package workflow defines workflow definitions and their coordination
// metadata. Workflows are loaded from YAML files and describe the phases a
// unit of work moves through, which files it intends to touch, and how its
// results should be verified before integration.
package workflow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Claim modes controlling how file-scope claims interact.
const (
	// ModeExclusive claims conflict with every overlapping claim.
	ModeExclusive = "exclusive"
	// ModeShared claims conflict with overlapping exclusive and shared claims.
	ModeShared = "shared"
	// ModeReadOnly claims conflict only with overlapping writer claims.
	ModeReadOnly = "readonly"
)

// Verification levels determining which quality gates run before merge.
const (
	VerificationMinimal       = "minimal"
	VerificationStandard      = "standard"
	VerificationComprehensive = "comprehensive"
)

// Workflow is a unit of coordinated work loaded from a YAML definition.
type Workflow struct {
	// ID uniquely identifies the workflow within a coordination session.
	ID string `yaml:"id"`
	// Name is the human-readable display name (optional, defaults to ID).
	Name string `yaml:"name,omitempty"`
	// Branch is the git branch the workflow produces (optional).
	Branch string `yaml:"branch,omitempty"`
	// Phases are executed in order; each phase may claim file scope.
	Phases []Phase `yaml:"phases"`
	// Coordination carries scheduling and verification metadata.
	Coordination Coordination `yaml:"coordination"`
}

// Phase is a named stage within a workflow.
type Phase struct {
	// ID uniquely identifies the phase within its workflow.
	ID string `yaml:"id"`
	// Name is the human-readable display name (optional).
	Name string `yaml:"name,omitempty"`
	// Command is the shell command executed for this phase (optional; an
	// adapter may supply execution instead).
	Command string `yaml:"command,omitempty"`
	// AIAssisted marks the phase as non-deterministic in cost. Steps for
	// AI-assisted phases are budget-gated before execution.
	AIAssisted bool `yaml:"ai_assisted,omitempty"`
	// EstimatedCost is the phase's cost allowance in USD, used for budget
	// gating of AI-assisted phases.
	EstimatedCost float64 `yaml:"estimated_cost,omitempty"`
}

// Coordination carries the metadata the coordinator uses to schedule a
// workflow relative to its peers.
type Coordination struct {
	// FileScope lists glob patterns for the files this workflow will touch.
	FileScope []string `yaml:"file_scope,omitempty"`
	// Mode is the claim mode: exclusive, shared, or readonly.
	// Defaults to exclusive.
	Mode string `yaml:"mode,omitempty"`
	// Priority orders workflows within a plan; higher runs earlier.
	Priority int `yaml:"priority,omitempty"`
	// DependsOn lists workflow IDs that must complete before this one starts.
	DependsOn []string `yaml:"depends_on,omitempty"`
	// VerificationLevel selects the default quality gates: minimal,
	// standard, or comprehensive. Defaults to standard.
	VerificationLevel string `yaml:"verification_level,omitempty"`
	// QualityGates overrides the gates derived from VerificationLevel.
	QualityGates []string `yaml:"quality_gates,omitempty"`
}

// DisplayName returns the workflow's name, falling back to its ID.
func (w *Workflow) DisplayName() string {
	if w.Name != "" {
		return w.Name
	}
	return w.ID
}

// ClaimMode returns the effective claim mode, applying the default.
func (c *Coordination) ClaimMode() string {
	if c.Mode == "" {
		return ModeExclusive
	}
	return strings.ToLower(c.Mode)
}

// Level returns the effective verification level, applying the default.
func (c *Coordination) Level() string {
	if c.VerificationLevel == "" {
		return VerificationStandard
	}
	return strings.ToLower(c.VerificationLevel)
}

// Gates returns the quality gates to run for this workflow. An explicit
// QualityGates list takes precedence; otherwise the gates derive from the
// verification level.
func (c *Coordination) Gates() []string {
	if len(c.QualityGates) > 0 {
		return c.QualityGates
	}
	return GatesForLevel(c.Level())
}

// GatesForLevel returns the quality gates implied by a verification level.
func GatesForLevel(level string) []string {
	switch strings.ToLower(level) {
	case VerificationMinimal:
		return []string{"lint"}
	case VerificationComprehensive:
		return []string{"lint", "test", "typecheck", "security"}
	default:
		return []string{"lint", "test"}
	}
}

// ValidModes returns the recognized claim modes.
func ValidModes() []string {
	return []string{ModeExclusive, ModeShared, ModeReadOnly}
}

// ValidVerificationLevels returns the recognized verification levels.
func ValidVerificationLevels() []string {
	return []string{VerificationMinimal, VerificationStandard, VerificationComprehensive}
}

// Load reads and validates a workflow definition from a YAML file.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file: %w", err)
	}

	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing workflow file: %w", err)
	}

	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}

	return &wf, nil
}

// Parse validates a workflow definition from raw YAML bytes.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing workflow: %w", err)
	}
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	return &wf, nil
}

// Validate checks that the workflow definition is well-formed.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow id is required")
	}

	if len(w.Phases) == 0 {
		return fmt.Errorf("workflow %q has no phases", w.ID)
	}

	seen := make(map[string]bool, len(w.Phases))
	for i, p := range w.Phases {
		if p.ID == "" {
			return fmt.Errorf("workflow %q phase %d has no id", w.ID, i)
		}
		if seen[p.ID] {
			return fmt.Errorf("workflow %q has duplicate phase id %q", w.ID, p.ID)
		}
		seen[p.ID] = true
	}

	mode := w.Coordination.ClaimMode()
	validMode := false
	for _, m := range ValidModes() {
		if mode == m {
			validMode = true
			break
		}
	}
	if !validMode {
		return fmt.Errorf("workflow %q has unknown claim mode %q (valid: %s)",
			w.ID, w.Coordination.Mode, strings.Join(ValidModes(), ", "))
	}

	level := w.Coordination.Level()
	validLevel := false
	for _, l := range ValidVerificationLevels() {
		if level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("workflow %q has unknown verification level %q (valid: %s)",
			w.ID, w.Coordination.VerificationLevel, strings.Join(ValidVerificationLevels(), ", "))
	}

	for _, dep := range w.Coordination.DependsOn {
		if dep == w.ID {
			return fmt.Errorf("workflow %q depends on itself", w.ID)
		}
	}

	return nil
}
