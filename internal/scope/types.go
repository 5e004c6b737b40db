// Package scope implements file-scope claims and conflict detection.
// Workflows declare the file patterns they intend to modify; the claim
// manager grants claims first-come-first-served and the detector reports
// pairwise conflicts between overlapping claims.
package scope

import (
	"strings"
	"time"
)

// ClaimMode controls how a file-scope claim interacts with overlapping claims.
type ClaimMode string

const (
	// ModeExclusive conflicts with every overlapping claim.
	ModeExclusive ClaimMode = "exclusive"
	// ModeShared conflicts with overlapping exclusive and shared claims.
	ModeShared ClaimMode = "shared"
	// ModeReadOnly conflicts only with overlapping writer claims.
	ModeReadOnly ClaimMode = "readonly"
)

// ParseMode converts a string to a ClaimMode, defaulting to ModeExclusive
// for empty input and returning false for unrecognized values.
func ParseMode(s string) (ClaimMode, bool) {
	switch ClaimMode(strings.ToLower(s)) {
	case "":
		return ModeExclusive, true
	case ModeExclusive:
		return ModeExclusive, true
	case ModeShared:
		return ModeShared, true
	case ModeReadOnly:
		return ModeReadOnly, true
	default:
		return ModeExclusive, false
	}
}

// FileClaim records a workflow's declared intent to touch a set of files.
type FileClaim struct {
	// WorkflowID identifies the claiming workflow.
	WorkflowID string `json:"workflow_id"`
	// PhaseID identifies the phase holding the claim (optional).
	PhaseID string `json:"phase_id,omitempty"`
	// Patterns are glob patterns relative to the repository root.
	Patterns []string `json:"patterns"`
	// Mode controls how this claim interacts with overlapping claims.
	Mode ClaimMode `json:"mode"`
	// Priority carries the workflow's plan priority for reporting.
	Priority int `json:"priority"`
	// ClaimedAt is when the claim was granted.
	ClaimedAt time.Time `json:"claimed_at"`
}

// Conflict describes a pairwise collision between two file-scope claims.
type Conflict struct {
	// WorkflowA and WorkflowB are the colliding workflows.
	WorkflowA string `json:"workflow_a"`
	WorkflowB string `json:"workflow_b"`
	// PatternA and PatternB are the specific patterns that overlap.
	PatternA string `json:"pattern_a"`
	PatternB string `json:"pattern_b"`
	// ModeA and ModeB are the claim modes involved.
	ModeA ClaimMode `json:"mode_a"`
	ModeB ClaimMode `json:"mode_b"`
}
