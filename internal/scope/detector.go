package scope

import (
	"strings"

	"github.com/gobwas/glob"
)

// Detect returns every pairwise conflict among the given claims. Detection is
// pure: it never mutates the claims and the same input always yields the same
// conflicts, in input order.
func Detect(claims []FileClaim) []Conflict {
	var conflicts []Conflict
	for i := 0; i < len(claims); i++ {
		for j := i + 1; j < len(claims); j++ {
			conflicts = append(conflicts, claimsConflict(claims[i], claims[j])...)
		}
	}
	return conflicts
}

// claimsConflict reports the conflicts between two claims. Claims from the
// same workflow never conflict with each other.
func claimsConflict(a, b FileClaim) []Conflict {
	if a.WorkflowID == b.WorkflowID {
		return nil
	}
	if !ModesConflict(a.Mode, b.Mode) {
		return nil
	}

	var conflicts []Conflict
	for _, pa := range a.Patterns {
		for _, pb := range b.Patterns {
			if PatternsOverlap(pa, pb) {
				conflicts = append(conflicts, Conflict{
					WorkflowA: a.WorkflowID,
					WorkflowB: b.WorkflowID,
					PatternA:  pa,
					PatternB:  pb,
					ModeA:     a.Mode,
					ModeB:     b.Mode,
				})
			}
		}
	}
	return conflicts
}

// ModesConflict reports whether two claim modes collide when their patterns
// overlap. Only a pair of read-only claims can safely share files.
func ModesConflict(a, b ClaimMode) bool {
	return !(a == ModeReadOnly && b == ModeReadOnly)
}

// PatternsOverlap reports whether two glob patterns can match a common path.
//
// Detection is conservative. Each pattern is reduced to its literal directory
// prefix (the part before the first glob metacharacter, truncated to a whole
// path segment); the patterns overlap when either prefix contains the other.
// A pattern whose prefix is empty claims from the repository root and
// overlaps everything. As a refinement, each full pattern is also matched
// against the other's literal prefix so patterns like "src/*/api.go" overlap
// the literal claim "src/auth/api.go".
func PatternsOverlap(a, b string) bool {
	pa := literalPrefix(a)
	pb := literalPrefix(b)

	// A repo-root claim overlaps every other claim.
	if pa == "" || pb == "" {
		return true
	}

	if strings.HasPrefix(pa, pb) || strings.HasPrefix(pb, pa) {
		return true
	}

	if ga, err := glob.Compile(a, '/'); err == nil && ga.Match(strings.TrimSuffix(pb, "/")) {
		return true
	}
	if gb, err := glob.Compile(b, '/'); err == nil && gb.Match(strings.TrimSuffix(pa, "/")) {
		return true
	}

	return false
}

// MatchesFile reports whether any of the patterns matches the given path.
// Paths and patterns are both relative to the repository root and use
// forward slashes. A literal directory pattern matches everything under it.
func MatchesFile(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if pattern == path {
			return true
		}
		// Literal directory prefix: "src/auth/" or "src/auth" covers the tree.
		if !strings.ContainsAny(pattern, "*?[{") {
			prefix := strings.TrimSuffix(pattern, "/") + "/"
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if g, err := glob.Compile(pattern, '/'); err == nil && g.Match(path) {
			return true
		}
	}
	return false
}

// literalPrefix returns the literal directory prefix of a glob pattern,
// including a trailing separator. Patterns with a metacharacter in their
// first segment reduce to the empty prefix (the repository root).
func literalPrefix(pattern string) string {
	i := strings.IndexAny(pattern, "*?[{")
	if i < 0 {
		return pattern
	}
	pattern = pattern[:i]
	j := strings.LastIndex(pattern, "/")
	if j < 0 {
		return ""
	}
	return pattern[:j+1]
}
