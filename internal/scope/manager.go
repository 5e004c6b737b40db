package scope

import (
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/conductor/internal/logging"
)

// Manager grants and tracks file-scope claims for a coordination session.
// Claims are granted first-come-first-served: a claim that conflicts with
// any active claim is rejected and the registry is left unchanged. A
// rejected claim is an expected outcome, not an error.
type Manager struct {
	mu     sync.RWMutex
	claims map[string]FileClaim // workflowID -> active claim
	logger *logging.Logger
}

// NewManager creates an empty claim manager.
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		claims: make(map[string]FileClaim),
		logger: logger,
	}
}

// ClaimFiles attempts to grant a claim for the workflow. It returns true and
// records the claim when it conflicts with no active claim; otherwise it
// returns false and records nothing. Re-claiming for a workflow that already
// holds a claim replaces the claim, subject to the same conflict check
// against all other workflows.
func (m *Manager) ClaimFiles(claim FileClaim) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.claims {
		if id == claim.WorkflowID {
			continue
		}
		if len(claimsConflict(claim, existing)) > 0 {
			m.logger.Debug("claim rejected",
				"workflow_id", claim.WorkflowID,
				"conflicts_with", existing.WorkflowID)
			return false
		}
	}

	if claim.ClaimedAt.IsZero() {
		claim.ClaimedAt = time.Now()
	}
	m.claims[claim.WorkflowID] = claim

	m.logger.Debug("claim granted",
		"workflow_id", claim.WorkflowID,
		"patterns", len(claim.Patterns),
		"mode", string(claim.Mode))
	return true
}

// ReleaseClaims releases the workflow's active claim. Releasing a workflow
// that holds no claim is a no-op.
func (m *Manager) ReleaseClaims(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.claims[workflowID]; !ok {
		return
	}
	delete(m.claims, workflowID)
	m.logger.Debug("claims released", "workflow_id", workflowID)
}

// DetectConflicts returns all pairwise conflicts among the given claims
// without granting or mutating anything.
func (m *Manager) DetectConflicts(claims []FileClaim) []Conflict {
	return Detect(claims)
}

// ActiveClaims returns a snapshot of all active claims, sorted by workflow
// ID for deterministic output.
func (m *Manager) ActiveClaims() []FileClaim {
	m.mu.RLock()
	defer m.mu.RUnlock()

	claims := make([]FileClaim, 0, len(m.claims))
	for _, c := range m.claims {
		claims = append(claims, c)
	}
	sort.Slice(claims, func(i, j int) bool {
		return claims[i].WorkflowID < claims[j].WorkflowID
	})
	return claims
}

// Claim returns the active claim for a workflow, if any.
func (m *Manager) Claim(workflowID string) (FileClaim, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.claims[workflowID]
	return c, ok
}

// Claimants returns the workflow IDs whose claims cover the given path,
// sorted for deterministic output.
func (m *Manager) Claimants(path string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, claim := range m.claims {
		if MatchesFile(claim.Patterns, path) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
