// Package cancel implements cancellation markers for coordination sessions.
// A marker is a small JSON file keyed by coordination ID; writing it signals
// every process working on that session to stop at the next unit boundary.
// Existence is the signal, the JSON body carries context for status output.
package cancel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Marker carries the context of a cancellation request.
type Marker struct {
	// CoordinationID identifies the canceled session.
	CoordinationID string `json:"coordination_id"`
	// Reason is an optional human-readable explanation.
	Reason string `json:"reason,omitempty"`
	// RequestedAt is when the cancellation was requested.
	RequestedAt time.Time `json:"requested_at"`
}

// Registry manages cancellation markers under a state directory.
type Registry struct {
	dir string
}

// NewRegistry creates a registry storing markers under dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// markerPath returns the marker file path for a coordination ID.
func (r *Registry) markerPath(coordinationID string) string {
	return filepath.Join(r.dir, fmt.Sprintf("cancel-%s.json", coordinationID))
}

// Set writes a cancellation marker for the session. Setting an already-set
// marker overwrites it with the newer request.
func (r *Registry) Set(coordinationID, reason string) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("creating marker directory: %w", err)
	}

	marker := Marker{
		CoordinationID: coordinationID,
		Reason:         reason,
		RequestedAt:    time.Now(),
	}
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling marker: %w", err)
	}

	if err := os.WriteFile(r.markerPath(coordinationID), data, 0o644); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	return nil
}

// IsSet reports whether a cancellation marker exists for the session.
// Checks are existence-based so they stay cheap enough to run between
// every work unit.
func (r *Registry) IsSet(coordinationID string) bool {
	_, err := os.Stat(r.markerPath(coordinationID))
	return err == nil
}

// Get reads the marker for the session, or (nil, nil) when no marker is set.
func (r *Registry) Get(coordinationID string) (*Marker, error) {
	data, err := os.ReadFile(r.markerPath(coordinationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading marker: %w", err)
	}

	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("parsing marker: %w", err)
	}
	return &marker, nil
}

// Clear removes the marker for the session. Clearing an unset marker is a
// no-op.
func (r *Registry) Clear(coordinationID string) error {
	err := os.Remove(r.markerPath(coordinationID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing marker: %w", err)
	}
	return nil
}
