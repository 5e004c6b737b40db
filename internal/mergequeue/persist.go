package mergequeue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/conductor/internal/errors"
)

const stateFileName = "mergequeue-state.json"

// persistedState is the serializable representation of the queue. Unknown
// JSON fields from newer versions are ignored on load, so state files
// survive upgrades in both directions.
type persistedState struct {
	Items       map[string]*MergeQueueItem `json:"items"`
	Order       []string                   `json:"order"`
	History     []*MergeQueueItem          `json:"history,omitempty"`
	LastUpdated time.Time                  `json:"lastUpdated"`
}

// save writes the queue state to a JSON file in the queue's directory.
// The write is atomic: data is written to a temporary file first, then
// renamed into place. A file lock is held during the operation for
// cross-process safety. Callers must hold q.mu.
func (q *Queue) saveLocked() error {
	fl := newDirLock(q.dir, stateLockName)
	if err := fl.acquire(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.release() }()

	data, err := json.MarshalIndent(persistedState{
		Items:       q.items,
		Order:       q.order,
		History:     q.history,
		LastUpdated: q.now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue state: %w", err)
	}

	target := filepath.Join(q.dir, stateFileName)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// loadState reads persisted state from the given directory. Returns
// (nil, nil) when no state file exists yet. A file lock is held during
// the read for cross-process safety.
func loadState(dir string) (*persistedState, error) {
	fl := newDirLock(dir, stateLockName)
	if err := fl.acquire(); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.release() }()

	target := filepath.Join(dir, stateFileName)

	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.NewQueueError("failed to parse persisted state",
			fmt.Errorf("%w: %v", errors.ErrQueueCorrupted, err))
	}

	if state.Items == nil {
		state.Items = make(map[string]*MergeQueueItem)
	}
	if state.Order == nil {
		state.Order = []string{}
	}

	return &state, nil
}
