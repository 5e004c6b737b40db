package scope

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/conductor/internal/logging"
)

// Violation reports a file that was modified outside the terms of the
// active claims: either no workflow claimed it, or it falls inside the
// scope of more than one workflow whose modes conflict.
type Violation struct {
	// RelativePath is the modified file, relative to the watched root.
	RelativePath string
	// Claimants are the workflows whose claims cover the file. Empty means
	// the file was modified without any claim.
	Claimants []string
	// ModifiedAt is when the modification was observed.
	ModifiedAt time.Time
}

// Watcher observes a repository tree and reports modifications that violate
// the active file-scope claims. It is a runtime safety net behind the static
// claim check: claims describe intent, the watcher catches what actually
// happened.
type Watcher struct {
	watcher *fsnotify.Watcher
	manager *Manager
	logger  *logging.Logger

	root        string
	ignorePaths []string

	mu          sync.RWMutex
	violations  []Violation
	onViolation func([]Violation)

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher over the given repository root, checking
// modifications against the manager's active claims.
func NewWatcher(root string, manager *Manager, logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	w := &Watcher{
		watcher:     fsw,
		manager:     manager,
		logger:      logger,
		root:        root,
		ignorePaths: []string{".git", ".conductor", "node_modules", ".DS_Store"},
		stopCh:      make(chan struct{}),
	}

	if err := w.watchDirRecursive(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return w, nil
}

// SetViolationCallback sets the callback invoked when violations are found.
func (w *Watcher) SetViolationCallback(cb func([]Violation)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onViolation = cb
}

// watchDirRecursive adds the root and all non-ignored subdirectories to the
// watcher. fsnotify only watches directories, not trees.
func (w *Watcher) watchDirRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}

		base := filepath.Base(path)
		for _, ignore := range w.ignorePaths {
			if base == ignore {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if info.IsDir() {
			_ = w.watcher.Add(path)
		}
		return nil
	})
}

// Start begins watching for file changes.
func (w *Watcher) Start() {
	go w.watchLoop()
}

// Stop stops the watcher and releases its resources.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
}

// watchLoop processes filesystem events. Events are debounced because many
// editors emit several events for a single save.
func (w *Watcher) watchLoop() {
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer

	pending := make(map[string]fsnotify.Event)

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			pending[event.Name] = event
			debounceTimer.Reset(50 * time.Millisecond)

		case <-debounceTimer.C:
			events := pending
			pending = make(map[string]fsnotify.Event)
			for _, event := range events {
				w.handleFileEvent(event)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// handleFileEvent checks a single modification against the active claims.
func (w *Watcher) handleFileEvent(event fsnotify.Event) {
	path := event.Name

	for _, ignore := range w.ignorePaths {
		sep := string(filepath.Separator)
		if strings.Contains(path, sep+ignore+sep) ||
			strings.HasSuffix(path, sep+ignore) ||
			filepath.Base(path) == ignore {
			return
		}
	}

	// New directories need to be added to the watch set.
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		_ = w.watchDirRecursive(path)
		return
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	claimants := w.manager.Claimants(rel)
	if w.isViolation(claimants) {
		w.recordViolation(Violation{
			RelativePath: rel,
			Claimants:    claimants,
			ModifiedAt:   time.Now(),
		})
	}
}

// isViolation reports whether the set of claimants for a modified file
// constitutes a violation. Zero claimants means an unclaimed modification.
// Multiple claimants violate unless every claim is read-only, which cannot
// happen for a write, so any multi-claimant write is flagged.
func (w *Watcher) isViolation(claimants []string) bool {
	return len(claimants) != 1
}

// recordViolation appends a violation and notifies the callback.
func (w *Watcher) recordViolation(v Violation) {
	w.mu.Lock()
	w.violations = append(w.violations, v)
	violations := make([]Violation, len(w.violations))
	copy(violations, w.violations)
	cb := w.onViolation
	w.mu.Unlock()

	w.logger.Warn("scope violation",
		"path", v.RelativePath,
		"claimants", strings.Join(v.Claimants, ","))

	if cb != nil {
		cb(violations)
	}
}

// Violations returns a copy of the recorded violations.
func (w *Watcher) Violations() []Violation {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]Violation, len(w.violations))
	copy(result, w.violations)
	return result
}

// HasViolations reports whether any violations have been recorded.
func (w *Watcher) HasViolations() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.violations) > 0
}
