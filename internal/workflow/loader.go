package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadDir scans a directory for workflow YAML files and loads each one.
// Files that fail to parse or validate are reported as errors but do not
// prevent other workflows from loading. Workflows are returned in filename
// order so repeated runs over the same directory produce the same sequence.
func LoadDir(dir string) ([]*Workflow, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("reading workflow directory: %w", err)}
	}

	var workflows []*Workflow
	var errs []error
	seen := make(map[string]string) // workflow ID -> filename

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		wf, err := Load(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		if prev, dup := seen[wf.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate workflow id %q (already defined in %s)", name, wf.ID, prev))
			continue
		}
		seen[wf.ID] = name

		workflows = append(workflows, wf)
	}

	return workflows, errs
}
