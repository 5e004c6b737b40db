// Package depgraph builds execution schedules from work-unit dependencies.
// Units are arranged into waves: every unit in a wave depends only on units
// in earlier waves, so the units within a wave can run concurrently.
package depgraph

import (
	"fmt"
)

// Graph is a directed dependency graph of work units. Nodes are identified
// by string IDs; edges point from a unit to the units it depends on.
// The zero value is not usable; use New.
type Graph struct {
	// order preserves insertion sequence; scheduling iterates it so wave
	// output is deterministic.
	order []string

	// index maps a unit ID to its insertion position.
	index map[string]int

	// deps points from each unit to the units it depends on.
	deps map[string][]string
}

// Schedule is the result of wave computation.
type Schedule struct {
	// Waves holds unit IDs grouped by execution level. Units within a wave
	// have no dependencies on each other.
	Waves [][]string
	// CycleDetected is true when the graph contains a dependency cycle.
	// The cyclic units are still scheduled, grouped into the final wave,
	// so no work is silently dropped.
	CycleDetected bool
	// CycleNodes lists the units involved in (or downstream of) a cycle,
	// in insertion order. Empty when CycleDetected is false.
	CycleNodes []string
}

// New creates an empty dependency graph.
func New() *Graph {
	return &Graph{
		index: make(map[string]int),
		deps:  make(map[string][]string),
	}
}

// NodeID builds the canonical unit ID for a workflow phase.
func NodeID(workflowID, phaseID string) string {
	return workflowID + "_" + phaseID
}

// AddNode registers a unit and its dependencies. Dependencies referencing
// unknown units are tolerated: they are kept and resolved at scheduling
// time, where any still-unknown reference is ignored. Adding a duplicate
// ID is an error.
func (g *Graph) AddNode(id string, dependsOn ...string) error {
	if id == "" {
		return fmt.Errorf("node id cannot be empty")
	}
	if _, exists := g.index[id]; exists {
		return fmt.Errorf("duplicate node id %q", id)
	}

	g.index[id] = len(g.order)
	g.order = append(g.order, id)
	g.deps[id] = append([]string(nil), dependsOn...)
	return nil
}

// Len returns the number of units in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}

// Nodes returns the unit IDs in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// Waves computes the execution schedule. The algorithm is a BFS topological
// sort collecting units level by level; units within a level are ordered by
// insertion order so repeated runs over the same graph produce identical
// schedules. If a cycle prevents some units from being scheduled, those
// units are grouped into one final wave and the cycle is reported rather
// than failing the whole schedule.
func (g *Graph) Waves() Schedule {
	if len(g.order) == 0 {
		return Schedule{}
	}

	inDegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		inDegree[id] = 0
	}
	for _, id := range g.order {
		for _, depID := range g.deps[id] {
			if _, known := g.index[depID]; !known {
				continue // unknown reference, ignored
			}
			inDegree[id]++
			dependents[depID] = append(dependents[depID], id)
		}
	}

	var waves [][]string
	scheduled := make(map[string]bool, len(g.order))

	var queue []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		g.sortByInsertion(queue)
		wave := append([]string(nil), queue...)
		waves = append(waves, wave)
		for _, id := range wave {
			scheduled[id] = true
		}

		var next []string
		for _, id := range queue {
			for _, depID := range dependents[id] {
				inDegree[depID]--
				if inDegree[depID] == 0 {
					next = append(next, depID)
				}
			}
		}
		queue = next
	}

	if len(scheduled) == len(g.order) {
		return Schedule{Waves: waves}
	}

	// Cycle: the unscheduled remainder runs as one final wave.
	var remaining []string
	for _, id := range g.order {
		if !scheduled[id] {
			remaining = append(remaining, id)
		}
	}
	waves = append(waves, remaining)

	return Schedule{
		Waves:         waves,
		CycleDetected: true,
		CycleNodes:    remaining,
	}
}

// sortByInsertion sorts unit IDs by insertion order, using insertion sort
// since the slices are typically small.
func (g *Graph) sortByInsertion(ids []string) {
	for i := 1; i < len(ids); i++ {
		key := ids[i]
		j := i - 1
		for j >= 0 && g.index[ids[j]] > g.index[key] {
			ids[j+1] = ids[j]
			j--
		}
		ids[j+1] = key
	}
}
