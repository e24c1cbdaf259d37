package graph

import (
	"fmt"

	"github.com/temple-compute/horus/internal/expressions"
	"github.com/temple-compute/horus/pkg/schema"
)

// Graph is the in-memory dependency graph of a workflow. Built from a
// WorkflowDefinition, used by the scheduler to determine execution order.
// Edges are the union of depends_on and ${{blocks.*}} references found in
// params, condition and transform.
type Graph struct {
	Blocks  map[string]*schema.BlockDefinition // block ID → definition
	Edges   map[string][]string                // block ID → dependencies
	Reverse map[string][]string                // block ID → dependents
	Sorted  []string                           // topological order, declaration-order tie-break
	Roots   []string                           // blocks with no dependencies

	order    map[string]int             // block ID → declaration index
	refEdges map[string]map[string]bool // dependent → dep → references outputs
}

// Build parses a WorkflowDefinition into an executable Graph. It registers
// blocks, derives edges, rejects dangling references and cycles, and
// topologically sorts with Kahn's algorithm. Ties are broken by declaration
// order so scheduling is deterministic.
func Build(def *schema.WorkflowDefinition) (*Graph, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	if len(def.Blocks) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no blocks")
	}

	g := &Graph{
		Blocks:   make(map[string]*schema.BlockDefinition, len(def.Blocks)),
		Edges:    make(map[string][]string, len(def.Blocks)),
		Reverse:  make(map[string][]string, len(def.Blocks)),
		order:    make(map[string]int, len(def.Blocks)),
		refEdges: make(map[string]map[string]bool, len(def.Blocks)),
	}

	// First pass: register all blocks and check for duplicates.
	for i := range def.Blocks {
		block := &def.Blocks[i]

		if block.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("block at index %d has empty ID", i))
		}

		if _, exists := g.Blocks[block.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate block ID: %s", block.ID)
		}

		if block.Type == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "block %s has no type", block.ID)
		}

		g.Blocks[block.ID] = block
		g.order[block.ID] = i
	}

	// Second pass: build adjacency lists from depends_on and references.
	for id, block := range g.Blocks {
		seen := make(map[string]bool, len(block.DependsOn))
		deps := make([]string, 0, len(block.DependsOn))

		for _, dep := range block.DependsOn {
			if _, exists := g.Blocks[dep]; !exists {
				return nil, schema.NewErrorf(schema.ErrCodeDanglingReference, "block %s depends on non-existent block: %s", id, dep)
			}
			if dep == id {
				return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "block %s depends on itself", id)
			}
			if seen[dep] {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "block %s has duplicate dependency: %s", id, dep)
			}
			seen[dep] = true
			deps = append(deps, dep)
		}

		for _, ref := range blockRefs(block) {
			target, exists := g.Blocks[ref.BlockID]
			if !exists {
				return nil, schema.NewErrorf(schema.ErrCodeDanglingReference, "block %s references non-existent block: %s", id, ref.BlockID)
			}
			if ref.BlockID == id {
				return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "block %s references its own outputs", id)
			}
			if !declaresOutput(target, ref.Slot) {
				return nil, schema.NewErrorf(schema.ErrCodeDanglingReference,
					"block %s references undeclared output %s.outputs.%s", id, ref.BlockID, ref.Slot)
			}
			if g.refEdges[id] == nil {
				g.refEdges[id] = make(map[string]bool)
			}
			g.refEdges[id][ref.BlockID] = true
			if !seen[ref.BlockID] {
				seen[ref.BlockID] = true
				deps = append(deps, ref.BlockID)
			}
		}

		sortByDeclaration(deps, g.order)
		g.Edges[id] = deps
		for _, dep := range deps {
			g.Reverse[dep] = append(g.Reverse[dep], id)
		}
	}

	for dep := range g.Reverse {
		sortByDeclaration(g.Reverse[dep], g.order)
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(g.Blocks))
	for id := range g.Blocks {
		inDegree[id] = len(g.Edges[id])
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sortByDeclaration(queue, g.order)
	g.Roots = make([]string, len(queue))
	copy(g.Roots, queue)

	sorted := make([]string, 0, len(g.Blocks))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, dep := range g.Reverse[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
				sortByDeclaration(queue, g.order)
			}
		}
	}

	if len(sorted) != len(g.Blocks) {
		remaining := make([]string, 0)
		for id, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		sortByDeclaration(remaining, g.order)
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow contains a cycle").
			WithDetails(map[string]any{"blocks": remaining})
	}

	g.Sorted = sorted
	return g, nil
}

// ReadyBlocks returns pending blocks whose dependencies are all satisfied,
// in declaration order. A dependency is satisfied when it succeeded, or
// when it was skipped and the dependent does not consume its outputs.
func (g *Graph) ReadyBlocks(states map[string]schema.BlockStatus) []string {
	ready := make([]string, 0)
	for _, id := range g.Sorted {
		if states[id] != schema.BlockStatusPending {
			continue
		}
		satisfied := true
		for _, dep := range g.Edges[id] {
			switch states[dep] {
			case schema.BlockStatusSucceeded:
			case schema.BlockStatusSkipped:
				if g.refEdges[id][dep] {
					satisfied = false
				}
			default:
				satisfied = false
			}
			if !satisfied {
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// DownstreamOf returns the transitive dependents of a block in declaration
// order. The block itself is not included.
func (g *Graph) DownstreamOf(id string) []string {
	visited := make(map[string]bool)
	queue := append([]string(nil), g.Reverse[id]...)
	result := make([]string, 0)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if visited[node] {
			continue
		}
		visited[node] = true
		result = append(result, node)
		queue = append(queue, g.Reverse[node]...)
	}
	sortByDeclaration(result, g.order)
	return result
}

// ConsumesOutputsOf reports whether block id references outputs of dep.
func (g *Graph) ConsumesOutputsOf(id, dep string) bool {
	return g.refEdges[id][dep]
}

// DeclarationIndex returns the position of a block in the document.
func (g *Graph) DeclarationIndex(id string) int {
	return g.order[id]
}

// blockRefs collects all ${{blocks.*}} references in a block definition.
func blockRefs(block *schema.BlockDefinition) []expressions.BlockRef {
	refs := expressions.ExtractBlockRefs(string(block.Params))
	refs = append(refs, expressions.ExtractBlockRefs(block.Condition)...)
	refs = append(refs, expressions.ExtractBlockRefs(block.Transform)...)
	return refs
}

func declaresOutput(block *schema.BlockDefinition, slot string) bool {
	for _, out := range block.Outputs {
		if out.Name == slot {
			return true
		}
	}
	return false
}

// sortByDeclaration sorts block IDs in-place by declaration index using
// insertion sort. Slices here are small.
func sortByDeclaration(s []string, order map[string]int) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && order[s[j]] > order[key] {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
