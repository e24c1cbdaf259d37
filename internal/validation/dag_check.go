package validation

import (
	"fmt"
	"sort"

	"github.com/temple-compute/horus/internal/expressions"
	"github.com/temple-compute/horus/pkg/schema"
)

// validateDAG performs graph analysis on the blocks: cycle detection (Kahn's
// algorithm) over both depends_on and output-reference edges.
func validateDAG(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	blockIDs := make(map[string]bool, len(def.Blocks))
	for _, b := range def.Blocks {
		blockIDs[b.ID] = true
	}

	// edges[id] = dependencies of block id, reverse[id] = dependents of block id.
	edges := make(map[string][]string, len(def.Blocks))
	reverse := make(map[string][]string, len(def.Blocks))

	for i := range def.Blocks {
		b := &def.Blocks[i]
		seen := make(map[string]bool, len(b.DependsOn))
		addEdge := func(dep string) {
			if !blockIDs[dep] || dep == b.ID || seen[dep] {
				return // invalid refs already caught by semantic
			}
			seen[dep] = true
			edges[b.ID] = append(edges[b.ID], dep)
			reverse[dep] = append(reverse[dep], b.ID)
		}
		for _, dep := range b.DependsOn {
			addEdge(dep)
		}
		// Output references are implicit dependencies.
		for _, ref := range blockRefsOf(b) {
			addEdge(ref.BlockID)
		}
	}

	// Kahn's algorithm for cycle detection.
	inDegree := make(map[string]int, len(def.Blocks))
	for id := range blockIDs {
		inDegree[id] = len(edges[id])
	}

	queue := make([]string, 0, len(def.Blocks))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	// Sort roots for deterministic output.
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range reverse[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(blockIDs) {
		cyclic := make([]string, 0)
		for id, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		result.AddError("blocks", schema.ErrCodeCycleDetected,
			fmt.Sprintf("workflow contains a dependency cycle involving %v", cyclic))
	}

	return result
}

// blockRefsOf collects all ${{blocks.*}} references in a block definition.
func blockRefsOf(b *schema.BlockDefinition) []expressions.BlockRef {
	refs := expressions.ExtractBlockRefs(string(b.Params))
	refs = append(refs, expressions.ExtractBlockRefs(b.Condition)...)
	refs = append(refs, expressions.ExtractBlockRefs(b.Transform)...)
	return refs
}
