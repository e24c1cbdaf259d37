package validation

import (
	"fmt"
	"time"

	"github.com/temple-compute/horus/internal/expressions"
	"github.com/temple-compute/horus/pkg/schema"
)

// validateSemantic performs semantic analysis on the workflow definition:
// block types registered, depends_on references valid, remote targets
// configured, output references matching declared slots.
func validateSemantic(def *schema.WorkflowDefinition, blockTypes BlockLookup, remotes RemoteLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	byID := make(map[string]*schema.BlockDefinition, len(def.Blocks))
	for i := range def.Blocks {
		byID[def.Blocks[i].ID] = &def.Blocks[i]
	}

	for i := range def.Blocks {
		path := fmt.Sprintf("blocks[%d]", i)
		validateBlockSemantic(&def.Blocks[i], path, byID, blockTypes, remotes, def.Timeout, result)
	}

	return result
}

func validateBlockSemantic(block *schema.BlockDefinition, path string,
	byID map[string]*schema.BlockDefinition, blockTypes BlockLookup, remotes RemoteLookup,
	wfTimeout string, result *schema.ValidationResult) {

	if blockTypes != nil && !blockTypes.Has(block.Type) {
		result.AddError(path+".type", schema.ErrCodeValidation,
			fmt.Sprintf("block type %q not registered", block.Type))
	}

	if block.Target != "" && remotes != nil && !remotes(block.Target) {
		result.AddError(path+".target", schema.ErrCodeRemoteUnavailable,
			fmt.Sprintf("remote %q is not configured", block.Target))
	}

	for j, dep := range block.DependsOn {
		depPath := fmt.Sprintf("%s.depends_on[%d]", path, j)
		if dep == block.ID {
			result.AddError(depPath, schema.ErrCodeValidation,
				fmt.Sprintf("block %q depends on itself", block.ID))
			continue
		}
		if _, ok := byID[dep]; !ok {
			result.AddError(depPath, schema.ErrCodeDanglingReference,
				fmt.Sprintf("references non-existent block %q", dep))
		}
	}

	validateBlockRefs(block, path, byID, result)

	if block.Retry != nil && block.Retry.Max > 10 {
		result.AddWarning(path+".retry.max", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause excessive delays", block.Retry.Max))
	}

	// Block timeout exceeding the run timeout can never fire.
	if block.Timeout != "" && wfTimeout != "" {
		bDur, bErr := time.ParseDuration(block.Timeout)
		wDur, wErr := time.ParseDuration(wfTimeout)
		if bErr == nil && wErr == nil && bDur > wDur {
			result.AddWarning(path+".timeout", schema.ErrCodeValidation,
				fmt.Sprintf("block timeout (%s) exceeds workflow timeout (%s)", block.Timeout, wfTimeout))
		}
	}
}

// validateBlockRefs checks every ${{blocks.<id>.outputs.<slot>}} reference in
// params, condition and transform: the referenced block must exist, must not
// be the block itself, and when it declares output slots the referenced slot
// must be among them.
func validateBlockRefs(block *schema.BlockDefinition, path string,
	byID map[string]*schema.BlockDefinition, result *schema.ValidationResult) {

	sources := []struct {
		field string
		text  string
	}{
		{"params", string(block.Params)},
		{"condition", block.Condition},
		{"transform", block.Transform},
	}

	for _, src := range sources {
		if src.text == "" {
			continue
		}
		for _, ref := range expressions.ExtractBlockRefs(src.text) {
			refPath := fmt.Sprintf("%s.%s", path, src.field)
			if ref.BlockID == block.ID {
				result.AddError(refPath, schema.ErrCodeValidation,
					fmt.Sprintf("block %q references its own outputs", block.ID))
				continue
			}
			target, ok := byID[ref.BlockID]
			if !ok {
				result.AddError(refPath, schema.ErrCodeDanglingReference,
					fmt.Sprintf("references outputs of non-existent block %q", ref.BlockID))
				continue
			}
			if ref.Slot != "" && len(target.Outputs) > 0 && !declaresSlot(target, ref.Slot) {
				result.AddError(refPath, schema.ErrCodeDanglingReference,
					fmt.Sprintf("block %q declares no output slot %q", ref.BlockID, ref.Slot))
			}
		}
	}
}

func declaresSlot(block *schema.BlockDefinition, slot string) bool {
	for _, out := range block.Outputs {
		if out.Name == slot {
			return true
		}
	}
	return false
}
