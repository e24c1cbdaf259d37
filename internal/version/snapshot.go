package version

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/temple-compute/horus/pkg/schema"
)

// HashPrefix identifies the digest algorithm in snapshot hashes.
const HashPrefix = "sha256:"

// Snapshot captures a workflow definition together with the per-block run
// state and returns the content hash plus the canonical JSON document
// {"definition": ..., "state": {block id: status}}. Hashing is idempotent:
// unchanged definition and state always yield the same hash regardless of
// map iteration order or incidental formatting in the source document. A
// nil state captures a definition-only snapshot with an empty state object.
func Snapshot(def *schema.WorkflowDefinition, state map[string]schema.BlockStatus) (hash string, document json.RawMessage, err error) {
	if def == nil {
		return "", nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	raw, err := json.Marshal(def)
	if err != nil {
		return "", nil, schema.NewErrorf(schema.ErrCodeValidation, "marshal definition: %s", err.Error())
	}
	var defVal any
	if err := json.Unmarshal(raw, &defVal); err != nil {
		return "", nil, schema.NewErrorf(schema.ErrCodeValidation, "canonicalize definition: %s", err.Error())
	}

	stateVal := make(map[string]any, len(state))
	for id, st := range state {
		stateVal[id] = string(st)
	}

	canonical, err := marshalCanonical(map[string]any{
		"definition": defVal,
		"state":      stateVal,
	})
	if err != nil {
		return "", nil, schema.NewErrorf(schema.ErrCodeValidation, "canonicalize: %s", err.Error())
	}

	sum := sha256.Sum256(canonical)
	return HashPrefix + hex.EncodeToString(sum[:]), canonical, nil
}

// Canonicalize rewrites a JSON document into canonical form: object keys
// sorted lexicographically at every depth, no insignificant whitespace.
// Array order is preserved (it is semantically meaningful for blocks).
func Canonicalize(raw json.RawMessage) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "canonicalize: %s", err.Error())
	}
	out, err := marshalCanonical(v)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "canonicalize: %s", err.Error())
	}
	return out, nil
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := marshalCanonical(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf = append(buf, vb...)
		}
		return append(buf, '}'), nil
	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalCanonical(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		return append(buf, ']'), nil
	default:
		return json.Marshal(v)
	}
}

// Change describes one structural difference between two snapshots.
type Change struct {
	Path string `json:"path"`           // dotted path, e.g. "blocks[2].params.command"
	Kind string `json:"kind"`           // added | removed | changed
	Old  any    `json:"old,omitempty"`
	New  any    `json:"new,omitempty"`
}

// Diff compares two snapshot documents structurally and returns the changes
// in deterministic path order. Block status deltas surface under state.*
// paths. Equal documents yield an empty slice.
func Diff(a, b json.RawMessage) ([]Change, error) {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "diff: parse left document: %s", err.Error())
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "diff: parse right document: %s", err.Error())
	}
	var changes []Change
	diffValue("", av, bv, &changes)
	return changes, nil
}

func diffValue(path string, a, b any, out *[]Change) {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		keys := make(map[string]struct{}, len(am)+len(bm))
		for k := range am {
			keys[k] = struct{}{}
		}
		for k := range bm {
			keys[k] = struct{}{}
		}
		sorted := make([]string, 0, len(keys))
		for k := range keys {
			sorted = append(sorted, k)
		}
		sort.Strings(sorted)
		for _, k := range sorted {
			child := k
			if path != "" {
				child = path + "." + k
			}
			av, aok := am[k]
			bv, bok := bm[k]
			switch {
			case !aok:
				*out = append(*out, Change{Path: child, Kind: "added", New: bv})
			case !bok:
				*out = append(*out, Change{Path: child, Kind: "removed", Old: av})
			default:
				diffValue(child, av, bv, out)
			}
		}
		return
	}

	as, aIsSlice := a.([]any)
	bs, bIsSlice := b.([]any)
	if aIsSlice && bIsSlice {
		n := len(as)
		if len(bs) > n {
			n = len(bs)
		}
		for i := 0; i < n; i++ {
			child := fmt.Sprintf("%s[%d]", path, i)
			switch {
			case i >= len(as):
				*out = append(*out, Change{Path: child, Kind: "added", New: bs[i]})
			case i >= len(bs):
				*out = append(*out, Change{Path: child, Kind: "removed", Old: as[i]})
			default:
				diffValue(child, as[i], bs[i], out)
			}
		}
		return
	}

	if !jsonEqual(a, b) {
		*out = append(*out, Change{Path: path, Kind: "changed", Old: a, New: b})
	}
}

func jsonEqual(a, b any) bool {
	ab, errA := marshalCanonical(a)
	bb, errB := marshalCanonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}
