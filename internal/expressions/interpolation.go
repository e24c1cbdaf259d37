package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/temple-compute/horus/internal/secrets"
	"github.com/temple-compute/horus/pkg/schema"
)

const (
	tokenOpen  = "${{"
	tokenClose = "}}"
)

// InterpolationScope holds all data available for variable resolution.
type InterpolationScope struct {
	Blocks map[string]map[string]any // block ID → output slot → value
	Inputs map[string]any            // workflow input params
	Run    map[string]any            // run metadata (run_id, workflow, etc.)
}

// Interpolator resolves ${{...}} references in block params.
// Two-pass: first resolves non-secret variables, second resolves secrets,
// so secret values never feed back into further interpolation.
type Interpolator struct {
	vault secrets.Vault
}

// NewInterpolator creates a new Interpolator with an optional Vault for secret resolution.
func NewInterpolator(vault secrets.Vault) *Interpolator {
	return &Interpolator{vault: vault}
}

// Resolve performs two-pass interpolation on raw JSON params.
// Pass 1: resolves blocks.*, inputs.*, run.* references.
// Pass 2: resolves secrets.* references via the Vault.
// Returns the interpolated JSON bytes.
func (interp *Interpolator) Resolve(ctx context.Context, raw json.RawMessage, scope *InterpolationScope) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	resolved, err := interp.resolveBoth(ctx, string(raw), scope)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resolved), nil
}

// ResolveString interpolates a plain string (conditions, transforms).
func (interp *Interpolator) ResolveString(ctx context.Context, s string, scope *InterpolationScope) (string, error) {
	if !strings.Contains(s, tokenOpen) {
		return s, nil
	}
	return interp.resolveBoth(ctx, s, scope)
}

func (interp *Interpolator) resolveBoth(ctx context.Context, s string, scope *InterpolationScope) (string, error) {
	resolved, err := interp.resolvePass(ctx, s, scope, false)
	if err != nil {
		return "", err
	}
	return interp.resolvePass(ctx, resolved, scope, true)
}

// resolvePass rewrites every ${{...}} token whose kind matches the pass:
// the non-secret pass handles blocks/inputs/run and leaves secrets.* alone,
// the secret pass does the reverse.
func (interp *Interpolator) resolvePass(ctx context.Context, input string, scope *InterpolationScope, secretPass bool) (string, error) {
	var out strings.Builder
	out.Grow(len(input))

	rest := input
	for {
		before, after, found := strings.Cut(rest, tokenOpen)
		out.WriteString(before)
		if !found {
			return out.String(), nil
		}

		body, tail, closed := strings.Cut(after, tokenClose)
		if !closed {
			return "", schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
		}

		expr := strings.TrimSpace(body)
		switch {
		case strings.Contains(expr, tokenOpen):
			return "", schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		case expr == "":
			return "", schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
		}

		if secretPass != strings.HasPrefix(expr, "secrets.") {
			// Wrong pass for this token, write it back unchanged.
			out.WriteString(tokenOpen + body + tokenClose)
		} else {
			val, err := interp.resolveExpr(ctx, expr, scope)
			if err != nil {
				return "", err
			}
			out.WriteString(marshalInline(val))
		}
		rest = tail
	}
}

// resolveExpr resolves a single expression path like "blocks.solve.outputs.energy".
func (interp *Interpolator) resolveExpr(ctx context.Context, expr string, scope *InterpolationScope) (any, error) {
	namespace, _, _ := strings.Cut(expr, ".")

	switch namespace {
	case "blocks":
		return interp.resolveBlocks(expr, scope)
	case "inputs":
		return interp.resolveNamespace(scope.Inputs, expr, "inputs")
	case "run":
		return interp.resolveNamespace(scope.Run, expr, "run")
	case "secrets":
		return interp.resolveSecret(ctx, expr)
	default:
		available := []string{"blocks", "inputs", "run", "secrets"}
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": available})
	}
}

// resolveBlocks resolves blocks.<id>.outputs.<slot>[.<field>...] references.
func (interp *Interpolator) resolveBlocks(expr string, scope *InterpolationScope) (any, error) {
	parts := strings.SplitN(expr, ".", 5) // [blocks, id, outputs, slot, rest...]
	if len(parts) < 4 || parts[2] != "outputs" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid block reference %q: expected blocks.<id>.outputs.<slot>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	blockID, slot := parts[1], parts[3]

	outputs, ok := scope.Blocks[blockID]
	if !ok {
		available := blockKeys(scope.Blocks)
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"block %q not found in ${{%s}}; available blocks: [%s]", blockID, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_blocks": available})
	}

	val, ok := outputs[slot]
	if !ok {
		available := mapKeys(outputs)
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"output %q not found in ${{%s}}; available: [%s]", slot, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_outputs": available})
	}

	if len(parts) == 4 {
		return val, nil
	}
	return traversePath(val, parts[4], expr)
}

// resolveNamespace resolves <namespace>.<field>[.<subfield>...] references.
func (interp *Interpolator) resolveNamespace(data map[string]any, expr, namespace string) (any, error) {
	_, fieldPath, ok := strings.Cut(expr, ".")
	if !ok || fieldPath == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid reference %q: expected %s.<name>", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	if data == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot resolve %q: %s scope is empty", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	// Direct key lookup first, so input names containing dots still work.
	if val, ok := data[fieldPath]; ok {
		return val, nil
	}
	return traversePath(data, fieldPath, expr)
}

// resolveSecret resolves secrets.<key> via the Vault.
func (interp *Interpolator) resolveSecret(ctx context.Context, expr string) (any, error) {
	_, key, ok := strings.Cut(expr, ".")
	if !ok || key == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid secret reference %q: expected secrets.<KEY>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	if interp.vault == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot resolve secret %q: no vault configured", key).
			WithDetails(map[string]any{"expression": expr})
	}

	val, err := interp.vault.Resolve(ctx, key)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"failed to resolve secret %q: %s", key, err.Error()).
			WithDetails(map[string]any{"expression": expr}).WithCause(err)
	}
	return string(val), nil
}

// traversePath walks a dot-delimited path into nested objects.
func traversePath(root any, path, expr string) (any, error) {
	current := root
	for i, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"empty segment in path %q at position %d", expr, i).
				WithDetails(map[string]any{"expression": expr})
		}

		obj, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}

		val, ok := obj[seg]
		if !ok {
			available := mapKeys(obj)
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"field %q not found in %q; available: [%s]", seg, expr, strings.Join(available, ", ")).
				WithDetails(map[string]any{"expression": expr, "available_fields": available})
		}
		current = val
	}
	return current, nil
}

// marshalInline renders a resolved value for embedding into the surrounding
// string. Strings are written bare so placeholders compose inside larger
// values; everything else gets its JSON form.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool, float64, int, int64:
		return fmt.Sprintf("%v", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func blockKeys(m map[string]map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasInterpolation checks if a JSON blob contains any ${{...}} references.
func HasInterpolation(raw json.RawMessage) bool {
	return strings.Contains(string(raw), tokenOpen)
}

// BlockRef is one ${{blocks.<id>.outputs.<slot>}} reference found in a
// definition. Used to derive graph edges and check declared output slots.
type BlockRef struct {
	BlockID string
	Slot    string
}

// ExtractBlockRefs finds all block output references in a string.
func ExtractBlockRefs(s string) []BlockRef {
	refs := make([]BlockRef, 0)
	for {
		_, after, found := strings.Cut(s, tokenOpen)
		if !found {
			return refs
		}
		body, tail, closed := strings.Cut(after, tokenClose)
		if !closed {
			return refs
		}
		expr := strings.TrimSpace(body)
		if strings.HasPrefix(expr, "blocks.") {
			parts := strings.SplitN(expr, ".", 5)
			if len(parts) >= 4 && parts[2] == "outputs" {
				refs = append(refs, BlockRef{BlockID: parts[1], Slot: parts[3]})
			}
		}
		s = tail
	}
}
