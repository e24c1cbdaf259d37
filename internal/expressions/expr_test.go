package expressions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temple-compute/horus/pkg/schema"
)

// runScope is a representative evaluation scope for condition tests.
func runScope() map[string]any {
	return map[string]any{
		"blocks": map[string]any{
			"prepare": map[string]any{
				"outputs": map[string]any{"exit_code": 0, "stdout": "ok"},
			},
			"solve": map[string]any{
				"outputs": map[string]any{"converged": true, "energy": -12.4},
			},
		},
		"inputs": map[string]any{"threshold": 0.8, "dry_run": false},
		"run":    map[string]any{"run_id": "run-7f3a", "workflow": "relax-structure"},
	}
}

func TestExprEngine_Name(t *testing.T) {
	assert.Equal(t, "expr", NewExprEngine().Name())
}

func TestExpr_Evaluate(t *testing.T) {
	e := NewExprEngine()

	tests := []struct {
		name string
		expr string
		data map[string]any
		want any
	}{
		{"int literal", `42`, nil, 42},
		{"string literal", `"hello"`, nil, "hello"},
		{"arithmetic", `attempts * 2 + 1`, map[string]any{"attempts": 3}, 7},
		{"modulo", `seq % 4`, map[string]any{"seq": 10}, 2},
		{"string concat", `host + ":" + port`, map[string]any{"host": "hpc", "port": "22"}, "hpc:22"},
		{"ternary true", `code == 0 ? "ok" : "failed"`, map[string]any{"code": 0}, "ok"},
		{"ternary false", `code == 0 ? "ok" : "failed"`, map[string]any{"code": 2}, "failed"},
		{"logical and", `retries < 3 && !done`, map[string]any{"retries": 1, "done": false}, true},
		{"logical or", `retries >= 3 || done`, map[string]any{"retries": 1, "done": true}, true},
		{"in operator", `status in ["succeeded", "skipped"]`, map[string]any{"status": "skipped"}, true},
		{"not in operator", `status not in ["succeeded", "skipped"]`, map[string]any{"status": "failed"}, true},
		{"nil coalescing hit", `label ?? "unnamed"`, map[string]any{"label": "solve"}, "solve"},
		{"nil coalescing miss", `label ?? "unnamed"`, map[string]any{"label": nil}, "unnamed"},
		{"chained coalescing", `a ?? b ?? "fallback"`, map[string]any{"a": nil, "b": nil}, "fallback"},
		{"coalescing on missing key", `cfg.timeout ?? 30`, map[string]any{"cfg": map[string]any{}}, 30},
		{"optional chaining nil", `target?.host`, map[string]any{"target": nil}, nil},
		{"optional chaining present", `target?.host`, map[string]any{"target": map[string]any{"host": "gpu-box"}}, "gpu-box"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expr, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestExpr_ScopeAccess(t *testing.T) {
	e := NewExprEngine()
	data := runScope()

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"block output", `blocks.prepare.outputs.exit_code == 0`, true},
		{"nested block value", `blocks.solve.outputs.energy`, -12.4},
		{"input", `inputs.threshold`, 0.8},
		{"run metadata", `run.workflow`, "relax-structure"},
		{"cross-scope guard", `blocks.solve.outputs.converged && !inputs.dry_run`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestExpr_LetBindings(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"cpu_hours": 12.5, "rate": 0.04, "surcharge": 1.2}

	out, err := e.Evaluate(context.Background(),
		`let base = cpu_hours * rate; let total = base * surcharge; total`, data)
	require.NoError(t, err)
	assert.Equal(t, 0.6, out)

	out, err = e.Evaluate(context.Background(),
		`let base = cpu_hours * rate; base > 0.4 ? "billed" : "free"`, data)
	require.NoError(t, err)
	assert.Equal(t, "billed", out)
}

func TestExpr_ArrayHelpers(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"attempts": []any{
			map[string]any{"block": "fetch", "ok": true, "ms": 120},
			map[string]any{"block": "solve", "ok": false, "ms": 900},
			map[string]any{"block": "report", "ok": true, "ms": 45},
		},
		"durations": []any{120, 900, 45},
	}

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"filter", `len(filter(attempts, {.ok}))`, 2},
		{"map", `map(attempts, {.block})`, []any{"fetch", "solve", "report"}},
		{"count", `count(durations, {# > 100})`, 2},
		{"any", `any(attempts, {!.ok})`, true},
		{"all", `all(attempts, {.ms < 1000})`, true},
		{"sum", `sum(attempts, {.ms})`, 1065},
		{"min", `min(durations)`, 45},
		{"max", `max(durations)`, 900},
		{"reduce", `reduce(durations, #acc + #, 0)`, 1065},
		{"sortBy then map", `map(sortBy(attempts, {.ms}), {.block})`, []any{"report", "fetch", "solve"}},
		{"groupBy", `len(groupBy(attempts, {.ok}))`, 2},
		{"pipe chain", `attempts | filter({.ok}) | map({.block})`, []any{"fetch", "report"}},
		{"pipe with len", `attempts | filter({.ms > 100}) | len()`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestExpr_StringHelpers(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"stdout": "Converged in 14 steps", "artifact": "relaxed.cif"}

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"contains", `stdout contains "Converged"`, true},
		{"not contains", `stdout not contains "diverged"`, true},
		{"startsWith", `stdout startsWith "Conv"`, true},
		{"endsWith", `artifact endsWith ".cif"`, true},
		{"len", `len(artifact)`, 11},
		{"upper", `upper(artifact)`, "RELAXED.CIF"},
		{"lower", `lower("OK")`, "ok"},
		{"trim", `trim("  x  ")`, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}

	t.Run("split", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `split("a,b,c", ",")`, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, out)
	})
}

func TestExpr_Errors(t *testing.T) {
	e := NewExprEngine()

	t.Run("empty expression", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), "", nil)
		var engErr *schema.EngineError
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
	})

	t.Run("compile error", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), `][nonsense`, nil)
		var engErr *schema.EngineError
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
		assert.Equal(t, `][nonsense`, engErr.Details["expression"])
	})

	t.Run("runtime error", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), `items[100]`,
			map[string]any{"items": []any{1, 2, 3}})
		var engErr *schema.EngineError
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, schema.ErrCodeExecution, engErr.Code)
		assert.Error(t, errors.Unwrap(err))
	})
}

func TestExpr_UndefinedVariablesAreNil(t *testing.T) {
	e := NewExprEngine()

	// The OS environment is never visible; unknown names resolve to nil.
	out, err := e.Evaluate(context.Background(), `HOME`, map[string]any{"safe": 1})
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = e.Evaluate(context.Background(), `PATH ?? "none"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "none", out)
}

func TestExpr_ProgramCache(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), `x + 1`, map[string]any{"x": 1})
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), `x + 1`, map[string]any{"x": 5})
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), `x * 2`, map[string]any{"x": 5})
	require.NoError(t, err)

	var cached int
	e.programs.Range(func(_, _ any) bool {
		cached++
		return true
	})
	assert.Equal(t, 2, cached)
}

func TestExpr_ConcurrentEvaluate(t *testing.T) {
	e := NewExprEngine()

	exprs := []string{
		`run.workflow == "relax-structure"`,
		`inputs.threshold < 1.0`,
		`blocks.prepare.outputs.exit_code == 0`,
	}
	data := runScope()

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), exprs[i%len(exprs)], data)
			assert.NoError(t, err)
			assert.Equal(t, true, out)
		}(i)
	}
	wg.Wait()
}

func TestExpr_NilData(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `40 + 2`, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestExpr_ConditionForGatedBlock(t *testing.T) {
	e := NewExprEngine()
	data := runScope()

	// The kind of guard a workflow puts on a publish block.
	cond := `blocks.solve.outputs.converged && blocks.prepare.outputs.exit_code == 0 && !inputs.dry_run`
	out, err := e.Evaluate(context.Background(), cond, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_AggregateOverBlockResults(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"samples": []any{
			map[string]any{"name": "s1", "energy": -10.2, "converged": true},
			map[string]any{"name": "s2", "energy": -9.8, "converged": true},
			map[string]any{"name": "s3", "energy": -3.1, "converged": false},
		},
	}

	out, err := e.Evaluate(context.Background(),
		`samples | filter({.converged}) | map({.name})`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"s1", "s2"}, out)

	out, err = e.Evaluate(context.Background(),
		`let done = filter(samples, {.converged}); len(done) == 2 ? min(map(done, {.energy})) : nil`, data)
	require.NoError(t, err)
	assert.Equal(t, -10.2, out)
}
