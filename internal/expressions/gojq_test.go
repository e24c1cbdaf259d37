package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temple-compute/horus/pkg/schema"
)

// solveOutputs mimics a solver block's output map as the engine would hand
// it to a transform, numbers already in JSON (float64) form.
func solveOutputs() map[string]any {
	return map[string]any{
		"exit_code": 0.0,
		"samples": []any{
			map[string]any{"name": "s1", "energy": -10.2, "converged": true},
			map[string]any{"name": "s2", "energy": -9.8, "converged": true},
			map[string]any{"name": "s3", "energy": -3.1, "converged": false},
		},
		"stdout": "Converged in 14 steps",
	}
}

func TestGoJQEngine_Name(t *testing.T) {
	assert.Equal(t, "jq", NewGoJQEngine().Name())
}

func TestGoJQ_Evaluate(t *testing.T) {
	e := NewGoJQEngine()

	tests := []struct {
		name string
		expr string
		data map[string]any
		want any
	}{
		{"field", `.stdout`, solveOutputs(), "Converged in 14 steps"},
		{"nested field", `.cfg.retries`, map[string]any{"cfg": map[string]any{"retries": 3.0}}, 3.0},
		{"missing field is null", `.nope`, solveOutputs(), nil},
		{"select", `[.samples[] | select(.converged) | .name]`, solveOutputs(), []any{"s1", "s2"}},
		{"length", `.samples | length`, solveOutputs(), 3},
		{"add", `.durations | add`, map[string]any{"durations": []any{1.5, 2.0, 4.0}}, 7.5},
		{"min", `[.samples[].energy] | min`, solveOutputs(), -10.2},
		{"max", `[.samples[].energy] | max`, solveOutputs(), -3.1},
		{"unique", `.tags | unique`, map[string]any{"tags": []any{"vasp", "qe", "vasp"}}, []any{"qe", "vasp"}},
		{"object construction", `{best: (.samples | sort_by(.energy) | .[0].name), total: (.samples | length)}`,
			solveOutputs(), map[string]any{"best": "s1", "total": 3}},
		{"if/else", `if .exit_code == 0 then "ok" else "failed" end`, solveOutputs(), "ok"},
		{"string split", `.stdout | split(" ") | length`, solveOutputs(), 4},
		{"regex test", `.stdout | test("Converged")`, solveOutputs(), true},
		{"tostring", `.exit_code | tostring`, solveOutputs(), "0"},
		{"tonumber", `.s | tonumber`, map[string]any{"s": "123"}, 123},
		{"group_by", `[.samples | group_by(.converged)[] | length]`, solveOutputs(), []any{1, 2}},
		{"pairs to object", `[.pairs[] | {(.k): .v}] | add`,
			map[string]any{"pairs": []any{
				map[string]any{"k": "a", "v": 1.0},
				map[string]any{"k": "b", "v": 2.0},
			}},
			map[string]any{"a": 1.0, "b": 2.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expr, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestGoJQ_MultipleOutputsBecomeSlice(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.samples[].name`, solveOutputs())
	require.NoError(t, err)
	assert.Equal(t, []any{"s1", "s2", "s3"}, out)
}

func TestGoJQ_SingleOutputUnwrapped(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.exit_code`, solveOutputs())
	require.NoError(t, err)
	assert.Equal(t, 0.0, out)
}

func TestGoJQ_EvaluateAll(t *testing.T) {
	e := NewGoJQEngine()

	t.Run("several outputs", func(t *testing.T) {
		results, err := e.EvaluateAll(context.Background(), `.samples[].name`, solveOutputs())
		require.NoError(t, err)
		assert.Equal(t, []any{"s1", "s2", "s3"}, results)
	})

	t.Run("no outputs", func(t *testing.T) {
		results, err := e.EvaluateAll(context.Background(), `.samples[] | select(.energy > 0)`, solveOutputs())
		require.NoError(t, err)
		assert.Nil(t, results)
	})
}

func TestGoJQ_TransformBlockOutput(t *testing.T) {
	e := NewGoJQEngine()

	// The shape a transform step typically produces for downstream blocks.
	expr := `{converged: [.samples[] | select(.converged) | .name], lowest: ([.samples[].energy] | min)}`
	out, err := e.Evaluate(context.Background(), expr, solveOutputs())
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"s1", "s2"}, m["converged"])
	assert.Equal(t, -10.2, m["lowest"])
}

func TestGoJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()

	t.Run("empty expression", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), "", nil)
		var engErr *schema.EngineError
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
	})

	t.Run("parse error", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), `.[broken`, nil)
		var engErr *schema.EngineError
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
		assert.Equal(t, `.[broken`, engErr.Details["expression"])
	})

	t.Run("runtime error", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), `.stdout[]`, solveOutputs())
		var engErr *schema.EngineError
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, schema.ErrCodeExecution, engErr.Code)
	})
}

func TestGoJQ_EnvironmentIsSealed(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `$ENV`, map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = e.Evaluate(context.Background(), `env.HOME`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_QueryCache(t *testing.T) {
	e := NewGoJQEngine()

	for range 3 {
		_, err := e.Evaluate(context.Background(), `.x`, map[string]any{"x": 1.0})
		require.NoError(t, err)
	}
	_, err := e.Evaluate(context.Background(), `.x + 1`, map[string]any{"x": 1.0})
	require.NoError(t, err)

	var cached int
	e.queries.Range(func(_, _ any) bool {
		cached++
		return true
	})
	assert.Equal(t, 2, cached)
}

func TestGoJQ_ConcurrentEvaluate(t *testing.T) {
	e := NewGoJQEngine()

	var wg sync.WaitGroup
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), `.val + 1`,
				map[string]any{"val": float64(i)})
			assert.NoError(t, err)
			assert.Equal(t, float64(i)+1, out)
		}(i)
	}
	wg.Wait()
}

func TestGoJQ_EvaluateNormalized(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"attempts": int64(2),
		"codes":    []any{int(0), int(1)},
	}

	out, err := e.EvaluateNormalized(context.Background(), `.attempts + 1`, data)
	require.NoError(t, err)
	assert.Equal(t, 3.0, out)

	out, err = e.EvaluateNormalized(context.Background(), `.codes | add`, data)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out)
}

func TestGoJQ_NilData(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.`, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestToJQValue(t *testing.T) {
	in := map[string]any{
		"i":   7,
		"i64": int64(100),
		"f32": float32(2),
		"f":   3.14,
		"s":   "x",
		"nested": map[string]any{
			"list": []any{int(1), int32(2)},
		},
	}

	got := toJQValue(in).(map[string]any)
	assert.Equal(t, 7.0, got["i"])
	assert.Equal(t, 100.0, got["i64"])
	assert.Equal(t, 2.0, got["f32"])
	assert.Equal(t, 3.14, got["f"])
	assert.Equal(t, "x", got["s"])
	assert.Equal(t, []any{1.0, 2.0}, got["nested"].(map[string]any)["list"])

	assert.Nil(t, toJQValue(nil))
}
