package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/temple-compute/horus/pkg/schema"
)

// scopeVars are the top-level variables the CEL environment exposes,
// mirroring InterpolationScope.
var scopeVars = []string{"blocks", "inputs", "run"}

// CELEngine evaluates block conditions with Google's Common Expression
// Language. The environment is sandboxed to three map variables (blocks,
// inputs, run) and compiled programs are cached per source string.
type CELEngine struct {
	env      *cel.Env
	programs sync.Map // expression string -> cel.Program
}

// NewCELEngine creates a new CEL expression engine. Each variable is typed
// map(string, dyn): blocks holds block outputs keyed by block ID, inputs
// the run parameters and run the run metadata.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	opts := make([]cel.EnvOption, 0, len(scopeVars))
	for _, name := range scopeVars {
		opts = append(opts, cel.Variable(name, mapType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate compiles the expression if needed and runs it against data.
// Scope variables absent from data are bound to empty maps so expressions
// never hit nil-reference errors at runtime.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.compiled(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(activation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out.Value(), nil
}

func (e *CELEngine) compiled(expression string) (cel.Program, error) {
	if cached, ok := e.programs.Load(expression); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	actual, _ := e.programs.LoadOrStore(expression, prg)
	return actual.(cel.Program), nil
}

// activation binds the scope variables, defaulting missing ones to empty
// maps.
func activation(data map[string]any) map[string]any {
	bound := make(map[string]any, len(scopeVars))
	for _, name := range scopeVars {
		if v, ok := data[name]; ok && v != nil {
			bound[name] = v
		} else {
			bound[name] = map[string]any{}
		}
	}
	return bound
}
