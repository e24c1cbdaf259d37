package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/temple-compute/horus/pkg/schema"
)

// ExprEngine evaluates expr-lang expressions for conditions and general
// deterministic logic. It covers let bindings, array helpers (filter, map,
// count, any, all, sum, min, max), string helpers, nil coalescing (??),
// optional chaining (?.) and pipes (|).
//
// Compiled programs are cached per source string. A duplicate compile can
// race in, but both results are equivalent so the loser is simply dropped.
type ExprEngine struct {
	programs sync.Map // expression string -> *vm.Program
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate runs the expression with data as its environment. Every key in
// data is visible as a top-level variable; unknown variables resolve to nil
// instead of failing compilation.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	if data == nil {
		data = map[string]any{}
	}

	prg, err := e.program(expression, data)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

func (e *ExprEngine) program(expression string, env map[string]any) (*vm.Program, error) {
	if cached, ok := e.programs.Load(expression); ok {
		return cached.(*vm.Program), nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	actual, _ := e.programs.LoadOrStore(expression, prg)
	return actual.(*vm.Program), nil
}

var _ Engine = (*ExprEngine)(nil)
