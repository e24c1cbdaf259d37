package expressions

import "context"

// Engine evaluates expressions within workflow blocks.
// Three implementations: CEL (conditions), GoJQ (transforms), Expr (eval blocks).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
