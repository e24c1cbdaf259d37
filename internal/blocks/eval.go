package blocks

import (
	"context"
	"encoding/json"

	"github.com/temple-compute/horus/internal/expressions"
	"github.com/temple-compute/horus/pkg/schema"
)

// EvalBlock evaluates a set of named expressions against the run scope,
// producing one output slot per expression. Used to reshape values between
// command blocks without spawning a process.
type EvalBlock struct {
	engine *expressions.ExprEngine
}

// NewEvalBlock creates the eval block type.
func NewEvalBlock() *EvalBlock {
	return &EvalBlock{engine: expressions.NewExprEngine()}
}

func (b *EvalBlock) Type() string { return "eval" }

func (b *EvalBlock) Description() string {
	return "Evaluate expressions against the run scope, one output slot per expression."
}

func (b *EvalBlock) Validate(params json.RawMessage) error {
	p, err := b.parseParams(params)
	if err != nil {
		return err
	}
	if len(p.Expressions) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "eval block requires at least one expression")
	}
	for name, expr := range p.Expressions {
		if expr == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "eval block expression %q is empty", name)
		}
	}
	return nil
}

func (b *EvalBlock) Execute(ctx context.Context, in Input) (map[string]any, error) {
	p, err := b.parseParams(in.Params)
	if err != nil {
		return nil, err
	}
	if len(p.Expressions) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "eval block requires at least one expression")
	}

	outputs := make(map[string]any, len(p.Expressions))
	for name, expr := range p.Expressions {
		result, err := b.engine.Evaluate(ctx, expr, in.Scope)
		if err != nil {
			if engErr, ok := err.(*schema.EngineError); ok {
				return nil, engErr.WithBlock(in.BlockID)
			}
			return nil, err
		}
		outputs[name] = result
	}
	return outputs, nil
}

func (b *EvalBlock) parseParams(raw json.RawMessage) (*schema.EvalParams, error) {
	var p schema.EvalParams
	if len(raw) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "eval block has no params")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "eval block params: %v", err).WithCause(err)
	}
	return &p, nil
}
