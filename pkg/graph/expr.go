package graph

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/flowgraph/graphengine/pkg/dataframe"
)

// exprCache memoizes compiled expr-lang programs by source text, mirroring
// the teacher's condition-evaluator caching but re-homed here to back the
// filter/formula node transforms instead of edge conditions.
type exprCache struct {
	mu       sync.Mutex
	programs map[string]*vm.Program
}

var sharedExprCache = &exprCache{programs: make(map[string]*vm.Program)}

func (c *exprCache) compile(source string) (*vm.Program, error) {
	c.mu.Lock()
	if p, ok := c.programs[source]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("graph: compile expression %q: %w", source, err)
	}

	c.mu.Lock()
	c.programs[source] = program
	c.mu.Unlock()
	return program, nil
}

// CompileRowPredicate compiles an expr-lang boolean expression into a
// dataframe.FilterFunc evaluated once per row.
func CompileRowPredicate(source string) (dataframe.FilterFunc, error) {
	program, err := sharedExprCache.compile(source)
	if err != nil {
		return nil, err
	}
	return func(row dataframe.Row) (bool, error) {
		out, err := expr.Run(program, map[string]interface{}(row))
		if err != nil {
			return false, fmt.Errorf("graph: evaluate filter: %w", err)
		}
		b, ok := out.(bool)
		if !ok {
			return false, fmt.Errorf("graph: filter expression did not evaluate to a bool, got %T", out)
		}
		return b, nil
	}, nil
}

// CompileRowExpression compiles an expr-lang expression into a
// dataframe.FormulaFunc evaluated once per row.
func CompileRowExpression(source string) (dataframe.FormulaFunc, error) {
	program, err := sharedExprCache.compile(source)
	if err != nil {
		return nil, err
	}
	return func(row dataframe.Row) (any, error) {
		out, err := expr.Run(program, map[string]interface{}(row))
		if err != nil {
			return nil, fmt.Errorf("graph: evaluate formula: %w", err)
		}
		return out, nil
	}, nil
}
