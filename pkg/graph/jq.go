package graph

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/flowgraph/graphengine/pkg/dataframe"
)

// jqCache memoizes compiled jq filters by source text, mirroring exprCache's
// caching shape but keyed on gojq's Code type instead of expr-lang's vm.Program.
type jqCache struct {
	mu    sync.Mutex
	codes map[string]*gojq.Code
}

var sharedJQCache = &jqCache{codes: make(map[string]*gojq.Code)}

func (c *jqCache) compile(source string) (*gojq.Code, error) {
	c.mu.Lock()
	if code, ok := c.codes[source]; ok {
		c.mu.Unlock()
		return code, nil
	}
	c.mu.Unlock()

	query, err := gojq.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("graph: parse jq filter %q: %w", source, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("graph: compile jq filter %q: %w", source, err)
	}

	c.mu.Lock()
	c.codes[source] = code
	c.mu.Unlock()
	return code, nil
}

// CompileRowJQPredicate compiles a jq filter into a dataframe.FilterFunc
// evaluated once per row; the row passes when the filter's first emitted
// value is truthy by jq's rules (only false and null are falsy).
func CompileRowJQPredicate(source string) (dataframe.FilterFunc, error) {
	code, err := sharedJQCache.compile(source)
	if err != nil {
		return nil, err
	}
	return func(row dataframe.Row) (bool, error) {
		input, err := jqInput(row)
		if err != nil {
			return false, fmt.Errorf("graph: prepare jq input: %w", err)
		}
		iter := code.Run(input)
		out, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, ok := out.(error); ok {
			return false, fmt.Errorf("graph: evaluate jq filter: %w", err)
		}
		return jqTruthy(out), nil
	}, nil
}

// jqInput round-trips a Row through encoding/json so values like int64 and
// custom Stringer-ish types normalize into the plain map[string]interface{}
// shape gojq expects.
func jqInput(row dataframe.Row) (any, error) {
	raw, err := json.Marshal(map[string]any(row))
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// jqTruthy applies jq's truthiness: every value is truthy except false and null.
func jqTruthy(v any) bool {
	if v == nil {
		return false
	}
	b, ok := v.(bool)
	return !ok || b
}
