package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/graphengine/pkg/dataframe"
)

func TestCompileRowJQPredicate_EvaluatesPerRow(t *testing.T) {
	fn, err := CompileRowJQPredicate(".age > 5")
	require.NoError(t, err)

	ok, err := fn(dataframe.Row{"age": int64(10)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fn(dataframe.Row{"age": int64(2)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompileRowJQPredicate_InvalidFilterErrors(t *testing.T) {
	_, err := CompileRowJQPredicate("not valid jq (((")
	assert.Error(t, err)
}

func TestCompileRowJQPredicate_CachesCompiledFilter(t *testing.T) {
	fn1, err := CompileRowJQPredicate(".age > 1")
	require.NoError(t, err)
	fn2, err := CompileRowJQPredicate(".age > 1")
	require.NoError(t, err)

	for _, fn := range []func(dataframe.Row) (bool, error){fn1, fn2} {
		ok, err := fn(dataframe.Row{"age": int64(5)})
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestJQTruthy_OnlyFalseAndNilAreFalsy(t *testing.T) {
	assert.False(t, jqTruthy(nil))
	assert.False(t, jqTruthy(false))
	assert.True(t, jqTruthy(true))
	assert.True(t, jqTruthy(0))
	assert.True(t, jqTruthy(""))
}
