package graph

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/graphengine/pkg/dataframe"
)

func TestSchemaCallback_SingleExecutionSharedAcrossConcurrentGets(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	cb := NewSchemaCallback(func() (dataframe.Schema, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return dataframe.Schema{{Name: "a", DType: dataframe.DTypeString}}, nil
	})

	var wg sync.WaitGroup
	results := make([]dataframe.Schema, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			s, err := cb.Get()
			assert.NoError(t, err)
			results[idx] = s
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, s := range results {
		assert.Equal(t, dataframe.Schema{{Name: "a", DType: dataframe.DTypeString}}, s)
	}
}

func TestSchemaCallback_ResetRecomputes(t *testing.T) {
	var calls int32
	cb := NewSchemaCallback(func() (dataframe.Schema, error) {
		atomic.AddInt32(&calls, 1)
		return dataframe.Schema{}, nil
	})

	_, err := cb.Get()
	require.NoError(t, err)
	_, err = cb.Get()
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	cb.Reset()
	_, err = cb.Get()
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestSchemaCallback_RetriesOnceOnGeneratorBusy(t *testing.T) {
	var calls int32
	cb := NewSchemaCallback(func() (dataframe.Schema, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, errors.New("generator already executing")
		}
		return dataframe.Schema{{Name: "ok"}}, nil
	})

	schema, err := cb.Get()
	require.NoError(t, err)
	assert.Equal(t, "ok", schema[0].Name)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestSchemaCallback_FailureReturnsEmptySchemaAndError(t *testing.T) {
	cb := NewSchemaCallback(func() (dataframe.Schema, error) {
		return nil, errors.New("boom")
	})

	schema, err := cb.Get()
	assert.Error(t, err)
	assert.Empty(t, schema)
}
