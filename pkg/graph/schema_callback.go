package graph

import (
	"strings"
	"sync"
	"time"

	"github.com/flowgraph/graphengine/pkg/dataframe"
)

// generatorBusyRetryDelay is how long SchemaCallback sleeps before its
// one retry when the underlying dataframe library reports its generator
// is already executing (§4.2.2 edge case).
const generatorBusyRetryDelay = 20 * time.Millisecond

// SchemaCallback is a non-blocking, single-execution schema-prediction
// future (§4.2.2). Concurrent Get calls while a computation is in flight
// share the same result instead of recomputing.
type SchemaCallback struct {
	compute func() (dataframe.Schema, error)

	mu      sync.Mutex
	done    bool
	running bool
	result  dataframe.Schema
	err     error
	waiters []chan struct{}
}

// NewSchemaCallback wraps compute as a schema_callback future.
func NewSchemaCallback(compute func() (dataframe.Schema, error)) *SchemaCallback {
	return &SchemaCallback{compute: compute}
}

// Get returns the predicted schema, computing it at most once until Reset
// is called. On failure it returns an empty schema and the error; callers
// are expected to flag setup_errors on the node rather than propagate the
// error further (§4.2.2: "does not raise up to the caller").
func (c *SchemaCallback) Get() (dataframe.Schema, error) {
	c.mu.Lock()
	if c.done {
		result, err := c.result, c.err
		c.mu.Unlock()
		return result, err
	}
	if c.running {
		wait := make(chan struct{})
		c.waiters = append(c.waiters, wait)
		c.mu.Unlock()
		<-wait
		c.mu.Lock()
		result, err := c.result, c.err
		c.mu.Unlock()
		return result, err
	}
	c.running = true
	c.mu.Unlock()

	schema, err := c.runOnce()

	c.mu.Lock()
	c.running = false
	c.done = true
	c.result = schema
	c.err = err
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return schema, err
}

// runOnce invokes compute, retrying once after a short sleep if the
// dataframe library reports its generator is already executing.
func (c *SchemaCallback) runOnce() (dataframe.Schema, error) {
	schema, err := c.compute()
	if err != nil && isGeneratorBusy(err) {
		time.Sleep(generatorBusyRetryDelay)
		schema, err = c.compute()
	}
	if err != nil {
		return dataframe.Schema{}, err
	}
	return schema, nil
}

func isGeneratorBusy(err error) bool {
	return strings.Contains(err.Error(), "generator already executing")
}

// Reset discards any cached result so the next Get recomputes.
func (c *SchemaCallback) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = false
	c.result = nil
	c.err = nil
}
