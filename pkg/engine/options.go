package engine

import (
	"time"

	"github.com/flowgraph/graphengine/pkg/models"
)

// DefaultRunConfig returns a RunConfig with sensible defaults for a
// standalone run: development mode, local execution, a five-minute overall
// budget and a two-minute per-node budget. Callers building a RunConfig from
// a flow's own FlowSettings should populate Mode/Location from there instead.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Mode:           models.ExecutionModeDevelopment,
		Location:       models.ExecutionLocationLocal,
		Timeout:        5 * time.Minute,
		NodeTimeout:    2 * time.Minute,
		MaxConcurrency: 10,
	}
}
