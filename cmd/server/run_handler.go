package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowgraph/graphengine/internal/config"
	"github.com/flowgraph/graphengine/internal/infrastructure/logger"
	"github.com/flowgraph/graphengine/pkg/engine"
	"github.com/flowgraph/graphengine/pkg/graph"
	"github.com/flowgraph/graphengine/pkg/models"
)

// runRequest is a one-shot wire description of a graph: its nodes, edges
// and per-run overrides. It exists to exercise pkg/graph and pkg/engine
// end to end from this process rather than only from tests; the full
// CRUD/auth surface spec.md treats as a thin facade is out of scope.
type runRequest struct {
	Mode       models.ExecutionMode     `json:"mode,omitempty"`
	Location   models.ExecutionLocation `json:"location,omitempty"`
	ResetCache bool                     `json:"reset_cache,omitempty"`
	Nodes      []runNodeRequest         `json:"nodes"`
	Edges      []runEdgeRequest         `json:"edges"`
}

type runNodeRequest struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Settings json.RawMessage `json:"settings"`
}

type runEdgeRequest struct {
	From string           `json:"from"`
	To   string           `json:"to"`
	Slot models.InputSlot `json:"slot,omitempty"`
}

// runHandler builds a *graph.Graph from a runRequest and drives it to
// completion through engine.Scheduler, dispatching remote-eligible nodes
// to remote when one is configured.
type runHandler struct {
	registry *graph.Registry
	remote   graph.RemoteClient
	defaults config.EngineConfig
	log      *logger.Logger
	notifier engine.ExecutionNotifier
}

func newRunHandler(registry *graph.Registry, remote graph.RemoteClient, defaults config.EngineConfig, log *logger.Logger, notifier engine.ExecutionNotifier) *runHandler {
	return &runHandler{registry: registry, remote: remote, defaults: defaults, log: log, notifier: notifier}
}

func (h *runHandler) handle(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings := models.FlowSettings{
		ExecutionMode:     req.Mode,
		ExecutionLocation: req.Location,
	}
	if settings.ExecutionMode == "" {
		settings.ExecutionMode = h.defaults.DefaultExecutionMode
	}
	if settings.ExecutionLocation == "" {
		settings.ExecutionLocation = h.defaults.DefaultExecutionLocation
	}

	g := graph.NewGraph("run", settings, h.registry)

	for _, n := range req.Nodes {
		if _, err := g.AddNodePromise(n.ID, n.Type); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "node_id": n.ID})
			return
		}
		template, ok := h.registry.Lookup(n.Type)
		if !ok {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("unknown node type %q", n.Type)})
			return
		}
		nodeSettings := template.NewSettings()
		if len(n.Settings) > 0 {
			if err := json.Unmarshal(n.Settings, nodeSettings); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("decode settings for %s: %s", n.ID, err)})
				return
			}
		}
		if err := g.AddNode(n.ID, nodeSettings); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "node_id": n.ID})
			return
		}
	}

	for _, e := range req.Edges {
		slot := e.Slot
		if slot == "" {
			slot = models.InputSlotMain
		}
		if err := g.AddEdge(e.From, e.To, slot); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
	}

	performanceMode := func() bool { return settings.ExecutionMode == models.ExecutionModePerformance }
	executor := graph.NewExecutor(g, h.remote, performanceMode)
	scheduler := engine.NewScheduler(g, executor)

	runCfg := engine.DefaultRunConfig()
	runCfg.Mode = settings.ExecutionMode
	runCfg.Location = settings.ExecutionLocation
	runCfg.ResetCache = req.ResetCache
	runCfg.Notifier = h.notifier

	info, err := scheduler.Run(c.Request.Context(), runCfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if !info.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, info)
}
