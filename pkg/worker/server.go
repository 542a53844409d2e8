package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flowgraph/graphengine/internal/infrastructure/logger"
	"github.com/flowgraph/graphengine/pkg/graph"
)

// Server is the stateless remote-executor HTTP process of §4.3.3/§6.3. It
// runs exactly one node's TransformFunc per task, the same closed registry
// pkg/graph's local Executor uses, so remote and local execution share
// node semantics and differ only in where the CPU cycles happen.
type Server struct {
	registry *graph.Registry
	store    Store
	log      *logger.Logger
}

// NewServer builds a Server. A nil registry falls back to
// graph.DefaultRegistry().
func NewServer(registry *graph.Registry, store Store, log *logger.Logger) *Server {
	if registry == nil {
		registry = graph.DefaultRegistry()
	}
	return &Server{registry: registry, store: store, log: log}
}

// Routes registers the worker's four endpoints onto an existing gin
// engine, letting cmd/server mount it alongside health checks.
func (s *Server) Routes(r gin.IRoutes) {
	r.POST("/submit", s.handleSubmit)
	r.GET("/status/:task_id", s.handleStatus)
	r.GET("/fetch/:cache_key", s.handleFetch)
	r.POST("/cancel/:task_id", s.handleCancel)
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	template, ok := s.registry.Lookup(req.NodeType)
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("unknown node type %q", req.NodeType)})
		return
	}
	if template.Transform == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("node type %q has no remote transform", req.NodeType)})
		return
	}

	settings := template.NewSettings()
	if len(req.Settings) > 0 {
		if err := json.Unmarshal(req.Settings, settings); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("decode settings: %s", err)})
			return
		}
	}
	if err := s.registry.ValidateSettings(settings); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	taskID := uuid.NewString()
	now := time.Now()
	s.store.Put(c.Request.Context(), taskID, StatusResponse{
		TaskID:    taskID,
		Status:    TaskStatusQueued,
		StartedAt: now,
	})

	inputs := graph.NodeInputs{}
	for _, wf := range req.Inputs.Main {
		inputs.Main = append(inputs.Main, fromWireFrame(wf))
	}
	if req.Inputs.Left != nil {
		inputs.Left = fromWireFrame(*req.Inputs.Left)
	}
	if req.Inputs.Right != nil {
		inputs.Right = fromWireFrame(*req.Inputs.Right)
	}

	go s.run(context.Background(), taskID, template, settings, inputs)

	c.JSON(http.StatusAccepted, SubmitResponse{TaskID: taskID})
}

// run executes one task's transform out-of-band of the submitting
// request, the way a real remote worker process would, and records the
// outcome for later polling. A panic during Transform is treated as the
// remote-process-killed case of §7: the scheduler's OOM fallback matches
// on the resulting error_code=-1 marker.
func (s *Server) run(ctx context.Context, taskID string, template *graph.NodeTemplate, settings interface{}, inputs graph.NodeInputs) {
	status := StatusResponse{TaskID: taskID, Status: TaskStatusRunning, StartedAt: time.Now()}
	s.store.Put(ctx, taskID, status)

	defer func() {
		if r := recover(); r != nil {
			status.Status = TaskStatusFailed
			status.ErrorCode = errorCodeOOM
			status.Error = fmt.Sprintf("error_code=-1: remote worker terminated: %v", r)
			status.EndedAt = time.Now()
			s.store.Put(ctx, taskID, status)
			if s.log != nil {
				s.log.Error("worker task panicked", "task_id", taskID, "panic", r)
			}
		}
	}()

	if canceled, _ := s.store.IsCanceled(ctx, taskID); canceled {
		status.Status = TaskStatusCanceled
		status.EndedAt = time.Now()
		s.store.Put(ctx, taskID, status)
		return
	}

	lf, err := template.Transform(settings, inputs)
	if err == nil {
		var wf WireFrame
		wf, err = toWireFrame(lf)
		if err == nil {
			if storeErr := s.store.PutResult(ctx, taskID, wf); storeErr != nil {
				err = storeErr
			}
		}
	}

	status.EndedAt = time.Now()
	if err != nil {
		status.Status = TaskStatusFailed
		status.Error = err.Error()
		s.store.Put(ctx, taskID, status)
		return
	}

	status.Status = TaskStatusCompleted
	status.CacheKey = taskID
	s.store.Put(ctx, taskID, status)
}

func (s *Server) handleStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	status, ok, err := s.store.Get(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleFetch(c *gin.Context) {
	cacheKey := c.Param("cache_key")
	frame, ok, err := s.store.GetResult(c.Request.Context(), cacheKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown cache key"})
		return
	}
	c.JSON(http.StatusOK, FetchResponse{CacheKey: cacheKey, Frame: frame})
}

func (s *Server) handleCancel(c *gin.Context) {
	taskID := c.Param("task_id")
	if err := s.store.MarkCanceled(c.Request.Context(), taskID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
