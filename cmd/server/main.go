// Command server is the graph engine's composition root. It mounts
// pkg/worker's stateless remote-executor routes (§4.3.3/§6.3) for use by
// other instances of this same binary, and a /run endpoint that builds a
// pkg/graph.Graph from a request body and drives it to completion through
// pkg/engine.Scheduler, dispatching remote-eligible nodes to a configured
// worker or falling back to running them in-process.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowgraph/graphengine/internal/config"
	"github.com/flowgraph/graphengine/internal/infrastructure/cache"
	"github.com/flowgraph/graphengine/internal/infrastructure/logger"
	"github.com/flowgraph/graphengine/pkg/engine"
	"github.com/flowgraph/graphengine/pkg/graph"
	"github.com/flowgraph/graphengine/pkg/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)

	appLogger.Info("starting graph engine worker",
		"port", cfg.Server.Port,
		"execution_mode", cfg.Engine.DefaultExecutionMode,
	)

	var (
		redisCache *cache.RedisCache
		store      worker.Store
	)
	redisCache, err = cache.NewRedisCache(cfg.Redis)
	if err != nil {
		appLogger.Warn("redis unavailable, task state will not survive a restart", "error", err)
		store = worker.NewMemStore()
	} else {
		defer redisCache.Close()
		appLogger.Info("redis connected, backing worker task store")
		store = worker.NewRedisStore(redisCache)
	}

	registry := graph.DefaultRegistry()
	appLogger.Info("node type registry loaded", "types", len(registry.Types()))

	workerServer := worker.NewServer(registry, store, appLogger)

	var remoteClient graph.RemoteClient
	if cfg.Engine.WorkerBaseURL != "" {
		remoteClient = worker.NewClient(cfg.Engine.WorkerBaseURL, cfg.Engine.WorkerPollInterval)
		appLogger.Info("remote worker client configured", "base_url", cfg.Engine.WorkerBaseURL)
	} else {
		appLogger.Info("no worker base URL configured, remote-eligible nodes run in-process")
	}
	wsNotifier := engine.NewWebSocketNotifier(appLogger)
	runHandler := newRunHandler(registry, remoteClient, cfg.Engine, appLogger, wsNotifier)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(appLogger))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if redisCache != nil {
			if err := redisCache.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": fmt.Sprintf("redis: %s", err)})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	router.GET("/metrics", func(c *gin.Context) {
		metrics := gin.H{"node_types": len(registry.Types())}
		if redisCache != nil {
			stats := redisCache.Stats()
			metrics["redis"] = gin.H{
				"hits":        stats.Hits,
				"misses":      stats.Misses,
				"total_conns": stats.TotalConns,
				"idle_conns":  stats.IdleConns,
			}
		}
		c.JSON(http.StatusOK, gin.H{"metrics": metrics})
	})

	workerServer.Routes(router.Group("/"))
	router.POST("/run", runHandler.handle)
	router.GET("/ws/events", gin.WrapH(wsNotifier))
	appLogger.Info("routes registered", "endpoints", []string{"/submit", "/status/:task_id", "/fetch/:cache_key", "/cancel/:task_id", "/run", "/ws/events"})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		appLogger.Info("http server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
		serverErrors <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		appLogger.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		appLogger.Info("shutdown initiated", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			appLogger.Error("graceful shutdown failed", "error", err)
			if err := httpServer.Close(); err != nil {
				appLogger.Error("server close failed", "error", err)
			}
		}

		appLogger.Info("server stopped")
	}
}

// requestLogger logs each request at info level with its latency, mirroring
// the teacher's logging middleware shape without carrying over its
// request-ID/auth-context plumbing, which has no equivalent here.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Info("request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
