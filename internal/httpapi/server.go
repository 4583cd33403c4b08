// Package httpapi exposes the router's HTTP and JSON-RPC surface: the
// Ollama-compatible enhancement endpoint, the generic MCP call endpoint,
// the SSE transport, and operational diagnostics.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/enhance"
	"dev.helix.router/internal/registry"
	"dev.helix.router/internal/sse"
)

// Server wires the router's components behind a gin HTTP router.
type Server struct {
	registry *registry.Registry
	enhancer *enhance.Middleware
	sessions *sse.Manager
	log      *logrus.Logger

	engine *gin.Engine
}

// New builds a gin engine with every router route registered.
func New(reg *registry.Registry, enhancer *enhance.Middleware, sessions *sse.Manager, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}

	s := &Server{
		registry: reg,
		enhancer: enhancer,
		sessions: sessions,
		log:      log,
	}

	r := gin.Default()
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, X-MCP-Server")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	r.GET("/health", s.handleHealth)

	r.POST("/ollama/enhance", s.handleEnhance)

	r.POST("/mcp/:server", s.handleMCPCall)

	r.GET("/sse", s.handleSSEConnect)
	r.POST("/message", s.handleSSEMessage)
	r.DELETE("/sse/:session_id", s.handleSSEDisconnect)
	r.GET("/sse/sessions", s.handleSSESessions)

	r.POST("/actions/clear-cache", s.handleClearCache)
	r.POST("/actions/reset-breakers", s.handleResetBreakers)

	r.GET("/stats", s.handleStats)

	s.engine = r
	return s
}

// Handler returns the underlying http.Handler for use with an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := contextWithTimeout(c, 10*time.Second)
	defer cancel()

	results := s.registry.AllHealth(ctx)

	status := "healthy"
	for _, r := range results {
		if r.Status != "healthy" {
			status = "degraded"
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           status,
		"time":             time.Now().UTC().Format(time.RFC3339),
		"services":         results,
		"circuit_breakers": s.registry.AllBreakerStatus(),
	})
}
