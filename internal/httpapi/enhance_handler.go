package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type enhanceRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	Client string `json:"client"`
}

func (s *Server) handleEnhance(c *gin.Context) {
	var req enhanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := s.enhancer.Enhance(c.Request.Context(), req.Prompt, req.Client)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleClearCache(c *gin.Context) {
	s.enhancer.ClearCache(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "cache_cleared"})
}

func (s *Server) handleResetBreakers(c *gin.Context) {
	s.registry.ResetAllBreakers()
	c.JSON(http.StatusOK, gin.H{"status": "breakers_reset"})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cache":            s.enhancer.CacheStats(c.Request.Context()),
		"circuit_breakers": s.registry.AllBreakerStatus(),
		"sse_sessions":     s.sessions.Count(),
		"recent_requests":  s.registry.RecentRequests(50),
	})
}
