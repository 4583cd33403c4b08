package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"dev.helix.router/internal/jsonrpc"
)

// handleSSEConnect establishes a new SSE session and streams its events
// back to the client as they're produced, per the MCP SSE transport: the
// first event carries the /message endpoint URL the client should POST to.
func (s *Server) handleSSEConnect(c *gin.Context) {
	session := s.sessions.Connect()
	defer s.sessions.Cleanup(session.ID)

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	messageURL := scheme + "://" + c.Request.Host + "/message?session_id=" + session.ID
	session.Send("endpoint", messageURL)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Session-Id", session.ID)

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		msg, ok := session.Next(ctx)
		if !ok {
			return false
		}
		_, err := w.Write([]byte(msg))
		return err == nil
	})
}

// handleSSEMessage accepts a JSON-RPC request for an existing session and
// routes it to the target MCP server; the actual response is delivered
// asynchronously over the session's event stream, not in this HTTP
// response, matching the MCP SSE transport's decoupled request/response
// model.
func (s *Server) handleSSEMessage(c *gin.Context) {
	sessionID := c.Query("session_id")
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "session not found or expired"})
		return
	}

	var req jsonrpc.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		session.SendJSONRPC(jsonrpc.NewError(nil, jsonrpc.ParseError, "parse error: "+err.Error(), nil))
		c.JSON(http.StatusOK, gin.H{"status": "error_sent"})
		return
	}
	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}

	targetServer := c.GetHeader("X-MCP-Server")
	if targetServer == "" {
		servers := s.registry.ListServers()
		if len(servers) == 0 {
			session.SendJSONRPC(jsonrpc.NewError(req.ID, jsonrpc.InvalidRequest, "no target server specified", nil))
			c.JSON(http.StatusOK, gin.H{"status": "error_sent"})
			return
		}
		// No server was named explicitly: fall back to the first
		// registered server, same as the original proxy's lenient default.
		targetServer = servers[0]
	}

	resp := s.registry.Call(c.Request.Context(), targetServer, &req)
	session.SendJSONRPC(resp)
	c.JSON(http.StatusOK, gin.H{"status": "response_sent"})
}

func (s *Server) handleSSEDisconnect(c *gin.Context) {
	sessionID := c.Param("session_id")
	if s.sessions.Disconnect(sessionID) {
		c.JSON(http.StatusOK, gin.H{"status": "closed"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"detail": "session not found"})
}

func (s *Server) handleSSESessions(c *gin.Context) {
	infos := s.sessions.List()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(infos),
		"sessions": infos,
	})
}
