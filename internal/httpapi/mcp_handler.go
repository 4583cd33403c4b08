package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dev.helix.router/internal/jsonrpc"
)

// handleMCPCall routes a JSON-RPC request body to the named MCP server.
func (s *Server) handleMCPCall(c *gin.Context) {
	server := c.Param("server")

	var req jsonrpc.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsonrpc.NewError(nil, jsonrpc.ParseError, "parse error: "+err.Error(), nil))
		return
	}
	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}

	resp := s.registry.Call(c.Request.Context(), server, &req)
	status := http.StatusOK
	if resp.IsError() {
		switch resp.Error.Code {
		case jsonrpc.ServerError, jsonrpc.UpstreamError:
			status = http.StatusBadGateway
		}
	}
	c.JSON(status, resp)
}
