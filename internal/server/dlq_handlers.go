package server

import (
	"net/http"

	"docflow/internal/queue"

	"github.com/gin-gonic/gin"
)

// ResolveRequest picks what happens to a dead-lettered job
type ResolveRequest struct {
	Action string `json:"action" binding:"required"`
}

// listDLQHandler returns dead-lettered jobs, newest first
func (s *Server) listDLQHandler(c *gin.Context) {
	limit, offset := getPaginationParams(c)
	items := s.manager.GetDLQItems(limit, offset)

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// resolveDLQHandler retries or deletes one dead-lettered job
func (s *Server) resolveDLQHandler(c *gin.Context) {
	jobID := c.Param("id")

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing action"})
		return
	}

	if req.Action != queue.ResolveRetry && req.Action != queue.ResolveDelete {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Action must be 'retry' or 'delete'"})
		return
	}

	if !s.manager.ResolveDLQItem(c.Request.Context(), jobID, req.Action) {
		c.JSON(http.StatusNotFound, gin.H{"error": "DLQ item not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "action": req.Action})
}
