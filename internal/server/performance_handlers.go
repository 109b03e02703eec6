package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// getExecutionHandler returns one pipeline execution trace
func (s *Server) getExecutionHandler(c *gin.Context) {
	execution := s.tracker.GetExecution(c.Param("id"))
	if execution == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Execution not found"})
		return
	}

	c.JSON(http.StatusOK, execution)
}

// executionHistoryHandler returns recent executions, optionally filtered by
// document ID
func (s *Server) executionHistoryHandler(c *gin.Context) {
	limit, _ := getPaginationParams(c)
	executions := s.tracker.GetExecutionHistory(c.Query("document_id"), limit)

	c.JSON(http.StatusOK, gin.H{"executions": executions, "count": len(executions)})
}

// pipelineReportHandler aggregates executions over a look-back window
func (s *Server) pipelineReportHandler(c *gin.Context) {
	hours := 24
	if hoursStr := c.Query("hours"); hoursStr != "" {
		parsed, err := strconv.Atoi(hoursStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid hours parameter"})
			return
		}
		hours = parsed
	}

	c.JSON(http.StatusOK, s.tracker.GetPipelineReport(hours))
}

// bottlenecksHandler flags stages dominating execution time
func (s *Server) bottlenecksHandler(c *gin.Context) {
	threshold := 0.5
	if thresholdStr := c.Query("threshold"); thresholdStr != "" {
		parsed, err := strconv.ParseFloat(thresholdStr, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Threshold must be between 0 and 1"})
			return
		}
		threshold = parsed
	}

	bottlenecks := s.tracker.DetectBottlenecks(threshold)
	c.JSON(http.StatusOK, gin.H{"bottlenecks": bottlenecks, "count": len(bottlenecks)})
}

// stageStatsHandler returns aggregate stats for one pipeline stage
func (s *Server) stageStatsHandler(c *gin.Context) {
	stageName := strings.ToUpper(c.Param("name"))
	c.JSON(http.StatusOK, s.tracker.GetStagePerformanceStats(stageName))
}
