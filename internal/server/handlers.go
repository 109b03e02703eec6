package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) healthHandler(c *gin.Context) {
	components := gin.H{}
	healthy := true

	if s.db != nil {
		if err := s.db.Health(); err != nil {
			components["mongodb"] = err.Error()
			healthy = false
		} else {
			components["mongodb"] = "ok"
		}
	} else {
		components["mongodb"] = "skipped"
	}

	if s.rabbit != nil {
		if err := s.rabbit.Health(); err != nil {
			components["rabbitmq"] = err.Error()
			healthy = false
		} else {
			components["rabbitmq"] = "ok"
		}
	} else {
		components["rabbitmq"] = "skipped"
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	c.JSON(status, gin.H{"status": state, "components": components})
}

// getPaginationParams extracts pagination parameters from request
func getPaginationParams(c *gin.Context) (int, int) {
	limit := 20
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	return limit, offset
}
