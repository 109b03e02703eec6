package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
	}))

	r.GET("/health", s.healthHandler)

	v1 := r.Group("/api/v1")

	v1.POST("/jobs", s.createJobHandler)
	v1.GET("/jobs/:id", s.getJobHandler)
	v1.POST("/documents", s.uploadDocumentHandler)

	v1.GET("/dlq", s.listDLQHandler)
	v1.POST("/dlq/:id/resolve", s.resolveDLQHandler)

	v1.GET("/queues/stats", s.queueStatsHandler)

	v1.GET("/executions", s.executionHistoryHandler)
	v1.GET("/executions/:id", s.getExecutionHandler)
	v1.GET("/performance/report", s.pipelineReportHandler)
	v1.GET("/performance/bottlenecks", s.bottlenecksHandler)
	v1.GET("/performance/stages/:name", s.stageStatsHandler)

	return r
}
