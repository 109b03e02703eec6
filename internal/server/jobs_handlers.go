package server

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"docflow/internal/model"
	"docflow/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// JobRequest enqueues a document that already lives in blob storage
type JobRequest struct {
	DocumentID string            `json:"document_id" binding:"required"`
	Filename   string            `json:"filename" binding:"required"`
	BlobPath   string            `json:"blob_path" binding:"required"`
	FileSize   int64             `json:"file_size"`
	Priority   string            `json:"priority"`
	Tags       map[string]string `json:"tags"`
}

// createJobHandler enqueues a processing job for an already-uploaded document
func (s *Server) createJobHandler(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	priority := model.JobPriority(strings.ToUpper(req.Priority))
	jobID := s.manager.Enqueue(c.Request.Context(), req.DocumentID, req.Filename, req.BlobPath, req.FileSize, priority, req.Tags)

	c.JSON(http.StatusCreated, gin.H{"job_id": jobID})
}

// uploadDocumentHandler accepts a multipart upload, stores the document in
// blob storage and enqueues a processing job for it
func (s *Server) uploadDocumentHandler(c *gin.Context) {
	fileHeader, err := c.FormFile("document")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing document file"})
		return
	}

	documentID := c.PostForm("document_id")
	if documentID == "" {
		documentID = uuid.NewString()
	}
	priority := model.JobPriority(strings.ToUpper(c.PostForm("priority")))

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to open uploaded file"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read uploaded file"})
		return
	}

	blobPath := path.Join("documents", documentID, fileHeader.Filename)
	url, err := storage.UploadBytes(c.Request.Context(), s.blobs, blobPath, content)
	if err != nil {
		log.Error().Err(err).Str("documentId", documentID).Msg("Failed to store uploaded document")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store document"})
		return
	}

	jobID := s.manager.Enqueue(c.Request.Context(), documentID, fileHeader.Filename, blobPath, int64(len(content)), priority, nil)

	c.JSON(http.StatusCreated, gin.H{
		"job_id":      jobID,
		"document_id": documentID,
		"blob_path":   blobPath,
		"url":         url,
	})
}

// getJobHandler returns the current state of a job
func (s *Server) getJobHandler(c *gin.Context) {
	job, ok := s.manager.GetJobStatus(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// queueStatsHandler returns per-priority queue statistics
func (s *Server) queueStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Stats())
}
