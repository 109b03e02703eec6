package model

import (
	"time"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusQueued     JobStatus = "QUEUED"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
	StatusRetrying   JobStatus = "RETRYING"
	StatusDLQ        JobStatus = "DLQ"
)

// JobPriority selects the broker lane a job is routed to at enqueue time
type JobPriority string

const (
	PriorityHigh   JobPriority = "HIGH"
	PriorityNormal JobPriority = "NORMAL"
	PriorityLow    JobPriority = "LOW"
)

// DefaultMaxRetries is applied when a job is created without an explicit limit
const DefaultMaxRetries = 3

// Job represents a queued document-processing task
type Job struct {
	JobID          string                 `bson:"_id" json:"job_id"`
	DocumentID     string                 `bson:"document_id" json:"document_id"`
	Filename       string                 `bson:"filename" json:"filename"`
	BlobPath       string                 `bson:"blob_path" json:"blob_path"`
	FileSize       int64                  `bson:"file_size" json:"file_size"`
	Priority       JobPriority            `bson:"priority" json:"priority"`
	Status         JobStatus              `bson:"status" json:"status"`
	CreatedAt      time.Time              `bson:"created_at" json:"created_at"`
	StartedAt      *time.Time             `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt    *time.Time             `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	RetryCount     int                    `bson:"retry_count" json:"retry_count"`
	MaxRetries     int                    `bson:"max_retries" json:"max_retries"`
	ErrorMessage   string                 `bson:"error_message,omitempty" json:"error_message,omitempty"`
	ResultMetadata map[string]interface{} `bson:"result_metadata,omitempty" json:"result_metadata,omitempty"`
	Tags           map[string]string      `bson:"tags,omitempty" json:"tags,omitempty"`
}

// Terminal reports whether the job may still be mutated. Once a job is
// completed or parked in the DLQ only reads are allowed.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusDLQ
}

// Clone returns a deep enough copy for callers to read without holding
// the store lock.
func (j *Job) Clone() *Job {
	cp := *j
	if j.ResultMetadata != nil {
		cp.ResultMetadata = make(map[string]interface{}, len(j.ResultMetadata))
		for k, v := range j.ResultMetadata {
			cp.ResultMetadata[k] = v
		}
	}
	if j.Tags != nil {
		cp.Tags = make(map[string]string, len(j.Tags))
		for k, v := range j.Tags {
			cp.Tags[k] = v
		}
	}
	return &cp
}

// DLQItemStatus is the operator-facing resolution state of a dead-lettered job
type DLQItemStatus string

const (
	DLQPendingReview DLQItemStatus = "PENDING_REVIEW"
	DLQResolved      DLQItemStatus = "RESOLVED"
	DLQReprocessed   DLQItemStatus = "REPROCESSED"
)

// DLQItem is the operator view of a dead-lettered job
type DLQItem struct {
	ID            string                 `json:"id"`
	FileID        string                 `json:"file_id"`
	BlobName      string                 `json:"blob_name"`
	Error         string                 `json:"error"`
	Stage         string                 `json:"stage"`
	CreatedAt     time.Time              `json:"created_at"`
	Status        DLQItemStatus          `json:"status"`
	RetryCount    int                    `json:"retry_count"`
	ExtractedData map[string]interface{} `json:"extracted_data,omitempty"`
}

// NewDLQItem builds the operator view from a dead-lettered job. The failed
// stage and any extracted fields are carried in the job's result metadata.
func NewDLQItem(job *Job) DLQItem {
	item := DLQItem{
		ID:         job.JobID,
		FileID:     job.DocumentID,
		BlobName:   job.BlobPath,
		Error:      job.ErrorMessage,
		CreatedAt:  job.CreatedAt,
		Status:     DLQPendingReview,
		RetryCount: job.RetryCount,
	}
	if stage, ok := job.ResultMetadata["failed_stage"].(string); ok {
		item.Stage = stage
	}
	if extracted, ok := job.ResultMetadata["extracted_data"].(map[string]interface{}); ok {
		item.ExtractedData = extracted
	}
	return item
}

// QueueStats aggregates per-priority job counters for monitoring
type QueueStats struct {
	QueueName            string  `json:"queue_name"`
	TotalJobs            int     `json:"total_jobs"`
	QueuedJobs           int     `json:"queued_jobs"`
	ProcessingJobs       int     `json:"processing_jobs"`
	CompletedJobs        int     `json:"completed_jobs"`
	FailedJobs           int     `json:"failed_jobs"`
	RetryingJobs         int     `json:"retrying_jobs"`
	DLQJobs              int     `json:"dlq_jobs"`
	AvgProcessingTimeMS  float64 `json:"average_processing_time_ms"`
	P95ProcessingTimeMS  float64 `json:"p95_processing_time_ms"`
	P99ProcessingTimeMS  float64 `json:"p99_processing_time_ms"`
	ThroughputPerMinute  float64 `json:"throughput_jobs_per_minute"`
}
