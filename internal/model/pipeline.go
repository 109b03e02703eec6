package model

import (
	"time"
)

// StageStatus represents the state of a single pipeline stage
type StageStatus string

const (
	StagePending StageStatus = "PENDING"
	StageRunning StageStatus = "RUNNING"
	StageSuccess StageStatus = "SUCCESS"
	StageFailed  StageStatus = "FAILED"
)

// Pipeline stage names, in processing order
const (
	StageDownload = "DOWNLOAD"
	StageValidate = "VALIDATE"
	StageExtract  = "EXTRACT"
	StageMatch    = "MATCH"
	StagePersist  = "PERSIST"
)

// StageMetrics records the timing and outcome of one pipeline stage
type StageMetrics struct {
	StageName      string                 `bson:"stage_name" json:"stage_name"`
	StartTime      time.Time              `bson:"start_time" json:"start_time"`
	EndTime        *time.Time             `bson:"end_time,omitempty" json:"end_time,omitempty"`
	DurationMS     float64                `bson:"duration_ms" json:"duration_ms"`
	Status         StageStatus            `bson:"status" json:"status"`
	ErrorMessage   string                 `bson:"error_message,omitempty" json:"error_message,omitempty"`
	ItemsProcessed int                    `bson:"items_processed" json:"items_processed"`
	SuccessCount   int                    `bson:"success_count" json:"success_count"`
	ErrorCount     int                    `bson:"error_count" json:"error_count"`
	Metadata       map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// MarkCompleted stamps the end time and computes the stage duration.
// The duration is never negative even if clocks step backwards.
func (s *StageMetrics) MarkCompleted(success bool) {
	now := time.Now()
	s.EndTime = &now
	d := now.Sub(s.StartTime)
	if d < 0 {
		d = 0
	}
	s.DurationMS = float64(d) / float64(time.Millisecond)
	if success {
		s.Status = StageSuccess
	} else {
		s.Status = StageFailed
	}
}

// PipelineExecution is the complete trace of one document's trip through
// the pipeline. Stages are append-only while the execution is live.
type PipelineExecution struct {
	ExecutionID     string         `bson:"_id" json:"execution_id"`
	DocumentID      string         `bson:"document_id" json:"document_id"`
	Filename        string         `bson:"filename" json:"filename"`
	FileSize        int64          `bson:"file_size" json:"file_size"`
	StartedAt       time.Time      `bson:"started_at" json:"started_at"`
	CompletedAt     *time.Time     `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	TotalDurationMS float64        `bson:"total_duration_ms" json:"total_duration_ms"`
	Stages          []StageMetrics `bson:"stages" json:"stages"`
	OverallStatus   StageStatus    `bson:"overall_status" json:"overall_status"`
	ErrorMessage    string         `bson:"error_message,omitempty" json:"error_message,omitempty"`
	ThroughputMBps  float64        `bson:"throughput_mb_per_second" json:"throughput_mb_per_second"`
}

// MarkCompleted stamps the completion time, computes the total duration and
// derives throughput from the file size.
func (e *PipelineExecution) MarkCompleted(success bool) {
	now := time.Now()
	e.CompletedAt = &now
	d := now.Sub(e.StartedAt)
	if d < 0 {
		d = 0
	}
	e.TotalDurationMS = float64(d) / float64(time.Millisecond)
	if success {
		e.OverallStatus = StageSuccess
	} else {
		e.OverallStatus = StageFailed
	}

	if e.TotalDurationMS > 0 && e.FileSize > 0 {
		bytesPerMS := float64(e.FileSize) / e.TotalDurationMS
		e.ThroughputMBps = bytesPerMS * 1000 / 1024 / 1024
	}
}

// StagePercentage returns the share of total execution time spent in the
// named stage, as a percentage.
func (e *PipelineExecution) StagePercentage(stageName string) float64 {
	if e.TotalDurationMS == 0 {
		return 0
	}
	for _, s := range e.Stages {
		if s.StageName == stageName {
			return s.DurationMS / e.TotalDurationMS * 100
		}
	}
	return 0
}

// PerformanceStats aggregates a stage's bounded history
type PerformanceStats struct {
	StageName            string  `json:"stage_name"`
	TotalExecutions      int     `json:"total_executions"`
	SuccessfulExecutions int     `json:"successful_executions"`
	FailedExecutions     int     `json:"failed_executions"`
	MinDurationMS        float64 `json:"min_duration_ms"`
	MaxDurationMS        float64 `json:"max_duration_ms"`
	AvgDurationMS        float64 `json:"avg_duration_ms"`
	MedianDurationMS     float64 `json:"median_duration_ms"`
	P95DurationMS        float64 `json:"p95_duration_ms"`
	P99DurationMS        float64 `json:"p99_duration_ms"`
	StdDevMS             float64 `json:"std_dev_ms"`
	SuccessRate          float64 `json:"success_rate"`
	TotalItemsProcessed  int     `json:"total_items_processed"`
}

// StageBreakdown is one row of the per-stage section of a pipeline report
type StageBreakdown struct {
	Stage         string  `json:"stage"`
	TotalRuns     int     `json:"total_runs"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	P95DurationMS float64 `json:"p95_duration_ms"`
	P99DurationMS float64 `json:"p99_duration_ms"`
}

// PipelineReport summarizes executions started within a look-back window
type PipelineReport struct {
	PeriodHours          int              `json:"period_hours"`
	TotalExecutions      int              `json:"total_executions"`
	SuccessfulExecutions int              `json:"successful_executions"`
	FailedExecutions     int              `json:"failed_executions"`
	SuccessRate          float64          `json:"success_rate"`
	AvgTotalDurationMS   float64          `json:"avg_total_duration_ms"`
	MinTotalDurationMS   float64          `json:"min_total_duration_ms"`
	MaxTotalDurationMS   float64          `json:"max_total_duration_ms"`
	P95TotalDurationMS   float64          `json:"p95_total_duration_ms"`
	P99TotalDurationMS   float64          `json:"p99_total_duration_ms"`
	ThroughputPerHour    float64          `json:"throughput_documents_per_hour"`
	StageBreakdown       []StageBreakdown `json:"stage_breakdown"`
}

// Bottleneck flags a stage that dominates execution time
type Bottleneck struct {
	Stage           string  `json:"stage"`
	AvgShareOfTotal float64 `json:"avg_percentage_of_total"`
	AvgDurationMS   float64 `json:"avg_duration_ms"`
	P95DurationMS   float64 `json:"p95_duration_ms"`
}
