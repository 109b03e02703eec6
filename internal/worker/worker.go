package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"docflow/internal/database"
	"docflow/internal/model"
	"docflow/internal/queue"
	"docflow/internal/storage"
	"docflow/internal/tracker"

	"github.com/rs/zerolog/log"
)

// maxErrorMessageLen caps what gets stored on the job record; full errors
// still go to the logs
const maxErrorMessageLen = 500

// Extractor turns raw document content into structured invoice fields
type Extractor interface {
	Extract(ctx context.Context, content []byte) (model.ExtractedFields, error)
}

// Matcher classifies extracted fields against open ledger records
type Matcher interface {
	FindMatch(ctx context.Context, fields model.ExtractedFields, ref string) model.MatchResult
}

// Deps bundles the collaborators a worker needs. Audit may be nil.
type Deps struct {
	Manager   queue.Manager
	Tracker   *tracker.Tracker
	Blobs     storage.BlobStore
	Extractor Extractor
	Matcher   Matcher
	Audit     database.AuditSink
}

// Worker pulls jobs off the priority lanes and runs them through the five
// pipeline stages. Each stage reports a tagged outcome; the first non-OK
// outcome aborts the pipeline and decides whether the job retries or
// dead-letters.
type Worker struct {
	id          int
	deps        Deps
	batchSize   int
	idleBackoff time.Duration

	jobsProcessed atomic.Int64
	jobsFailed    atomic.Int64
}

func newWorker(id int, deps Deps, batchSize int, idleBackoff time.Duration) *Worker {
	return &Worker{
		id:          id,
		deps:        deps,
		batchSize:   batchSize,
		idleBackoff: idleBackoff,
	}
}

// run is the worker loop: drain up to batchSize jobs, back off when the
// lanes are empty, stop on shutdown.
func (w *Worker) run(ctx context.Context, shutdown <-chan struct{}) {
	log.Info().Int("workerId", w.id).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Int("workerId", w.id).Msg("Worker stopping, context cancelled")
			return
		case <-shutdown:
			log.Info().Int("workerId", w.id).Msg("Worker stopping")
			return
		default:
		}

		handled := 0
		for handled < w.batchSize {
			job, tag, ok := w.deps.Manager.Dequeue()
			if !ok {
				break
			}
			w.process(ctx, job, tag)
			handled++
		}

		if handled == 0 {
			select {
			case <-ctx.Done():
			case <-shutdown:
			case <-time.After(w.idleBackoff):
			}
		}
	}
}

// process runs one job through the pipeline and settles its delivery.
func (w *Worker) process(ctx context.Context, job *model.Job, tag uint64) {
	log.Info().
		Int("workerId", w.id).
		Str("jobId", job.JobID).
		Str("documentId", job.DocumentID).
		Str("priority", string(job.Priority)).
		Msg("Processing job")

	w.deps.Manager.UpdateJobStatus(ctx, job.JobID, model.StatusProcessing, "", nil)
	executionID := w.deps.Tracker.StartExecution(job.DocumentID, job.Filename, job.FileSize)

	meta, outcome := w.runPipeline(ctx, job, executionID)
	meta["execution_id"] = executionID

	if outcome.Status == OutcomeOK {
		w.deps.Manager.UpdateJobStatus(ctx, job.JobID, model.StatusCompleted, "", meta)
		w.deps.Tracker.CompleteExecution(executionID, true, "")
		w.deps.Manager.Ack(tag)
		w.jobsProcessed.Add(1)

		log.Info().
			Int("workerId", w.id).
			Str("jobId", job.JobID).
			Msg("Job completed")
		return
	}

	reason := truncate(outcome.Reason, maxErrorMessageLen)
	w.jobsFailed.Add(1)
	w.deps.Manager.UpdateJobStatus(ctx, job.JobID, model.StatusFailed, reason, meta)
	w.deps.Tracker.CompleteExecution(executionID, false, reason)

	switch {
	case outcome.Status == OutcomeFatal:
		log.Error().
			Str("jobId", job.JobID).
			Str("reason", reason).
			Msg("Fatal stage outcome, dead-lettering job")
		w.deps.Manager.MoveToDLQ(ctx, job.JobID, reason)
		w.deps.Manager.Ack(tag)

	case w.deps.Manager.MarkJobForRetry(job.JobID):
		w.deps.Manager.Requeue(tag)

	default:
		w.deps.Manager.MoveToDLQ(ctx, job.JobID, "Max retries exceeded: "+reason)
		w.deps.Manager.Ack(tag)
	}
}

// runPipeline executes the stages in order, recording each in the tracker.
// It returns the accumulated result metadata and the first non-OK outcome,
// or OK when every stage passed.
func (w *Worker) runPipeline(ctx context.Context, job *model.Job, executionID string) (map[string]interface{}, Outcome) {
	meta := make(map[string]interface{})

	// DOWNLOAD
	stage := w.deps.Tracker.StartStage(executionID, model.StageDownload, map[string]interface{}{"blob_path": job.BlobPath})
	content, err := w.deps.Blobs.Download(ctx, job.BlobPath)
	if err != nil {
		return meta, w.failStage(ctx, job, executionID, stage, meta, Retry(fmt.Sprintf("download failed: %v", err)))
	}
	stage.ItemsProcessed = 1
	w.deps.Tracker.CompleteStage(executionID, stage, true, "")

	// VALIDATE
	stage = w.deps.Tracker.StartStage(executionID, model.StageValidate, nil)
	if outcome := validateContent(job, content); outcome.Status != OutcomeOK {
		return meta, w.failStage(ctx, job, executionID, stage, meta, outcome)
	}
	stage.ItemsProcessed = 1
	w.deps.Tracker.CompleteStage(executionID, stage, true, "")

	// EXTRACT
	stage = w.deps.Tracker.StartStage(executionID, model.StageExtract, nil)
	fields, err := w.deps.Extractor.Extract(ctx, content)
	if err != nil {
		return meta, w.failStage(ctx, job, executionID, stage, meta, Retry(fmt.Sprintf("extraction failed: %v", err)))
	}
	meta["extracted_data"] = fields
	stage.ItemsProcessed = 1
	w.deps.Tracker.CompleteStage(executionID, stage, true, "")

	// MATCH: the engine absorbs ledger outages itself, so this stage only
	// fails when something unexpected happens around it.
	stage = w.deps.Tracker.StartStage(executionID, model.StageMatch, nil)
	result := w.deps.Matcher.FindMatch(ctx, fields, job.JobID)
	meta["match_status"] = string(result.Status)
	meta["match_confidence"] = result.Confidence
	if result.MatchID != "" {
		meta["match_id"] = result.MatchID
	}
	if result.Reason != "" {
		meta["match_reason"] = result.Reason
	}
	stage.ItemsProcessed = 1
	w.deps.Tracker.CompleteStage(executionID, stage, true, "")

	// PERSIST: the audit write is fire-and-forget, a sink outage must not
	// fail an otherwise processed document.
	stage = w.deps.Tracker.StartStage(executionID, model.StagePersist, nil)
	if w.deps.Audit != nil {
		if err := w.deps.Audit.RecordStageTransition(ctx, job.JobID, model.StageMatch, string(result.Status), result.Reason); err != nil {
			log.Warn().Err(err).Str("jobId", job.JobID).Msg("Failed to record match result")
		}
	}
	stage.ItemsProcessed = 1
	w.deps.Tracker.CompleteStage(executionID, stage, true, "")

	return meta, OK()
}

// failStage closes the stage as failed, stamps the failed stage into the
// result metadata and passes the outcome through.
func (w *Worker) failStage(ctx context.Context, job *model.Job, executionID string, stage *model.StageMetrics, meta map[string]interface{}, outcome Outcome) Outcome {
	stageName := ""
	if stage != nil {
		stageName = stage.StageName
		stage.ErrorCount = 1
	}
	w.deps.Tracker.CompleteStage(executionID, stage, false, outcome.Reason)
	meta["failed_stage"] = stageName

	log.Warn().
		Int("workerId", w.id).
		Str("jobId", job.JobID).
		Str("stage", stageName).
		Str("outcome", string(outcome.Status)).
		Str("reason", outcome.Reason).
		Msg("Stage failed")

	if w.deps.Audit != nil {
		if err := w.deps.Audit.RecordStageTransition(ctx, job.JobID, stageName, string(model.StageFailed), outcome.Reason); err != nil {
			log.Warn().Err(err).Str("jobId", job.JobID).Msg("Failed to audit stage failure")
		}
	}

	return outcome
}

// validateContent rejects documents that cannot possibly be processed.
// An empty blob can never extract, so it dead-letters immediately; a size
// mismatch usually means a half-finished upload and is worth retrying.
func validateContent(job *model.Job, content []byte) Outcome {
	if len(content) == 0 {
		return Fatal("document content is empty")
	}
	if job.FileSize > 0 && int64(len(content)) != job.FileSize {
		return Retry(fmt.Sprintf("content size %d does not match declared size %d", len(content), job.FileSize))
	}
	return OK()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
