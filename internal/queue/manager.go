package queue

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"docflow/internal/config"
	"docflow/internal/model"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Manager owns the job store and routes jobs onto the priority lanes.
type Manager interface {
	// Enqueue registers a job and publishes it to the lane matching its
	// priority. It always returns a job ID, broker reachable or not.
	Enqueue(ctx context.Context, documentID, filename, blobPath string, fileSize int64, priority model.JobPriority, tags map[string]string) string

	GetJobStatus(jobID string) (*model.Job, bool)

	// UpdateJobStatus sets started_at on the transition to PROCESSING and
	// completed_at on COMPLETED/FAILED. Result metadata is merged, not
	// replaced.
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage string, resultMetadata map[string]interface{})

	// MarkJobForRetry increments the retry counter while budget remains.
	// A false return means the caller must route the job to the DLQ.
	MarkJobForRetry(jobID string) bool

	MoveToDLQ(ctx context.Context, jobID, reason string)
	GetDLQItems(limit, offset int) []model.DLQItem
	ResolveDLQItem(ctx context.Context, jobID, action string) bool

	// Dequeue polls the priority lanes high to low and returns the next
	// job together with its broker delivery tag.
	Dequeue() (*model.Job, uint64, bool)
	Ack(tag uint64)
	Requeue(tag uint64)

	Stats() map[string]model.QueueStats
}

// Resolution actions accepted by ResolveDLQItem
const (
	ResolveRetry  = "retry"
	ResolveDelete = "delete"
)

type manager struct {
	store      *Store
	broker     Broker
	archive    Archiver
	cfg        config.RabbitMQConfig
	maxRetries int
}

// NewManager creates a queue manager. broker and archive may be nil; the
// manager then degrades to in-memory tracking only.
func NewManager(store *Store, broker Broker, archive Archiver, cfg config.RabbitMQConfig, maxRetries int) Manager {
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}
	return &manager{
		store:      store,
		broker:     broker,
		archive:    archive,
		cfg:        cfg,
		maxRetries: maxRetries,
	}
}

func (m *manager) laneForPriority(priority model.JobPriority) string {
	switch priority {
	case model.PriorityHigh:
		return m.cfg.HighQueue
	case model.PriorityLow:
		return m.cfg.LowQueue
	default:
		return m.cfg.NormalQueue
	}
}

func (m *manager) Enqueue(ctx context.Context, documentID, filename, blobPath string, fileSize int64, priority model.JobPriority, tags map[string]string) string {
	if priority != model.PriorityHigh && priority != model.PriorityLow {
		priority = model.PriorityNormal
	}

	job := &model.Job{
		JobID:      uuid.NewString(),
		DocumentID: documentID,
		Filename:   filename,
		BlobPath:   blobPath,
		FileSize:   fileSize,
		Priority:   priority,
		Status:     model.StatusQueued,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: m.maxRetries,
		Tags:       tags,
	}

	m.store.Put(job)
	m.persist(ctx, job)

	// Broker publish is best-effort: the job store already tracks the job,
	// so a broker outage must not fail the producer call.
	if err := m.publishJob(job, m.laneForPriority(priority)); err != nil {
		log.Warn().
			Err(err).
			Str("jobId", job.JobID).
			Str("priority", string(priority)).
			Msg("Failed to publish job to broker, tracked in job store only")
	} else {
		log.Info().
			Str("jobId", job.JobID).
			Str("documentId", documentID).
			Str("priority", string(priority)).
			Msg("Job enqueued")
	}

	return job.JobID
}

func (m *manager) publishJob(job *model.Job, lane string) error {
	if m.broker == nil {
		return nil
	}

	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	headers := amqp.Table{
		"job_id":      job.JobID,
		"document_id": job.DocumentID,
	}

	// Priority lanes bind through the default exchange; only dead-letter
	// traffic goes through the DLX.
	return m.broker.Publish("", lane, body, headers)
}

func (m *manager) GetJobStatus(jobID string) (*model.Job, bool) {
	return m.store.Get(jobID)
}

func (m *manager) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage string, resultMetadata map[string]interface{}) {
	updated, ok := m.store.Update(jobID, func(job *model.Job) {
		if job.Terminal() {
			log.Warn().
				Str("jobId", jobID).
				Str("status", string(job.Status)).
				Msg("Ignoring status update on terminal job")
			return
		}

		job.Status = status
		if errorMessage != "" {
			job.ErrorMessage = errorMessage
		}
		if len(resultMetadata) > 0 {
			if job.ResultMetadata == nil {
				job.ResultMetadata = make(map[string]interface{}, len(resultMetadata))
			}
			for k, v := range resultMetadata {
				job.ResultMetadata[k] = v
			}
		}

		now := time.Now().UTC()
		switch status {
		case model.StatusProcessing:
			job.StartedAt = &now
		case model.StatusCompleted, model.StatusFailed:
			job.CompletedAt = &now
		}
	})

	if !ok {
		log.Warn().Str("jobId", jobID).Msg("Status update for unknown job")
		return
	}

	m.persist(ctx, updated)
	log.Debug().Str("jobId", jobID).Str("status", string(status)).Msg("Updated job status")
}

func (m *manager) MarkJobForRetry(jobID string) bool {
	retryable := false
	updated, ok := m.store.Update(jobID, func(job *model.Job) {
		if job.Terminal() {
			return
		}
		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.Status = model.StatusRetrying
			retryable = true
		}
	})
	if !ok {
		return false
	}

	if retryable {
		log.Info().
			Str("jobId", jobID).
			Int("attempt", updated.RetryCount).
			Msg("Job marked for retry")
		m.persist(context.Background(), updated)
	} else {
		log.Warn().Str("jobId", jobID).Msg("Max retries exceeded for job")
	}
	return retryable
}

func (m *manager) MoveToDLQ(ctx context.Context, jobID, reason string) {
	updated, ok := m.store.Update(jobID, func(job *model.Job) {
		job.Status = model.StatusDLQ
		job.ErrorMessage = reason
	})
	if !ok {
		log.Warn().Str("jobId", jobID).Msg("DLQ move for unknown job")
		return
	}

	m.persist(ctx, updated)

	if m.broker != nil {
		body, err := json.Marshal(updated)
		if err == nil {
			err = m.broker.Publish(m.cfg.DLXName, m.cfg.DLQQueue, body, amqp.Table{"job_id": jobID})
		}
		if err != nil {
			log.Error().Err(err).Str("jobId", jobID).Msg("Failed to publish job to DLQ lane")
		}
	}

	log.Warn().
		Str("jobId", jobID).
		Str("reason", reason).
		Msg("Job moved to DLQ")
}

func (m *manager) GetDLQItems(limit, offset int) []model.DLQItem {
	jobs := m.store.Snapshot(func(job *model.Job) bool {
		return job.Status == model.StatusDLQ
	})

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if offset >= len(jobs) {
		return []model.DLQItem{}
	}
	end := offset + limit
	if limit <= 0 || end > len(jobs) {
		end = len(jobs)
	}

	items := make([]model.DLQItem, 0, end-offset)
	for _, job := range jobs[offset:end] {
		items = append(items, model.NewDLQItem(job))
	}
	return items
}

func (m *manager) ResolveDLQItem(ctx context.Context, jobID, action string) bool {
	job, ok := m.store.Get(jobID)
	if !ok || job.Status != model.StatusDLQ {
		return false
	}

	switch action {
	case ResolveRetry:
		updated, _ := m.store.Update(jobID, func(j *model.Job) {
			j.Status = model.StatusQueued
			j.ErrorMessage = ""
			j.RetryCount = 0
		})
		m.persist(ctx, updated)

		if err := m.publishJob(updated, m.laneForPriority(updated.Priority)); err != nil {
			log.Error().Err(err).Str("jobId", jobID).Msg("Failed to requeue DLQ item")
			return false
		}
		log.Info().Str("jobId", jobID).Msg("DLQ item requeued")
		return true

	case ResolveDelete:
		m.store.Delete(jobID)
		if m.archive != nil {
			if err := m.archive.DeleteJob(ctx, jobID); err != nil {
				log.Warn().Err(err).Str("jobId", jobID).Msg("Failed to delete archived job")
			}
		}
		log.Info().Str("jobId", jobID).Msg("DLQ item deleted")
		return true
	}

	return false
}

func (m *manager) Dequeue() (*model.Job, uint64, bool) {
	if m.broker == nil {
		return nil, 0, false
	}

	for _, lane := range []string{m.cfg.HighQueue, m.cfg.NormalQueue, m.cfg.LowQueue} {
		delivery, ok, err := m.broker.Get(lane)
		if err != nil {
			log.Warn().Err(err).Str("queue", lane).Msg("Error polling lane")
			continue
		}
		if !ok {
			continue
		}

		var payload model.Job
		if err := json.Unmarshal(delivery.Body, &payload); err != nil {
			log.Error().Err(err).Str("queue", lane).Msg("Malformed job payload, discarding")
			if err := m.broker.Nack(delivery.Tag, false); err != nil {
				log.Warn().Err(err).Msg("Failed to nack malformed message")
			}
			continue
		}

		// The store copy is authoritative; the payload only fills in after
		// a process restart wiped the in-memory table.
		job, found := m.store.Get(payload.JobID)
		if !found {
			job = payload.Clone()
			m.store.Put(payload.Clone())
		}

		return job, delivery.Tag, true
	}

	return nil, 0, false
}

func (m *manager) Ack(tag uint64) {
	if m.broker == nil {
		return
	}
	if err := m.broker.Ack(tag); err != nil {
		log.Warn().Err(err).Uint64("tag", tag).Msg("Failed to ack delivery")
	}
}

func (m *manager) Requeue(tag uint64) {
	if m.broker == nil {
		return
	}
	if err := m.broker.Nack(tag, true); err != nil {
		log.Warn().Err(err).Uint64("tag", tag).Msg("Failed to requeue delivery")
	}
}

func (m *manager) Stats() map[string]model.QueueStats {
	out := make(map[string]model.QueueStats)
	durations := make(map[string][]float64)
	minuteAgo := time.Now().UTC().Add(-time.Minute)

	for _, job := range m.store.Snapshot(nil) {
		key := string(job.Priority)
		qs := out[key]
		qs.QueueName = key
		qs.TotalJobs++

		switch job.Status {
		case model.StatusQueued:
			qs.QueuedJobs++
		case model.StatusProcessing:
			qs.ProcessingJobs++
		case model.StatusCompleted:
			qs.CompletedJobs++
			if job.StartedAt != nil && job.CompletedAt != nil {
				durations[key] = append(durations[key], float64(job.CompletedAt.Sub(*job.StartedAt))/float64(time.Millisecond))
			}
			if job.CompletedAt != nil && job.CompletedAt.After(minuteAgo) {
				qs.ThroughputPerMinute++
			}
		case model.StatusFailed:
			qs.FailedJobs++
		case model.StatusRetrying:
			qs.RetryingJobs++
		case model.StatusDLQ:
			qs.DLQJobs++
		}
		out[key] = qs
	}

	for key, ds := range durations {
		qs := out[key]
		if avg, err := stats.Mean(ds); err == nil {
			qs.AvgProcessingTimeMS = avg
		}
		if p95, err := stats.Percentile(ds, 95); err == nil {
			qs.P95ProcessingTimeMS = p95
		}
		if p99, err := stats.Percentile(ds, 99); err == nil {
			qs.P99ProcessingTimeMS = p99
		}
		out[key] = qs
	}

	return out
}

func (m *manager) persist(ctx context.Context, job *model.Job) {
	if m.archive == nil || job == nil {
		return
	}
	if err := m.archive.SaveJob(ctx, job); err != nil {
		log.Warn().Err(err).Str("jobId", job.JobID).Msg("Failed to persist job snapshot")
	}
}
