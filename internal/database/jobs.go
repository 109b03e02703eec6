package database

import (
	"context"
	"errors"
	"time"

	"docflow/internal/model"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// JobArchive persists job snapshots so status survives process restarts.
// The in-memory job store remains authoritative while the process lives.
type JobArchive interface {
	// SaveJob upserts the current job snapshot
	SaveJob(ctx context.Context, job *model.Job) error

	// GetJob fetches an archived job by ID
	GetJob(ctx context.Context, jobID string) (*model.Job, error)

	// DeleteJob permanently removes an archived job
	DeleteJob(ctx context.Context, jobID string) error

	// ListUnfinishedJobs returns jobs that were still in flight or dead-
	// lettered, used to rebuild the job store at startup
	ListUnfinishedJobs(ctx context.Context, limit int) ([]*model.Job, error)
}

// SaveJob upserts the job snapshot keyed by job ID
func (m *mongoDB) SaveJob(ctx context.Context, job *model.Job) error {
	opts := options.Replace().SetUpsert(true)

	_, err := m.jobsCol.ReplaceOne(ctx, bson.M{"_id": job.JobID}, job, opts)
	if err != nil {
		log.Error().Err(err).Str("jobID", job.JobID).Msg("Failed to save job snapshot")
		return err
	}

	log.Debug().Str("jobID", job.JobID).Str("status", string(job.Status)).Msg("Saved job snapshot")
	return nil
}

// GetJob fetches an archived job by ID
func (m *mongoDB) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	err := m.jobsCol.FindOne(ctx, bson.M{"_id": jobID}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.New("job not found")
		}
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to get archived job")
		return nil, err
	}

	return &job, nil
}

// DeleteJob permanently removes an archived job
func (m *mongoDB) DeleteJob(ctx context.Context, jobID string) error {
	_, err := m.jobsCol.DeleteOne(ctx, bson.M{"_id": jobID})
	if err != nil {
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to delete archived job")
		return err
	}

	log.Debug().Str("jobID", jobID).Msg("Deleted archived job")
	return nil
}

// ListUnfinishedJobs returns queued, processing, retrying and dead-lettered
// jobs, newest first
func (m *mongoDB) ListUnfinishedJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.M{"created_at": -1})

	filter := bson.M{"status": bson.M{"$in": []model.JobStatus{
		model.StatusQueued,
		model.StatusProcessing,
		model.StatusRetrying,
		model.StatusFailed,
		model.StatusDLQ,
	}}}

	cursor, err := m.jobsCol.Find(ctx, filter, opts)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list unfinished jobs")
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []*model.Job
	if err := cursor.All(ctx, &jobs); err != nil {
		log.Error().Err(err).Msg("Failed to decode jobs")
		return nil, err
	}

	return jobs, nil
}

// AuditSink records stage transitions for operator history. Writes are
// fire-and-forget from the worker's point of view.
type AuditSink interface {
	RecordStageTransition(ctx context.Context, jobID, stage, status, message string) error
}

type stageTransition struct {
	JobID      string    `bson:"job_id"`
	Stage      string    `bson:"stage"`
	Status     string    `bson:"status"`
	Message    string    `bson:"message,omitempty"`
	RecordedAt time.Time `bson:"recorded_at"`
}

// RecordStageTransition appends one audit row
func (m *mongoDB) RecordStageTransition(ctx context.Context, jobID, stage, status, message string) error {
	_, err := m.auditCol.InsertOne(ctx, stageTransition{
		JobID:      jobID,
		Stage:      stage,
		Status:     status,
		Message:    message,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("jobID", jobID).Str("stage", stage).Msg("Failed to record stage transition")
		return err
	}

	return nil
}
