package database

import (
	"context"
	"time"

	"docflow/internal/config"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Database interface {
	Health() error
	JobArchive
	AuditSink
}

type mongoDB struct {
	client *mongo.Client
	db     *mongo.Database

	jobsCol  *mongo.Collection
	auditCol *mongo.Collection
}

func New(cfg *config.Config) (Database, error) {
	clientOptions := options.Client().ApplyURI(cfg.MongoDB.URI)
	if cfg.MongoDB.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: cfg.MongoDB.Username,
			Password: cfg.MongoDB.Password,
		})
	}

	client, err := mongo.Connect(context.TODO(), clientOptions)
	if err != nil {
		return nil, err
	}

	db := client.Database(cfg.MongoDB.DB)

	jobsCol := db.Collection("jobs")
	jobIndexModels := []mongo.IndexModel{
		{
			// Index for status-based queries
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index(),
		},
		{
			// Index for sorting by creation date
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index(),
		},
		{
			// TTL index to auto-delete old completed jobs
			Keys:    bson.D{{Key: "completed_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(60 * 60 * 24 * 30),
		},
	}

	auditCol := db.Collection("stage_audit")
	auditIndexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "job_id", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "recorded_at", Value: -1}},
			Options: options.Index(),
		},
	}

	if _, err := jobsCol.Indexes().CreateMany(context.Background(), jobIndexModels); err != nil {
		log.Warn().Err(err).Str("Collection", "Jobs").Msg("Error creating indexes")
	}
	if _, err := auditCol.Indexes().CreateMany(context.Background(), auditIndexModels); err != nil {
		log.Warn().Err(err).Str("Collection", "StageAudit").Msg("Error creating indexes")
	}

	return &mongoDB{
		client:   client,
		db:       db,
		jobsCol:  jobsCol,
		auditCol: auditCol,
	}, nil
}

// Health implements Database interface
func (m *mongoDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	err := m.client.Ping(ctx, nil)
	if err != nil {
		log.Error().Msgf("Database health error: %v", err)
		return err
	}

	return nil
}
