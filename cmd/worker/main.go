package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docflow/internal/config"
	"docflow/internal/database"
	"docflow/internal/matching"
	"docflow/internal/queue"
	"docflow/internal/rabbitmq"
	"docflow/internal/storage"
	"docflow/internal/tracker"
	"docflow/internal/worker"
	"docflow/pkg/ledger"
	"docflow/pkg/ocr"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Headless worker pool for scaling processing out independently of the API.
func main() {
	// Set up logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	configPath := "config/config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// A worker without a broker has nothing to consume.
	rabbit, err := rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RabbitMQ client")
	}
	defer rabbit.Close()

	if err := rabbit.DeclareTopology(); err != nil {
		log.Fatal().Err(err).Msg("Failed to declare queue topology")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("MongoDB unavailable, job snapshots will not survive restarts")
		db = nil
	}

	blobs, err := storage.NewBlobStore(cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob storage")
	}

	store := queue.NewStore()

	var archive queue.Archiver
	var audit database.AuditSink
	if db != nil {
		archive = db
		audit = db
	}

	manager := queue.NewManager(store, rabbit, archive, cfg.RabbitMQ, cfg.Pipeline.MaxRetries)

	if db != nil {
		jobs, err := db.ListUnfinishedJobs(context.Background(), cfg.Pipeline.HistoryLimit)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to rebuild job store from archive")
		} else {
			for _, job := range jobs {
				store.Put(job)
			}
			log.Info().Int("jobs", len(jobs)).Msg("Rebuilt job store from archive")
		}
	}

	trk := tracker.New(cfg.Pipeline.HistoryLimit)

	var index matching.DuplicateIndex
	redisIndex, err := matching.NewRedisIndex(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, duplicate detection is process-local")
		index = matching.NewMemoryIndex()
	} else {
		defer redisIndex.Close()
		index = redisIndex
	}

	engine := matching.NewEngine(index, ledger.New(cfg.Ledger.BaseURL, cfg.Ledger.APIKey, time.Duration(cfg.Ledger.TimeoutSeconds)*time.Second))
	extractor := ocr.New(cfg.OCR.BaseURL, cfg.OCR.APIKey, time.Duration(cfg.OCR.TimeoutSeconds)*time.Second)

	pool := worker.NewPool(cfg.Pipeline, worker.Deps{
		Manager:   manager,
		Tracker:   trk,
		Blobs:     blobs,
		Extractor: extractor,
		Matcher:   engine,
		Audit:     audit,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	log.Info().Msg("Worker pool running. Press CTRL+C to exit.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down...")
	cancel()
	pool.Stop()
}
