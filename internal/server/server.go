package server

import (
	"fmt"
	"net/http"
	"time"

	"docflow/internal/config"
	"docflow/internal/database"
	"docflow/internal/queue"
	"docflow/internal/rabbitmq"
	"docflow/internal/storage"
	"docflow/internal/tracker"
)

type Server struct {
	config  config.Config
	manager queue.Manager
	tracker *tracker.Tracker
	blobs   storage.BlobStore
	db      database.Database
	rabbit  rabbitmq.Client
}

// New wires the API server. db and rabbit may be nil; the health endpoint
// then reports them as skipped.
func New(cfg config.Config, manager queue.Manager, trk *tracker.Tracker, blobs storage.BlobStore, db database.Database, rabbit rabbitmq.Client) *http.Server {
	server := Server{
		config:  cfg,
		manager: manager,
		tracker: trk,
		blobs:   blobs,
		db:      db,
		rabbit:  rabbit,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%v", cfg.Port),
		Handler:      server.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
