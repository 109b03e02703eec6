package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config represents the entire application configuration
type Config struct {
	Env      string         `json:"env"`
	Port     int            `json:"port"`
	AppName  string         `json:"app_name"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	MongoDB  MongoDBConfig  `json:"mongodb"`
	Redis    RedisConfig    `json:"redis"`
	S3       S3Config       `json:"s3"`
	OCR      OCRConfig      `json:"ocr"`
	Ledger   LedgerConfig   `json:"ledger"`
	Pipeline PipelineConfig `json:"pipeline"`
	Logging  LoggingConfig  `json:"logging"`
	CORS     CORSConfig     `json:"cors"`
}

// RabbitMQConfig contains broker connection details and lane names
type RabbitMQConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	VHost            string `json:"vhost"`
	PrefetchCount    int    `json:"prefetch_count"`
	DLXName          string `json:"dlx_name"`
	HighQueue        string `json:"high_queue"`
	NormalQueue      string `json:"normal_queue"`
	LowQueue         string `json:"low_queue"`
	DLQQueue         string `json:"dlq_queue"`
	MessageTTLHours  int    `json:"message_ttl_hours"`
	DLQRetentionDays int    `json:"dlq_retention_days"`
	DLQMaxLength     int    `json:"dlq_max_length"`
}

// MongoDBConfig contains MongoDB connection details
type MongoDBConfig struct {
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       string `json:"db"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// S3Config contains blob storage credentials and bucket details
type S3Config struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
}

// OCRConfig points at the external extraction provider
type OCRConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// LedgerConfig points at the external open-items system
type LedgerConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// PipelineConfig tunes the worker pool and tracker
type PipelineConfig struct {
	WorkerCount   int `json:"worker_count"`
	BatchSize     int `json:"batch_size"`
	MaxRetries    int `json:"max_retries"`
	HistoryLimit  int `json:"history_limit"`
	IdleBackoffMS int `json:"idle_backoff_ms"`
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"`
}

// LoadConfig reads configuration from the specified file path
func LoadConfig(filePath string) (*Config, error) {
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.RabbitMQ.DLXName == "" {
		c.RabbitMQ.DLXName = "invoice_ingest_dlx"
	}
	if c.RabbitMQ.HighQueue == "" {
		c.RabbitMQ.HighQueue = "invoice_ingest_high"
	}
	if c.RabbitMQ.NormalQueue == "" {
		c.RabbitMQ.NormalQueue = "invoice_ingest_normal"
	}
	if c.RabbitMQ.LowQueue == "" {
		c.RabbitMQ.LowQueue = "invoice_ingest_low"
	}
	if c.RabbitMQ.DLQQueue == "" {
		c.RabbitMQ.DLQQueue = "invoice_ingest_dlq"
	}
	if c.RabbitMQ.MessageTTLHours == 0 {
		c.RabbitMQ.MessageTTLHours = 24
	}
	if c.RabbitMQ.DLQRetentionDays == 0 {
		c.RabbitMQ.DLQRetentionDays = 7
	}
	if c.RabbitMQ.DLQMaxLength == 0 {
		c.RabbitMQ.DLQMaxLength = 10000
	}
	if c.Pipeline.WorkerCount == 0 {
		c.Pipeline.WorkerCount = 3
	}
	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = 1
	}
	if c.Pipeline.MaxRetries == 0 {
		c.Pipeline.MaxRetries = 3
	}
	if c.Pipeline.HistoryLimit == 0 {
		c.Pipeline.HistoryLimit = 1000
	}
	if c.Pipeline.IdleBackoffMS == 0 {
		c.Pipeline.IdleBackoffMS = 500
	}
	if c.OCR.TimeoutSeconds == 0 {
		c.OCR.TimeoutSeconds = 60
	}
	if c.Ledger.TimeoutSeconds == 0 {
		c.Ledger.TimeoutSeconds = 15
	}
}
