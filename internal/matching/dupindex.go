package matching

import (
	"context"
	"sync"
	"time"

	"docflow/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisIndex is the production duplicate index, shared across pipeline
// processes through Redis.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

// NewRedisIndex connects to Redis and verifies the connection.
func NewRedisIndex(cfg config.RedisConfig) (*RedisIndex, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("Failed to connect to Redis")
		return nil, err
	}

	log.Info().
		Str("address", cfg.Address).
		Str("prefix", cfg.Prefix).
		Int("db", cfg.DB).
		Msg("Duplicate index initialized")

	return &RedisIndex{
		client: client,
		prefix: cfg.Prefix,
	}, nil
}

func (r *RedisIndex) key(vendorTaxID, invoiceID string) string {
	return r.prefix + ":dup:" + vendorTaxID + ":" + invoiceID
}

func (r *RedisIndex) Seen(ctx context.Context, vendorTaxID, invoiceID string) (bool, error) {
	err := r.client.Get(ctx, r.key(vendorTaxID, invoiceID)).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Record marks the pair as processed. SetNX keeps the first job reference
// when two workers race on the same invoice.
func (r *RedisIndex) Record(ctx context.Context, vendorTaxID, invoiceID, ref string) error {
	if ref == "" {
		ref = "1"
	}
	return r.client.SetNX(ctx, r.key(vendorTaxID, invoiceID), ref, 0).Err()
}

func (r *RedisIndex) Close() error {
	log.Info().Msg("Closing duplicate index connection")
	return r.client.Close()
}

// MemoryIndex is a process-local duplicate index used in tests and when
// Redis is unavailable.
type MemoryIndex struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{seen: make(map[string]string)}
}

func (m *MemoryIndex) Seen(_ context.Context, vendorTaxID, invoiceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[vendorTaxID+":"+invoiceID]
	return ok, nil
}

func (m *MemoryIndex) Record(_ context.Context, vendorTaxID, invoiceID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := vendorTaxID + ":" + invoiceID
	if _, ok := m.seen[key]; !ok {
		m.seen[key] = ref
	}
	return nil
}
