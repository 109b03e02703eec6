package queue

import (
	"context"

	"docflow/internal/model"
	"docflow/internal/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the slice of the message broker the queue manager depends on.
// A nil broker means Job-Store-only mode: enqueue and status tracking keep
// working, only delivery to workers stops.
type Broker interface {
	Publish(exchange, routingKey string, body []byte, headers amqp.Table) error
	Get(queueName string) (*rabbitmq.Delivery, bool, error)
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
}

// Archiver persists job snapshots outside the process. Persistence is
// best-effort; failures are logged by the manager and never surfaced to
// producers.
type Archiver interface {
	SaveJob(ctx context.Context, job *model.Job) error
	DeleteJob(ctx context.Context, jobID string) error
}
