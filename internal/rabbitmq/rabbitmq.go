package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docflow/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Delivery is a single message pulled from a lane. The tag is used for
// acknowledgement against the same client.
type Delivery struct {
	Body    []byte
	Headers amqp.Table
	Tag     uint64
}

type Client interface {
	Close() error

	// DeclareTopology sets up the dead-letter exchange, the three priority
	// lanes and the DLQ lane with their TTL and overflow arguments.
	DeclareTopology() error

	Publish(exchange, routingKey string, body []byte, headers amqp.Table) error

	// Get polls a single message from a lane. The second return value is
	// false when the lane is empty.
	Get(queueName string) (*Delivery, bool, error)
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error

	Health() error
}

type client struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	config       config.RabbitMQConfig
	mu           sync.Mutex
	reconnecting bool
	notifyClose  chan *amqp.Error
}

func NewClientFromConfig(cfg config.RabbitMQConfig) (Client, error) {
	c := &client{
		config:       cfg,
		reconnecting: false,
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	// Setup reconnection handling
	c.setupReconnect()

	return c, nil
}

func (c *client) connect() error {
	amqpURL := fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		c.config.Username,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	conn, err := amqp.DialConfig(amqpURL, amqp.Config{
		Heartbeat: 30 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to RabbitMQ")
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open RabbitMQ channel")
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if c.config.PrefetchCount > 0 {
		if err := ch.Qos(c.config.PrefetchCount, 0, false); err != nil {
			log.Error().Err(err).Msg("Failed to set channel QoS")
			conn.Close()
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	c.conn = conn
	c.channel = ch

	log.Info().
		Str("host", c.config.Host).
		Int("port", c.config.Port).
		Str("vhost", c.config.VHost).
		Msg("RabbitMQ connection established")

	return nil
}

func (c *client) setupReconnect() {
	c.notifyClose = c.conn.NotifyClose(make(chan *amqp.Error))

	// Start a goroutine to handle connection failures
	go func() {
		for err := range c.notifyClose {
			log.Warn().
				Str("reason", err.Reason).
				Int("code", err.Code).
				Bool("recover", err.Recover).
				Msg("RabbitMQ connection closed, attempting to reconnect...")

			c.doReconnect()
		}
	}()
}

func (c *client) doReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reconnecting {
		return
	}

	c.reconnecting = true
	defer func() { c.reconnecting = false }()

	if c.channel != nil {
		c.channel.Close()
	}

	if c.conn != nil && !c.conn.IsClosed() {
		c.conn.Close()
	}

	// Attempt reconnection with backoff
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		log.Info().Dur("backoff", backoff).Msg("Attempting to reconnect to RabbitMQ")

		if err := c.connect(); err != nil {
			log.Error().Err(err).Msg("Failed to reconnect to RabbitMQ")

			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.notifyClose = c.conn.NotifyClose(make(chan *amqp.Error))

		// Lanes and bindings do not survive a broker restart when the node
		// lost its disk, so declare them again.
		if err := c.declareTopologyLocked(); err != nil {
			log.Error().Err(err).Msg("Failed to redeclare topology after reconnect")
		}

		log.Info().Msg("Successfully reconnected to RabbitMQ")
		return
	}
}

// ensureConnectedLocked reopens the connection if it dropped. Callers must
// hold the mutex.
func (c *client) ensureConnectedLocked(action string) error {
	if c.conn == nil || c.channel == nil || c.conn.IsClosed() {
		if err := c.connect(); err != nil {
			return fmt.Errorf("failed to reconnect before %s: %w", action, err)
		}
		c.setupReconnect()
	}
	return nil
}

func (c *client) DeclareTopology() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked("declaring topology"); err != nil {
		return err
	}

	return c.declareTopologyLocked()
}

func (c *client) declareTopologyLocked() error {
	if err := c.channel.ExchangeDeclare(
		c.config.DLXName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		log.Error().Err(err).Str("exchange", c.config.DLXName).Msg("Failed to declare dead-letter exchange")
		return err
	}

	// Messages aging out of a priority lane are routed to the DLQ lane by
	// the broker itself, without worker involvement.
	laneArgs := amqp.Table{
		"x-dead-letter-exchange":    c.config.DLXName,
		"x-dead-letter-routing-key": c.config.DLQQueue,
		"x-message-ttl":             int64(c.config.MessageTTLHours) * 60 * 60 * 1000,
	}

	for _, lane := range []string{c.config.HighQueue, c.config.NormalQueue, c.config.LowQueue} {
		if _, err := c.channel.QueueDeclare(lane, true, false, false, false, laneArgs); err != nil {
			log.Error().Err(err).Str("queue", lane).Msg("Failed to declare priority lane")
			return err
		}
	}

	dlqArgs := amqp.Table{
		"x-message-ttl": int64(c.config.DLQRetentionDays) * 24 * 60 * 60 * 1000,
		"x-max-length":  int32(c.config.DLQMaxLength),
	}
	if _, err := c.channel.QueueDeclare(c.config.DLQQueue, true, false, false, false, dlqArgs); err != nil {
		log.Error().Err(err).Str("queue", c.config.DLQQueue).Msg("Failed to declare DLQ lane")
		return err
	}

	if err := c.channel.QueueBind(c.config.DLQQueue, c.config.DLQQueue, c.config.DLXName, false, nil); err != nil {
		log.Error().Err(err).
			Str("queue", c.config.DLQQueue).
			Str("exchange", c.config.DLXName).
			Msg("Failed to bind DLQ lane")
		return err
	}

	log.Info().
		Str("dlx", c.config.DLXName).
		Str("dlq", c.config.DLQQueue).
		Msg("Queue topology declared")
	return nil
}

func (c *client) Publish(exchange, routingKey string, body []byte, headers amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked("publishing"); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers:      headers,
	})

	if err != nil {
		log.Error().
			Err(err).
			Str("exchange", exchange).
			Str("routingKey", routingKey).
			Msg("Failed to publish message")
		return err
	}

	log.Debug().
		Str("exchange", exchange).
		Str("routingKey", routingKey).
		Int("size", len(body)).
		Msg("Published message")

	return nil
}

func (c *client) Get(queueName string) (*Delivery, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked("polling"); err != nil {
		return nil, false, err
	}

	msg, ok, err := c.channel.Get(queueName, false)
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("Failed to poll queue")
		return nil, false, fmt.Errorf("get error: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return &Delivery{
		Body:    msg.Body,
		Headers: msg.Headers,
		Tag:     msg.DeliveryTag,
	}, true, nil
}

func (c *client) Ack(tag uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil {
		return fmt.Errorf("no open channel")
	}
	return c.channel.Ack(tag, false)
}

func (c *client) Nack(tag uint64, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil {
		return fmt.Errorf("no open channel")
	}
	return c.channel.Nack(tag, false, requeue)
}

func (c *client) Health() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.channel == nil {
		log.Error().Msg("RabbitMQ health check failed: nil connection or channel")
		return fmt.Errorf("nil connection or channel")
	}

	if c.conn.IsClosed() {
		log.Error().Msg("RabbitMQ connection is closed")
		return fmt.Errorf("connection is closed")
	}

	// Try a passive declare to validate channel health
	err := c.channel.ExchangeDeclarePassive(
		c.config.DLXName,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)

	if err != nil {
		log.Error().Err(err).Msg("RabbitMQ health check failed on passive exchange declare")
		return err
	}

	log.Debug().Msg("RabbitMQ is healthy")
	return nil
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close RabbitMQ channel")
			return fmt.Errorf("channel close error: %w", err)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close RabbitMQ connection")
			return fmt.Errorf("connection close error: %w", err)
		}
	}

	log.Info().Msg("RabbitMQ connection and channel closed")
	return nil
}
