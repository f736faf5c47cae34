// Package messaging ships dapp activity events over RabbitMQ.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/observability"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ActivityExchange   = "wallet.activity"
	ActivityAuditQueue = "wallet.activity.audit"
)

// RabbitMQ publishes activity events to a fanout exchange
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
}

// NewRabbitMQ connects and declares the activity topology
func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// NewRabbitMQWithRetry keeps dialing with exponential backoff until ctx ends
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	var rmq *RabbitMQ
	operation := func() error {
		var err error
		rmq, err = NewRabbitMQ(url)
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("rabbitmq not ready, retrying",
			slog.String("error", err.Error()),
			slog.Duration("wait", wait))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("giving up on rabbitmq: %w", err)
	}
	return rmq, nil
}

// Setup declares the fanout exchange and the durable audit queue bound to it
func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		ActivityExchange, // name
		"fanout",         // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	); err != nil {
		return fmt.Errorf("failed to declare activity exchange: %w", err)
	}

	if _, err := r.channel.QueueDeclare(
		ActivityAuditQueue, // name
		true,               // durable
		false,              // delete when unused
		false,              // exclusive
		false,              // no-wait
		nil,                // arguments
	); err != nil {
		return fmt.Errorf("failed to declare %s queue: %w", ActivityAuditQueue, err)
	}

	if err := r.channel.QueueBind(
		ActivityAuditQueue, // queue name
		"",                 // routing key
		ActivityExchange,   // exchange
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind %s queue: %w", ActivityAuditQueue, err)
	}

	slog.Info("rabbitmq setup completed successfully")
	return nil
}

// PublishActivity implements domain.ActivityPublisher
func (r *RabbitMQ) PublishActivity(ctx context.Context, event *domain.ActivityEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		observability.ActivityPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	r.mu.Lock()
	err = r.channel.PublishWithContext(
		ctx,
		ActivityExchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Type:         event.Outcome,
		},
	)
	r.mu.Unlock()

	if err != nil {
		observability.ActivityPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish activity: %w", err)
	}

	observability.ActivityPublishedTotal.WithLabelValues("ok").Inc()
	slog.Debug("published activity",
		slog.String("method", event.Method),
		slog.String("outcome", event.Outcome))
	return nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// NoopPublisher drops activity events. It is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishActivity(ctx context.Context, event *domain.ActivityEvent) error {
	observability.ActivityPublishedTotal.WithLabelValues("dropped").Inc()
	return nil
}
