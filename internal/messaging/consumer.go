package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

const auditTimeout = 30 * time.Second

// ActivityHandler receives each activity event read from the exchange
type ActivityHandler func(ctx context.Context, event *domain.ActivityEvent)

// ActivityConsumer feeds activity events from the fanout exchange to a
// handler. Each instance gets its own auto-deleted queue.
type ActivityConsumer struct {
	rmq     *RabbitMQ
	handler ActivityHandler
}

func NewActivityConsumer(rmq *RabbitMQ, handler ActivityHandler) *ActivityConsumer {
	return &ActivityConsumer{rmq: rmq, handler: handler}
}

func (c *ActivityConsumer) Start(ctx context.Context) error {
	queue, err := c.rmq.channel.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare activity feed queue: %w", err)
	}

	if err := c.rmq.channel.QueueBind(
		queue.Name,       // queue name
		"",               // routing key
		ActivityExchange, // exchange
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind activity feed queue: %w", err)
	}

	msgs, err := c.rmq.channel.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return fmt.Errorf("failed to register activity consumer: %w", err)
	}

	slog.Info("started consuming activity events",
		slog.String("queue", queue.Name),
		slog.String("exchange", ActivityExchange))

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping activity consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("activity consumer channel closed")
					return
				}
				c.process(ctx, msg.Body)
			}
		}
	}()

	return nil
}

func (c *ActivityConsumer) process(ctx context.Context, body []byte) {
	event, ok := decodeActivity(body)
	if !ok {
		return
	}
	c.handler(ctx, event)
}

func decodeActivity(body []byte) (*domain.ActivityEvent, bool) {
	var event domain.ActivityEvent
	if err := json.Unmarshal(body, &event); err != nil {
		slog.Error("error unmarshaling activity",
			slog.String("error", err.Error()),
			slog.Int("body_size", len(body)))
		return nil, false
	}
	if event.RequestID == "" || event.Method == "" {
		slog.Warn("dropping incomplete activity event", slog.String("id", event.ID))
		return nil, false
	}
	return &event, true
}

// AuditHandler persists one activity event. A returned error leaves the
// message for one redelivery.
type AuditHandler func(ctx context.Context, event *domain.ActivityEvent) error

// AuditConsumer drains the durable audit queue with manual acks
type AuditConsumer struct {
	rmq     *RabbitMQ
	handler AuditHandler
}

func NewAuditConsumer(rmq *RabbitMQ, handler AuditHandler) *AuditConsumer {
	return &AuditConsumer{rmq: rmq, handler: handler}
}

// Start begins consuming and returns once the consumer is registered.
// Delivery stops when ctx is cancelled.
func (c *AuditConsumer) Start(ctx context.Context) error {
	if err := c.rmq.channel.Qos(10, 0, false); err != nil {
		return fmt.Errorf("failed to set audit prefetch: %w", err)
	}

	msgs, err := c.rmq.channel.Consume(
		ActivityAuditQueue, // queue
		"",                 // consumer
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		return fmt.Errorf("failed to register audit consumer: %w", err)
	}

	slog.Info("started consuming audit queue", slog.String("queue", ActivityAuditQueue))

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping audit consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("audit consumer channel closed")
					return
				}
				c.deliver(ctx, msg)
			}
		}
	}()

	return nil
}

// acknowledger is the part of amqp.Delivery deliver settles messages through
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *AuditConsumer) deliver(ctx context.Context, msg amqp.Delivery) {
	c.settle(ctx, &msg, msg.Body, msg.Redelivered)
}

func (c *AuditConsumer) settle(ctx context.Context, ack acknowledger, body []byte, redelivered bool) {
	event, ok := decodeActivity(body)
	if !ok {
		observability.ActivityAuditedTotal.WithLabelValues("dropped").Inc()
		if err := ack.Nack(false, false); err != nil {
			slog.Warn("failed to nack audit message", slog.String("error", err.Error()))
		}
		return
	}

	msgCtx, cancel := context.WithTimeout(ctx, auditTimeout)
	defer cancel()

	if err := c.handler(msgCtx, event); err != nil {
		observability.ActivityAuditedTotal.WithLabelValues("error").Inc()
		slog.Error("failed to audit activity",
			slog.String("id", event.ID),
			slog.Bool("redelivered", redelivered),
			slog.String("error", err.Error()))
		if err := ack.Nack(false, !redelivered); err != nil {
			slog.Warn("failed to nack audit message", slog.String("error", err.Error()))
		}
		return
	}

	observability.ActivityAuditedTotal.WithLabelValues("stored").Inc()
	if err := ack.Ack(false); err != nil {
		slog.Warn("failed to ack audit message", slog.String("error", err.Error()))
	}
}
