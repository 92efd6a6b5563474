package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Fahm-Gah/hesarak-backend/internal/logger"
)

// RabbitPublisher publishes ticket events to a durable RabbitMQ queue
// through the default exchange.  Each Publish dials its own connection,
// so a broker outage never poisons a shared channel.
type RabbitPublisher struct {
	url   string
	queue string
	log   *logger.Logger
}

func NewRabbitPublisher(url, queue string, log *logger.Logger) *RabbitPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &RabbitPublisher{url: url, queue: queue, log: log}
}

// Publish sends ev as a persistent JSON message.  Errors are logged and
// returned so the caller can choose to ignore them.
func (p *RabbitPublisher) Publish(ctx context.Context, ev TicketEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.ErrorWithContext(ctx, "rabbitmq: dial failed", err, nil)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.ErrorWithContext(ctx, "rabbitmq: channel open failed", err, nil)
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		p.log.ErrorWithContext(ctx, "rabbitmq: queue declare failed", err, map[string]interface{}{"queue": p.queue})
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		MessageId:    ev.TicketNumber,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.log.ErrorWithContext(ctx, "rabbitmq: publish failed", err, map[string]interface{}{"ticket": ev.TicketNumber})
		return err
	}
	return nil
}

func (p *RabbitPublisher) Close() error { return nil }
