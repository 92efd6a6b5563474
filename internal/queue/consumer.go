package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Fahm-Gah/hesarak-backend/internal/logger"
)

// Mailer delivers the passenger notification for a ticket event.
type Mailer interface {
	Send(ctx context.Context, msg Notification) error
}

// Notification is a rendered passenger message.
type Notification struct {
	TicketNumber string
	UserID       uint64
	Subject      string
	Body         string
}

// LogMailer writes notifications to the application log instead of
// sending them.
type LogMailer struct {
	Log *logger.Logger
}

func (m LogMailer) Send(ctx context.Context, msg Notification) error {
	l := m.Log
	if l == nil {
		l = logger.Nop()
	}
	l.InfoContext(ctx, "notification",
		"ticket", msg.TicketNumber,
		"user_id", msg.UserID,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}

// Render turns an event into the passenger message.
func Render(ev TicketEvent) (Notification, error) {
	var subject string
	switch ev.Type {
	case TicketBooked:
		subject = fmt.Sprintf("Ticket %s booked", ev.TicketNumber)
	case TicketCancelled:
		subject = fmt.Sprintf("Ticket %s cancelled", ev.TicketNumber)
	case TicketPaid:
		subject = fmt.Sprintf("Ticket %s paid", ev.TicketNumber)
	default:
		return Notification{}, fmt.Errorf("unknown event type %q", ev.Type)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s -> %s on %s (%s) at %s\n", ev.TripName, ev.From, ev.To, ev.TravelDate, ev.TravelDateLocal, ev.DepartureTime)
	fmt.Fprintf(&b, "Passenger: %s\n", ev.PassengerName)
	fmt.Fprintf(&b, "Seats: %s\n", strings.Join(ev.Seats, ", "))
	fmt.Fprintf(&b, "Total: %d (%s)\n", ev.TotalPrice, ev.PaymentMethod)
	if ev.Type == TicketBooked && ev.PaymentDeadline != "" {
		fmt.Fprintf(&b, "Pay before: %s\n", ev.PaymentDeadline)
	}
	return Notification{TicketNumber: ev.TicketNumber, UserID: ev.UserID, Subject: subject, Body: b.String()}, nil
}

// Consumer reads ticket events from RabbitMQ and hands them to a Mailer.
type Consumer struct {
	url    string
	queue  string
	mailer Mailer
	log    *logger.Logger
}

func NewConsumer(url, queue string, mailer Mailer, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.Nop()
	}
	return &Consumer{url: url, queue: queue, mailer: mailer, log: log}
}

// Run connects, declares the durable queue and consumes until ctx is
// cancelled, reconnecting with exponential backoff whenever the broker
// goes away.  Bad messages are rejected without requeue so one poison
// message cannot loop.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("ticket-consumer: dial failed", "error", err, "retry_in", backoff.String())
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("ticket-consumer: consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("ticket-consumer: set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(ctx, d.Body); err != nil {
				c.log.ErrorWithContext(ctx, "ticket-consumer: handle message failed", err, nil)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one message body and sends its notification.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var ev TicketEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	msg, err := Render(ev)
	if err != nil {
		return err
	}
	return c.mailer.Send(ctx, msg)
}
