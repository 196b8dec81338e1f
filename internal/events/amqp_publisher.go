package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wolfman30/sara-leads/pkg/logging"
)

const defaultConfirmTimeout = 5 * time.Second

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher is a DeliveryHandler that publishes outbox envelopes to a
// topic exchange with publisher confirms. The routing key is the event type.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	confirms <-chan amqp.Confirmation
	exchange string
	appID    string
	timeout  time.Duration
	logger   *logging.Logger
}

// NewAMQPPublisher dials the broker, declares the exchange and enables
// confirm mode.
func NewAMQPPublisher(url, exchange string, logger *logging.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = logging.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	p := newAMQPPublisherWithChannel(ch, confirms, exchange, logger)
	p.conn = conn
	return p, nil
}

func newAMQPPublisherWithChannel(ch amqpChannel, confirms <-chan amqp.Confirmation, exchange string, logger *logging.Logger) *AMQPPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &AMQPPublisher{
		ch:       ch,
		confirms: confirms,
		exchange: exchange,
		appID:    "sara-leads",
		timeout:  defaultConfirmTimeout,
		logger:   logger,
	}
}

// Handle publishes one outbox entry and waits for the broker ack.
func (p *AMQPPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	env, err := entry.Envelope()
	if err != nil {
		return err
	}
	correlationID := env.CorrelationID
	if correlationID == "" {
		correlationID = env.EventID.String()
	}

	// one in-flight publish per channel so confirms line up
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, env.RoutingKey(), false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          entry.Payload,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.EventID.String(),
		CorrelationId: correlationID,
		Type:          env.EventType,
		Timestamp:     env.Time(),
		AppId:         p.appID,
		Headers: amqp.Table{
			"aggregate":      env.Aggregate,
			"schema_version": int32(env.Version()),
		},
	})
	if err != nil {
		return fmt.Errorf("events: amqp publish: %w", err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			return errors.New("events: amqp confirm channel closed")
		}
		if !confirm.Ack {
			return fmt.Errorf("events: amqp nack for %s", env.EventID)
		}
		p.logger.Debug("event published", "event_id", env.EventID, "type", env.EventType)
		return nil
	case <-timer.C:
		return fmt.Errorf("events: amqp confirm timeout for %s", env.EventID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AMQPPublisher) Close() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
