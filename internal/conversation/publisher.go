package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

// Publisher enqueues inbound WhatsApp messages for the workers.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// Publish enqueues msg. The job id is the provider message id so a
// redelivered webhook produces the same job.
func (p *Publisher) Publish(ctx context.Context, msg events.InboundMessageV1) error {
	if msg.From == "" {
		return errors.New("conversation: inbound message without sender")
	}
	payload, body, err := encodePayload(queuePayload{
		ID:      msg.MessageID,
		Kind:    jobTypeInbound,
		Inbound: &msg,
	})
	if err != nil {
		return err
	}

	job := Job{Body: body, GroupKey: msg.From, DedupeID: msg.MessageID}
	if err := p.queue.Send(ctx, job); err != nil {
		return fmt.Errorf("conversation: enqueue job: %w", err)
	}

	p.logger.Debug("conversation job enqueued", "job_id", payload.ID, "kind", payload.Kind)
	return nil
}
