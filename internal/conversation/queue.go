package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/sara-leads/internal/events"
)

// Queue carries inbound jobs from the webhook to the workers. SQSQueue and
// MemoryQueue implement it.
type Queue interface {
	Send(ctx context.Context, job Job) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Delivery, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Job is one message handed to the queue. GroupKey keeps a lead's messages
// in order on FIFO queues and DedupeID collapses redelivered webhooks.
type Job struct {
	Body     string
	GroupKey string
	DedupeID string
}

// Delivery is a received job. Attempt counts receives, starting at 1.
type Delivery struct {
	ID            string
	Body          string
	ReceiptHandle string
	Attempt       int
}

type jobType string

const jobTypeInbound jobType = "inbound_message"

type queuePayload struct {
	ID      string                   `json:"id"`
	Kind    jobType                  `json:"kind"`
	Inbound *events.InboundMessageV1 `json:"inbound,omitempty"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: encode job: %w", err)
	}
	return payload, string(body), nil
}
