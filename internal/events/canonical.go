package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CanonicalEvent is anything that can be stored in the outbox.
type CanonicalEvent interface {
	EventType() string
}

// Identified events carry their own id and time. The envelope reuses them so
// a re-recorded fact keeps the same message id on the broker.
type Identified interface {
	CanonicalEvent
	Identity() (id string, at time.Time)
}

// Envelope is the outbox and broker wire form. EventType ends in ".vN".
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	Aggregate       string          `json:"aggregate"`
	TimestampMicros int64           `json:"timestamp"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

func (e Envelope) Time() time.Time {
	return time.UnixMicro(e.TimestampMicros).UTC()
}

// RoutingKey is the event type without its version suffix, so consumers can
// bind to "lead.#" across versions.
func (e Envelope) RoutingKey() string {
	name, _ := splitVersion(e.EventType)
	return name
}

// Version is the schema version from the event type, 1 when absent.
func (e Envelope) Version() int {
	_, v := splitVersion(e.EventType)
	return v
}

func splitVersion(eventType string) (string, int) {
	i := strings.LastIndex(eventType, ".v")
	if i < 0 {
		return eventType, 1
	}
	v, err := strconv.Atoi(eventType[i+2:])
	if err != nil || v <= 0 {
		return eventType, 1
	}
	return eventType[:i], v
}

type EnvelopeOption func(*Envelope)

func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

func WithTimestamp(ts time.Time) EnvelopeOption {
	return func(e *Envelope) {
		if !ts.IsZero() {
			e.TimestampMicros = ts.UTC().UnixMicro()
		}
	}
}

var (
	errMissingAggregate = errors.New("events: aggregate is required")
	errNilEvent         = errors.New("events: canonical event required")
	nowFunc             = time.Now
)

// LeadAggregate keys events about a stored lead.
func LeadAggregate(leadID string) string {
	return "lead:" + leadID
}

// PhoneAggregate keys events seen before a lead exists, such as raw inbound
// messages.
func PhoneAggregate(phone string) string {
	return "phone:" + phone
}

func NewEnvelope(aggregate, correlationID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	aggregate = strings.TrimSpace(aggregate)
	if aggregate == "" {
		return Envelope{}, errMissingAggregate
	}
	if evt == nil {
		return Envelope{}, errNilEvent
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return Envelope{}, fmt.Errorf("events: event type missing")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", eventType, err)
	}

	env := Envelope{
		EventID:         uuid.New(),
		EventType:       eventType,
		Aggregate:       aggregate,
		TimestampMicros: nowFunc().UTC().UnixMicro(),
		CorrelationID:   strings.TrimSpace(correlationID),
		Payload:         payload,
	}
	if ident, ok := evt.(Identified); ok {
		id, at := ident.Identity()
		if parsed, err := uuid.Parse(id); err == nil {
			env.EventID = parsed
		}
		WithTimestamp(at)(&env)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}
