package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/pkg/config"
	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/enums"
	"github.com/face10ai/credits-backend/pkg/outbox"
	"github.com/face10ai/credits-backend/pkg/outbox/payloads"
)

// Route is where one event type is published and how its data decodes.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func() payloads.Event
}

// ResolvedEvent is a validated outbox row ready to publish.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.Envelope
	Event    payloads.Event
}

// Attributes are the Pub/Sub message attributes subscribers filter on.
func (r *ResolvedEvent) Attributes() map[string]string {
	attrs := map[string]string{
		"event_id":       r.Envelope.EventID.String(),
		"event_type":     string(r.Route.EventType),
		"aggregate_type": string(r.Route.AggregateType),
		"aggregate_id":   r.Event.AggregateID().String(),
		"schema_version": fmt.Sprint(r.Envelope.SchemaVersion),
	}
	if r.Envelope.Actor != nil && r.Envelope.Actor.Via != "" {
		attrs["via"] = r.Envelope.Actor.Via
	}
	return attrs
}

// EventRegistry maps each supported event type to its route.
type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
}

// NonRetryableError marks a row that will never publish as stored.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func poison(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// IsNonRetryable reports whether err carries NonRetryableError.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.BillingTopic == "" {
		return nil, errors.New("billing topic is required")
	}
	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]Route)}
	for _, proto := range payloads.Prototypes() {
		sample := proto()
		if _, dup := reg.routes[sample.EventType()]; dup {
			return nil, fmt.Errorf("event type %s declared twice", sample.EventType())
		}
		reg.routes[sample.EventType()] = Route{
			EventType:     sample.EventType(),
			AggregateType: sample.AggregateType(),
			Topic:         cfg.BillingTopic,
			decode:        proto,
		}
	}
	return reg, nil
}

// Route returns the route registered for eventType.
func (r *EventRegistry) Route(eventType enums.OutboxEventType) (Route, bool) {
	route, ok := r.routes[eventType]
	return route, ok
}

// Resolve checks that the row, its envelope and the decoded payload agree.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[row.EventType]
	if !ok {
		return nil, poison("unsupported event type %s", row.EventType)
	}
	if route.AggregateType != row.AggregateType {
		return nil, poison("aggregate mismatch: expected %s got %s", route.AggregateType, row.AggregateType)
	}
	if row.AggregateID == uuid.Nil {
		return nil, poison("missing aggregate_id")
	}

	var env outbox.Envelope
	if err := json.Unmarshal(row.Payload, &env); err != nil {
		return nil, poison("decode envelope: %w", err)
	}
	if env.EventID != row.ID {
		return nil, poison("envelope event_id %s does not match row %s", env.EventID, row.ID)
	}
	if env.EventType != row.EventType {
		return nil, poison("envelope event_type %s does not match row %s", env.EventType, row.EventType)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, poison("payload missing for %s", row.EventType)
	}

	event := route.decode()
	if err := json.Unmarshal(data, event); err != nil {
		return nil, poison("decode %s payload: %w", row.EventType, err)
	}
	if event.AggregateID() != row.AggregateID {
		return nil, poison("payload aggregate %s does not match row %s", event.AggregateID(), row.AggregateID)
	}
	return &ResolvedEvent{Route: route, Envelope: env, Event: event}, nil
}
