package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/logger"
	"github.com/face10ai/credits-backend/pkg/outbox/payloads"
)

// Emitter is the write surface domain services depend on.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event payloads.Event, opts ...EmitOption) error
}

type EmitOption func(*Envelope)

// CausedBy records the account and entry point behind the event.
func CausedBy(accountID uuid.UUID, via string) EmitOption {
	return func(e *Envelope) { e.Actor = &Actor{AccountID: accountID, Via: via} }
}

// OccurredAt overrides the event time, which defaults to now.
func OccurredAt(t time.Time) EmitOption {
	return func(e *Envelope) { e.OccurredAt = t.UTC() }
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit inserts event through tx so it commits or rolls back with the caller's change.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event payloads.Event, opts ...EmitOption) error {
	switch {
	case tx == nil:
		return errors.New("outbox emit needs a transaction")
	case event == nil:
		return errors.New("outbox emit needs an event")
	case !event.EventType().IsValid():
		return fmt.Errorf("unknown outbox event type %q", event.EventType())
	case event.AggregateID() == uuid.Nil:
		return fmt.Errorf("%s: aggregate id is empty", event.EventType())
	}

	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	env := Envelope{
		SchemaVersion: SchemaVersion,
		EventID:       id,
		EventType:     event.EventType(),
		OccurredAt:    time.Now().UTC(),
		Data:          data,
	}
	for _, opt := range opts {
		opt(&env)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, &models.OutboxEvent{
		ID:            id,
		EventType:     env.EventType,
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		Payload:       payload,
	}); err != nil {
		return err
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":     id.String(),
			"event_type":   env.EventType,
			"aggregate_id": event.AggregateID().String(),
		}), "outbox event queued")
	}
	return nil
}
