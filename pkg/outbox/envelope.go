package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/pkg/enums"
)

const SchemaVersion = 1

// Envelope is what the outbox stores and the relay publishes verbatim.
// EventID equals the outbox row id.
type Envelope struct {
	SchemaVersion int                   `json:"schema_version"`
	EventID       uuid.UUID             `json:"event_id"`
	EventType     enums.OutboxEventType `json:"event_type"`
	OccurredAt    time.Time             `json:"occurred_at"`
	Actor         *Actor                `json:"actor,omitempty"`
	Data          json.RawMessage       `json:"data"`
}

// Actor names the account and entry point that caused an event.
type Actor struct {
	AccountID uuid.UUID `json:"account_id"`
	Via       string    `json:"via,omitempty"`
}
