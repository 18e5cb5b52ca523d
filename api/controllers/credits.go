package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/api/validators"
	"github.com/face10ai/credits-backend/internal/credits"
	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/enums"
	"github.com/face10ai/credits-backend/pkg/logger"
)

const (
	creditService   = "credit service"
	maxHistoryLimit = 100
)

type creditTransactionDTO struct {
	ID          uuid.UUID                   `json:"id"`
	Amount      int                         `json:"amount"`
	Type        enums.CreditTransactionType `json:"type"`
	Description string                      `json:"description"`
	CreatedAt   time.Time                   `json:"created_at"`
}

func toTransactionDTOs(rows []models.CreditTransaction) []creditTransactionDTO {
	out := make([]creditTransactionDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, creditTransactionDTO{
			ID:          row.ID,
			Amount:      row.Amount,
			Type:        row.Type,
			Description: row.Description,
			CreatedAt:   row.CreatedAt,
		})
	}
	return out
}

// CreditsBalance applies any due period refresh before reporting the balance.
func CreditsBalance(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, creditService, svc != nil, http.StatusOK, signedIn(func(r *http.Request, accountID uuid.UUID) (any, error) {
		return svc.Snapshot(r.Context(), accountID)
	}))
}

func CreditsHistory(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, creditService, svc != nil, http.StatusOK, signedIn(func(r *http.Request, accountID uuid.UUID) (any, error) {
		limit, err := validators.QueryInt(r, "limit", credits.DefaultHistoryLimit, 1, maxHistoryLimit)
		if err != nil {
			return nil, err
		}
		rows, err := svc.History(r.Context(), accountID, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"transactions": toTransactionDTOs(rows)}, nil
	}))
}
