package stripewebhook

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	"github.com/face10ai/credits-backend/internal/billing"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
	"github.com/face10ai/credits-backend/pkg/metrics"
)

type eventApplier interface {
	Apply(ctx context.Context, eventID string, event billing.Event) (billing.ApplyResult, error)
}

type ServiceParams struct {
	Reconciler eventApplier
	Metrics    *metrics.LedgerMetrics
	Logger     *logger.Logger
}

// Service turns verified provider events into reconciler calls.
type Service struct {
	reconciler eventApplier
	metrics    *metrics.LedgerMetrics
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	return &Service{
		reconciler: params.Reconciler,
		metrics:    params.Metrics,
		logg:       params.Logger,
	}, nil
}

// HandleEvent decodes and applies one event. Unhandled types are acknowledged
// without touching the ledger; malformed payloads are validation errors.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	if s.logg != nil {
		ctx = s.logg.WithEventID(ctx, event.ID)
	}

	decoded, err := billing.DecodeEvent(*event)
	if err != nil {
		s.metrics.ObserveWebhook(string(event.Type), "invalid")
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event")
	}
	if _, ok := decoded.(billing.Unhandled); ok {
		s.metrics.ObserveWebhook(string(event.Type), string(billing.ApplyIgnored))
		return nil
	}

	result, err := s.reconciler.Apply(ctx, event.ID, decoded)
	if err != nil {
		s.metrics.ObserveWebhook(string(event.Type), "failed")
		return err
	}
	s.metrics.ObserveWebhook(string(event.Type), string(result))
	return nil
}
