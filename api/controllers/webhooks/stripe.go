package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/face10ai/credits-backend/api/responses"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
	pkgstripe "github.com/face10ai/credits-backend/pkg/stripe"
)

const maxWebhookBytes = 1 << 20

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type webhookVerifier interface {
	VerifyWebhook(payload []byte, header string) (stripe.Event, error)
}

type stripeReceiver struct {
	svc      StripeWebhookService
	verifier webhookVerifier
	guard    stripeWebhookGuard
	logg     *logger.Logger
}

var receivedAck = map[string]bool{"received": true}

// StripeWebhook applies each signed Stripe event at most once. When applying
// fails the event id is released so Stripe's redelivery runs again.
func StripeWebhook(svc StripeWebhookService, verifier webhookVerifier, guard stripeWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	h := stripeReceiver{svc: svc, verifier: verifier, guard: guard, logg: logg}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := h.ready(); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		event, err := h.verified(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithField(logg.WithEventID(ctx, event.ID), "event_type", string(event.Type))
		}
		if err := h.applyOnce(ctx, &event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, receivedAck)
	}
}

func (h stripeReceiver) ready() error {
	var missing string
	switch {
	case h.svc == nil:
		missing = "webhook service"
	case h.verifier == nil:
		missing = "webhook verifier"
	case h.guard == nil:
		missing = "idempotency guard"
	default:
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInternal, missing+" unavailable")
}

func (h stripeReceiver) verified(r *http.Request) (stripe.Event, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body")
	}
	event, err := h.verifier.VerifyWebhook(payload, r.Header.Get(pkgstripe.SignatureHeader))
	switch {
	case errors.Is(err, pkgstripe.ErrSignatureMissing):
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing")
	case err != nil:
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature")
	}
	return event, nil
}

func (h stripeReceiver) applyOnce(ctx context.Context, event *stripe.Event) error {
	seen, err := h.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	if seen {
		h.info(ctx, "stripe event replay acknowledged")
		return nil
	}
	if err := h.svc.HandleEvent(ctx, event); err != nil {
		if relErr := h.guard.Delete(ctx, event.ID); relErr != nil && h.logg != nil {
			h.logg.Error(ctx, "release stripe event id", relErr)
		}
		return err
	}
	h.info(ctx, "stripe event applied")
	return nil
}

func (h stripeReceiver) info(ctx context.Context, msg string) {
	if h.logg != nil {
		h.logg.Info(ctx, msg)
	}
}
