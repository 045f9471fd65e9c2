// Package paymentwebhook turns verified payment processor notifications into
// fulfillment attempts. Business rejections are acknowledged so the
// processor stops retrying; only infrastructure failures ask for redelivery.
package paymentwebhook

import (
	"context"

	"github.com/angelmondragon/gadgetswap-backend/internal/fulfillment"
	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
	"github.com/angelmondragon/gadgetswap-backend/pkg/idempotency"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
)

type eventGuard interface {
	Claim(ctx context.Context, id string) (idempotency.Claim, error)
	Complete(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

// Outcome summarizes how an event was handled; all outcomes are acknowledged.
type Outcome string

const (
	OutcomeFulfilled Outcome = "fulfilled"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
)

type ServiceParams struct {
	Verifier    Verifier
	Guard       eventGuard
	Fulfillment fulfillment.Service
	Logger      *logger.Logger
}

type Service struct {
	verifier    Verifier
	guard       eventGuard
	fulfillment fulfillment.Service
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook verifier required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if params.Fulfillment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		verifier:    params.Verifier,
		guard:       params.Guard,
		fulfillment: params.Fulfillment,
		logg:        logg,
	}, nil
}

// Handle verifies and applies one webhook delivery. A returned error maps to
// SignatureInvalid (400) or an infrastructure failure (5xx).
func (s *Service) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	event, err := s.verifier.Verify(payload, signature)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid) {
			s.logg.Warn(s.logg.WithField(ctx, "security_event", "webhook_signature_invalid"), "payment webhook signature rejected")
		}
		return "", err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": event.Type})
	if event.Type != EventCheckoutCompleted {
		s.logg.Debug(ctx, "payment webhook ignored")
		return OutcomeIgnored, nil
	}
	if event.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "event id missing")
	}

	claim, err := s.guard.Claim(ctx, event.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	switch claim {
	case idempotency.ClaimDone:
		s.logg.Info(ctx, "payment webhook already processed")
		return OutcomeDuplicate, nil
	case idempotency.ClaimInFlight:
		// The holder may have died mid-way; only a completed claim is a duplicate.
		return "", pkgerrors.New(pkgerrors.CodeDependency, "event is being processed")
	}

	outcome, err := s.apply(ctx, event)
	if err != nil {
		if relErr := s.guard.Release(ctx, event.ID); relErr != nil {
			s.logg.Error(ctx, "failed to release webhook idempotency key", relErr)
		}
		return "", err
	}
	// The state change is committed and makes redelivery a no-op, so a failed
	// mark only costs one more pass through fulfillment.
	if err := s.guard.Complete(ctx, event.ID); err != nil {
		s.logg.Error(ctx, "failed to mark webhook event processed", err)
	}
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, event *Event) (Outcome, error) {
	orderID, err := event.OrderID()
	if err != nil {
		s.logg.Warn(ctx, "payment webhook without a usable order reference")
		return OutcomeRejected, nil
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	if !event.Paid {
		s.logg.Info(ctx, "checkout completed without payment, awaiting async result")
		return OutcomeIgnored, nil
	}

	_, err = s.fulfillment.Fulfill(ctx, fulfillment.Input{
		OrderID:   orderID,
		Source:    enums.FulfillmentSourceWebhook,
		SessionID: event.SessionID,
	})
	if err == nil {
		return OutcomeFulfilled, nil
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		return "", err
	}
	switch typed.Code() {
	case pkgerrors.CodeNotFound:
		s.logg.Warn(ctx, "payment webhook for unknown order")
		return OutcomeRejected, nil
	case pkgerrors.CodeConflict:
		s.logg.Warn(ctx, "payment received for an order that cannot be fulfilled: "+typed.Message())
		status := enums.OrderStatusCurrent
		if typed.Message() == fulfillment.MessageOrderCanceled {
			status = enums.OrderStatusCanceled
		}
		if recErr := s.fulfillment.RecordConflict(ctx, fulfillment.ConflictInput{
			OrderID:   orderID,
			SessionID: event.SessionID,
			EventID:   event.ID,
			Status:    status,
			Reason:    typed.Message(),
		}); recErr != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, recErr, "record fulfillment conflict")
		}
		return OutcomeRejected, nil
	default:
		return "", err
	}
}
