package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/gadgetswap-backend/api/responses"
	paymentwebhook "github.com/angelmondragon/gadgetswap-backend/internal/webhooks/payment"
	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/types"
)

const (
	signatureHeader = "Stripe-Signature"
	maxPayloadBytes = 64 << 10
)

type PaymentWebhookService interface {
	Handle(ctx context.Context, payload []byte, signature string) (paymentwebhook.Outcome, error)
}

// PaymentWebhook receives processor notifications. The raw body is passed
// through untouched because the signature covers the exact bytes.
func PaymentWebhook(svc PaymentWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read request body"))
			return
		}

		outcome, err := svc.Handle(ctx, payload, r.Header.Get(signatureHeader))
		if err != nil {
			switch pkgerrors.CodeOf(err) {
			case pkgerrors.CodeSignatureInvalid, pkgerrors.CodeValidation:
				responses.WriteError(ctx, logg, w, err)
			default:
				// Any other failure asks the processor to redeliver.
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "process webhook"))
			}
			return
		}

		responses.WriteSuccess(w, types.WebhookAck{Received: true, Outcome: string(outcome)})
	}
}
