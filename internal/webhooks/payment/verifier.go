package paymentwebhook

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
)

// EventCheckoutCompleted is the only event type that drives fulfillment. Async
// payment success is folded into it.
const EventCheckoutCompleted = "checkout.session.completed"

// Event is a verified, processor-neutral payment notification.
type Event struct {
	ID        string
	Type      string
	SessionID string
	// CorrelationID is the order id echoed back by the processor.
	CorrelationID string
	Paid          bool
}

// OrderID parses the correlation id.
func (e *Event) OrderID() (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(e.CorrelationID))
}

// Verifier authenticates a raw webhook body and decodes it.
type Verifier interface {
	Verify(payload []byte, signature string) (*Event, error)
}

type stripeConstructor interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type stripeVerifier struct {
	client stripeConstructor
}

// NewStripeVerifier verifies Stripe-Signature headers with the client's signing secret.
func NewStripeVerifier(client stripeConstructor) Verifier {
	return &stripeVerifier{client: client}
}

func (v *stripeVerifier) Verify(payload []byte, signature string) (*Event, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "signature header missing")
	}
	raw, err := v.client.ConstructEvent(payload, signature)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "verify signature")
	}

	event := &Event{ID: raw.ID, Type: string(raw.Type)}
	switch raw.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		if raw.Data == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "event data missing")
		}
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &cs); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
		}
		event.SessionID = cs.ID
		event.CorrelationID = cs.ClientReferenceID
		if event.CorrelationID == "" {
			event.CorrelationID = cs.Metadata["order_id"]
		}
		event.Paid = cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired
		if raw.Type == stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded {
			event.Type = EventCheckoutCompleted
			event.Paid = true
		}
	}
	return event, nil
}
