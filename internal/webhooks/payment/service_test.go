package paymentwebhook

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/gadgetswap-backend/internal/fulfillment"
	"github.com/angelmondragon/gadgetswap-backend/internal/listings"
	"github.com/angelmondragon/gadgetswap-backend/internal/orders"
	"github.com/angelmondragon/gadgetswap-backend/pkg/config"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db/dbtest"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
	"github.com/angelmondragon/gadgetswap-backend/pkg/idempotency"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox"
	pkgstripe "github.com/angelmondragon/gadgetswap-backend/pkg/stripe"
)

const testSecret = "whsec_test"

type fixture struct {
	client *db.Client
	ledger listings.Ledger
	orders orders.Service
	guard  *idempotency.Guard
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	ledger, err := listings.NewService(listings.NewRepository(client.DB()))
	require.NoError(t, err)
	events := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	orderRepo := orders.NewRepository(client.DB())
	orderSvc, err := orders.NewService(orderRepo, client, ledger, events, nil, orders.Options{})
	require.NoError(t, err)
	fulfillSvc, err := fulfillment.NewService(orderRepo, client, ledger, events, nil, nil)
	require.NoError(t, err)

	store, err := idempotency.OpenBolt(filepath.Join(t.TempDir(), "idem.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	guard, err := idempotency.NewGuard(store, time.Hour, "payment-webhook")
	require.NoError(t, err)

	stripeClient, err := pkgstripe.NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_1", Secret: testSecret}, nil)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Verifier:    NewStripeVerifier(stripeClient),
		Guard:       guard,
		Fulfillment: fulfillSvc,
	})
	require.NoError(t, err)
	return &fixture{client: client, ledger: ledger, orders: orderSvc, guard: guard, svc: svc}
}

func (f *fixture) cart(t *testing.T, buyerID string, prices ...string) *models.Order {
	t.Helper()
	var order *models.Order
	for _, price := range prices {
		listing, err := f.ledger.Create(context.Background(), listings.CreateInput{
			SellerID: "seller",
			Title:    "gadget",
			Price:    decimal.RequireFromString(price),
		})
		require.NoError(t, err)
		order, err = f.orders.AddItem(context.Background(), buyerID, listing.ID)
		require.NoError(t, err)
	}
	return order
}

func (f *fixture) status(t *testing.T, id uuid.UUID) enums.OrderStatus {
	t.Helper()
	var order models.Order
	require.NoError(t, f.client.DB().Where("id = ?", id).First(&order).Error)
	return order.Status
}

func (f *fixture) count(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func signedEvent(t *testing.T, eventID string, eventType stripe.EventType, cs stripe.CheckoutSession, secret string) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(cs)
	require.NoError(t, err)
	payload, err := json.Marshal(&stripe.Event{
		ID:         eventID,
		Object:     "event",
		Type:       eventType,
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: raw},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})
	return signed.Payload, signed.Header
}

func paidSession(orderID uuid.UUID) stripe.CheckoutSession {
	return stripe.CheckoutSession{
		ID:                "cs_" + orderID.String()[:8],
		Object:            "checkout.session",
		ClientReferenceID: orderID.String(),
		PaymentStatus:     stripe.CheckoutSessionPaymentStatusPaid,
	}
}

func TestHandleCompletedSessionFulfillsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.cart(t, "buyer-a", "50.00", "30.00")
	payload, sig := signedEvent(t, "evt_1", stripe.EventTypeCheckoutSessionCompleted, paidSession(order.ID), testSecret)

	outcome, err := f.svc.Handle(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, outcome)
	assert.Equal(t, enums.OrderStatusFulfilled, f.status(t, order.ID))

	outcome, err = f.svc.Handle(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	// A redelivery under a new event id still finds the order fulfilled.
	payload, sig = signedEvent(t, "evt_2", stripe.EventTypeCheckoutSessionCompleted, paidSession(order.ID), testSecret)
	outcome, err = f.svc.Handle(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, outcome)
	assert.EqualValues(t, 1, f.count(t, enums.EventOrderFulfilled))
}

func TestHandleRedeliveryAfterAbandonedClaimStillFulfills(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.guard.WithInFlightTTL(50 * time.Millisecond)
	order := f.cart(t, "buyer-a", "25.00")
	payload, sig := signedEvent(t, "evt_crash", stripe.EventTypeCheckoutSessionCompleted, paidSession(order.ID), testSecret)

	// A worker claimed the event and died before fulfilling it.
	claim, err := f.guard.Claim(ctx, "evt_crash")
	require.NoError(t, err)
	require.Equal(t, idempotency.ClaimAcquired, claim)

	_, err = f.svc.Handle(ctx, payload, sig)
	require.Error(t, err, "an unfinished claim must ask for redelivery, not acknowledge")
	assert.NotEqual(t, pkgerrors.CodeSignatureInvalid, pkgerrors.CodeOf(err))
	assert.Equal(t, enums.OrderStatusCurrent, f.status(t, order.ID))

	time.Sleep(100 * time.Millisecond)
	outcome, err := f.svc.Handle(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, outcome)
	assert.Equal(t, enums.OrderStatusFulfilled, f.status(t, order.ID))

	outcome, err = f.svc.Handle(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestHandleRejectsBadSignatureWithoutStateChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.cart(t, "buyer-a", "10.00")
	payload, _ := signedEvent(t, "evt_1", stripe.EventTypeCheckoutSessionCompleted, paidSession(order.ID), testSecret)
	_, forged := signedEvent(t, "evt_1", stripe.EventTypeCheckoutSessionCompleted, paidSession(order.ID), "whsec_attacker")

	for _, sig := range []string{forged, "", "t=1,v1=deadbeef"} {
		_, err := f.svc.Handle(ctx, payload, sig)
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid), "sig %q: %v", sig, err)
	}
	assert.Equal(t, enums.OrderStatusCurrent, f.status(t, order.ID))
}

func TestHandleCanceledOrderAcknowledgesAndRecordsConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.cart(t, "buyer-a", "10.00")
	_, err := f.orders.Cancel(ctx, "buyer-a", order.ID, "")
	require.NoError(t, err)

	payload, sig := signedEvent(t, "evt_c", stripe.EventTypeCheckoutSessionCompleted, paidSession(order.ID), testSecret)
	outcome, err := f.svc.Handle(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, enums.OrderStatusCanceled, f.status(t, order.ID))
	assert.EqualValues(t, 0, f.count(t, enums.EventOrderFulfilled))
	assert.EqualValues(t, 1, f.count(t, enums.EventFulfillmentConflict))

	listing, err := f.ledger.Get(ctx, order.Items[0].ListingID)
	require.NoError(t, err)
	assert.Equal(t, enums.ListingAvailable, listing.Availability)
}

func TestHandleUnknownOrderAndIgnoredEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	payload, sig := signedEvent(t, "evt_u", stripe.EventTypeCheckoutSessionCompleted, paidSession(uuid.New()), testSecret)
	outcome, err := f.svc.Handle(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)

	order := f.cart(t, "buyer-a", "10.00")
	payload, sig = signedEvent(t, "evt_x", stripe.EventTypeCheckoutSessionExpired, paidSession(order.ID), testSecret)
	outcome, err = f.svc.Handle(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	unpaid := paidSession(order.ID)
	unpaid.PaymentStatus = stripe.CheckoutSessionPaymentStatusUnpaid
	payload, sig = signedEvent(t, "evt_p", stripe.EventTypeCheckoutSessionCompleted, unpaid, testSecret)
	outcome, err = f.svc.Handle(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, enums.OrderStatusCurrent, f.status(t, order.ID))

	bad := paidSession(order.ID)
	bad.ClientReferenceID = "not-a-uuid"
	payload, sig = signedEvent(t, "evt_b", stripe.EventTypeCheckoutSessionCompleted, bad, testSecret)
	outcome, err = f.svc.Handle(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
}

func TestHandleAsyncPaymentSucceededFulfills(t *testing.T) {
	f := newFixture(t)
	order := f.cart(t, "buyer-a", "10.00")
	cs := paidSession(order.ID)
	cs.ClientReferenceID = ""
	cs.Metadata = map[string]string{"order_id": order.ID.String()}
	payload, sig := signedEvent(t, "evt_async", stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded, cs, testSecret)

	outcome, err := f.svc.Handle(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, outcome)
	assert.Equal(t, enums.OrderStatusFulfilled, f.status(t, order.ID))
}

type failingFulfillment struct{ calls int }

func (f *failingFulfillment) Fulfill(ctx context.Context, input fulfillment.Input) (*fulfillment.Result, error) {
	f.calls++
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "database unavailable")
}

func (f *failingFulfillment) RecordConflict(ctx context.Context, input fulfillment.ConflictInput) error {
	return nil
}

func TestHandleInternalFailureReleasesGuardForRetry(t *testing.T) {
	ctx := context.Background()
	store, err := idempotency.OpenBolt(filepath.Join(t.TempDir(), "idem.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	guard, err := idempotency.NewGuard(store, time.Hour, "payment-webhook")
	require.NoError(t, err)
	stripeClient, err := pkgstripe.NewClient(ctx, config.StripeConfig{APIKey: "sk_test_1", Secret: testSecret}, nil)
	require.NoError(t, err)
	failing := &failingFulfillment{}
	svc, err := NewService(ServiceParams{Verifier: NewStripeVerifier(stripeClient), Guard: guard, Fulfillment: failing})
	require.NoError(t, err)

	payload, sig := signedEvent(t, "evt_retry", stripe.EventTypeCheckoutSessionCompleted, paidSession(uuid.New()), testSecret)
	for i := 0; i < 2; i++ {
		_, err = svc.Handle(ctx, payload, sig)
		assert.Equal(t, pkgerrors.CodeInternal, pkgerrors.CodeOf(err))
	}
	assert.Equal(t, 2, failing.calls, "redelivery must be processed again after a failure")
}
