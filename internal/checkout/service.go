package checkout

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/gadgetswap-backend/internal/fulfillment"
	"github.com/angelmondragon/gadgetswap-backend/internal/orders"
	"github.com/angelmondragon/gadgetswap-backend/pkg/checkout"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
)

// sessionPlaceholder is substituted by Stripe with the real session id on redirect.
const sessionPlaceholder = "{CHECKOUT_SESSION_ID}"

// PaymentClient is the subset of the Stripe client used for hosted checkout.
type PaymentClient interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	Currency() string
}

// Session is the hosted payment page opened for an order.
type Session struct {
	ID      string
	URL     string
	OrderID uuid.UUID
}

// Service bridges CURRENT orders to the payment processor.
type Service interface {
	CreateSession(ctx context.Context, buyerID string, orderID uuid.UUID) (*Session, error)
	Confirm(ctx context.Context, buyerID string, orderID uuid.UUID, sessionID string) (*models.Order, error)
}

type service struct {
	orders      orders.Service
	fulfillment fulfillment.Service
	payments    PaymentClient
	frontendURL string
	logg        *logger.Logger
}

// NewService builds the checkout bridge. frontendURL is the base for the
// success and cancel redirects.
func NewService(orderSvc orders.Service, fulfillmentSvc fulfillment.Service, payments PaymentClient, frontendURL string, logg *logger.Logger) (Service, error) {
	if orderSvc == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if fulfillmentSvc == nil {
		return nil, fmt.Errorf("fulfillment service required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment client required")
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(frontendURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("frontend url must be absolute: %q", frontendURL)
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		orders:      orderSvc,
		fulfillment: fulfillmentSvc,
		payments:    payments,
		frontendURL: base.String(),
		logg:        logg,
	}, nil
}

func (s *service) CreateSession(ctx context.Context, buyerID string, orderID uuid.UUID) (*Session, error) {
	order, err := s.orders.PrepareCheckout(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}

	inputs := make([]checkout.LineItemInput, 0, len(order.Items))
	for _, item := range order.Items {
		inputs = append(inputs, checkout.LineItemInput{
			ListingID: item.ListingID,
			Title:     item.Title,
			Price:     item.Price,
			Quantity:  item.Quantity,
		})
	}
	if err := checkout.ValidateLineItems(inputs); err != nil {
		return nil, err
	}

	params := s.buildParams(order)
	created, err := s.payments.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create checkout session")
	}
	if created == nil || created.URL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout session missing redirect url")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "session_id": created.ID})
	if err := s.orders.RecordCheckoutSession(ctx, order.ID, created.ID); err != nil {
		// The session is already open at the processor; fulfillment still
		// resolves the order through the client reference id.
		s.logg.Error(logCtx, "failed to record checkout session", err)
	}
	s.logg.Info(logCtx, "checkout session created")

	return &Session{ID: created.ID, URL: created.URL, OrderID: order.ID}, nil
}

func (s *service) buildParams(order *models.Order) *stripe.CheckoutSessionParams {
	currency := s.payments.Currency()
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(order.Items))
	for _, item := range order.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Title),
		}
		if item.ImageURL != "" {
			product.Images = []*string{stripe.String(item.ImageURL)}
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(checkout.MinorUnits(item.Price)),
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}

	orderID := order.ID.String()
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(orderID),
		LineItems:         lineItems,
		SuccessURL:        stripe.String(fmt.Sprintf("%s/orders/%s/complete?session_id=%s", s.frontendURL, orderID, sessionPlaceholder)),
		CancelURL:         stripe.String(fmt.Sprintf("%s/cart?order_id=%s", s.frontendURL, orderID)),
	}
	params.AddMetadata("order_id", orderID)
	params.AddMetadata("buyer_id", order.BuyerID)
	return params
}

// Confirm is the buyer-initiated completion after the payment redirect. The
// session is looked up at the processor so a client cannot fulfill an unpaid order.
func (s *service) Confirm(ctx context.Context, buyerID string, orderID uuid.UUID, sessionID string) (*models.Order, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sessionId required")
	}
	if _, err := s.orders.Get(ctx, buyerID, orderID); err != nil {
		return nil, err
	}

	cs, err := s.payments.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetch checkout session")
	}
	if cs == nil || cs.ClientReferenceID != orderID.String() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session does not belong to this order")
	}
	if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment not completed").
			WithDetails(map[string]any{"payment_status": cs.PaymentStatus})
	}

	res, err := s.fulfillment.Fulfill(ctx, fulfillment.Input{
		OrderID:   orderID,
		BuyerID:   buyerID,
		Source:    enums.FulfillmentSourceBuyer,
		SessionID: cs.ID,
	})
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}
