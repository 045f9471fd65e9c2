// Package fulfillment moves a paid order to FULFILLED and sells its listings.
// Buyer confirmation and payment webhooks both end up in Service.Fulfill.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/angelmondragon/gadgetswap-backend/internal/listings"
	"github.com/angelmondragon/gadgetswap-backend/internal/orders"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/metrics"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox/payloads"
)

// Conflict messages callers branch on.
const (
	MessageItemsUnavailable = "one or more items are no longer available"
	MessageOrderCanceled    = "order was canceled"
	MessageContended        = "order is contended by a concurrent fulfillment"
)

// maxTxAttempts bounds retries of a transaction the database aborted.
const maxTxAttempts = 3

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Input identifies one fulfillment attempt.
type Input struct {
	OrderID uuid.UUID
	// BuyerID is set on the buyer confirm path and must own the order.
	BuyerID   string
	Source    enums.FulfillmentSource
	SessionID string
}

// Result carries the order after the attempt.
type Result struct {
	Order            *models.Order
	AlreadyFulfilled bool
}

// ConflictInput describes a payment that could not be applied to its order.
type ConflictInput struct {
	OrderID   uuid.UUID
	SessionID string
	EventID   string
	Status    enums.OrderStatus
	Reason    string
}

type Service interface {
	Fulfill(ctx context.Context, input Input) (*Result, error)
	RecordConflict(ctx context.Context, input ConflictInput) error
}

type service struct {
	orders  orders.Repository
	tx      db.TxRunner
	ledger  listings.Ledger
	outbox  outboxPublisher
	logg    *logger.Logger
	metrics *metrics.FulfillmentMetrics
	flight  singleflight.Group
}

func NewService(repo orders.Repository, tx db.TxRunner, ledger listings.Ledger, outbox outboxPublisher, logg *logger.Logger, m *metrics.FulfillmentMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("listing ledger required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{orders: repo, tx: tx, ledger: ledger, outbox: outbox, logg: logg, metrics: m}, nil
}

func (s *service) Fulfill(ctx context.Context, input Input) (*Result, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Source == "" {
		input.Source = enums.FulfillmentSourceWebhook
	}
	start := time.Now()
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": input.OrderID.String(),
		"source":   string(input.Source),
	})

	if input.BuyerID != "" {
		if err := s.checkOwner(ctx, input); err != nil {
			s.observe(input.Source, err, nil, start)
			return nil, err
		}
	}

	// Concurrent triggers for the same order inside this process share one
	// transaction; across processes the row lock and CAS decide.
	v, err, shared := s.flight.Do(input.OrderID.String(), func() (any, error) {
		return s.fulfillWithRetry(context.WithoutCancel(ctx), input)
	})
	if err != nil {
		s.observe(input.Source, err, nil, start)
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.logg.Warn(logCtx, "fulfillment rejected: "+pkgerrors.As(err).Message())
		}
		return nil, err
	}
	res := v.(*Result)
	s.observe(input.Source, nil, res, start)

	switch {
	case res.AlreadyFulfilled:
		s.logg.Info(logCtx, "order already fulfilled")
	case shared:
		s.logg.Debug(logCtx, "fulfillment shared with concurrent trigger")
	default:
		s.logg.Info(logCtx, "order fulfilled")
	}
	return res, nil
}

func (s *service) checkOwner(ctx context.Context, input Input) error {
	order, err := s.orders.FindByID(ctx, input.OrderID)
	if err != nil {
		return mapOrderError(err)
	}
	if order.BuyerID != input.BuyerID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}

// fulfillWithRetry reruns the transaction when Postgres aborts it as a
// deadlock victim. The rerun sees the winner's commit, so the loser ends in a
// regular conflict or an already-fulfilled result.
func (s *service) fulfillWithRetry(ctx context.Context, input Input) (*Result, error) {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		var res *Result
		res, err = s.fulfill(ctx, input)
		if err == nil || !db.IsSerializationFailure(err) {
			return res, err
		}
		s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "fulfillment transaction aborted by the database, retrying")
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, MessageContended)
}

func (s *service) fulfill(ctx context.Context, input Input) (*Result, error) {
	result := &Result{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			return mapOrderError(err)
		}

		switch order.Status {
		case enums.OrderStatusFulfilled:
			result.Order = order
			result.AlreadyFulfilled = true
			return nil
		case enums.OrderStatusCanceled:
			return pkgerrors.New(pkgerrors.CodeConflict, MessageOrderCanceled).
				WithDetails(map[string]any{"status": order.Status})
		}
		if len(order.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "order has no items")
		}

		if err := s.sellAll(ctx, tx, order); err != nil {
			return err
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":         enums.OrderStatusFulfilled,
			"payment_status": enums.PaymentStatusPaid,
			"subtotal":       order.ComputeSubtotal(),
			"fulfilled_at":   now,
		}
		if input.SessionID != "" {
			updates["checkout_session_id"] = input.SessionID
		}
		moved, err := repo.Transition(ctx, order.ID, enums.OrderStatusCurrent, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order fulfilled")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConflict, "order is no longer current")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderFulfilled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: order.BuyerID, Role: "buyer"},
			Data: payloads.OrderFulfilledEvent{
				OrderID:     order.ID,
				BuyerID:     order.BuyerID,
				ListingIDs:  order.ListingIDs(),
				SellerIDs:   sellerIDs(order.Items),
				Subtotal:    order.ComputeSubtotal(),
				Source:      input.Source,
				SessionID:   input.SessionID,
				FulfilledAt: now,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order fulfilled")
		}

		result.Order, err = repo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// sellAll marks every listing sold or reports all of the ones that could not
// be. Listings are locked in id order. A failed CAS leaves the transaction
// usable, so the loop keeps going to build the full detail list before the
// caller rolls back.
func (s *service) sellAll(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	var unavailable []listings.UnavailableDetail
	for _, listingID := range order.ListingIDsInLockOrder() {
		err := s.ledger.MarkSold(ctx, tx, listingID, order.ID)
		if err == nil {
			continue
		}
		typed := pkgerrors.As(err)
		if typed == nil {
			return err
		}
		switch typed.Code() {
		case pkgerrors.CodeConflict:
			if details, ok := typed.Details().([]listings.UnavailableDetail); ok {
				unavailable = append(unavailable, details...)
				continue
			}
			unavailable = append(unavailable, listings.UnavailableDetail{ListingID: listingID})
		case pkgerrors.CodeNotFound:
			unavailable = append(unavailable, listings.UnavailableDetail{ListingID: listingID, Availability: enums.ListingDelisted})
		default:
			return err
		}
	}
	if len(unavailable) > 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, MessageItemsUnavailable).WithDetails(unavailable)
	}
	return nil
}

// RecordConflict queues a fulfillment_conflict event once per order so a
// payment that arrived for an unfulfillable order can be refunded.
func (s *service) RecordConflict(ctx context.Context, input ConflictInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFulfillmentConflict,
			AggregateType: enums.AggregateOrder,
			AggregateID:   input.OrderID,
			Actor:         &outbox.ActorRef{UserID: "system", Role: "system"},
			Data: payloads.FulfillmentConflictEvent{
				OrderID:    input.OrderID,
				SessionID:  input.SessionID,
				EventID:    input.EventID,
				Status:     input.Status,
				Reason:     strings.TrimSpace(input.Reason),
				DetectedAt: time.Now().UTC(),
			},
		})
	})
}

func (s *service) observe(source enums.FulfillmentSource, err error, res *Result, start time.Time) {
	outcome := metrics.OutcomeFulfilled
	switch {
	case err != nil:
		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeConflict:
			outcome = metrics.OutcomeConflict
		case pkgerrors.CodeNotFound:
			outcome = metrics.OutcomeNotFound
		default:
			outcome = metrics.OutcomeError
		}
	case res != nil && res.AlreadyFulfilled:
		outcome = metrics.OutcomeAlreadyFulfilled
	}
	s.metrics.Observe(string(source), outcome, time.Since(start))
}

func sellerIDs(items []models.OrderItem) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.SellerID]; ok || item.SellerID == "" {
			continue
		}
		seen[item.SellerID] = struct{}{}
		out = append(out, item.SellerID)
	}
	return out
}

func mapOrderError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
}
