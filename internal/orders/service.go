package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/gadgetswap-backend/internal/listings"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox/payloads"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the buyer's cart and its transitions out of CURRENT,
// except fulfillment which lives in the fulfillment package.
type Service interface {
	AddItem(ctx context.Context, buyerID string, listingID uuid.UUID) (*models.Order, error)
	Current(ctx context.Context, buyerID string) ([]models.Order, error)
	Previous(ctx context.Context, buyerID string) ([]models.Order, error)
	SearchCurrent(ctx context.Context, buyerID, query string) ([]models.Order, error)
	SearchPrevious(ctx context.Context, buyerID, query string) ([]models.Order, error)
	Get(ctx context.Context, buyerID string, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, buyerID string, orderID uuid.UUID, reason string) (*models.Order, error)
	PrepareCheckout(ctx context.Context, buyerID string, orderID uuid.UUID) (*models.Order, error)
	RecordCheckoutSession(ctx context.Context, orderID uuid.UUID, sessionID string) error
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	Expire(ctx context.Context, orderID uuid.UUID, cutoff time.Time) (bool, error)
	Purge(ctx context.Context, actorID string, orderID uuid.UUID) error
}

// Options toggles cart behaviour.
type Options struct {
	// EagerReservation holds listings as pending while they sit in a cart.
	EagerReservation bool
}

type service struct {
	repo   Repository
	tx     db.TxRunner
	ledger listings.Ledger
	outbox outboxPublisher
	logg   *logger.Logger
	opts   Options
}

// NewService builds the cart/order service with the required dependencies.
func NewService(repo Repository, tx db.TxRunner, ledger listings.Ledger, outbox outboxPublisher, logg *logger.Logger, opts Options) (Service, error) {
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
	return &service{repo: repo, tx: tx, ledger: ledger, outbox: outbox, logg: logg, opts: opts}, nil
}

func (s *service) AddItem(ctx context.Context, buyerID string, listingID uuid.UUID) (*models.Order, error) {
	if strings.TrimSpace(buyerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer identity missing")
	}
	if listingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listingId required")
	}

	listing, err := s.ledger.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Availability != enums.ListingAvailable {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "listing is not available").
			WithDetails([]listings.UnavailableDetail{{ListingID: listing.ID, Availability: listing.Availability}})
	}

	var order *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		current, err := s.loadOrCreateCurrent(ctx, repo, buyerID)
		if err != nil {
			return err
		}
		if current.HasListing(listing.ID) {
			return pkgerrors.New(pkgerrors.CodeConflict, "listing already in your current order")
		}

		if s.opts.EagerReservation {
			if err := s.ledger.Reserve(ctx, tx, listing.ID, current.ID); err != nil {
				return err
			}
		}

		item := models.OrderItem{
			ID:        uuid.New(),
			OrderID:   current.ID,
			ListingID: listing.ID,
			Position:  len(current.Items),
			Title:     listing.Title,
			Price:     listing.Price,
			Quantity:  1,
			ImageURL:  listing.ImageURL,
			SellerID:  listing.SellerID,
		}
		if err := repo.CreateItem(ctx, &item); err != nil {
			if db.IsUniqueViolation(err, "ux_order_items_order_listing") {
				return pkgerrors.New(pkgerrors.CodeConflict, "listing already in your current order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "add order item")
		}

		current.Items = append(current.Items, item)
		current.Subtotal = current.ComputeSubtotal()
		updated, err := repo.UpdateSubtotal(ctx, current.ID, current.Subtotal)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subtotal")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeConflict, "order is no longer current")
		}

		order, err = repo.FindByID(ctx, current.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "listing_id": listing.ID.String()})
	s.logg.Info(logCtx, "listing added to current order")
	return order, nil
}

// loadOrCreateCurrent returns the buyer's CURRENT order locked for the rest of tx.
func (s *service) loadOrCreateCurrent(ctx context.Context, repo Repository, buyerID string) (*models.Order, error) {
	candidate := &models.Order{
		ID:            uuid.New(),
		BuyerID:       buyerID,
		Status:        enums.OrderStatusCurrent,
		PaymentStatus: enums.PaymentStatusPending,
	}
	if _, err := repo.InsertCurrent(ctx, candidate); err != nil && !db.IsUniqueViolation(err, "ux_orders_buyer_current") {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create current order")
	}
	current, err := repo.FindCurrentForUpdate(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load current order")
	}
	return current, nil
}

func (s *service) Current(ctx context.Context, buyerID string) ([]models.Order, error) {
	return s.list(ctx, buyerID, enums.OrderStatusCurrent, "")
}

func (s *service) Previous(ctx context.Context, buyerID string) ([]models.Order, error) {
	return s.list(ctx, buyerID, enums.OrderStatusFulfilled, "")
}

func (s *service) SearchCurrent(ctx context.Context, buyerID, query string) ([]models.Order, error) {
	return s.list(ctx, buyerID, enums.OrderStatusCurrent, query)
}

func (s *service) SearchPrevious(ctx context.Context, buyerID, query string) ([]models.Order, error) {
	return s.list(ctx, buyerID, enums.OrderStatusFulfilled, query)
}

func (s *service) list(ctx context.Context, buyerID string, status enums.OrderStatus, query string) ([]models.Order, error) {
	if strings.TrimSpace(buyerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer identity missing")
	}
	orders, err := s.repo.ListByBuyer(ctx, buyerID, status, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

func (s *service) Get(ctx context.Context, buyerID string, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderError(err)
	}
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) Cancel(ctx context.Context, buyerID string, orderID uuid.UUID, reason string) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return mapOrderError(err)
		}
		if current.BuyerID != buyerID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		switch current.Status {
		case enums.OrderStatusFulfilled:
			return pkgerrors.New(pkgerrors.CodeConflict, "order already fulfilled")
		case enums.OrderStatusCanceled:
			return pkgerrors.New(pkgerrors.CodeConflict, "order already canceled")
		}

		now := time.Now().UTC()
		updates := map[string]any{"status": enums.OrderStatusCanceled, "canceled_at": now}
		if reason = strings.TrimSpace(reason); reason != "" {
			updates["cancel_reason"] = reason
		}
		moved, err := repo.Transition(ctx, current.ID, enums.OrderStatusCurrent, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel order")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConflict, "order is no longer current")
		}

		if err := s.restoreItems(ctx, tx, current); err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   current.ID,
			Actor:         &outbox.ActorRef{UserID: buyerID, Role: "buyer"},
			Data: payloads.OrderCanceledEvent{
				OrderID:    current.ID,
				BuyerID:    buyerID,
				ListingIDs: current.ListingIDs(),
				CanceledAt: now,
				Reason:     reason,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order canceled")
		}

		order, err = repo.FindByID(ctx, current.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order canceled")
	return order, nil
}

func (s *service) PrepareCheckout(ctx context.Context, buyerID string, orderID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errOrderNotReady
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
		}
		if current.BuyerID != buyerID || current.Status != enums.OrderStatusCurrent || len(current.Items) == 0 {
			return errOrderNotReady
		}

		current.Subtotal = current.ComputeSubtotal()
		if _, err := repo.UpdateSubtotal(ctx, current.ID, current.Subtotal); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subtotal")
		}
		order = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// errOrderNotReady covers a missing, foreign, terminal or empty order alike.
var errOrderNotReady = pkgerrors.New(pkgerrors.CodeNotFound, "order not found or empty")

func (s *service) RecordCheckoutSession(ctx context.Context, orderID uuid.UUID, sessionID string) error {
	if sessionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	updated, err := s.repo.SetCheckoutSession(ctx, orderID, sessionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record checkout session")
	}
	if !updated {
		return pkgerrors.New(pkgerrors.CodeConflict, "order is no longer current")
	}
	return nil
}

func (s *service) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	orders, err := s.repo.FindStaleCurrent(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stale orders")
	}
	return orders, nil
}

// Expire cancels an abandoned cart. It re-checks status and staleness under
// the row lock, so an order fulfilled or touched meanwhile is left alone.
func (s *service) Expire(ctx context.Context, orderID uuid.UUID, cutoff time.Time) (bool, error) {
	expired := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if current.Status != enums.OrderStatusCurrent || !current.UpdatedAt.Before(cutoff) {
			return nil
		}

		now := time.Now().UTC()
		moved, err := repo.Transition(ctx, current.ID, enums.OrderStatusCurrent, map[string]any{
			"status":        enums.OrderStatusCanceled,
			"canceled_at":   now,
			"cancel_reason": "expired",
		})
		if err != nil || !moved {
			return err
		}
		if err := s.restoreItems(ctx, tx, current); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   current.ID,
			Actor:         &outbox.ActorRef{UserID: "system", Role: "system"},
			Data: payloads.OrderExpiredEvent{
				OrderID:    current.ID,
				BuyerID:    current.BuyerID,
				ListingIDs: current.ListingIDs(),
				ExpiredAt:  now,
			},
		}); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}

func (s *service) Purge(ctx context.Context, actorID string, orderID uuid.UUID) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return mapOrderError(err)
		}
		if order.Status == enums.OrderStatusCurrent {
			if err := s.restoreItems(ctx, tx, order); err != nil {
				return err
			}
		}
		if _, err := repo.Delete(ctx, order.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete order")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPurged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: actorID, Role: "admin"},
			Data: payloads.OrderPurgedEvent{
				OrderID:  order.ID,
				BuyerID:  order.BuyerID,
				Status:   order.Status,
				PurgedBy: actorID,
				PurgedAt: time.Now().UTC(),
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order purged")
		}
		return nil
	})
	if err != nil {
		return err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": orderID.String(), "actor_id": actorID})
	s.logg.Warn(logCtx, "order purged by admin")
	return nil
}

// restoreItems puts back on sale every listing this order reserved. Listings
// it never held are left untouched.
func (s *service) restoreItems(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	for _, listingID := range order.ListingIDsInLockOrder() {
		if err := s.ledger.Restore(ctx, tx, listingID, order.ID); err != nil {
			return err
		}
	}
	return nil
}

func mapOrderError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
}
