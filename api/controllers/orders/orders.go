package orders

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/gadgetswap-backend/api/middleware"
	"github.com/angelmondragon/gadgetswap-backend/api/responses"
	"github.com/angelmondragon/gadgetswap-backend/api/validators"
	internalorders "github.com/angelmondragon/gadgetswap-backend/internal/orders"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
)

// CheckoutMessage tells the client where to go after the order was validated.
const CheckoutMessage = "Order is ready for checkout. Use /payments/checkout-session to start payment."

// Confirmer completes a paid checkout session on the buyer's behalf.
type Confirmer interface {
	Confirm(ctx context.Context, buyerID string, orderID uuid.UUID, sessionID string) (*models.Order, error)
}

type addItemRequest struct {
	ListingID string `json:"listingId" validate:"required,uuid"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type completeRequest struct {
	SessionID string `json:"sessionId" validate:"required,startswith=cs_,max=255"`
}

type checkoutResponse struct {
	Message string        `json:"message"`
	Order   *models.Order `json:"order"`
}

// AddItem puts a listing into the caller's CURRENT order, creating it if needed.
func AddItem(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		buyerID, err := buyerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		listingID := uuid.MustParse(payload.ListingID)

		order, err := svc.AddItem(r.Context(), buyerID, listingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusCreated, order)
	}
}

// Current lists the caller's CURRENT orders.
func Current(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return listHandler(logg, svc, func(ctx context.Context, buyerID string) ([]models.Order, error) {
		return svc.Current(ctx, buyerID)
	})
}

// Previous lists the caller's fulfilled orders, newest first.
func Previous(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return listHandler(logg, svc, func(ctx context.Context, buyerID string) ([]models.Order, error) {
		return svc.Previous(ctx, buyerID)
	})
}

func SearchCurrent(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return searchHandler(logg, svc, func(ctx context.Context, buyerID, q string) ([]models.Order, error) {
		return svc.SearchCurrent(ctx, buyerID, q)
	})
}

func SearchPrevious(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return searchHandler(logg, svc, func(ctx context.Context, buyerID, q string) ([]models.Order, error) {
		return svc.SearchPrevious(ctx, buyerID, q)
	})
}

func listHandler(logg *logger.Logger, svc internalorders.Service, list func(context.Context, string) ([]models.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		buyerID, err := buyerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orders, err := list(r.Context(), buyerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nonNil(orders))
	}
}

func searchHandler(logg *logger.Logger, svc internalorders.Service, search func(context.Context, string, string) ([]models.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		buyerID, err := buyerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		q, err := validators.ParseSearchQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orders, err := search(r.Context(), buyerID, q)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nonNil(orders))
	}
}

// Cancel moves the caller's CURRENT order to CANCELED. The body is optional.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		buyerID, err := buyerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Cancel(r.Context(), buyerID, orderID, validators.SanitizeString(payload.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Checkout validates that the order can be paid for and returns the next step.
func Checkout(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		buyerID, err := buyerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.PrepareCheckout(r.Context(), buyerID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, checkoutResponse{Message: CheckoutMessage, Order: order})
	}
}

// Complete fulfills the order from the buyer's return redirect.
func Complete(svc Confirmer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		buyerID, err := buyerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload completeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		order, err := svc.Confirm(ctx, buyerID, orderID, payload.SessionID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func buyerIDFromContext(r *http.Request) (string, error) {
	buyerID := middleware.UserIDFromContext(r.Context())
	if buyerID == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return buyerID, nil
}

func nonNil(orders []models.Order) []models.Order {
	if orders == nil {
		return []models.Order{}
	}
	return orders
}
