package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/gadgetswap-backend/api/middleware"
	"github.com/angelmondragon/gadgetswap-backend/api/responses"
	"github.com/angelmondragon/gadgetswap-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/gadgetswap-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/types"
)

// SessionCreator opens a hosted payment page for a CURRENT order.
type SessionCreator interface {
	CreateSession(ctx context.Context, buyerID string, orderID uuid.UUID) (*checkoutsvc.Session, error)
}

type checkoutSessionRequest struct {
	OrderID string `json:"orderId" validate:"required,uuid"`
}

// CheckoutSession creates a processor checkout session for the caller's order
// and returns the URL the client should redirect to.
func CheckoutSession(svc SessionCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		buyerID := middleware.UserIDFromContext(r.Context())
		if buyerID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var payload checkoutSessionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID := uuid.MustParse(payload.OrderID)

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		session, err := svc.CreateSession(ctx, buyerID, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, types.CheckoutSessionResponse{
			URL:       session.URL,
			SessionID: session.ID,
			OrderID:   session.OrderID.String(),
		})
	}
}
