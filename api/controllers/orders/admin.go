package orders

import (
	"net/http"

	"github.com/angelmondragon/gadgetswap-backend/api/responses"
	"github.com/angelmondragon/gadgetswap-backend/api/validators"
	internalorders "github.com/angelmondragon/gadgetswap-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/types"
)

// Purge hard-deletes an order. The route is mounted behind the admin role check.
func Purge(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actorID, err := buyerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Purge(r.Context(), actorID, orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, types.OK{OK: true})
	}
}
