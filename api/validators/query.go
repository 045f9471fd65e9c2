package validators

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
	"github.com/angelmondragon/gadgetswap-backend/pkg/types"
)

const maxSearchLen = 100

// ParseUUIDParam reads a chi path parameter as a uuid.
func ParseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, key+" is required").
			WithDetails([]types.FieldError{{Field: key, Message: "is required"}})
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, key+" must be a valid id").
			WithDetails([]types.FieldError{{Field: key, Message: "must be a valid id"}})
	}
	return id, nil
}

// ParseSearchQuery returns the trimmed q parameter. An empty query is an error
// because the search routes would otherwise just repeat the plain listings.
func ParseSearchQuery(r *http.Request) (string, error) {
	q := SanitizeString(r.URL.Query().Get("q"), maxSearchLen)
	if q == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "q is required").
			WithDetails([]types.FieldError{{Field: "q", Message: "is required"}})
	}
	return q, nil
}
