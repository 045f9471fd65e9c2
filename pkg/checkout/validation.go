package checkout

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// LineItemInput is one order line headed for a hosted payment page.
type LineItemInput struct {
	ListingID uuid.UUID
	Title     string
	Price     decimal.Decimal
	Quantity  int
}

// LineItemViolationDetail explains why a line cannot be charged.
type LineItemViolationDetail struct {
	ListingID uuid.UUID `json:"listing_id"`
	Title     string    `json:"title,omitempty"`
	Reason    string    `json:"reason"`
}

// MinorUnits converts a decimal amount to integer cents, rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// ValidateLineItems rejects lines a processor would refuse: blank names,
// non-positive amounts and quantities other than one.
func ValidateLineItems(items []LineItemInput) error {
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order has no items")
	}
	var violations []LineItemViolationDetail
	for _, item := range items {
		reason := ""
		switch {
		case strings.TrimSpace(item.Title) == "":
			reason = "title required"
		case MinorUnits(item.Price) <= 0:
			reason = "price must be positive"
		case item.Quantity != 1:
			reason = "quantity must be 1"
		}
		if reason != "" {
			violations = append(violations, LineItemViolationDetail{
				ListingID: item.ListingID,
				Title:     item.Title,
				Reason:    reason,
			})
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%d line item(s) cannot be charged", len(violations))).WithDetails(violations)
}
