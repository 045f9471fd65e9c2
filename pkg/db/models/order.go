package models

import (
	"bytes"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
)

// Order is a buyer's cart while CURRENT and an immutable record afterwards.
type Order struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	BuyerID           string              `gorm:"column:buyer_id;not null;index" json:"buyerId"`
	Status            enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'CURRENT'" json:"status"`
	PaymentStatus     enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'PENDING'" json:"paymentStatus"`
	Subtotal          decimal.Decimal     `gorm:"column:subtotal;type:numeric(12,2);not null;default:0" json:"subtotal"`
	Note              string              `gorm:"column:note;not null;default:''" json:"note"`
	CheckoutSessionID *string             `gorm:"column:checkout_session_id" json:"checkoutSessionId,omitempty"`
	CancelReason      *string             `gorm:"column:cancel_reason" json:"cancelReason,omitempty"`
	FulfilledAt       *time.Time          `gorm:"column:fulfilled_at" json:"fulfilledAt,omitempty"`
	CanceledAt        *time.Time          `gorm:"column:canceled_at" json:"canceledAt,omitempty"`
	Items             []OrderItem         `gorm:"foreignKey:OrderID;references:ID" json:"items"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Order) TableName() string { return "orders" }

// ComputeSubtotal sums price x quantity over the order's items.
func (o *Order) ComputeSubtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// HasListing reports whether the listing already appears among the items.
func (o *Order) HasListing(listingID uuid.UUID) bool {
	for _, item := range o.Items {
		if item.ListingID == listingID {
			return true
		}
	}
	return false
}

// ListingIDs returns the listing of every item, in item order.
func (o *Order) ListingIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ListingID)
	}
	return ids
}

// ListingIDsInLockOrder returns the item listings sorted by id. Transactions
// touching several listings lock them in this order so two orders sharing
// listings cannot deadlock each other.
func (o *Order) ListingIDsInLockOrder() []uuid.UUID {
	ids := o.ListingIDs()
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return ids
}
