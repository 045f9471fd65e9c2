package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
)

// OrderFulfilledEvent is emitted once an order is paid and its listings sold.
type OrderFulfilledEvent struct {
	OrderID     uuid.UUID               `json:"order_id"`
	BuyerID     string                  `json:"buyer_id"`
	ListingIDs  []uuid.UUID             `json:"listing_ids"`
	SellerIDs   []string                `json:"seller_ids"`
	Subtotal    decimal.Decimal         `json:"subtotal"`
	Source      enums.FulfillmentSource `json:"source"`
	SessionID   string                  `json:"session_id,omitempty"`
	FulfilledAt time.Time               `json:"fulfilled_at"`
}

// OrderCanceledEvent is emitted when a buyer cancels their current order.
type OrderCanceledEvent struct {
	OrderID    uuid.UUID   `json:"order_id"`
	BuyerID    string      `json:"buyer_id"`
	ListingIDs []uuid.UUID `json:"listing_ids"`
	CanceledAt time.Time   `json:"canceled_at"`
	Reason     string      `json:"reason,omitempty"`
}

// OrderExpiredEvent is emitted when an abandoned cart is swept.
type OrderExpiredEvent struct {
	OrderID    uuid.UUID   `json:"order_id"`
	BuyerID    string      `json:"buyer_id"`
	ListingIDs []uuid.UUID `json:"listing_ids"`
	ExpiredAt  time.Time   `json:"expired_at"`
}

// OrderPurgedEvent is emitted when an admin deletes an order record.
type OrderPurgedEvent struct {
	OrderID  uuid.UUID         `json:"order_id"`
	BuyerID  string            `json:"buyer_id"`
	Status   enums.OrderStatus `json:"status"`
	PurgedBy string            `json:"purged_by"`
	PurgedAt time.Time         `json:"purged_at"`
}

// FulfillmentConflictEvent flags a paid session whose order could not be fulfilled,
// so the payment can be refunded out of band.
type FulfillmentConflictEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	SessionID  string            `json:"session_id,omitempty"`
	EventID    string            `json:"event_id,omitempty"`
	Status     enums.OrderStatus `json:"status,omitempty"`
	Reason     string            `json:"reason"`
	DetectedAt time.Time         `json:"detected_at"`
}
