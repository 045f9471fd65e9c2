package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem is an immutable snapshot of a listing taken when it was added to an order.
type OrderItem struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"-"`
	OrderID   uuid.UUID       `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_order_items_order_listing" json:"-"`
	ListingID uuid.UUID       `gorm:"column:listing_id;type:uuid;not null;uniqueIndex:ux_order_items_order_listing" json:"listingId"`
	Position  int             `gorm:"column:position;not null" json:"-"`
	Title     string          `gorm:"column:title;not null" json:"title"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	Quantity  int             `gorm:"column:quantity;not null;default:1" json:"quantity"`
	ImageURL  string          `gorm:"column:image_url;not null;default:''" json:"imageUrl"`
	SellerID  string          `gorm:"column:seller_id;not null" json:"sellerId"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (OrderItem) TableName() string { return "order_items" }

// LineTotal is price x quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
