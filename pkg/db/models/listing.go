package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
)

// Listing is a single-unit item offered by a seller.
type Listing struct {
	ID              uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SellerID        string                    `gorm:"column:seller_id;not null;index" json:"sellerId"`
	Title           string                    `gorm:"column:title;not null" json:"title"`
	Description     string                    `gorm:"column:description;not null;default:''" json:"description"`
	Category        string                    `gorm:"column:category;not null;default:''" json:"category"`
	Condition       string                    `gorm:"column:condition;not null;default:''" json:"condition"`
	ImageURL        string                    `gorm:"column:image_url;not null;default:''" json:"imageUrl"`
	Location        string                    `gorm:"column:location;not null;default:''" json:"location"`
	Price           decimal.Decimal           `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	OriginalPrice   decimal.Decimal           `gorm:"column:original_price;type:numeric(12,2);not null;<-:create" json:"originalPrice"`
	Availability    enums.ListingAvailability `gorm:"column:availability;type:text;not null;default:'available'" json:"availability"`
	ReservedOrderID *uuid.UUID                `gorm:"column:reserved_order_id;type:uuid" json:"-"`
	SoldAt          *time.Time                `gorm:"column:sold_at" json:"soldAt,omitempty"`
	CreatedAt       time.Time                 `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time                 `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Listing) TableName() string { return "listings" }
