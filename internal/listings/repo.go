package listings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/gadgetswap-backend/internal/repo"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
)

// Repository persists listings and performs the atomic availability transitions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, listing *models.Listing) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	MarkSold(ctx context.Context, listingID, orderID uuid.UUID) (bool, error)
	Reserve(ctx context.Context, listingID, orderID uuid.UUID) (bool, error)
	Restore(ctx context.Context, listingID, orderID uuid.UUID) (bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds a listings repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, listing *models.Listing) error {
	return r.DB(ctx).Create(listing).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.DB(ctx).Where("id = ?", id).First(&listing).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

// MarkSold is a compare-and-set: it only succeeds from available, or from
// pending when the reservation belongs to orderID.
func (r *repository) MarkSold(ctx context.Context, listingID, orderID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	res := r.DB(ctx).Model(&models.Listing{}).
		Where("id = ?", listingID).
		Where("(availability = ? OR (availability = ? AND reserved_order_id = ?))",
			enums.ListingAvailable, enums.ListingPending, orderID).
		Updates(map[string]any{
			"availability":      enums.ListingSold,
			"reserved_order_id": nil,
			"sold_at":           now,
			"updated_at":        now,
		})
	return res.RowsAffected == 1, res.Error
}

// Reserve holds an available listing for orderID.
func (r *repository) Reserve(ctx context.Context, listingID, orderID uuid.UUID) (bool, error) {
	res := r.DB(ctx).Model(&models.Listing{}).
		Where("id = ? AND availability = ?", listingID, enums.ListingAvailable).
		Updates(map[string]any{
			"availability":      enums.ListingPending,
			"reserved_order_id": orderID,
			"updated_at":        time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// Restore releases a listing held by orderID. Sold listings never match.
func (r *repository) Restore(ctx context.Context, listingID, orderID uuid.UUID) (bool, error) {
	res := r.DB(ctx).Model(&models.Listing{}).
		Where("id = ? AND availability = ? AND reserved_order_id = ?", listingID, enums.ListingPending, orderID).
		Updates(restoreColumns())
	return res.RowsAffected == 1, res.Error
}

func restoreColumns() map[string]any {
	return map[string]any{
		"availability":      enums.ListingAvailable,
		"reserved_order_id": nil,
		"updated_at":        time.Now().UTC(),
	}
}
