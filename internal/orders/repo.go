package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/gadgetswap-backend/internal/repo"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
)

// Repository defines persistence operations for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertCurrent(ctx context.Context, order *models.Order) (bool, error)
	FindCurrentForUpdate(ctx context.Context, buyerID string) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	CreateItem(ctx context.Context, item *models.OrderItem) error
	UpdateSubtotal(ctx context.Context, orderID uuid.UUID, subtotal decimal.Decimal) (bool, error)
	Transition(ctx context.Context, orderID uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error)
	SetCheckoutSession(ctx context.Context, orderID uuid.UUID, sessionID string) (bool, error)
	ListByBuyer(ctx context.Context, buyerID string, status enums.OrderStatus, query string) ([]models.Order, error)
	FindStaleCurrent(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func orderedItems(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// InsertCurrent creates the buyer's cart unless one already exists. The
// partial unique index on (buyer_id) WHERE status = 'CURRENT' decides races,
// so a false return means another request created it first.
func (r *repository) InsertCurrent(ctx context.Context, order *models.Order) (bool, error) {
	res := r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Omit("Items").Create(order)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) FindCurrentForUpdate(ctx context.Context, buyerID string) (*models.Order, error) {
	var order models.Order
	err := r.ForUpdate(ctx).
		Where("buyer_id = ? AND status = ?", buyerID, enums.OrderStatusCurrent).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.DB(ctx).
		Preload("Items", orderedItems).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.ForUpdate(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) loadItems(ctx context.Context, order *models.Order) error {
	var items []models.OrderItem
	if err := orderedItems(r.DB(ctx)).Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
		return err
	}
	order.Items = items
	return nil
}

func (r *repository) CreateItem(ctx context.Context, item *models.OrderItem) error {
	return r.DB(ctx).Create(item).Error
}

// UpdateSubtotal only touches CURRENT orders; frozen orders never change.
func (r *repository) UpdateSubtotal(ctx context.Context, orderID uuid.UUID, subtotal decimal.Decimal) (bool, error) {
	res := r.DB(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, enums.OrderStatusCurrent).
		Updates(map[string]any{"subtotal": subtotal, "updated_at": time.Now().UTC()})
	return res.RowsAffected == 1, res.Error
}

// Transition applies updates only while the order is still in status from.
func (r *repository) Transition(ctx context.Context, orderID uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.DB(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) SetCheckoutSession(ctx context.Context, orderID uuid.UUID, sessionID string) (bool, error) {
	res := r.DB(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, enums.OrderStatusCurrent).
		Updates(map[string]any{"checkout_session_id": sessionID, "updated_at": time.Now().UTC()})
	return res.RowsAffected == 1, res.Error
}

// ListByBuyer returns the buyer's orders in one status, newest activity first.
// A non-empty query keeps orders with an item title containing it.
func (r *repository) ListByBuyer(ctx context.Context, buyerID string, status enums.OrderStatus, query string) ([]models.Order, error) {
	q := r.DB(ctx).
		Preload("Items", orderedItems).
		Where("buyer_id = ? AND status = ?", buyerID, status)
	if term := strings.ToLower(strings.TrimSpace(query)); term != "" {
		q = q.Where("id IN (?)", r.DB(ctx).Model(&models.OrderItem{}).
			Select("order_id").
			Where("LOWER(title) LIKE ?", "%"+term+"%"))
	}
	var orders []models.Order
	err := q.Order("updated_at DESC").Order("id ASC").Find(&orders).Error
	return orders, err
}

func (r *repository) FindStaleCurrent(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.DB(ctx).
		Where("status = ? AND updated_at < ?", enums.OrderStatusCurrent, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := r.DB(ctx).Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
		return false, err
	}
	res := r.DB(ctx).Where("id = ?", id).Delete(&models.Order{})
	return res.RowsAffected == 1, res.Error
}
