package listings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
)

// Ledger is the source of truth for whether a listing can be purchased.
// Mutating calls take the caller's transaction so availability only moves
// together with the order that caused it.
type Ledger interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	Create(ctx context.Context, input CreateInput) (*models.Listing, error)
	MarkSold(ctx context.Context, tx *gorm.DB, listingID, orderID uuid.UUID) error
	Reserve(ctx context.Context, tx *gorm.DB, listingID, orderID uuid.UUID) error
	Restore(ctx context.Context, tx *gorm.DB, listingID, orderID uuid.UUID) error
}

// CreateInput carries the seller-supplied listing fields.
type CreateInput struct {
	SellerID    string
	Title       string
	Description string
	Category    string
	Condition   string
	ImageURL    string
	Location    string
	Price       decimal.Decimal
}

// UnavailableDetail is attached to conflicts raised by the ledger.
type UnavailableDetail struct {
	ListingID    uuid.UUID                 `json:"listingId"`
	Availability enums.ListingAvailability `json:"availability"`
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("listings repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id required")
	}
	listing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapFindError(err)
	}
	return listing, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Listing, error) {
	if strings.TrimSpace(input.SellerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title required")
	}
	if input.Price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}

	price := input.Price.Round(2)
	listing := &models.Listing{
		ID:            uuid.New(),
		SellerID:      input.SellerID,
		Title:         strings.TrimSpace(input.Title),
		Description:   input.Description,
		Category:      input.Category,
		Condition:     input.Condition,
		ImageURL:      input.ImageURL,
		Location:      input.Location,
		Price:         price,
		OriginalPrice: price,
		Availability:  enums.ListingAvailable,
	}
	if err := s.repo.Create(ctx, listing); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create listing")
	}
	return listing, nil
}

func (s *service) MarkSold(ctx context.Context, tx *gorm.DB, listingID, orderID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	sold, err := repo.MarkSold(ctx, listingID, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark listing sold")
	}
	if sold {
		return nil
	}
	return s.unavailable(ctx, repo, listingID, "listing is no longer available")
}

func (s *service) Reserve(ctx context.Context, tx *gorm.DB, listingID, orderID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	reserved, err := repo.Reserve(ctx, listingID, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve listing")
	}
	if reserved {
		return nil
	}
	return s.unavailable(ctx, repo, listingID, "listing is not available")
}

// Restore puts a listing held by orderID back on sale. It is a no-op for
// listings that were never reserved or are already sold.
func (s *service) Restore(ctx context.Context, tx *gorm.DB, listingID, orderID uuid.UUID) error {
	if _, err := s.repo.WithTx(tx).Restore(ctx, listingID, orderID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "restore listing")
	}
	return nil
}

func (s *service) unavailable(ctx context.Context, repo Repository, listingID uuid.UUID, message string) error {
	listing, err := repo.FindByID(ctx, listingID)
	if err != nil {
		return mapFindError(err)
	}
	return pkgerrors.New(pkgerrors.CodeConflict, message).
		WithDetails([]UnavailableDetail{{ListingID: listingID, Availability: listing.Availability}})
}

func mapFindError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load listing")
}
