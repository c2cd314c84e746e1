package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/internal/tenancy"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
)

// Service manages the purchasable catalog of a tenant.
type Service interface {
	CreateItem(ctx context.Context, input CreateItemInput) (*models.CatalogItem, error)
	GetItem(ctx context.Context, tenantID, itemID uuid.UUID) (*models.CatalogItem, error)
	ListItems(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]models.CatalogItem, error)
}

// CreateItemInput carries a new item and its variants. A nil Stock means unlimited.
type CreateItemInput struct {
	TenantID uuid.UUID            `json:"-"`
	Name     string               `json:"name" validate:"required,max=200"`
	Price    int64                `json:"price" validate:"gte=0"`
	Stock    *int64               `json:"stock,omitempty" validate:"omitempty,gte=0"`
	Variants []CreateVariantInput `json:"variants,omitempty" validate:"dive"`
}

type CreateVariantInput struct {
	Name          string         `json:"name" validate:"required,max=200"`
	PriceOverride *int64         `json:"priceOverride,omitempty" validate:"omitempty,gte=0"`
	Stock         *int64         `json:"stock,omitempty" validate:"omitempty,gte=0"`
	Options       map[string]any `json:"options,omitempty"`
}

type service struct {
	tenancy tenancy.Runner
	repo    *Repository
}

// NewService wires the catalog service.
func NewService(runner tenancy.Runner, repo *Repository) (Service, error) {
	if runner == nil {
		return nil, fmt.Errorf("tenancy runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	return &service{tenancy: runner, repo: repo}, nil
}

func (s *service) CreateItem(ctx context.Context, input CreateItemInput) (*models.CatalogItem, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if input.Price < 0 || (input.Stock != nil && *input.Stock < 0) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price and stock must not be negative")
	}

	item := &models.CatalogItem{
		TenantID: input.TenantID,
		Name:     name,
		Price:    input.Price,
		Stock:    input.Stock,
		Active:   true,
	}
	err := s.tenancy.Run(ctx, input.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateItem(ctx, item); err != nil {
			return err
		}
		for _, v := range input.Variants {
			variantName := strings.TrimSpace(v.Name)
			if variantName == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "variant name is required")
			}
			if (v.PriceOverride != nil && *v.PriceOverride < 0) || (v.Stock != nil && *v.Stock < 0) {
				return pkgerrors.New(pkgerrors.CodeValidation, "variant price and stock must not be negative")
			}
			variant := models.CatalogVariant{
				TenantID:      input.TenantID,
				ItemID:        item.ID,
				Name:          variantName,
				PriceOverride: v.PriceOverride,
				Stock:         v.Stock,
				Options:       datatypes.JSONMap(v.Options),
			}
			if err := repo.CreateVariant(ctx, &variant); err != nil {
				return err
			}
			item.Variants = append(item.Variants, variant)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *service) GetItem(ctx context.Context, tenantID, itemID uuid.UUID) (*models.CatalogItem, error) {
	var item *models.CatalogItem
	err := s.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		item, err = s.repo.WithTx(tx).GetItem(ctx, tenantID, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not found")
	}
	return item, nil
}

func (s *service) ListItems(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]models.CatalogItem, error) {
	var items []models.CatalogItem
	err := s.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		items, err = s.repo.WithTx(tx).ListItems(ctx, tenantID, activeOnly)
		return err
	})
	return items, err
}

// EffectivePrice returns the variant override when present, else the item price.
func EffectivePrice(item *models.CatalogItem, variant *models.CatalogVariant) int64 {
	if variant != nil && variant.PriceOverride != nil {
		return *variant.PriceOverride
	}
	return item.Price
}

// EffectiveStock returns the stock counter that governs a purchase. A variant
// with its own counter takes precedence; nil means unlimited.
func EffectiveStock(item *models.CatalogItem, variant *models.CatalogVariant) *int64 {
	if variant != nil && variant.Stock != nil {
		return variant.Stock
	}
	return item.Stock
}
