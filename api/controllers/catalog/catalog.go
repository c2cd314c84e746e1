package catalog

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/merchcoin-backend/api/middleware"
	"github.com/angelmondragon/merchcoin-backend/api/responses"
	"github.com/angelmondragon/merchcoin-backend/api/validators"
	internalcatalog "github.com/angelmondragon/merchcoin-backend/internal/catalog"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
)

type itemDTO struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Price     int64        `json:"price"`
	Stock     *int64       `json:"stock"`
	Active    bool         `json:"active"`
	Variants  []variantDTO `json:"variants"`
	CreatedAt time.Time    `json:"createdAt"`
}

type variantDTO struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	PriceOverride  *int64         `json:"priceOverride,omitempty"`
	Stock          *int64         `json:"stock"`
	EffectivePrice int64          `json:"effectivePrice"`
	EffectiveStock *int64         `json:"effectiveStock"`
	Options        map[string]any `json:"options,omitempty"`
}

func CreateItem(svc internalcatalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var input internalcatalog.CreateItemInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input.TenantID = tenantID
		input.Name = validators.SanitizeString(input.Name, 200)

		item, err := svc.CreateItem(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toItemDTO(item))
	}
}

// ListItems returns the tenant catalog; ?active=false includes retired items.
func ListItems(svc internalcatalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		activeOnly, err := validators.ParseQueryBool(r, "active", true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items, err := svc.ListItems(r.Context(), tenantID, activeOnly)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]itemDTO, 0, len(items))
		for i := range items {
			out = append(out, toItemDTO(&items[i]))
		}
		responses.WriteSuccess(w, map[string]any{"items": out})
	}
}

func GetItem(svc internalcatalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		item, err := svc.GetItem(r.Context(), tenantID, itemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toItemDTO(item))
	}
}

func toItemDTO(item *models.CatalogItem) itemDTO {
	out := itemDTO{
		ID:        item.ID,
		Name:      item.Name,
		Price:     item.Price,
		Stock:     item.Stock,
		Active:    item.Active,
		Variants:  make([]variantDTO, 0, len(item.Variants)),
		CreatedAt: item.CreatedAt,
	}
	for i := range item.Variants {
		variant := &item.Variants[i]
		out.Variants = append(out.Variants, variantDTO{
			ID:             variant.ID,
			Name:           variant.Name,
			PriceOverride:  variant.PriceOverride,
			Stock:          variant.Stock,
			EffectivePrice: internalcatalog.EffectivePrice(item, variant),
			EffectiveStock: internalcatalog.EffectiveStock(item, variant),
			Options:        variant.Options,
		})
	}
	return out
}
