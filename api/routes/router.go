package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/merchcoin-backend/api/controllers"
	apikeycontrollers "github.com/angelmondragon/merchcoin-backend/api/controllers/apikeys"
	catalogcontrollers "github.com/angelmondragon/merchcoin-backend/api/controllers/catalog"
	currencycontrollers "github.com/angelmondragon/merchcoin-backend/api/controllers/currency"
	ordercontrollers "github.com/angelmondragon/merchcoin-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/merchcoin-backend/api/controllers/webhooks"
	"github.com/angelmondragon/merchcoin-backend/api/middleware"
	"github.com/angelmondragon/merchcoin-backend/internal/apikeys"
	"github.com/angelmondragon/merchcoin-backend/internal/catalog"
	"github.com/angelmondragon/merchcoin-backend/internal/ledger"
	"github.com/angelmondragon/merchcoin-backend/internal/orders"
	"github.com/angelmondragon/merchcoin-backend/pkg/config"
	"github.com/angelmondragon/merchcoin-backend/pkg/db"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
	"github.com/angelmondragon/merchcoin-backend/pkg/redis"
)

// NewRouter mounts the programmatic API under /api/v1 and the dashboard API
// under /api/admin/v1. Both share the same handlers; they differ only in how
// the caller is authenticated.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	limiter apikeys.Limiter,
	authenticator middleware.Authenticator,
	ledgerService ledger.Service,
	ordersService orders.Service,
	catalogService catalog.Service,
	credentialService apikeycontrollers.CredentialService,
	endpointService webhookcontrollers.EndpointService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	deps := map[string]controllers.Pinger{}
	if dbP != nil {
		deps["db"] = dbP
	}
	if redisClient != nil {
		deps["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	var idempotencyStore redis.IdempotencyStore
	if redisClient != nil {
		idempotencyStore = redisClient
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(authenticator, logg))
		r.Use(middleware.RateLimit(limiter, logg, time.Now))
		r.Use(middleware.Idempotency(idempotencyStore, logg))
		mountDomain(r, logg, ledgerService, ordersService, credentialService, endpointService)
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSOrigins))
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(limiter, logg, time.Now))
		r.Use(middleware.Idempotency(idempotencyStore, logg))
		mountDomain(r, logg, ledgerService, ordersService, credentialService, endpointService)

		r.Route("/catalog/items", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.MemberRoleAdmin, logg))
			r.Get("/", catalogcontrollers.ListItems(catalogService, logg))
			r.Post("/", catalogcontrollers.CreateItem(catalogService, logg))
			r.Get("/{itemId}", catalogcontrollers.GetItem(catalogService, logg))
		})
	})

	return r
}

func mountDomain(
	r chi.Router,
	logg *logger.Logger,
	ledgerService ledger.Service,
	ordersService orders.Service,
	credentialService apikeycontrollers.CredentialService,
	endpointService webhookcontrollers.EndpointService,
) {
	allow := func(permission string) func(http.Handler) http.Handler {
		return middleware.RequirePermission(permission, logg)
	}

	r.Route("/currency", func(r chi.Router) {
		r.With(allow("currency:credit")).Post("/credit", currencycontrollers.Credit(ledgerService, logg))
		r.With(allow("currency:debit")).Post("/debit", currencycontrollers.Debit(ledgerService, logg))
		r.With(allow("currency:distribute")).Post("/distribute", currencycontrollers.Distribute(ledgerService, logg))
		r.With(allow("currency:adjust")).Post("/adjust", currencycontrollers.Adjust(ledgerService, logg))
		r.With(allow("currency:read")).Get("/balance/{userId}", currencycontrollers.Balance(ledgerService, logg))
		r.With(allow("currency:read")).Get("/history/{userId}", currencycontrollers.History(ledgerService, logg))
	})

	r.Route("/orders", func(r chi.Router) {
		r.With(allow("orders:create")).Post("/", ordercontrollers.Place(ordersService, logg))
		r.With(allow("orders:read")).Get("/", ordercontrollers.List(ordersService, logg))
		r.With(allow("orders:read")).Get("/{orderId}", ordercontrollers.Get(ordersService, logg))
		r.With(allow("orders:approve")).Post("/{orderId}/approve", ordercontrollers.Approve(ordersService, logg))
		r.With(allow("orders:fulfill")).Post("/{orderId}/fulfill", ordercontrollers.Fulfill(ordersService, logg))
		r.With(allow("orders:cancel")).Post("/{orderId}/cancel", ordercontrollers.Cancel(ordersService, logg))
	})

	r.Route("/api-keys", func(r chi.Router) {
		r.With(allow("api_keys:read")).Get("/", apikeycontrollers.List(credentialService, logg))
		r.With(allow("api_keys:manage")).Post("/", apikeycontrollers.Issue(credentialService, logg))
		r.With(allow("api_keys:manage")).Delete("/{credentialId}", apikeycontrollers.Revoke(credentialService, logg))
	})

	r.Route("/webhooks/endpoints", func(r chi.Router) {
		r.With(allow("webhooks:read")).Get("/", webhookcontrollers.ListEndpoints(endpointService, logg))
		r.With(allow("webhooks:manage")).Post("/", webhookcontrollers.CreateEndpoint(endpointService, logg))
		r.With(allow("webhooks:manage")).Delete("/{endpointId}", webhookcontrollers.DeactivateEndpoint(endpointService, logg))
		r.With(allow("webhooks:read")).Get("/{endpointId}/deliveries", webhookcontrollers.ListDeliveries(endpointService, logg))
	})
}
