package middleware

import (
	"context"
	"net/http"

	"github.com/angelmondragon/merchcoin-backend/api/responses"
	"github.com/angelmondragon/merchcoin-backend/internal/apikeys"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
)

// Authenticator resolves an API credential token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*apikeys.Principal, error)
}

// APIKeyAuth authenticates programmatic callers presenting
// "Authorization: Bearer mc_live_...".
func APIKeyAuth(authenticator Authenticator, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authenticator == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "api key authenticator unavailable"))
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			principal, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := context.WithValue(r.Context(), ctxCredentialID, principal.CredentialID.String())
			ctx = WithPrincipal(ctx, principal.TenantID, principal.Capabilities)
			if logg != nil {
				ctx = logg.WithCredentialID(ctx, principal.CredentialID.String())
				ctx = logg.WithTenantID(ctx, principal.TenantID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
