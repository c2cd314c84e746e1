package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/merchcoin-backend/internal/apikeys"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
)

type contextKey string

const (
	ctxUserID       contextKey = "user_id"
	ctxRole         contextKey = "actor_role"
	ctxTenantID     contextKey = "tenant_id"
	ctxCredentialID contextKey = "credential_id"
	ctxCapabilities contextKey = "capabilities"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// TenantIDFromContext returns the tenant bound by Auth or APIKeyAuth.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	v, ok := ctx.Value(ctxTenantID).(uuid.UUID)
	return v, ok && v != uuid.Nil
}

func CredentialIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxCredentialID).(string); ok {
		return v
	}
	return ""
}

func CapabilitiesFromContext(ctx context.Context) apikeys.CapabilitySet {
	if ctx == nil {
		return apikeys.CapabilitySet{}
	}
	if v, ok := ctx.Value(ctxCapabilities).(apikeys.CapabilitySet); ok {
		return v
	}
	return apikeys.CapabilitySet{}
}

// ActorFromContext names the caller for audit columns such as performed_by.
func ActorFromContext(ctx context.Context) string {
	if id := CredentialIDFromContext(ctx); id != "" {
		return "api_key:" + id
	}
	if id := UserIDFromContext(ctx); id != "" {
		return "user:" + id
	}
	return ""
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithRole injects the session role into the context.
func WithRole(ctx context.Context, role enums.MemberRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, string(role))
}

// WithPrincipal seeds the tenant and capabilities of an authenticated caller.
func WithPrincipal(ctx context.Context, tenantID uuid.UUID, caps apikeys.CapabilitySet) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxTenantID, tenantID)
	return context.WithValue(ctx, ctxCapabilities, caps)
}

// RequireTenantID returns the bound tenant or an UNAUTHORIZED error when the
// route was reached without authentication.
func RequireTenantID(ctx context.Context) (uuid.UUID, error) {
	tenantID, ok := TenantIDFromContext(ctx)
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "tenant context missing")
	}
	return tenantID, nil
}

// MemberSelf reports whether the caller is a member session, which may only
// act on its own user, and returns that user id when so.
func MemberSelf(ctx context.Context) (uuid.UUID, bool, error) {
	if enums.MemberRole(RoleFromContext(ctx)) != enums.MemberRoleMember {
		return uuid.Nil, false, nil
	}
	self, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, false, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid session user")
	}
	return self, true, nil
}
