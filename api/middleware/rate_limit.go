package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/merchcoin-backend/api/responses"
	"github.com/angelmondragon/merchcoin-backend/internal/apikeys"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// RateLimit applies the limiter per credential, falling back to the session
// user and then the client address. Every response carries the window
// headers; a rejected request also carries Retry-After.
func RateLimit(limiter apikeys.Limiter, logg *logger.Logger, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := rateLimitKey(r)

			decision, err := limiter.Allow(ctx, key)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}

			h := w.Header()
			h.Set(headerRateLimitLimit, strconv.Itoa(decision.Limit))
			h.Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			h.Set(headerRateLimitReset, strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				retryAfter := decision.RetryAfter(now())
				seconds := int64((retryAfter + time.Second - 1) / time.Second)
				h.Set(headerRetryAfter, strconv.FormatInt(seconds, 10))
				if logg != nil {
					logCtx := logg.WithFields(ctx, map[string]any{
						"rate_limit_key": key,
						"limit":          decision.Limit,
						"reset_at":       decision.ResetAt.UTC().Format(time.RFC3339),
					})
					logg.Warn(logCtx, "api.rate_limit.blocked")
				}
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded").
					WithDetails(map[string]any{
						"limit":       decision.Limit,
						"remaining":   decision.Remaining,
						"reset":       decision.ResetAt.Unix(),
						"retry_after": seconds,
					}))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if id := CredentialIDFromContext(r.Context()); id != "" {
		return "credential:" + id
	}
	if id := UserIDFromContext(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
