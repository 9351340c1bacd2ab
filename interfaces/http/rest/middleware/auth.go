package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"real-backend/pkg/auth"
	"real-backend/pkg/common"
)

// RequireOperator verifies the bearer token, requires the operator role and
// applies the per-operator rate limit.
func RequireOperator(authenticator *auth.Authenticator, limiter *auth.OperatorRateLimiter, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := common.LoggerFrom(r.Context(), logger)

			claims, err := authenticator.Verify(extractToken(r))
			if err != nil {
				log.Warn("Rejected ops token",
					zap.Error(err),
					zap.String("path", r.URL.Path),
				)
				switch {
				case errors.Is(err, auth.ErrNotConfigured):
					common.RespondError(w, r, http.StatusServiceUnavailable, common.StandardErrorCodes.ServiceUnavailable, "ops authentication is not configured")
				case errors.Is(err, auth.ErrExpiredToken):
					common.RespondError(w, r, http.StatusUnauthorized, common.StandardErrorCodes.Unauthorized, "Token has expired")
				default:
					common.RespondError(w, r, http.StatusUnauthorized, common.StandardErrorCodes.Unauthorized, "Invalid token")
				}
				return
			}

			if !claims.HasRole(auth.RoleOperator) {
				common.RespondError(w, r, http.StatusForbidden, common.StandardErrorCodes.Forbidden, "Insufficient permissions")
				return
			}

			allowed, err := limiter.Allow(r.Context(), claims.Operator())
			if err != nil {
				log.Error("Rate limiter error", zap.Error(err))
				common.RespondError(w, r, http.StatusInternalServerError, common.StandardErrorCodes.InternalError, "Internal server error")
				return
			}
			if !allowed {
				common.RespondError(w, r, http.StatusTooManyRequests, common.StandardErrorCodes.TooManyRequests, "Rate limit exceeded")
				return
			}

			ctx := common.WithOperator(r.Context(), claims.Operator())
			ctx = common.WithLogger(ctx, log.With(zap.String("operator", claims.Operator())))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken reads a bearer token from the Authorization header
func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
