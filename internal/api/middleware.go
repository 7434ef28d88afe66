/**
 * @description
 * This file contains custom middleware for the HTTP router: bearer-token
 * authentication, role checks and the scoped rate limiter.
 *
 * @dependencies
 * - internal/app: For token verification (AuthService) and the Redis rate limiter.
 */

package api

import (
	"context"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/transfa/payout-service/internal/domain"
)

// principalContextKey is a custom type for the context key to avoid collisions.
type principalContextKey string

const principalKey principalContextKey = "principal"

// Principal is the authenticated caller, taken from verified token claims.
type Principal struct {
	UserID int64  `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

// IsAdmin reports whether the principal may see and act on every payout.
func (p Principal) IsAdmin() bool {
	return p.Role == domain.RoleAdmin
}

// GetPrincipal retrieves the authenticated caller from the request context.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// AuthMiddleware validates the Bearer session token and stores the Principal in the context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			h.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		// Extract the token from "Bearer <token>"
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
			h.writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
			return
		}

		claims, err := h.auth.ParseToken(strings.TrimSpace(tokenString))
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		principal := Principal{
			UserID: claims.UserID,
			Email:  claims.Email,
			Role:   claims.Role,
			Name:   claims.Name,
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireRole rejects principals that do not hold role.
func (h *Handler) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := GetPrincipal(r.Context())
			if !ok {
				h.writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			if principal.Role != role {
				h.writeError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit charges the request against scope: the authenticated user when a
// Principal is present, the client IP otherwise. Limiter errors fail open.
func (h *Handler) RateLimit(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			subject := "ip:" + clientIP(r)
			if principal, ok := GetPrincipal(r.Context()); ok {
				subject = fmt.Sprintf("user:%d", principal.UserID)
			}

			decision, err := h.limiter.Allow(r.Context(), scope, subject)
			if err != nil {
				log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
				next.ServeHTTP(w, r)
				return
			}
			if decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			}
			if !decision.Allowed {
				retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				log.Printf("level=info component=api msg=\"rate limited\" scope=%s subject=%s retry_after=%d", scope, subject, retryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				h.writeJSON(w, http.StatusTooManyRequests, errorResponse{
					Error: "Too many requests, please try again later",
					Kind:  "rate_limited",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
