package server

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"taskmanager/internal/domain/errors"
	"taskmanager/internal/ratelimit"

	"github.com/gin-gonic/gin"
)

const (
	ctxKeyUserID    = "userID"
	ctxKeyUserEmail = "userEmail"
	tokenCookieName = "jwt_token"
)

var (
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Requested-With, X-Request-ID"
)

func SecurityHeaders() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		h := ctx.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-DNS-Prefetch-Control", "off")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
		h.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'self'; object-src 'none'")
		ctx.Next()
	}
}

// CORS admits requests without an Origin header and requests whose origin
// is in the allow-list. Any other origin is rejected with 403, preflight
// included.
func CORS(origins []string, logger *slog.Logger) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(ctx *gin.Context) {
		origin := ctx.GetHeader("Origin")
		if origin == "" {
			ctx.Next()
			return
		}

		h := ctx.Writer.Header()
		h.Add("Vary", "Origin")
		if !allowed[origin] {
			logger.WarnContext(ctx.Request.Context(), "CORS blocked origin", slog.String("origin", origin))
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errors.ErrForbiddenOrigin.Error()})
			return
		}

		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Expose-Headers", "Content-Length, X-Request-ID, Retry-After")

		if ctx.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", "600")
			ctx.AbortWithStatus(http.StatusOK)
			return
		}
		ctx.Next()
	}
}

// RateLimit limits requests per client IP. Limiter failures let the
// request through.
func RateLimit(limiter ratelimit.Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		res, err := limiter.Allow(ctx.Request.Context(), ctx.ClientIP())
		if err != nil {
			logger.WarnContext(ctx.Request.Context(), "rate limiter unavailable, allowing request",
				slog.String("client_ip", ctx.ClientIP()), slog.Any("error", err))
			ctx.Next()
			return
		}

		h := ctx.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      errors.ErrRateLimited.Error(),
				"retryAfter": retryAfter,
			})
			return
		}
		ctx.Next()
	}
}

// bearerToken returns the token from the Authorization header, falling back
// to the session cookie.
func bearerToken(ctx *gin.Context) (token string, present bool) {
	if header := ctx.GetHeader("Authorization"); header != "" {
		token = strings.TrimSpace(header)
		if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
			token = strings.TrimSpace(token[7:])
		}
		return token, true
	}
	if cookie, err := ctx.Cookie(tokenCookieName); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}

// RequireAuth resolves the caller identity and stores it in the context.
func (api *TaskAPI) RequireAuth() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, present := bearerToken(ctx)
		if !present {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		if token == "" || strings.EqualFold(token, "bearer") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
			return
		}

		identity, err := api.accounts.Authenticate(ctx.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, errors.ErrUnauthenticated) {
				api.respondError(ctx, err, "Internal server error")
				ctx.Abort()
				return
			}
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		ctx.Set(ctxKeyUserID, identity.UserID)
		ctx.Set(ctxKeyUserEmail, identity.Email)
		ctx.Next()
	}
}
