package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/tracking"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for JWT claims
	ClaimsKey contextKey = "claims"
	// EmailKey is the context key for the operator email
	EmailKey contextKey = "email"
	// PortalKey is the context key for the authenticated portal
	PortalKey contextKey = "portal"
)

// APIKeyHeader carries a portal's API key
const APIKeyHeader = "X-API-Key"

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ClaimsFromContext extracts the JWT claims from the request context
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(ClaimsKey).(*Claims); ok {
		return claims
	}
	return nil
}

// CallerFromContext returns the operator email set by AuthMiddleware, the
// identity used as the default actor of manual movements
func CallerFromContext(ctx context.Context) string {
	if email, ok := ctx.Value(EmailKey).(string); ok {
		return email
	}
	return ""
}

// PortalFromContext returns the portal set by PortalMiddleware
func PortalFromContext(ctx context.Context) (models.Portal, bool) {
	p, ok := ctx.Value(PortalKey).(models.Portal)
	return p, ok
}

// Public paths that don't require authentication
var publicPaths = map[string]bool{
	"/health":  true,
	"/dbping":  true,
	"/metrics": true,
}

// isPublicPath checks if the given path is public (no auth required)
func isPublicPath(path string) bool {
	return publicPaths[path]
}

// sendErrorResponse sends a standardized error response
func sendErrorResponse(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := ErrorResponse{
		Error: message,
		Code:  code,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// tokenWarningWindow is how long before expiry responses start carrying the
// X-Token-Expires-* headers
const tokenWarningWindow = time.Hour

// sendTokenExpirationWarning adds a warning header when token expires soon
func sendTokenExpirationWarning(w http.ResponseWriter, claims *Claims) {
	if claims.ExpiresAt == nil || !claims.IsExpiringSoon(tokenWarningWindow) {
		return
	}
	expiresAt := claims.ExpiresAt.Time
	if remaining := time.Until(expiresAt); remaining > 0 {
		w.Header().Set("X-Token-Expires-At", expiresAt.Format(time.RFC3339))
		w.Header().Set("X-Token-Expires-In", remaining.Round(time.Second).String())
	}
}

// validateTokenFormat performs basic token format validation
func validateTokenFormat(tokenString string) error {
	if len(tokenString) == 0 {
		return errors.New("token cannot be empty")
	}
	if len(tokenString) > 8192 { // 8KB limit
		return errors.New("token size exceeds maximum allowed")
	}
	// Basic JWT format validation (3 parts separated by dots)
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return errors.New("invalid JWT token format")
	}
	return nil
}

// AuthMiddleware validates JWT tokens and sets user context
func AuthMiddleware(jwtManager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Check if this is a public path
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			// Extract Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				sendErrorResponse(w, "Authorization header required", "MISSING_AUTH_HEADER", http.StatusUnauthorized)
				return
			}

			// Check Bearer token format
			if !strings.HasPrefix(authHeader, "Bearer ") {
				sendErrorResponse(w, "Invalid authorization header format. Expected: Bearer <token>", "INVALID_AUTH_FORMAT", http.StatusUnauthorized)
				return
			}

			// Extract token
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == "" {
				sendErrorResponse(w, "Token is required", "MISSING_TOKEN", http.StatusUnauthorized)
				return
			}

			// Validate token format
			if err := validateTokenFormat(tokenString); err != nil {
				sendErrorResponse(w, "Invalid token format: "+err.Error(), "INVALID_TOKEN_FORMAT", http.StatusUnauthorized)
				return
			}

			// Validate token
			claims, err := jwtManager.ValidateToken(tokenString)
			if err != nil {
				// Determine specific error type
				var errorCode string
				var errorMessage string

				if strings.Contains(err.Error(), "expired") {
					errorCode = "TOKEN_EXPIRED"
					errorMessage = "Token has expired"
				} else if strings.Contains(err.Error(), "signing method") {
					errorCode = "INVALID_SIGNING_METHOD"
					errorMessage = "Invalid token signing method"
				} else if strings.Contains(err.Error(), "malformed") {
					errorCode = "MALFORMED_TOKEN"
					errorMessage = "Token is malformed"
				} else {
					errorCode = "INVALID_TOKEN"
					errorMessage = "Invalid or expired token"
				}

				sendErrorResponse(w, errorMessage, errorCode, http.StatusUnauthorized)
				return
			}

			// Validate claims
			if strings.TrimSpace(claims.Email) == "" {
				sendErrorResponse(w, "Missing email in token", "INVALID_EMAIL", http.StatusUnauthorized)
				return
			}
			if len(claims.Roles) == 0 {
				sendErrorResponse(w, "No roles assigned to user", "NO_ROLES", http.StatusUnauthorized)
				return
			}

			// Set user context
			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			ctx = context.WithValue(ctx, EmailKey, claims.Email)

			// Add token expiration warning header if needed
			sendTokenExpirationWarning(w, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MustRole creates middleware that requires specific roles
func MustRole(requiredRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				sendErrorResponse(w, "Authentication required", "AUTHENTICATION_REQUIRED", http.StatusUnauthorized)
				return
			}

			// Validate required roles
			if len(requiredRoles) == 0 {
				sendErrorResponse(w, "No roles specified for this endpoint", "NO_ROLES_SPECIFIED", http.StatusInternalServerError)
				return
			}

			// Sanitize role names
			sanitizedRoles := make([]string, 0, len(requiredRoles))
			for _, role := range requiredRoles {
				if role != "" && len(role) <= 50 { // Reasonable role name length
					sanitizedRoles = append(sanitizedRoles, strings.TrimSpace(role))
				}
			}

			if !claims.HasRole(sanitizedRoles...) {
				sendErrorResponse(w, "Insufficient permissions", "INSUFFICIENT_PERMISSIONS", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// PortalAuthenticator resolves a portal API key
type PortalAuthenticator interface {
	Authenticate(ctx context.Context, apiKey string) (models.Portal, error)
}

// PortalMiddleware authenticates portal readers by the X-API-Key header and
// puts the resolved portal in the request context
func PortalMiddleware(portals PortalAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
			if key == "" {
				sendErrorResponse(w, "X-API-Key header required", "MISSING_API_KEY", http.StatusUnauthorized)
				return
			}

			portal, err := portals.Authenticate(r.Context(), key)
			if err != nil {
				if errors.Is(err, tracking.ErrNotFound) {
					sendErrorResponse(w, "Unknown portal API key", "UNKNOWN_PORTAL", http.StatusUnauthorized)
					return
				}
				sendErrorResponse(w, "Portal lookup failed", "PORTAL_LOOKUP_FAILED", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), PortalKey, portal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
