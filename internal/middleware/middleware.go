package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"go-aigateway/internal/config"
	"go-aigateway/internal/security"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CORS middleware with configurable origins
func CORS(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Default allowed origins for development
		allowedOrigins := []string{
			"http://localhost:3000",
			"http://localhost:5173", // Vite dev server
			"http://127.0.0.1:3000",
			"http://127.0.0.1:5173",
		}

		// Configured origins, when set, replace the defaults
		if len(cfg.Server.AllowedOrigins) > 0 {
			allowedOrigins = cfg.Server.AllowedOrigins
		}

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range allowedOrigins {
			if origin == allowedOrigin {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				allowed = true
				break
			}
		}

		// If no specific origin matches and we're in development mode, allow localhost
		if !allowed && (cfg.Server.GinMode == "debug" || cfg.Server.GinMode == "development") {
			if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				allowed = true
			}
		}

		// Set other CORS headers only if origin is allowed
		if allowed {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-API-Key")
			c.Header("Access-Control-Max-Age", "86400") // Cache preflight for 24 hours
		}

		if c.Request.Method == "OPTIONS" {
			if allowed {
				c.AbortWithStatus(http.StatusNoContent)
			} else {
				c.AbortWithStatus(http.StatusForbidden)
			}
			return
		}

		c.Next()
	}
}

// Local JWT authentication middleware
// LocalAuth middleware for JWT-based authentication
func LocalAuth(localAuth *security.LocalAuthenticator, requiredPermission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get token from Authorization header or API key header
		authHeader := c.GetHeader("Authorization")
		apiKeyHeader := c.GetHeader("X-API-Key")

		var token string
		var isAPIKey bool

		if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
			isAPIKey = false
		} else if apiKeyHeader != "" {
			token = apiKeyHeader
			isAPIKey = true
		} else {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"message": "Missing authentication token",
					"type":    "authentication_error",
					"code":    "missing_token",
				},
			})
			c.Abort()
			return
		}
		if isAPIKey {
			if err := security.NewInputSanitizer().ValidateAPIKey(token); err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": gin.H{
						"message": "Malformed API key",
						"type":    "authentication_error",
						"code":    "invalid_api_key",
					},
				})
				c.Abort()
				return
			}

			userInfo, keyInfo, err := localAuth.ValidateAPIKey(token)
			if err != nil || userInfo == nil || keyInfo == nil {
				logrus.WithError(err).Error("API key validation failed")
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": gin.H{
						"message": "Invalid API key",
						"type":    "authentication_error",
						"code":    "invalid_api_key",
					},
				})
				c.Abort()
				return
			}

			if !hasRequiredPermission(userInfo.Permissions, requiredPermission) {
				c.JSON(http.StatusForbidden, gin.H{
					"error": gin.H{
						"message": "Insufficient permissions",
						"type":    "authorization_error",
						"code":    "insufficient_permissions",
					},
				})
				c.Abort()
				return
			}

			// Set user context
			c.Set("user_id", userInfo.ID)
			c.Set("permissions", userInfo.Permissions)
			c.Set("auth_type", "api_key")
		} else {
			// Validate JWT token
			claims, err := localAuth.ValidateJWT(token)
			if err != nil {
				logrus.WithError(err).Error("JWT validation failed")
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": gin.H{
						"message": "Invalid or expired token",
						"type":    "authentication_error",
						"code":    "invalid_token",
					},
				})
				c.Abort()
				return
			}

			if !hasRequiredPermission(claims.Permissions, requiredPermission) {
				c.JSON(http.StatusForbidden, gin.H{
					"error": gin.H{
						"message": "Insufficient permissions",
						"type":    "authorization_error",
						"code":    "insufficient_permissions",
					},
				})
				c.Abort()
				return
			}

			// Set user context
			c.Set("user_id", claims.UserID)
			c.Set("permissions", claims.Permissions)
			c.Set("auth_type", "jwt")
		}

		c.Next()
	}
}

// hasRequiredPermission checks a token's (API key or JWT) permission list
// against the permission a route requires. An empty requirement always
// passes; "*" and a "resource:*" wildcard grant every action on that
// resource, matching the permission strings LocalAuthenticator assigns.
func hasRequiredPermission(granted []string, required string) bool {
	if required == "" {
		return true
	}
	resource := required
	if idx := strings.Index(required, ":"); idx >= 0 {
		resource = required[:idx]
	}
	for _, perm := range granted {
		if perm == "*" || perm == required || perm == resource+":*" {
			return true
		}
	}
	return false
}

// Rate limiter middleware
type rateLimiter struct {
	requests map[string][]time.Time
	mutex    sync.RWMutex
	limit    int
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
	}
}

func RateLimiter(requestsPerMinute int) gin.HandlerFunc {
	limiter := newRateLimiter(requestsPerMinute)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if !limiter.allow(clientIP) {
			// Record rate limit hit for metrics
			RecordRateLimitHit(clientIP)

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"message": "Rate limit exceeded",
					"type":    "rate_limit_error",
					"code":    "rate_limit_exceeded",
				},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	windowStart := now.Add(-time.Minute)

	// Clean old requests
	if requests, exists := rl.requests[clientIP]; exists {
		validRequests := make([]time.Time, 0)
		for _, reqTime := range requests {
			if reqTime.After(windowStart) {
				validRequests = append(validRequests, reqTime)
			}
		}
		rl.requests[clientIP] = validRequests
	}

	// Check if under limit
	if len(rl.requests[clientIP]) >= rl.limit {
		return false
	}

	// Add current request
	rl.requests[clientIP] = append(rl.requests[clientIP], now)
	return true
}

