package security

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SecurityImprovements guards the login path against brute-force
// credential stuffing and caps request bodies per endpoint.
type SecurityImprovements struct {
	logger          *logrus.Logger
	bannedIPs       map[string]time.Time
	loginAttempts   map[string]int
	rateLimitWindow time.Duration
}

// NewSecurityImprovements creates the brute-force/body-size guards, with
// a ban window matching banWindow (falling back to 15 minutes if zero).
func NewSecurityImprovements(banWindow time.Duration) *SecurityImprovements {
	if banWindow <= 0 {
		banWindow = 15 * time.Minute
	}
	return &SecurityImprovements{
		logger:          logrus.New(),
		bannedIPs:       make(map[string]time.Time),
		loginAttempts:   make(map[string]int),
		rateLimitWindow: banWindow,
	}
}

// BruteForceProtection bans an IP for rateLimitWindow after 5 failed
// authentication attempts against POST /auth/login.
func (si *SecurityImprovements) BruteForceProtection() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if banTime, exists := si.bannedIPs[clientIP]; exists {
			if time.Now().Before(banTime) {
				si.logSecurityEvent(c, "banned_ip_access", fmt.Sprintf("IP %s is banned", clientIP))
				c.JSON(http.StatusTooManyRequests, gin.H{
					"error": gin.H{
						"message": "Too many failed attempts. Please try again later.",
						"code":    "rate_limited",
					},
				})
				c.Abort()
				return
			}
			delete(si.bannedIPs, clientIP)
			delete(si.loginAttempts, clientIP)
		}

		c.Next()

		switch c.Writer.Status() {
		case http.StatusUnauthorized:
			si.loginAttempts[clientIP]++
			if si.loginAttempts[clientIP] >= 5 {
				si.bannedIPs[clientIP] = time.Now().Add(si.rateLimitWindow)
				si.logSecurityEvent(c, "ip_banned", fmt.Sprintf("IP %s banned for %v", clientIP, si.rateLimitWindow))
			}
		case http.StatusOK:
			delete(si.loginAttempts, clientIP)
		}
	}
}

// RequestSizeLimit applies a per-endpoint request-body cap, matching the
// longest path prefix in limits and falling back to defaultLimit.
func (si *SecurityImprovements) RequestSizeLimit(limits map[string]int64, defaultLimit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		limit := defaultLimit

		longest := -1
		for pattern, endpointLimit := range limits {
			if strings.HasPrefix(path, pattern) && len(pattern) > longest {
				longest = len(pattern)
				limit = endpointLimit
			}
		}

		if c.Request.ContentLength > limit {
			si.logSecurityEvent(c, "request_too_large", fmt.Sprintf("Content-Length: %d, Limit: %d", c.Request.ContentLength, limit))
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": gin.H{
					"message": fmt.Sprintf("Request body too large. Maximum size: %d bytes", limit),
					"code":    "request_too_large",
				},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// logSecurityEvent logs security-related events.
func (si *SecurityImprovements) logSecurityEvent(c *gin.Context, eventType, details string) {
	si.logger.WithFields(logrus.Fields{
		"event_type":   eventType,
		"client_ip":    c.ClientIP(),
		"user_agent":   c.GetHeader("User-Agent"),
		"request_path": c.Request.URL.Path,
		"method":       c.Request.Method,
		"details":      details,
		"timestamp":    time.Now().UTC(),
	}).Warn("security event detected")
}
