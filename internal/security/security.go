package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"go-aigateway/internal/errors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Config configures the security headers applied to every response,
// independent of the per-route LocalAuth gate. SecurityHeaders reads only
// HSTSMaxAge; MaxRequestSize is not read here, and request-body caps come
// from SecurityImprovements.RequestSizeLimit.
type Config struct {
	MaxRequestSize int64
	HSTSMaxAge     int
}

// SecurityHeaders adds the baseline hardening headers to every response:
// no MIME sniffing, no framing, a conservative CSP, and HSTS when
// cfg.HSTSMaxAge is set (only meaningful behind TLS).
func SecurityHeaders(cfg *Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if cfg.HSTSMaxAge > 0 {
			c.Header("Strict-Transport-Security", fmt.Sprintf("max-age=%d; includeSubDomains", cfg.HSTSMaxAge))
		}

		csp := "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; font-src 'self'"
		c.Header("Content-Security-Policy", csp)

		c.Next()
	}
}

// InputSanitizer validates and cleans up caller-supplied text before it
// reaches the query router (C2) or the local index.
type InputSanitizer struct {
	logger *logrus.Logger
}

// NewInputSanitizer creates a new input sanitizer.
func NewInputSanitizer() *InputSanitizer {
	return &InputSanitizer{logger: logrus.New()}
}

// SanitizeString strips null bytes and control characters (other than
// tab/newline/carriage-return) from a search query or feedback field.
func (is *InputSanitizer) SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		result.WriteRune(r)
	}

	return strings.TrimSpace(result.String())
}

// ValidateAPIKey validates API key format and strength when a caller
// presents one in the Authorization/X-API-Key header.
func (is *InputSanitizer) ValidateAPIKey(apiKey string) error {
	if len(apiKey) < 32 {
		return errors.NewWithDetails(errors.CodeValidation, "API key too short", "minimum 32 characters required")
	}
	if len(apiKey) > 512 {
		return errors.NewWithDetails(errors.CodeValidation, "API key too long", "maximum 512 characters allowed")
	}
	if !regexp.MustCompile(`^[a-zA-Z0-9._-]+$`).MatchString(apiKey) {
		return errors.NewWithDetails(errors.CodeValidation, "API key format invalid", "key must contain only alphanumeric characters, dots, dashes, or underscores")
	}
	return nil
}

// ValidateJSONStructure rejects a decoded request body that contains
// common prototype-pollution or script-injection markers once rendered
// back to a string; used as a defense-in-depth check on the query text
// coming off POST /search (the /feedback/click handler does not call it).
func (is *InputSanitizer) ValidateJSONStructure(data interface{}) error {
	jsonStr := fmt.Sprintf("%v", data)

	dangerous := []string{
		"__proto__", "constructor", "prototype",
		"eval(", "function(", "javascript:", "<script", "</script>",
	}

	lowerData := strings.ToLower(jsonStr)
	for _, pattern := range dangerous {
		if strings.Contains(lowerData, pattern) {
			is.logger.WithField("pattern", pattern).Warn("dangerous pattern detected in request body")
			return errors.NewWithDetails(errors.CodeValidation, "potentially dangerous content detected", pattern)
		}
	}

	return nil
}

// PasswordHasher wraps bcrypt for the local username/password login path
// (POST /auth/login), replacing a plaintext comparison with a proper
// salted hash.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher creates a new password hasher at bcrypt's recommended cost.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{cost: bcrypt.DefaultCost}
}

// HashPassword securely hashes a password.
func (ph *PasswordHasher) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), ph.cost)
	if err != nil {
		return "", errors.Wrap(errors.CodeInternal, "failed to hash password", err)
	}
	return string(hash), nil
}

// VerifyPassword verifies a password against its hash.
func (ph *PasswordHasher) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
