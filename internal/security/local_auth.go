package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"go-aigateway/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// LocalAuthenticator provides local authentication without external dependencies
type LocalAuthenticator struct {
	config    *config.SecurityConfig
	apiKeys   map[string]*APIKeyInfo
	users     map[string]*UserInfo
	mutex     sync.RWMutex
	jwtSecret []byte
	hasher    *PasswordHasher
}

// APIKeyInfo represents an API key
type APIKeyInfo struct {
	ID          string            `json:"id"`
	KeyHash     string            `json:"key_hash"`
	Name        string            `json:"name"`
	UserID      string            `json:"user_id"`
	Permissions []string          `json:"permissions"`
	RateLimit   int               `json:"rate_limit"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	LastUsed    *time.Time        `json:"last_used,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// UserInfo represents a user
type UserInfo struct {
	ID           string            `json:"id"`
	Username     string            `json:"username"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	Roles        []string          `json:"roles"`
	Permissions  []string          `json:"permissions"`
	Active       bool              `json:"active"`
	CreatedAt    time.Time         `json:"created_at"`
	LastLogin    *time.Time        `json:"last_login,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Claims represents JWT claims
type Claims struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// NewLocalAuthenticator creates a new local authenticator
func NewLocalAuthenticator(cfg *config.SecurityConfig) *LocalAuthenticator {
	jwtSecret := []byte(cfg.JWTSecret)
	if len(jwtSecret) == 0 {
		// Generate a random secret if none provided
		jwtSecret = make([]byte, 32)
		rand.Read(jwtSecret)
		logrus.Warn("No JWT secret provided, using randomly generated secret. This should not be used in production!")
	}

	auth := &LocalAuthenticator{
		config:    cfg,
		apiKeys:   make(map[string]*APIKeyInfo),
		users:     make(map[string]*UserInfo),
		jwtSecret: jwtSecret,
		hasher:    NewPasswordHasher(),
	}

	// Initialize with default admin user if none exists
	auth.initializeDefaultUsers()

	return auth
}

// defaultAdminPassword and defaultAPIUserPassword seed the two built-in
// accounts; an operator running this past a throwaway evaluation should
// set JWT_SECRET and rotate these via the user store before exposing
// /auth/login publicly.
const (
	defaultAdminPassword   = "admin123"
	defaultAPIUserPassword = "api123"
)

// initializeDefaultUsers creates default users if none exist
func (la *LocalAuthenticator) initializeDefaultUsers() {
	adminHash, err := la.hasher.HashPassword(defaultAdminPassword)
	if err != nil {
		logrus.WithError(err).Fatal("failed to hash default admin password")
	}
	apiUserHash, err := la.hasher.HashPassword(defaultAPIUserPassword)
	if err != nil {
		logrus.WithError(err).Fatal("failed to hash default api-user password")
	}

	// Create default admin user: full access, including API-key
	// management on /auth/apikeys.
	adminUser := &UserInfo{
		ID:           "admin",
		Username:     "admin",
		Email:        "admin@localhost",
		PasswordHash: adminHash,
		Roles:        []string{"admin", "user"},
		Permissions:  []string{"*"}, // All permissions
		Active:       true,
		CreatedAt:    time.Now(),
		Metadata:     map[string]string{"type": "default"},
	}

	// Create default API user: search and feedback only, no
	// administrative endpoints.
	apiUser := &UserInfo{
		ID:           "api-user",
		Username:     "api-user",
		Email:        "api@localhost",
		PasswordHash: apiUserHash,
		Roles:        []string{"api-user"},
		Permissions:  []string{"search:query", "search:feedback"},
		Active:       true,
		CreatedAt:    time.Now(),
		Metadata:     map[string]string{"type": "api"},
	}

	la.users[adminUser.ID] = adminUser
	la.users[apiUser.ID] = apiUser

	// Create default API keys
	la.createDefaultAPIKeys()
}

// createDefaultAPIKeys creates default API keys for initial setup
func (la *LocalAuthenticator) createDefaultAPIKeys() {
	// Default admin API key
	adminKey, err := la.GenerateAPIKey("admin", "Default Admin Key", []string{"*"}, 0)
	if err != nil {
		logrus.WithError(err).Error("Failed to create default admin API key")
	} else {
		logrus.WithField("key_prefix", adminKey[:10]+"...").Info("Created default admin API key")
	}

	// Default API user key
	userKey, err := la.GenerateAPIKey("api-user", "Default API User Key", []string{"search:query", "search:feedback"}, 100)
	if err != nil {
		logrus.WithError(err).Error("Failed to create default API user key")
	} else {
		logrus.WithField("key_prefix", userKey[:10]+"...").Info("Created default API user key")
	}
}

// GenerateAPIKey generates a new API key for a user
func (la *LocalAuthenticator) GenerateAPIKey(userID, name string, permissions []string, rateLimit int) (string, error) {
	la.mutex.Lock()
	defer la.mutex.Unlock()

	// Check if user exists
	user, exists := la.users[userID]
	if !exists {
		return "", fmt.Errorf("user not found: %s", userID)
	}

	// Check API key limit
	userKeyCount := 0
	for _, key := range la.apiKeys {
		if key.UserID == userID {
			userKeyCount++
		}
	}

	if userKeyCount >= la.config.MaxAPIKeys {
		return "", fmt.Errorf("maximum API keys reached for user: %s", userID)
	}

	// Generate random API key
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	apiKey := la.config.APIKeyPrefix + hex.EncodeToString(keyBytes)
	keyHash := la.hashAPIKey(apiKey)

	// Create API key info
	keyInfo := &APIKeyInfo{
		ID:          generateID(),
		KeyHash:     keyHash,
		Name:        name,
		UserID:      userID,
		Permissions: permissions,
		RateLimit:   rateLimit,
		CreatedAt:   time.Now(),
		Metadata: map[string]string{
			"user_email": user.Email,
			"user_roles": strings.Join(user.Roles, ","),
		},
	}

	la.apiKeys[keyHash] = keyInfo

	logrus.WithFields(logrus.Fields{
		"user_id":     userID,
		"key_name":    name,
		"permissions": permissions,
	}).Info("Generated new API key")

	return apiKey, nil
}

// ValidateAPIKey validates an API key and returns user information
func (la *LocalAuthenticator) ValidateAPIKey(apiKey string) (*UserInfo, *APIKeyInfo, error) {
	la.mutex.RLock()
	defer la.mutex.RUnlock()

	keyHash := la.hashAPIKey(apiKey)
	keyInfo, exists := la.apiKeys[keyHash]
	if !exists {
		return nil, nil, fmt.Errorf("invalid API key")
	}

	// Check if key is expired
	if keyInfo.ExpiresAt != nil && time.Now().After(*keyInfo.ExpiresAt) {
		return nil, nil, fmt.Errorf("API key expired")
	}

	// Get user info
	user, exists := la.users[keyInfo.UserID]
	if !exists {
		return nil, nil, fmt.Errorf("user not found for API key")
	}

	// Check if user is active
	if !user.Active {
		return nil, nil, fmt.Errorf("user account is disabled")
	}

	// Update last used timestamp (do this in a separate goroutine to avoid blocking)
	go func() {
		la.mutex.Lock()
		now := time.Now()
		keyInfo.LastUsed = &now
		la.mutex.Unlock()
	}()

	return user, keyInfo, nil
}

// GenerateJWT generates a JWT token for a user
func (la *LocalAuthenticator) GenerateJWT(userID string) (string, error) {
	la.mutex.RLock()
	user, exists := la.users[userID]
	la.mutex.RUnlock()

	if !exists {
		return "", fmt.Errorf("user not found: %s", userID)
	}

	// Create claims
	claims := &Claims{
		UserID:      user.ID,
		Username:    user.Username,
		Roles:       user.Roles,
		Permissions: user.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(la.config.TokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "search-gateway",
			Subject:   userID,
		},
	}

	// Create token
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(la.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a JWT token and returns claims
func (la *LocalAuthenticator) ValidateJWT(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return la.jwtSecret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid JWT token")
	}

	return claims, nil
}

// RevokeAPIKey revokes an API key
func (la *LocalAuthenticator) RevokeAPIKey(apiKey string) error {
	la.mutex.Lock()
	defer la.mutex.Unlock()

	keyHash := la.hashAPIKey(apiKey)
	if _, exists := la.apiKeys[keyHash]; !exists {
		return fmt.Errorf("API key not found")
	}

	delete(la.apiKeys, keyHash)
	logrus.WithField("key_hash", keyHash[:10]+"...").Info("Revoked API key")

	return nil
}

// ListAPIKeys returns all API keys for a user
func (la *LocalAuthenticator) ListAPIKeys(userID string) []*APIKeyInfo {
	la.mutex.RLock()
	defer la.mutex.RUnlock()

	var keys []*APIKeyInfo
	for _, key := range la.apiKeys {
		if key.UserID == userID {
			// Don't include the actual key hash in the response
			keyCopy := *key
			keyCopy.KeyHash = keyCopy.KeyHash[:10] + "..." // Show only prefix
			keys = append(keys, &keyCopy)
		}
	}

	return keys
}

// hashAPIKey creates a hash of the API key for storage
func (la *LocalAuthenticator) hashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

// generateID generates a random ID
func generateID() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// AuthenticateUser authenticates a user with username and password,
// verifying against the user's bcrypt hash rather than a plaintext
// comparison.
func (la *LocalAuthenticator) AuthenticateUser(username, password string) (*UserInfo, error) {
	la.mutex.RLock()
	defer la.mutex.RUnlock()

	var user *UserInfo
	for _, u := range la.users {
		if u.Username == username && u.Active {
			user = u
			break
		}
	}

	if user == nil || !la.hasher.VerifyPassword(password, user.PasswordHash) {
		return nil, fmt.Errorf("invalid credentials")
	}

	return user, nil
}

// CreateAPIKey creates a new API key for a user with enhanced options
func (la *LocalAuthenticator) CreateAPIKey(userID, name string, permissions map[string]bool, rateLimit int, expiresAt *int64) (string, error) {
	// Check if user exists; GenerateAPIKey takes the write lock itself.
	la.mutex.RLock()
	_, exists := la.users[userID]
	la.mutex.RUnlock()
	if !exists {
		return "", fmt.Errorf("user not found: %s", userID)
	}

	// Convert permissions map to slice
	permSlice := make([]string, 0, len(permissions))
	for perm, enabled := range permissions {
		if enabled {
			permSlice = append(permSlice, perm)
		}
	}

	// Generate API key
	apiKey, err := la.GenerateAPIKey(userID, name, permSlice, rateLimit)
	if err != nil {
		return "", err
	}

	return apiKey, nil
}
