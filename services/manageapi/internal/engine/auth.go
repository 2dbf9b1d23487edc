package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentgraph/agentgraph-open/pkg/config"
)

// Claims represents the claims in bearer JWTs accepted by the API
type Claims struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller of a request.
type Principal struct {
	TenantID string
	Subject  string
	Method   string
}

const (
	authMethodNone   = "none"
	authMethodJWT    = "jwt"
	authMethodAPIKey = "api_key"
)

var (
	errMissingToken   = errors.New("authorization token is required")
	errInvalidToken   = errors.New("invalid or expired token")
	errTenantMismatch = errors.New("token is not valid for this tenant")
)

type apiKey struct {
	tenantID string
	hash     []byte
}

// Authenticator verifies bearer credentials: HS256 JWTs carrying a
// tenant_id claim, or API keys checked against bcrypt hashes from
// auth.api_keys ("tenant_id:hash" entries).
type Authenticator struct {
	disabled bool
	secret   []byte
	keys     []apiKey
}

// NewAuthenticator reads the auth.* configuration keys.
func NewAuthenticator(cfg *config.Config) (*Authenticator, error) {
	a := &Authenticator{
		disabled: cfg.GetBool("auth.disabled", false),
		secret:   []byte(cfg.Get("auth.jwt_secret")),
	}
	for _, entry := range cfg.GetList("auth.api_keys") {
		tenantID, hash, ok := strings.Cut(entry, ":")
		if !ok || tenantID == "" || hash == "" {
			return nil, fmt.Errorf("invalid auth.api_keys entry %q, expected tenant_id:bcrypt-hash", entry)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid bcrypt hash for tenant %s: %w", tenantID, err)
		}
		a.keys = append(a.keys, apiKey{tenantID: tenantID, hash: []byte(hash)})
	}
	if !a.disabled && len(a.secret) == 0 && len(a.keys) == 0 {
		return nil, fmt.Errorf("authentication requires auth.jwt_secret or auth.api_keys (set auth.disabled to run without)")
	}
	return a, nil
}

// Disabled reports whether every request is trusted.
func (a *Authenticator) Disabled() bool {
	return a.disabled
}

// Authenticate verifies token for the tenant named in the request path.
func (a *Authenticator) Authenticate(token, tenantID string) (*Principal, error) {
	if a.disabled {
		return &Principal{TenantID: tenantID, Method: authMethodNone}, nil
	}
	if token == "" {
		return nil, errMissingToken
	}
	if len(a.secret) > 0 && strings.Count(token, ".") == 2 {
		return a.authenticateJWT(token, tenantID)
	}
	return a.authenticateAPIKey(token, tenantID)
}

func (a *Authenticator) authenticateJWT(token, tenantID string) (*Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errInvalidToken
	}
	if claims.TenantID != tenantID {
		return nil, errTenantMismatch
	}

	subject := claims.UserID
	if subject == "" {
		subject = claims.Subject
	}
	return &Principal{TenantID: tenantID, Subject: subject, Method: authMethodJWT}, nil
}

func (a *Authenticator) authenticateAPIKey(token, tenantID string) (*Principal, error) {
	for _, key := range a.keys {
		if key.tenantID != tenantID {
			continue
		}
		if bcrypt.CompareHashAndPassword(key.hash, []byte(token)) == nil {
			return &Principal{TenantID: tenantID, Subject: "api-key", Method: authMethodAPIKey}, nil
		}
	}
	return nil, errInvalidToken
}

// SignToken issues an HS256 token for tenantID that expires after ttl.
func SignToken(secret []byte, tenantID, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		UserID:   userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// HashAPIKey returns the bcrypt hash to list under auth.api_keys.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
