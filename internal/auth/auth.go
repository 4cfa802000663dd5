// Package auth issues and validates the bearer tokens that scope every
// wallet operation to its owner, and hashes share access codes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer            = "credvault"
	secretEnvVariable = "CREDVAULT_AUTH_SECRET"

	// Tolerated clock drift between token issuer and validator.
	clockSkew = 5 * time.Second
)

// ErrInvalidToken indicates the token failed validation. Callers get this
// single error for every failure mode so responses never leak why a token
// was rejected.
var ErrInvalidToken = errors.New("invalid token")

var errMissingSecret = errors.New("auth secret is not configured")

// Claims is the token payload: the registered claim set plus the holder's
// roles. Subject carries the wallet owner id.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for userID with the given roles and
// lifetime. Roles are lower-cased and deduplicated before signing so the
// token is canonical regardless of caller input.
func GenerateToken(userID string, roles []string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("userID is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	key, err := signingKey()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := Claims{
		Roles: normalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

var tokenParser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(issuer),
	jwt.WithIssuedAt(),
	jwt.WithExpirationRequired(),
	jwt.WithLeeway(clockSkew),
)

// ParseAndValidate checks the signature, issuer, and lifetime of token and
// returns its claims. Any failure maps to ErrInvalidToken; a missing secret
// is surfaced as its own error because it is an operator mistake, not a bad
// token.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	key, err := signingKey()
	if err != nil {
		return nil, err
	}

	parsed, err := tokenParser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	claims.Roles = normalizeRoles(claims.Roles)
	return claims, nil
}

func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var out []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

// The signing key is read from the environment once and cached. Tests swap
// secrets mid-process, so the cache is resettable rather than a sync.Once.
var keyCache struct {
	sync.Mutex
	loaded bool
	key    []byte
	err    error
}

func signingKey() ([]byte, error) {
	keyCache.Lock()
	defer keyCache.Unlock()
	if !keyCache.loaded {
		raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
		if raw == "" {
			keyCache.err = errMissingSecret
		} else {
			keyCache.key = []byte(raw)
		}
		keyCache.loaded = true
	}
	return keyCache.key, keyCache.err
}

// ResetSecretForTests drops the cached signing key so the next call re-reads
// the environment. Only intended for test use.
func ResetSecretForTests() {
	keyCache.Lock()
	defer keyCache.Unlock()
	keyCache.loaded = false
	keyCache.key = nil
	keyCache.err = nil
}

type userKey struct{}
type rolesKey struct{}

// ContextWithUser stores the authenticated identity in ctx for downstream
// handlers and the audit log.
func ContextWithUser(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, userKey{}, strings.TrimSpace(userID))
	if len(roles) > 0 {
		ctx = context.WithValue(ctx, rolesKey{}, normalizeRoles(roles))
	}
	return ctx
}

// UserIDFromContext extracts the authenticated user ID from ctx.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// RolesFromContext returns a copy of the roles stored in ctx.
func RolesFromContext(ctx context.Context) []string {
	v, ok := ctx.Value(rolesKey{}).([]string)
	if !ok || len(v) == 0 {
		return nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out
}

// HasRole reports whether ctx carries the given role.
func HasRole(ctx context.Context, role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range RolesFromContext(ctx) {
		if r == role {
			return true
		}
	}
	return false
}
