package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ScopeResearchRun  = "research:run"
	ScopeSessionsRead = "sessions:read"
)

// ErrMissingToken is returned when a request carries no bearer token
var ErrMissingToken = errors.New("missing bearer token")

// Claims are the JWT claims accepted by the API
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// UserContext is the authenticated caller attached to a request
type UserContext struct {
	UserID string
	Scopes []string
}

// HasScope reports whether the caller was granted scope
func (u *UserContext) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type contextKey string

const userContextKey contextKey = "user"

// WithUser returns a context carrying u
func WithUser(ctx context.Context, u *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// GetUserContext returns the caller attached by the middleware
func GetUserContext(ctx context.Context) (*UserContext, bool) {
	u, ok := ctx.Value(userContextKey).(*UserContext)
	return u, ok && u != nil
}

// JWTManager issues and validates HS256 access tokens
type JWTManager struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(signingKey, issuer string) *JWTManager {
	return &JWTManager{signingKey: []byte(signingKey), issuer: issuer, now: time.Now}
}

// GenerateToken creates an access token for subject
func (j *JWTManager) GenerateToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Scopes: scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.signingKey)
}

// ValidateAccessToken validates and parses a JWT access token
func (j *JWTManager) ValidateAccessToken(tokenString string) (*UserContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.signingKey, nil
	}, jwt.WithIssuer(j.issuer), jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return &UserContext{UserID: claims.Subject, Scopes: claims.Scopes}, nil
}

// ExtractBearerToken extracts the token from an Authorization header
func ExtractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingToken
	}
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return strings.TrimSpace(authHeader[7:]), nil
}

// Middleware rejects requests without a valid bearer token. A nil manager
// disables authentication.
func Middleware(j *JWTManager, next http.Handler) http.Handler {
	if j == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := ExtractBearerToken(r.Header.Get("Authorization"))
		// EventSource cannot send headers; stream endpoints accept a query token
		if errors.Is(err, ErrMissingToken) && strings.HasPrefix(r.URL.Path, "/stream/") {
			raw, err = r.URL.Query().Get("token"), nil
			if raw == "" {
				err = ErrMissingToken
			}
		}
		if err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		user, err := j.ValidateAccessToken(raw)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}
