package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrMissingToken is returned when a handshake carries no token
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken is returned when the token is malformed, badly signed or lacks a user
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired
	ErrExpiredToken = errors.New("token has expired")
)

// AuthConfig holds handshake token settings
type AuthConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// Claims are the handshake token claims
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Identity is the user bound to a connection after the handshake
type Identity struct {
	UserID string
	Email  string
}

// Authenticator issues and verifies HS256 handshake tokens
type Authenticator struct {
	config AuthConfig
	clock  clockwork.Clock
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(config AuthConfig, clock clockwork.Clock) *Authenticator {
	if config.TokenTTL <= 0 {
		config.TokenTTL = 24 * time.Hour
	}
	return &Authenticator{config: config, clock: clock}
}

// Issue signs a token for a user. The REST collaborator normally does this; the gateway only
// needs it for tooling and tests.
func (a *Authenticator) Issue(userID, email string) (string, error) {
	now := a.clock.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.config.Secret))
}

// Verify checks signature and expiry and returns the token's identity
func (a *Authenticator) Verify(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock.Now),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{UserID: userID, Email: claims.Email}, nil
}

// TokenFromRequest extracts the handshake token from the Authorization header, the token query
// parameter or, when withCookie is set, the token cookie, in that order
func TokenFromRequest(r *http.Request, withCookie bool) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")); token != "" {
			return token
		}
	}
	if token := strings.TrimSpace(strings.TrimPrefix(r.URL.Query().Get("token"), "Bearer ")); token != "" {
		return token
	}
	if !withCookie {
		return ""
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}
