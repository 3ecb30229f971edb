package module

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/emrgen/salesdb/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	authorization = "Authorization"
	issuer        = "salesdb"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carry the principal of an access token.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 access tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for p.
func (t *TokenService) Issue(p model.Principal) (string, error) {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: p.ID,
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
	})

	return token.SignedString(t.secret)
}

// Verify checks the signature and expiry of token and returns its principal.
// A token without a role yields a principal whose role is looked up later.
func (t *TokenService) Verify(token string) (model.Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return t.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(t.now))
	if err != nil {
		return model.Principal{}, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return model.Principal{}, ErrInvalidToken
	}

	return model.Principal{ID: claims.UserID, Role: claims.Role}, nil
}

// PrincipalFromRequest verifies the bearer token of r.
func (t *TokenService) PrincipalFromRequest(r *http.Request) (model.Principal, error) {
	token, err := accessTokenFromHeader(r.Header)
	if err != nil {
		return model.Principal{}, err
	}

	return t.Verify(token)
}

func accessTokenFromHeader(h http.Header) (string, error) {
	value := h.Get(authorization)
	if value == "" {
		return "", ErrMissingToken
	}

	token, ok := strings.CutPrefix(value, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}

	return strings.TrimSpace(token), nil
}
