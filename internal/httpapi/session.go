package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const claimsContextKey = "auth_claims"

// SessionClaims is the payload carried by the session cookie.
type SessionClaims struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the authenticated user identifier.
func (claims *SessionClaims) UserID() string {
	return claims.Subject
}

// SessionValidator parses and validates HMAC-signed session cookies.
type SessionValidator struct {
	signingKey []byte
	issuer     string
	cookieName string
}

// NewSessionValidator builds a validator for the configured cookie.
func NewSessionValidator(signingKey []byte, issuer string, cookieName string) (*SessionValidator, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("signing key is required")
	}
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cookieName == "" {
		return nil, errors.New("cookie name is required")
	}
	return &SessionValidator{signingKey: signingKey, issuer: issuer, cookieName: cookieName}, nil
}

// Validate parses the raw token and returns its claims.
func (validator *SessionValidator) Validate(rawToken string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Header["alg"])
		}
		return validator.signingKey, nil
	}, jwt.WithIssuer(validator.issuer), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

// GinMiddleware rejects requests without a valid session cookie and stores
// the claims in the gin context under claimsContextKey.
func (validator *SessionValidator) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		rawToken, err := ctx.Cookie(validator.cookieName)
		if err != nil || rawToken == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		claims, err := validator.Validate(rawToken)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session"))
			return
		}
		ctx.Set(claimsContextKey, claims)
		ctx.Next()
	}
}

// IssueToken signs a session token for the given user. Used by tests and
// local tooling; production sessions are minted by the identity service.
func (validator *SessionValidator) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    validator.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(validator.signingKey)
}

func getClaims(ctx *gin.Context) *SessionClaims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*SessionClaims)
	return claims
}
