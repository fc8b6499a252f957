package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoPrincipal  = errors.New("no authenticated principal")
	ErrInvalidToken = errors.New("invalid token")
)

const DefaultPrincipalClaim = "sub"

type principalKey struct{}

func WithPrincipal(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, principalKey{}, name)
}

func PrincipalFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(principalKey{}).(string)
	return name, ok && name != ""
}

// ContextIdentity reads the principal stored by Middleware.
type ContextIdentity struct{}

func (ContextIdentity) CurrentPrincipal(ctx context.Context) (string, error) {
	name, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", ErrNoPrincipal
	}
	return name, nil
}

// TokenVerifier validates HS256 bearer tokens and extracts the principal
// from a configurable claim.
type TokenVerifier struct {
	secret []byte
	issuer string
	claim  string
}

func NewTokenVerifier(secret, issuer, claim string) *TokenVerifier {
	if claim == "" {
		claim = DefaultPrincipalClaim
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer, claim: claim}
}

func (v *TokenVerifier) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	name, _ := claims[v.claim].(string)
	if name == "" {
		return "", fmt.Errorf("%w: claim %q is missing", ErrInvalidToken, v.claim)
	}
	return name, nil
}

// Issue signs a token for principal. Used by operators and tests.
func (v *TokenVerifier) Issue(principal string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		v.claim: principal,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// principal in the request context.
func Middleware(v *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		principal, err := v.Verify(strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set("principal", principal)
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}
