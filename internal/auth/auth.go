// Package auth resolves the caller's identity from a bearer JWT.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

type ctxKey struct{}

// Claims is the token payload. Subject carries the user id; UserID and UID
// are accepted from issuers that put it elsewhere.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	UID    string `json:"uid,omitempty"`
	jwtlib.RegisteredClaims
}

func (c *Claims) user() string {
	for _, v := range []string{c.Subject, c.UserID, c.UID} {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Verifier checks HMAC-signed tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier returns a verifier for secret. A non-empty issuer is enforced.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Parse validates a token and returns the user id it names.
func (v *Verifier) Parse(tokenStr string) (string, error) {
	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(v.issuer))
	}

	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	user := claims.user()
	if user == "" {
		return "", errors.New("token names no user")
	}
	return user, nil
}

// Sign issues a token for userID. Used by tests and local tooling.
func (v *Verifier) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware rejects requests without a bearer token (401) or with an invalid
// one (403) and stores the user id in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "no token provided")
			return
		}

		user, err := v.Parse(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusForbidden, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// WithUser returns a context carrying the user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserFrom returns the user id stored by Middleware.
func UserFrom(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(ctxKey{}).(string)
	return user, ok && user != ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
