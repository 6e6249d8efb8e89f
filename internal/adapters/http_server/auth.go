package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"handyhub/internal/domain"
)

type ctxKey string

const identityKey ctxKey = "identity"

// Claims are issued by the identity service: sub is the account id.
type Claims struct {
	Provider bool `json:"provider"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens. It does not issue them in
// production; Issue exists for local tooling and tests.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Verify(token string) (domain.Identity, error) {
	if len(a.secret) == 0 {
		return domain.Identity{}, errors.New("no signing secret configured")
	}
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("parse token: %w", err)
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || c.Subject == "" {
		return domain.Identity{}, errors.New("invalid token claims")
	}
	return domain.Identity{SubjectID: c.Subject, IsProvider: c.Provider}, nil
}

func (a *Authenticator) Issue(id domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	c := Claims{
		Provider: id.IsProvider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// Require rejects requests without a valid bearer token. EventSource cannot
// set headers, so GET requests may carry the token as ?access_token=.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		if token == "" && r.Method == http.MethodGet {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			writeError(w, r, domain.Unauthenticated("missing bearer token"))
			return
		}
		id, err := a.Verify(token)
		if err != nil {
			writeError(w, r, domain.Unauthenticated("invalid or expired token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) domain.Identity {
	id, _ := ctx.Value(identityKey).(domain.Identity)
	return id
}
