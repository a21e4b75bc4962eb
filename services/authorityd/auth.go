package authorityd

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// APIKeyHeader carries the shared secret for server-to-server callers.
const APIKeyHeader = "x-api-key"

// Authenticator accepts either the shared API key or an HS256 bearer token
// signed with the same secret.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator constructs an Authenticator. issuer is optional.
func NewAuthenticator(secret, issuer string) (*Authenticator, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("authorityd: api secret required")
	}
	return &Authenticator{secret: []byte(trimmed), issuer: strings.TrimSpace(issuer), now: time.Now}, nil
}

// Middleware rejects unauthenticated requests with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.authenticate(r); err != nil {
			writeJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) authenticate(r *http.Request) error {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		if subtle.ConstantTimeCompare([]byte(key), a.secret) == 1 {
			return nil
		}
		return errors.New("invalid api key")
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return errors.New("missing credentials")
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return errors.New("missing bearer token")
	}
	return a.verifyToken(token)
}

func (a *Authenticator) verifyToken(token string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return errors.New("invalid authorization token")
	}
	return nil
}

// IssueToken mints a bearer token valid for ttl. Operators use it to hand
// short-lived credentials to game servers.
func (a *Authenticator) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
