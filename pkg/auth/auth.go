// Package auth issues and checks the bearer tokens employees use against the
// API.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/pkg/directory"
)

const (
	issuer   = "staffdrive"
	audience = "staffdrive-api"

	// DefaultTTL is the token lifetime when none is configured.
	DefaultTTL = 7 * 24 * time.Hour
)

var (
	ErrMissingToken = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid token")
)

type contextKey struct{}

// Claims identify the employee behind a request.
type Claims struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Department string `json:"department"`

	// Folder is the top-level folder the employee is confined to.
	Folder string `json:"folder"`

	// Admin lifts the folder confinement.
	Admin bool `json:"admin,omitempty"`

	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 tokens with a shared secret.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New returns an Authenticator. A zero ttl selects DefaultTTL.
func New(secret string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for e along with the claims it carries.
func (a *Authenticator) Issue(e *directory.Employee) (string, *Claims, error) {
	now := a.now()
	claims := &Claims{
		EmployeeID: e.EmployeeID,
		Name:       e.Name,
		Department: e.Department,
		Folder:     e.EmployeeID,
		Admin:      e.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   e.EmployeeID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, claims, nil
}

// Verify parses token and returns its claims. Any failure is reported as
// ErrInvalidToken wrapping the parser's reason.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.EmployeeID == "" {
		return nil, fmt.Errorf("%w: missing employee id", ErrInvalidToken)
	}
	return claims, nil
}

// Middleware rejects requests without a valid "Authorization: Bearer" token
// and stores the claims of accepted ones in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeUnauthorized(w, ErrMissingToken.Error())
			return
		}

		claims, err := a.Verify(token)
		if err != nil {
			logger.Debug("Rejected token from %s: %v", r.RemoteAddr, err)
			writeUnauthorized(w, ErrInvalidToken.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="staffdrive"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// WithClaims returns a copy of ctx carrying c.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the claims stored by Middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*Claims)
	return c, ok && c != nil
}
