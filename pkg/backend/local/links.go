package local

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const linkAudience = "staffdrive-download"

// LinkSigner issues download URLs for content stores that cannot presign
// their own. The URL embeds an HS256 token naming the node and an expiry; the
// API's download route verifies it and streams the content.
type LinkSigner struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewLinkSigner returns a signer producing URLs of the form
// <baseURL>/api/download/<token>.
func NewLinkSigner(secret, baseURL string, ttl time.Duration) (*LinkSigner, error) {
	if secret == "" {
		return nil, errors.New("link signing secret is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid public URL %q: %w", baseURL, err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LinkSigner{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// TTL returns how long issued links stay valid.
func (s *LinkSigner) TTL() time.Duration {
	return s.ttl
}

// Sign returns a download URL for nodeID.
func (s *LinkSigner) Sign(nodeID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   nodeID,
		Audience:  jwt.ClaimStrings{linkAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign download link: %w", err)
	}
	return s.baseURL + "/api/download/" + token, nil
}

// Verify checks a token taken from a download URL and returns the node id it
// grants access to.
func (s *LinkSigner) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims

	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(linkAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("invalid download token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("invalid download token: missing subject")
	}
	return claims.Subject, nil
}
