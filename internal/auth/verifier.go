// Package auth verifies end-user identity tokens and decides which owner
// keys an identity may reach.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("auth: invalid identity token")

// IssuerPrefix is prepended to the project id to form the expected issuer.
const IssuerPrefix = "https://securetoken.google.com/"

// Identity is the verified subject of a request.
type Identity struct {
	UID   string
	Email string
}

// TokenVerifier turns a bearer token into an Identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type identityClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// JWTVerifier checks RS256 identity tokens against a key set.
type JWTVerifier struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string
	leeway   time.Duration
}

// NewVerifier builds a verifier around keyFunc. Tokens must carry the given
// issuer and audience.
func NewVerifier(keyFunc jwt.Keyfunc, issuer, audience string) *JWTVerifier {
	return &JWTVerifier{
		keyFunc:  keyFunc,
		issuer:   issuer,
		audience: audience,
		leeway:   30 * time.Second,
	}
}

// NewJWKSVerifier fetches signing keys from jwksURL and refreshes them in the
// background. Tokens are expected from the identity project projectID.
// Startup does not fail if the key set is temporarily unreachable.
func NewJWKSVerifier(jwksURL, projectID string, logger *slog.Logger) (*JWTVerifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: 10 * time.Second},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           time.Hour,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("failed to refresh identity key set", "error", err, "url", jwksURL)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create key set storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("failed to create keyfunc: %w", err)
	}

	return NewVerifier(k.Keyfunc, IssuerPrefix+projectID, projectID), nil
}

// Verify validates signature, expiry, issuer and audience and returns the
// token subject.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	claims := &identityClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc, opts...)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &Identity{UID: claims.Subject, Email: claims.Email}, nil
}
