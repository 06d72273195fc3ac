package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testKeyID     = "test-key"
	testProjectID = "checklist-test"
)

// generateTestKey generates an RSA key for signing test tokens.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON builds a JWK Set from an RSA public key.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func newTestVerifier(t *testing.T, key *rsa.PrivateKey) *JWTVerifier {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("failed to create keyfunc: %v", err)
	}
	return NewVerifier(kf.Keyfunc, IssuerPrefix+testProjectID, testProjectID)
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func validClaims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"iss":   IssuerPrefix + testProjectID,
		"aud":   testProjectID,
		"iat":   jwt.NewNumericDate(now.Add(-time.Minute)),
		"exp":   jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

func TestVerify_Valid(t *testing.T) {
	t.Parallel()
	key := generateTestKey(t)
	v := newTestVerifier(t, key)

	id, err := v.Verify(context.Background(), signToken(t, key, validClaims("uid-1")))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UID != "uid-1" || id.Email != "uid-1@example.com" {
		t.Errorf("identity = %+v", id)
	}
}

func TestVerify_Rejects(t *testing.T) {
	t.Parallel()
	key := generateTestKey(t)
	other := generateTestKey(t)
	v := newTestVerifier(t, key)

	mutate := func(f func(c jwt.MapClaims)) jwt.MapClaims {
		c := validClaims("uid-1")
		f(c)
		return c
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"empty", ""},
		{"expired", signToken(t, key, mutate(func(c jwt.MapClaims) {
			c["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		}))},
		{"missing exp", signToken(t, key, mutate(func(c jwt.MapClaims) { delete(c, "exp") }))},
		{"wrong issuer", signToken(t, key, mutate(func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }))},
		{"wrong audience", signToken(t, key, mutate(func(c jwt.MapClaims) { c["aud"] = "other-project" }))},
		{"missing subject", signToken(t, key, mutate(func(c jwt.MapClaims) { delete(c, "sub") }))},
		{"issued in the future", signToken(t, key, mutate(func(c jwt.MapClaims) {
			c["iat"] = jwt.NewNumericDate(time.Now().Add(time.Hour))
		}))},
		{"signed by unknown key", signToken(t, other, validClaims("uid-1"))},
		{"hmac algorithm", func() string {
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("uid-1"))
			tok.Header["kid"] = testKeyID
			s, _ := tok.SignedString([]byte("secret"))
			return s
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := v.Verify(context.Background(), tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
