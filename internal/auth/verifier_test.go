package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func b64URL(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func jwksServer(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	doc := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": kid,
			"n":   b64URL(key.PublicKey.N.Bytes()),
			"e":   b64URL(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(doc)
	}))
}

func signedToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	raw, err := tok.SignedString(key)
	require.NoError(t, err)
	return raw
}

func newVerifierAgainst(t *testing.T, jwksURL string) *jwtVerifier {
	t.Helper()
	return &jwtVerifier{
		log:        testLogger(t).With("component", "AuthVerifier"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		jwksURL:    jwksURL,
		issuer:     "https://issuer.example",
		audience:   "autocut-api",
		leeway:     30 * time.Second,
		jwks:       newJWKSCache(&http.Client{Timeout: 5 * time.Second}),
	}
}

func baseClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   "https://issuer.example",
		"aud":   "autocut-api",
		"sub":   "user-123",
		"email": "User@Example.com",
		"exp":   now.Add(time.Hour).Unix(),
		"nbf":   now.Add(-time.Minute).Unix(),
	}
}

func TestVerifyHappyPath(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, key, "kid-1")
	defer srv.Close()

	v := newVerifierAgainst(t, srv.URL)
	identity, err := v.Verify(context.Background(), signedToken(t, key, "kid-1", baseClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-123", identity.UserID)
	assert.Equal(t, "User@Example.com", identity.Email)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, key, "kid-1")
	defer srv.Close()

	claims := baseClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	v := newVerifierAgainst(t, srv.URL)
	_, err = v.Verify(context.Background(), signedToken(t, key, "kid-1", claims))
	assert.Error(t, err)
}

func TestVerifyHonorsLeeway(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, key, "kid-1")
	defer srv.Close()

	// Expired 10s ago: inside the 30s leeway.
	claims := baseClaims()
	claims["exp"] = time.Now().Add(-10 * time.Second).Unix()

	v := newVerifierAgainst(t, srv.URL)
	_, err = v.Verify(context.Background(), signedToken(t, key, "kid-1", claims))
	assert.NoError(t, err)
}

func TestVerifyRejectsWrongIssuerAndAudience(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, key, "kid-1")
	defer srv.Close()
	v := newVerifierAgainst(t, srv.URL)

	claims := baseClaims()
	claims["iss"] = "https://evil.example"
	_, err = v.Verify(context.Background(), signedToken(t, key, "kid-1", claims))
	assert.Error(t, err)

	claims = baseClaims()
	claims["aud"] = "other-api"
	_, err = v.Verify(context.Background(), signedToken(t, key, "kid-1", claims))
	assert.Error(t, err)
}

func TestVerifyRejectsUnknownKid(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, key, "kid-1")
	defer srv.Close()

	v := newVerifierAgainst(t, srv.URL)
	_, err = v.Verify(context.Background(), signedToken(t, key, "kid-other", baseClaims()))
	assert.Error(t, err)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	imposter, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := jwksServer(t, key, "kid-1")
	defer srv.Close()

	v := newVerifierAgainst(t, srv.URL)
	_, err = v.Verify(context.Background(), signedToken(t, imposter, "kid-1", baseClaims()))
	assert.Error(t, err)
}

func TestVerifyAudienceList(t *testing.T) {
	assert.True(t, audContains([]any{"a", "autocut-api"}, "autocut-api"))
	assert.False(t, audContains([]any{"a", "b"}, "autocut-api"))
	assert.True(t, audContains("autocut-api", "autocut-api"))
	assert.False(t, audContains(nil, "autocut-api"))
}

func TestDisabledVerifier(t *testing.T) {
	t.Setenv("WEB_AUTH_ENABLED", "false")
	v := New(testLogger(t))
	assert.False(t, v.Enabled())

	identity, err := v.Verify(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, identity.UserID)
}
