// Package auth implements JWT verification against a JWKS endpoint:
// RS256 only, caching keys by kid for 5 minutes, verifying
// iss/aud/exp/nbf with a configured leeway. There is deliberately no OIDC
// discovery and no second signature algorithm; the deployment has exactly
// one identity provider.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

// Identity is what a verified token yields: the JWT subject and, if
// present, the claimed email.
type Identity struct {
	UserID string
	Email  string
}

type Verifier interface {
	Verify(ctx context.Context, tokenString string) (*Identity, error)
	// Enabled reports whether real verification is configured, vs the
	// disabled-auth development mode returning a fixed synthetic user.
	Enabled() bool
}

type jwtVerifier struct {
	log        *logger.Logger
	httpClient *http.Client
	jwksURL    string
	issuer     string
	audience   string
	leeway     time.Duration
	jwks       *jwksCache
}

// disabledVerifier is the local-development mode: every request resolves
// to the same synthetic user.
type disabledVerifier struct {
	userID string
	email  string
}

func (d *disabledVerifier) Enabled() bool { return false }

func (d *disabledVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	return &Identity{UserID: d.userID, Email: d.email}, nil
}

// New builds a Verifier from WEB_AUTH_* env vars. If WEB_AUTH_ENABLED is
// false, it returns the disabled-auth development verifier instead.
func New(baseLog *logger.Logger) Verifier {
	serviceLog := baseLog.With("component", "AuthVerifier")
	if !envutil.Bool("WEB_AUTH_ENABLED", true) {
		serviceLog.Warn("auth disabled; every request resolves to a fixed synthetic user")
		return &disabledVerifier{userID: "dev-user", email: "dev@localhost"}
	}
	return &jwtVerifier{
		log:        serviceLog,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		jwksURL:    envutil.String("WEB_AUTH_JWKS_URL", ""),
		issuer:     envutil.String("WEB_AUTH_ISSUER", ""),
		audience:   envutil.String("WEB_AUTH_AUDIENCE", ""),
		leeway:     time.Duration(envutil.Int("WEB_AUTH_JWT_LEEWAY_SECONDS", 30)) * time.Second,
		jwks:       newJWKSCache(&http.Client{Timeout: 5 * time.Second}),
	}
}

func (v *jwtVerifier) Enabled() bool { return true }

func (v *jwtVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("auth: empty token")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithLeeway(v.leeway),
	)
	claims := jwt.MapClaims{}

	tok, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if strings.TrimSpace(kid) == "" {
			return nil, fmt.Errorf("auth: missing kid")
		}
		return v.jwks.getKey(ctx, v.jwksURL, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	if tok == nil || !tok.Valid {
		return nil, fmt.Errorf("auth: invalid token")
	}

	if err := validateTimeClaims(claims, time.Now(), v.leeway); err != nil {
		return nil, err
	}

	if v.issuer != "" {
		iss, _ := claims["iss"].(string)
		if iss != v.issuer {
			return nil, fmt.Errorf("auth: issuer mismatch: %q", iss)
		}
	}
	if v.audience != "" && !audContains(claims["aud"], v.audience) {
		return nil, fmt.Errorf("auth: audience mismatch")
	}

	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return nil, fmt.Errorf("auth: missing sub")
	}
	email, _ := claims["email"].(string)

	return &Identity{UserID: sub, Email: email}, nil
}

func validateTimeClaims(claims jwt.MapClaims, now time.Time, leeway time.Duration) error {
	expAny, ok := claims["exp"]
	if !ok {
		return fmt.Errorf("auth: missing exp")
	}
	exp, err := parseNumericTime(expAny)
	if err != nil {
		return fmt.Errorf("auth: invalid exp: %w", err)
	}
	if now.After(exp.Add(leeway)) {
		return fmt.Errorf("auth: token expired")
	}

	if nbfAny, ok := claims["nbf"]; ok {
		nbf, err := parseNumericTime(nbfAny)
		if err != nil {
			return fmt.Errorf("auth: invalid nbf: %w", err)
		}
		if now.Add(leeway).Before(nbf) {
			return fmt.Errorf("auth: token not valid yet")
		}
	}
	return nil
}

func parseNumericTime(v any) (time.Time, error) {
	var sec int64
	switch x := v.(type) {
	case float64:
		sec = int64(x)
	case int64:
		sec = x
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return time.Time{}, err
		}
		sec = n
	default:
		return time.Time{}, fmt.Errorf("unexpected claim type %T", v)
	}
	if sec <= 0 {
		return time.Time{}, fmt.Errorf("non-positive numeric date")
	}
	return time.Unix(sec, 0).UTC(), nil
}

func audContains(aud any, required string) bool {
	switch v := aud.(type) {
	case string:
		return v == required
	case []any:
		for _, it := range v {
			if s, ok := it.(string); ok && s == required {
				return true
			}
		}
	}
	return false
}

// ----- JWKS cache (RSA only) -----

type jwksCache struct {
	httpClient *http.Client

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey

	fetchedAt time.Time
	ttl       time.Duration
}

func newJWKSCache(httpClient *http.Client) *jwksCache {
	return &jwksCache{httpClient: httpClient, keys: map[string]*rsa.PublicKey{}, ttl: 5 * time.Minute}
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (j *jwksCache) getKey(ctx context.Context, url, kid string) (*rsa.PublicKey, error) {
	j.mu.RLock()
	key := j.keys[kid]
	stale := time.Since(j.fetchedAt) > j.ttl
	j.mu.RUnlock()

	if key != nil && !stale {
		return key, nil
	}
	if err := j.refresh(ctx, url); err != nil {
		j.mu.RLock()
		key = j.keys[kid]
		j.mu.RUnlock()
		if key != nil {
			return key, nil
		}
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	key = j.keys[kid]
	if key == nil {
		return nil, fmt.Errorf("auth: kid not found in jwks: %s", kid)
	}
	return key, nil
}

func (j *jwksCache) refresh(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("auth: jwks url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := j.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("auth: jwks fetch failed: %s", res.Status)
	}

	var set jwkSet
	if err := json.NewDecoder(res.Body).Decode(&set); err != nil {
		return err
	}

	next := map[string]*rsa.PublicKey{}
	for _, k := range set.Keys {
		if k.Kty != "RSA" || strings.TrimSpace(k.Kid) == "" {
			continue
		}
		pub, err := rsaFromModExp(k.N, k.E)
		if err != nil {
			continue
		}
		next[k.Kid] = pub
	}
	if len(next) == 0 {
		return fmt.Errorf("auth: jwks contained no usable RSA keys")
	}

	j.mu.Lock()
	j.keys = next
	j.fetchedAt = time.Now()
	j.mu.Unlock()
	return nil
}

func rsaFromModExp(nB64, eB64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nb)
	e := 0
	for _, b := range eb {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("auth: invalid exponent")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}
