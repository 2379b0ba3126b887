package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

func TestJWKSCache_KeyCachesKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "key1", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}

	var mu sync.Mutex
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	cache := NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return time.Unix(1_000_000, 0) }))

	ctx := context.Background()
	got, err := cache.Key(ctx, "key1")
	if err != nil {
		t.Fatalf("cache.Key: %v", err)
	}
	if _, ok := got.(*rsa.PublicKey); !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", got)
	}
	if _, err = cache.Key(ctx, "key1"); err != nil {
		t.Fatalf("cache.Key second call: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if requests != 1 {
		t.Fatalf("expected single JWKS fetch, got %d", requests)
	}
}

func TestOIDCRequireOIDC_Success(t *testing.T) {
	validator, token := setupOIDCTest(t, nil)

	var identity *ServiceIdentity
	handler := validator.RequireOIDC("https://shop.example.com", []string{"https://accounts.google.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = ServiceIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rr.Code, rr.Body.String())
	}
	if identity == nil || identity.Email != "scheduler@example.iam.gserviceaccount.com" {
		t.Fatalf("expected service identity, got %+v", identity)
	}
}

func TestOIDCRequireOIDC_AudienceMismatch(t *testing.T) {
	validator, token := setupOIDCTest(t, func(claims jwt.MapClaims) {
		claims["aud"] = "https://other.example.com"
	})

	handler := validator.RequireOIDC("https://shop.example.com", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/internal", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestOIDCRequireOIDC_IssuerMismatch(t *testing.T) {
	validator, token := setupOIDCTest(t, func(claims jwt.MapClaims) {
		claims["iss"] = "https://evil.example.com"
	})

	handler := validator.RequireOIDC("https://shop.example.com", []string{"https://accounts.google.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/internal", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestOIDCRequireOIDC_JWKSUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	_, token := setupOIDCTest(t, nil)
	validator := NewOIDCValidator(NewJWKSCache(server.URL), zap.NewNop())

	handler := validator.RequireOIDC("https://shop.example.com", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/internal", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func setupOIDCTest(t *testing.T, mutateClaims func(jwt.MapClaims)) (*OIDCValidator, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "svc-key", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	now := time.Now()
	validator := NewOIDCValidator(NewJWKSCache(server.URL), zap.NewNop())

	claims := jwt.MapClaims{
		"aud":   []string{"https://shop.example.com"},
		"iss":   "https://accounts.google.com",
		"sub":   "1234567890",
		"email": "scheduler@example.iam.gserviceaccount.com",
		"exp":   float64(now.Add(time.Hour).Unix()),
		"iat":   float64(now.Unix()),
	}
	if mutateClaims != nil {
		mutateClaims(claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return validator, signed
}
