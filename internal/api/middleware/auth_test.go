package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/gopinboard/internal/domain/model"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key"

// testClientID — audience тестовых токенов.
const testClientID = "client-id.apps.googleusercontent.com"

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// generateTestToken генерирует ID-токен для тестов.
func generateTestToken(key *rsa.PrivateKey, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	return token.SignedString(key)
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	nB64 := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	eB64 := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())

	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   nB64,
				"e":   eB64,
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// newTestGoogleAuth создаёт GoogleAuth с RSA ключом для тестов.
func newTestGoogleAuth(key *rsa.PrivateKey) *GoogleAuth {
	jwksJSON := buildJWKSetJSON(&key.PublicKey, testKeyID)
	kf, err := keyfunc.NewJWKSetJSON(jwksJSON)
	if err != nil {
		panic("не удалось создать keyfunc из JWKS JSON: " + err.Error())
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewGoogleAuthWithKeyfunc(kf, testClientID, 5*time.Minute, time.Minute, logger)
}

// validClaims возвращает корректные claims Google ID-токена.
func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "108123456789",
			Issuer:    "https://accounts.google.com",
			Audience:  jwt.ClaimStrings{testClientID},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Email:         "User@Example.com",
		EmailVerified: true,
		Name:          "Test User",
	}
}

// TestGoogleAuth_ValidToken проверяет валидный ID-токен через middleware.
func TestGoogleAuth_ValidToken(t *testing.T) {
	key, err := generateTestKey()
	if err != nil {
		t.Fatal(err)
	}

	auth := newTestGoogleAuth(key)
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Error("личность не попала в контекст")
		}
		if identity.Email != "user@example.com" {
			t.Errorf("ожидался нормализованный email user@example.com, получено %q", identity.Email)
		}
		if identity.Subject != "108123456789" {
			t.Errorf("неожиданный subject: %q", identity.Subject)
		}

		w.WriteHeader(http.StatusOK)
	}))

	tokenString, err := generateTestToken(key, validClaims())
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/images", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
}

// TestGoogleAuth_MissingToken проверяет отсутствие Authorization header.
func TestGoogleAuth_MissingToken(t *testing.T) {
	key, _ := generateTestKey()
	auth := newTestGoogleAuth(key)
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	req := httptest.NewRequest(http.MethodGet, "/images", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

// TestGoogleAuth_ExpiredToken проверяет просроченный токен.
func TestGoogleAuth_ExpiredToken(t *testing.T) {
	key, _ := generateTestKey()
	auth := newTestGoogleAuth(key)

	claims := validClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	claims.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))

	tokenString, _ := generateTestToken(key, claims)

	if _, err := auth.Verify(context.Background(), tokenString); err == nil {
		t.Error("ожидалась ошибка для просроченного токена")
	}
}

// TestGoogleAuth_WrongAudience проверяет токен с чужим aud.
func TestGoogleAuth_WrongAudience(t *testing.T) {
	key, _ := generateTestKey()
	auth := newTestGoogleAuth(key)

	claims := validClaims()
	claims.Audience = jwt.ClaimStrings{"another-client.apps.googleusercontent.com"}

	tokenString, _ := generateTestToken(key, claims)

	if _, err := auth.Verify(context.Background(), tokenString); err == nil {
		t.Error("ожидалась ошибка для токена с чужим audience")
	}
}

// TestGoogleAuth_WrongIssuer проверяет токен с недопустимым iss.
func TestGoogleAuth_WrongIssuer(t *testing.T) {
	key, _ := generateTestKey()
	auth := newTestGoogleAuth(key)

	claims := validClaims()
	claims.Issuer = "https://evil.example.com"

	tokenString, _ := generateTestToken(key, claims)

	if _, err := auth.Verify(context.Background(), tokenString); err == nil {
		t.Error("ожидалась ошибка для токена с недопустимым издателем")
	}
}

// TestGoogleAuth_AltIssuer проверяет второй допустимый вариант iss.
func TestGoogleAuth_AltIssuer(t *testing.T) {
	key, _ := generateTestKey()
	auth := newTestGoogleAuth(key)

	claims := validClaims()
	claims.Issuer = "accounts.google.com"

	tokenString, _ := generateTestToken(key, claims)

	if _, err := auth.Verify(context.Background(), tokenString); err != nil {
		t.Errorf("iss accounts.google.com должен приниматься: %v", err)
	}
}

// TestGoogleAuth_NoEmail проверяет токен без email.
func TestGoogleAuth_NoEmail(t *testing.T) {
	key, _ := generateTestKey()
	auth := newTestGoogleAuth(key)

	claims := validClaims()
	claims.Email = ""

	tokenString, _ := generateTestToken(key, claims)

	if _, err := auth.Verify(context.Background(), tokenString); err == nil {
		t.Error("ожидалась ошибка для токена без email")
	}
}

// TestGoogleAuth_CacheHit проверяет, что повторная проверка берётся из кэша.
func TestGoogleAuth_CacheHit(t *testing.T) {
	key, _ := generateTestKey()
	auth := newTestGoogleAuth(key)

	tokenString, _ := generateTestToken(key, validClaims())

	first, err := auth.Verify(context.Background(), tokenString)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := auth.cache.Get(cacheKey(tokenString)); !ok {
		t.Fatal("проверенный токен не попал в кэш")
	}

	second, err := auth.Verify(context.Background(), tokenString)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("кэш вернул другую личность: %+v != %+v", first, second)
	}
}

// TestGoogleAuth_CacheExpiresWithToken проверяет, что кэш не продлевает
// жизнь токена: после exp токен отклоняется, даже если TTL кэша не истёк.
func TestGoogleAuth_CacheExpiresWithToken(t *testing.T) {
	key, _ := generateTestKey()
	auth := newTestGoogleAuth(key)

	tokenString, _ := generateTestToken(key, validClaims())

	if _, err := auth.Verify(context.Background(), tokenString); err != nil {
		t.Fatal(err)
	}
	if _, ok := auth.cache.Get(cacheKey(tokenString)); !ok {
		t.Fatal("проверенный токен не попал в кэш")
	}

	// Часы уходят за exp токена (validClaims даёт exp через час)
	auth.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, err := auth.Verify(context.Background(), tokenString); err == nil {
		t.Error("просроченный токен не должен обслуживаться из кэша")
	}
}

// allowFunc — политика доступа из функции (для тестов RequireAccess).
type allowFunc func(email string) bool

func (f allowFunc) IsAllowed(_ context.Context, email string) bool { return f(email) }

// TestRequireAccess_Allowed проверяет пропуск допущенного пользователя.
func TestRequireAccess_Allowed(t *testing.T) {
	handler := RequireAccess(allowFunc(func(string) bool { return true }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	ctx := context.WithValue(context.Background(), ContextKeyIdentity,
		model.Identity{Subject: "1", Email: "user@example.com"})
	req := httptest.NewRequest(http.MethodGet, "/images", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d", rec.Code)
	}
}

// TestRequireAccess_Denied проверяет 403 для недопущенного пользователя.
func TestRequireAccess_Denied(t *testing.T) {
	handler := RequireAccess(allowFunc(func(string) bool { return false }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler не должен быть вызван")
		}))

	ctx := context.WithValue(context.Background(), ContextKeyIdentity,
		model.Identity{Subject: "1", Email: "stranger@example.com"})
	req := httptest.NewRequest(http.MethodGet, "/images", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("ожидался статус 403, получен %d", rec.Code)
	}
}

// TestRequireAccess_NoIdentity проверяет 401 без аутентификации.
func TestRequireAccess_NoIdentity(t *testing.T) {
	handler := RequireAccess(allowFunc(func(string) bool { return true }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler не должен быть вызван")
		}))

	req := httptest.NewRequest(http.MethodGet, "/images", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}
