// auth.go — middleware аутентификации по Google ID-токенам.
// Токен — RS256 JWT, подписанный ключами Google (JWKS endpoint).
// Claims: sub, email, name, picture; aud должен совпадать с client ID
// приложения, iss — один из двух вариантов Google.
// JWKS-клиент создаётся лениво при первом запросе: процесс стартует
// и без доступа к Google, падает только проверка токена.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	apierrors "github.com/bigkaa/gopinboard/internal/api/errors"
	"github.com/bigkaa/gopinboard/internal/domain/model"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyIdentity — ключ личности пользователя в контексте запроса.
const ContextKeyIdentity contextKey = "google_identity"

// googleIssuers — допустимые значения iss в Google ID-токене.
var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// tokenCacheSize — ёмкость кэша проверенных токенов.
const tokenCacheSize = 1024

// Claims — структура claims Google ID-токена.
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// cachedIdentity — запись кэша проверенных токенов. expiresAt — exp
// самого токена: запись перестаёт действовать вместе с ним, даже если
// TTL кэша ещё не истёк.
type cachedIdentity struct {
	identity  model.Identity
	expiresAt time.Time
}

// GoogleAuth — middleware проверки Google ID-токенов.
type GoogleAuth struct {
	jwksURL  string
	clientID string
	leeway   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// Ленивая инициализация JWKS-клиента.
	initOnce sync.Once
	jwks     keyfunc.Keyfunc
	initErr  error

	// Кэш проверенных токенов: ключ — sha256 токена.
	cache *expirable.LRU[string, cachedIdentity]
}

// NewGoogleAuth создаёт middleware. JWKS-клиент не создаётся до первого
// запроса с токеном.
func NewGoogleAuth(jwksURL, clientID string, cacheTTL, leeway time.Duration, logger *slog.Logger) *GoogleAuth {
	return &GoogleAuth{
		jwksURL:  jwksURL,
		clientID: clientID,
		leeway:   leeway,
		logger:   logger.With(slog.String("component", "google_auth")),
		now:      time.Now,
		cache:    expirable.NewLRU[string, cachedIdentity](tokenCacheSize, nil, cacheTTL),
	}
}

// NewGoogleAuthWithKeyfunc создаёт middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewGoogleAuthWithKeyfunc(kf keyfunc.Keyfunc, clientID string, cacheTTL, leeway time.Duration, logger *slog.Logger) *GoogleAuth {
	ga := NewGoogleAuth("", clientID, cacheTTL, leeway, logger)
	ga.initOnce.Do(func() { ga.jwks = kf })
	return ga
}

// keyfuncLazy лениво создаёт JWKS-клиент с фоновым обновлением ключей.
func (g *GoogleAuth) keyfuncLazy(ctx context.Context) (keyfunc.Keyfunc, error) {
	g.initOnce.Do(func() {
		storage, err := jwkset.NewStorageFromHTTP(g.jwksURL, jwkset.HTTPClientStorageOptions{
			Client:                    &http.Client{Timeout: 10 * time.Second},
			NoErrorReturnFirstHTTPReq: true,
			RefreshInterval:           time.Hour,
			RefreshErrorHandler: func(_ context.Context, err error) {
				g.logger.Error("Ошибка обновления Google JWKS",
					slog.String("error", err.Error()),
					slog.String("url", g.jwksURL),
				)
			},
		})
		if err != nil {
			g.initErr = fmt.Errorf("создание JWKS storage: %w", err)
			return
		}

		k, err := keyfunc.New(keyfunc.Options{Storage: storage})
		if err != nil {
			g.initErr = fmt.Errorf("создание keyfunc: %w", err)
			return
		}

		g.jwks = k
		g.logger.Info("Клиент Google JWKS инициализирован", slog.String("url", g.jwksURL))
	})

	return g.jwks, g.initErr
}

// cacheKey возвращает ключ кэша для токена.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Verify проверяет ID-токен и возвращает личность пользователя.
// Повторная проверка того же токена в пределах TTL берётся из кэша.
func (g *GoogleAuth) Verify(ctx context.Context, tokenString string) (model.Identity, error) {
	key := cacheKey(tokenString)
	if entry, ok := g.cache.Get(key); ok {
		// Кэш не переживает exp токена: просроченная запись выбрасывается
		// и токен идёт на полную проверку (которая его отклонит).
		if g.now().Before(entry.expiresAt.Add(g.leeway)) {
			return entry.identity, nil
		}
		g.cache.Remove(key)
	}

	kf, err := g.keyfuncLazy(ctx)
	if err != nil {
		return model.Identity{}, err
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, kf.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(g.clientID),
		jwt.WithLeeway(g.leeway),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return model.Identity{}, fmt.Errorf("валидация токена: %w", err)
	}
	if !token.Valid {
		return model.Identity{}, fmt.Errorf("невалидный токен")
	}

	// iss у Google встречается в двух вариантах, jwt.WithIssuer
	// принимает только один — проверяем вручную.
	issuer, err := claims.GetIssuer()
	if err != nil || !validIssuer(issuer) {
		return model.Identity{}, fmt.Errorf("недопустимый издатель токена: %q", issuer)
	}

	if claims.Email == "" {
		return model.Identity{}, fmt.Errorf("токен без email")
	}

	identity := model.Identity{
		Subject: claims.Subject,
		Email:   strings.ToLower(strings.TrimSpace(claims.Email)),
		Name:    claims.Name,
		Picture: claims.Picture,
	}

	g.cache.Add(key, cachedIdentity{identity: identity, expiresAt: claims.ExpiresAt.Time})
	return identity, nil
}

// validIssuer проверяет iss по списку допустимых издателей Google.
func validIssuer(issuer string) bool {
	for _, iss := range googleIssuers {
		if issuer == iss {
			return true
		}
	}
	return false
}

// Middleware возвращает HTTP middleware аутентификации.
// Извлекает Bearer token из Authorization, проверяет его и помещает
// личность пользователя в контекст запроса.
func (g *GoogleAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			identity, err := g.Verify(r.Context(), tokenString)
			if err != nil {
				g.logger.Debug("Проверка ID-токена не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyIdentity, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessChecker — проверка допуска пользователя по e-mail.
type AccessChecker interface {
	IsAllowed(ctx context.Context, email string) bool
}

// RequireAccess возвращает middleware, проверяющий допуск пользователя
// по политике доступа. Недопущенный пользователь получает 403.
// Должен использоваться ПОСЛЕ GoogleAuth.Middleware().
func RequireAccess(policy AccessChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := r.Context().Value(ContextKeyIdentity).(model.Identity)
			if !ok {
				apierrors.Unauthorized(w, "Пользователь не аутентифицирован")
				return
			}

			if !policy.IsAllowed(r.Context(), identity.Email) {
				apierrors.Forbidden(w, "Доступ запрещён")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IdentityFromContext извлекает личность пользователя из контекста запроса.
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(ContextKeyIdentity).(model.Identity)
	return identity, ok
}
