// auth.go — обработчик проверки допуска: POST /auth/check.
// Клиент вызывает его сразу после Google sign-in, чтобы узнать,
// пустят ли пользователя к картинкам. Токен принимается из заголовка
// Authorization или из поля idToken тела запроса.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/gopinboard/internal/api/errors"
	"github.com/bigkaa/gopinboard/internal/api/middleware"
)

// AuthHandler — обработчик проверки допуска.
type AuthHandler struct {
	auth   *middleware.GoogleAuth
	policy middleware.AccessChecker
	logger *slog.Logger
}

// NewAuthHandler создаёт обработчик.
func NewAuthHandler(auth *middleware.GoogleAuth, policy middleware.AccessChecker, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		policy: policy,
		logger: handlerLogger(logger, "auth_handler"),
	}
}

// authCheckRequest — тело запроса /auth/check.
type authCheckRequest struct {
	IDToken string `json:"idToken"`
}

// authCheckResponse — ответ /auth/check.
type authCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// Check — POST /auth/check.
// Валидный токен недопущенного пользователя — это 200 с allowed=false,
// а не ошибка: клиент показывает страницу «доступ запрещён».
func (h *AuthHandler) Check(w http.ResponseWriter, r *http.Request) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		var req authCheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			tokenString = req.IDToken
		}
	}
	if tokenString == "" {
		apierrors.Unauthorized(w, "Токен не передан")
		return
	}

	identity, err := h.auth.Verify(r.Context(), tokenString)
	if err != nil {
		h.logger.Debug("Проверка токена на /auth/check не пройдена",
			slog.String("error", err.Error()),
		)
		apierrors.Unauthorized(w, "Невалидный или просроченный токен")
		return
	}

	allowed := h.policy.IsAllowed(r.Context(), identity.Email)

	writeJSON(w, http.StatusOK, authCheckResponse{
		Allowed: allowed,
		Email:   identity.Email,
		Name:    identity.Name,
		Picture: identity.Picture,
	})
}

// bearerToken извлекает Bearer token из заголовка Authorization.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
