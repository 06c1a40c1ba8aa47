// hearts.go — обработчики сердечек:
// GET /hearts/{imageId} — состояние счётчика для пользователя
// POST /hearts/{imageId} — переключение отметки пользователя
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/gopinboard/internal/api/errors"
	"github.com/bigkaa/gopinboard/internal/api/middleware"
	"github.com/bigkaa/gopinboard/internal/service"
)

// HeartHandler — обработчики счётчиков сердечек.
type HeartHandler struct {
	hearts *service.HeartService
	logger *slog.Logger
}

// NewHeartHandler создаёт обработчик.
func NewHeartHandler(hearts *service.HeartService, logger *slog.Logger) *HeartHandler {
	return &HeartHandler{
		hearts: hearts,
		logger: handlerLogger(logger, "heart_handler"),
	}
}

// Get — GET /hearts/{imageId}.
func (h *HeartHandler) Get(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "imageId")
	if imageID == "" {
		apierrors.ValidationError(w, "Отсутствует imageId")
		return
	}

	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не аутентифицирован")
		return
	}

	writeJSON(w, http.StatusOK, h.hearts.Get(imageID, identity.Subject))
}

// Toggle — POST /hearts/{imageId}.
func (h *HeartHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "imageId")
	if imageID == "" {
		apierrors.ValidationError(w, "Отсутствует imageId")
		return
	}

	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не аутентифицирован")
		return
	}

	writeJSON(w, http.StatusOK, h.hearts.Toggle(imageID, identity.Subject))
}
