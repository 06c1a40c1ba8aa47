// images.go — обработчики картинок:
// GET /images — список картинок с метаданными
// POST /upload — загрузка новой картинки (multipart или JSON с base64)
// DELETE /images/{imageId} — удаление картинки
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/gopinboard/internal/api/errors"
	"github.com/bigkaa/gopinboard/internal/api/middleware"
	"github.com/bigkaa/gopinboard/internal/domain/model"
	"github.com/bigkaa/gopinboard/internal/service"
	"github.com/bigkaa/gopinboard/internal/store"
)

// ImageHandler — обработчики списка, загрузки и удаления картинок.
type ImageHandler struct {
	images  *service.ImageService
	uploads *service.UploadService
	hearts  *service.HeartService
	maxSize int64
	logger  *slog.Logger
}

// NewImageHandler создаёт обработчик.
func NewImageHandler(images *service.ImageService, uploads *service.UploadService,
	hearts *service.HeartService, maxSize int64, logger *slog.Logger) *ImageHandler {
	return &ImageHandler{
		images:  images,
		uploads: uploads,
		hearts:  hearts,
		maxSize: maxSize,
		logger:  handlerLogger(logger, "image_handler"),
	}
}

// listResponse — ответ GET /images.
type listResponse struct {
	Images []model.ImageRecord `json:"images"`
}

// List — GET /images.
func (h *ImageHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.images.List(r.Context())
	if err != nil {
		h.logger.Error("Не удалось получить список картинок",
			slog.String("error", err.Error()),
		)
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{Images: records})
}

// uploadJSONRequest — JSON-вариант тела POST /upload.
type uploadJSONRequest struct {
	Filename    string `json:"filename"`
	MimeType    string `json:"mimeType"`
	Data        string `json:"data"` // base64
	Description string `json:"description"`
}

// uploadResponse — ответ POST /upload.
type uploadResponse struct {
	Image *model.ImageRecord `json:"image"`
}

// Upload — POST /upload.
// Принимает multipart/form-data (поля file и description) или JSON
// с base64-содержимым. Картинка встаёт в очередь, ответ приходит после
// обработки загрузки воркером.
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	params, err := h.parseUpload(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	params.UploadedBy = identity.Email

	record, err := h.uploads.Enqueue(r.Context(), *params)
	if err != nil {
		var uploadErr *service.UploadError
		if errors.As(err, &uploadErr) {
			apierrors.WriteError(w, uploadErr.StatusCode, uploadErr.Code, uploadErr.Message)
			return
		}
		h.logger.Error("Загрузка не удалась",
			slog.String("filename", params.Filename),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Загрузка не удалась")
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{Image: record})
}

// parseUpload разбирает тело запроса загрузки в обоих форматах.
func (h *ImageHandler) parseUpload(r *http.Request) (*service.UploadParams, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "application/json") {
		var req uploadJSONRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, h.maxSize*2)).Decode(&req); err != nil {
			return nil, errors.New("невалидное JSON-тело запроса")
		}
		data, dataMime, err := decodeUploadData(req.Data)
		if err != nil {
			return nil, err
		}
		mimeType := req.MimeType
		if mimeType == "" {
			mimeType = dataMime
		}
		return &service.UploadParams{
			Filename:    req.Filename,
			MimeType:    mimeType,
			Data:        data,
			Description: req.Description,
		}, nil
	}

	// multipart/form-data
	if err := r.ParseMultipartForm(h.maxSize); err != nil {
		return nil, errors.New("невалидное multipart-тело запроса")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("поле file не передано")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxSize+1))
	if err != nil {
		return nil, errors.New("не удалось прочитать файл")
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &service.UploadParams{
		Filename:    header.Filename,
		MimeType:    mimeType,
		Data:        data,
		Description: r.FormValue("description"),
	}, nil
}

// decodeUploadData разбирает поле data JSON-запроса: обычный base64
// или data URL вида data:<mime>;base64,<payload> (так присылает
// браузерное расширение). MIME-тип из data URL возвращается вторым
// значением и используется, если поле mimeType не заполнено.
func decodeUploadData(raw string) ([]byte, string, error) {
	mimeType := ""
	if strings.HasPrefix(raw, "data:") {
		meta, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
		if !ok {
			return nil, "", errors.New("невалидный data URL в поле data")
		}
		mimeType = strings.TrimSuffix(meta, ";base64")
		raw = payload
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, "", errors.New("поле data не является base64")
	}
	return data, mimeType, nil
}

// deleteRequest — тело DELETE /images/{imageId}.
type deleteRequest struct {
	VersionToken string `json:"versionToken"`
}

// Delete — DELETE /images/{imageId}.
// Токен версии принимается из query-параметра versionToken или из тела.
func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "imageId")
	if imageID == "" {
		apierrors.ValidationError(w, "Отсутствует imageId")
		return
	}

	versionToken := r.URL.Query().Get("versionToken")
	if versionToken == "" {
		var req deleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			versionToken = req.VersionToken
		}
	}

	if err := h.images.Delete(r.Context(), imageID, versionToken); err != nil {
		h.logger.Error("Удаление картинки не удалось",
			slog.String("image_id", imageID),
			slog.String("error", err.Error()),
		)
		h.writeStoreError(w, err)
		return
	}

	h.hearts.Forget(imageID)
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// writeStoreError переводит ошибки хранилища в HTTP-ответ.
func (h *ImageHandler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotConfigured):
		apierrors.NotConfigured(w, "Хранилище контента не настроено")
	case errors.Is(err, store.ErrObjectNotFound):
		apierrors.NotFound(w, "Картинка не найдена")
	default:
		apierrors.RemoteError(w, "Хранилище контента недоступно")
	}
}
