// upload.go — конвейер загрузки картинок.
// Загрузки выполняются строго последовательно одним воркером: общий
// metadata.json изменяется после каждой загрузки, и последовательная
// обработка внутри реплики убирает локальные конфликты версий.
// Очередь ограничена, порядок — FIFO.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gopinboard/internal/domain/model"
	"github.com/bigkaa/gopinboard/internal/metadata"
	"github.com/bigkaa/gopinboard/internal/store"
)

// maxDescriptionLen — предел длины описания картинки.
const maxDescriptionLen = 256

// unsafeNameRe — символы, вычищаемые из имени файла.
var unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinboard_uploads_total",
		Help: "Количество обработанных загрузок по результату.",
	}, []string{"status"})
	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pinboard_upload_duration_seconds",
		Help:    "Длительность обработки одной загрузки.",
		Buckets: prometheus.DefBuckets,
	})
	uploadQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pinboard_upload_queue_depth",
		Help: "Текущая глубина очереди загрузок.",
	})
)

// UploadError — ошибка загрузки с HTTP-статусом и кодом для клиента.
// Err — исходная причина, если она есть.
type UploadError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// UploadParams — параметры одной загрузки.
type UploadParams struct {
	Filename    string
	MimeType    string
	Data        []byte
	Description string
	UploadedBy  string // E-mail загрузившего пользователя
}

// uploadResult — результат обработки задания воркером.
type uploadResult struct {
	record *model.ImageRecord
	err    error
}

// uploadJob — задание в очереди.
type uploadJob struct {
	id     string
	params UploadParams
	result chan uploadResult
}

// UploadService принимает загрузки и обрабатывает их последовательно.
type UploadService struct {
	store              store.ContentStore
	meta               *metadata.Synchronizer
	maxSize            int64
	metadataRetryDelay time.Duration
	queue              chan *uploadJob
	logger             *slog.Logger

	// lastStamp — последняя использованная миллисекундная метка имени.
	// Гарантирует уникальность имён при загрузках в одну миллисекунду.
	// Читается и пишется только воркером.
	lastStamp int64
	now       func() time.Time
}

// NewUploadService создаёт конвейер загрузки.
func NewUploadService(st store.ContentStore, meta *metadata.Synchronizer,
	maxSize int64, queueSize int, metadataRetryDelay time.Duration, logger *slog.Logger) *UploadService {
	if queueSize < 1 {
		queueSize = 1
	}

	return &UploadService{
		store:              st,
		meta:               meta,
		maxSize:            maxSize,
		metadataRetryDelay: metadataRetryDelay,
		queue:              make(chan *uploadJob, queueSize),
		logger:             logger.With(slog.String("component", "upload_service")),
		now:                time.Now,
	}
}

// Start запускает воркер. Воркер живёт до отмены контекста.
func (s *UploadService) Start(ctx context.Context) {
	go s.worker(ctx)
	s.logger.Info("Воркер загрузки запущен",
		slog.Int("queue_size", cap(s.queue)),
		slog.Int64("max_upload_size", s.maxSize),
	)
}

// Enqueue проверяет загрузку, ставит её в очередь и ждёт результата.
// При отмене контекста вызов возвращается, а принятое задание
// дорабатывается воркером в фоне.
func (s *UploadService) Enqueue(ctx context.Context, params UploadParams) (*model.ImageRecord, error) {
	if err := s.validate(params); err != nil {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	job := &uploadJob{
		id:     uuid.New().String(),
		params: params,
		result: make(chan uploadResult, 1),
	}

	select {
	case s.queue <- job:
		uploadQueueDepth.Set(float64(len(s.queue)))
	default:
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, &UploadError{
			StatusCode: http.StatusServiceUnavailable,
			Code:       "QUEUE_FULL",
			Message:    "очередь загрузки переполнена, повторите позже",
		}
	}

	s.logger.Debug("Загрузка поставлена в очередь",
		slog.String("job_id", job.id),
		slog.String("filename", params.Filename),
		slog.Int("queue_depth", len(s.queue)),
	)

	select {
	case res := <-job.result:
		return res.record, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// validate проверяет параметры загрузки до постановки в очередь.
func (s *UploadService) validate(params UploadParams) error {
	if params.Filename == "" {
		return &UploadError{
			StatusCode: http.StatusBadRequest,
			Code:       "VALIDATION_ERROR",
			Message:    "имя файла не задано",
		}
	}
	if len(params.Data) == 0 {
		return &UploadError{
			StatusCode: http.StatusBadRequest,
			Code:       "VALIDATION_ERROR",
			Message:    "файл пуст",
		}
	}
	if !strings.HasPrefix(params.MimeType, "image/") {
		return &UploadError{
			StatusCode: http.StatusUnsupportedMediaType,
			Code:       "UNSUPPORTED_MEDIA_TYPE",
			Message:    fmt.Sprintf("тип %q не является изображением", params.MimeType),
		}
	}
	if int64(len(params.Data)) > s.maxSize {
		return &UploadError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Code:       "FILE_TOO_LARGE",
			Message:    fmt.Sprintf("размер файла %d превышает предел %d", len(params.Data), s.maxSize),
		}
	}
	return nil
}

// worker последовательно обрабатывает задания из очереди.
func (s *UploadService) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Воркер загрузки остановлен")
			return
		case job := <-s.queue:
			uploadQueueDepth.Set(float64(len(s.queue)))
			start := time.Now()
			record, err := s.process(ctx, job)
			uploadDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				uploadsTotal.WithLabelValues("error").Inc()
			} else {
				uploadsTotal.WithLabelValues("success").Inc()
			}
			job.result <- uploadResult{record: record, err: err}
		}
	}
}

// process выполняет одну загрузку: блоб, затем метаданные.
// Отказ записи метаданных не отменяет загрузку: блоб уже опубликован,
// картинка останется в списке без описания и автора.
func (s *UploadService) process(ctx context.Context, job *uploadJob) (*model.ImageRecord, error) {
	name := s.uniqueName(job.params.Filename)

	record, err := s.store.Upload(ctx, name, job.params.Data, job.params.MimeType)
	if err != nil {
		s.logger.Error("Не удалось загрузить блоб",
			slog.String("job_id", job.id),
			slog.String("filename", name),
			slog.String("error", err.Error()),
		)
		return nil, s.wrapStoreError(err)
	}

	entry := metadata.Entry{
		UploadedBy:  job.params.UploadedBy,
		UploadedAt:  s.now().UTC().Format("2006-01-02"),
		Description: truncate(job.params.Description, maxDescriptionLen),
	}

	if err := s.upsertWithRetry(ctx, record.ID, entry); err != nil {
		s.logger.Error("Метаданные не записаны, загрузка считается успешной",
			slog.String("job_id", job.id),
			slog.String("image_id", record.ID),
			slog.String("error", err.Error()),
		)
	} else {
		record.UploadedBy = entry.UploadedBy
		record.UploadedAt = entry.UploadedAt
		record.Description = entry.Description
	}

	s.logger.Info("Загрузка обработана",
		slog.String("job_id", job.id),
		slog.String("image_id", record.ID),
		slog.Int("size", len(job.params.Data)),
	)

	return record, nil
}

// upsertWithRetry пишет метаданные; при неудаче делает одну
// дополнительную попытку после паузы.
func (s *UploadService) upsertWithRetry(ctx context.Context, id string, entry metadata.Entry) error {
	err := s.meta.Upsert(ctx, id, entry)
	if err == nil {
		return nil
	}

	s.logger.Warn("Запись метаданных не удалась, повтор после паузы",
		slog.String("image_id", id),
		slog.String("error", err.Error()),
	)

	t := time.NewTimer(s.metadataRetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	return s.meta.Upsert(ctx, id, entry)
}

// uniqueName строит безопасное уникальное имя файла: небезопасные
// символы заменяются подчёркиванием, перед расширением добавляется
// миллисекундная метка. Метка монотонна даже при нескольких загрузках
// в одну миллисекунду.
func (s *UploadService) uniqueName(filename string) string {
	ext := path.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = unsafeNameRe.ReplaceAllString(base, "_")
	ext = unsafeNameRe.ReplaceAllString(strings.TrimPrefix(ext, "."), "_")

	stamp := s.now().UnixMilli()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp

	if ext == "" {
		return base + "-" + strconv.FormatInt(stamp, 10)
	}
	return base + "-" + strconv.FormatInt(stamp, 10) + "." + ext
}

// wrapStoreError переводит ошибки хранилища в UploadError.
func (s *UploadService) wrapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotConfigured) {
		return &UploadError{
			StatusCode: http.StatusInternalServerError,
			Code:       "NOT_CONFIGURED",
			Message:    "хранилище контента не настроено",
		}
	}

	var remoteErr *store.RemoteError
	if errors.As(err, &remoteErr) {
		return &UploadError{
			StatusCode: http.StatusBadGateway,
			Code:       "REMOTE_ERROR",
			Message:    fmt.Sprintf("хранилище контента вернуло статус %d", remoteErr.StatusCode),
			Err:        err,
		}
	}
	return &UploadError{
		StatusCode: http.StatusBadGateway,
		Code:       "REMOTE_ERROR",
		Message:    "хранилище контента недоступно",
		Err:        err,
	}
}

// truncate обрезает строку до limit символов.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
