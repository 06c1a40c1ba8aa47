// Package metadata — работа с общим документом metadata.json.
// Документ хранится в том же хранилище, что и картинки, и изменяется
// конкурентно несколькими репликами сервиса. Протокол записи —
// оптимистичная конкуренция по токену версии хранилища: читаем документ
// с токеном, меняем, пишем условно; при конфликте перечитываем и
// повторяем с нарастающей задержкой.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gopinboard/internal/store"
)

// ObjectName — имя документа метаданных в хранилище.
const ObjectName = "metadata.json"

// defaultBackoff — задержки между попытками записи после конфликта.
var defaultBackoff = []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, time.Second}

var (
	metadataConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinboard_metadata_conflicts_total",
		Help: "Количество конфликтов версий при записи metadata.json.",
	})
	metadataWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinboard_metadata_write_failures_total",
		Help: "Количество записей metadata.json, не удавшихся после всех попыток.",
	})
)

// Entry — запись метаданных одной картинки.
type Entry struct {
	UploadedBy  string `json:"uploadedBy,omitempty"`
	UploadedAt  string `json:"uploadedAt,omitempty"`
	Description string `json:"description,omitempty"`
}

// Document — документ метаданных: ключ — идентификатор картинки.
type Document map[string]Entry

// Synchronizer читает и изменяет документ метаданных.
type Synchronizer struct {
	store       store.ContentStore
	objectName  string
	maxAttempts int
	backoff     []time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// NewSynchronizer создаёт синхронизатор.
// maxAttempts — общее число попыток записи (минимум 1).
func NewSynchronizer(st store.ContentStore, maxAttempts int, logger *slog.Logger) *Synchronizer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Synchronizer{
		store:       st,
		objectName:  ObjectName,
		maxAttempts: maxAttempts,
		backoff:     defaultBackoff,
		sleep:       sleepCtx,
		logger:      logger.With(slog.String("component", "metadata_sync")),
	}
}

// NewSynchronizerWithBackoff создаёт синхронизатор с заданными задержками
// и функцией ожидания (для тестов).
func NewSynchronizerWithBackoff(st store.ContentStore, maxAttempts int, backoff []time.Duration,
	sleep func(ctx context.Context, d time.Duration) error, logger *slog.Logger) *Synchronizer {
	s := NewSynchronizer(st, maxAttempts, logger)
	s.backoff = backoff
	if sleep != nil {
		s.sleep = sleep
	}
	return s
}

// sleepCtx ждёт d или отмены контекста.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// read возвращает документ и токен версии.
// Отсутствующий документ — пустой Document с пустым токеном.
// Повреждённый JSON считается пустым документом: следующая запись
// перезапишет его целиком, не блокируя сервис.
func (s *Synchronizer) read(ctx context.Context) (Document, string, error) {
	obj, err := s.store.GetObject(ctx, s.objectName)
	if err != nil {
		if errors.Is(err, store.ErrObjectNotFound) {
			return Document{}, "", nil
		}
		return nil, "", fmt.Errorf("чтение %s: %w", s.objectName, err)
	}

	var doc Document
	if err := json.Unmarshal(obj.Content, &doc); err != nil {
		s.logger.Warn("Документ метаданных повреждён, считается пустым",
			slog.String("error", err.Error()),
		)
		return Document{}, obj.VersionToken, nil
	}
	if doc == nil {
		doc = Document{}
	}

	return doc, obj.VersionToken, nil
}

// Read возвращает текущий документ метаданных.
func (s *Synchronizer) Read(ctx context.Context) (Document, error) {
	doc, _, err := s.read(ctx)
	return doc, err
}

// apply изменяет документ под оптимистичной конкуренцией: на каждой
// попытке документ перечитывается, mutate применяется к свежей копии,
// результат пишется условно. mutate возвращает false, если изменять
// нечего — тогда запись пропускается.
func (s *Synchronizer) apply(ctx context.Context, mutate func(doc Document) bool) error {
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		doc, token, err := s.read(ctx)
		if err != nil {
			return err
		}

		if !mutate(doc) {
			return nil
		}

		content, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("сериализация %s: %w", s.objectName, err)
		}

		_, err = s.store.PutObject(ctx, s.objectName, content, token)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return fmt.Errorf("запись %s: %w", s.objectName, err)
		}

		lastErr = err
		metadataConflicts.Inc()
		s.logger.Debug("Конфликт версий при записи метаданных",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.maxAttempts),
		)

		if attempt < s.maxAttempts {
			if err := s.sleep(ctx, s.backoffFor(attempt)); err != nil {
				return err
			}
		}
	}

	metadataWriteFailures.Inc()
	return fmt.Errorf("запись %s: попытки исчерпаны (%d): %w", s.objectName, s.maxAttempts, lastErr)
}

// backoffFor возвращает задержку после попытки attempt (с единицы).
func (s *Synchronizer) backoffFor(attempt int) time.Duration {
	if len(s.backoff) == 0 {
		return 0
	}
	if attempt > len(s.backoff) {
		return s.backoff[len(s.backoff)-1]
	}
	return s.backoff[attempt-1]
}

// Upsert записывает метаданные картинки, целиком заменяя запись по ключу.
func (s *Synchronizer) Upsert(ctx context.Context, id string, entry Entry) error {
	return s.apply(ctx, func(doc Document) bool {
		doc[id] = entry
		return true
	})
}

// Remove удаляет запись картинки. Отсутствие записи — не ошибка.
func (s *Synchronizer) Remove(ctx context.Context, id string) error {
	return s.apply(ctx, func(doc Document) bool {
		if _, ok := doc[id]; !ok {
			return false
		}
		delete(doc, id)
		return true
	})
}

// Prune удаляет записи, идентификаторы которых отсутствуют в valid.
// Возвращает количество удалённых записей.
func (s *Synchronizer) Prune(ctx context.Context, valid map[string]struct{}) (int, error) {
	removed := 0
	err := s.apply(ctx, func(doc Document) bool {
		removed = 0
		for id := range doc {
			if _, ok := valid[id]; !ok {
				delete(doc, id)
				removed++
			}
		}
		return removed > 0
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
