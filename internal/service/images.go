// images.go — листинг и удаление картинок.
// Листинг объединяет объекты хранилища с записями metadata.json;
// недоступные метаданные деградируют до пустых полей, списку картинок
// это не мешает.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bigkaa/gopinboard/internal/domain/model"
	"github.com/bigkaa/gopinboard/internal/metadata"
	"github.com/bigkaa/gopinboard/internal/store"
)

// ImageService отдаёт список картинок и удаляет их.
type ImageService struct {
	store  store.ContentStore
	meta   *metadata.Synchronizer
	logger *slog.Logger
}

// NewImageService создаёт сервис картинок.
func NewImageService(st store.ContentStore, meta *metadata.Synchronizer, logger *slog.Logger) *ImageService {
	return &ImageService{
		store:  st,
		meta:   meta,
		logger: logger.With(slog.String("component", "image_service")),
	}
}

// List возвращает картинки, обогащённые метаданными, самые свежие первыми.
func (s *ImageService) List(ctx context.Context) ([]model.ImageRecord, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("листинг хранилища: %w", err)
	}

	doc, err := s.meta.Read(ctx)
	if err != nil {
		s.logger.Warn("Метаданные недоступны, список отдаётся без них",
			slog.String("error", err.Error()),
		)
		doc = metadata.Document{}
	}

	for i := range records {
		if entry, ok := doc[records[i].ID]; ok {
			records[i].UploadedBy = entry.UploadedBy
			records[i].UploadedAt = entry.UploadedAt
			records[i].Description = entry.Description
		}
	}

	// Сортировка по убыванию ключа: дата загрузки, а для картинок без
	// метаданных — идентификатор (он несёт миллисекундную метку имени,
	// так что порядок осмыслен и без метаданных). Равные ключи
	// упорядочиваются по идентификатору.
	sort.Slice(records, func(i, j int) bool {
		ki, kj := sortKey(&records[i]), sortKey(&records[j])
		if ki != kj {
			return ki > kj
		}
		return records[i].ID > records[j].ID
	})

	return records, nil
}

// sortKey возвращает ключ сортировки записи: дата загрузки либо
// идентификатор при её отсутствии.
func sortKey(r *model.ImageRecord) string {
	if r.UploadedAt != "" {
		return r.UploadedAt
	}
	return r.ID
}

// Delete удаляет блоб и затем его метаданные. Отказ удаления метаданных
// не считается ошибкой: осиротевшую запись подберёт фоновая сверка.
func (s *ImageService) Delete(ctx context.Context, id, versionToken string) error {
	if err := s.store.Delete(ctx, id, versionToken); err != nil {
		return fmt.Errorf("удаление картинки %s: %w", id, err)
	}

	if err := s.meta.Remove(ctx, id); err != nil {
		s.logger.Warn("Метаданные удалённой картинки не вычищены",
			slog.String("image_id", id),
			slog.String("error", err.Error()),
		)
	}

	return nil
}
