// store.go — хранилище контента на базе GitHub-репозитория.
// Картинки лежат в директории imagesPath, рядом — metadata.json.
// Публичные URL строятся через raw.githubusercontent.com, сама
// раздача блобов сервису не нужна.
package githubstore

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/bigkaa/gopinboard/internal/domain/model"
	"github.com/bigkaa/gopinboard/internal/store"
)

// rawBaseURL — база публичных URL на содержимое репозитория.
const rawBaseURL = "https://raw.githubusercontent.com"

// imageNameRe — расширения файлов, считающихся картинками.
var imageNameRe = regexp.MustCompile(`(?i)\.(gif|jpe?g|png|webp|bmp|svg|ico)$`)

// Store реализует store.ContentStore поверх GitHub contents API.
type Store struct {
	client     *Client
	repo       string // owner/repo — для построения raw URL
	branch     string
	imagesPath string
	logger     *slog.Logger
}

// Проверка соответствия интерфейсу.
var _ store.ContentStore = (*Store)(nil)

// New создаёт хранилище поверх готового клиента contents API.
func New(client *Client, repo, branch, imagesPath string, logger *slog.Logger) *Store {
	return &Store{
		client:     client,
		repo:       repo,
		branch:     branch,
		imagesPath: strings.Trim(imagesPath, "/"),
		logger:     logger.With(slog.String("component", "github_store")),
	}
}

// objectPath возвращает путь объекта внутри репозитория.
func (s *Store) objectPath(name string) string {
	return path.Join(s.imagesPath, name)
}

// rawURL возвращает публичный URL объекта.
func (s *Store) rawURL(name string) string {
	return fmt.Sprintf("%s/%s/%s/%s", rawBaseURL, s.repo, s.branch, s.objectPath(name))
}

// mimeTypeByName возвращает MIME-тип по расширению имени файла.
func mimeTypeByName(name string) string {
	mt := mime.TypeByExtension(strings.ToLower(path.Ext(name)))
	if mt == "" {
		return "application/octet-stream"
	}
	return mt
}

// List возвращает картинки из директории imagesPath.
// Файлы без графического расширения (включая metadata.json) пропускаются.
// Пустая или отсутствующая директория — пустой список, не ошибка.
func (s *Store) List(ctx context.Context) ([]model.ImageRecord, error) {
	entries, err := s.client.ListDir(ctx, s.imagesPath, s.branch)
	if err != nil {
		if err == store.ErrObjectNotFound {
			return []model.ImageRecord{}, nil
		}
		return nil, fmt.Errorf("листинг картинок: %w", err)
	}

	records := make([]model.ImageRecord, 0, len(entries))
	for _, e := range entries {
		if e.Type != "file" || !imageNameRe.MatchString(e.Name) {
			continue
		}

		records = append(records, model.ImageRecord{
			ID:           e.Name,
			Name:         e.Name,
			URL:          s.rawURL(e.Name),
			MimeType:     mimeTypeByName(e.Name),
			VersionToken: e.SHA,
		})
	}

	return records, nil
}

// Upload загружает новый блоб. Имя должно быть уникальным — контроль
// уникальности лежит на очереди загрузки.
func (s *Store) Upload(ctx context.Context, filename string, data []byte, mimeType string) (*model.ImageRecord, error) {
	message := "Add image: " + filename

	sha, err := s.client.PutFile(ctx, s.objectPath(filename), message, data, s.branch, "")
	if err != nil {
		return nil, fmt.Errorf("загрузка %s: %w", filename, err)
	}

	s.logger.Info("Картинка загружена в репозиторий",
		slog.String("filename", filename),
		slog.Int("size", len(data)),
	)

	return &model.ImageRecord{
		ID:           filename,
		Name:         filename,
		URL:          s.rawURL(filename),
		MimeType:     mimeType,
		VersionToken: sha,
	}, nil
}

// Delete удаляет блоб по идентификатору. versionToken (blob SHA)
// обязателен для contents API.
func (s *Store) Delete(ctx context.Context, id, versionToken string) error {
	if versionToken == "" {
		return fmt.Errorf("удаление %s: требуется токен версии", id)
	}

	message := "Delete image: " + id
	if err := s.client.DeleteFile(ctx, s.objectPath(id), message, versionToken, s.branch); err != nil {
		return fmt.Errorf("удаление %s: %w", id, err)
	}

	s.logger.Info("Картинка удалена из репозитория", slog.String("id", id))
	return nil
}

// GetObject возвращает служебный объект (metadata.json) с токеном версии.
func (s *Store) GetObject(ctx context.Context, name string) (*store.Object, error) {
	file, err := s.client.GetFile(ctx, s.objectPath(name), s.branch)
	if err != nil {
		return nil, err
	}

	content, err := file.Decode()
	if err != nil {
		return nil, fmt.Errorf("декодирование %s: %w", name, err)
	}

	return &store.Object{
		Content:      content,
		VersionToken: file.SHA,
	}, nil
}

// PutObject условно записывает служебный объект. expectedToken — blob SHA
// последнего чтения, пустой при создании. Возвращает новый токен.
func (s *Store) PutObject(ctx context.Context, name string, content []byte, expectedToken string) (string, error) {
	return s.client.PutFile(ctx, s.objectPath(name), "Update "+name, content, s.branch, expectedToken)
}
