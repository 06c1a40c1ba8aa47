// drive.go — хранилище контента на базе папки Google Drive.
// Доступ — сервисным аккаунтом через domain-wide delegation от имени
// владельца папки. Клиент Drive создаётся лениво при первом обращении:
// процесс стартует и при неполных учётных данных, падает только
// операция с хранилищем.
package drivestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bigkaa/gopinboard/internal/domain/model"
	"github.com/bigkaa/gopinboard/internal/store"
)

// listFields — поля листинга, достаточные для построения ImageRecord.
const listFields = "files(id, name, mimeType, createdTime, thumbnailLink, version)"

// imageExtRe — расширения, принимаемые как картинки при листинге.
var imageExtRe = regexp.MustCompile(`(?i)\.(gif|jpe?g|png|webp|bmp|svg|ico)$`)

// Store реализует store.ContentStore поверх папки Google Drive.
type Store struct {
	folderID    string
	impersonate string // E-mail владельца папки для delegation
	keyJSON     []byte // JSON-ключ сервисного аккаунта
	logger      *slog.Logger

	initOnce sync.Once
	svc      *drive.Service
	initErr  error
}

var _ store.ContentStore = (*Store)(nil)

// New создаёт хранилище. keyBase64 — base64 JSON-ключа сервисного аккаунта;
// декодируется сразу, клиент Drive создаётся лениво.
func New(folderID, impersonateEmail, keyBase64 string, logger *slog.Logger) (*Store, error) {
	keyJSON, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyBase64))
	if err != nil {
		return nil, fmt.Errorf("декодирование ключа сервисного аккаунта: %w", err)
	}

	return &Store{
		folderID:    folderID,
		impersonate: impersonateEmail,
		keyJSON:     keyJSON,
		logger:      logger.With(slog.String("component", "drive_store")),
	}, nil
}

// service лениво создаёт клиент Drive API.
func (s *Store) service(ctx context.Context) (*drive.Service, error) {
	s.initOnce.Do(func() {
		jwtCfg, err := google.JWTConfigFromJSON(s.keyJSON, drive.DriveScope)
		if err != nil {
			s.initErr = fmt.Errorf("разбор ключа сервисного аккаунта: %w", err)
			return
		}
		jwtCfg.Subject = s.impersonate

		svc, err := drive.NewService(context.Background(),
			option.WithHTTPClient(jwtCfg.Client(context.Background())))
		if err != nil {
			s.initErr = fmt.Errorf("создание клиента Drive: %w", err)
			return
		}

		s.svc = svc
		s.logger.Info("Клиент Google Drive инициализирован",
			slog.String("folder_id", s.folderID),
		)
	})

	return s.svc, s.initErr
}

// wrapAPIError переводит ошибку Drive API в ошибки хранилища.
func wrapAPIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 404 {
			return store.ErrObjectNotFound
		}
		return &store.RemoteError{StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	return err
}

// normalizeThumbnail увеличивает миниатюру Drive до 400px по длинной стороне.
func normalizeThumbnail(link string) string {
	if link == "" {
		return ""
	}
	if i := strings.LastIndex(link, "=s"); i >= 0 {
		return link[:i] + "=s400"
	}
	return link
}

// publicURL возвращает URL прямой раздачи файла Drive.
func publicURL(fileID string) string {
	return "https://drive.google.com/uc?export=view&id=" + fileID
}

// List возвращает картинки из папки, отсортированные Drive по createdTime
// по убыванию. Служебные объекты отсекаются по расширению.
func (s *Store) List(ctx context.Context) ([]model.ImageRecord, error) {
	svc, err := s.service(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("'%s' in parents and trashed = false", s.folderID)

	var records []model.ImageRecord
	pageToken := ""
	for {
		call := svc.Files.List().
			Context(ctx).
			Q(query).
			OrderBy("createdTime desc").
			Fields(googleapi.Field(listFields), "nextPageToken").
			PageSize(200)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("листинг папки: %w", wrapAPIError(err))
		}

		for _, f := range page.Files {
			if !strings.HasPrefix(f.MimeType, "image/") && !imageExtRe.MatchString(f.Name) {
				continue
			}

			records = append(records, model.ImageRecord{
				ID:           f.Id,
				Name:         f.Name,
				URL:          publicURL(f.Id),
				Thumbnail:    normalizeThumbnail(f.ThumbnailLink),
				MimeType:     f.MimeType,
				CreatedTime:  f.CreatedTime,
				VersionToken: strconv.FormatInt(f.Version, 10),
			})
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	if records == nil {
		records = []model.ImageRecord{}
	}
	return records, nil
}

// Upload создаёт файл в папке.
func (s *Store) Upload(ctx context.Context, filename string, data []byte, mimeType string) (*model.ImageRecord, error) {
	svc, err := s.service(ctx)
	if err != nil {
		return nil, err
	}

	meta := &drive.File{
		Name:     filename,
		Parents:  []string{s.folderID},
		MimeType: mimeType,
	}

	created, err := svc.Files.Create(meta).
		Context(ctx).
		Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
		Fields("id, name, mimeType, createdTime, thumbnailLink, version").
		Do()
	if err != nil {
		return nil, fmt.Errorf("загрузка %s: %w", filename, wrapAPIError(err))
	}

	s.logger.Info("Картинка загружена в Drive",
		slog.String("filename", filename),
		slog.String("file_id", created.Id),
		slog.Int("size", len(data)),
	)

	return &model.ImageRecord{
		ID:           created.Id,
		Name:         created.Name,
		URL:          publicURL(created.Id),
		Thumbnail:    normalizeThumbnail(created.ThumbnailLink),
		MimeType:     created.MimeType,
		CreatedTime:  created.CreatedTime,
		VersionToken: strconv.FormatInt(created.Version, 10),
	}, nil
}

// Delete удаляет файл по идентификатору Drive. Токен версии Drive
// не проверяет, параметр игнорируется.
func (s *Store) Delete(ctx context.Context, id, versionToken string) error {
	svc, err := s.service(ctx)
	if err != nil {
		return err
	}

	if err := svc.Files.Delete(id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("удаление %s: %w", id, wrapAPIError(err))
	}

	s.logger.Info("Картинка удалена из Drive", slog.String("id", id))
	return nil
}

// findObject ищет служебный объект по имени внутри папки.
func (s *Store) findObject(ctx context.Context, svc *drive.Service, name string) (*drive.File, error) {
	query := fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false",
		s.folderID, strings.ReplaceAll(name, "'", `\'`))

	page, err := svc.Files.List().
		Context(ctx).
		Q(query).
		Fields("files(id, name, version)").
		PageSize(1).
		Do()
	if err != nil {
		return nil, wrapAPIError(err)
	}
	if len(page.Files) == 0 {
		return nil, store.ErrObjectNotFound
	}
	return page.Files[0], nil
}

// GetObject возвращает служебный объект (metadata.json).
// Токен версии — счётчик version из Drive.
func (s *Store) GetObject(ctx context.Context, name string) (*store.Object, error) {
	svc, err := s.service(ctx)
	if err != nil {
		return nil, err
	}

	file, err := s.findObject(ctx, svc, name)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Files.Get(file.Id).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", name, wrapAPIError(err))
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("чтение %s: %w", name, err)
	}

	return &store.Object{
		Content:      buf.Bytes(),
		VersionToken: strconv.FormatInt(file.Version, 10),
	}, nil
}

// PutObject записывает служебный объект. Drive API не поддерживает
// условную запись по версии, expectedToken принимается для симметрии
// с GitHub-бэкендом, но не проверяется. Возвращает новый токен.
func (s *Store) PutObject(ctx context.Context, name string, content []byte, expectedToken string) (string, error) {
	svc, err := s.service(ctx)
	if err != nil {
		return "", err
	}

	mimeType := "application/json"
	if ext := path.Ext(name); ext != ".json" {
		mimeType = "application/octet-stream"
	}

	existing, err := s.findObject(ctx, svc, name)
	switch {
	case err == store.ErrObjectNotFound:
		meta := &drive.File{
			Name:     name,
			Parents:  []string{s.folderID},
			MimeType: mimeType,
		}
		created, err := svc.Files.Create(meta).
			Context(ctx).
			Media(bytes.NewReader(content), googleapi.ContentType(mimeType)).
			Fields("id, version").
			Do()
		if err != nil {
			return "", fmt.Errorf("создание %s: %w", name, wrapAPIError(err))
		}
		return strconv.FormatInt(created.Version, 10), nil
	case err != nil:
		return "", fmt.Errorf("поиск %s: %w", name, err)
	}

	updated, err := svc.Files.Update(existing.Id, &drive.File{}).
		Context(ctx).
		Media(bytes.NewReader(content), googleapi.ContentType(mimeType)).
		Fields("id, version").
		Do()
	if err != nil {
		return "", fmt.Errorf("запись %s: %w", name, wrapAPIError(err))
	}

	return strconv.FormatInt(updated.Version, 10), nil
}
