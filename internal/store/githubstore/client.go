// client.go — HTTP-клиент к GitHub contents API.
// Операции: ListDir, GetFile, PutFile (условная запись по blob SHA),
// DeleteFile. Устаревший SHA при записи/удалении поднимается как
// store.ErrVersionConflict — на нём построен протокол оптимистичной
// конкуренции синхронизатора метаданных.
package githubstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bigkaa/gopinboard/internal/store"
)

// DefaultBaseURL — базовый URL GitHub API.
const DefaultBaseURL = "https://api.github.com"

// acceptHeader — версия contents API.
const acceptHeader = "application/vnd.github.v3+json"

// maxErrorBody — предел тела ответа, сохраняемого в RemoteError.
const maxErrorBody = 2048

// Client — HTTP-клиент к GitHub contents API одного репозитория.
type Client struct {
	baseURL string // Базовый URL API (без trailing slash)
	repo    string // Репозиторий в формате owner/repo
	token   string // Personal access token

	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient создаёт клиент contents API.
// httpClient может быть nil — тогда используется клиент с таймаутом 30s.
func NewClient(repo, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    DefaultBaseURL,
		repo:       repo,
		token:      token,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "github_client")),
	}
}

// NewClientWithBaseURL создаёт клиент с указанным базовым URL (для тестов).
func NewClientWithBaseURL(baseURL, repo, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	c := NewClient(repo, token, httpClient, logger)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// DirEntry — элемент листинга директории contents API.
type DirEntry struct {
	Name string `json:"name"`
	SHA  string `json:"sha"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// FileContent — содержимое файла из contents API.
type FileContent struct {
	Name     string `json:"name"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Decode возвращает раскодированное содержимое файла.
// Contents API отдаёт base64 с переводами строк внутри.
func (f *FileContent) Decode() ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, f.Content)
	return base64.StdEncoding.DecodeString(clean)
}

// contentsURL возвращает URL contents endpoint для пути в репозитории.
func (c *Client) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/contents/%s", c.baseURL, c.repo, escapePath(path))
}

// escapePath экранирует сегменты пути, сохраняя разделители.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// do выполняет запрос к contents API с авторизацией.
func (c *Client) do(ctx context.Context, method, rawURL string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}

	req.Header.Set("Accept", acceptHeader)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// remoteError читает тело не-2xx ответа и формирует store.RemoteError.
func remoteError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &store.RemoteError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// ListDir возвращает содержимое директории репозитория на указанной ветке.
func (c *Client) ListDir(ctx context.Context, path, ref string) ([]DirEntry, error) {
	rawURL := c.contentsURL(path) + "?ref=" + url.QueryEscape(ref)

	resp, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("листинг %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, store.ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(resp)
	}

	var entries []DirEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("декодирование листинга %s: %w", path, err)
	}

	return entries, nil
}

// GetFile возвращает содержимое файла с текущим blob SHA.
// Отсутствующий файл — store.ErrObjectNotFound.
func (c *Client) GetFile(ctx context.Context, path, ref string) (*FileContent, error) {
	rawURL := c.contentsURL(path) + "?ref=" + url.QueryEscape(ref)

	resp, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, store.ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(resp)
	}

	var file FileContent
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("декодирование %s: %w", path, err)
	}

	return &file, nil
}

// putFileRequest — тело PUT contents endpoint.
type putFileRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

// putFileResponse — ответ PUT contents endpoint.
type putFileResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

// PutFile записывает файл условно: sha — blob SHA последнего чтения
// (пустой при создании нового файла). Возвращает новый blob SHA.
//
// Contents API сообщает об устаревшем SHA статусами 409 и 422 —
// оба поднимаются как store.ErrVersionConflict.
func (c *Client) PutFile(ctx context.Context, path, message string, content []byte, branch, sha string) (string, error) {
	req := putFileRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  branch,
		SHA:     sha,
	}

	resp, err := c.do(ctx, http.MethodPut, c.contentsURL(path), req)
	if err != nil {
		return "", fmt.Errorf("запись %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		// ok
	case http.StatusConflict, http.StatusUnprocessableEntity:
		c.logger.Debug("Условная запись отклонена: токен версии устарел",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return "", store.ErrVersionConflict
	default:
		return "", remoteError(resp)
	}

	var putResp putFileResponse
	if err := json.NewDecoder(resp.Body).Decode(&putResp); err != nil {
		return "", fmt.Errorf("декодирование ответа записи %s: %w", path, err)
	}

	return putResp.Content.SHA, nil
}

// deleteFileRequest — тело DELETE contents endpoint.
type deleteFileRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

// DeleteFile удаляет файл. sha — текущий blob SHA (обязателен).
func (c *Client) DeleteFile(ctx context.Context, path, message, sha, branch string) error {
	req := deleteFileRequest{
		Message: message,
		SHA:     sha,
		Branch:  branch,
	}

	resp, err := c.do(ctx, http.MethodDelete, c.contentsURL(path), req)
	if err != nil {
		return fmt.Errorf("удаление %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return store.ErrObjectNotFound
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return store.ErrVersionConflict
	default:
		return remoteError(resp)
	}
}
