// Пакет store — абстракция удалённого хранилища изображений.
//
// Два взаимозаменяемых backend'а (GitHub contents API и Google Drive)
// выбираются конфигурацией при старте. Ядро (metadata.Synchronizer,
// сервисы) зависит только от интерфейса ContentStore.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/gopinboard/internal/domain/model"
)

// Сигнальные ошибки хранилища.
var (
	// ErrNotConfigured — хранилище не сконфигурировано (нет credentials).
	ErrNotConfigured = errors.New("хранилище изображений не сконфигурировано")
	// ErrObjectNotFound — запрошенный объект отсутствует в хранилище.
	ErrObjectNotFound = errors.New("объект не найден в хранилище")
	// ErrVersionConflict — условная запись отклонена: токен версии устарел.
	ErrVersionConflict = errors.New("конфликт версий при записи объекта")
)

// RemoteError — ошибка внешнего API хранилища (не-2xx ответ).
// Сохраняет статус и тело ответа для диагностики.
type RemoteError struct {
	// StatusCode — HTTP-статус ответа внешнего API
	StatusCode int
	// Body — тело ответа (усечённое)
	Body string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("внешний API вернул статус %d: %s", e.StatusCode, e.Body)
}

// Object — версионированный объект хранилища (metadata.json).
type Object struct {
	// Content — содержимое объекта
	Content []byte
	// VersionToken — непрозрачный токен текущей версии (blob SHA, ревизия)
	VersionToken string
}

// ContentStore — хранилище изображений и версионированных объектов.
type ContentStore interface {
	// List возвращает изображения хранилища (только файлы-изображения,
	// служебные объекты исключаются).
	List(ctx context.Context) ([]model.ImageRecord, error)

	// Upload сохраняет новый blob под указанным именем.
	// Имя должно быть уникальным — за уникальность отвечает вызывающий.
	Upload(ctx context.Context, filename string, data []byte, mimeType string) (*model.ImageRecord, error)

	// Delete удаляет blob. versionToken обязателен для backend'ов
	// с условным удалением (GitHub).
	Delete(ctx context.Context, id, versionToken string) error

	// GetObject читает версионированный объект по имени.
	// Отсутствующий объект — ErrObjectNotFound.
	GetObject(ctx context.Context, name string) (*Object, error)

	// PutObject записывает объект условно: expectedToken — токен версии,
	// наблюдавшийся последним чтением (пустой для создания нового объекта).
	// Устаревший токен — ErrVersionConflict. Возвращает новый токен.
	PutObject(ctx context.Context, name string, content []byte, expectedToken string) (string, error)
}

// NotConfiguredStore — заглушка для незаведённого хранилища: каждая
// операция возвращает ErrNotConfigured. Явная ошибка вместо тихого
// успеха — требование политики обработки ошибок.
type NotConfiguredStore struct{}

func (NotConfiguredStore) List(context.Context) ([]model.ImageRecord, error) {
	return nil, ErrNotConfigured
}

func (NotConfiguredStore) Upload(context.Context, string, []byte, string) (*model.ImageRecord, error) {
	return nil, ErrNotConfigured
}

func (NotConfiguredStore) Delete(context.Context, string, string) error {
	return ErrNotConfigured
}

func (NotConfiguredStore) GetObject(context.Context, string) (*Object, error) {
	return nil, ErrNotConfigured
}

func (NotConfiguredStore) PutObject(context.Context, string, []byte, string) (string, error) {
	return "", ErrNotConfigured
}

// Проверка на этапе компиляции
var _ ContentStore = NotConfiguredStore{}
