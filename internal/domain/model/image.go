// Пакет model — доменные модели Pinboard.
package model

// ImageRecord — запись об изображении в удалённом хранилище.
// ID совпадает с именем файла в хранилище и уникален в его пределах
// (имя дезинфицируется и снабжается timestamp-суффиксом при загрузке).
type ImageRecord struct {
	// ID — имя файла в хранилище (уникальный идентификатор)
	ID string `json:"id"`
	// Name — отображаемое имя файла
	Name string `json:"name"`
	// URL — прямая ссылка на изображение
	URL string `json:"url"`
	// Thumbnail — ссылка на миниатюру (только Drive backend)
	Thumbnail string `json:"thumbnail,omitempty"`
	// MimeType — MIME-тип изображения, если известен
	MimeType string `json:"mimeType,omitempty"`
	// CreatedTime — время создания по данным хранилища (только Drive backend)
	CreatedTime string `json:"createdTime,omitempty"`
	// UploadedBy — email загрузившего пользователя (из metadata.json)
	UploadedBy string `json:"uploadedBy,omitempty"`
	// UploadedAt — дата загрузки, ISO с точностью до дня (из metadata.json)
	UploadedAt string `json:"uploadedAt,omitempty"`
	// Description — описание изображения, до 256 символов (из metadata.json)
	Description string `json:"description,omitempty"`
	// VersionToken — непрозрачный токен версии (blob SHA в GitHub).
	// Обязателен для удаления файла из хранилища.
	VersionToken string `json:"versionToken,omitempty"`
}

// Identity — верифицированная личность пользователя из Google ID token.
// Неизменяема; живёт в пределах одного запроса.
type Identity struct {
	// Subject — стабильный идентификатор пользователя Google (sub)
	Subject string `json:"sub"`
	// Email — адрес пользователя, ключ авторизации
	Email string `json:"email"`
	// Name — отображаемое имя (опционально)
	Name string `json:"name,omitempty"`
	// Picture — URL аватара (опционально)
	Picture string `json:"picture,omitempty"`
}

// HeartState — состояние счётчика сердечек для изображения.
type HeartState struct {
	// Count — количество пользователей, отметивших изображение
	Count int `json:"count"`
	// HasHearted — отметил ли изображение текущий пользователь
	HasHearted bool `json:"hasHearted"`
}
