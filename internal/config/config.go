// Пакет config — загрузка и валидация конфигурации Pinboard
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// GoogleJWKSURL — endpoint публичных ключей Google для проверки ID token.
const GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// Backend — тип хранилища изображений.
type Backend string

const (
	// BackendGitHub — изображения хранятся в репозитории GitHub.
	BackendGitHub Backend = "github"
	// BackendDrive — изображения хранятся в папке Google Drive.
	BackendDrive Backend = "drive"
	// BackendNone — хранилище не сконфигурировано (операции вернут NOT_CONFIGURED).
	BackendNone Backend = "none"
)

// Config содержит все параметры конфигурации Pinboard.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Таймаут чтения запроса
	HTTPReadTimeout time.Duration
	// Таймаут записи ответа
	HTTPWriteTimeout time.Duration
	// Таймаут простоя keep-alive соединения
	HTTPIdleTimeout time.Duration

	// --- Аутентификация ---

	// OAuth Client ID приложения; audience проверяемых ID token (обязательный)
	GoogleClientID string
	// URL JWKS endpoint Google (переопределяется в тестах)
	GoogleJWKSURL string
	// TTL кэша верифицированных токенов
	TokenCacheTTL time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Политика доступа (приоритет: allow-list → домен → группа → deny) ---

	// Явный allow-list email-адресов (ALLOWED_EMAILS, через запятую/пробелы)
	AllowedEmails []string
	// Домен, чьи пользователи допущены (ALLOWED_DOMAIN, без ведущего @)
	AllowedDomain string
	// Google-группа, чьи участники допущены (ALLOWED_GOOGLE_GROUP)
	AllowedGroup string
	// Email администратора для domain-wide delegation (GOOGLE_ADMIN_EMAIL)
	GoogleAdminEmail string
	// Ключ сервисного аккаунта, base64 от JSON (GOOGLE_SERVICE_ACCOUNT_KEY)
	GoogleServiceAccountKey string
	// TTL кэша состава группы
	GroupCacheTTL time.Duration

	// --- Хранилище изображений ---

	// Выбранный backend: github, drive или none
	Backend Backend
	// Репозиторий GitHub в формате owner/repo (GITHUB_REPO)
	GitHubRepo string
	// Ветка репозитория (GITHUB_BRANCH)
	GitHubBranch string
	// Токен доступа к GitHub API (GITHUB_TOKEN)
	GitHubToken string
	// Путь к директории изображений в репозитории (GITHUB_IMAGES_PATH)
	GitHubImagesPath string
	// ID папки Google Drive (DRIVE_FOLDER_ID)
	DriveFolderID string
	// Пользователь для impersonation при работе с Drive (DRIVE_IMPERSONATE_EMAIL)
	DriveImpersonateEmail string

	// --- Загрузка и синхронизация метаданных ---

	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64
	// Ёмкость очереди загрузок
	UploadQueueSize int
	// Максимум попыток условной записи metadata.json при конфликтах
	MetadataMaxAttempts int
	// Задержка перед единственным дополнительным retry upsert в конвейере загрузки
	MetadataRetryDelay time.Duration
	// Интервал фоновой чистки осиротевших записей метаданных (0 — выключено)
	ReconcileInterval time.Duration

	// --- topologymetrics ---

	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics (PB_DEPHEALTH_GROUP)
	DephealthGroup string
	// Пометка входной точки графа зависимостей (DEPHEALTH_ISENTRY)
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// PB_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("PB_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("PB_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("PB_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// PB_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PB_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PB_LOG_LEVEL: %w", err)
	}

	// PB_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("PB_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PB_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// PB_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("PB_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PB_SHUTDOWN_TIMEOUT: %w", err)
	}

	// PB_HTTP_READ_TIMEOUT / PB_HTTP_WRITE_TIMEOUT / PB_HTTP_IDLE_TIMEOUT
	cfg.HTTPReadTimeout, err = getEnvDuration("PB_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PB_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("PB_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PB_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("PB_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PB_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// GOOGLE_CLIENT_ID — обязательный: без него невозможна проверка ни одного токена
	cfg.GoogleClientID, err = getEnvRequired("GOOGLE_CLIENT_ID")
	if err != nil {
		return nil, err
	}

	// PB_GOOGLE_JWKS_URL — переопределение JWKS endpoint (для тестов)
	cfg.GoogleJWKSURL = getEnvDefault("PB_GOOGLE_JWKS_URL", GoogleJWKSURL)

	// PB_TOKEN_CACHE_TTL — TTL кэша верифицированных токенов (по умолчанию 5m)
	cfg.TokenCacheTTL, err = getEnvDuration("PB_TOKEN_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PB_TOKEN_CACHE_TTL: %w", err)
	}

	// PB_JWT_LEEWAY — допустимое отклонение времени при проверке JWT (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("PB_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PB_JWT_LEEWAY: %w", err)
	}

	// ALLOWED_EMAILS — явный allow-list (разделители: запятые и пробелы)
	cfg.AllowedEmails = splitList(os.Getenv("ALLOWED_EMAILS"))

	// ALLOWED_DOMAIN — домен допущенных пользователей (нормализуется)
	cfg.AllowedDomain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(os.Getenv("ALLOWED_DOMAIN"))), "@")

	// ALLOWED_GOOGLE_GROUP + credentials — режим группы
	cfg.AllowedGroup = strings.TrimSpace(os.Getenv("ALLOWED_GOOGLE_GROUP"))
	cfg.GoogleAdminEmail = strings.TrimSpace(os.Getenv("GOOGLE_ADMIN_EMAIL"))
	cfg.GoogleServiceAccountKey = strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_KEY"))

	// PB_GROUP_CACHE_TTL — TTL кэша состава группы (по умолчанию 5m)
	cfg.GroupCacheTTL, err = getEnvDuration("PB_GROUP_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PB_GROUP_CACHE_TTL: %w", err)
	}

	// Выбор backend: GITHUB_REPO имеет приоритет над DRIVE_FOLDER_ID
	cfg.GitHubRepo = strings.TrimSpace(os.Getenv("GITHUB_REPO"))
	cfg.GitHubBranch = getEnvDefault("GITHUB_BRANCH", "main")
	cfg.GitHubToken = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	cfg.GitHubImagesPath = getEnvDefault("GITHUB_IMAGES_PATH", "images")
	cfg.DriveFolderID = strings.TrimSpace(os.Getenv("DRIVE_FOLDER_ID"))
	cfg.DriveImpersonateEmail = getEnvDefault("DRIVE_IMPERSONATE_EMAIL", cfg.GoogleAdminEmail)

	switch {
	case cfg.GitHubRepo != "":
		if !strings.Contains(cfg.GitHubRepo, "/") {
			return nil, fmt.Errorf("GITHUB_REPO: ожидается формат owner/repo, получено %q", cfg.GitHubRepo)
		}
		cfg.Backend = BackendGitHub
	case cfg.DriveFolderID != "":
		cfg.Backend = BackendDrive
	default:
		cfg.Backend = BackendNone
	}

	// PB_MAX_UPLOAD_SIZE — максимальный размер файла (по умолчанию 20 MB)
	maxUploadSize, err := getEnvInt64("PB_MAX_UPLOAD_SIZE", 20*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("PB_MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUploadSize <= 0 {
		return nil, fmt.Errorf("PB_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}
	cfg.MaxUploadSize = maxUploadSize

	// PB_UPLOAD_QUEUE — ёмкость очереди загрузок (по умолчанию 64)
	queueSize, err := getEnvInt("PB_UPLOAD_QUEUE", 64)
	if err != nil {
		return nil, fmt.Errorf("PB_UPLOAD_QUEUE: %w", err)
	}
	if queueSize <= 0 {
		return nil, fmt.Errorf("PB_UPLOAD_QUEUE: значение должно быть положительным")
	}
	cfg.UploadQueueSize = queueSize

	// PB_METADATA_MAX_ATTEMPTS — лимит попыток условной записи (по умолчанию 4)
	attempts, err := getEnvInt("PB_METADATA_MAX_ATTEMPTS", 4)
	if err != nil {
		return nil, fmt.Errorf("PB_METADATA_MAX_ATTEMPTS: %w", err)
	}
	if attempts < 1 {
		return nil, fmt.Errorf("PB_METADATA_MAX_ATTEMPTS: значение должно быть >= 1")
	}
	cfg.MetadataMaxAttempts = attempts

	// PB_METADATA_RETRY_DELAY — задержка дополнительного retry в конвейере (по умолчанию 2s)
	cfg.MetadataRetryDelay, err = getEnvDuration("PB_METADATA_RETRY_DELAY", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PB_METADATA_RETRY_DELAY: %w", err)
	}

	// PB_RECONCILE_INTERVAL — интервал чистки осиротевших метаданных (по умолчанию 6h, 0 выключает)
	cfg.ReconcileInterval, err = getEnvDuration("PB_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PB_RECONCILE_INTERVAL: %w", err)
	}

	// PB_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("PB_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PB_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// PB_DEPHEALTH_GROUP — имя группы в метриках topologymetrics (по умолчанию "pinboard")
	cfg.DephealthGroup = getEnvDefault("PB_DEPHEALTH_GROUP", "pinboard")

	// DEPHEALTH_ISENTRY — пометка входной точки графа зависимостей
	cfg.DephealthIsEntry = strings.EqualFold(getEnvDefault("DEPHEALTH_ISENTRY", ""), "yes")

	return cfg, nil
}

// AccessPolicyConfigured сообщает, задан ли хотя бы один режим политики доступа.
// При false сервис работает в режиме deny-all (fail closed).
func (c *Config) AccessPolicyConfigured() bool {
	return len(c.AllowedEmails) > 0 || c.AllowedDomain != "" || c.AllowedGroup != ""
}

// GroupCredentialsConfigured сообщает, заданы ли credentials для
// обращения к Admin Directory API (режим группы).
func (c *Config) GroupCredentialsConfigured() bool {
	return c.GoogleAdminEmail != "" && c.GoogleServiceAccountKey != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// splitList разбивает список адресов по запятым и пробельным символам,
// нормализуя каждый элемент (trim + lowercase).
func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			result = append(result, f)
		}
	}
	return result
}

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 5m, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
