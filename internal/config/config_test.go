package config

import (
	"log/slog"
	"testing"
	"time"
)

// setRequired задаёт минимальный набор обязательных переменных.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GOOGLE_CLIENT_ID", "client-id.apps.googleusercontent.com")
}

// TestLoad_Defaults проверяет значения по умолчанию.
func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("ожидался порт 8080, получен %d", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("ожидался уровень info, получен %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("ожидался формат json, получен %s", cfg.LogFormat)
	}
	if cfg.Backend != BackendNone {
		t.Errorf("без GITHUB_REPO и DRIVE_FOLDER_ID ожидался backend none, получен %s", cfg.Backend)
	}
	if cfg.MaxUploadSize != 20*1024*1024 {
		t.Errorf("ожидался предел 20 MB, получен %d", cfg.MaxUploadSize)
	}
	if cfg.TokenCacheTTL != 5*time.Minute {
		t.Errorf("ожидался TTL кэша токенов 5m, получен %v", cfg.TokenCacheTTL)
	}
	if cfg.GroupCacheTTL != 5*time.Minute {
		t.Errorf("ожидался TTL кэша группы 5m, получен %v", cfg.GroupCacheTTL)
	}
	if cfg.ReconcileInterval != 6*time.Hour {
		t.Errorf("ожидался интервал сверки 6h, получен %v", cfg.ReconcileInterval)
	}
	if cfg.GoogleJWKSURL != GoogleJWKSURL {
		t.Errorf("неожиданный JWKS URL: %s", cfg.GoogleJWKSURL)
	}
	if cfg.AccessPolicyConfigured() {
		t.Error("политика доступа не должна считаться настроенной")
	}
}

// TestLoad_MissingClientID проверяет обязательность GOOGLE_CLIENT_ID.
func TestLoad_MissingClientID(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "")

	if _, err := Load(); err == nil {
		t.Error("ожидалась ошибка без GOOGLE_CLIENT_ID")
	}
}

// TestLoad_GitHubBackend проверяет выбор GitHub backend.
func TestLoad_GitHubBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("GITHUB_REPO", "owner/pics")
	t.Setenv("GITHUB_TOKEN", "token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Backend != BackendGitHub {
		t.Errorf("ожидался backend github, получен %s", cfg.Backend)
	}
	if cfg.GitHubBranch != "main" {
		t.Errorf("ожидалась ветка main, получена %s", cfg.GitHubBranch)
	}
	if cfg.GitHubImagesPath != "images" {
		t.Errorf("ожидался путь images, получен %s", cfg.GitHubImagesPath)
	}
}

// TestLoad_GitHubBackendInvalidRepo проверяет валидацию формата GITHUB_REPO.
func TestLoad_GitHubBackendInvalidRepo(t *testing.T) {
	setRequired(t)
	t.Setenv("GITHUB_REPO", "no-slash")

	if _, err := Load(); err == nil {
		t.Error("ожидалась ошибка для GITHUB_REPO без owner/")
	}
}

// TestLoad_GitHubOverDrive проверяет приоритет GitHub над Drive.
func TestLoad_GitHubOverDrive(t *testing.T) {
	setRequired(t)
	t.Setenv("GITHUB_REPO", "owner/pics")
	t.Setenv("DRIVE_FOLDER_ID", "folder-123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendGitHub {
		t.Errorf("GITHUB_REPO должен иметь приоритет, получен backend %s", cfg.Backend)
	}
}

// TestLoad_DriveBackend проверяет выбор Drive backend.
func TestLoad_DriveBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("DRIVE_FOLDER_ID", "folder-123")
	t.Setenv("GOOGLE_ADMIN_EMAIL", "admin@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Backend != BackendDrive {
		t.Errorf("ожидался backend drive, получен %s", cfg.Backend)
	}
	// DRIVE_IMPERSONATE_EMAIL по умолчанию берётся из GOOGLE_ADMIN_EMAIL
	if cfg.DriveImpersonateEmail != "admin@example.com" {
		t.Errorf("неожиданный impersonate email: %s", cfg.DriveImpersonateEmail)
	}
}

// TestLoad_AllowedEmails проверяет разбор списка адресов.
func TestLoad_AllowedEmails(t *testing.T) {
	setRequired(t)
	t.Setenv("ALLOWED_EMAILS", "Alice@Example.com, bob@example.com  charlie@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"alice@example.com", "bob@example.com", "charlie@example.com"}
	if len(cfg.AllowedEmails) != len(want) {
		t.Fatalf("ожидались %d адреса, получено %d: %v", len(want), len(cfg.AllowedEmails), cfg.AllowedEmails)
	}
	for i, w := range want {
		if cfg.AllowedEmails[i] != w {
			t.Errorf("адрес %d: ожидался %s, получен %s", i, w, cfg.AllowedEmails[i])
		}
	}
	if !cfg.AccessPolicyConfigured() {
		t.Error("политика с allow-list должна считаться настроенной")
	}
}

// TestLoad_AllowedDomainNormalized проверяет нормализацию домена.
func TestLoad_AllowedDomainNormalized(t *testing.T) {
	setRequired(t)
	t.Setenv("ALLOWED_DOMAIN", " @Example.COM ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AllowedDomain != "example.com" {
		t.Errorf("ожидался example.com, получено %q", cfg.AllowedDomain)
	}
}

// TestLoad_InvalidPort проверяет валидацию порта.
func TestLoad_InvalidPort(t *testing.T) {
	setRequired(t)

	for _, port := range []string{"0", "70000", "abc"} {
		t.Setenv("PB_PORT", port)
		if _, err := Load(); err == nil {
			t.Errorf("PB_PORT=%s: ожидалась ошибка", port)
		}
	}
}

// TestLoad_InvalidLogLevel проверяет валидацию уровня логирования.
func TestLoad_InvalidLogLevel(t *testing.T) {
	setRequired(t)
	t.Setenv("PB_LOG_LEVEL", "verbose")

	if _, err := Load(); err == nil {
		t.Error("ожидалась ошибка для недопустимого уровня логирования")
	}
}

// TestLoad_GroupCredentials проверяет признак наличия credentials каталога.
func TestLoad_GroupCredentials(t *testing.T) {
	setRequired(t)
	t.Setenv("ALLOWED_GOOGLE_GROUP", "team@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GroupCredentialsConfigured() {
		t.Error("без GOOGLE_ADMIN_EMAIL/GOOGLE_SERVICE_ACCOUNT_KEY credentials не настроены")
	}

	t.Setenv("GOOGLE_ADMIN_EMAIL", "admin@example.com")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_KEY", "eyJ0eXBlIjoic2VydmljZV9hY2NvdW50In0=")

	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.GroupCredentialsConfigured() {
		t.Error("credentials каталога должны считаться настроенными")
	}
}

// TestLoad_DurationOverride проверяет разбор длительностей.
func TestLoad_DurationOverride(t *testing.T) {
	setRequired(t)
	t.Setenv("PB_RECONCILE_INTERVAL", "0s")
	t.Setenv("PB_TOKEN_CACHE_TTL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ReconcileInterval != 0 {
		t.Errorf("ожидался нулевой интервал сверки, получен %v", cfg.ReconcileInterval)
	}
	if cfg.TokenCacheTTL != 30*time.Second {
		t.Errorf("ожидался TTL 30s, получен %v", cfg.TokenCacheTTL)
	}
}
