// health.go — обработчики health endpoints сервиса.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (конфигурация хранилища и политики доступа)
// /metrics — Prometheus метрики
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/gopinboard/internal/config"
)

// serviceName — имя сервиса в ответах health endpoints.
const serviceName = "pinboard"

// Константы статусов health check.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	cfg         *config.Config
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(cfg *config.Config) *HealthHandler {
	return &HealthHandler{
		cfg:         cfg,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		ContentStore healthCheckResult `json:"content_store"`
		AccessPolicy healthCheckResult `json:"access_policy"`
	} `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}

	writeJSON(w, http.StatusOK, resp)
}

// HealthReady — readiness probe. Проверяет конфигурацию.
// Хранилище без бэкенда — degraded, не fail: сервис отвечает, но все
// операции с картинками возвращают NOT_CONFIGURED.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}

	switch h.cfg.Backend {
	case config.BackendGitHub:
		resp.Checks.ContentStore = healthCheckResult{Status: statusOK, Message: "github"}
	case config.BackendDrive:
		resp.Checks.ContentStore = healthCheckResult{Status: statusOK, Message: "google-drive"}
	default:
		resp.Checks.ContentStore = healthCheckResult{Status: statusDegraded, Message: "бэкенд хранилища не настроен"}
	}

	if h.cfg.AccessPolicyConfigured() {
		resp.Checks.AccessPolicy = healthCheckResult{Status: statusOK}
	} else {
		// Политика без единого правила отклоняет всех.
		resp.Checks.AccessPolicy = healthCheckResult{Status: statusDegraded, Message: "ни одно правило доступа не настроено"}
	}

	resp.Status = overallStatus(resp.Checks.ContentStore.Status, resp.Checks.AccessPolicy.Status)

	status := http.StatusOK
	if resp.Status == statusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
