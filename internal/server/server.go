// Пакет server — HTTP-сервер сервиса с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/gopinboard/internal/api/handlers"
	"github.com/bigkaa/gopinboard/internal/config"
)

// Handlers — набор HTTP-обработчиков сервиса.
type Handlers struct {
	Health *handlers.HealthHandler
	Auth   *handlers.AuthHandler
	Images *handlers.ImageHandler
	Hearts *handlers.HeartHandler
}

// Server — HTTP-сервер сервиса.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// globalMiddlewares применяются ко всем маршрутам (logging, metrics),
// authMiddlewares — только к маршрутам картинок и сердечек.
// /auth/check стоит вне защищённой группы: он сам проверяет токен и
// должен отвечать allowed=false, а не 403.
func New(cfg *config.Config, logger *slog.Logger, h Handlers,
	globalMiddlewares []func(http.Handler) http.Handler,
	authMiddlewares []func(http.Handler) http.Handler) *Server {
	router := chi.NewRouter()

	for _, mw := range globalMiddlewares {
		router.Use(mw)
	}

	// Публичные маршруты
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.GetMetrics)
	router.Post("/auth/check", h.Auth.Check)

	// Защищённые маршруты: аутентификация + политика доступа
	router.Group(func(r chi.Router) {
		for _, mw := range authMiddlewares {
			r.Use(mw)
		}

		r.Get("/images", h.Images.List)
		r.Post("/upload", h.Images.Upload)
		r.Delete("/images/{imageId}", h.Images.Delete)
		r.Get("/hearts/{imageId}", h.Hearts.Get)
		r.Post("/hearts/{imageId}", h.Hearts.Toggle)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Handler возвращает корневой HTTP-handler сервера (для тестов).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
