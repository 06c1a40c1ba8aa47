// Точка входа Pinboard — сервиса обмена картинками с доступом
// по Google sign-in.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/bigkaa/gopinboard/internal/access"
	"github.com/bigkaa/gopinboard/internal/api/handlers"
	"github.com/bigkaa/gopinboard/internal/api/middleware"
	"github.com/bigkaa/gopinboard/internal/config"
	"github.com/bigkaa/gopinboard/internal/directory"
	"github.com/bigkaa/gopinboard/internal/metadata"
	"github.com/bigkaa/gopinboard/internal/server"
	"github.com/bigkaa/gopinboard/internal/service"
	"github.com/bigkaa/gopinboard/internal/store"
	"github.com/bigkaa/gopinboard/internal/store/drivestore"
	"github.com/bigkaa/gopinboard/internal/store/githubstore"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Pinboard запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("backend", string(cfg.Backend)),
	)

	if !cfg.AccessPolicyConfigured() {
		logger.Warn("Ни одно правило доступа не настроено: все пользователи будут отклонены")
	}

	// --- Инициализация компонентов ---

	// 1. Политика доступа
	var groupChecker access.GroupChecker
	if cfg.AllowedGroup != "" {
		if cfg.GroupCredentialsConfigured() {
			fetcher, ferr := directory.NewGroupFetcher(
				cfg.GoogleServiceAccountKey, cfg.GoogleAdminEmail, cfg.AllowedGroup, logger)
			if ferr != nil {
				logger.Error("Ошибка инициализации Admin Directory клиента",
					slog.String("error", ferr.Error()),
				)
				os.Exit(1)
			}
			groupChecker = access.NewGroupCache(fetcher.Fetch, cfg.GroupCacheTTL, logger)
		} else {
			// Группа задана, но credentials нет — режим группы отклоняет всех.
			logger.Warn("ALLOWED_GOOGLE_GROUP задана без GOOGLE_ADMIN_EMAIL/GOOGLE_SERVICE_ACCOUNT_KEY")
			groupChecker = access.NewGroupCache(nil, cfg.GroupCacheTTL, logger)
		}
	}
	policy := access.NewPolicy(cfg.AllowedEmails, cfg.AllowedDomain, groupChecker)

	// 2. Хранилище контента
	var contentStore store.ContentStore
	var storeHealthURL, storeHealthName string
	switch cfg.Backend {
	case config.BackendGitHub:
		client := githubstore.NewClient(cfg.GitHubRepo, cfg.GitHubToken, nil, logger)
		contentStore = githubstore.New(client, cfg.GitHubRepo, cfg.GitHubBranch, cfg.GitHubImagesPath, logger)
		storeHealthURL, storeHealthName = githubstore.DefaultBaseURL, "github"
	case config.BackendDrive:
		driveStore, derr := drivestore.New(cfg.DriveFolderID, cfg.DriveImpersonateEmail,
			cfg.GoogleServiceAccountKey, logger)
		if derr != nil {
			logger.Error("Ошибка инициализации Drive-хранилища", slog.String("error", derr.Error()))
			os.Exit(1)
		}
		contentStore = driveStore
		storeHealthURL, storeHealthName = "https://www.googleapis.com", "google-drive"
	default:
		logger.Warn("Бэкенд хранилища не настроен: операции с картинками вернут NOT_CONFIGURED")
		contentStore = store.NotConfiguredStore{}
	}

	// 3. Синхронизатор метаданных
	metaSync := metadata.NewSynchronizer(contentStore, cfg.MetadataMaxAttempts, logger)

	// 4. Сервисы
	imageSvc := service.NewImageService(contentStore, metaSync, logger)
	uploadSvc := service.NewUploadService(contentStore, metaSync,
		cfg.MaxUploadSize, cfg.UploadQueueSize, cfg.MetadataRetryDelay, logger)
	heartSvc := service.NewHeartService(logger)

	// 5. Фоновые процессы
	ctx := context.Background()

	uploadSvc.Start(ctx)

	// 5.1 Сверка осиротевших метаданных
	reconcileSvc := service.NewReconcileService(contentStore, metaSync, cfg.ReconcileInterval, logger)
	if cfg.Backend != config.BackendNone {
		reconcileSvc.Start(ctx)
	}

	// 5.2 topologymetrics — мониторинг зависимостей
	if storeHealthURL != "" {
		dephealthSvc, dephealthErr := service.NewDephealthService(
			"pinboard",
			cfg.DephealthGroup,
			storeHealthName,
			storeHealthURL,
			cfg.GoogleJWKSURL,
			cfg.DephealthCheckInterval,
			cfg.DephealthIsEntry,
			logger,
		)
		if dephealthErr != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", dephealthErr.Error()),
			)
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		}
	}

	// 6. Аутентификация и авторизация
	googleAuth := middleware.NewGoogleAuth(cfg.GoogleJWKSURL, cfg.GoogleClientID,
		cfg.TokenCacheTTL, cfg.JWTLeeway, logger)

	// 7. Handlers
	h := server.Handlers{
		Health: handlers.NewHealthHandler(cfg),
		Auth:   handlers.NewAuthHandler(googleAuth, policy, logger),
		Images: handlers.NewImageHandler(imageSvc, uploadSvc, heartSvc, cfg.MaxUploadSize, logger),
		Hearts: handlers.NewHeartHandler(heartSvc, logger),
	}

	// 8. HTTP-сервер
	globalMiddlewares := []func(http.Handler) http.Handler{
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
	}
	authMiddlewares := []func(http.Handler) http.Handler{
		googleAuth.Middleware(),
		middleware.RequireAccess(policy),
	}
	srv := server.New(cfg, logger, h, globalMiddlewares, authMiddlewares)

	// 9. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	reconcileSvc.Stop()
	logger.Info("Pinboard остановлен")
}
