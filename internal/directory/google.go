// Пакет directory — загрузка состава Google-группы через Admin Directory API.
//
// Авторизация: сервисный аккаунт с domain-wide delegation, impersonation
// администратора Workspace (Subject). Клиент Directory API конструируется
// лениво при первом обращении: создание включает OAuth2 JWT flow и не
// нужно процессам, где режим группы не используется.
package directory

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2/google"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/option"

	"github.com/bigkaa/gopinboard/internal/access"
)

// GroupFetcher — загрузчик состава Google-группы.
type GroupFetcher struct {
	groupKey   string
	adminEmail string
	keyJSON    []byte
	logger     *slog.Logger

	// Ленивая инициализация клиента Directory API
	initOnce sync.Once
	svc      *admin.Service
	initErr  error
}

// NewGroupFetcher создаёт загрузчик состава группы.
// serviceAccountKeyB64 — ключ сервисного аккаунта (base64 от JSON);
// adminEmail — администратор для domain-wide delegation;
// groupKey — email или ID группы.
func NewGroupFetcher(serviceAccountKeyB64, adminEmail, groupKey string, logger *slog.Logger) (*GroupFetcher, error) {
	keyJSON, err := base64.StdEncoding.DecodeString(serviceAccountKeyB64)
	if err != nil {
		return nil, fmt.Errorf("декодирование GOOGLE_SERVICE_ACCOUNT_KEY: %w", err)
	}

	return &GroupFetcher{
		groupKey:   groupKey,
		adminEmail: adminEmail,
		keyJSON:    keyJSON,
		logger:     logger.With(slog.String("component", "directory")),
	}, nil
}

// service возвращает клиент Directory API, создавая его при первом вызове.
func (f *GroupFetcher) service(ctx context.Context) (*admin.Service, error) {
	f.initOnce.Do(func() {
		jwtCfg, err := google.JWTConfigFromJSON(f.keyJSON, admin.AdminDirectoryGroupMemberReadonlyScope)
		if err != nil {
			f.initErr = fmt.Errorf("разбор ключа сервисного аккаунта: %w", err)
			return
		}
		jwtCfg.Subject = f.adminEmail

		svc, err := admin.NewService(ctx, option.WithHTTPClient(jwtCfg.Client(context.Background())))
		if err != nil {
			f.initErr = fmt.Errorf("создание клиента Directory API: %w", err)
			return
		}
		f.svc = svc

		f.logger.Info("Клиент Directory API создан",
			slog.String("group", f.groupKey),
			slog.String("admin", f.adminEmail),
		)
	})

	return f.svc, f.initErr
}

// Fetch возвращает полный состав группы (нормализованные email-адреса).
// Следует nextPageToken до исчерпания списка.
// Реализует access.FetchFunc.
func (f *GroupFetcher) Fetch(ctx context.Context) (map[string]struct{}, error) {
	svc, err := f.service(ctx)
	if err != nil {
		return nil, err
	}

	members := make(map[string]struct{})
	pageToken := ""
	for {
		call := svc.Members.List(f.groupKey).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("members.list для группы %s: %w", f.groupKey, err)
		}

		for _, m := range resp.Members {
			if m.Email != "" {
				members[access.NormalizeEmail(m.Email)] = struct{}{}
			}
		}

		if resp.NextPageToken == "" {
			return members, nil
		}
		pageToken = resp.NextPageToken
	}
}
