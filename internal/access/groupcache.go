// groupcache.go — кэш состава Google-группы с TTL и деградацией при сбоях.
//
// Состояния: Empty → Fresh → Stale (по истечении TTL). При обращении к
// устаревшему кэшу выполняется refresh; неудачный refresh оставляет старый
// состав (stale лучше, чем пустой) и никогда не поднимается к вызывающему
// как ошибка — проверка членства деградирует, а не падает.
package access

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FetchFunc — получение полного состава группы из внешнего каталога.
// Возвращает множество нормализованных email-адресов.
type FetchFunc func(ctx context.Context) (map[string]struct{}, error)

// GroupCache — процесс-локальный кэш состава группы.
// Часы и функция загрузки инъецируются, чтобы TTL и деградация
// тестировались без реального времени и сети.
type GroupCache struct {
	fetch  FetchFunc
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	members   map[string]struct{}
	fetchedAt time.Time
	populated bool
}

// NewGroupCache создаёт кэш состава группы.
// fetch == nil означает, что credentials каталога не настроены: кэш
// навсегда остаётся пустым и режим группы превращается в deny-all.
func NewGroupCache(fetch FetchFunc, ttl time.Duration, logger *slog.Logger) *GroupCache {
	return &GroupCache{
		fetch:  fetch,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(slog.String("component", "group_cache")),
	}
}

// NewGroupCacheWithClock создаёт кэш с указанными часами (для тестов).
func NewGroupCacheWithClock(fetch FetchFunc, ttl time.Duration, now func() time.Time, logger *slog.Logger) *GroupCache {
	gc := NewGroupCache(fetch, ttl, logger)
	gc.now = now
	return gc
}

// IsMember сообщает, входит ли адрес в группу.
// Пустой адрес всегда вне группы.
func (g *GroupCache) IsMember(ctx context.Context, email string) bool {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return false
	}

	if g.fetch == nil {
		// Операторская ошибка конфигурации: режим группы без credentials.
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.fresh() {
		g.refreshLocked(ctx)
	}

	_, ok := g.members[normalized]
	return ok
}

// fresh сообщает, актуален ли кэш. Непополненный кэш никогда не актуален:
// у состояния Empty нет TTL, каждый вызов пробует загрузку заново.
func (g *GroupCache) fresh() bool {
	return g.populated && g.now().Sub(g.fetchedAt) <= g.ttl
}

// refreshLocked обновляет состав группы. Вызывается под g.mu.
// При ошибке загрузки прежний состав сохраняется (stale предпочтительнее
// пустого); если кэш никогда не пополнялся — остаётся Empty.
func (g *GroupCache) refreshLocked(ctx context.Context) {
	members, err := g.fetch(ctx)
	if err != nil {
		if g.populated {
			g.logger.Warn("Обновление состава группы не удалось, используется устаревший кэш",
				slog.String("error", err.Error()),
				slog.Time("fetched_at", g.fetchedAt),
				slog.Int("members", len(g.members)),
			)
		} else {
			g.logger.Error("Первая загрузка состава группы не удалась, доступ запрещён",
				slog.String("error", err.Error()),
			)
		}
		return
	}

	g.members = members
	g.fetchedAt = g.now()
	g.populated = true

	g.logger.Debug("Состав группы обновлён",
		slog.Int("members", len(members)),
	)
}
