// reconcile.go — фоновая сверка metadata.json с хранилищем контента.
//
// Сверка находит осиротевшие записи метаданных: ключи metadata.json,
// для которых блоба в хранилище больше нет. Такие записи появляются,
// когда удаление блоба прошло, а последующая чистка метаданных — нет.
//
// Запускается как горутина с периодическим тикером (PB_RECONCILE_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gopinboard/internal/metadata"
	"github.com/bigkaa/gopinboard/internal/store"
)

// Prometheus метрики сверки
var (
	// reconcileRunsTotal — количество запусков сверки.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinboard_reconcile_runs_total",
		Help: "Общее количество запусков сверки метаданных",
	})

	// reconcileOrphansTotal — количество удалённых осиротевших записей.
	reconcileOrphansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinboard_reconcile_orphans_total",
		Help: "Общее количество осиротевших записей метаданных, удалённых сверкой",
	})

	// reconcileDurationSeconds — длительность выполнения сверки.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pinboard_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// ReconcileService — сервис фоновой сверки метаданных.
type ReconcileService struct {
	store    store.ContentStore
	meta     *metadata.Synchronizer
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(st store.ContentStore, meta *metadata.Synchronizer,
	interval time.Duration, logger *slog.Logger) *ReconcileService {
	return &ReconcileService{
		store:    st,
		meta:     meta,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
// Нулевой интервал отключает сверку.
func (rs *ReconcileService) Start(ctx context.Context) {
	if rs.interval <= 0 {
		rs.logger.Info("Сверка метаданных отключена")
		return
	}

	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Сверка метаданных запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновой процесс сверки.
func (rs *ReconcileService) Stop() {
	if rs.cancel == nil {
		return
	}
	rs.cancel()
	rs.logger.Info("Сверка метаданных остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл сверки.
// Потокобезопасен: если сверка уже выполняется, возвращает 0, true.
//
// Возвращает:
//   - int — количество удалённых осиротевших записей
//   - bool — true если сверка уже выполнялась (пропуск)
func (rs *ReconcileService) RunOnce(ctx context.Context) (int, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return 0, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	start := time.Now()
	rs.logger.Info("Сверка метаданных начата")

	records, err := rs.store.List(ctx)
	if err != nil {
		rs.logger.Error("Сверка прервана: листинг хранилища не удался",
			slog.String("error", err.Error()),
		)
		return 0, false
	}

	valid := make(map[string]struct{}, len(records))
	for _, r := range records {
		valid[r.ID] = struct{}{}
	}

	removed, err := rs.meta.Prune(ctx, valid)
	if err != nil {
		rs.logger.Error("Сверка прервана: чистка метаданных не удалась",
			slog.String("error", err.Error()),
		)
		return 0, false
	}

	duration := time.Since(start)
	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	if removed > 0 {
		reconcileOrphansTotal.Add(float64(removed))
	}

	rs.logger.Info("Сверка метаданных завершена",
		slog.Int("images", len(records)),
		slog.Int("orphans_removed", removed),
		slog.Duration("duration", duration),
	)

	return removed, false
}
