// sweeper.go: Lifecycle Sweeper: периодическая очистка брошенных загрузок.
//
// Sweeper выполняет две задачи:
//  1. Pending-записи старше PendingTimeout: объект удаляется, запись → Timeout
//  2. Uploaded-записи старше UploadedTTL: объект удаляется, запись → Expired
//
// Удаление объекта выполняется до смены статуса. Если удалить объект не
// удалось, запись остаётся как есть и будет обработана следующим запуском.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docgate/internal/domain/status"
	"github.com/bigkaa/docgate/internal/repository"
	"github.com/bigkaa/docgate/internal/storage/objectstore"
)

// timeNow подменяется в тестах.
var timeNow = time.Now

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dg_sweep_runs_total",
		Help: "Общее количество запусков sweeper",
	})

	sweepFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dg_sweep_files_total",
		Help: "Количество файлов, закрытых sweeper (по причине)",
	}, []string{"reason"})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dg_sweep_duration_seconds",
		Help:    "Длительность выполнения sweeper в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// SweeperConfig: параметры жизненного цикла.
type SweeperConfig struct {
	Interval       time.Duration
	PendingTimeout time.Duration
	UploadedTTL    time.Duration
}

// SweepResult: результат одного запуска.
type SweepResult struct {
	TimedOut int
	Expired  int
	// Skipped: запись успела сменить статус между выборкой и переходом
	Skipped  int
	Errors   int
	Duration time.Duration
}

// ReclaimHook вызывается для каждого файла, объект которого удалён.
type ReclaimHook func(ctx context.Context, fileName string)

// SweeperService: фоновый сервис очистки.
type SweeperService struct {
	files     repository.FileRepository
	store     objectstore.Store
	cfg       SweeperConfig
	onReclaim ReclaimHook
	logger    *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeperService создаёт sweeper. onReclaim может быть nil.
func NewSweeperService(
	files repository.FileRepository,
	store objectstore.Store,
	cfg SweeperConfig,
	onReclaim ReclaimHook,
	logger *slog.Logger,
) *SweeperService {
	return &SweeperService{
		files:     files,
		store:     store,
		cfg:       cfg,
		onReclaim: onReclaim,
		logger:    logger.With(slog.String("component", "sweeper")),
	}
}

// Start запускает фоновую горутину с периодическим тикером.
func (s *SweeperService) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Sweeper запущен",
		slog.String("interval", s.cfg.Interval.String()),
		slog.String("pending_timeout", s.cfg.PendingTimeout.String()),
		slog.String("uploaded_ttl", s.cfg.UploadedTTL.String()),
	)
}

// Stop останавливает фоновый процесс и ждёт завершения текущего запуска.
func (s *SweeperService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Sweeper остановлен")
}

func (s *SweeperService) run(ctx context.Context) {
	defer close(s.done)

	// Первый запуск: сразу после старта
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл очистки. Потокобезопасен.
// Повторный запуск без новых событий ничего не находит.
func (s *SweeperService) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}

	now := timeNow().UTC()
	stale, err := s.files.ListStale(ctx,
		now.Add(-s.cfg.PendingTimeout),
		now.Add(-s.cfg.UploadedTTL),
	)
	if err != nil {
		s.logger.Error("Sweeper: ошибка выборки записей",
			slog.String("error", err.Error()),
		)
		result.Errors++
		s.finish(result, start)
		return result
	}

	for _, rec := range stale {
		target := status.Timeout
		if rec.Status == status.Uploaded {
			target = status.Expired
		}

		if err := s.store.Delete(ctx, rec.FileName); err != nil {
			s.logger.Error("Sweeper: ошибка удаления объекта",
				slog.Int64("file_id", rec.ID),
				slog.String("key", rec.FileName),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		if s.onReclaim != nil {
			s.onReclaim(ctx, rec.FileName)
		}

		applied, err := s.files.Transition(ctx, rec.ID, rec.Status, target, repository.TransitionFields{})
		if err != nil {
			s.logger.Error("Sweeper: ошибка смены статуса",
				slog.Int64("file_id", rec.ID),
				slog.String("key", rec.FileName),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		if !applied {
			result.Skipped++
			continue
		}

		s.logger.Info("Sweeper: файл удалён",
			slog.Int64("file_id", rec.ID),
			slog.String("key", rec.FileName),
			slog.String("reason", string(target)),
		)
		sweepFilesTotal.WithLabelValues(string(target)).Inc()
		if target == status.Timeout {
			result.TimedOut++
		} else {
			result.Expired++
		}
	}

	s.finish(result, start)
	return result
}

func (s *SweeperService) finish(result *SweepResult, start time.Time) {
	result.Duration = time.Since(start)
	sweepRunsTotal.Inc()
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Sweeper завершён",
		slog.Int("timed_out", result.TimedOut),
		slog.Int("expired", result.Expired),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
}
