// background.go: отсоединённые фоновые задачи.
//
// Задачи (заполнение кэша, телеметрия, счётчик популярности) выполняются
// после отправки ответа клиенту. Ошибки задач попадают в лог и не
// повторяются. При shutdown Wait дожидается завершения запущенных задач.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// backgroundTaskTimeout: предельная длительность одной фоновой задачи.
const backgroundTaskTimeout = 30 * time.Second

var backgroundTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dg_background_tasks_total",
	Help: "Количество фоновых задач (по имени и результату).",
}, []string{"task", "result"})

// Background: исполнитель отсоединённых задач.
type Background struct {
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewBackground создаёт исполнитель фоновых задач.
func NewBackground(logger *slog.Logger) *Background {
	return &Background{
		logger: logger.With(slog.String("component", "background")),
	}
}

// Go запускает задачу name в отдельной горутине.
// Контекст задачи не зависит от контекста запроса.
func (b *Background) Go(name string, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundTaskTimeout)
		defer cancel()

		err := b.run(ctx, fn)
		if err != nil {
			backgroundTasksTotal.WithLabelValues(name, "error").Inc()
			b.logger.Warn("Ошибка фоновой задачи",
				slog.String("task", name),
				slog.String("error", err.Error()),
			)
			return
		}
		backgroundTasksTotal.WithLabelValues(name, "success").Inc()
	}()
}

// run выполняет задачу, превращая panic в ошибку.
func (b *Background) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Wait ждёт завершения всех запущенных задач или отмены ctx.
func (b *Background) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("фоновые задачи не завершились: %w", ctx.Err())
	}
}
