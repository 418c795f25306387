// popularity.go: Popularity Counter: счётчик обращений к файлам.
//
// Счётчик: актор: картой владеет одна горутина, запросы приходят
// сообщениями через mailbox. Поэтому конкурентные Add одного пути
// не теряют обновлений. Каждое увеличение сохраняется в БД внутри актора.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docgate/internal/repository"
)

// popularityMailboxSize: ёмкость очереди сообщений актора.
const popularityMailboxSize = 256

// ErrCounterStopped: актор остановлен.
var ErrCounterStopped = errors.New("счётчик популярности остановлен")

var popularityAddsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dg_popularity_adds_total",
	Help: "Количество увеличений счётчика популярности (по результату).",
}, []string{"result"})

// popularityMsg: сообщение актору. Ровно одно из add/list непусто.
type popularityMsg struct {
	add   string
	list  bool
	reply chan popularityReply
}

type popularityReply struct {
	snapshot map[string]int64
	err      error
}

// PopularityCounter: актор счётчика популярности.
type PopularityCounter struct {
	repo     repository.PopularityRepository
	mailbox  chan popularityMsg
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	logger   *slog.Logger
}

// NewPopularityCounter загружает сохранённые значения и запускает актор.
// repo может быть nil: тогда значения живут только в памяти.
func NewPopularityCounter(ctx context.Context, repo repository.PopularityRepository, logger *slog.Logger) (*PopularityCounter, error) {
	counts := map[string]int64{}
	if repo != nil {
		loaded, err := repo.LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("загрузка счётчиков популярности: %w", err)
		}
		if loaded != nil {
			counts = loaded
		}
	}

	c := &PopularityCounter{
		repo:    repo,
		mailbox: make(chan popularityMsg, popularityMailboxSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger.With(slog.String("component", "popularity")),
	}
	go c.loop(counts)
	return c, nil
}

// loop: единственный владелец counts.
func (c *PopularityCounter) loop(counts map[string]int64) {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case msg := <-c.mailbox:
			if msg.list {
				snapshot := make(map[string]int64, len(counts))
				for k, v := range counts {
					snapshot[k] = v
				}
				msg.reply <- popularityReply{snapshot: snapshot}
				continue
			}
			msg.reply <- popularityReply{err: c.increment(counts, msg.add)}
		}
	}
}

// increment сохраняет увеличение и применяет его к карте.
// При ошибке БД значение в памяти не меняется.
func (c *PopularityCounter) increment(counts map[string]int64, path string) error {
	if c.repo != nil {
		// Контекст запроса к этому моменту может быть отменён
		if err := c.repo.Increment(context.Background(), path); err != nil {
			popularityAddsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("сохранение счётчика %s: %w", path, err)
		}
	}
	counts[path]++
	popularityAddsTotal.WithLabelValues("success").Inc()
	return nil
}

// Add увеличивает счётчик path на 1 и ждёт подтверждения.
func (c *PopularityCounter) Add(ctx context.Context, path string) error {
	reply, err := c.send(ctx, popularityMsg{add: path})
	if err != nil {
		return err
	}
	return reply.err
}

// List возвращает снимок всех счётчиков.
func (c *PopularityCounter) List(ctx context.Context) (map[string]int64, error) {
	reply, err := c.send(ctx, popularityMsg{list: true})
	if err != nil {
		return nil, err
	}
	return reply.snapshot, nil
}

func (c *PopularityCounter) send(ctx context.Context, msg popularityMsg) (popularityReply, error) {
	msg.reply = make(chan popularityReply, 1)
	select {
	case c.mailbox <- msg:
	case <-c.done:
		return popularityReply{}, ErrCounterStopped
	case <-ctx.Done():
		return popularityReply{}, ctx.Err()
	}

	select {
	case reply := <-msg.reply:
		return reply, nil
	case <-c.done:
		return popularityReply{}, ErrCounterStopped
	case <-ctx.Done():
		return popularityReply{}, ctx.Err()
	}
}

// Stop останавливает актор. Повторный вызов безопасен.
func (c *PopularityCounter) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	c.logger.Info("Счётчик популярности остановлен")
}
