// Пакет edgecache: двухуровневый кэш полных ответов доставки файлов.
//
// Уровень local: in-process LRU с TTL (hashicorp/golang-lru/v2/expirable),
// уровень redis: общий для всех экземпляров кэш в Redis (cache-aside,
// значение кодируется msgpack). Redis опционален: без клиента работает
// только local.
//
// Имена файлов content-addressed, поэтому записи не инвалидируются при
// изменении содержимого, только удаляются при удалении объекта.
package edgecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// Уровни кэша (значение лейбла tier).
const (
	TierLocal = "local"
	TierRedis = "redis"
)

// redisTimeout: таймаут одной операции с Redis.
const redisTimeout = 2 * time.Second

// ErrTooLarge: тело ответа превышает MaxObjectSize.
var ErrTooLarge = errors.New("объект слишком велик для кэша")

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dg_edge_cache_hits_total",
		Help: "Количество попаданий в edge cache.",
	}, []string{"tier"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dg_edge_cache_misses_total",
		Help: "Количество промахов edge cache.",
	}, []string{"tier"})
	cacheStoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dg_edge_cache_stores_total",
		Help: "Количество записей в edge cache.",
	}, []string{"tier"})
)

// Entry: закэшированный ответ.
type Entry struct {
	Status   int         `msgpack:"status"`
	Header   http.Header `msgpack:"header"`
	Body     []byte      `msgpack:"body"`
	StoredAt time.Time   `msgpack:"stored_at"`
}

// Config: параметры кэша.
type Config struct {
	// MaxEntries: максимум записей уровня local
	MaxEntries int
	// TTL: время жизни записи на обоих уровнях
	TTL time.Duration
	// MaxObjectSize: максимальный размер тела записи
	MaxObjectSize int64
	// RedisPrefix: префикс ключей в Redis
	RedisPrefix string
}

// Cache: двухуровневый edge cache. Безопасен для конкурентного использования.
type Cache struct {
	local  *expirable.LRU[string, *Entry]
	redis  *redis.Client
	cfg    Config
	group  singleflight.Group
	logger *slog.Logger
}

// New создаёт кэш. client может быть nil: тогда работает только уровень local.
func New(cfg Config, client *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{
		local:  expirable.NewLRU[string, *Entry](cfg.MaxEntries, nil, cfg.TTL),
		redis:  client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "edge_cache")),
	}
}

// MaxObjectSize возвращает предельный размер кэшируемого тела.
func (c *Cache) MaxObjectSize() int64 {
	return c.cfg.MaxObjectSize
}

// Get ищет запись сначала в local, затем в Redis.
// Попадание в Redis поднимает запись в local.
// Ошибки Redis логируются и считаются промахом.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool) {
	if e, ok := c.local.Get(key); ok {
		cacheHitsTotal.WithLabelValues(TierLocal).Inc()
		return e, true
	}
	cacheMissesTotal.WithLabelValues(TierLocal).Inc()

	if c.redis == nil {
		return nil, false
	}

	rctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	data, err := c.redis.Get(rctx, c.cfg.RedisPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Ошибка чтения из Redis",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		cacheMissesTotal.WithLabelValues(TierRedis).Inc()
		return nil, false
	}

	var e Entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		c.logger.Warn("Повреждённая запись кэша в Redis",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		cacheMissesTotal.WithLabelValues(TierRedis).Inc()
		return nil, false
	}

	cacheHitsTotal.WithLabelValues(TierRedis).Inc()
	c.local.Add(key, &e)
	return &e, true
}

// Put сохраняет запись на обоих уровнях. Конкурентные Put одного ключа
// объединяются: запись выполняет первый вызов, остальные получают его результат.
func (c *Cache) Put(ctx context.Context, key string, e *Entry) error {
	if int64(len(e.Body)) > c.cfg.MaxObjectSize {
		return fmt.Errorf("%w: %d байт", ErrTooLarge, len(e.Body))
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}

	_, err, _ := c.group.Do(key, func() (any, error) {
		c.local.Add(key, e)
		cacheStoresTotal.WithLabelValues(TierLocal).Inc()

		if c.redis == nil {
			return nil, nil
		}

		data, err := msgpack.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("ошибка сериализации записи кэша: %w", err)
		}

		rctx, cancel := context.WithTimeout(ctx, redisTimeout)
		defer cancel()
		if err := c.redis.Set(rctx, c.cfg.RedisPrefix+key, data, c.cfg.TTL).Err(); err != nil {
			return nil, fmt.Errorf("ошибка записи в Redis: %w", err)
		}
		cacheStoresTotal.WithLabelValues(TierRedis).Inc()
		return nil, nil
	})
	return err
}

// Delete удаляет запись с обоих уровней.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.local.Remove(key)
	if c.redis == nil {
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := c.redis.Del(rctx, c.cfg.RedisPrefix+key).Err(); err != nil {
		return fmt.Errorf("ошибка удаления из Redis: %w", err)
	}
	return nil
}

// Len возвращает количество записей уровня local.
func (c *Cache) Len() int {
	return c.local.Len()
}

// ReadinessChecker: проверка доступности Redis для /health/ready.
type ReadinessChecker struct {
	client *redis.Client
}

// NewReadinessChecker создаёт проверку готовности Redis.
func NewReadinessChecker(client *redis.Client) *ReadinessChecker {
	return &ReadinessChecker{client: client}
}

// CheckReady выполняет PING.
func (c *ReadinessChecker) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return "fail", fmt.Sprintf("Redis недоступен: %v", err)
	}
	return "ok", "Redis доступен"
}
