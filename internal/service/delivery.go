// delivery.go: Delivery Proxy: выдача файлов через Access Gate и edge cache.
//
// Pipeline:
//  1. Access Gate (превью .jpg/.webp не проверяются)
//  2. Без Range и условных заголовков: попытка отдать из edge cache
//  3. Чтение из хранилища с Range и условными заголовками
//  4. Streaming в ответ; полный ответ 200 в фоне кладётся в кэш
//  5. Для полных GET и диапазонов с нулевого байта: счётчик популярности
//     и телеметрия, обе в фоне
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docgate/internal/gate"
	"github.com/bigkaa/docgate/internal/storage/edgecache"
	"github.com/bigkaa/docgate/internal/storage/objectstore"
)

// FilesPrefix: URL-префикс выдачи файлов.
const FilesPrefix = "/files/"

// immutableCacheControl: Cache-Control закэшированной копии: имена файлов
// content-addressed, содержимое по ключу не меняется.
const immutableCacheControl = "public, s-maxage=31536000, max-age=31536000, immutable"

var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dg_downloads_total",
		Help: "Общее количество запросов на скачивание (по статусу).",
	}, []string{"status"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dg_download_duration_seconds",
		Help:    "Длительность выдачи файла (от запроса до завершения streaming).",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dg_download_bytes_total",
		Help: "Общее количество переданных байт при скачивании.",
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dg_active_downloads",
		Help: "Количество активных (in-progress) скачиваний.",
	})
)

// PopularityAdder: получатель увеличений счётчика популярности.
type PopularityAdder interface {
	Add(ctx context.Context, path string) error
}

// DeliveryService: сервис выдачи файлов.
type DeliveryService struct {
	store       objectstore.Store
	gate        *gate.Gate
	cache       *edgecache.Cache
	popularity  PopularityAdder
	telemetry   *Telemetry
	bg          *Background
	siteBaseURL string
	logger      *slog.Logger
}

// NewDeliveryService создаёт сервис выдачи. cache, popularity и telemetry
// могут быть nil.
func NewDeliveryService(
	store objectstore.Store,
	g *gate.Gate,
	cache *edgecache.Cache,
	popularity PopularityAdder,
	telemetry *Telemetry,
	bg *Background,
	siteBaseURL string,
	logger *slog.Logger,
) *DeliveryService {
	return &DeliveryService{
		store:       store,
		gate:        g,
		cache:       cache,
		popularity:  popularity,
		telemetry:   telemetry,
		bg:          bg,
		siteBaseURL: strings.TrimRight(siteBaseURL, "/"),
		logger:      logger.With(slog.String("component", "delivery_service")),
	}
}

// CacheKey возвращает ключ edge cache для объекта key:
// базовый URL сайта и путь, без query и данных авторизации.
func (s *DeliveryService) CacheKey(key string) string {
	return s.siteBaseURL + FilesPrefix + key
}

// Invalidate удаляет объект key из edge cache.
func (s *DeliveryService) Invalidate(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.CacheKey(key)); err != nil {
		s.logger.Warn("Ошибка инвалидации кэша",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Serve выдаёт объект key в ответ на запрос r.
//
// Ошибки возвращаются до записи заголовков:
//   - ErrAccessDenied: нужен редирект на вход
//   - ErrNotFound: объекта нет
//   - ErrPreconditionFailed: условный заголовок не выполнен
//   - ErrUpstream: ошибка хранилища
//
// Ошибка во время streaming только логируется.
func (s *DeliveryService) Serve(w http.ResponseWriter, r *http.Request, key string) error {
	start := time.Now()
	activeDownloads.Inc()
	defer activeDownloads.Dec()

	gated := !IsThumbnail(key)
	if gated {
		if d := s.gate.EvaluateHTTP(r); !d.Allowed {
			downloadsTotal.WithLabelValues("denied").Inc()
			return ErrAccessDenied
		}
	}

	rangeHeader := r.Header.Get("Range")
	filename := r.URL.Query().Get("filename")
	// HEAD не считается скачиванием и не наполняет кэш
	head := r.Method == http.MethodHead
	counted := gated && !head

	plain := rangeHeader == "" && !hasConditionalHeaders(r)
	if plain && s.cache != nil {
		if entry, ok := s.cache.Get(r.Context(), s.CacheKey(key)); ok {
			if counted {
				s.recordAccess(r, key, filename, rangeHeader)
			}
			written := s.writeCached(w, entry, filename, head)
			s.finish("cache_hit", written, start)
			return nil
		}
	}

	obj, err := s.store.Get(r.Context(), key, getOptions(r, rangeHeader))
	if err != nil {
		switch {
		case errors.Is(err, objectstore.ErrNotFound):
			downloadsTotal.WithLabelValues("not_found").Inc()
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		case errors.Is(err, objectstore.ErrPreconditionFailed):
			downloadsTotal.WithLabelValues("precondition_failed").Inc()
			return ErrPreconditionFailed
		default:
			downloadsTotal.WithLabelValues("store_error").Inc()
			return fmt.Errorf("%w: чтение объекта %s: %w", ErrUpstream, key, err)
		}
	}
	defer obj.Body.Close()

	statusCode := http.StatusOK
	length := obj.Info.Size
	h := w.Header()
	h.Set("Content-Type", obj.Info.ContentType)
	h.Set("ETag", `"`+obj.Info.ETag+`"`)
	h.Set("Last-Modified", obj.Info.LastModified.UTC().Format(http.TimeFormat))
	h.Set("Accept-Ranges", "bytes")
	if obj.Range != nil {
		statusCode = http.StatusPartialContent
		length = obj.Range.Length
		h.Set("Content-Range", obj.Range.ContentRange(obj.Info.Size))
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))

	// Копия заголовков для кэша снимается до Content-Disposition:
	// имя для скачивания у каждого запроса своё
	var buf *bytes.Buffer
	var cachedHeader http.Header
	if statusCode == http.StatusOK && plain && !head && s.cache != nil && obj.Info.Size <= s.cache.MaxObjectSize() {
		buf = bytes.NewBuffer(make([]byte, 0, obj.Info.Size))
		cachedHeader = cacheableHeader(h)
	}
	if filename != "" && statusCode == http.StatusOK {
		h.Set("Content-Disposition", ContentDisposition(filename))
	}

	if counted {
		s.recordAccess(r, key, filename, rangeHeader)
	}

	w.WriteHeader(statusCode)
	if head {
		s.finish("head", 0, start)
		return nil
	}

	var dst io.Writer = w
	if buf != nil {
		dst = io.MultiWriter(w, buf)
	}
	written, err := io.Copy(dst, obj.Body)
	if err != nil {
		// Заголовки уже отправлены, вернуть ошибку клиенту нельзя
		s.logger.Error("Ошибка streaming",
			slog.String("key", key),
			slog.Int64("bytes_written", written),
			slog.String("error", err.Error()),
		)
		downloadsTotal.WithLabelValues("stream_error").Inc()
		return nil
	}

	if buf != nil && written == obj.Info.Size {
		entry := &edgecache.Entry{Status: statusCode, Header: cachedHeader, Body: buf.Bytes()}
		cacheKey := s.CacheKey(key)
		s.bg.Go("edge_cache_store", func(ctx context.Context) error {
			return s.cache.Put(ctx, cacheKey, entry)
		})
	}

	label := "success"
	if statusCode == http.StatusPartialContent {
		label = "partial"
	}
	s.finish(label, written, start)
	return nil
}

// writeCached отдаёт закэшированный ответ. Content-Disposition
// добавляется к ответу, в записи кэша его нет. Заголовки, уже выставленные
// для текущего запроса (CORS), не перезаписываются.
func (s *DeliveryService) writeCached(w http.ResponseWriter, entry *edgecache.Entry, filename string, head bool) int64 {
	h := w.Header()
	for k, v := range entry.Header {
		if _, set := h[k]; set {
			continue
		}
		h[k] = append([]string(nil), v...)
	}
	if filename != "" && entry.Status == http.StatusOK {
		h.Set("Content-Disposition", ContentDisposition(filename))
	}
	w.WriteHeader(entry.Status)
	if head {
		return 0
	}
	n, err := w.Write(entry.Body)
	if err != nil {
		s.logger.Debug("Ошибка записи ответа из кэша", slog.String("error", err.Error()))
	}
	return int64(n)
}

// cacheableHeader возвращает копию заголовков для записи кэша без
// заголовков конкретного запроса: cookie и CORS.
func cacheableHeader(h http.Header) http.Header {
	out := h.Clone()
	out.Del("Set-Cookie")
	out.Del("Vary")
	for k := range out {
		if strings.HasPrefix(k, "Access-Control-") {
			delete(out, k)
		}
	}
	out.Set("Cache-Control", immutableCacheControl)
	return out
}

// recordAccess в фоне увеличивает счётчик популярности и отправляет
// телеметрию. Учитываются только полные GET и диапазоны с нулевого байта.
func (s *DeliveryService) recordAccess(r *http.Request, key, filename, rangeHeader string) {
	if rangeHeader != "" && !strings.HasPrefix(rangeHeader, "bytes=0-") {
		return
	}

	if filename != "" && s.popularity != nil {
		s.bg.Go("popularity_add", func(ctx context.Context) error {
			return s.popularity.Add(ctx, key)
		})
	}

	if s.telemetry != nil {
		ev := NewDownloadEvent(key)
		ev.Filename = filename
		ev.F = r.URL.Query().Get("f")
		ev.IP = s.gate.ClientIP(r).String()
		ev.Cookie = gate.FromRequest(r)
		ev.Range = rangeHeader
		s.bg.Go("telemetry", func(ctx context.Context) error {
			return s.telemetry.Emit(ctx, ev)
		})
	}
}

func (s *DeliveryService) finish(label string, written int64, start time.Time) {
	downloadsTotal.WithLabelValues(label).Inc()
	downloadBytesTotal.Add(float64(written))
	downloadDuration.Observe(time.Since(start).Seconds())
}

// IsThumbnail: превью (.jpg, .webp) выдаются без проверки доступа.
func IsThumbnail(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".webp":
		return true
	}
	return false
}

// ContentDisposition формирует заголовок скачивания с UTF-8 именем (RFC 5987).
func ContentDisposition(filename string) string {
	return "attachment; filename*=UTF-8''" + strings.ReplaceAll(url.QueryEscape(filename), "+", "%20")
}

func hasConditionalHeaders(r *http.Request) bool {
	return r.Header.Get("If-Match") != "" ||
		r.Header.Get("If-None-Match") != "" ||
		r.Header.Get("If-Modified-Since") != ""
}

// getOptions переносит Range и условные заголовки запроса в параметры чтения.
// Неразборчивый Range игнорируется: отдаётся весь объект.
func getOptions(r *http.Request, rangeHeader string) objectstore.GetOptions {
	opts := objectstore.GetOptions{
		IfMatch:     r.Header.Get("If-Match"),
		IfNoneMatch: r.Header.Get("If-None-Match"),
	}
	if v := r.Header.Get("If-Modified-Since"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			opts.IfModifiedSince = t
		}
	}
	if spec, ok := objectstore.ParseRange(rangeHeader); ok {
		opts.Range = spec
	}
	return opts
}
