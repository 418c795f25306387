// Пакет objectstore реализует объектное хранилище файлов: multipart-загрузку,
// чтение с диапазонами и условными заголовками, удаление и теги.
//
// Два бэкенда: локальная файловая система (NewLocal) и
// S3-совместимое хранилище через minio-go (NewS3).
package objectstore

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

// readyTimeout: таймаут проверки готовности бэкенда.
const readyTimeout = 3 * time.Second

// Ошибки хранилища.
var (
	// ErrNotFound: объект (или multipart-сессия) не найден.
	ErrNotFound = errors.New("объект не найден")
	// ErrPreconditionFailed: условие If-Match / If-None-Match / If-Modified-Since не выполнено.
	ErrPreconditionFailed = errors.New("условие запроса не выполнено")
	// ErrInvalidPart: некорректный список частей при завершении multipart.
	ErrInvalidPart = errors.New("некорректная часть multipart-загрузки")
)

// Store: возможности объектного хранилища, нужные docgate.
// Все методы безопасны для конкурентного использования.
type Store interface {
	// Stat возвращает метаданные объекта или ErrNotFound.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	// Get открывает объект с учётом диапазона и условий.
	// Вызывающий код обязан закрыть Object.Body.
	Get(ctx context.Context, key string, opts GetOptions) (*Object, error)
	// Delete удаляет объект. Отсутствие объекта: не ошибка.
	Delete(ctx context.Context, key string) error

	// CreateMultipart открывает multipart-сессию и возвращает её uploadID.
	CreateMultipart(ctx context.Context, key string) (string, error)
	// UploadPart записывает часть и возвращает её ETag.
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (Part, error)
	// CompleteMultipart собирает объект из частей в указанном порядке.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (*ObjectInfo, error)
	// AbortMultipart отменяет сессию и удаляет загруженные части.
	AbortMultipart(ctx context.Context, key, uploadID string) error

	// PutTags заменяет теги объекта.
	PutTags(ctx context.Context, key string, tags map[string]string) error
	// RemoveTags удаляет все теги объекта.
	RemoveTags(ctx context.Context, key string) error
}

// ObjectInfo: метаданные объекта.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string // без кавычек
	LastModified time.Time
	ContentType  string
}

// Part: загруженная часть multipart-сессии.
type Part struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// GetOptions: параметры чтения объекта.
type GetOptions struct {
	// Range: запрошенный диапазон (nil: весь объект)
	Range *RangeSpec
	// IfMatch: ETag, который должен совпасть
	IfMatch string
	// IfNoneMatch: ETag, который не должен совпасть
	IfNoneMatch string
	// IfModifiedSince: объект должен быть изменён позже этого момента
	IfModifiedSince time.Time
}

// Object: открытый объект.
type Object struct {
	Info ObjectInfo
	Body io.ReadCloser
	// Range: фактически отдаваемый диапазон (nil: весь объект)
	Range *Range
}

// Range: разрешённый диапазон байт.
type Range struct {
	Start  int64
	Length int64
}

// ContentRange форматирует значение заголовка Content-Range.
func (r Range) ContentRange(total int64) string {
	return "bytes " + strconv.FormatInt(r.Start, 10) + "-" +
		strconv.FormatInt(r.Start+r.Length-1, 10) + "/" + strconv.FormatInt(total, 10)
}

// RangeSpec: разобранный заголовок Range с одним диапазоном.
// Suffix: последние End байт. Иначе Start..End включительно, End < 0: до конца.
type RangeSpec struct {
	Start  int64
	End    int64
	Suffix bool
}

// ParseRange разбирает заголовок Range. Поддерживается только один
// диапазон в единицах bytes; остальное возвращает ok=false (отдаётся весь объект).
func ParseRange(header string) (*RangeSpec, bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || spec == "" || strings.Contains(spec, ",") {
		return nil, false
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, false
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, false
		}
		return &RangeSpec{End: n, Suffix: true}, true
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, false
	}
	if endStr == "" {
		return &RangeSpec{Start: start, End: -1}, true
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return nil, false
	}
	return &RangeSpec{Start: start, End: end}, true
}

// Resolve приводит диапазон к объекту размера size.
// ok=false: диапазон неудовлетворим, отдаётся весь объект.
func (s RangeSpec) Resolve(size int64) (Range, bool) {
	if size <= 0 {
		return Range{}, false
	}
	if s.Suffix {
		n := min(s.End, size)
		return Range{Start: size - n, Length: n}, true
	}
	if s.Start >= size {
		return Range{}, false
	}
	end := s.End
	if end < 0 || end >= size {
		end = size - 1
	}
	return Range{Start: s.Start, Length: end - s.Start + 1}, true
}

// NormalizeETag убирает префикс слабого сравнения и кавычки.
func NormalizeETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// checkConditions проверяет условия запроса по метаданным объекта.
func checkConditions(info *ObjectInfo, opts GetOptions) error {
	if opts.IfMatch != "" && !etagListMatches(opts.IfMatch, info.ETag) {
		return ErrPreconditionFailed
	}
	if opts.IfNoneMatch != "" && etagListMatches(opts.IfNoneMatch, info.ETag) {
		return ErrPreconditionFailed
	}
	// Точность HTTP-даты: секунда
	if !opts.IfModifiedSince.IsZero() &&
		!info.LastModified.Truncate(time.Second).After(opts.IfModifiedSince) {
		return ErrPreconditionFailed
	}
	return nil
}

// etagListMatches: список ETag через запятую или "*".
func etagListMatches(list, etag string) bool {
	for _, candidate := range strings.Split(list, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || NormalizeETag(candidate) == etag {
			return true
		}
	}
	return false
}

// resolveRange применяет opts.Range к объекту.
func resolveRange(info *ObjectInfo, opts GetOptions) *Range {
	if opts.Range == nil {
		return nil
	}
	r, ok := opts.Range.Resolve(info.Size)
	if !ok {
		return nil
	}
	return &r
}
