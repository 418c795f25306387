package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Local: бэкенд на локальной файловой системе.
//
// Раскладка каталога:
//
//	<root>/objects/<key>            : данные объекта
//	<root>/objects/<key>.meta.json  : метаданные (ETag, теги)
//	<root>/multipart/<uploadID>/key : имя объекта сессии
//	<root>/multipart/<uploadID>/<n> : часть n
type Local struct {
	root string
	// mu сериализует запись метаданных (теги и завершение сессии)
	mu sync.Mutex
}

// NewLocal создаёт local-бэкенд. Создаёт каталоги при отсутствии.
func NewLocal(root string) (*Local, error) {
	for _, dir := range []string{"objects", "multipart"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию %s: %w", filepath.Join(root, dir), err)
		}
	}
	return &Local{root: root}, nil
}

// Root возвращает корневой каталог бэкенда.
func (l *Local) Root() string {
	return l.root
}

// objectPath возвращает путь к данным объекта, не выходя за пределы objects/.
func (l *Local) objectPath(key string) string {
	return filepath.Join(l.root, "objects", filepath.FromSlash(path.Clean("/"+key)))
}

func (l *Local) sessionDir(uploadID string) (string, error) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return "", fmt.Errorf("%w: некорректный uploadId %q", ErrNotFound, uploadID)
	}
	return filepath.Join(l.root, "multipart", uploadID), nil
}

func (l *Local) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	meta, err := readMeta(metaPath(l.objectPath(key)))
	if err != nil {
		return nil, err
	}
	return &ObjectInfo{
		Key:          key,
		Size:         meta.Size,
		ETag:         meta.ETag,
		LastModified: meta.CreatedAt,
		ContentType:  meta.ContentType,
	}, nil
}

func (l *Local) Get(ctx context.Context, key string, opts GetOptions) (*Object, error) {
	info, err := l.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := checkConditions(info, opts); err != nil {
		return nil, err
	}

	f, err := os.Open(l.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка открытия объекта %s: %w", key, err)
	}

	obj := &Object{Info: *info, Body: f}
	if r := resolveRange(info, opts); r != nil {
		if _, err := f.Seek(r.Start, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("ошибка позиционирования в объекте %s: %w", key, err)
		}
		obj.Body = struct {
			io.Reader
			io.Closer
		}{io.LimitReader(f, r.Length), f}
		obj.Range = r
	}
	return obj, nil
}

// Delete удаляет данные и метаданные объекта.
func (l *Local) Delete(_ context.Context, key string) error {
	p := l.objectPath(key)
	// Сначала метаданные: без них объект уже не виден
	for _, target := range []string{metaPath(p), p} {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("ошибка удаления %s: %w", target, err)
		}
	}
	return nil
}

func (l *Local) CreateMultipart(_ context.Context, key string) (string, error) {
	uploadID := uuid.New().String()
	dir := filepath.Join(l.root, "multipart", uploadID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("ошибка создания multipart-сессии: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "key"), []byte(key), 0o640); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("ошибка создания multipart-сессии: %w", err)
	}
	return uploadID, nil
}

// openSession проверяет, что сессия существует и принадлежит key.
func (l *Local) openSession(key, uploadID string) (string, error) {
	dir, err := l.sessionDir(uploadID)
	if err != nil {
		return "", err
	}
	owner, err := os.ReadFile(filepath.Join(dir, "key"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: multipart-сессия %s", ErrNotFound, uploadID)
		}
		return "", fmt.Errorf("ошибка чтения multipart-сессии: %w", err)
	}
	if string(owner) != key {
		return "", fmt.Errorf("%w: сессия %s открыта для другого объекта", ErrNotFound, uploadID)
	}
	return dir, nil
}

func (l *Local) UploadPart(_ context.Context, key, uploadID string, partNumber int, r io.Reader, _ int64) (Part, error) {
	dir, err := l.openSession(key, uploadID)
	if err != nil {
		return Part{}, err
	}

	partPath := filepath.Join(dir, strconv.Itoa(partNumber))
	tmpPath := partPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return Part{}, fmt.Errorf("ошибка создания части: %w", err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(f, io.TeeReader(r, hasher)); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return Part{}, fmt.Errorf("ошибка записи части: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return Part{}, fmt.Errorf("ошибка закрытия части: %w", err)
	}
	// Повторная загрузка той же части заменяет прежнюю
	if err := os.Rename(tmpPath, partPath); err != nil {
		os.Remove(tmpPath)
		return Part{}, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return Part{PartNumber: partNumber, ETag: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// CompleteMultipart склеивает части в порядке parts, сверяя ETag каждой.
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
func (l *Local) CompleteMultipart(_ context.Context, key, uploadID string, parts []Part) (*ObjectInfo, error) {
	dir, err := l.openSession(key, uploadID)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: пустой список частей", ErrInvalidPart)
	}

	dataPath := l.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию: %w", err)
	}
	tmpPath := dataPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	fail := func(err error) (*ObjectInfo, error) {
		out.Close()
		os.Remove(tmpPath)
		return nil, err
	}

	whole := sha256.New()
	var size int64
	prev := 0
	for _, p := range parts {
		if p.PartNumber <= prev {
			return fail(fmt.Errorf("%w: части должны идти по возрастанию номеров", ErrInvalidPart))
		}
		prev = p.PartNumber

		n, etag, err := appendPart(out, whole, filepath.Join(dir, strconv.Itoa(p.PartNumber)))
		if err != nil {
			return fail(err)
		}
		if etag != NormalizeETag(p.ETag) {
			return fail(fmt.Errorf("%w: ETag части %d не совпадает", ErrInvalidPart, p.PartNumber))
		}
		size += n
	}

	if err := out.Sync(); err != nil {
		return fail(fmt.Errorf("ошибка fsync: %w", err))
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, dataPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	meta := &objectMeta{
		ETag:        hex.EncodeToString(whole.Sum(nil)),
		Size:        size,
		ContentType: contentTypeFor(key),
		CreatedAt:   time.Now().UTC(),
	}
	l.mu.Lock()
	err = writeMeta(metaPath(dataPath), meta)
	l.mu.Unlock()
	if err != nil {
		os.Remove(dataPath)
		return nil, err
	}
	os.RemoveAll(dir)

	return &ObjectInfo{
		Key:          key,
		Size:         meta.Size,
		ETag:         meta.ETag,
		LastModified: meta.CreatedAt,
		ContentType:  meta.ContentType,
	}, nil
}

// appendPart дописывает часть в out и возвращает её размер и ETag.
func appendPart(out io.Writer, whole io.Writer, partPath string) (int64, string, error) {
	f, err := os.Open(partPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, "", fmt.Errorf("%w: часть %s не загружена", ErrInvalidPart, filepath.Base(partPath))
		}
		return 0, "", fmt.Errorf("ошибка открытия части: %w", err)
	}
	defer f.Close()

	partHash := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, whole, partHash), f)
	if err != nil {
		return 0, "", fmt.Errorf("ошибка сборки объекта: %w", err)
	}
	return n, hex.EncodeToString(partHash.Sum(nil)), nil
}

func (l *Local) AbortMultipart(_ context.Context, key, uploadID string) error {
	dir, err := l.openSession(key, uploadID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("ошибка удаления multipart-сессии: %w", err)
	}
	return nil
}

func (l *Local) PutTags(_ context.Context, key string, tags map[string]string) error {
	return l.updateMeta(key, func(m *objectMeta) {
		m.Tags = make(map[string]string, len(tags))
		for k, v := range tags {
			m.Tags[k] = v
		}
	})
}

func (l *Local) RemoveTags(_ context.Context, key string) error {
	return l.updateMeta(key, func(m *objectMeta) {
		m.Tags = nil
	})
}

// Tags возвращает теги объекта.
func (l *Local) Tags(key string) (map[string]string, error) {
	meta, err := readMeta(metaPath(l.objectPath(key)))
	if err != nil {
		return nil, err
	}
	return meta.Tags, nil
}

func (l *Local) updateMeta(key string, fn func(m *objectMeta)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := metaPath(l.objectPath(key))
	meta, err := readMeta(p)
	if err != nil {
		return err
	}
	fn(meta)
	return writeMeta(p, meta)
}

// contentTypeFor определяет Content-Type по расширению ключа.
func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(key))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// LocalReadinessChecker: проверка доступности каталога local-бэкенда.
type LocalReadinessChecker struct {
	store *Local
}

// NewLocalReadinessChecker создаёт проверку готовности local-бэкенда.
func NewLocalReadinessChecker(store *Local) *LocalReadinessChecker {
	return &LocalReadinessChecker{store: store}
}

// CheckReady проверяет, что каталог объектов доступен на запись.
func (c *LocalReadinessChecker) CheckReady() (string, string) {
	f, err := os.CreateTemp(filepath.Join(c.store.root, "objects"), ".ready-*")
	if err != nil {
		return "fail", fmt.Sprintf("каталог хранилища недоступен на запись: %v", err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return "ok", "каталог доступен"
}
