// Пакет service: бизнес-логика docgate.
// upload.go: Upload Orchestrator: протокол multipart-загрузки и квота.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docgate/internal/domain/model"
	"github.com/bigkaa/docgate/internal/domain/status"
	"github.com/bigkaa/docgate/internal/repository"
	"github.com/bigkaa/docgate/internal/storage/objectstore"
)

// Допустимый диапазон номеров частей.
const (
	MinPartNumber = 1
	MaxPartNumber = 2000
)

var uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dg_uploads_total",
	Help: "Количество операций multipart-загрузки (по операции и результату).",
}, []string{"op", "result"})

// UploadConfig: лимиты загрузки.
type UploadConfig struct {
	// MaxObjectSize: максимальный размер собранного объекта
	MaxObjectSize int64
	// UploaderQuota: квота неопубликованных байт одного загрузившего
	UploaderQuota int64
}

// StartResult: результат открытия загрузки.
type StartResult struct {
	UploadID string
	Key      string
}

// CompleteResult: результат завершения загрузки.
type CompleteResult struct {
	Key  string
	ETag string
	Size int64
	// Outcome: что произошло с записью файла
	Outcome Outcome
}

// UploadService: сервис multipart-загрузки файлов.
type UploadService struct {
	files     repository.FileRepository
	store     objectstore.Store
	cfg       UploadConfig
	finalizer *finalizer
	logger    *slog.Logger
}

// NewUploadService создаёт сервис загрузки.
func NewUploadService(
	files repository.FileRepository,
	store objectstore.Store,
	cfg UploadConfig,
	logger *slog.Logger,
) *UploadService {
	logger = logger.With(slog.String("component", "upload_service"))
	return &UploadService{
		files:     files,
		store:     store,
		cfg:       cfg,
		finalizer: newFinalizer(files, store, cfg.MaxObjectSize, logger),
		logger:    logger,
	}
}

// Start открывает загрузку объекта key от имени uploader.
//
// Порядок:
//  1. Проверка формата ключа (хранилище не вызывается)
//  2. Объект с таким ключом не должен существовать (FILE_EXISTS)
//  3. Квота неопубликованных байт загрузившего
//  4. Замена прежних записей на новую Pending-запись
//  5. Открытие multipart-сессии
func (s *UploadService) Start(ctx context.Context, key, uploader string) (*StartResult, error) {
	if !model.ValidKey(key) {
		uploadsTotal.WithLabelValues("start", "invalid").Inc()
		return nil, fmt.Errorf("%w: некорректное имя файла %q", ErrValidation, key)
	}
	if uploader == "" {
		return nil, fmt.Errorf("%w: не указан загрузивший", ErrValidation)
	}

	_, err := s.store.Stat(ctx, key)
	switch {
	case err == nil:
		uploadsTotal.WithLabelValues("start", "exists").Inc()
		return nil, fmt.Errorf("%w: %s", ErrFileExists, key)
	case !errors.Is(err, objectstore.ErrNotFound):
		uploadsTotal.WithLabelValues("start", "error").Inc()
		return nil, fmt.Errorf("%w: предпроверка файла: %w", ErrUpstream, err)
	}

	outstanding, err := s.files.OutstandingSize(ctx, uploader)
	if err != nil {
		uploadsTotal.WithLabelValues("start", "error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if outstanding > s.cfg.UploaderQuota {
		uploadsTotal.WithLabelValues("start", "quota").Inc()
		return nil, fmt.Errorf("%w: %d байт ожидают публикации, лимит %d",
			ErrQuotaExceeded, outstanding, s.cfg.UploaderQuota)
	}

	record := &model.FileRecord{FileName: key, Uploader: uploader}
	if err := s.files.Replace(ctx, record); err != nil {
		uploadsTotal.WithLabelValues("start", "error").Inc()
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: загрузка %s уже начата", ErrConflict, key)
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	uploadID, err := s.store.CreateMultipart(ctx, key)
	if err != nil {
		uploadsTotal.WithLabelValues("start", "error").Inc()
		// Pending-запись остаётся: её закроет sweeper
		return nil, fmt.Errorf("%w: создание multipart-сессии: %w", ErrUpstream, err)
	}

	uploadsTotal.WithLabelValues("start", "success").Inc()
	s.logger.Info("Загрузка начата",
		slog.String("key", key),
		slog.String("uploader", uploader),
		slog.Int64("file_id", record.ID),
	)
	return &StartResult{UploadID: uploadID, Key: key}, nil
}

// UploadPart передаёт часть partNumber в открытую сессию.
func (s *UploadService) UploadPart(
	ctx context.Context,
	key, uploadID string,
	partNumber int,
	r io.Reader,
	size int64,
) (*objectstore.Part, error) {
	if err := validateSession(key, uploadID); err != nil {
		return nil, err
	}
	if partNumber < MinPartNumber || partNumber > MaxPartNumber {
		return nil, fmt.Errorf("%w: номер части %d вне диапазона %d-%d",
			ErrValidation, partNumber, MinPartNumber, MaxPartNumber)
	}
	if r == nil || size <= 0 {
		return nil, fmt.Errorf("%w: пустая часть", ErrValidation)
	}

	part, err := s.store.UploadPart(ctx, key, uploadID, partNumber, r, size)
	if err != nil {
		uploadsTotal.WithLabelValues("part", "error").Inc()
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: multipart-сессия %s", ErrNotFound, uploadID)
		}
		return nil, fmt.Errorf("%w: загрузка части %d: %w", ErrUpstream, partNumber, err)
	}

	uploadsTotal.WithLabelValues("part", "success").Inc()
	return &part, nil
}

// Complete собирает объект и применяет результат к Pending-записи.
// Если запись уже обработана уведомлением хранилища, состояние БД не меняется.
func (s *UploadService) Complete(ctx context.Context, key, uploadID string, parts []objectstore.Part) (*CompleteResult, error) {
	if err := validateSession(key, uploadID); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: пустой список частей", ErrValidation)
	}
	for _, p := range parts {
		if p.PartNumber < MinPartNumber || p.PartNumber > MaxPartNumber || p.ETag == "" {
			return nil, fmt.Errorf("%w: некорректная часть %d", ErrValidation, p.PartNumber)
		}
	}

	info, err := s.store.CompleteMultipart(ctx, key, uploadID, parts)
	if err != nil {
		uploadsTotal.WithLabelValues("complete", "error").Inc()
		switch {
		case errors.Is(err, objectstore.ErrInvalidPart):
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		case errors.Is(err, objectstore.ErrNotFound):
			return nil, fmt.Errorf("%w: multipart-сессия %s", ErrNotFound, uploadID)
		default:
			return nil, fmt.Errorf("%w: завершение загрузки: %w", ErrUpstream, err)
		}
	}

	outcome, err := s.finalizer.apply(ctx, key, info.Size, true)
	if err != nil {
		uploadsTotal.WithLabelValues("complete", "error").Inc()
		return nil, err
	}
	if outcome == OutcomeRejected {
		uploadsTotal.WithLabelValues("complete", "too_large").Inc()
		return nil, fmt.Errorf("%w: %d байт, лимит %d", ErrSizeLimit, info.Size, s.cfg.MaxObjectSize)
	}

	uploadsTotal.WithLabelValues("complete", "success").Inc()
	return &CompleteResult{Key: key, ETag: info.ETag, Size: info.Size, Outcome: outcome}, nil
}

// Abort отменяет сессию. Запись файла не трогается: Pending-запись
// со временем закроет sweeper.
func (s *UploadService) Abort(ctx context.Context, key, uploadID string) error {
	if err := validateSession(key, uploadID); err != nil {
		return err
	}
	if err := s.store.AbortMultipart(ctx, key, uploadID); err != nil {
		uploadsTotal.WithLabelValues("abort", "error").Inc()
		if errors.Is(err, objectstore.ErrNotFound) {
			return fmt.Errorf("%w: multipart-сессия %s", ErrNotFound, uploadID)
		}
		return fmt.Errorf("%w: отмена загрузки: %w", ErrUpstream, err)
	}
	uploadsTotal.WithLabelValues("abort", "success").Inc()
	s.logger.Info("Загрузка отменена", slog.String("key", key))
	return nil
}

func validateSession(key, uploadID string) error {
	if !model.ValidKey(key) {
		return fmt.Errorf("%w: некорректное имя файла %q", ErrValidation, key)
	}
	if uploadID == "" {
		return fmt.Errorf("%w: не указан uploadId", ErrValidation)
	}
	return nil
}

// Outcome: результат применения завершения загрузки к записи файла.
type Outcome string

const (
	// OutcomeUploaded: запись переведена Pending → Uploaded
	OutcomeUploaded Outcome = "uploaded"
	// OutcomeRejected: объект превысил лимит, удалён, запись → Error
	OutcomeRejected Outcome = "rejected"
	// OutcomeSkipped: Pending-записи нет (уже обработана или неизвестна)
	OutcomeSkipped Outcome = "skipped"
)

// finalizer применяет завершение загрузки к Pending-записи.
// Общий для Complete и уведомлений хранилища: переход выполняется только
// из Pending, поэтому второй из двух путей становится no-op.
type finalizer struct {
	files         repository.FileRepository
	store         objectstore.Store
	maxObjectSize int64
	logger        *slog.Logger
}

func newFinalizer(files repository.FileRepository, store objectstore.Store, maxObjectSize int64, logger *slog.Logger) *finalizer {
	return &finalizer{files: files, store: store, maxObjectSize: maxObjectSize, logger: logger}
}

// apply завершает Pending-запись key. owned: объект собран этим вызовом
// (Complete клиента); только тогда слишком большой объект без Pending-записи
// удаляется. Для уведомлений хранилища отсутствие записи всегда no-op.
func (f *finalizer) apply(ctx context.Context, key string, size int64, owned bool) (Outcome, error) {
	record, err := f.files.FindPending(ctx, key)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if record == nil && !owned {
		return OutcomeSkipped, nil
	}

	if size > f.maxObjectSize {
		if err := f.store.Delete(ctx, key); err != nil {
			return "", fmt.Errorf("%w: удаление слишком большого объекта: %w", ErrUpstream, err)
		}
		f.logger.Warn("Объект удалён: превышен размер",
			slog.String("key", key),
			slog.Int64("size", size),
		)
		if record == nil {
			return OutcomeRejected, nil
		}
		msg := fmt.Sprintf("размер файла %d байт превышает лимит %d байт", size, f.maxObjectSize)
		if _, err := f.files.Transition(ctx, record.ID, status.Pending, status.Error,
			repository.TransitionFields{ErrorMessage: &msg}); err != nil {
			return "", fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		return OutcomeRejected, nil
	}

	if record == nil {
		return OutcomeSkipped, nil
	}

	now := timeNow().UTC()
	applied, err := f.files.Transition(ctx, record.ID, status.Pending, status.Uploaded,
		repository.TransitionFields{FileSize: &size, UploadTime: &now})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if !applied {
		return OutcomeSkipped, nil
	}

	// Теги ставит только путь, выполнивший переход
	if err := f.store.PutTags(ctx, key, map[string]string{
		"status":   "temp",
		"uploader": record.Uploader,
	}); err != nil {
		f.logger.Warn("Не удалось установить теги объекта",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	f.logger.Info("Файл загружен",
		slog.String("key", key),
		slog.Int64("size", size),
		slog.Int64("file_id", record.ID),
	)
	return OutcomeUploaded, nil
}
