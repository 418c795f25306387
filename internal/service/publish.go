// publish.go: Publish Workflow: пакетная публикация загруженных файлов.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/docgate/internal/domain/model"
	"github.com/bigkaa/docgate/internal/domain/status"
	"github.com/bigkaa/docgate/internal/repository"
	"github.com/bigkaa/docgate/internal/storage/objectstore"
)

// InvalidStatusError: в пакете есть файлы вне {Uploaded, Published}.
// Ничего не изменено.
type InvalidStatusError struct {
	Files []model.StatusEntry
}

func (e *InvalidStatusError) Error() string {
	parts := make([]string, 0, len(e.Files))
	for _, f := range e.Files {
		parts = append(parts, fmt.Sprintf("%d=%s", f.ID, f.Status))
	}
	return fmt.Sprintf("%s: %s", ErrInvalidStatus, strings.Join(parts, ", "))
}

func (e *InvalidStatusError) Unwrap() error {
	return ErrInvalidStatus
}

// TagResult: результат снятия временных тегов с одного файла.
type TagResult struct {
	ID       int64  `json:"id"`
	FileName string `json:"fileName"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// PublishResult: итог публикации.
type PublishResult struct {
	IDs []int64
	// Published: сколько записей фактически перешло Uploaded → Published
	Published int64
	// Tags: результаты снятия тегов (статус в БД уже применён)
	Tags []TagResult
}

// TagFailures возвращает количество файлов, с которых не удалось снять теги.
func (r *PublishResult) TagFailures() int {
	n := 0
	for _, t := range r.Tags {
		if !t.Success {
			n++
		}
	}
	return n
}

// PublishService: сервис публикации файлов.
type PublishService struct {
	files       repository.FileRepository
	store       objectstore.Store
	concurrency int
	logger      *slog.Logger
}

// NewPublishService создаёт сервис публикации.
// concurrency: сколько файлов одновременно обрабатывается при снятии тегов.
func NewPublishService(
	files repository.FileRepository,
	store objectstore.Store,
	concurrency int,
	logger *slog.Logger,
) *PublishService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &PublishService{
		files:       files,
		store:       store,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "publish_service")),
	}
}

// Publish переводит ids в Published.
//
// Проверка выполняется до изменений: если хотя бы один файл не в
// Uploaded или Published, возвращается *InvalidStatusError и ничего не
// меняется. Неизвестные id пропускаются. Снятие тегов выполняется после
// смены статуса и не откатывает её.
func (s *PublishService) Publish(ctx context.Context, ids []int64) (*PublishResult, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: пустой список ids", ErrValidation)
	}

	records, err := s.files.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	var invalid []model.StatusEntry
	var toUntag []*model.FileRecord
	for _, rec := range records {
		switch rec.Status {
		case status.Uploaded:
			toUntag = append(toUntag, rec)
		case status.Published:
			// повторная публикация: no-op
		default:
			invalid = append(invalid, model.StatusEntry{ID: rec.ID, Status: rec.Status})
		}
	}
	if len(invalid) > 0 {
		s.logger.Warn("Публикация отклонена: недопустимый статус файлов",
			slog.Int("invalid", len(invalid)),
		)
		return nil, &InvalidStatusError{Files: invalid}
	}

	published, err := s.files.PublishUploaded(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	s.logger.Info("Файлы опубликованы",
		slog.Int("requested", len(ids)),
		slog.Int64("published", published),
	)

	return &PublishResult{
		IDs:       ids,
		Published: published,
		Tags:      s.removeTags(ctx, toUntag),
	}, nil
}

// removeTags снимает временные теги, не более s.concurrency файлов одновременно.
func (s *PublishService) removeTags(ctx context.Context, records []*model.FileRecord) []TagResult {
	results := make([]TagResult, len(records))

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, rec := range records {
		g.Go(func() error {
			res := TagResult{ID: rec.ID, FileName: rec.FileName, Success: true}
			if err := s.store.RemoveTags(ctx, rec.FileName); err != nil {
				res.Success = false
				res.Error = err.Error()
				s.logger.Warn("Не удалось снять теги с опубликованного файла",
					slog.Int64("file_id", rec.ID),
					slog.String("key", rec.FileName),
					slog.String("error", err.Error()),
				)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}
