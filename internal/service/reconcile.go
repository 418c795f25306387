// reconcile.go: обработка уведомлений хранилища о создании объекта.
//
// Хранилище (MinIO / S3 bucket notification) сообщает о собранном объекте
// независимо от вызова complete клиентом. Оба пути сходятся в одном
// условном переходе Pending → Uploaded | Error, поэтому порядок их
// прихода не важен: второй путь становится no-op.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docgate/internal/repository"
	"github.com/bigkaa/docgate/internal/storage/objectstore"
)

// События, которые обрабатывает ReconcileService.
const (
	EventObjectCreatedPut      = "s3:ObjectCreated:Put"
	EventObjectCreatedComplete = "s3:ObjectCreated:CompleteMultipartUpload"
)

var reconcileEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dg_reconcile_events_total",
	Help: "Количество обработанных записей уведомлений хранилища (по результату).",
}, []string{"result"})

// Notification: уведомление хранилища.
type Notification struct {
	EventName string
	Records   []NotificationRecord
}

// NotificationRecord: один объект из уведомления.
type NotificationRecord struct {
	Bucket string
	Key    string
	Size   int64
	ETag   string
}

// ReconcileResult: итог обработки уведомления.
type ReconcileResult struct {
	Uploaded int
	Rejected int
	Skipped  int
	// Ignored: событие другого типа, записи не рассматривались
	Ignored bool
}

// ReconcileService: Reconciliation Handler.
type ReconcileService struct {
	bucket    string
	finalizer *finalizer
	logger    *slog.Logger
}

// NewReconcileService создаёт обработчик уведомлений для бакета bucket.
func NewReconcileService(
	files repository.FileRepository,
	store objectstore.Store,
	bucket string,
	maxObjectSize int64,
	logger *slog.Logger,
) *ReconcileService {
	logger = logger.With(slog.String("component", "reconcile"))
	return &ReconcileService{
		bucket:    bucket,
		finalizer: newFinalizer(files, store, maxObjectSize, logger),
		logger:    logger,
	}
}

// Handle применяет уведомление. Записи чужого бакета и объекты без
// Pending-записи пропускаются. Ошибка одной записи не останавливает
// обработку остальных.
func (s *ReconcileService) Handle(ctx context.Context, n Notification) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	if n.EventName != EventObjectCreatedPut && n.EventName != EventObjectCreatedComplete {
		result.Ignored = true
		return result, nil
	}

	var errs []error
	for _, rec := range n.Records {
		if rec.Bucket != s.bucket {
			reconcileEventsTotal.WithLabelValues("foreign_bucket").Inc()
			result.Skipped++
			continue
		}

		outcome, err := s.finalizer.apply(ctx, rec.Key, rec.Size, false)
		if err != nil {
			reconcileEventsTotal.WithLabelValues("error").Inc()
			s.logger.Error("Ошибка обработки уведомления хранилища",
				slog.String("key", rec.Key),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", rec.Key, err))
			continue
		}

		reconcileEventsTotal.WithLabelValues(string(outcome)).Inc()
		switch outcome {
		case OutcomeUploaded:
			result.Uploaded++
		case OutcomeRejected:
			result.Rejected++
		default:
			result.Skipped++
		}
	}

	s.logger.Debug("Уведомление хранилища обработано",
		slog.String("event", n.EventName),
		slog.Int("uploaded", result.Uploaded),
		slog.Int("rejected", result.Rejected),
		slog.Int("skipped", result.Skipped),
	)

	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}
	return result, nil
}
