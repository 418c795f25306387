// handler.go: основной обработчик API docgate.
// Объединяет health и бизнес-обработчики, делегируя запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/docgate/internal/api/errors"
	"github.com/bigkaa/docgate/internal/domain/model"
	"github.com/bigkaa/docgate/internal/gate"
	"github.com/bigkaa/docgate/internal/service"
	"github.com/bigkaa/docgate/internal/storage/objectstore"
)

// maxJSONBody: лимит тела JSON-запросов.
const maxJSONBody = 1 << 20

// Uploader: операции multipart-загрузки (service.UploadService).
type Uploader interface {
	Start(ctx context.Context, key, uploader string) (*service.StartResult, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (*objectstore.Part, error)
	Complete(ctx context.Context, key, uploadID string, parts []objectstore.Part) (*service.CompleteResult, error)
	Abort(ctx context.Context, key, uploadID string) error
}

// Reconciler: обработка уведомлений хранилища (service.ReconcileService).
type Reconciler interface {
	Handle(ctx context.Context, n service.Notification) (*service.ReconcileResult, error)
}

// Publisher: публикация файлов (service.PublishService).
type Publisher interface {
	Publish(ctx context.Context, ids []int64) (*service.PublishResult, error)
}

// UnpublishedLister: выборка неопубликованных записей (repository.FileRepository).
type UnpublishedLister interface {
	ListUnpublished(ctx context.Context, since time.Time) ([]*model.FileRecord, error)
}

// Deliverer: выдача файлов через Access Gate (service.DeliveryService).
type Deliverer interface {
	Serve(w http.ResponseWriter, r *http.Request, key string) error
}

// RankLister: снимок счётчика популярности (service.PopularityCounter).
type RankLister interface {
	List(ctx context.Context) (map[string]int64, error)
}

// CredentialVerifier: внешняя проверка учётных данных (ssoclient.Client).
type CredentialVerifier interface {
	Verify(ctx context.Context, studentID, password string) (bool, error)
}

// Deps: зависимости APIHandler.
type Deps struct {
	Health     *HealthHandler
	Uploads    Uploader
	Reconciler Reconciler
	Publisher  Publisher
	Files      UnpublishedLister
	Delivery   Deliverer
	Store      objectstore.Store
	Popularity RankLister
	Gate       *gate.Gate
	Sessions   *gate.SessionSigner
	SSO        CredentialVerifier
	// Token: общий секрет для /api/rank
	Token string
}

// APIHandler: основной обработчик API docgate.
type APIHandler struct {
	Deps
	now    func() time.Time
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(deps Deps, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		Deps:   deps,
		now:    time.Now,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive: liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.Health.HealthLive(w, r)
}

// HealthReady: readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.Health.HealthReady(w, r)
}

// GetMetrics: Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.Health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst. При ошибке пишет 400 и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return false
	}
	return true
}

// successResponse: ответ без данных.
type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrFileExists):
		apierrors.FileExists(w, "Файл уже существует")
	case errors.Is(err, service.ErrQuotaExceeded):
		apierrors.QuotaExceeded(w, "Неопубликованные файлы превышают квоту. Дождитесь публикации предыдущих файлов")
	case errors.Is(err, service.ErrSizeLimit):
		apierrors.TooLarge(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrUpstream):
		h.logger.Error("Ошибка внешнего хранилища",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		apierrors.Upstream(w, err.Error())
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
