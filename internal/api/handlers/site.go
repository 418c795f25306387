// site.go: API публикующего сайта /api/file/*.
// Bearer DG_SITE_TOKEN проверяется в middleware.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/bigkaa/docgate/internal/api/errors"
	"github.com/bigkaa/docgate/internal/domain/model"
	"github.com/bigkaa/docgate/internal/service"
)

type listUnpublishedResponse struct {
	Success bool                `json:"success"`
	Files   []*model.FileRecord `json:"files"`
}

type publishRequest struct {
	IDs []int64 `json:"ids"`
}

type publishResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	IDs     []int64             `json:"ids"`
	Tags    []service.TagResult `json:"tags"`
}

type publishRejectedResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Files   []model.StatusEntry `json:"files"`
}

// ListUnpublished: GET /api/file/notPublished?since=.
// since: RFC3339 или unix-время в миллисекундах; по умолчанию epoch.
func (h *APIHandler) ListUnpublished(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	files, err := h.Files.ListUnpublished(r.Context(), since)
	if err != nil {
		h.logger.Error("Ошибка выборки неопубликованных файлов", slog.String("error", err.Error()))
		apierrors.Upstream(w, "Ошибка выборки неопубликованных файлов")
		return
	}
	if files == nil {
		files = []*model.FileRecord{}
	}

	writeJSON(w, http.StatusOK, listUnpublishedResponse{Success: true, Files: files})
}

// Publish: POST /api/file/publish.
//
// Ответы:
//   - 200: статусы применены; tags содержит результат снятия тегов по файлам
//   - 409: есть файлы в недопустимом статусе, ничего не изменено
//   - 502: статусы применены, но ни с одного файла не удалось снять теги
func (h *APIHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Publisher.Publish(r.Context(), req.IDs)
	if err != nil {
		var invalid *service.InvalidStatusError
		if errors.As(err, &invalid) {
			writeJSON(w, http.StatusConflict, publishRejectedResponse{
				Message: "Есть файлы в недопустимом статусе",
				Files:   invalid.Files,
			})
			return
		}
		h.writeServiceError(w, "publish", err)
		return
	}

	resp := publishResponse{
		Success: true,
		Message: fmt.Sprintf("Опубликовано файлов: %d", res.Published),
		IDs:     res.IDs,
		Tags:    res.Tags,
	}
	if resp.Tags == nil {
		resp.Tags = []service.TagResult{}
	}

	failed := res.TagFailures()
	switch {
	case failed > 0 && failed == len(res.Tags):
		resp.Success = false
		resp.Message = "Статусы применены, но снять теги не удалось ни с одного файла"
		writeJSON(w, http.StatusBadGateway, resp)
		return
	case failed > 0:
		resp.Message += fmt.Sprintf(", не сняты теги: %d", failed)
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseSince разбирает параметр since.
func parseSince(v string) (time.Time, error) {
	if v == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("некорректный since %q: ожидается RFC3339 или unix-время в мс", v)
	}
	return t, nil
}
