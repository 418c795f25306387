// webhook.go: обработчик POST /api/s3/webhook.
// Уведомления S3/MinIO о создании объектов. Авторизация: Bearer DG_TOKEN.
package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	apierrors "github.com/bigkaa/docgate/internal/api/errors"
	"github.com/bigkaa/docgate/internal/service"
)

// s3Notification: тело уведомления в формате S3 event notification.
type s3Notification struct {
	EventName string          `json:"EventName"`
	Records   []s3EventRecord `json:"Records"`
}

type s3EventRecord struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
			ETag string `json:"eTag"`
		} `json:"object"`
	} `json:"s3"`
}

type webhookResponse struct {
	Success  bool `json:"success"`
	Uploaded int  `json:"uploaded"`
	Rejected int  `json:"rejected"`
	Skipped  int  `json:"skipped"`
}

// toNotification переводит тело уведомления в service.Notification.
// Ключи объектов в уведомлениях URL-кодированы.
func (n *s3Notification) toNotification() service.Notification {
	out := service.Notification{EventName: n.EventName}
	for _, rec := range n.Records {
		if out.EventName == "" && rec.EventName != "" {
			out.EventName = rec.EventName
			if !strings.HasPrefix(out.EventName, "s3:") {
				out.EventName = "s3:" + out.EventName
			}
		}
		key := rec.S3.Object.Key
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		out.Records = append(out.Records, service.NotificationRecord{
			Bucket: rec.S3.Bucket.Name,
			Key:    key,
			Size:   rec.S3.Object.Size,
			ETag:   rec.S3.Object.ETag,
		})
	}
	return out
}

// StoreWebhook: POST /api/s3/webhook.
// Ошибка обработки отдаётся как 502: хранилище повторит доставку,
// повторная обработка безопасна.
func (h *APIHandler) StoreWebhook(w http.ResponseWriter, r *http.Request) {
	var body s3Notification
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := h.Reconciler.Handle(r.Context(), body.toNotification())
	if err != nil {
		h.logger.Error("Ошибка обработки уведомления хранилища",
			slog.String("event", body.EventName),
			slog.String("error", err.Error()),
		)
		apierrors.Upstream(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Success:  true,
		Uploaded: res.Uploaded,
		Rejected: res.Rejected,
		Skipped:  res.Skipped,
	})
}
