// files.go: выдача файлов.
// GET /files/*: через Access Gate и edge cache (DeliveryService).
// GET /api/s3/files/*: прямое скачивание для upload-токенов с download=true.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docgate/internal/api/errors"
	"github.com/bigkaa/docgate/internal/gate"
	"github.com/bigkaa/docgate/internal/service"
	"github.com/bigkaa/docgate/internal/storage/objectstore"
)

// notFoundBody: тело ответа 404 при выдаче файлов.
const notFoundBody = "Object Not Found"

// ServeFile: GET /files/*.
func (h *APIHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		http.Error(w, notFoundBody, http.StatusNotFound)
		return
	}

	err := h.Delivery.Serve(w, r, key)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrAccessDenied):
		http.Redirect(w, r, gate.LoginRedirect(r.URL.Path, r.URL.Query()), http.StatusFound)
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, notFoundBody, http.StatusNotFound)
	case errors.Is(err, service.ErrPreconditionFailed):
		w.WriteHeader(http.StatusPreconditionFailed)
	default:
		h.logger.Error("Ошибка выдачи файла",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}
}

// DownloadDirect: GET /api/s3/files/*.
// Без Access Gate, кэша и счётчиков. Право проверяет RequireDownload.
func (h *APIHandler) DownloadDirect(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")

	var opts objectstore.GetOptions
	if spec, ok := objectstore.ParseRange(r.Header.Get("Range")); ok {
		opts.Range = spec
	}

	obj, err := h.Store.Get(r.Context(), key, opts)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			apierrors.NotFound(w, "Файл не найден")
			return
		}
		h.logger.Error("Ошибка прямого скачивания",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		apierrors.Upstream(w, "Ошибка хранилища")
		return
	}
	defer obj.Body.Close()

	status := http.StatusOK
	length := obj.Info.Size
	hdr := w.Header()
	hdr.Set("Content-Type", obj.Info.ContentType)
	hdr.Set("ETag", `"`+obj.Info.ETag+`"`)
	hdr.Set("Accept-Ranges", "bytes")
	if obj.Range != nil {
		status = http.StatusPartialContent
		length = obj.Range.Length
		hdr.Set("Content-Range", obj.Range.ContentRange(obj.Info.Size))
	}
	hdr.Set("Content-Length", strconv.FormatInt(length, 10))
	if name := r.URL.Query().Get("filename"); name != "" {
		hdr.Set("Content-Disposition", service.ContentDisposition(name))
	}
	w.WriteHeader(status)

	if n, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Error("Ошибка streaming",
			slog.String("key", key),
			slog.Int64("bytes_written", n),
			slog.String("error", err.Error()),
		)
	}
}
