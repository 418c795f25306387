// upload.go: обработчики multipart-загрузки /api/s3/upload/*.
// Upload JWT (UploaderAuth) проверяется в middleware.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/docgate/internal/api/errors"
	"github.com/bigkaa/docgate/internal/api/middleware"
	"github.com/bigkaa/docgate/internal/storage/objectstore"
)

// Лимиты тела запроса с частью файла.
const (
	maxPartSize       = 64 << 20
	partFormOverhead  = 1 << 20
	partFormMaxMemory = 8 << 20
)

type startUploadRequest struct {
	Key string `json:"key"`
}

type startUploadResponse struct {
	Success  bool   `json:"success"`
	UploadID string `json:"uploadId"`
	Key      string `json:"key"`
}

type uploadPartResponse struct {
	Success    bool   `json:"success"`
	ETag       string `json:"etag"`
	PartNumber int    `json:"partNumber"`
}

type completeUploadRequest struct {
	Key      string             `json:"key"`
	UploadID string             `json:"uploadId"`
	Parts    []objectstore.Part `json:"parts"`
}

type completeUploadResponse struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
	ETag    string `json:"etag"`
	Size    int64  `json:"size"`
}

type abortUploadRequest struct {
	Key      string `json:"key"`
	UploadID string `json:"uploadId"`
}

// StartUpload: POST /api/s3/upload/mpu-start.
func (h *APIHandler) StartUpload(w http.ResponseWriter, r *http.Request) {
	var req startUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	uploader := middleware.UploaderFromContext(r.Context())
	res, err := h.Uploads.Start(r.Context(), req.Key, uploader)
	if err != nil {
		h.writeServiceError(w, "mpu_start", err)
		return
	}

	writeJSON(w, http.StatusOK, startUploadResponse{
		Success:  true,
		UploadID: res.UploadID,
		Key:      res.Key,
	})
}

// UploadPart: PUT /api/s3/upload/mpu-uploadpart.
// Тело: multipart/form-data с полями key, uploadId, partNumber, file.
func (h *APIHandler) UploadPart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPartSize+partFormOverhead)
	if err := r.ParseMultipartForm(partFormMaxMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.TooLarge(w, "Часть превышает допустимый размер")
			return
		}
		apierrors.ValidationError(w, "Некорректная multipart-форма: "+err.Error())
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	partNumber, err := strconv.Atoi(r.FormValue("partNumber"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный partNumber")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Отсутствует поле file")
		return
	}
	defer file.Close()

	part, err := h.Uploads.UploadPart(r.Context(),
		r.FormValue("key"), r.FormValue("uploadId"), partNumber, file, header.Size)
	if err != nil {
		h.writeServiceError(w, "mpu_uploadpart", err)
		return
	}

	writeJSON(w, http.StatusOK, uploadPartResponse{
		Success:    true,
		ETag:       part.ETag,
		PartNumber: part.PartNumber,
	})
}

// CompleteUpload: POST /api/s3/upload/mpu-complete.
func (h *APIHandler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	var req completeUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Uploads.Complete(r.Context(), req.Key, req.UploadID, req.Parts)
	if err != nil {
		h.writeServiceError(w, "mpu_complete", err)
		return
	}

	h.logger.Info("Загрузка завершена",
		slog.String("key", res.Key),
		slog.Int64("size", res.Size),
		slog.String("outcome", string(res.Outcome)),
	)
	writeJSON(w, http.StatusOK, completeUploadResponse{
		Success: true,
		Key:     res.Key,
		ETag:    res.ETag,
		Size:    res.Size,
	})
}

// AbortUpload: DELETE /api/s3/upload/mpu-abort.
func (h *APIHandler) AbortUpload(w http.ResponseWriter, r *http.Request) {
	var req abortUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.Uploads.Abort(r.Context(), req.Key, req.UploadID); err != nil {
		h.writeServiceError(w, "mpu_abort", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
