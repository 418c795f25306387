package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bigkaa/docgate/internal/domain/model"
	"github.com/bigkaa/docgate/internal/domain/status"
	"github.com/bigkaa/docgate/internal/service"
)

func TestParseSince(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{"пусто: epoch", "", time.Unix(0, 0).UTC(), false},
		{"unix-ms", "1700000000000", time.UnixMilli(1700000000000).UTC(), false},
		{"RFC3339", "2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"мусор", "вчера", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSince(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ошибка = %v, ожидалась ошибка: %v", err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseSince(%q) = %v, ожидалось %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestListUnpublished(t *testing.T) {
	size := int64(10)
	lister := &mockLister{files: []*model.FileRecord{
		{ID: 7, FileName: testKey, FileSize: &size, Uploader: testUploader, Status: status.Uploaded},
	}}
	h := newTestHandler(t, Deps{Files: lister})

	req := httptest.NewRequest(http.MethodGet, "/api/file/notPublished?since=1700000000000", nil)
	rec := httptest.NewRecorder()
	h.ListUnpublished(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	if !lister.since.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("since передан неверно: %v", lister.since)
	}

	var resp struct {
		Success bool `json:"success"`
		Files   []struct {
			ID       int64  `json:"id"`
			FileName string `json:"fileName"`
			Status   string `json:"status"`
		} `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || len(resp.Files) != 1 || resp.Files[0].ID != 7 || resp.Files[0].Status != "Uploaded" {
		t.Errorf("неожиданный ответ: %s", rec.Body.String())
	}
}

func TestListUnpublished_EmptyAndErrors(t *testing.T) {
	h := newTestHandler(t, Deps{Files: &mockLister{}})

	rec := httptest.NewRecorder()
	h.ListUnpublished(rec, httptest.NewRequest(http.MethodGet, "/api/file/notPublished", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}
	var resp map[string]json.RawMessage
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if string(resp["files"]) != "[]" {
		t.Errorf("пустой список должен быть [], получено %s", resp["files"])
	}

	rec = httptest.NewRecorder()
	h.ListUnpublished(rec, httptest.NewRequest(http.MethodGet, "/api/file/notPublished?since=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ожидался статус 400, получен %d", rec.Code)
	}

	failing := newTestHandler(t, Deps{Files: &mockLister{listFn: func() error { return errors.New("db") }}})
	rec = httptest.NewRecorder()
	failing.ListUnpublished(rec, httptest.NewRequest(http.MethodGet, "/api/file/notPublished", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("ожидался статус 502, получен %d", rec.Code)
	}
}

func TestPublish(t *testing.T) {
	tests := []struct {
		name        string
		result      *service.PublishResult
		err         error
		wantCode    int
		wantSuccess bool
	}{
		{
			name: "успех",
			result: &service.PublishResult{IDs: []int64{1, 2}, Published: 2, Tags: []service.TagResult{
				{ID: 1, Success: true}, {ID: 2, Success: true},
			}},
			wantCode:    http.StatusOK,
			wantSuccess: true,
		},
		{
			name: "часть тегов не снята",
			result: &service.PublishResult{IDs: []int64{1, 2}, Published: 2, Tags: []service.TagResult{
				{ID: 1, Success: true}, {ID: 2, Success: false, Error: "timeout"},
			}},
			wantCode:    http.StatusOK,
			wantSuccess: true,
		},
		{
			name: "все теги не сняты",
			result: &service.PublishResult{IDs: []int64{1}, Published: 1, Tags: []service.TagResult{
				{ID: 1, Success: false, Error: "timeout"},
			}},
			wantCode:    http.StatusBadGateway,
			wantSuccess: false,
		},
		{
			name:        "повторная публикация",
			result:      &service.PublishResult{IDs: []int64{1}},
			wantCode:    http.StatusOK,
			wantSuccess: true,
		},
		{
			name:     "пустой список",
			err:      service.ErrValidation,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, Deps{Publisher: &mockPublisher{
				publishFn: func(context.Context, []int64) (*service.PublishResult, error) {
					return tt.result, tt.err
				},
			}})

			rec := httptest.NewRecorder()
			h.Publish(rec, jsonRequest(t, http.MethodPost, "/api/file/publish", map[string]any{"ids": []int64{1, 2}}))

			if rec.Code != tt.wantCode {
				t.Fatalf("ожидался статус %d, получен %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if tt.err != nil {
				return
			}
			var resp publishResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Success != tt.wantSuccess {
				t.Errorf("success = %v, ожидалось %v", resp.Success, tt.wantSuccess)
			}
			if resp.Tags == nil {
				t.Error("tags должен быть массивом")
			}
		})
	}
}

func TestPublish_InvalidStatus(t *testing.T) {
	h := newTestHandler(t, Deps{Publisher: &mockPublisher{
		publishFn: func(context.Context, []int64) (*service.PublishResult, error) {
			return nil, &service.InvalidStatusError{Files: []model.StatusEntry{{ID: 3, Status: status.Pending}}}
		},
	}})

	rec := httptest.NewRecorder()
	h.Publish(rec, jsonRequest(t, http.MethodPost, "/api/file/publish", map[string]any{"ids": []int64{3}}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("ожидался статус 409, получен %d", rec.Code)
	}
	var resp publishRejectedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Success || len(resp.Files) != 1 || resp.Files[0].ID != 3 || resp.Files[0].Status != status.Pending {
		t.Errorf("неожиданный ответ: %s", rec.Body.String())
	}
}
