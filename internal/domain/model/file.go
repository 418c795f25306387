// Пакет model: доменные модели docgate.
package model

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/bigkaa/docgate/internal/domain/status"
)

// KeyPattern: формат content-addressed имени файла: 32 hex-символа + расширение.
var KeyPattern = regexp.MustCompile(`^[0-9a-f]{32}\.(zip|pdf)$`)

// ValidKey проверяет имя объекта на соответствие KeyPattern.
func ValidKey(key string) bool {
	return KeyPattern.MatchString(key)
}

// FileRecord: запись файла. Хранится в таблице file.
type FileRecord struct {
	// ID: автоинкрементный идентификатор
	ID int64
	// CreatedAt: время создания записи (начало загрузки)
	CreatedAt time.Time
	// FileName: имя объекта в хранилище (KeyPattern)
	FileName string
	// FileSize: размер в байтах, nil до завершения загрузки
	FileSize *int64
	// Uploader: идентификатор загрузившего (claim id из JWT)
	Uploader string
	// UploadTime: время завершения загрузки
	UploadTime *time.Time
	// Status: текущий статус записи
	Status status.Status
	// ErrorMessage: причина отклонения, только для статуса Error
	ErrorMessage *string
}

// fileRecordJSON: JSON-представление записи для внешнего API
// (camelCase, как у клиента публикующего сайта).
type fileRecordJSON struct {
	ID           int64      `json:"id"`
	CreatedAt    time.Time  `json:"createdAt"`
	FileName     string     `json:"fileName"`
	FileSize     *int64     `json:"fileSize"`
	Uploader     string     `json:"uploader"`
	UploadTime   *time.Time `json:"uploadTime"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"errorMessage"`
}

// MarshalJSON реализует json.Marshaler.
func (f FileRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(fileRecordJSON{
		ID:           f.ID,
		CreatedAt:    f.CreatedAt,
		FileName:     f.FileName,
		FileSize:     f.FileSize,
		Uploader:     f.Uploader,
		UploadTime:   f.UploadTime,
		Status:       string(f.Status),
		ErrorMessage: f.ErrorMessage,
	})
}

// StatusEntry: пара (id, статус), отчёт о несоответствии при публикации.
type StatusEntry struct {
	ID     int64         `json:"id"`
	Status status.Status `json:"status"`
}
