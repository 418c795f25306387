package objectstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// metaSuffix: суффикс сопутствующего файла метаданных объекта.
const metaSuffix = ".meta.json"

// objectMeta: метаданные объекта local-бэкенда.
// Файл метаданных: единственный источник истины для ETag и тегов.
type objectMeta struct {
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type"`
	CreatedAt   time.Time         `json:"created_at"`
	Tags        map[string]string `json:"tags,omitempty"`
}

func metaPath(dataPath string) string {
	return dataPath + metaSuffix
}

// writeMeta атомарно записывает метаданные: temp → fsync → rename.
func writeMeta(path string, meta *objectMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", filepath.Dir(path), err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// readMeta читает метаданные. Отсутствующий файл: ErrNotFound.
func readMeta(path string) (*objectMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения метаданных %s: %w", path, err)
	}

	var meta objectMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("ошибка десериализации метаданных %s: %w", path, err)
	}
	return &meta, nil
}
