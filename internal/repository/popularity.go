package repository

import (
	"context"
	"fmt"
)

// PopularityRepository: хранилище счётчиков обращений.
// Пишет в него только актор popularity-счётчика.
type PopularityRepository interface {
	// LoadAll возвращает все счётчики.
	LoadAll(ctx context.Context) (map[string]int64, error)
	// Increment увеличивает счётчик path на 1 (создаёт при отсутствии).
	Increment(ctx context.Context, path string) error
}

type popularityRepo struct {
	db DBTX
}

// NewPopularityRepository создаёт репозиторий счётчиков.
func NewPopularityRepository(db DBTX) PopularityRepository {
	return &popularityRepo{db: db}
}

func (r *popularityRepo) LoadAll(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT path, count FROM popularity`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения счётчиков: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var path string
		var count int64
		if err := rows.Scan(&path, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования счётчика: %w", err)
		}
		result[path] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации счётчиков: %w", err)
	}
	return result, nil
}

func (r *popularityRepo) Increment(ctx context.Context, path string) error {
	query := `
		INSERT INTO popularity (path, count) VALUES ($1, 1)
		ON CONFLICT (path) DO UPDATE SET count = popularity.count + 1`

	if _, err := r.db.Exec(ctx, query, path); err != nil {
		return fmt.Errorf("ошибка увеличения счётчика %s: %w", path, err)
	}
	return nil
}
