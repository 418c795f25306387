package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/docgate/internal/domain/model"
	"github.com/bigkaa/docgate/internal/domain/status"
)

// fileColumns: список столбцов таблицы file для SELECT-запросов.
const fileColumns = `id, created_at, file_name, file_size, uploader,
	upload_time, status, error_message`

// TransitionFields: поля, обновляемые вместе со статусом.
// nil: поле не меняется.
type TransitionFields struct {
	FileSize     *int64
	UploadTime   *time.Time
	ErrorMessage *string
}

// FileRepository: доступ к записям файлов.
type FileRepository interface {
	// Replace удаляет все прежние записи с тем же именем объекта и создаёт
	// новую Pending-запись. Заполняет ID, CreatedAt и Status.
	Replace(ctx context.Context, f *model.FileRecord) error
	// GetByIDs возвращает записи по списку id (отсутствующие пропускаются).
	GetByIDs(ctx context.Context, ids []int64) ([]*model.FileRecord, error)
	// FindPending возвращает Pending-запись по имени объекта или ErrNotFound.
	FindPending(ctx context.Context, fileName string) (*model.FileRecord, error)
	// OutstandingSize: сумма размеров Uploaded-записей загрузившего.
	OutstandingSize(ctx context.Context, uploader string) (int64, error)
	// Transition выполняет условный переход from → to.
	// Возвращает false, если запись уже не в статусе from.
	Transition(ctx context.Context, id int64, from, to status.Status, fields TransitionFields) (bool, error)
	// PublishUploaded переводит Uploaded-записи из ids в Published.
	// Возвращает число изменённых строк.
	PublishUploaded(ctx context.Context, ids []int64) (int64, error)
	// ListUnpublished возвращает Uploaded-записи, созданные не раньше since.
	ListUnpublished(ctx context.Context, since time.Time) ([]*model.FileRecord, error)
	// ListStale возвращает Pending-записи старше pendingBefore
	// и Uploaded-записи старше uploadedBefore.
	ListStale(ctx context.Context, pendingBefore, uploadedBefore time.Time) ([]*model.FileRecord, error)
}

// fileRepo: реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Replace(ctx context.Context, f *model.FileRecord) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM file WHERE file_name = $1`, f.FileName); err != nil {
		return fmt.Errorf("ошибка удаления прежних записей %s: %w", f.FileName, err)
	}

	query := `
		INSERT INTO file (file_name, uploader, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query, f.FileName, f.Uploader, string(status.Pending)).
		Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		// Параллельный start с тем же ключом успел вставить свою запись
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: активная запись %s уже существует", ErrConflict, f.FileName)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	f.Status = status.Pending
	return nil
}

func (r *fileRepo) GetByIDs(ctx context.Context, ids []int64) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM file WHERE id = ANY($1) ORDER BY id`, fileColumns)
	return r.queryFiles(ctx, query, ids)
}

func (r *fileRepo) FindPending(ctx context.Context, fileName string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM file
		WHERE file_name = $1 AND status = $2
		ORDER BY id DESC
		LIMIT 1`, fileColumns)

	f, err := scanFile(r.db.QueryRow(ctx, query, fileName, string(status.Pending)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска Pending-записи: %w", err)
	}
	return f, nil
}

func (r *fileRepo) OutstandingSize(ctx context.Context, uploader string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(file_size), 0)
		FROM file
		WHERE uploader = $1 AND status = $2`

	var total int64
	if err := r.db.QueryRow(ctx, query, uploader, string(status.Uploaded)).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта неопубликованного объёма: %w", err)
	}
	return total, nil
}

func (r *fileRepo) Transition(ctx context.Context, id int64, from, to status.Status, fields TransitionFields) (bool, error) {
	if err := status.ValidateTransition(from, to); err != nil {
		return false, err
	}

	query := `
		UPDATE file
		SET status = $3,
			file_size = COALESCE($4, file_size),
			upload_time = COALESCE($5, upload_time),
			error_message = $6
		WHERE id = $1 AND status = $2`

	tag, err := r.db.Exec(ctx, query,
		id, string(from), string(to),
		fields.FileSize, fields.UploadTime, fields.ErrorMessage,
	)
	if err != nil {
		return false, fmt.Errorf("ошибка перехода %s → %s для записи %d: %w", from, to, id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *fileRepo) PublishUploaded(ctx context.Context, ids []int64) (int64, error) {
	query := `UPDATE file SET status = $2 WHERE id = ANY($1) AND status = $3`

	tag, err := r.db.Exec(ctx, query, ids, string(status.Published), string(status.Uploaded))
	if err != nil {
		return 0, fmt.Errorf("ошибка публикации файлов: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *fileRepo) ListUnpublished(ctx context.Context, since time.Time) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM file
		WHERE status = $1 AND created_at >= $2
		ORDER BY created_at`, fileColumns)
	return r.queryFiles(ctx, query, string(status.Uploaded), since)
}

func (r *fileRepo) ListStale(ctx context.Context, pendingBefore, uploadedBefore time.Time) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM file
		WHERE (status = $1 AND created_at < $2)
		   OR (status = $3 AND created_at < $4)
		ORDER BY id`, fileColumns)
	return r.queryFiles(ctx, query,
		string(status.Pending), pendingBefore,
		string(status.Uploaded), uploadedBefore,
	)
}

// queryFiles выполняет SELECT и сканирует все строки.
func (r *fileRepo) queryFiles(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// scanFile сканирует одну строку в порядке fileColumns.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	var st string
	if err := row.Scan(
		&f.ID, &f.CreatedAt, &f.FileName, &f.FileSize, &f.Uploader,
		&f.UploadTime, &st, &f.ErrorMessage,
	); err != nil {
		return nil, err
	}
	f.Status = status.Status(st)
	return f, nil
}
