package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"flarebin/internal/domain"
)

// PostgresStore хранит метаданные в PostgreSQL.
// Сводка хранится в тех же строках, листинг читает только её колонки.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type fileRow struct {
	ID          string `db:"id"`
	ObjectKey   string `db:"object_key"`
	ExpireAt    int64  `db:"expire_at"`
	AccessToken string `db:"access_token"`
	Filename    string `db:"filename"`
	ContentType string `db:"content_type"`
	SizeBytes   int64  `db:"size_bytes"`
}

func (r *PostgresStore) Get(ctx context.Context, id string) (*domain.FileRecord, error) {
	var record domain.FileRecord
	query := `
        SELECT object_key, expire_at, access_token, filename, content_type
        FROM files
        WHERE id = $1`

	err := r.db.GetContext(ctx, &record, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", id, err)
	}

	return &record, nil
}

// Put перезаписывает запись целиком: последний писатель побеждает
func (r *PostgresStore) Put(ctx context.Context, id string, record *domain.FileRecord, summary domain.FileSummary) error {
	query := `
        INSERT INTO files (id, object_key, expire_at, access_token, filename, content_type, size_bytes)
        VALUES (:id, :object_key, :expire_at, :access_token, :filename, :content_type, :size_bytes)
        ON CONFLICT (id) DO UPDATE SET
            object_key = EXCLUDED.object_key,
            expire_at = EXCLUDED.expire_at,
            access_token = EXCLUDED.access_token,
            filename = EXCLUDED.filename,
            content_type = EXCLUDED.content_type,
            size_bytes = EXCLUDED.size_bytes,
            updated_at = CURRENT_TIMESTAMP`

	row := fileRow{
		ID:          id,
		ObjectKey:   record.ObjectKey,
		ExpireAt:    summary.ExpireAt,
		AccessToken: summary.AccessToken,
		Filename:    summary.Filename,
		ContentType: record.ContentType,
		SizeBytes:   summary.Size,
	}

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to put file %s: %w", id, err)
	}
	return nil
}

func (r *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// List: keyset-пагинация по id; курсор: последний id предыдущей страницы
func (r *PostgresStore) List(ctx context.Context, cursor string, limit int) (*domain.Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	var rows []fileRow
	query := `
        SELECT id, expire_at, access_token, filename, size_bytes
        FROM files
        WHERE id > $1
        ORDER BY id
        LIMIT $2`

	// Читаем на одну строку больше, чтобы узнать, последняя ли это страница
	if err := r.db.SelectContext(ctx, &rows, query, cursor, limit+1); err != nil {
		return nil, fmt.Errorf("failed to list files after %q: %w", cursor, err)
	}

	page := &domain.Page{Complete: len(rows) <= limit}
	if !page.Complete {
		rows = rows[:limit]
	}

	page.Entries = make([]domain.FileEntry, 0, len(rows))
	for _, row := range rows {
		page.Entries = append(page.Entries, domain.FileEntry{
			ID: row.ID,
			Summary: domain.FileSummary{
				ExpireAt:    row.ExpireAt,
				AccessToken: row.AccessToken,
				Size:        row.SizeBytes,
				Filename:    row.Filename,
			},
		})
	}
	if len(rows) > 0 {
		page.NextCursor = rows[len(rows)-1].ID
	}

	return page, nil
}

// Ping проверяет соединение для /healthz
func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
