package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sir_venger/file_transfer/internal/models"
)

const publishedTable = "published_files"

var publishedColumns = []string{
	"identifier", "id", "name", "public_name", "path", "size", "type", "sha256", "total_chunks", "published_at",
}

const upsertSuffix = `
ON CONFLICT (identifier) DO UPDATE
SET id           = EXCLUDED.id,
	name         = EXCLUDED.name,
	public_name  = EXCLUDED.public_name,
	path         = EXCLUDED.path,
	size         = EXCLUDED.size,
	type         = EXCLUDED.type,
	sha256       = EXCLUDED.sha256,
	total_chunks = EXCLUDED.total_chunks,
	published_at = EXCLUDED.published_at`

// PGStore хранит каталог в Postgres.
type PGStore struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

// OpenPostgres создаёт пул подключений. Схему создаёт cmd/migrate.
func OpenPostgres(ctx context.Context, dsn string) (*PGStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("catalog dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return &PGStore{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Get возвращает запись каталога по идентификатору загрузки.
func (s *PGStore) Get(ctx context.Context, identifier string) (models.PublishedFile, error) {
	sqlStr, args, err := s.sb.Select(publishedColumns...).
		From(publishedTable).
		Where(sq.Eq{"identifier": identifier}).
		Limit(1).
		ToSql()
	if err != nil {
		return models.PublishedFile{}, fmt.Errorf("build select: %w", err)
	}

	f, err := scanPG(s.pool.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PublishedFile{}, fmt.Errorf("%w: %s", models.ErrNotFound, identifier)
		}
		return models.PublishedFile{}, fmt.Errorf("scan published row: %w", err)
	}
	return f, nil
}

// Save записывает (или обновляет) запись каталога.
func (s *PGStore) Save(ctx context.Context, f models.PublishedFile) error {
	if strings.TrimSpace(f.Identifier) == "" {
		return fmt.Errorf("identifier is empty")
	}

	sqlStr, args, err := s.sb.Insert(publishedTable).
		Columns(publishedColumns...).
		Values(f.Identifier, f.ID, f.Name, f.PublicName, f.Path, f.Size, f.Type, f.Checksum, f.TotalChunks, f.PublishedAt.UTC()).
		Suffix(upsertSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert sql: %w", err)
	}

	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("exec upsert: %w", err)
	}
	return nil
}

// Delete удаляет запись каталога.
func (s *PGStore) Delete(ctx context.Context, identifier string) error {
	sqlStr, args, err := s.sb.Delete(publishedTable).Where(sq.Eq{"identifier": identifier}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("exec delete: %w", err)
	}
	return nil
}

// List возвращает весь каталог, отсортированный по публичному имени.
func (s *PGStore) List(ctx context.Context) ([]models.PublishedFile, error) {
	sqlStr, args, err := s.sb.Select(publishedColumns...).From(publishedTable).OrderBy("public_name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query list: %w", err)
	}
	defer rows.Close()

	var out []models.PublishedFile
	for rows.Next() {
		f, err := scanPG(rows)
		if err != nil {
			return nil, fmt.Errorf("scan published row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close освобождает подключения пула.
func (s *PGStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func scanPG(row pgx.Row) (models.PublishedFile, error) {
	var (
		f  models.PublishedFile
		at time.Time
	)
	err := row.Scan(&f.Identifier, &f.ID, &f.Name, &f.PublicName, &f.Path, &f.Size, &f.Type, &f.Checksum, &f.TotalChunks, &at)
	f.PublishedAt = at.UTC()
	return f, err
}
