package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/sir_venger/file_transfer/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore хранит каталог во встроенной SQLite-базе; время публикации пишется в unix-наносекундах.
type SQLiteStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// OpenSQLite открывает (или создаёт) базу по пути и накатывает миграции.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrateDB(ctx, db, dialectSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Question).RunWith(db),
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, identifier string) (models.PublishedFile, error) {
	row := s.sb.Select(publishedColumns...).
		From(publishedTable).
		Where(sq.Eq{"identifier": identifier}).
		Limit(1).
		QueryRowContext(ctx)

	f, err := scanSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PublishedFile{}, fmt.Errorf("%w: %s", models.ErrNotFound, identifier)
		}
		return models.PublishedFile{}, fmt.Errorf("scan published row: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) Save(ctx context.Context, f models.PublishedFile) error {
	if strings.TrimSpace(f.Identifier) == "" {
		return fmt.Errorf("identifier is empty")
	}

	_, err := s.sb.Insert(publishedTable).
		Columns(publishedColumns...).
		Values(f.Identifier, f.ID, f.Name, f.PublicName, f.Path, f.Size, f.Type, f.Checksum, f.TotalChunks, f.PublishedAt.UnixNano()).
		Suffix(upsertSuffix).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("exec upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, identifier string) error {
	if _, err := s.sb.Delete(publishedTable).Where(sq.Eq{"identifier": identifier}).ExecContext(ctx); err != nil {
		return fmt.Errorf("exec delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.PublishedFile, error) {
	rows, err := s.sb.Select(publishedColumns...).From(publishedTable).OrderBy("public_name").QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query list: %w", err)
	}
	defer rows.Close()

	var out []models.PublishedFile
	for rows.Next() {
		f, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan published row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (models.PublishedFile, error) {
	var (
		f  models.PublishedFile
		at int64
	)
	err := row.Scan(&f.Identifier, &f.ID, &f.Name, &f.PublicName, &f.Path, &f.Size, &f.Type, &f.Checksum, &f.TotalChunks, &at)
	f.PublishedAt = time.Unix(0, at).UTC()
	return f, err
}
