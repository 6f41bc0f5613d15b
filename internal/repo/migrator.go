package meta

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*/*.sql
var migrationFiles embed.FS

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite3"
)

// ApplyMigrations запускает goose-миграции каталога, используя встроенные SQL файлы.
func ApplyMigrations(ctx context.Context, dsn string) error {
	kind, target, err := parseDSN(dsn)
	if err != nil {
		return err
	}

	switch kind {
	case kindMemory:
		return nil
	case kindSQLite:
		// OpenSQLite накатывает миграции сам.
		s, err := OpenSQLite(ctx, target)
		if err != nil {
			return err
		}
		return s.Close()
	}

	db, err := sql.Open("pgx", target)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	return migrateDB(ctx, db, dialectPostgres)
}

func migrateDB(ctx context.Context, db *sql.DB, dialect string) error {
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	goose.SetBaseFS(migrationFiles)
	goose.SetLogger(goose.NopLogger())

	dir := "migrations/postgres"
	if strings.HasPrefix(dialect, "sqlite") {
		dir = "migrations/sqlite"
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("goose up (%s): %w", dialect, err)
	}
	return nil
}
