package meta

import (
	"context"
	"fmt"
	"strings"
)

type dsnKind int

const (
	kindMemory dsnKind = iota
	kindPostgres
	kindSQLite
)

// Open выбирает реализацию каталога по схеме DSN:
// memory:// (или пусто), postgres:// | postgresql://, sqlite://<path>.
func Open(ctx context.Context, dsn string) (Store, error) {
	kind, target, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	switch kind {
	case kindPostgres:
		return OpenPostgres(ctx, target)
	case kindSQLite:
		return OpenSQLite(ctx, target)
	default:
		return NewMemoryStore(), nil
	}
}

func parseDSN(dsn string) (dsnKind, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "" || strings.HasPrefix(dsn, "memory://"):
		return kindMemory, "", nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return kindPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return 0, "", fmt.Errorf("sqlite dsn has no path")
		}
		return kindSQLite, path, nil
	default:
		return 0, "", fmt.Errorf("unsupported catalog dsn %q", dsn)
	}
}
