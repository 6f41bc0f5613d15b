package meta

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sir_venger/file_transfer/internal/models"
	"github.com/stretchr/testify/require"
)

func published(identifier, name string) models.PublishedFile {
	return models.PublishedFile{
		ID:          uuid.NewString(),
		Identifier:  identifier,
		Name:        name,
		PublicName:  name,
		Path:        "/srv/pub/" + name,
		Size:        2100,
		Type:        "application/octet-stream",
		Checksum:    "ab12",
		TotalChunks: 3,
		PublishedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "abc123")
	require.ErrorIs(t, err, models.ErrNotFound)

	f := published("abc123", "b.bin")
	require.NoError(t, s.Save(ctx, f))
	require.NoError(t, s.Save(ctx, published("zzz", "a.bin")))

	got, err := s.Get(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, f, got)

	// повторный Save обновляет запись
	f.Size = 4200
	require.NoError(t, s.Save(ctx, f))
	got, err = s.Get(ctx, "abc123")
	require.NoError(t, err)
	require.EqualValues(t, 4200, got.Size)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "a.bin", list[0].PublicName)

	require.NoError(t, s.Delete(ctx, "abc123"))
	require.NoError(t, s.Delete(ctx, "abc123"))
	_, err = s.Get(ctx, "abc123")
	require.ErrorIs(t, err, models.ErrNotFound)

	require.Error(t, s.Save(ctx, models.PublishedFile{}))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(context.Background(), "sqlite://"+path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)

	// повторное открытие не ломается на уже применённых миграциях
	again, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		kind    dsnKind
		target  string
		wantErr bool
	}{
		{dsn: "", kind: kindMemory},
		{dsn: "memory://", kind: kindMemory},
		{dsn: "postgres://u:p@localhost:5432/db", kind: kindPostgres, target: "postgres://u:p@localhost:5432/db"},
		{dsn: "postgresql://localhost/db", kind: kindPostgres, target: "postgresql://localhost/db"},
		{dsn: "sqlite:///var/lib/transfer/catalog.db", kind: kindSQLite, target: "/var/lib/transfer/catalog.db"},
		{dsn: "sqlite://", wantErr: true},
		{dsn: "mysql://localhost", wantErr: true},
	}
	for _, tt := range tests {
		kind, target, err := parseDSN(tt.dsn)
		if tt.wantErr {
			require.Error(t, err, tt.dsn)
			continue
		}
		require.NoError(t, err, tt.dsn)
		require.Equal(t, tt.kind, kind, tt.dsn)
		require.Equal(t, tt.target, target, tt.dsn)
	}
}
