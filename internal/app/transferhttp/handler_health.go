package transferhttp

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"

	"github.com/sir_venger/file_transfer/internal/models"
	"github.com/sir_venger/file_transfer/pkg/httperrors"
)

// healthStats — payload ответа /health.
type healthStats struct {
	OK             bool  `json:"ok"`
	Sessions       int   `json:"sessions"`
	ChunkBytes     int64 `json:"chunk_bytes"`
	PublishedBytes int64 `json:"published_bytes"`
}

// health возвращает объём данных в каталогах чанков и публикаций.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	chunks, err := dirSize(s.cfg.ChunkDir)
	if err != nil {
		httperrors.Write(w, err)
		return
	}
	published, err := dirSize(s.cfg.PublishDir)
	if err != nil {
		httperrors.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, healthStats{
		OK:             true,
		Sessions:       len(s.svc.Sessions()),
		ChunkBytes:     chunks,
		PublishedBytes: published,
	})
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			// файл мог исчезнуть между ReadDir и Info
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: measure %s: %w", models.ErrStorage, root, err)
	}
	return total, nil
}
