package chunkstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sir_venger/file_transfer/internal/models"
)

// Manifest хранится рядом с чанками и позволяет восстановить сессию после рестарта.
type Manifest struct {
	models.UploadMeta
	Status     models.Status `json:"status"`
	FailReason string        `json:"fail_reason,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ManifestOf снимает манифест с сессии.
func ManifestOf(s models.Session) Manifest {
	return Manifest{
		UploadMeta: s.UploadMeta,
		Status:     s.Status,
		FailReason: s.FailReason,
		CreatedAt:  s.CreatedAt,
	}
}

// WriteManifest атомарно перезаписывает meta.json идентификатора.
func (d *Disk) WriteManifest(m Manifest) error {
	dir := d.dir(m.Identifier)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storageErr("create chunk dir", err)
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp := filepath.Join(dir, metaFileName+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		_ = os.Remove(tmp)
		return storageErr("write manifest", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, metaFileName)); err != nil {
		_ = os.Remove(tmp)
		return storageErr("commit manifest", err)
	}
	syncDir(dir)

	return nil
}

// ReadManifest читает meta.json идентификатора.
func (d *Disk) ReadManifest(id string) (Manifest, error) {
	b, err := os.ReadFile(filepath.Join(d.dir(id), metaFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, fmt.Errorf("%w: manifest of %s", models.ErrNotFound, id)
		}
		return Manifest{}, storageErr("read manifest", err)
	}

	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: decode manifest of %s: %w", models.ErrStorage, id, err)
	}
	if m.Identifier == "" {
		m.Identifier = id
	}

	return m, nil
}
