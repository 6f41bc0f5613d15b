package chunkstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sir_venger/file_transfer/internal/models"
)

const (
	partFilenameFormat = "%06d.part"
	partSuffix         = ".part"
	metaFileName       = "meta.json"
	incomingDir        = ".incoming"
)

// Disk хранит чанки в файловой системе.
type Disk struct {
	root string
	log  zerolog.Logger
}

// New создаёт корневой каталог и каталог приёма.
func New(root string, log zerolog.Logger) (*Disk, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("chunk root is empty")
	}
	if err := os.MkdirAll(filepath.Join(root, incomingDir), 0o755); err != nil {
		return nil, storageErr("create chunk root", err)
	}

	return &Disk{root: root, log: log}, nil
}

// Root возвращает корневой каталог хранилища.
func (d *Disk) Root() string { return d.root }

// Put записывает чанк и делает его видимым по ключу (identifier, n).
// size < 0 отключает проверку длины.
func (d *Disk) Put(ctx context.Context, id string, n int, r io.Reader, size int64) (int64, error) {
	st, err := d.Stage(ctx, id, n, r, size)
	if err != nil {
		return 0, err
	}
	if err := st.Commit(); err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Open открывает чанк на чтение и возвращает его размер.
func (d *Disk) Open(id string, n int) (io.ReadCloser, int64, error) {
	f, err := os.Open(d.partPath(id, n))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: chunk %d of %s", models.ErrNotFound, n, id)
		}
		return nil, 0, storageErr("open chunk", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, storageErr("stat chunk", err)
	}

	return f, fi.Size(), nil
}

// Get читает чанк целиком.
func (d *Disk) Get(id string, n int) ([]byte, error) {
	rc, _, err := d.Open(id, n)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, storageErr("read chunk", err)
	}
	return b, nil
}

// Size возвращает размер сохранённого чанка.
func (d *Disk) Size(id string, n int) (int64, error) {
	fi, err := os.Stat(d.partPath(id, n))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: chunk %d of %s", models.ErrNotFound, n, id)
		}
		return 0, storageErr("stat chunk", err)
	}
	return fi.Size(), nil
}

// ListPresent возвращает номера сохранённых чанков по возрастанию.
func (d *Disk) ListPresent(id string) ([]int, error) {
	entries, err := os.ReadDir(d.dir(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, storageErr("list chunks", err)
	}

	var out []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, partSuffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, partSuffix))
		if err != nil || n < 1 {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)

	return out, nil
}

// DeleteAll удаляет все чанки и манифест идентификатора.
func (d *Disk) DeleteAll(id string) error {
	if err := os.RemoveAll(d.dir(id)); err != nil {
		return storageErr("delete chunks", err)
	}
	return nil
}

// Identifiers перечисляет идентификаторы, для которых на диске есть каталог.
func (d *Disk) Identifiers() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, storageErr("list identifiers", err)
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == incomingDir {
			continue
		}
		id, ok := decodeID(e.Name())
		if !ok {
			d.log.Warn().Str("dir", e.Name()).Msg("skip foreign directory in chunk root")
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)

	return out, nil
}

func (d *Disk) dir(id string) string {
	return filepath.Join(d.root, encodeID(id))
}

func (d *Disk) partPath(id string, n int) string {
	return filepath.Join(d.dir(id), fmt.Sprintf(partFilenameFormat, n))
}

func encodeID(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func decodeID(name string) (string, bool) {
	b, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil || len(b) == 0 {
		return "", false
	}
	return string(b), true
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrStorage, op, err)
}

// syncDir фиксирует rename в каталоге; ошибки игнорируются, не все ФС это умеют.
func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	_ = f.Close()
}
