package chunkstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sir_venger/file_transfer/internal/models"
)

// Staged хранит принятый во временный файл чанк, ещё не видимый по своему ключу.
// Должен быть завершён ровно одним вызовом Commit или Discard.
type Staged struct {
	d    *Disk
	id   string
	n    int
	tmp  string
	size int64
	sum  string
	done bool
}

// Stage принимает тело чанка во временный файл и сверяет длину с size.
// Несовпадение длины считается ошибкой валидации, состояние хранилища не меняется.
func (d *Disk) Stage(ctx context.Context, id string, n int, r io.Reader, size int64) (*Staged, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: chunk number %d", models.ErrValidation, n)
	}

	tmp := filepath.Join(d.root, incomingDir, uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, storageErr("create staged chunk", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	src := r
	if size >= 0 {
		// Читаем на байт больше, чтобы заметить слишком длинное тело.
		src = io.LimitReader(r, size+1)
	}

	h := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, h), src)
	if err != nil {
		cleanup()
		return nil, storageErr("receive chunk", err)
	}
	if size >= 0 && written != size {
		cleanup()
		return nil, fmt.Errorf("%w: chunk %d payload has %d bytes, want %d", models.ErrValidation, n, written, size)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return nil, storageErr("sync staged chunk", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return nil, storageErr("close staged chunk", err)
	}

	return &Staged{
		d:    d,
		id:   id,
		n:    n,
		tmp:  tmp,
		size: written,
		sum:  hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func (s *Staged) Size() int64 { return s.size }

// Sha256 возвращает hex-хеш принятого тела.
func (s *Staged) Sha256() string { return s.sum }

// Commit атомарно публикует чанк по ключу, перезаписывая прежнее содержимое.
func (s *Staged) Commit() error {
	if s.done {
		return errors.New("staged chunk already finalized")
	}
	s.done = true

	dir := s.d.dir(s.id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = os.Remove(s.tmp)
		return storageErr("create chunk dir", err)
	}
	if err := os.Rename(s.tmp, s.d.partPath(s.id, s.n)); err != nil {
		_ = os.Remove(s.tmp)
		return storageErr("commit chunk", err)
	}
	syncDir(dir)

	return nil
}

// Discard удаляет временный файл. Повторный вызов безопасен.
func (s *Staged) Discard() {
	if s == nil || s.done {
		return
	}
	s.done = true
	_ = os.Remove(s.tmp)
}
