// Package transfer собирает загрузки из чанков: принимает чанки, ведёт сессии,
// детектирует завершение и атомарно публикует итоговый файл ровно один раз.
package transfer

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/sir_venger/file_transfer/internal/chunkstore"
	"github.com/sir_venger/file_transfer/internal/models"
	"github.com/sir_venger/file_transfer/internal/registry"
)

type (
	// ChunkStore хранит чанки между запросами и рестартами.
	ChunkStore interface {
		Stage(ctx context.Context, id string, n int, r io.Reader, size int64) (*chunkstore.Staged, error)
		Open(id string, n int) (io.ReadCloser, int64, error)
		Size(id string, n int) (int64, error)
		ListPresent(id string) ([]int, error)
		DeleteAll(id string) error
		Identifiers() ([]string, error)
		WriteManifest(m chunkstore.Manifest) error
		ReadManifest(id string) (chunkstore.Manifest, error)
		SweepOrphans(now time.Time, ttl time.Duration, live func(id string) bool) (int, error)
	}

	Catalog interface {
		Get(ctx context.Context, identifier string) (models.PublishedFile, error)
		Save(ctx context.Context, file models.PublishedFile) error
	}

	// Mirror копирует опубликованный файл во внешнее хранилище.
	Mirror interface {
		Mirror(ctx context.Context, file models.PublishedFile) error
	}

	// Service объединяет операции приёма чанков и управления сессиями.
	Service interface {
		ReceiveChunk(ctx context.Context, info models.ChunkInfo, payload io.Reader) (models.ChunkReceipt, error)
		Check(ctx context.Context, identifier string) (models.CheckResult, error)
		Merge(ctx context.Context, identifier string) (models.ChunkReceipt, error)
		Status(ctx context.Context, identifier string) (models.Session, error)
		Sessions() []models.Session
		Reset(ctx context.Context, identifier string) error
		Sweep(ctx context.Context) (SweepStats, error)
	}
)

type Deps struct {
	Store         ChunkStore
	Catalog       Catalog
	Registry      *registry.Registry
	Mirror        Mirror
	PublishDir    string
	AbandonAfter  time.Duration
	MaxChunkBytes int64
	Workers       int
	Now           func() time.Time
}

// Engine — фасад движка передачи файлов.
type Engine struct {
	Deps
	asm *Assembler
	log zerolog.Logger
}

// New конструирует движок с заданными зависимостями.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("chunk store is required")
	case deps.Catalog == nil:
		return nil, errors.New("catalog is required")
	case deps.PublishDir == "":
		return nil, errors.New("publish dir is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Registry == nil {
		deps.Registry = registry.New(deps.Now)
	}
	if deps.Workers < 1 {
		deps.Workers = 1
	}

	e := &Engine{
		Deps: deps,
		log:  zerolog.Nop(),
	}
	e.asm = newAssembler(deps, e.log)

	return e, nil
}

var _ Service = (*Engine)(nil)

// SetLogger задаёт логгер движка и сборщика.
func (e *Engine) SetLogger(l zerolog.Logger) {
	e.log = l
	e.asm.log = l
}

// Assembler возвращает детектор завершения и сборщик движка.
func (e *Engine) Assembler() *Assembler { return e.asm }
