package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sir_venger/file_transfer/internal/chunkstore"
	"github.com/sir_venger/file_transfer/internal/models"
	"github.com/sir_venger/file_transfer/internal/registry"
	"golang.org/x/sync/errgroup"
)

const copyBufferSize = 1 << 20

type Result struct {
	Outcome models.Outcome
	Session models.Session
	File    models.PublishedFile
}

// Assembler детектирует завершение сессии и собирает файл из чанков.
type Assembler struct {
	store      ChunkStore
	catalog    Catalog
	reg        *registry.Registry
	mirror     Mirror
	publishDir string
	workers    int
	now        func() time.Time
	log        zerolog.Logger
}

func newAssembler(d Deps, log zerolog.Logger) *Assembler {
	return &Assembler{
		store:      d.Store,
		catalog:    d.Catalog,
		reg:        d.Registry,
		mirror:     d.Mirror,
		publishDir: d.PublishDir,
		workers:    d.Workers,
		now:        d.Now,
		log:        log,
	}
}

// missingChunksError: чанк отмечен полученным, но в хранилище его нет.
type missingChunksError struct {
	numbers []int
}

func (e *missingChunksError) Error() string {
	return fmt.Sprintf("%s: chunks %v are missing from storage", models.ErrStorage, e.numbers)
}

func (e *missingChunksError) Unwrap() error { return models.ErrStorage }

// CheckAndAssemble публикует файл, если все чанки получены и сборку ещё никто не начал.
// Только вызывающий, выигравший переход в completing, читает чанки и пишет файл.
func (a *Assembler) CheckAndAssemble(ctx context.Context, id string) (Result, error) {
	sess, tr, err := a.reg.BeginCompleting(id)
	if err != nil {
		return Result{}, err
	}

	switch tr {
	case registry.Done:
		return Result{Outcome: models.OutcomeAlreadyPublished, Session: sess}, nil
	case registry.Broken:
		return Result{Outcome: models.OutcomeIncomplete, Session: sess}, fmt.Errorf("%w: %s", models.ErrSessionFailed, id)
	case registry.NotReady, registry.InProgress:
		return Result{Outcome: models.OutcomeIncomplete, Session: sess}, nil
	}

	log := a.log.With().Str("identifier", id).Logger()
	started := time.Now()

	file, err := a.assemble(ctx, sess)
	if err != nil {
		return a.abort(log, sess, err)
	}

	if err := a.catalog.Save(ctx, file); err != nil {
		// файл уже опубликован; без записи каталога повторная загрузка соберёт его заново
		log.Error().Err(err).Msg("save catalog record")
	}

	published, err := a.reg.FinishPublished(id, file.Path, file.PublicName, file.Checksum)
	if err != nil {
		return Result{}, err
	}

	if a.mirror != nil {
		if err := a.mirror.Mirror(ctx, file); err != nil {
			log.Warn().Err(err).Msg("mirror published file")
		}
	}

	if err := a.store.DeleteAll(id); err != nil {
		log.Warn().Err(err).Msg("reclaim chunks")
	}

	log.Info().
		Str("public_name", file.PublicName).
		Int64("size", file.Size).
		Int("chunks", file.TotalChunks).
		Dur("took", time.Since(started)).
		Msg("file published")

	return Result{Outcome: models.OutcomePublished, Session: published, File: file}, nil
}

// abort переводит сессию в failed при нарушении целостности, иначе возвращает в collecting.
func (a *Assembler) abort(log zerolog.Logger, sess models.Session, cause error) (Result, error) {
	id := sess.Identifier

	if errors.Is(cause, models.ErrAssemblyIntegrity) {
		failed, err := a.reg.FinishFailed(id, cause.Error())
		if err != nil {
			return Result{}, errors.Join(cause, err)
		}
		if err := a.store.WriteManifest(chunkstore.ManifestOf(failed)); err != nil {
			log.Warn().Err(err).Msg("persist failed status")
		}
		log.Error().Err(cause).Msg("assembly failed")
		return Result{Outcome: models.OutcomeIncomplete, Session: failed}, cause
	}

	var missing *missingChunksError
	var drop []int
	if errors.As(cause, &missing) {
		drop = missing.numbers
	}
	reverted, err := a.reg.RevertCollecting(id, drop...)
	if err != nil {
		return Result{}, errors.Join(cause, err)
	}
	log.Warn().Err(cause).Ints("resend", drop).Msg("assembly postponed")

	return Result{Outcome: models.OutcomeIncomplete, Session: reverted}, cause
}

func (a *Assembler) assemble(ctx context.Context, sess models.Session) (models.PublishedFile, error) {
	if err := a.verifySizes(ctx, sess); err != nil {
		return models.PublishedFile{}, err
	}

	name := sess.TargetName()
	target := filepath.Join(a.publishDir, filepath.FromSlash(name))
	staging := filepath.Join(a.publishDir, models.StagingDir)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return models.PublishedFile{}, fmt.Errorf("%w: create staging dir: %w", models.ErrStorage, err)
	}

	tmp := filepath.Join(staging, uuid.NewString()+".tmp")
	sum, written, err := a.concat(ctx, sess, tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return models.PublishedFile{}, err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		_ = os.Remove(tmp)
		return models.PublishedFile{}, fmt.Errorf("%w: create target dir: %w", models.ErrStorage, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return models.PublishedFile{}, fmt.Errorf("%w: publish %s: %w", models.ErrStorage, name, err)
	}
	syncDir(filepath.Dir(target))

	return models.PublishedFile{
		ID:          uuid.NewString(),
		Identifier:  sess.Identifier,
		Name:        sess.Filename,
		PublicName:  name,
		Path:        target,
		Size:        written,
		Type:        sess.Type,
		Checksum:    sum,
		TotalChunks: sess.TotalChunks,
		PublishedAt: a.now().UTC(),
	}, nil
}

// verifySizes параллельно сверяет сумму размеров чанков с totalSize до начала записи.
func (a *Assembler) verifySizes(ctx context.Context, sess models.Session) error {
	sizes := make([]int64, sess.TotalChunks)

	var (
		mu      sync.Mutex
		missing []int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for n := 1; n <= sess.TotalChunks; n++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sz, err := a.store.Size(sess.Identifier, n)
			if errors.Is(err, models.ErrNotFound) {
				mu.Lock()
				missing = append(missing, n)
				mu.Unlock()
				return nil
			}
			if err != nil {
				return err
			}
			sizes[n-1] = sz
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: stat chunks: %w", models.ErrStorage, err)
	}
	if len(missing) > 0 {
		sort.Ints(missing)
		return &missingChunksError{numbers: missing}
	}

	var total int64
	for _, sz := range sizes {
		total += sz
	}
	if total != sess.TotalSize {
		return fmt.Errorf("%w: chunks hold %d bytes, want %d", models.ErrAssemblyIntegrity, total, sess.TotalSize)
	}

	return nil
}

// concat пишет чанки 1..N по возрастанию во временный файл и возвращает sha256 и длину.
func (a *Assembler) concat(ctx context.Context, sess models.Session, tmp string) (string, int64, error) {
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("%w: create staging file: %w", models.ErrStorage, err)
	}
	defer f.Close()

	h := sha256.New()
	w := io.MultiWriter(f, h)
	buf := make([]byte, copyBufferSize)

	var written int64
	for n := 1; n <= sess.TotalChunks; n++ {
		if err := ctx.Err(); err != nil {
			return "", 0, fmt.Errorf("%w: %w", models.ErrStorage, err)
		}

		rc, _, err := a.store.Open(sess.Identifier, n)
		if errors.Is(err, models.ErrNotFound) {
			return "", 0, &missingChunksError{numbers: []int{n}}
		}
		if err != nil {
			return "", 0, err
		}
		m, err := io.CopyBuffer(w, rc, buf)
		_ = rc.Close()
		if err != nil {
			return "", 0, fmt.Errorf("%w: copy chunk %d: %w", models.ErrStorage, n, err)
		}
		written += m
	}

	if written != sess.TotalSize {
		return "", 0, fmt.Errorf("%w: assembled %d bytes, want %d", models.ErrAssemblyIntegrity, written, sess.TotalSize)
	}
	if err := f.Sync(); err != nil {
		return "", 0, fmt.Errorf("%w: sync staging file: %w", models.ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("%w: close staging file: %w", models.ErrStorage, err)
	}

	return hex.EncodeToString(h.Sum(nil)), written, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
