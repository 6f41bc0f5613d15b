package transferclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sir_venger/file_transfer/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize    = 1 << 20
	DefaultSimultaneous = 3
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 500 * time.Millisecond
)

// UploadOptions управляет нарезкой и отправкой файла.
type UploadOptions struct {
	// Identifier по умолчанию строится из sha256 содержимого и размера.
	Identifier   string
	RelativePath string
	Folder       string
	ChunkSize    int64
	Simultaneous int
	MaxRetries   int
	RetryDelay   time.Duration

	// Progress: куда рисовать индикатор; nil отключает его.
	Progress io.Writer
}

func (o *UploadOptions) withDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Simultaneous <= 0 {
		o.Simultaneous = DefaultSimultaneous
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
}

// UploadResult — итог загрузки файла.
type UploadResult struct {
	Identifier string
	PublicName string
	URL        string
	Checksum   string

	// сервер уже имел файл, чанки не отправлялись
	Skipped bool
	Sent    int
}

// UploadFile режет файл на чанки и отправляет их параллельно, пропуская уже полученные сервером.
// Если ни один чанк не завершил сборку, в конце вызывается Merge.
func (c *Client) UploadFile(ctx context.Context, path string, opts UploadOptions) (UploadResult, error) {
	opts.withDefaults()

	f, err := os.Open(path)
	if err != nil {
		return UploadResult{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return UploadResult{}, err
	}
	size := st.Size()
	if size == 0 {
		return UploadResult{}, errors.New("transfer: empty files are not supported")
	}

	id := opts.Identifier
	if id == "" {
		if id, err = FileIdentifier(f, size); err != nil {
			return UploadResult{}, err
		}
	}
	res := UploadResult{Identifier: id}

	check, err := c.Check(ctx, id)
	if err != nil {
		return res, fmt.Errorf("check %s: %w", id, err)
	}
	if check.SkipUpload {
		res.Skipped = true
		res.PublicName = check.PublicName
		res.URL = check.URL
		return res, nil
	}
	uploaded := make(map[int]struct{}, len(check.Uploaded))
	for _, n := range check.Uploaded {
		uploaded[n] = struct{}{}
	}

	name := filepath.Base(path)
	rel := opts.RelativePath
	if rel == "" {
		rel = name
	}
	total := int((size + opts.ChunkSize - 1) / opts.ChunkSize)
	base := models.ChunkInfo{
		Identifier:   id,
		ChunkSize:    opts.ChunkSize,
		TotalSize:    size,
		TotalChunks:  total,
		Filename:     name,
		RelativePath: rel,
		Type:         mime.TypeByExtension(filepath.Ext(name)),
		Folder:       opts.Folder,
	}

	bar := newProgressBar(opts.Progress, "Uploading "+name, size)

	var (
		mu       sync.Mutex
		finished *Receipt
		sent     int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Simultaneous)
	for n := 1; n <= total; n++ {
		start := int64(n-1) * opts.ChunkSize
		length := min(opts.ChunkSize, size-start)
		if _, ok := uploaded[n]; ok {
			bar.AddBytes(length)
			continue
		}

		g.Go(func() error {
			payload := make([]byte, length)
			if _, err := f.ReadAt(payload, start); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			info := base
			info.ChunkNumber = n
			info.CurrentChunkSize = length

			rec, err := c.sendWithRetry(gctx, Chunk{Info: info, Payload: payload}, opts)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", n, err)
			}
			bar.AddBytes(length)

			mu.Lock()
			sent++
			if rec.Completed || rec.Outcome == models.OutcomeAlreadyPublished {
				finished = &rec
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		bar.Finish(err)
		return res, err
	}
	res.Sent = sent

	if finished == nil {
		rec, err := c.Merge(ctx, id)
		if err != nil {
			bar.Finish(err)
			return res, fmt.Errorf("merge %s: %w", id, err)
		}
		finished = &rec
	}
	bar.Finish(nil)

	res.PublicName = finished.PublicName
	res.URL = finished.URL
	res.Checksum = finished.Checksum
	return res, nil
}

func (c *Client) sendWithRetry(ctx context.Context, ch Chunk, opts UploadOptions) (Receipt, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Receipt{}, ctx.Err()
			case <-time.After(opts.RetryDelay * time.Duration(attempt)):
			}
		}
		rec, err := c.UploadChunk(ctx, ch)
		if err == nil {
			return rec, nil
		}
		if !retryable(err) {
			return rec, err
		}
		lastErr = err
	}
	return Receipt{}, lastErr
}

// FileIdentifier строит идентификатор загрузки из sha256 содержимого и размера.
// Одинаковые файлы получают одинаковый идентификатор, что позволяет докачку и пропуск загрузки.
func FileIdentifier(r io.ReaderAt, size int64) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(r, 0, size)); err != nil {
		return "", err
	}
	return strconv.FormatInt(size, 10) + "-" + hex.EncodeToString(h.Sum(nil))[:32], nil
}
