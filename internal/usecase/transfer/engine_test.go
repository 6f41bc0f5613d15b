package transfer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sir_venger/file_transfer/internal/chunkstore"
	"github.com/sir_venger/file_transfer/internal/models"
	"github.com/sir_venger/file_transfer/internal/registry"
	meta "github.com/sir_venger/file_transfer/internal/repo"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type spyMirror struct {
	mu    sync.Mutex
	files []models.PublishedFile
}

func (m *spyMirror) Mirror(_ context.Context, f models.PublishedFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = append(m.files, f)
	return nil
}

func (m *spyMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

type fixture struct {
	engine   *Engine
	store    *chunkstore.Disk
	catalog  *meta.MemoryStore
	mirror   *spyMirror
	clock    *testClock
	chunkDir string
	pubDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		catalog:  meta.NewMemoryStore(),
		mirror:   &spyMirror{},
		clock:    &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		chunkDir: filepath.Join(root, "chunks"),
		pubDir:   filepath.Join(root, "published"),
	}
	f.restart(t)
	return f
}

// restart пересоздаёт движок поверх тех же каталогов и каталога публикаций.
func (f *fixture) restart(t *testing.T) {
	t.Helper()
	store, err := chunkstore.New(f.chunkDir, zerolog.Nop())
	require.NoError(t, err)

	e, err := New(Deps{
		Store:         store,
		Catalog:       f.catalog,
		Registry:      registry.New(f.clock.Now),
		Mirror:        f.mirror,
		PublishDir:    f.pubDir,
		AbandonAfter:  time.Hour,
		MaxChunkBytes: 1 << 20,
		Workers:       4,
		Now:           f.clock.Now,
	})
	require.NoError(t, err)

	f.store = store
	f.engine = e
}

type upload struct {
	id        string
	name      string
	data      []byte
	chunkSize int64
}

func newUpload(id, name string, size int, chunkSize int64) upload {
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	return upload{id: id, name: name, data: data, chunkSize: chunkSize}
}

func (u upload) total() int {
	return int((int64(len(u.data)) + u.chunkSize - 1) / u.chunkSize)
}

func (u upload) chunk(n int) (models.ChunkInfo, []byte) {
	start := int64(n-1) * u.chunkSize
	end := min(start+u.chunkSize, int64(len(u.data)))
	return models.ChunkInfo{
		Identifier:       u.id,
		ChunkNumber:      n,
		ChunkSize:        u.chunkSize,
		CurrentChunkSize: end - start,
		TotalSize:        int64(len(u.data)),
		TotalChunks:      u.total(),
		Filename:         u.name,
		RelativePath:     u.name,
	}, u.data[start:end]
}

func (f *fixture) send(u upload, n int) (models.ChunkReceipt, error) {
	info, payload := u.chunk(n)
	return f.engine.ReceiveChunk(context.Background(), info, bytes.NewReader(payload))
}

func TestEngine_OutOfOrderScenario(t *testing.T) {
	f := newFixture(t)
	u := newUpload("abc123", "report.bin", 2100, 1024)
	require.Equal(t, 3, u.total())

	rec, err := f.send(u, 2)
	require.NoError(t, err)
	require.True(t, rec.Accepted)
	require.False(t, rec.Completed)
	require.Equal(t, 1, rec.Received)

	rec, err = f.send(u, 1)
	require.NoError(t, err)
	require.False(t, rec.Completed)
	require.Equal(t, models.OutcomeIncomplete, rec.Outcome)

	rec, err = f.send(u, 3)
	require.NoError(t, err)
	require.True(t, rec.Completed)
	require.Equal(t, models.OutcomePublished, rec.Outcome)
	require.Equal(t, filepath.Join(f.pubDir, "report.bin"), rec.Path)
	require.Equal(t, "report.bin", rec.PublicName)

	got, err := os.ReadFile(rec.Path)
	require.NoError(t, err)
	require.Len(t, got, 2100)
	require.Equal(t, u.data, got)

	present, err := f.store.ListPresent("abc123")
	require.NoError(t, err)
	require.Empty(t, present)

	s, err := f.engine.Status(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, models.StatusPublished, s.Status)

	pf, err := f.catalog.Get(context.Background(), "abc123")
	require.NoError(t, err)
	require.EqualValues(t, 2100, pf.Size)
	require.Equal(t, rec.Checksum, pf.Checksum)
	require.Equal(t, 1, f.mirror.count())
}

func permutations(xs []int) [][]int {
	if len(xs) <= 1 {
		return [][]int{append([]int(nil), xs...)}
	}
	var out [][]int
	for i := range xs {
		rest := append(append([]int(nil), xs[:i]...), xs[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]int{xs[i]}, p...))
		}
	}
	return out
}

func TestEngine_AnyOrderPublishesSameBytes(t *testing.T) {
	f := newFixture(t)

	for i, order := range permutations([]int{1, 2, 3, 4}) {
		u := newUpload("perm-"+string(rune('a'+i)), "perm-"+string(rune('a'+i))+".bin", 3500, 1000)
		var last models.ChunkReceipt
		for _, n := range order {
			rec, err := f.send(u, n)
			require.NoError(t, err)
			last = rec
		}
		require.Equal(t, models.OutcomePublished, last.Outcome, "order %v", order)

		got, err := os.ReadFile(last.Path)
		require.NoError(t, err)
		require.Equal(t, u.data, got, "order %v", order)
	}
}

func TestEngine_DuplicateChunkIsNoop(t *testing.T) {
	f := newFixture(t)
	u := newUpload("dup", "dup.bin", 3000, 1024)

	_, err := f.send(u, 1)
	require.NoError(t, err)
	before, err := f.engine.Status(context.Background(), "dup")
	require.NoError(t, err)

	rec, err := f.send(u, 1)
	require.NoError(t, err)
	require.True(t, rec.Accepted)
	require.True(t, rec.Duplicate)

	after, err := f.engine.Status(context.Background(), "dup")
	require.NoError(t, err)
	require.Equal(t, before.ReceivedNumbers(), after.ReceivedNumbers())
	require.Equal(t, before.Status, after.Status)
}

func TestEngine_OverwriteKeepsLatestContent(t *testing.T) {
	f := newFixture(t)
	u := newUpload("ow", "ow.bin", 2100, 1024)

	first := bytes.Repeat([]byte{'A'}, 1024)
	info, _ := u.chunk(1)
	_, err := f.engine.ReceiveChunk(context.Background(), info, bytes.NewReader(first))
	require.NoError(t, err)

	second := bytes.Repeat([]byte{'B'}, 1024)
	_, err = f.engine.ReceiveChunk(context.Background(), info, bytes.NewReader(second))
	require.NoError(t, err)

	_, err = f.send(u, 2)
	require.NoError(t, err)
	rec, err := f.send(u, 3)
	require.NoError(t, err)
	require.True(t, rec.Completed)

	got, err := os.ReadFile(rec.Path)
	require.NoError(t, err)
	require.Equal(t, second, got[:1024])
	require.Equal(t, u.data[1024:], got[1024:])
}

func TestEngine_ConcurrentLastChunksPublishOnce(t *testing.T) {
	f := newFixture(t)

	for round := 0; round < 20; round++ {
		u := newUpload("race-"+string(rune('a'+round)), "race-"+string(rune('a'+round))+".bin", 5000, 1000)
		for n := 1; n <= u.total()-2; n++ {
			_, err := f.send(u, n)
			require.NoError(t, err)
		}

		var (
			mu       sync.Mutex
			receipts []models.ChunkReceipt
		)
		var g errgroup.Group
		for i := 0; i < 8; i++ {
			n := u.total() - i%2
			g.Go(func() error {
				rec, err := f.send(u, n)
				mu.Lock()
				receipts = append(receipts, rec)
				mu.Unlock()
				return err
			})
		}
		require.NoError(t, g.Wait())

		published := 0
		for _, rec := range receipts {
			if rec.Outcome == models.OutcomePublished {
				published++
			}
		}
		require.Equal(t, 1, published, "round %d", round)

		pf, err := f.catalog.Get(context.Background(), u.id)
		require.NoError(t, err)
		got, err := os.ReadFile(pf.Path)
		require.NoError(t, err)
		require.Equal(t, u.data, got)
	}
	require.Equal(t, 20, f.mirror.count())
}

func TestEngine_MetadataConflict(t *testing.T) {
	f := newFixture(t)
	u := newUpload("abc123", "report.bin", 2100, 1024)

	_, err := f.send(u, 1)
	require.NoError(t, err)

	info, payload := u.chunk(2)
	info.TotalChunks = 4
	info.TotalSize = 4000
	rec, err := f.engine.ReceiveChunk(context.Background(), info, bytes.NewReader(payload))
	require.ErrorIs(t, err, models.ErrMetadataConflict)
	require.False(t, rec.Accepted)
	require.Equal(t, models.KindMetadataConflict, rec.Kind)

	s, err := f.engine.Status(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, 3, s.TotalChunks)
	require.EqualValues(t, 2100, s.TotalSize)
	require.Equal(t, []int{1}, s.ReceivedNumbers())

	present, err := f.store.ListPresent("abc123")
	require.NoError(t, err)
	require.Equal(t, []int{1}, present)
}

func TestEngine_ValidationMutatesNothing(t *testing.T) {
	f := newFixture(t)
	u := newUpload("bad", "bad.bin", 2100, 1024)

	info, payload := u.chunk(1)
	rec, err := f.engine.ReceiveChunk(context.Background(), info, bytes.NewReader(payload[:1000]))
	require.ErrorIs(t, err, models.ErrValidation)
	require.Equal(t, models.KindValidation, rec.Kind)

	info.ChunkNumber = 9
	_, err = f.engine.ReceiveChunk(context.Background(), info, bytes.NewReader(payload))
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = f.engine.Status(context.Background(), "bad")
	require.ErrorIs(t, err, models.ErrNotFound)
	ids, err := f.store.Identifiers()
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestEngine_RejectsReservedTargets(t *testing.T) {
	f := newFixture(t)
	u := newUpload("hidden", "evil.bin", 100, 1024)

	for _, tc := range []struct{ rel, folder string }{
		{rel: "./.staging/evil.bin"},
		{rel: "evil.bin", folder: "./.staging"},
		{rel: "a/./.staging/evil.bin"},
	} {
		info, payload := u.chunk(1)
		info.RelativePath = tc.rel
		info.Folder = tc.folder

		rec, err := f.engine.ReceiveChunk(context.Background(), info, bytes.NewReader(payload))
		require.ErrorIs(t, err, models.ErrValidation, tc.rel)
		require.False(t, rec.Completed)
	}

	require.False(t, f.engine.Registry.Has("hidden"))
	_, err := os.Stat(filepath.Join(f.pubDir, models.StagingDir, "evil.bin"))
	require.True(t, os.IsNotExist(err))
}

func TestEngine_IntegrityFailureExposesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUpload("broken", "broken.bin", 2100, 1024)

	_, err := f.send(u, 1)
	require.NoError(t, err)
	_, err = f.send(u, 2)
	require.NoError(t, err)

	// чанк на диске подменён укороченным
	_, err = f.store.Put(ctx, "broken", 1, bytes.NewReader(make([]byte, 1000)), 1000)
	require.NoError(t, err)

	rec, err := f.send(u, 3)
	require.ErrorIs(t, err, models.ErrAssemblyIntegrity)
	require.Equal(t, models.KindAssemblyIntegrity, rec.Kind)
	require.False(t, rec.Completed)
	require.Equal(t, models.StatusFailed, rec.Status)

	_, err = os.Stat(filepath.Join(f.pubDir, "broken.bin"))
	require.True(t, os.IsNotExist(err))
	staging, err := os.ReadDir(filepath.Join(f.pubDir, models.StagingDir))
	if err == nil {
		require.Empty(t, staging)
	} else {
		require.True(t, os.IsNotExist(err))
	}

	_, err = f.send(u, 1)
	require.ErrorIs(t, err, models.ErrSessionFailed)

	// failed переживает рестарт
	f.restart(t)
	_, err = f.engine.Recover(ctx)
	require.NoError(t, err)
	s, err := f.engine.Status(ctx, "broken")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, s.Status)

	require.NoError(t, f.engine.Reset(ctx, "broken"))
	for n := 1; n <= 3; n++ {
		rec, err = f.send(u, n)
		require.NoError(t, err)
	}
	require.True(t, rec.Completed)
}

type faultyStore struct {
	*chunkstore.Disk
	mu            sync.Mutex
	failOpen      bool
	failManifests int
}

func (s *faultyStore) WriteManifest(m chunkstore.Manifest) error {
	s.mu.Lock()
	fail := s.failManifests > 0
	if fail {
		s.failManifests--
	}
	s.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: disk full", models.ErrStorage)
	}
	return s.Disk.WriteManifest(m)
}

func (s *faultyStore) Open(id string, n int) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	fail := s.failOpen
	s.mu.Unlock()
	if fail {
		return nil, 0, fmt.Errorf("%w: disk unplugged", models.ErrStorage)
	}
	return s.Disk.Open(id, n)
}

func TestEngine_StorageErrorKeepsCollecting(t *testing.T) {
	f := newFixture(t)
	store := &faultyStore{Disk: f.store, failOpen: true}
	e, err := New(Deps{
		Store:        store,
		Catalog:      f.catalog,
		PublishDir:   f.pubDir,
		AbandonAfter: time.Hour,
		Workers:      2,
		Now:          f.clock.Now,
	})
	require.NoError(t, err)
	f.engine = e

	u := newUpload("flaky", "flaky.bin", 2100, 1024)
	_, err = f.send(u, 1)
	require.NoError(t, err)
	_, err = f.send(u, 2)
	require.NoError(t, err)

	rec, err := f.send(u, 3)
	require.ErrorIs(t, err, models.ErrStorage)
	require.True(t, models.Retryable(err))
	require.Equal(t, models.StatusCollecting, rec.Status)

	store.mu.Lock()
	store.failOpen = false
	store.mu.Unlock()

	rec, err = f.engine.Merge(context.Background(), "flaky")
	require.NoError(t, err)
	require.True(t, rec.Completed)

	got, err := os.ReadFile(rec.Path)
	require.NoError(t, err)
	require.Equal(t, u.data, got)
}

func TestEngine_ManifestFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	store := &faultyStore{Disk: f.store, failManifests: 1}
	e, err := New(Deps{
		Store:        store,
		Catalog:      f.catalog,
		PublishDir:   f.pubDir,
		AbandonAfter: time.Hour,
		Workers:      2,
		Now:          f.clock.Now,
	})
	require.NoError(t, err)
	f.engine = e

	u := newUpload("nometa", "nometa.bin", 2100, 1024)
	_, err = f.send(u, 2)
	require.ErrorIs(t, err, models.ErrStorage)
	require.False(t, e.Registry.Has("nometa"))

	present, err := f.store.ListPresent("nometa")
	require.NoError(t, err)
	require.Empty(t, present)

	// следующий чанк записывает манифест заново
	_, err = f.send(u, 1)
	require.NoError(t, err)
	m, err := f.store.ReadManifest("nometa")
	require.NoError(t, err)
	require.Equal(t, 3, m.TotalChunks)

	for _, n := range []int{2, 3} {
		_, err = f.send(u, n)
		require.NoError(t, err)
	}
	got, err := os.ReadFile(filepath.Join(f.pubDir, "nometa.bin"))
	require.NoError(t, err)
	require.Equal(t, u.data, got)
}

func TestEngine_MissingChunkIsResent(t *testing.T) {
	f := newFixture(t)
	u := newUpload("lost", "lost.bin", 2100, 1024)

	_, err := f.send(u, 1)
	require.NoError(t, err)
	_, err = f.send(u, 2)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(f.store.Root(), encodeForTest("lost"), "000002.part")))

	rec, err := f.send(u, 3)
	require.ErrorIs(t, err, models.ErrStorage)
	require.Equal(t, models.StatusCollecting, rec.Status)

	check, err := f.engine.Check(context.Background(), "lost")
	require.NoError(t, err)
	require.Equal(t, []int{1, 3}, check.Uploaded)

	rec, err = f.send(u, 2)
	require.NoError(t, err)
	require.True(t, rec.Completed)
}

func TestEngine_CheckMergeAndCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUpload("chk", "chk.bin", 2100, 1024)

	res, err := f.engine.Check(ctx, "chk")
	require.NoError(t, err)
	require.False(t, res.SkipUpload)
	require.Empty(t, res.Uploaded)

	_, err = f.send(u, 2)
	require.NoError(t, err)

	res, err = f.engine.Check(ctx, "chk")
	require.NoError(t, err)
	require.Equal(t, []int{2}, res.Uploaded)

	_, err = f.engine.Merge(ctx, "chk")
	var incomplete *models.IncompleteError
	require.ErrorAs(t, err, &incomplete)
	require.Equal(t, []int{1, 3}, incomplete.Missing)

	_, err = f.send(u, 1)
	require.NoError(t, err)
	_, err = f.send(u, 3)
	require.NoError(t, err)

	// опубликованная сессия выселяется сборщиком, но каталог продолжает отвечать
	f.clock.Advance(2 * time.Hour)
	stats, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Sessions)
	require.Empty(t, f.engine.Sessions())

	res, err = f.engine.Check(ctx, "chk")
	require.NoError(t, err)
	require.True(t, res.SkipUpload)
	require.Equal(t, "chk.bin", res.PublicName)

	rec, err := f.send(u, 2)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeAlreadyPublished, rec.Outcome)
	require.False(t, rec.Completed)

	rec, err = f.engine.Merge(ctx, "chk")
	require.NoError(t, err)
	require.Equal(t, models.OutcomeAlreadyPublished, rec.Outcome)

	s, err := f.engine.Status(ctx, "chk")
	require.NoError(t, err)
	require.Equal(t, models.StatusPublished, s.Status)
	require.True(t, s.IsComplete())

	ids, err := f.store.Identifiers()
	require.NoError(t, err)
	require.Empty(t, ids)

	_, err = f.engine.Merge(ctx, "never")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestEngine_SweepRemovesAbandoned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUpload("gone", "gone.bin", 2100, 1024)

	_, err := f.send(u, 1)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	stats, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Sessions)

	f.clock.Advance(time.Hour)
	stats, err = f.engine.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Sessions)

	_, err = f.engine.Status(ctx, "gone")
	require.ErrorIs(t, err, models.ErrNotFound)
	present, err := f.store.ListPresent("gone")
	require.NoError(t, err)
	require.Empty(t, present)

	// после выселения идентификатор начинается заново
	rec, err := f.send(u, 2)
	require.NoError(t, err)
	require.Equal(t, 1, rec.Received)
}

func TestEngine_RecoverAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	partial := newUpload("partial", "partial.bin", 2100, 1024)
	full := newUpload("full", "docs/full.bin", 2500, 1000)
	full.name = "full.bin"

	_, err := f.send(partial, 1)
	require.NoError(t, err)
	_, err = f.send(partial, 3)
	require.NoError(t, err)

	// все чанки на диске, но процесс упал до сборки
	for n := 1; n <= full.total(); n++ {
		info, payload := full.chunk(n)
		_, err := f.store.Put(ctx, full.id, n, bytes.NewReader(payload), info.CurrentChunkSize)
		require.NoError(t, err)
	}
	info, _ := full.chunk(1)
	info.RelativePath = "docs/full.bin"
	require.NoError(t, f.store.WriteManifest(chunkstore.Manifest{
		UploadMeta: info.Meta(),
		Status:     models.StatusCollecting,
	}))

	f.restart(t)
	stats, err := f.engine.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Restored)
	require.Equal(t, 1, stats.Assembled)

	got, err := os.ReadFile(filepath.Join(f.pubDir, "docs", "full.bin"))
	require.NoError(t, err)
	require.Equal(t, full.data, got)

	check, err := f.engine.Check(ctx, "partial")
	require.NoError(t, err)
	require.Equal(t, []int{1, 3}, check.Uploaded)

	rec, err := f.send(partial, 2)
	require.NoError(t, err)
	require.True(t, rec.Completed)
}

func TestEngine_ResetRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUpload("rst", "rst.bin", 1000, 1000)

	require.ErrorIs(t, f.engine.Reset(ctx, "rst"), models.ErrNotFound)

	rec, err := f.send(u, 1)
	require.NoError(t, err)
	require.True(t, rec.Completed)
	require.ErrorIs(t, f.engine.Reset(ctx, "rst"), models.ErrPublished)

	v := newUpload("abort", "abort.bin", 2100, 1024)
	_, err = f.send(v, 1)
	require.NoError(t, err)
	require.NoError(t, f.engine.Reset(ctx, "abort"))

	present, err := f.store.ListPresent("abort")
	require.NoError(t, err)
	require.Empty(t, present)
}

func encodeForTest(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}
