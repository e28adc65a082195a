package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/epm-hub/pad-engine/internal/archive"
	"github.com/epm-hub/pad-engine/internal/archive/archivetest"
	"github.com/epm-hub/pad-engine/internal/cache"
	"github.com/epm-hub/pad-engine/internal/metadata"
	"github.com/epm-hub/pad-engine/internal/metrics"
	"github.com/epm-hub/pad-engine/internal/repository"
)

const packageJSON = `{
  "uid": "0123456789abcdefghij",
  "content": {
    "title": "Sample",
    "tags": "x, y",
    "files": [{"filename": "index.html"}, {"filename": "css/site.css"}],
    "images": [{"type": "front", "src": "img/front.png"}]
  }
}`

var packageFiles = map[string]string{
	metadata.EntryName: packageJSON,
	"index.html":       "<html></html>",
	"css/site.css":     "body{}",
	"img/front.png":    "png",
	"img/unused.png":   "unused",
}

// countingReader wraps a real reader, counts extractions and records the
// highest number of concurrently running calls.
type countingReader struct {
	archive.Reader

	entryCalls int32
	fullCalls  int32
	running    int32
	maxRunning int32
	delay      time.Duration
	// gate, when set, blocks ExtractAll until it is closed.
	gate chan struct{}
}

func newCountingReader() *countingReader {
	return &countingReader{Reader: archive.NewReader(), delay: 5 * time.Millisecond}
}

func (r *countingReader) enter() func() {
	n := atomic.AddInt32(&r.running, 1)
	for {
		cur := atomic.LoadInt32(&r.maxRunning)
		if n <= cur || atomic.CompareAndSwapInt32(&r.maxRunning, cur, n) {
			break
		}
	}
	return func() { atomic.AddInt32(&r.running, -1) }
}

func (r *countingReader) ReadText(ctx context.Context, archivePath, name string) (string, error) {
	defer r.enter()()
	time.Sleep(r.delay)
	return r.Reader.ReadText(ctx, archivePath, name)
}

func (r *countingReader) ExtractEntry(ctx context.Context, archivePath, name, destDir string) (string, error) {
	defer r.enter()()
	atomic.AddInt32(&r.entryCalls, 1)
	time.Sleep(r.delay)
	return r.Reader.ExtractEntry(ctx, archivePath, name, destDir)
}

func (r *countingReader) ExtractAll(ctx context.Context, archivePath, destDir string) error {
	defer r.enter()()
	atomic.AddInt32(&r.fullCalls, 1)
	if r.gate != nil {
		<-r.gate
	}
	time.Sleep(r.delay)
	return r.Reader.ExtractAll(ctx, archivePath, destDir)
}

type fixture struct {
	engine *Engine
	reader *countingReader
	repo   *repository.Repository
	info   repository.PackageInfo
	meta   *metadata.Metadata
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()

	layout, err := cache.NewLayout(t.TempDir())
	require.NoError(t, err)
	repo, err := repository.New(t.TempDir(), layout)
	require.NoError(t, err)
	archivetest.WriteZip(t, repo.PackagesPath(), "sample.zip", packageFiles)

	reader := newCountingReader()
	engine, err := New(Options{Reader: reader, Workers: workers, Metrics: metrics.New()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	meta, err := metadata.Parse([]byte(packageJSON))
	require.NoError(t, err)

	return &fixture{
		engine: engine,
		reader: reader,
		repo:   repo,
		info:   repository.PackageInfo{UID: meta.UID, Build: "1", Filename: "sample.zip"},
		meta:   meta,
	}
}

func TestReadMetadataThroughQueue(t *testing.T) {
	f := newFixture(t, 1)
	path, err := f.repo.Resolve("sample.zip")
	require.NoError(t, err)

	first, err := f.engine.ReadMetadata(context.Background(), path).Wait(context.Background())
	require.NoError(t, err)
	second, err := f.engine.ReadMetadata(context.Background(), path).Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, f.meta, first)

	_, err = f.engine.ReadMetadata(context.Background(), filepath.Join(f.repo.PackagesPath(), "nope.zip")).Wait(context.Background())
	require.ErrorIs(t, err, archive.ErrArchiveOpen)
}

func TestAssetIsIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	first, err := f.engine.Asset(ctx, f.repo, f.info, f.meta, "FRONT").Wait(ctx)
	require.NoError(t, err)
	second, err := f.engine.Asset(ctx, f.repo, f.info, f.meta, "front").Wait(ctx)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int32(1), atomic.LoadInt32(&f.reader.entryCalls))
	require.Equal(t, int32(0), atomic.LoadInt32(&f.reader.fullCalls))

	dir, err := f.repo.CacheDir(f.info)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "img", "front.png"), first)

	body, err := os.ReadFile(first)
	require.NoError(t, err)
	require.Equal(t, "png", string(body))

	// single-entry extraction leaves unrelated entries alone
	_, err = os.Stat(filepath.Join(dir, "img", "unused.png"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "index.html"))
	require.True(t, os.IsNotExist(err))
}

func TestAssetUnknown(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.engine.Asset(ctx, f.repo, f.info, f.meta, "back").Wait(ctx)
	require.ErrorIs(t, err, ErrUnknownAsset)
	_, err = f.engine.Asset(ctx, f.repo, f.info, &metadata.Metadata{UID: "x"}, "front").Wait(ctx)
	require.ErrorIs(t, err, ErrUnknownAsset)
	require.Equal(t, int32(0), atomic.LoadInt32(&f.reader.entryCalls))
}

func TestContentCompleteOrFullRedo(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	paths, err := f.engine.Content(ctx, f.repo, f.info, f.meta).Wait(ctx)
	require.NoError(t, err)
	dir, err := f.repo.CacheDir(f.info)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "index.html"), filepath.Join(dir, "css", "site.css")}, paths)
	require.Equal(t, int32(1), atomic.LoadInt32(&f.reader.fullCalls))

	again, err := f.engine.Content(ctx, f.repo, f.info, f.meta).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, paths, again)
	require.Equal(t, int32(1), atomic.LoadInt32(&f.reader.fullCalls), "complete cache must not re-extract")

	// Delete one file and tamper with another: the next call must redo the whole archive.
	require.NoError(t, os.Remove(paths[1]))
	require.NoError(t, os.WriteFile(paths[0], []byte("tampered"), 0o644))

	redone, err := f.engine.Content(ctx, f.repo, f.info, f.meta).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, paths, redone)
	require.Equal(t, int32(2), atomic.LoadInt32(&f.reader.fullCalls))

	body, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(body))
	_, err = os.Stat(paths[1])
	require.NoError(t, err)
}

func TestContentUnknown(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	meta := &metadata.Metadata{UID: f.meta.UID, Content: &metadata.Content{Title: "empty"}}
	_, err := f.engine.Content(ctx, f.repo, f.info, meta).Wait(ctx)
	require.ErrorIs(t, err, ErrUnknownContent)
	require.Equal(t, int32(0), atomic.LoadInt32(&f.reader.fullCalls))
}

func TestContentWithoutUID(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	info := repository.PackageInfo{Build: "1", Filename: "sample.zip"}
	paths, err := f.engine.Content(ctx, f.repo, info, f.meta).Wait(ctx)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	require.Equal(t, filepath.Join(f.repo.Layout().Root(), "-1", "index.html"), paths[0])
}

func TestConcurrentContentExtractsOnce(t *testing.T) {
	for _, workers := range []int{1, 4} {
		f := newFixture(t, workers)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.engine.Content(ctx, f.repo, f.info, f.meta).Wait(ctx)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}
		require.Equal(t, int32(1), atomic.LoadInt32(&f.reader.fullCalls), "workers=%d", workers)
		require.Equal(t, int32(1), atomic.LoadInt32(&f.reader.maxRunning), "workers=%d", workers)
	}
}

func TestSingleWorkerSerializesUnrelatedKeys(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	var futures []*Future[[]string]
	for i := 0; i < 4; i++ {
		info := f.info
		info.Build = string(rune('a' + i))
		futures = append(futures, f.engine.Content(ctx, f.repo, info, f.meta))
	}
	for _, fut := range futures {
		_, err := fut.Wait(ctx)
		require.NoError(t, err)
	}

	require.Equal(t, int32(4), atomic.LoadInt32(&f.reader.fullCalls))
	require.Equal(t, int32(1), atomic.LoadInt32(&f.reader.maxRunning))
}

func TestSubmissionDoesNotBlockAndRunsInOrder(t *testing.T) {
	f := newFixture(t, 1)
	f.reader.gate = make(chan struct{})
	ctx := context.Background()

	first := f.engine.Content(ctx, f.repo, f.info, f.meta)

	cancelled, cancel := context.WithCancel(ctx)
	second := f.engine.Asset(cancelled, f.repo, f.info, f.meta, "front")
	third := f.engine.Asset(ctx, f.repo, f.info, f.meta, "front")

	select {
	case <-first.Done():
		t.Fatalf("gated job must still be running")
	default:
	}
	cancel()
	close(f.reader.gate)

	_, err := first.Wait(ctx)
	require.NoError(t, err)

	_, err = second.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	path, err := third.Wait(ctx)
	require.NoError(t, err)
	require.FileExists(t, path)
	// content already extracted the asset, so no single-entry extraction ran
	require.Equal(t, int32(0), atomic.LoadInt32(&f.reader.entryCalls))
}

func TestDescribeWaitsBehindQueuedExtraction(t *testing.T) {
	f := newFixture(t, 1)
	f.reader.gate = make(chan struct{})
	ctx := context.Background()

	extraction := f.engine.Content(ctx, f.repo, f.info, f.meta)
	described := f.engine.Describe(ctx, f.repo, "sample.zip", f.meta.UID)

	time.Sleep(20 * time.Millisecond)
	select {
	case <-described.Done():
		t.Fatalf("fingerprint must not run while the queue is busy")
	default:
	}
	close(f.reader.gate)

	_, err := extraction.Wait(ctx)
	require.NoError(t, err)
	info, err := described.Wait(ctx)
	require.NoError(t, err)

	want, err := f.repo.Describe("sample.zip", f.meta.UID)
	require.NoError(t, err)
	require.Equal(t, want, info)
	require.NotEmpty(t, info.Build)

	_, err = f.engine.Describe(ctx, f.repo, "missing.zip", "x").Wait(ctx)
	require.ErrorIs(t, err, archive.ErrArchiveOpen)
}

func TestWaitHonoursCallerContext(t *testing.T) {
	f := newFixture(t, 1)
	f.reader.gate = make(chan struct{})
	defer close(f.reader.gate)

	fut := f.engine.Content(context.Background(), f.repo, f.info, f.meta)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := fut.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCacheDirectoryFailure(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	dir, err := f.repo.CacheDir(f.info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dir, []byte("not a directory"), 0o644))

	_, err = f.engine.Asset(ctx, f.repo, f.info, f.meta, "front").Wait(ctx)
	require.ErrorIs(t, err, cache.ErrCacheDirectory)
	_, err = f.engine.Content(ctx, f.repo, f.info, f.meta).Wait(ctx)
	require.ErrorIs(t, err, cache.ErrCacheDirectory)
}

func TestCloseDrainsQueueAndRejectsNewWork(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	pending := f.engine.Content(ctx, f.repo, f.info, f.meta)
	require.NoError(t, f.engine.Close())

	select {
	case <-pending.Done():
	default:
		t.Fatalf("close must wait for queued jobs")
	}
	_, err := pending.Wait(ctx)
	require.NoError(t, err)

	_, err = f.engine.Asset(ctx, f.repo, f.info, f.meta, "front").Wait(ctx)
	require.True(t, errors.Is(err, ErrClosed))
	require.Equal(t, 0, f.engine.Pending())
}

type panickingReader struct {
	archive.Reader
}

func (panickingReader) ExtractAll(context.Context, string, string) error {
	panic("boom")
}

func TestPanicIsReportedAsError(t *testing.T) {
	f := newFixture(t, 1)
	engine, err := New(Options{Reader: panickingReader{Reader: archive.NewReader()}})
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()
	_, err = engine.Content(ctx, f.repo, f.info, f.meta).Wait(ctx)
	require.Error(t, err)

	// the worker survives the panic
	path, err := f.repo.Resolve("sample.zip")
	require.NoError(t, err)
	_, err = engine.ReadMetadata(ctx, path).Wait(ctx)
	require.NoError(t, err)
}
