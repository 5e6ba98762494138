package pkgindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/archive"
	"github.com/any-hub/bundlehub/internal/cache"
	"github.com/any-hub/bundlehub/internal/hasher"
	"github.com/any-hub/bundlehub/internal/objstore"
	"github.com/any-hub/bundlehub/internal/objstore/fsbucket"
)

const testPrefix = "models/"

type harness struct {
	bucket  *fsbucket.Bucket
	gateway *recordingGateway
	cache   *cache.Store
	index   *Index
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bucket, err := fsbucket.New(t.TempDir(), hasher.Default())
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	store, err := cache.Open(t.TempDir(), cache.IndexFS, quietLogger())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gateway := &recordingGateway{Gateway: bucket}
	idx, err := New(Options{
		Gateway: gateway,
		Cache:   store,
		Prefix:  testPrefix,
		Hasher:  hasher.Hasher{Algorithm: "md5", ChunkSize: 64},
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("create index: %v", err)
	}
	return &harness{bucket: bucket, gateway: gateway, cache: store, index: idx}
}

// publish builds and uploads a package whose data/model file holds model.
func (h *harness) publish(t *testing.T, name, version, model string) *archive.BuildResult {
	t.Helper()
	result := buildBundle(t, name, version, model)
	if _, err := h.index.Upload(context.Background(), result.Path); err != nil {
		t.Fatalf("upload %s-%s: %v", name, version, err)
	}
	return result
}

func (h *harness) put(t *testing.T, key string, data []byte) {
	t.Helper()
	if _, err := h.bucket.Put(context.Background(), key, bytes.NewReader(data), int64(len(data)), nil, nil); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func buildBundle(t *testing.T, name, version, model string) *archive.BuildResult {
	t.Helper()
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "data"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "data", "model"), []byte(model), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	manifest, err := json.Marshal(map[string]any{
		"name":        name,
		"version":     version,
		"description": "test package",
		"include":     [][]string{{"data", "*"}},
	})
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, archive.ManifestFileName), manifest, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	result, err := archive.Build(src, t.TempDir(), hasher.Default())
	if err != nil {
		t.Fatalf("build bundle: %v", err)
	}
	return result
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// recordingGateway counts reads and records write order; hooks can alter results.
type recordingGateway struct {
	objstore.Gateway

	mu        sync.Mutex
	gets      int
	downloads int
	puts      []string

	listErr      error
	downloadHash string
	putHash      string
}

func (g *recordingGateway) List(ctx context.Context, prefix string) iter.Seq2[objstore.ObjectInfo, error] {
	if g.listErr != nil {
		return func(yield func(objstore.ObjectInfo, error) bool) {
			yield(objstore.ObjectInfo{}, g.listErr)
		}
	}
	return g.Gateway.List(ctx, prefix)
}

func (g *recordingGateway) Get(ctx context.Context, key string) (io.ReadCloser, objstore.ObjectInfo, error) {
	g.mu.Lock()
	g.gets++
	g.mu.Unlock()
	return g.Gateway.Get(ctx, key)
}

func (g *recordingGateway) Download(ctx context.Context, key, dst string, progress objstore.ProgressFunc) (objstore.ObjectInfo, error) {
	g.mu.Lock()
	g.downloads++
	g.mu.Unlock()
	info, err := g.Gateway.Download(ctx, key, dst, progress)
	if err == nil && g.downloadHash != "" {
		info.ContentHash = g.downloadHash
	}
	return info, err
}

func (g *recordingGateway) Put(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string, progress objstore.ProgressFunc) (objstore.ObjectInfo, error) {
	g.mu.Lock()
	g.puts = append(g.puts, key)
	g.mu.Unlock()
	info, err := g.Gateway.Put(ctx, key, body, size, metadata, progress)
	if err == nil && g.putHash != "" {
		info.ContentHash = g.putHash
	}
	return info, err
}

func (g *recordingGateway) resetCounters() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gets, g.downloads, g.puts = 0, 0, nil
}

var errListing = errors.New("listing unavailable")
