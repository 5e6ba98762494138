package pkgindex

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/any-hub/bundlehub/internal/cache"
	"github.com/any-hub/bundlehub/internal/hasher"
	"github.com/any-hub/bundlehub/internal/objstore"
	"github.com/any-hub/bundlehub/internal/pkgmeta"
)

func TestEndToEndTimestampPackage(t *testing.T) {
	started := time.Now()
	h := newHarness(t)
	ctx := context.Background()
	stamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	h.publish(t, "demo", "1.0.0", stamp)
	if _, err := h.index.Update(ctx); err != nil {
		t.Fatalf("update error: %v", err)
	}
	q, err := pkgmeta.ParseQuery("demo==1.0.0")
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	pkg, err := h.index.Fetch(ctx, q)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	data, err := pkg.ReadFile("data/model")
	if err != nil {
		t.Fatalf("read model: %v", err)
	}
	if string(data) != stamp {
		t.Fatalf("expected timestamp %s, got %s", stamp, data)
	}
	if elapsed := time.Since(started); elapsed > 15*time.Second {
		t.Fatalf("round trip took %s", elapsed)
	}
}

func TestUploadFetchRoundTripIsByteIdentical(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	result := h.publish(t, "demo", "1.0.0", "model weights")

	if got := h.gateway.puts; len(got) != 2 || got[1] != "models/demo-1.0.0/meta.json" {
		t.Fatalf("meta.json must be uploaded last, got %v", got)
	}

	if _, err := h.index.Update(ctx); err != nil {
		t.Fatalf("update error: %v", err)
	}
	pkg, err := h.index.Fetch(ctx, pkgmeta.Query{Name: "demo", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}

	local, err := os.ReadFile(pkg.PayloadPath())
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	body, _, err := h.bucket.Get(ctx, "models/demo-1.0.0/archive.tar.zst")
	if err != nil {
		t.Fatalf("get remote payload: %v", err)
	}
	defer body.Close()
	remote, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read remote payload: %v", err)
	}
	if string(remote) != string(local) {
		t.Fatalf("fetched payload differs from uploaded member")
	}
	if pkg.Metadata().Archive.Checksum != result.Metadata.Archive.Checksum {
		t.Fatalf("metadata checksum mismatch")
	}
}

func TestUploadAttachesContentHash(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "demo", "1.0.0", "x")

	info, err := h.bucket.Stat(context.Background(), "models/demo-1.0.0/archive.tar.zst")
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	if info.Meta(objstore.ContentHashMeta) != info.ContentHash {
		t.Fatalf("Content-Hash metadata %q should equal store hash %q", info.Meta(objstore.ContentHashMeta), info.ContentHash)
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, "demo", "1.0.0", "a")
	h.publish(t, "other", "0.1.0", "b")

	first, err := h.index.Update(ctx)
	if err != nil {
		t.Fatalf("first update error: %v", err)
	}
	if len(first.Added) != 2 {
		t.Fatalf("expected 2 added, got %+v", first)
	}
	before, _ := h.cache.Find(ctx)

	h.gateway.resetCounters()
	second, err := h.index.Update(ctx)
	if err != nil {
		t.Fatalf("second update error: %v", err)
	}
	if h.gateway.gets != 0 || h.gateway.downloads != 0 {
		t.Fatalf("second pass should download nothing, got %d gets", h.gateway.gets)
	}
	if len(second.Added) != 0 || len(second.Unchanged) != 2 || len(second.Removed) != 0 {
		t.Fatalf("unexpected second report %+v", second)
	}
	after, _ := h.cache.Find(ctx)
	if len(before) != len(after) {
		t.Fatalf("cache contents changed between passes")
	}
	for i := range before {
		if before[i].Identity != after[i].Identity || before[i].ContentHash != after[i].ContentHash {
			t.Fatalf("entry %d changed: %+v vs %+v", i, before[i], after[i])
		}
	}
}

func TestUpdateRefreshesChangedMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, "demo", "1.0.0", "first")
	if _, err := h.index.Update(ctx); err != nil {
		t.Fatalf("update error: %v", err)
	}
	before, err := h.cache.Get(ctx, pkgmeta.Identity{Name: "demo", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("get error: %v", err)
	}

	h.publish(t, "demo", "1.0.0", "second, republished")
	report, err := h.index.Update(ctx)
	if err != nil {
		t.Fatalf("update error: %v", err)
	}
	if len(report.Added) != 1 {
		t.Fatalf("changed metadata should be re-cached, got %+v", report)
	}
	after, err := h.cache.Get(ctx, pkgmeta.Identity{Name: "demo", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if after.ContentHash == before.ContentHash || after.Metadata.Archive.Checksum == before.Metadata.Archive.Checksum {
		t.Fatalf("entry should be superseded")
	}
}

func TestUpdateEvictsThenFetchFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, "demo", "1.0.0", "a")
	h.publish(t, "keep", "1.0.0", "b")
	if _, err := h.index.Update(ctx); err != nil {
		t.Fatalf("update error: %v", err)
	}

	for _, key := range []string{"models/demo-1.0.0/meta.json", "models/demo-1.0.0/archive.tar.zst"} {
		if err := h.bucket.Remove(ctx, key); err != nil {
			t.Fatalf("remove %s: %v", key, err)
		}
	}
	report, err := h.index.Update(ctx)
	if err != nil {
		t.Fatalf("update error: %v", err)
	}
	if len(report.Removed) != 1 || report.Removed[0].String() != "demo-1.0.0" {
		t.Fatalf("expected demo-1.0.0 evicted, got %+v", report.Removed)
	}

	_, err = h.index.Fetch(ctx, pkgmeta.Query{Name: "demo", Version: "1.0.0"})
	if !errors.Is(err, ErrPackageNotFound) {
		t.Fatalf("expected ErrPackageNotFound, got %v", err)
	}
	if _, err := h.index.Fetch(ctx, pkgmeta.Query{Name: "keep"}); err != nil {
		t.Fatalf("remaining package should still fetch: %v", err)
	}
}

func TestUpdateListingFailureEvictsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, "demo", "1.0.0", "a")
	if _, err := h.index.Update(ctx); err != nil {
		t.Fatalf("update error: %v", err)
	}

	h.gateway.listErr = errListing
	_, err := h.index.Update(ctx)
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, errListing) {
		t.Fatalf("expected ErrStoreUnavailable wrapping the cause, got %v", err)
	}
	entries, _ := h.cache.Find(ctx)
	if len(entries) != 1 {
		t.Fatalf("listing failure must not evict, got %d entries", len(entries))
	}
}

func TestUpdateIsolatesMalformedMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, "broken", "1.0.0", "old")
	if _, err := h.index.Update(ctx); err != nil {
		t.Fatalf("update error: %v", err)
	}

	h.put(t, "models/broken-1.0.0/meta.json", []byte("{not json"))
	h.put(t, "models/noarchive-2.0.0/meta.json", []byte(`{"name":"noarchive","version":"2.0.0"}`))
	h.publish(t, "good", "1.0.0", "fine")

	report, err := h.index.Update(ctx)
	var updateErr *UpdateError
	if !errors.As(err, &updateErr) {
		t.Fatalf("expected *UpdateError, got %v", err)
	}
	if len(updateErr.Failures) != 2 || !errors.Is(err, ErrMalformedMetadata) {
		t.Fatalf("unexpected failures %v", updateErr.Failures)
	}
	if len(report.Added) != 1 || report.Added[0].String() != "good-1.0.0" {
		t.Fatalf("healthy package should still be added, got %+v", report)
	}
	// 失败的身份不能被当作过期条目删除
	if _, err := h.cache.Get(ctx, pkgmeta.Identity{Name: "broken", Version: "1.0.0"}); err != nil {
		t.Fatalf("previously cached entry must survive a failed refresh: %v", err)
	}
}

func TestUpdateIgnoresForeignKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.put(t, "models/README.md", []byte("hi"))
	h.put(t, "models/demo-1.0.0/extra/meta.json", []byte("{}"))
	h.put(t, "models/noversion/meta.json", []byte("{}"))
	h.put(t, "elsewhere/demo-1.0.0/meta.json", []byte("{}"))

	report, err := h.index.Update(ctx)
	if err != nil {
		t.Fatalf("update error: %v", err)
	}
	if len(report.Discovered) != 0 {
		t.Fatalf("no identity should be discovered, got %+v", report.Discovered)
	}
}

func TestFetchRejectsStoreHashMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, "demo", "1.0.0", "a")
	if _, err := h.index.Update(ctx); err != nil {
		t.Fatalf("update error: %v", err)
	}

	h.gateway.downloadHash = "00000000000000000000000000000000"
	pkg, err := h.index.Fetch(ctx, pkgmeta.Query{Name: "demo", Version: "1.0.0"})
	var integrity *IntegrityError
	if !errors.As(err, &integrity) || !errors.Is(err, ErrIntegrityMismatch) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if pkg != nil {
		t.Fatalf("no handle may be returned on mismatch")
	}
	if integrity.Source != SourceStore || integrity.Identity != "demo-1.0.0" {
		t.Fatalf("unexpected integrity error %+v", integrity)
	}
}

func TestFetchRejectsDeclaredChecksumMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.put(t, "models/demo-1.0.0/archive.tar.zst", []byte("tampered payload"))
	h.put(t, "models/demo-1.0.0/meta.json",
		[]byte(`{"name":"demo","version":"1.0.0","archive":["archive.tar.zst","0123456789abcdef0123456789abcdef","demo-1.0.0/archive.tar.zst"]}`))
	if _, err := h.index.Update(ctx); err != nil {
		t.Fatalf("update error: %v", err)
	}

	_, err := h.index.Fetch(ctx, pkgmeta.Query{Name: "demo", Version: "1.0.0"})
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if integrity.Source != SourceMetadata || integrity.Expected != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("unexpected integrity error %+v", integrity)
	}
	// 不完整或损坏的文件保留在磁盘上，下次拉取覆盖
	entry, err := h.cache.Get(ctx, pkgmeta.Identity{Name: "demo", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(entry.Path, "archive.tar.zst")); err != nil {
		t.Fatalf("downloaded file should remain on disk: %v", err)
	}
}

func TestFetchCreatesNestedArchiveDir(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payload := []byte("nested payload")
	sum := hasher.Default().SumBytes(payload)
	h.put(t, "models/nested-1.0.0/data/archive.bin", payload)
	h.put(t, "models/nested-1.0.0/meta.json",
		[]byte(`{"name":"nested","version":"1.0.0","archive":["data/archive.bin","`+sum+`","nested-1.0.0/data/archive.bin"]}`))
	if _, err := h.index.Update(ctx); err != nil {
		t.Fatalf("update error: %v", err)
	}

	pkg, err := h.index.Fetch(ctx, pkgmeta.Query{Name: "nested", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("fetch nested archive path: %v", err)
	}
	data, err := os.ReadFile(pkg.PayloadPath())
	if err != nil || string(data) != string(payload) {
		t.Fatalf("unexpected payload %q: %v", data, err)
	}
	if filepath.Base(filepath.Dir(pkg.PayloadPath())) != "data" {
		t.Fatalf("payload should live under data/, got %s", pkg.PayloadPath())
	}
}

func TestFetchResolvesHighestVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, "demo", "1.0.0", "old")
	h.publish(t, "demo", "1.1.0", "new")
	if _, err := h.index.Update(ctx); err != nil {
		t.Fatalf("update error: %v", err)
	}
	pkg, err := h.index.Fetch(ctx, pkgmeta.Query{Name: "demo"})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if pkg.Identity().Version != "1.1.0" {
		t.Fatalf("expected 1.1.0, got %s", pkg.Identity().Version)
	}
}

func TestFetchUnknownPackage(t *testing.T) {
	h := newHarness(t)
	_, err := h.index.Fetch(context.Background(), pkgmeta.Query{Name: "ghost"})
	if !errors.Is(err, ErrPackageNotFound) {
		t.Fatalf("expected ErrPackageNotFound, got %v", err)
	}
}

func TestPublisherStopsBeforeMetadataOnHashMismatch(t *testing.T) {
	h := newHarness(t)
	h.gateway.putHash = "ffffffffffffffffffffffffffffffff"
	result := buildBundle(t, "demo", "1.0.0", "a")

	report, err := h.index.Upload(context.Background(), result.Path)
	if !errors.Is(err, ErrIntegrityMismatch) {
		t.Fatalf("expected integrity mismatch, got %v", err)
	}
	if len(report.Members) != 0 || len(h.gateway.puts) != 1 {
		t.Fatalf("upload should stop after the first member, puts=%v", h.gateway.puts)
	}
	if _, err := h.bucket.Stat(context.Background(), "models/demo-1.0.0/meta.json"); !errors.Is(err, objstore.ErrNotFound) {
		t.Fatalf("meta.json must not be uploaded, got %v", err)
	}
}

func TestRemoteKeyResolution(t *testing.T) {
	f := &Fetcher{Prefix: "models"}
	cases := map[string]string{
		"demo-1.0.0/archive.tar.zst":        "models/demo-1.0.0/archive.tar.zst",
		"models/demo-1.0.0/archive.tar.zst": "models/demo-1.0.0/archive.tar.zst",
		"/demo-1.0.0/archive.tar.zst":       "models/demo-1.0.0/archive.tar.zst",
	}
	for location, want := range cases {
		if got := f.remoteKey(location); got != want {
			t.Fatalf("remoteKey(%q) = %q, want %q", location, got, want)
		}
	}
}

func TestUpdateErrorUnwrapsEveryFailure(t *testing.T) {
	err := &UpdateError{Failures: map[string]error{
		"a-1.0.0": ErrMalformedMetadata,
		"b-1.0.0": ErrStoreUnavailable,
	}}
	if !errors.Is(err, ErrMalformedMetadata) || !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("UpdateError should unwrap to each failure")
	}
	if errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("unrelated errors should not match")
	}
}
