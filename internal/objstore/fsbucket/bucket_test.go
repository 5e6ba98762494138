package fsbucket

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/any-hub/bundlehub/internal/hasher"
	"github.com/any-hub/bundlehub/internal/objstore"
)

func TestBucketPutAndGet(t *testing.T) {
	bucket := newTestBucket(t)
	ctx := context.Background()
	payload := []byte("payload")

	var lastDone int64
	info, err := bucket.Put(ctx, "models/demo-1.0.0/meta.json", bytes.NewReader(payload), int64(len(payload)),
		map[string]string{objstore.ContentHashMeta: "abc"}, func(done, total int64) { lastDone = done })
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	want := md5.Sum(payload)
	if info.ContentHash != hex.EncodeToString(want[:]) {
		t.Fatalf("content hash mismatch: %s", info.ContentHash)
	}
	if lastDone != int64(len(payload)) {
		t.Fatalf("progress should reach full size, got %d", lastDone)
	}

	body, got, err := bucket.Get(ctx, "models/demo-1.0.0/meta.json")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != string(payload) {
		t.Fatalf("payload mismatch: %s", data)
	}
	if got.Meta("content-hash") != "abc" {
		t.Fatalf("metadata should be preserved, got %v", got.Metadata)
	}
}

func TestBucketGetMissing(t *testing.T) {
	bucket := newTestBucket(t)
	if _, _, err := bucket.Get(context.Background(), "models/missing"); !errors.Is(err, objstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBucketListFiltersPrefixAndMetaDir(t *testing.T) {
	bucket := newTestBucket(t)
	ctx := context.Background()
	for _, key := range []string{"models/a-1.0.0/meta.json", "models/b-1.0.0/meta.json", "other/c"} {
		if _, err := bucket.Put(ctx, key, bytes.NewReader([]byte(key)), -1, nil, nil); err != nil {
			t.Fatalf("put %s error: %v", key, err)
		}
	}

	var keys []string
	for info, err := range bucket.List(ctx, "models/") {
		if err != nil {
			t.Fatalf("list error: %v", err)
		}
		keys = append(keys, info.Key)
	}
	if len(keys) != 2 || keys[0] != "models/a-1.0.0/meta.json" || keys[1] != "models/b-1.0.0/meta.json" {
		t.Fatalf("unexpected listing %v", keys)
	}
}

func TestBucketListStopsEarly(t *testing.T) {
	bucket := newTestBucket(t)
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		if _, err := bucket.Put(ctx, key, bytes.NewReader([]byte(key)), -1, nil, nil); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}
	count := 0
	for range bucket.List(ctx, "") {
		count++
		break
	}
	if count != 1 {
		t.Fatalf("iteration should stop after break")
	}
}

func TestBucketStatBackfillsSidecar(t *testing.T) {
	bucket := newTestBucket(t)
	if err := os.MkdirAll(filepath.Join(bucket.Path(), "models"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(bucket.Path(), "models", "manual"), []byte("manual"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	info, err := bucket.Stat(context.Background(), "models/manual")
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	want := md5.Sum([]byte("manual"))
	if info.ContentHash != hex.EncodeToString(want[:]) || info.Size != 6 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestBucketDownload(t *testing.T) {
	bucket := newTestBucket(t)
	ctx := context.Background()
	if _, err := bucket.Put(ctx, "k", bytes.NewReader([]byte("download me")), -1, nil, nil); err != nil {
		t.Fatalf("put error: %v", err)
	}
	dst := filepath.Join(t.TempDir(), "out")
	info, err := bucket.Download(ctx, "k", dst, nil)
	if err != nil {
		t.Fatalf("download error: %v", err)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "download me" || info.Size != int64(len(data)) {
		t.Fatalf("download mismatch: %q %+v", data, info)
	}
}

func TestBucketRejectsBadKeysAndShortBodies(t *testing.T) {
	bucket := newTestBucket(t)
	ctx := context.Background()
	for _, key := range []string{"../escape", ".meta/x", "/abs"} {
		if _, err := bucket.Put(ctx, key, bytes.NewReader(nil), 0, nil, nil); err == nil {
			t.Fatalf("key %q should be rejected", key)
		}
	}
	if _, err := bucket.Put(ctx, "short", bytes.NewReader([]byte("abc")), 10, nil, nil); err == nil {
		t.Fatalf("short body should fail")
	}
	if _, err := bucket.Stat(ctx, "short"); !errors.Is(err, objstore.ErrNotFound) {
		t.Fatalf("failed put must not leave an object, got %v", err)
	}
}

func TestBucketRemove(t *testing.T) {
	bucket := newTestBucket(t)
	ctx := context.Background()
	if _, err := bucket.Put(ctx, "gone", bytes.NewReader([]byte("x")), 1, nil, nil); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := bucket.Remove(ctx, "gone"); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := bucket.Stat(ctx, "gone"); !errors.Is(err, objstore.ErrNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestDriverRegistered(t *testing.T) {
	gw, err := objstore.Open("fs", objstore.Options{Root: t.TempDir(), Bucket: "bundles"})
	if err != nil {
		t.Fatalf("open fs driver error: %v", err)
	}
	if _, ok := gw.(*Bucket); !ok {
		t.Fatalf("unexpected gateway type %T", gw)
	}
}

// newTestBucket returns a Bucket backed by a temporary directory.
func newTestBucket(t *testing.T) *Bucket {
	t.Helper()
	bucket, err := New(t.TempDir(), hasher.Default())
	if err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}
	return bucket
}
