package s3bucket

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/any-hub/bundlehub/internal/objstore"
)

func TestContentHashFromETag(t *testing.T) {
	info := objstore.ObjectInfo{Metadata: map[string]string{"Content-Hash": "ABCDEF"}}
	cases := []struct {
		etag string
		want string
	}{
		{etag: `"0cc175b9c0f1b6a831c399e269772661"`, want: "0cc175b9c0f1b6a831c399e269772661"},
		{etag: `"d41d8cd98f00b204e9800998ecf8427e-3"`, want: "abcdef"},
	}
	for _, tc := range cases {
		if got := contentHash(tc.etag, info); got != tc.want {
			t.Fatalf("etag %s: expected %s, got %s", tc.etag, tc.want, got)
		}
	}
}

func TestMultipartETagWithoutMetadata(t *testing.T) {
	if got := contentHash("abc-2", objstore.ObjectInfo{}); got != "" {
		t.Fatalf("multipart etag without metadata should yield empty hash, got %s", got)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(objstore.Options{Bucket: "b"}); err == nil {
		t.Fatalf("missing endpoint should fail")
	}
	if _, err := New(objstore.Options{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("missing bucket should fail")
	}
	if _, err := New(objstore.Options{Endpoint: "localhost:9000", Bucket: "b", HashAlgorithm: "sha256"}); err == nil {
		t.Fatalf("non-md5 algorithm should be rejected")
	}
	if _, err := New(objstore.Options{Endpoint: "localhost:9000", Bucket: "b", AccessKey: "ak", SecretKey: "sk"}); err != nil {
		t.Fatalf("valid options should construct client: %v", err)
	}
}

func TestDriverRegistered(t *testing.T) {
	driver, ok := objstore.Resolve("s3")
	if !ok {
		t.Fatalf("s3 driver should be registered")
	}
	if driver.RequiredHash != "md5" {
		t.Fatalf("s3 driver should require md5, got %s", driver.RequiredHash)
	}
}

func TestMapErrorNotFound(t *testing.T) {
	err := mapError(minio.ErrorResponse{Code: "NoSuchKey", Message: "missing"})
	if !errors.Is(err, objstore.ErrNotFound) {
		t.Fatalf("NoSuchKey should map to ErrNotFound, got %v", err)
	}
	other := mapError(errors.New("boom"))
	if errors.Is(other, objstore.ErrNotFound) {
		t.Fatalf("generic errors should not map to ErrNotFound")
	}
}
