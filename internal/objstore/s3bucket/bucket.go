// Package s3bucket 通过 minio-go 访问 S3 兼容的对象存储。
//
// 单段上传对象的 ETag 即正文的 md5，因此本后端要求 HashAlgorithm 为 md5；
// 分段上传产生的 ETag（形如 "<hex>-<parts>"）不是内容哈希，此时回退到
// 上传时写入的 Content-Hash 元数据。
package s3bucket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/any-hub/bundlehub/internal/hasher"
	"github.com/any-hub/bundlehub/internal/objstore"
)

func init() {
	objstore.MustRegister(objstore.Driver{
		Key:          "s3",
		Description:  "S3 compatible object storage (minio-go)",
		RequiredHash: hasher.DefaultAlgorithm,
		Open: func(opts objstore.Options) (objstore.Gateway, error) {
			return New(opts)
		},
	})
}

// Bucket 是 S3 后端的 Gateway 实现。
type Bucket struct {
	client *minio.Client
	bucket string
}

// New 根据连接参数构造客户端；minio.New 不会立即发起网络请求。
func New(opts objstore.Options) (*Bucket, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("s3 backend requires S3.Endpoint")
	}
	if opts.Bucket == "" {
		return nil, errors.New("s3 backend requires Bucket")
	}
	if algo := strings.ToLower(opts.HashAlgorithm); algo != "" && algo != hasher.DefaultAlgorithm {
		return nil, fmt.Errorf("s3 backend reports md5 ETags, HashAlgorithm %q is not compatible", opts.HashAlgorithm)
	}

	transport, err := minio.DefaultTransport(opts.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("build s3 transport: %w", err)
	}
	if opts.Timeout > 0 {
		transport.ResponseHeaderTimeout = opts.Timeout
	}

	var creds *credentials.Credentials
	if opts.AccessKey != "" || opts.SecretKey != "" {
		creds = credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	} else {
		creds = credentials.NewEnvAWS()
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     creds,
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Bucket{client: client, bucket: opts.Bucket}, nil
}

func (b *Bucket) List(ctx context.Context, prefix string) iter.Seq2[objstore.ObjectInfo, error] {
	return func(yield func(objstore.ObjectInfo, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		// 提前结束迭代时取消上下文，让 minio 的列举 goroutine 退出
		defer cancel()

		for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				yield(objstore.ObjectInfo{}, mapError(obj.Err))
				return
			}
			info := toInfo(obj)
			if isMultipartETag(obj.ETag) {
				// 列举结果不带用户元数据，只能补一次 HEAD
				stat, err := b.Stat(ctx, obj.Key)
				if err != nil {
					yield(objstore.ObjectInfo{}, err)
					return
				}
				info = stat
			}
			if !yield(info, nil) {
				return
			}
		}
	}
}

func (b *Bucket) Stat(ctx context.Context, key string) (objstore.ObjectInfo, error) {
	obj, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return objstore.ObjectInfo{}, mapError(err)
	}
	return toInfo(obj), nil
}

func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, objstore.ObjectInfo, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, objstore.ObjectInfo{}, mapError(err)
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, objstore.ObjectInfo{}, mapError(err)
	}
	return obj, toInfo(stat), nil
}

func (b *Bucket) Download(ctx context.Context, key, dst string, progress objstore.ProgressFunc) (objstore.ObjectInfo, error) {
	body, info, err := b.Get(ctx, key)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	defer body.Close()

	out, err := os.Create(dst)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	_, err = io.Copy(out, objstore.NewProgressReader(body, info.Size, progress))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return objstore.ObjectInfo{}, mapError(err)
	}
	return info, nil
}

// Put 以单段方式上传，保证返回的 ETag 是正文的 md5。
func (b *Bucket) Put(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string, progress objstore.ProgressFunc) (objstore.ObjectInfo, error) {
	opts := minio.PutObjectOptions{
		UserMetadata:     metadata,
		ContentType:      "application/octet-stream",
		DisableMultipart: true,
	}
	if progress != nil {
		opts.Progress = &objstore.ProgressSink{Total: size, Fn: progress}
	}
	uploaded, err := b.client.PutObject(ctx, b.bucket, key, body, size, opts)
	if err != nil {
		return objstore.ObjectInfo{}, mapError(err)
	}
	return objstore.ObjectInfo{
		Key:         key,
		ContentHash: hasher.Normalize(uploaded.ETag),
		Size:        uploaded.Size,
		ModTime:     uploaded.LastModified,
		Metadata:    metadata,
	}, nil
}

func toInfo(obj minio.ObjectInfo) objstore.ObjectInfo {
	info := objstore.ObjectInfo{
		Key:      obj.Key,
		Size:     obj.Size,
		ModTime:  obj.LastModified,
		Metadata: obj.UserMetadata,
	}
	info.ContentHash = contentHash(obj.ETag, info)
	return info
}

// contentHash 优先使用单段 ETag，分段 ETag 时回退到 Content-Hash 元数据。
func contentHash(etag string, info objstore.ObjectInfo) string {
	if !isMultipartETag(etag) {
		return hasher.Normalize(etag)
	}
	return hasher.Normalize(info.Meta(objstore.ContentHashMeta))
}

func isMultipartETag(etag string) bool {
	return strings.Contains(hasher.Normalize(etag), "-")
}

func mapError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %w", objstore.ErrNotFound, err)
	}
	return err
}
