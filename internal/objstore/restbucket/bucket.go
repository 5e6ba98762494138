// Package restbucket 通过 HTTP 访问 bundlehub serve 暴露的桶。
//
// 协议：
//
//	GET  /b/<bucket>?prefix=&after=&limit=   分页列举，返回 {"objects": [...], "next": ""}
//	GET  /b/<bucket>/<key>                   对象正文，X-Content-Hash / X-Meta-* 头描述对象
//	HEAD /b/<bucket>/<key>                   仅返回头
//	PUT  /b/<bucket>/<key>                   写入对象，X-Meta-* 头作为元数据
package restbucket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/any-hub/bundlehub/internal/objstore"
)

const (
	// HeaderContentHash 携带存储端计算的内容哈希。
	HeaderContentHash = "X-Content-Hash"
	// HeaderErrorCode 在错误响应中重复 body 里的错误码，HEAD 响应没有 body 时依赖它。
	HeaderErrorCode = "X-Error-Code"
	// MetaHeaderPrefix 是用户元数据头的前缀。
	MetaHeaderPrefix = "X-Meta-"

	defaultPageSize = 1000
)

func init() {
	objstore.MustRegister(objstore.Driver{
		Key:         "rest",
		Description: "bundlehub REST bucket server",
		Open: func(opts objstore.Options) (objstore.Gateway, error) {
			return New(opts.Endpoint, opts.Bucket, NewHTTPClient(opts.Timeout))
		},
	})
}

// ListPage 是列举接口的一页结果，服务端与客户端共用。
type ListPage struct {
	Objects []objstore.ObjectInfo `json:"objects"`
	Next    string                `json:"next,omitempty"`
}

// Bucket 是 REST 后端的 Gateway 实现。
type Bucket struct {
	base     *url.URL
	bucket   string
	client   *http.Client
	PageSize int
}

// New 构造客户端，endpoint 形如 http://127.0.0.1:5000。
func New(endpoint, bucket string, client *http.Client) (*Bucket, error) {
	if endpoint == "" {
		return nil, errors.New("rest backend requires REST.Endpoint")
	}
	if bucket == "" {
		return nil, errors.New("rest backend requires Bucket")
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid REST.Endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("REST.Endpoint must be http/https: %s", endpoint)
	}
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &Bucket{base: base, bucket: bucket, client: client, PageSize: defaultPageSize}, nil
}

func (b *Bucket) List(ctx context.Context, prefix string) iter.Seq2[objstore.ObjectInfo, error] {
	return func(yield func(objstore.ObjectInfo, error) bool) {
		after := ""
		for {
			page, err := b.listPage(ctx, prefix, after)
			if err != nil {
				yield(objstore.ObjectInfo{}, err)
				return
			}
			for _, obj := range page.Objects {
				if !yield(obj, nil) {
					return
				}
			}
			if page.Next == "" || page.Next == after {
				return
			}
			after = page.Next
		}
	}
}

func (b *Bucket) listPage(ctx context.Context, prefix, after string) (*ListPage, error) {
	query := url.Values{}
	query.Set("prefix", prefix)
	if after != "" {
		query.Set("after", after)
	}
	query.Set("limit", strconv.Itoa(b.PageSize))

	u := b.bucketURL()
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp, "list "+prefix)
	}
	var page ListPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return &page, nil
}

func (b *Bucket) Stat(ctx context.Context, key string) (objstore.ObjectInfo, error) {
	resp, err := b.do(ctx, http.MethodHead, key, nil, -1, nil)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	resp.Body.Close()
	return infoFromHeader(key, resp), nil
}

func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, objstore.ObjectInfo, error) {
	resp, err := b.do(ctx, http.MethodGet, key, nil, -1, nil)
	if err != nil {
		return nil, objstore.ObjectInfo{}, err
	}
	return resp.Body, infoFromHeader(key, resp), nil
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
		return objstore.ObjectInfo{}, err
	}
	return info, nil
}

func (b *Bucket) Put(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string, progress objstore.ProgressFunc) (objstore.ObjectInfo, error) {
	if size < 0 {
		// 服务端要求 Content-Length，未知长度时先读入内存
		data, err := io.ReadAll(body)
		if err != nil {
			return objstore.ObjectInfo{}, err
		}
		body, size = bytes.NewReader(data), int64(len(data))
	}
	resp, err := b.do(ctx, http.MethodPut, key, objstore.NewProgressReader(body, size, progress), size, metadata)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	defer resp.Body.Close()

	var info objstore.ObjectInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return objstore.ObjectInfo{}, fmt.Errorf("decode put response: %w", err)
	}
	return info, nil
}

func (b *Bucket) do(ctx context.Context, method, key string, body io.Reader, size int64, metadata map[string]string) (*http.Response, error) {
	if err := objstore.ValidateKey(key); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, b.objectURL(key).String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.ContentLength = size
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	for k, v := range metadata {
		req.Header.Set(MetaHeaderPrefix+k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, responseError(resp, strings.ToLower(method)+" "+key)
	}
	return resp, nil
}

func (b *Bucket) bucketURL() *url.URL {
	return b.base.JoinPath("b", b.bucket)
}

func (b *Bucket) objectURL(key string) *url.URL {
	return b.bucketURL().JoinPath(strings.Split(key, "/")...)
}

func infoFromHeader(key string, resp *http.Response) objstore.ObjectInfo {
	info := objstore.ObjectInfo{
		Key:         key,
		ContentHash: resp.Header.Get(HeaderContentHash),
		Size:        resp.ContentLength,
	}
	if info.ContentHash == "" {
		info.ContentHash = strings.Trim(resp.Header.Get("ETag"), `"`)
	}
	if raw := resp.Header.Get("Last-Modified"); raw != "" {
		if ts, err := http.ParseTime(raw); err == nil {
			info.ModTime = ts.UTC()
		}
	}
	for name, values := range resp.Header {
		if len(values) == 0 || !strings.HasPrefix(name, MetaHeaderPrefix) {
			continue
		}
		if info.Metadata == nil {
			info.Metadata = make(map[string]string)
		}
		info.Metadata[strings.TrimPrefix(name, MetaHeaderPrefix)] = values[0]
	}
	return info
}

type errorBody struct {
	Error string `json:"error"`
}

func responseError(resp *http.Response, op string) error {
	payload := errorBody{Error: resp.Header.Get(HeaderErrorCode)}
	if payload.Error == "" {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(data))
		}
	}
	if resp.StatusCode == http.StatusNotFound && payload.Error != "bucket_not_found" {
		return fmt.Errorf("%w: %s", objstore.ErrNotFound, op)
	}
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Code: payload.Error}
}

// StatusError 描述服务端返回的非 2xx 响应。
type StatusError struct {
	Op         string
	StatusCode int
	Code       string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("rest bucket %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("rest bucket %s: status %d (%s)", e.Op, e.StatusCode, e.Code)
}
