package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/objstore"
	"github.com/any-hub/bundlehub/internal/objstore/restbucket"
)

const (
	defaultListLimit = 1000
	maxListLimit     = 10000
)

type objectHandler struct {
	registry *BucketRegistry
	logger   *logrus.Logger
}

// list 以 key 升序分页；after 为上一页最后一个 key。
func (h *objectHandler) list(c fiber.Ctx) error {
	route, ok := h.bucket(c)
	if !ok {
		return renderError(c, fiber.StatusNotFound, "bucket_not_found")
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, convErr := strconv.Atoi(raw)
		if convErr != nil || parsed <= 0 {
			return renderError(c, fiber.StatusBadRequest, "invalid_limit")
		}
		limit = min(parsed, maxListLimit)
	}
	prefix := c.Query("prefix")
	after := c.Query("after")

	var objects []objstore.ObjectInfo
	for info, listErr := range route.Gateway.List(requestContext(c), prefix) {
		if listErr != nil {
			return h.storageError(c, route, "", listErr)
		}
		objects = append(objects, info)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	start := sort.Search(len(objects), func(i int) bool { return objects[i].Key > after })
	page := restbucket.ListPage{Objects: objects[start:]}
	if len(page.Objects) > limit {
		page.Objects = page.Objects[:limit]
		page.Next = page.Objects[limit-1].Key
	}
	if page.Objects == nil {
		page.Objects = []objstore.ObjectInfo{}
	}
	return c.JSON(page)
}

func (h *objectHandler) get(c fiber.Ctx) error {
	route, ok := h.bucket(c)
	if !ok {
		return renderError(c, fiber.StatusNotFound, "bucket_not_found")
	}
	key, err := objectKey(c)
	if err != nil {
		return renderError(c, fiber.StatusBadRequest, "invalid_key")
	}

	ctx := requestContext(c)
	if c.Method() == http.MethodHead {
		info, statErr := route.Gateway.Stat(ctx, key)
		if statErr != nil {
			return h.storageError(c, route, key, statErr)
		}
		writeObjectHeaders(c, info)
		// 不写 body，保留上面设置的 Content-Length
		c.Status(fiber.StatusOK)
		return nil
	}

	body, info, err := route.Gateway.Get(ctx, key)
	if err != nil {
		return h.storageError(c, route, key, err)
	}
	writeObjectHeaders(c, info)
	c.Status(fiber.StatusOK)
	// fasthttp 在响应写完后关闭 body
	c.Response().SetBodyStream(body, int(info.Size))
	return nil
}

func (h *objectHandler) put(c fiber.Ctx) error {
	route, ok := h.bucket(c)
	if !ok {
		return renderError(c, fiber.StatusNotFound, "bucket_not_found")
	}
	key, err := objectKey(c)
	if err != nil {
		return renderError(c, fiber.StatusBadRequest, "invalid_key")
	}

	metadata := make(map[string]string)
	for name, values := range c.GetReqHeaders() {
		canonical := http.CanonicalHeaderKey(name)
		if len(values) == 0 || !strings.HasPrefix(canonical, restbucket.MetaHeaderPrefix) {
			continue
		}
		metadata[strings.TrimPrefix(canonical, restbucket.MetaHeaderPrefix)] = values[0]
	}

	data := c.Body()
	info, err := route.Gateway.Put(requestContext(c), key, bytes.NewReader(data), int64(len(data)), metadata, nil)
	if err != nil {
		return h.storageError(c, route, key, err)
	}
	return c.Status(fiber.StatusCreated).JSON(info)
}

func (h *objectHandler) bucket(c fiber.Ctx) (*BucketRoute, bool) {
	name := c.Params("bucket")
	route, ok := h.registry.Lookup(name)
	if !ok {
		h.logger.WithFields(logrus.Fields{"action": "bucket_lookup", "bucket": name}).Warn("bucket unmapped")
	}
	return route, ok
}

func (h *objectHandler) storageError(c fiber.Ctx, route *BucketRoute, key string, err error) error {
	if errors.Is(err, objstore.ErrNotFound) {
		return renderError(c, fiber.StatusNotFound, "object_not_found")
	}
	h.logger.WithFields(logrus.Fields{
		"action":     "storage",
		"bucket":     route.Config.Name,
		"key":        key,
		"request_id": RequestID(c),
	}).WithError(err).Error("bucket operation failed")
	return renderError(c, fiber.StatusInternalServerError, "storage_error")
}

func renderError(c fiber.Ctx, status int, code string) error {
	c.Set(restbucket.HeaderErrorCode, code)
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func writeObjectHeaders(c fiber.Ctx, info objstore.ObjectInfo) {
	c.Set(fiber.HeaderContentType, "application/octet-stream")
	c.Set(restbucket.HeaderContentHash, info.ContentHash)
	c.Set(fiber.HeaderETag, `"`+info.ContentHash+`"`)
	if !info.ModTime.IsZero() {
		c.Set(fiber.HeaderLastModified, info.ModTime.UTC().Format(http.TimeFormat))
	}
	for k, v := range info.Metadata {
		c.Set(restbucket.MetaHeaderPrefix+k, v)
	}
	c.Response().Header.SetContentLength(int(info.Size))
}

func objectKey(c fiber.Ctx) (string, error) {
	key, err := url.PathUnescape(c.Params("*"))
	if err != nil {
		return "", err
	}
	if err := objstore.ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
