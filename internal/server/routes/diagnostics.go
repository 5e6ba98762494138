package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/bundlehub/internal/objstore"
	"github.com/any-hub/bundlehub/internal/server"
	"github.com/any-hub/bundlehub/internal/version"
)

// RegisterDiagnosticsRoutes 暴露 /-/ 下的诊断接口，供运维确认服务状态与桶映射。
func RegisterDiagnosticsRoutes(app *fiber.App, registry *server.BucketRegistry) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Full(),
		})
	})

	app.Get("/-/buckets", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"buckets":  encodeBuckets(registry.List()),
			"backends": encodeBackends(objstore.Keys()),
		})
	})

	app.Get("/-/buckets/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bucket_name_required"})
		}
		route, ok := registry.Lookup(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "bucket_not_found"})
		}
		return c.JSON(encodeBucket(*route))
	})
}

type bucketPayload struct {
	Name string `json:"name"`
	Root string `json:"root"`
}

type backendPayload struct {
	Key          string `json:"key"`
	Description  string `json:"description"`
	RequiredHash string `json:"required_hash,omitempty"`
}

func encodeBuckets(routes []server.BucketRoute) []bucketPayload {
	result := make([]bucketPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, encodeBucket(route))
	}
	return result
}

func encodeBucket(route server.BucketRoute) bucketPayload {
	return bucketPayload{Name: route.Config.Name, Root: route.Root}
}

func encodeBackends(keys []string) []backendPayload {
	result := make([]backendPayload, 0, len(keys))
	for _, key := range keys {
		driver, ok := objstore.Resolve(key)
		if !ok {
			continue
		}
		result = append(result, backendPayload{
			Key:          driver.Key,
			Description:  driver.Description,
			RequiredHash: driver.RequiredHash,
		})
	}
	return result
}
