package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/bundlehub/internal/config"
	"github.com/any-hub/bundlehub/internal/server"
	"github.com/any-hub/bundlehub/internal/server/routes"
	"github.com/any-hub/bundlehub/internal/version"
)

func newServeCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "以 REST 协议暴露 [[ServeBucket]] 声明的目录桶",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.load(); err != nil {
				return err
			}
			if len(s.cfg.ServeBuckets) == 0 {
				return errors.New("至少需要一个 [[ServeBucket]]")
			}

			// 启动顺序：配置 → BucketRegistry → Fiber server，所有请求共享同一组桶实例。
			registry, err := server.NewBucketRegistry(s.cfg)
			if err != nil {
				return fmt.Errorf("构建桶注册表失败: %w", err)
			}

			fields := s.fields("startup")
			fields["buckets"] = len(s.cfg.ServeBuckets)
			fields["listen_port"] = s.cfg.Global.ListenPort
			fields["version"] = version.Full()
			s.logger.WithFields(fields).Info("配置加载完成")

			if err := startHTTPServer(cmd.Context(), s.cfg, registry, s.logger); err != nil {
				return fmt.Errorf("HTTP 服务启动失败: %w", err)
			}
			return nil
		},
	}
}

func startHTTPServer(ctx context.Context, cfg *config.Config, registry *server.BucketRegistry, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		ListenPort: port,
		BodyLimit:  cfg.Global.MaxUploadSize,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, registry)

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			if err := app.Shutdown(); err != nil {
				logger.WithError(err).Warn("Fiber 服务关闭失败")
			}
		case <-stopped:
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
