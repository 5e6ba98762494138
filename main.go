package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/bundlehub/internal/config"
	"github.com/any-hub/bundlehub/internal/logging"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// usageError 标记参数错误，对应退出码 2。
type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run 执行一次 CLI 调用并返回退出码：0 成功，1 失败，2 参数错误。
func run(ctx context.Context, args []string) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stdErr, "错误: %v\n", err)
	var usage usageError
	if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command") {
		return 2
	}
	return 1
}

// session 持有一次命令执行期间的配置与日志实例。
type session struct {
	configFlag string
	configPath string
	cfg        *config.Config
	logger     *logrus.Logger
}

func newRootCommand() *cobra.Command {
	s := &session{}
	root := &cobra.Command{
		Use:           "bundlehub",
		Short:         "对象存储上的版本化数据包索引与本地缓存",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&s.configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+config.EnvConfigPath+" 覆盖）")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	root.AddCommand(
		newUpdateCommand(s),
		newFetchCommand(s),
		newUploadCommand(s),
		newBuildCommand(s),
		newListCommand(s),
		newServeCommand(s),
		newCheckConfigCommand(s),
		newVersionCommand(),
	)
	return root
}

// load 读取配置并初始化日志，每个命令只调用一次。
func (s *session) load() error {
	s.configPath = config.ResolvePath(s.configFlag)
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	logger, err := logging.InitLoggerTo(cfg.Global, stdOut, stdErr)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	s.cfg = cfg
	s.logger = logger
	return nil
}

func (s *session) fields(action string) logrus.Fields {
	return logging.BaseFields(action, s.configPath)
}

// exactArgs 与 cobra.ExactArgs 相同，但错误会映射为退出码 2。
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError{err}
	}
	return nil
}
