package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/any-hub/bundlehub/internal/archive"
	"github.com/any-hub/bundlehub/internal/pkgindex"
	"github.com/any-hub/bundlehub/internal/pkgmeta"
)

func newUpdateCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "按桶内 meta.json 同步本地索引",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx, err := s.openIndex()
			if err != nil {
				return err
			}
			defer idx.Close()

			report, err := idx.Update(cmd.Context())
			if report != nil {
				fmt.Fprintf(stdOut, "discovered %d, added %d, unchanged %d, removed %d, failed %d (%s)\n",
					len(report.Discovered), len(report.Added), len(report.Unchanged),
					len(report.Removed), len(report.Failed), report.Duration.Round(time.Millisecond))
			}
			return err
		},
	}
}

func newFetchCommand(s *session) *cobra.Command {
	var extractDir string
	cmd := &cobra.Command{
		Use:   "fetch <name[==version]>",
		Short: "下载并校验数据包负载",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := pkgmeta.ParseQuery(args[0])
			if err != nil {
				return usageError{err}
			}
			idx, err := s.openIndex()
			if err != nil {
				return err
			}
			defer idx.Close()

			pkg, err := idx.Fetch(cmd.Context(), query)
			if err != nil {
				return err
			}
			if extractDir != "" {
				if err := pkg.Extract(extractDir); err != nil {
					return fmt.Errorf("解压 %s 失败: %w", pkg.Identity(), err)
				}
				fmt.Fprintf(stdOut, "%s -> %s\n", pkg.Identity(), extractDir)
				return nil
			}
			fmt.Fprintf(stdOut, "%s %s\n", pkg.Identity(), pkg.PayloadPath())
			return nil
		},
	}
	cmd.Flags().StringVar(&extractDir, "extract", "", "将负载解压到指定目录")
	return cmd
}

func newUploadCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <bundle>",
		Short: "逐成员上传构建产物，meta.json 最后写入",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := s.openIndex()
			if err != nil {
				return err
			}
			defer idx.Close()

			report, err := idx.Upload(cmd.Context(), args[0])
			if report != nil {
				printUpload(report)
			}
			return err
		},
	}
}

func newBuildCommand(s *session) *cobra.Command {
	var (
		outDir string
		upload bool
	)
	cmd := &cobra.Command{
		Use:   "build <source-dir>",
		Short: "根据 package.json 生成 .bundle 构建产物",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.load(); err != nil {
				return err
			}
			result, err := archive.Build(args[0], outDir, s.cfg.Hasher())
			if err != nil {
				return err
			}
			fields := s.fields("build")
			fields["package"] = result.Metadata.Identity.String()
			fields["files"] = len(result.Files)
			fields["bundle"] = result.Path
			s.logger.WithFields(fields).Info("构建完成")
			fmt.Fprintln(stdOut, result.Path)

			if !upload {
				return nil
			}
			idx, err := s.openIndex()
			if err != nil {
				return err
			}
			defer idx.Close()
			report, err := idx.Upload(cmd.Context(), result.Path)
			if report != nil {
				printUpload(report)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "产物输出目录")
	cmd.Flags().BoolVar(&upload, "upload", false, "构建后立即上传")
	return cmd
}

func newListCommand(s *session) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出本地已索引（或 --remote 时桶内）的数据包",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx, err := s.openIndex()
			if err != nil {
				return err
			}
			defer idx.Close()

			if remote {
				index, err := idx.Remote(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range index.Identities() {
					fmt.Fprintf(stdOut, "%s\t%s\n", id, index[id].MetaKey)
				}
				return nil
			}

			entries, err := idx.Cached(cmd.Context())
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Fprintf(stdOut, "%s\t%s\tupdated %s\n", entry.Identity, entry.MetaLocation, humanize.Time(entry.UpdatedAt))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "直接列举桶内数据包，不修改本地索引")
	return cmd
}

func newCheckConfigCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "仅校验配置后退出",
		Args:  noArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := s.load(); err != nil {
				return err
			}
			fields := s.fields("check_config")
			fields["backend"] = s.cfg.Global.Backend
			fields["bucket"] = s.cfg.Global.Bucket
			fields["cache_index"] = s.cfg.Global.CacheIndex
			fields["serve_buckets"] = len(s.cfg.ServeBuckets)
			fields["result"] = "ok"
			s.logger.WithFields(fields).Info("配置校验通过")
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Args:  noArgs,
		Run: func(_ *cobra.Command, _ []string) {
			printVersion()
		},
	}
}

// openIndex 在需要时加载配置，并按配置打开存储与本地缓存。
func (s *session) openIndex() (*pkgindex.Index, error) {
	if s.cfg == nil {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	idx, err := pkgindex.Open(s.cfg, s.logger)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func printUpload(report *pkgindex.UploadReport) {
	for _, member := range report.Members {
		fmt.Fprintf(stdOut, "%s\t%s\t%s\n", member.Key, humanize.Bytes(uint64(member.Size)), member.ContentHash)
	}
	fmt.Fprintf(stdOut, "uploaded %s (%d members)\n", report.Identity, len(report.Members))
}
