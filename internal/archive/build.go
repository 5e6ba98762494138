package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/any-hub/bundlehub/internal/hasher"
	"github.com/any-hub/bundlehub/internal/pkgmeta"
)

const (
	// PayloadName 是数据文件打包后的成员名。
	PayloadName = "archive.tar.zst"
	// BundleExt 是构建产物的扩展名。
	BundleExt = ".bundle"
)

// BuildResult 描述一次构建产物。
type BuildResult struct {
	Path     string
	Metadata pkgmeta.Metadata
	Files    []string
}

// Build 读取 srcDir/package.json，按 include 收集文件并生成 outDir/<ident>.bundle。
// 负载校验和使用 h 计算，写入 meta.json 的 archive 三元组。
func Build(srcDir, outDir string, h hasher.Hasher) (*BuildResult, error) {
	manifest, err := LoadManifest(srcDir)
	if err != nil {
		return nil, err
	}
	files, err := manifest.collectFiles(srcDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("manifest include matched no files")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	payload, err := os.CreateTemp(outDir, ".payload-*")
	if err != nil {
		return nil, err
	}
	payloadName := payload.Name()
	defer os.Remove(payloadName)

	err = writePayload(payload, srcDir, files)
	closeErr := payload.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("write payload: %w", err)
	}

	checksum, err := h.SumFile(payloadName)
	if err != nil {
		return nil, err
	}

	ident := manifest.Identity.String()
	meta := pkgmeta.Metadata{
		Identity: manifest.Identity,
		Archive: pkgmeta.ArchiveDescriptor{
			Path:     PayloadName,
			Checksum: checksum,
			Location: path.Join(ident, PayloadName),
		},
		Raw: manifest.Fields,
	}
	metaBytes, err := meta.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}

	bundlePath := filepath.Join(outDir, ident+BundleExt)
	if err := writeBundle(bundlePath, ident, payloadName, metaBytes); err != nil {
		return nil, err
	}

	return &BuildResult{Path: bundlePath, Metadata: meta, Files: files}, nil
}

func writePayload(dst io.Writer, srcDir string, files []string) error {
	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	tw := tar.NewWriter(enc)
	for _, rel := range files {
		if err := addFile(tw, filepath.Join(srcDir, filepath.FromSlash(rel)), rel); err != nil {
			enc.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func addFile(tw *tar.Writer, fullPath, name string) error {
	f, err := os.Open(fullPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// writeBundle 先写负载成员，再写 meta.json，保持“元数据最后”的顺序。
func writeBundle(bundlePath, ident, payloadPath string, metaBytes []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(bundlePath), ".bundle-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	err = func() error {
		tw := tar.NewWriter(tmp)
		payload, err := os.Open(payloadPath)
		if err != nil {
			return err
		}
		defer payload.Close()
		info, err := payload.Stat()
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tw.WriteHeader(&tar.Header{Name: path.Join(ident, PayloadName), Mode: 0o644, Size: info.Size(), ModTime: now}); err != nil {
			return err
		}
		if _, err := io.Copy(tw, payload); err != nil {
			return err
		}
		if err := tw.WriteHeader(&tar.Header{Name: path.Join(ident, pkgmeta.MetaFileName), Mode: 0o644, Size: int64(len(metaBytes)), ModTime: now}); err != nil {
			return err
		}
		if _, err := tw.Write(metaBytes); err != nil {
			return err
		}
		return tw.Close()
	}()
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write bundle: %w", err)
	}
	if err := os.Rename(tmpName, bundlePath); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
