package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/any-hub/bundlehub/internal/pkgmeta"
)

// ErrFileNotFound 表示负载中不存在请求的文件。
var ErrFileNotFound = errors.New("file not found in package")

// Package 是已校验、已落盘的包，按成员粒度读取负载中的文件。
type Package struct {
	Dir  string
	meta pkgmeta.Metadata
}

// OpenPackage 读取 dir/meta.json 并确认负载文件存在。
func OpenPackage(dir string) (*Package, error) {
	data, err := os.ReadFile(filepath.Join(dir, pkgmeta.MetaFileName))
	if err != nil {
		return nil, fmt.Errorf("read package meta: %w", err)
	}
	meta, err := pkgmeta.Parse(data, pkgmeta.Identity{})
	if err != nil {
		return nil, err
	}
	p := &Package{Dir: dir, meta: meta}
	if _, err := os.Stat(p.PayloadPath()); err != nil {
		return nil, fmt.Errorf("package payload: %w", err)
	}
	return p, nil
}

// Identity 返回包身份。
func (p *Package) Identity() pkgmeta.Identity { return p.meta.Identity }

// Metadata 返回 meta.json 的解析结果。
func (p *Package) Metadata() pkgmeta.Metadata { return p.meta }

// PayloadPath 返回本地负载文件路径。
func (p *Package) PayloadPath() string {
	return filepath.Join(p.Dir, filepath.FromSlash(p.meta.Archive.Path))
}

// Files 列出负载内的全部文件名。
func (p *Package) Files() ([]string, error) {
	var names []string
	err := p.walk(func(hdr *tar.Header, _ io.Reader) (bool, error) {
		names = append(names, hdr.Name)
		return false, nil
	})
	return names, err
}

// Open 返回负载中 name 对应文件的读取器，name 使用 slash 分隔（如 data/model）。
func (p *Package) Open(name string) (io.ReadCloser, error) {
	want := cleanName(name)
	f, err := os.Open(p.PayloadPath())
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		f.Close()
		return nil, err
	}
	closeAll := func() error {
		dec.Close()
		return f.Close()
	}

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			closeAll()
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		if err != nil {
			closeAll()
			return nil, err
		}
		if cleanName(hdr.Name) == want {
			return &memberReader{Reader: tr, close: closeAll}, nil
		}
	}
}

// ReadFile 读取负载中的整个文件。
func (p *Package) ReadFile(name string) ([]byte, error) {
	rc, err := p.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Extract 将负载解压到 dst，拒绝越界路径。
func (p *Package) Extract(dst string) error {
	return p.walk(func(hdr *tar.Header, r io.Reader) (bool, error) {
		target := filepath.Join(dst, filepath.FromSlash(cleanName(hdr.Name)))
		if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
			return true, fmt.Errorf("payload entry %q escapes destination", hdr.Name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return true, err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode)&0o777|0o600)
		if err != nil {
			return true, err
		}
		_, err = io.Copy(out, r)
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		return false, err
	})
}

func (p *Package) walk(fn func(*tar.Header, io.Reader) (bool, error)) error {
	f, err := os.Open(p.PayloadPath())
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return err
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		stop, err := fn(hdr, tr)
		if err != nil || stop {
			return err
		}
	}
}

type memberReader struct {
	io.Reader
	close func() error
}

func (m *memberReader) Close() error { return m.close() }

func cleanName(name string) string {
	return strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(name)), "/")
}
