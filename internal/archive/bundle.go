package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/any-hub/bundlehub/internal/pkgmeta"
)

// Member 是 bundle 中一个可独立上传的成员。
type Member struct {
	Key  string
	Size int64
	src  io.ReaderAt
	off  int64
}

// Reader 每次返回一个新的、从头开始的可 Seek 读取器。
func (m Member) Reader() *io.SectionReader {
	return io.NewSectionReader(m.src, m.off, m.Size)
}

// IsMetadata 判断成员是否为 meta.json。
func (m Member) IsMetadata() bool {
	return path.Base(m.Key) == pkgmeta.MetaFileName
}

// Bundle 是打开后的 bundle 文件，调用方负责 Close。
type Bundle struct {
	Path     string
	Identity pkgmeta.Identity
	Members  []Member
	file     *os.File
}

// OpenBundle 扫描 tar 头记录每个成员的偏移，不读取正文。
// 成员顺序为：非元数据成员保持原顺序，meta.json 排在最后。
func OpenBundle(bundlePath string) (*Bundle, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, err
	}

	members, err := scanMembers(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read bundle %s: %w", bundlePath, err)
	}
	id, err := bundleIdentity(members)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read bundle %s: %w", bundlePath, err)
	}

	sort.SliceStable(members, func(i, j int) bool {
		return !members[i].IsMetadata() && members[j].IsMetadata()
	})

	return &Bundle{Path: bundlePath, Identity: id, Members: members, file: f}, nil
}

// Close 释放底层文件。
func (b *Bundle) Close() error {
	if b == nil || b.file == nil {
		return nil
	}
	return b.file.Close()
}

// Metadata 解析 bundle 内的 meta.json。
func (b *Bundle) Metadata() (pkgmeta.Metadata, error) {
	for _, m := range b.Members {
		if !m.IsMetadata() {
			continue
		}
		data, err := io.ReadAll(m.Reader())
		if err != nil {
			return pkgmeta.Metadata{}, err
		}
		return pkgmeta.Parse(data, b.Identity)
	}
	return pkgmeta.Metadata{}, errors.New("bundle has no meta.json member")
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func scanMembers(f *os.File) ([]Member, error) {
	cr := &countingReader{r: f}
	tr := tar.NewReader(cr)
	var members []Member
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		members = append(members, Member{
			Key:  strings.TrimPrefix(path.Clean("/"+hdr.Name), "/"),
			Size: hdr.Size,
			src:  f,
			off:  cr.n,
		})
	}
	if len(members) == 0 {
		return nil, errors.New("bundle is empty")
	}
	return members, nil
}

// bundleIdentity 要求所有成员位于同一个 <ident>/ 目录下，且包含 meta.json。
func bundleIdentity(members []Member) (pkgmeta.Identity, error) {
	var ident string
	hasMeta := false
	for _, m := range members {
		head, rest, ok := strings.Cut(m.Key, "/")
		if !ok || rest == "" {
			return pkgmeta.Identity{}, fmt.Errorf("member %q is not under an identity directory", m.Key)
		}
		if ident == "" {
			ident = head
		} else if head != ident {
			return pkgmeta.Identity{}, fmt.Errorf("member %q does not belong to %s", m.Key, ident)
		}
		if rest == pkgmeta.MetaFileName {
			hasMeta = true
		}
	}
	if !hasMeta {
		return pkgmeta.Identity{}, errors.New("bundle has no meta.json member")
	}
	return pkgmeta.ParseIdent(ident)
}
