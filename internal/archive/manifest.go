package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/any-hub/bundlehub/internal/pkgmeta"
)

// ManifestFileName 是源目录中的包描述文件。
const ManifestFileName = "package.json"

// Manifest 对应 package.json：name/version/include 之外的字段原样透传到 meta.json。
type Manifest struct {
	Identity pkgmeta.Identity
	Include  [][2]string
	Fields   map[string]any
}

// LoadManifest 读取 srcDir/package.json。
func LoadManifest(srcDir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(srcDir, ManifestFileName))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	name, _ := fields["name"].(string)
	version, _ := fields["version"].(string)
	id, err := pkgmeta.NewIdentity(name, version)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest identity: %w", err)
	}

	include, err := decodeInclude(fields["include"])
	if err != nil {
		return Manifest{}, err
	}
	delete(fields, "include")
	delete(fields, "archive")

	return Manifest{Identity: id, Include: include, Fields: fields}, nil
}

// decodeInclude 解析 [["data", "*"], ...]；缺省时包含整个目录。
func decodeInclude(raw any) ([][2]string, error) {
	if raw == nil {
		return [][2]string{{".", "*"}}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, errors.New("manifest include must be a list of [dir, pattern] pairs")
	}
	result := make([][2]string, 0, len(items))
	for _, item := range items {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, errors.New("manifest include entries must be [dir, pattern]")
		}
		dir, okDir := pair[0].(string)
		pattern, okPattern := pair[1].(string)
		if !okDir || !okPattern {
			return nil, errors.New("manifest include entries must be strings")
		}
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("manifest include pattern %q: %w", pattern, err)
		}
		result = append(result, [2]string{dir, pattern})
	}
	return result, nil
}

// collectFiles 返回 include 命中的常规文件（相对 srcDir 的 slash 路径，已去重排序）。
// 命中目录时递归包含其全部文件；package.json 本身不进入负载。
func (m Manifest) collectFiles(srcDir string) ([]string, error) {
	seen := map[string]struct{}{}
	for _, rule := range m.Include {
		base := filepath.Join(srcDir, filepath.FromSlash(rule[0]))
		entries, err := os.ReadDir(base)
		if err != nil {
			return nil, fmt.Errorf("include %s: %w", rule[0], err)
		}
		for _, entry := range entries {
			ok, err := path.Match(rule[1], entry.Name())
			if err != nil {
				return nil, fmt.Errorf("include [%s, %s]: %w", rule[0], rule[1], err)
			}
			if !ok {
				continue
			}
			full := filepath.Join(base, entry.Name())
			err = filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.Type().IsRegular() {
					return nil
				}
				rel, err := filepath.Rel(srcDir, p)
				if err != nil {
					return err
				}
				rel = filepath.ToSlash(rel)
				if rel == ManifestFileName || strings.HasPrefix(rel, "../") {
					return nil
				}
				seen[rel] = struct{}{}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("walk %s: %w", full, err)
			}
		}
	}

	files := make([]string, 0, len(seen))
	for rel := range seen {
		files = append(files, rel)
	}
	sort.Strings(files)
	return files, nil
}
