package pkgmeta

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

// MetaFileName 是远端元数据对象与本地缓存目录中的固定文件名。
const MetaFileName = "meta.json"

// ErrMalformed 表示 meta.json 不是合法 JSON 或缺少 archive 字段。
var ErrMalformed = errors.New("malformed package metadata")

// ArchiveDescriptor 对应 meta.json 中的 archive 三元组
// [relative_path, checksum, remote_location]。
type ArchiveDescriptor struct {
	Path     string
	Checksum string
	Location string
}

// MarshalJSON 输出为有序数组，保持与发布端一致。
func (d ArchiveDescriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{d.Path, d.Checksum, d.Location})
}

// UnmarshalJSON 只读取前三项，多余元素忽略。
func (d *ArchiveDescriptor) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("archive field must be a string array: %w", err)
	}
	if len(items) < 3 {
		return fmt.Errorf("archive field needs 3 items, got %d", len(items))
	}
	d.Path, d.Checksum, d.Location = items[0], items[1], items[2]
	return nil
}

// Validate 检查三元组各项非空，且相对路径不会逃出包目录。
func (d ArchiveDescriptor) Validate() error {
	if d.Path == "" || d.Checksum == "" || d.Location == "" {
		return errors.New("archive path/checksum/location must not be empty")
	}
	clean := path.Clean("/" + d.Path)
	if clean == "/" || strings.TrimPrefix(clean, "/") != d.Path {
		return fmt.Errorf("archive path %q must be a clean relative path", d.Path)
	}
	return nil
}

// Metadata 是 meta.json 的解析结果；Raw 保留全部原始字段（license、compatibility 等）。
type Metadata struct {
	Identity Identity
	Archive  ArchiveDescriptor
	Raw      map[string]any
}

// Parse 解析 meta.json。fallback 用于 meta 中缺少 name/version 时，
// 通常来自桶内路径段。
func Parse(data []byte, fallback Identity) (Metadata, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return Metadata{}, fmt.Errorf("%w: document is not an object", ErrMalformed)
	}

	archiveRaw, ok := raw["archive"]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: missing archive field", ErrMalformed)
	}
	encoded, err := json.Marshal(archiveRaw)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var desc ArchiveDescriptor
	if err := json.Unmarshal(encoded, &desc); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := desc.Validate(); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	id := fallback
	name, _ := raw["name"].(string)
	version, _ := raw["version"].(string)
	if name != "" && version != "" {
		parsed, err := NewIdentity(name, version)
		if err != nil {
			return Metadata{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		id = parsed
	}
	if id.IsZero() {
		return Metadata{}, fmt.Errorf("%w: missing name/version", ErrMalformed)
	}

	return Metadata{Identity: id, Archive: desc, Raw: raw}, nil
}

// Encode 将 Raw 重新序列化，并保证 archive/name/version 与结构体字段一致。
func (m Metadata) Encode() ([]byte, error) {
	out := make(map[string]any, len(m.Raw)+3)
	for k, v := range m.Raw {
		out[k] = v
	}
	out["name"] = m.Identity.Name
	out["version"] = m.Identity.Version
	out["archive"] = m.Archive
	return json.MarshalIndent(out, "", "  ")
}

// String 返回 Raw 中的字符串字段，缺失时为空。
func (m Metadata) String(field string) string {
	v, _ := m.Raw[field].(string)
	return v
}
