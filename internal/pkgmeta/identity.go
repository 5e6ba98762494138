// Package pkgmeta 定义包身份（name + version）与远端 meta.json 的解析规则。
package pkgmeta

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrInvalidIdentity 表示 name/version 组合无法解析。
var ErrInvalidIdentity = errors.New("invalid package identity")

// Identity 唯一标识一个包系列（但不是某个具体内容快照）。
type Identity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NewIdentity 校验 name 与 version 后构造 Identity。
func NewIdentity(name, version string) (Identity, error) {
	name = strings.TrimSpace(name)
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	if err := validateName(name); err != nil {
		return Identity{}, err
	}
	if !IsVersion(version) {
		return Identity{}, fmt.Errorf("%w: version %q is not MAJOR.MINOR.PATCH", ErrInvalidIdentity, version)
	}
	return Identity{Name: name, Version: version}, nil
}

// String 返回桶内路径段格式 name-version。
func (id Identity) String() string {
	return id.Name + "-" + id.Version
}

// Query 返回 CLI 使用的 name==version 格式。
func (id Identity) Query() string {
	return id.Name + "==" + id.Version
}

// IsZero 表示 Identity 未初始化。
func (id Identity) IsZero() bool {
	return id.Name == "" && id.Version == ""
}

// Compare 按 name 再按语义化版本排序。
func (id Identity) Compare(other Identity) int {
	if c := strings.Compare(id.Name, other.Name); c != 0 {
		return c
	}
	return semver.Compare("v"+id.Version, "v"+other.Version)
}

// IsVersion 要求完整三段式语义化版本，允许预发布后缀但不允许 build 元数据。
func IsVersion(version string) bool {
	if version == "" {
		return false
	}
	v := "v" + version
	return semver.IsValid(v) && semver.Canonical(v) == v
}

// ParseIdent 解析桶内路径段 name-version。name 自身可以包含 '-'，
// 取最左侧一个使剩余部分成为合法版本的分隔符。
func ParseIdent(segment string) (Identity, error) {
	segment = strings.TrimSpace(segment)
	for i := 0; i < len(segment); i++ {
		if segment[i] != '-' {
			continue
		}
		name, version := segment[:i], segment[i+1:]
		if name == "" || !IsVersion(version) {
			continue
		}
		return NewIdentity(name, version)
	}
	return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, segment)
}

// Query 描述 fetch/list 的查找条件；Version 为空时表示取最高版本。
type Query struct {
	Name    string
	Version string
}

// ParseQuery 支持 "name==version" 与单独的 "name"。
func ParseQuery(raw string) (Query, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Query{}, fmt.Errorf("%w: empty query", ErrInvalidIdentity)
	}
	name, version, found := strings.Cut(raw, "==")
	if !found {
		if err := validateName(name); err != nil {
			return Query{}, err
		}
		return Query{Name: name}, nil
	}
	id, err := NewIdentity(name, version)
	if err != nil {
		return Query{}, err
	}
	return Query{Name: id.Name, Version: id.Version}, nil
}

// String 还原 CLI 格式。
func (q Query) String() string {
	if q.Version == "" {
		return q.Name
	}
	return q.Name + "==" + q.Version
}

// Matches 判断 id 是否满足查询条件。
func (q Query) Matches(id Identity) bool {
	if q.Name != id.Name {
		return false
	}
	return q.Version == "" || q.Version == id.Version
}

// Resolve 在候选列表中挑出满足查询的最高版本。
func (q Query) Resolve(candidates []Identity) (Identity, bool) {
	var matched []Identity
	for _, id := range candidates {
		if q.Matches(id) {
			matched = append(matched, id)
		}
	}
	if len(matched) == 0 {
		return Identity{}, false
	}
	SortIdentities(matched)
	return matched[len(matched)-1], true
}

// SortIdentities 原地排序。
func SortIdentities(ids []Identity) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Compare(ids[j]) < 0
	})
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidIdentity)
	}
	if strings.ContainsAny(name, "/\\ =") || name == "." || name == ".." {
		return fmt.Errorf("%w: name %q contains forbidden characters", ErrInvalidIdentity, name)
	}
	return nil
}
