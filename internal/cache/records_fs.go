package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/any-hub/bundlehub/internal/pkgmeta"
)

// fsRecords 把记录写在 <basePath>/<ident>/.entry.json。
type fsRecords struct {
	basePath string
}

func (r *fsRecords) path(ident string) string {
	return filepath.Join(r.basePath, ident, recordFileName)
}

func (r *fsRecords) load(ident string) (*Entry, error) {
	data, err := os.ReadFile(r.path(ident))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode cache record %s: %w", ident, err)
	}
	return &entry, nil
}

func (r *fsRecords) save(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return writeFileAtomic(r.path(entry.Identity.String()), data)
}

func (r *fsRecords) delete(ident string) error {
	if err := os.Remove(r.path(ident)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (r *fsRecords) all() ([]Entry, error) {
	dirs, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, d := range dirs {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		// 目录名不是合法身份的（例如用户手工创建的目录）直接忽略
		if _, err := pkgmeta.ParseIdent(d.Name()); err != nil {
			continue
		}
		entry, err := r.load(d.Name())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (r *fsRecords) close() error { return nil }
