package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/logging"
)

var entryKeyPrefix = []byte("entry/")

// badgerRecords 把记录集中保存在嵌入式 badger 库中，键为 entry/<ident>。
type badgerRecords struct {
	db *badger.DB
}

func openBadgerRecords(dir string, logger logrus.FieldLogger) (*badgerRecords, error) {
	opts := badger.DefaultOptions(dir)
	if logger != nil {
		opts = opts.WithLogger(logging.NewPrintfLogger(logger, "badger"))
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache index %s: %w", dir, err)
	}
	return &badgerRecords{db: db}, nil
}

func entryKey(ident string) []byte {
	return append(append([]byte{}, entryKeyPrefix...), ident...)
}

func (r *badgerRecords) load(ident string) (*Entry, error) {
	var entry Entry
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(ident))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (r *badgerRecords) save(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.Identity.String()), data)
	})
}

func (r *badgerRecords) delete(ident string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(ident))
	})
}

func (r *badgerRecords) all() ([]Entry, error) {
	var entries []Entry
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(entryKeyPrefix); it.ValidForPrefix(entryKeyPrefix); it.Next() {
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

func (r *badgerRecords) close() error {
	return r.db.Close()
}
