package db

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

const cursorPrefix = "WATCHER:CURSOR:V1:"

// CursorDB persists the last processed height of each watcher.
type CursorDB struct {
	db *badger.DB
}

func NewCursorDB(d *Database) *CursorDB {
	return &CursorDB{db: d.db}
}

func cursorKey(name string) []byte {
	return []byte(cursorPrefix + name)
}

// LoadCursor returns the stored height for name. ok is false if none was stored.
func (c *CursorDB) LoadCursor(name string) (height uint64, ok bool, err error) {
	key := cursorKey(name)
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("cursor is %d bytes", len(val))
			}
			height = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &DBError{Op: OpRead, Key: key, Err: err}
	}
	return height, true, nil
}

func (c *CursorDB) StoreCursor(name string, height uint64) error {
	key := cursorKey(name)
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, height)

	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, b)
	})
	if err != nil {
		return &DBError{Op: OpUpdate, Key: key, Err: err}
	}
	return nil
}
