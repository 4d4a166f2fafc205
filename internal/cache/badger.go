package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerCache implements Cache on an embedded BadgerDB. Entries carry a badger TTL, so lapsed
// keys read as ErrKeyNotFound and are reclaimed by compaction.
type BadgerCache struct {
	db     *badger.DB
	prefix string
}

// NewBadgerCache opens a BadgerDB at path, or an in-memory instance when path is empty.
func NewBadgerCache(path, prefix string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	opts.ValueLogFileSize = 16 << 20

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &BadgerCache{db: db, prefix: prefix}, nil
}

// Get implements Cache.Get.
func (c *BadgerCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(c.prefix + key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Set implements Cache.Set.
func (c *BadgerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(c.prefix+key), value).WithTTL(ttl))
	})
}

// Ping reports whether the database is still open.
func (c *BadgerCache) Ping() error {
	if c.db.IsClosed() {
		return errors.New("badger cache closed")
	}
	return nil
}

// Close flushes and closes the database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}
