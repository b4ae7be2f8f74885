package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/dgraph-io/badger/v2"
	"go.uber.org/zap"
)

var _ Cache = (*Badger)(nil)

// Badger is a Cache backed by BadgerDB, so entries survive restarts.
// Used for the caches whose loss is expensive (library snapshots, torrent
// results), while short-lived entries stay in memory.
type Badger struct {
	db     *badger.DB
	logger *zap.Logger
}

// badgerEntry mirrors redisEntry: the creation time and configured TTL are
// stored inline because Badger only exposes the absolute expiry time.
type badgerEntry struct {
	Value   []byte
	Created time.Time
	TTL     time.Duration
}

// NewBadger creates a new BadgerDB-backed cache.
// The DB is shared with other namespaces via NewPrefixed.
func NewBadger(db *badger.DB, logger *zap.Logger) *Badger {
	return &Badger{
		db:     db,
		logger: logger,
	}
}

// Get implements the Cache interface.
func (c *Badger) Get(_ context.Context, key string) ([]byte, Meta, bool) {
	var entry badgerEntry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoder := gob.NewDecoder(bytes.NewReader(val))
			return decoder.Decode(&entry)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, Meta{}, false
	} else if err != nil {
		c.logger.Error("Couldn't get cache entry from BadgerDB", zap.Error(err), zap.String("key", key))
		return nil, Meta{}, false
	}
	return entry.Value, Meta{Created: entry.Created, TTL: entry.TTL}, true
}

// Set implements the Cache interface.
func (c *Badger) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	entry := badgerEntry{
		Value:   value,
		Created: time.Now(),
		TTL:     ttl,
	}
	writer := bytes.Buffer{}
	encoder := gob.NewEncoder(&writer)
	if err := encoder.Encode(entry); err != nil {
		c.logger.Error("Couldn't encode cache entry for BadgerDB", zap.Error(err), zap.String("key", key))
		return
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), writer.Bytes())
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		c.logger.Error("Couldn't set cache entry in BadgerDB", zap.Error(err), zap.String("key", key))
	}
}

// TTL implements the Cache interface.
func (c *Badger) TTL(_ context.Context, key string) (time.Duration, bool) {
	var expiresAt uint64
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		expiresAt = item.ExpiresAt()
		return nil
	})
	if err == badger.ErrKeyNotFound {
		return 0, false
	} else if err != nil {
		c.logger.Error("Couldn't get TTL from BadgerDB", zap.Error(err), zap.String("key", key))
		return 0, false
	}
	if expiresAt == 0 {
		return 0, true
	}
	remaining := time.Until(time.Unix(int64(expiresAt), 0))
	if remaining < 0 {
		return 0, false
	}
	return remaining, true
}

// Delete implements the Cache interface.
func (c *Badger) Delete(_ context.Context, key string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && err != badger.ErrKeyNotFound {
		c.logger.Error("Couldn't delete cache entry from BadgerDB", zap.Error(err), zap.String("key", key))
	}
}

// Clear implements the Cache interface.
func (c *Badger) Clear(_ context.Context) {
	if err := c.db.DropAll(); err != nil {
		c.logger.Error("Couldn't drop BadgerDB entries", zap.Error(err))
	}
}
