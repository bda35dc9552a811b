package kveql

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/samber/mo"
	"go.etcd.io/bbolt"
)

// DB is a handle to one database file: a set of collections, the indices
// defined over them, and the entry point for executing operation trees.
//
// Reads and query executions may run concurrently with each other and with
// writers; writes are serialized by the underlying store. Concurrent writers
// to the same key must be coordinated by the caller.
type DB struct {
	stg    storage
	path   string
	logger *slog.Logger
	codec  valueCodec

	mu      sync.RWMutex
	indices catalog
}

type Options struct {
	// Logger receives debug-level lifecycle and mutation logs. Nil discards.
	Logger *slog.Logger

	// Compression enables transparent lz4 compression of stored record
	// values. Files written with compression on remain readable with it off,
	// and vice versa.
	Compression bool

	// IsTesting trades durability for speed (no fsync, small mmap).
	IsTesting bool

	// MmapSize overrides the initial mmap size in bytes.
	MmapSize int
}

// Open opens or creates a database at path and reloads the index catalog
// persisted in it.
func Open(path string, opt Options) (*DB, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("kveql: open %s: %w", path, err)
	}

	logger := opt.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db := &DB{
		stg:    newBoltStorage(bdb),
		path:   path,
		logger: logger,
		codec:  valueCodec{compress: opt.Compression},
	}
	if err := db.loadCatalog(); err != nil {
		db.stg.Close()
		return nil, err
	}
	logger.Debug("kveql: opened", "path", path, "collections", len(db.indices))
	return db, nil
}

// Close closes the database. Any unclosed Rows become invalid.
func (db *DB) Close() error {
	err := db.stg.Close()
	if err != nil {
		return fmt.Errorf("kveql: close: %w", err)
	}
	db.logger.Debug("kveql: closed", "path", db.path)
	return nil
}

// Destroy irreversibly removes all state persisted at path.
func Destroy(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("kveql: destroy %s: %w", path, err)
	}
	return nil
}

func (db *DB) loadCatalog() error {
	tx, err := db.stg.BeginTx(false)
	if err != nil {
		return storeErrf("open", "", "", err, "")
	}
	defer tx.Rollback()
	db.indices = catalog{}
	part := tx.Partition(metaPartitionName)
	if part == nil {
		return nil
	}
	raw := part.Get(catalogKey)
	if raw == nil {
		return nil
	}
	c, err := decodeCatalog(raw)
	if err != nil {
		return storeErrf("open", "", "", err, "decoding index catalog")
	}
	db.indices = c
	return nil
}

func saveCatalog(tx storageTx, c catalog) error {
	part, err := tx.CreatePartition(metaPartitionName)
	if err != nil {
		return err
	}
	raw, err := encodeCatalog(c)
	if err != nil {
		return err
	}
	return part.Put(catalogKey, raw)
}

// update runs fn inside a single writable transaction, committing only if it
// succeeds. This is the atomicity boundary for every mutation: a primary
// write plus all of its index side-effects either commit together or not at
// all.
func (db *DB) update(op, collection string, fn func(tx storageTx) error) error {
	tx, err := db.stg.BeginTx(true)
	if err != nil {
		return storeErrf(op, collection, "", err, "")
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErrf(op, collection, "", err, "commit")
	}
	return nil
}

// collectionIndices returns a snapshot of the index definitions for one
// collection, stable for the duration of a write transaction.
func (db *DB) collectionIndices(collection string) map[string][]string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	idxs := db.indices[collection]
	if len(idxs) == 0 {
		return nil
	}
	out := make(map[string][]string, len(idxs))
	for name, paths := range idxs {
		out[name] = paths
	}
	return out
}

// Insert stores a record. Overwriting an existing key retracts the old
// record's index entries before the new ones are staged, all within one
// atomic transaction. The collection is created on first insert.
func (db *DB) Insert(collection string, key, value any) error {
	idxs := db.collectionIndices(collection)
	return db.update("insert", collection, func(tx storageTx) error {
		return insertInTx(tx, db.codec, collection, idxs, key, value)
	})
}

// Get reads a single record's value; a missing collection or key is None.
func (db *DB) Get(collection string, key any) (mo.Option[any], error) {
	none := mo.None[any]()
	keyRaw, err := canonicalBytes(key)
	if err != nil {
		return none, storeErrf("get", collection, "", err, "encoding key")
	}
	tx, err := db.stg.BeginTx(false)
	if err != nil {
		return none, storeErrf("get", collection, "", err, "")
	}
	defer tx.Rollback()
	part := tx.Partition(collection)
	if part == nil {
		return none, nil
	}
	enc := part.Get(keyRaw)
	if enc == nil {
		return none, nil
	}
	raw, err := db.codec.decode(enc)
	if err != nil {
		return none, storeErrf("get", collection, "", err, "")
	}
	v, err := decodeJSON(raw)
	if err != nil {
		return none, storeErrf("get", collection, "", err, "decoding value")
	}
	return mo.Some(v), nil
}

// Delete removes a record and all of its index entries atomically. Deleting
// an absent key is a no-op.
func (db *DB) Delete(collection string, key any) error {
	idxs := db.collectionIndices(collection)
	return db.update("delete", collection, func(tx storageTx) error {
		return deleteInTx(tx, db.codec, collection, idxs, key)
	})
}

func insertInTx(tx storageTx, codec valueCodec, collection string, idxs map[string][]string, key, value any) error {
	keyRaw, err := canonicalBytes(key)
	if err != nil {
		return storeErrf("insert", collection, "", err, "encoding key")
	}
	valRaw, err := canonicalBytes(value)
	if err != nil {
		return storeErrf("insert", collection, "", err, "encoding value")
	}
	// Re-decoding normalizes the document to the JSON model, so index
	// extraction sees the same shape a later read would.
	doc, err := decodeJSON(valRaw)
	if err != nil {
		return storeErrf("insert", collection, "", err, "encoding value")
	}

	part, err := tx.CreatePartition(collection)
	if err != nil {
		return storeErrf("insert", collection, "", err, "")
	}

	if len(idxs) > 0 {
		if old := part.Get(keyRaw); old != nil {
			if err := retractIndexEntries(tx, codec, collection, idxs, keyRaw, old); err != nil {
				return err
			}
		}
	}

	if err := part.Put(keyRaw, codec.encode(valRaw)); err != nil {
		return storeErrf("insert", collection, "", err, "")
	}

	for name, paths := range idxs {
		ek, ok := indexEntryKey(paths, keyRaw, doc)
		if !ok {
			continue
		}
		ipart, err := tx.CreatePartition(indexPartitionName(collection, name))
		if err != nil {
			return storeErrf("insert", collection, name, err, "")
		}
		if err := ipart.Put(ek, keyRaw); err != nil {
			return storeErrf("insert", collection, name, err, "")
		}
	}
	return nil
}

func deleteInTx(tx storageTx, codec valueCodec, collection string, idxs map[string][]string, key any) error {
	keyRaw, err := canonicalBytes(key)
	if err != nil {
		return storeErrf("delete", collection, "", err, "encoding key")
	}
	part := tx.Partition(collection)
	if part == nil {
		return nil
	}
	old := part.Get(keyRaw)
	if old == nil {
		return nil
	}
	if len(idxs) > 0 {
		if err := retractIndexEntries(tx, codec, collection, idxs, keyRaw, old); err != nil {
			return err
		}
	}
	if err := part.Delete(keyRaw); err != nil {
		return storeErrf("delete", collection, "", err, "")
	}
	return nil
}

// retractIndexEntries stages deletes for every index entry derived from the
// stored record encoded in old.
func retractIndexEntries(tx storageTx, codec valueCodec, collection string, idxs map[string][]string, keyRaw, old []byte) error {
	raw, err := codec.decode(old)
	if err != nil {
		return storeErrf("delete", collection, "", err, "")
	}
	doc, err := decodeJSON(raw)
	if err != nil {
		return storeErrf("delete", collection, "", err, "decoding stored value")
	}
	for name, paths := range idxs {
		ek, ok := indexEntryKey(paths, keyRaw, doc)
		if !ok {
			continue
		}
		ipart := tx.Partition(indexPartitionName(collection, name))
		if ipart == nil {
			continue
		}
		if err := ipart.Delete(ek); err != nil {
			return storeErrf("delete", collection, name, err, "")
		}
	}
	return nil
}
