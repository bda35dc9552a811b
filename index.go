package kveql

import (
	"bytes"
	"fmt"

	"github.com/xeipuuv/gojsonpointer"
)

// DefineIndex registers an index over a collection, keyed by the values the
// given JSON pointer paths extract from each record. The definition is
// persisted, so it survives reopening the database. Existing records are NOT
// backfilled: populate the collection after defining its indices, or run
// your own migration.
//
// A record for which any path resolves to nothing gets no entry at all, so
// heterogeneous documents simply stay out of indices that don't apply to
// them.
func (db *DB) DefineIndex(collection, indexName string, paths ...string) error {
	if collection == "" || indexName == "" {
		return fmt.Errorf("kveql: index requires a collection and an index name")
	}
	if len(paths) == 0 {
		return fmt.Errorf("kveql: index %s.%s requires at least one path", collection, indexName)
	}
	for _, p := range paths {
		if _, err := gojsonpointer.NewJsonPointer(p); err != nil {
			return fmt.Errorf("kveql: index %s.%s: bad pointer %q: %w", collection, indexName, p, err)
		}
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, found := db.indices[collection][indexName]; found {
		return fmt.Errorf("kveql: %w: %s.%s", ErrDuplicateIndex, collection, indexName)
	}

	next := db.indices.clone()
	if next[collection] == nil {
		next[collection] = map[string][]string{}
	}
	next[collection][indexName] = paths

	err := db.update("define index", collection, func(tx storageTx) error {
		if _, err := tx.CreatePartition(indexPartitionName(collection, indexName)); err != nil {
			return storeErrf("define index", collection, indexName, err, "")
		}
		if err := saveCatalog(tx, next); err != nil {
			return storeErrf("define index", collection, indexName, err, "saving catalog")
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.indices = next
	db.logger.Debug("kveql: index defined", "collection", collection, "index", indexName, "paths", paths)
	return nil
}

// DropIndex removes an index definition and its stored entries.
func (db *DB) DropIndex(collection, indexName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, found := db.indices[collection][indexName]; !found {
		return fmt.Errorf("kveql: %w: %s.%s", ErrUnknownIndex, collection, indexName)
	}

	next := db.indices.clone()
	delete(next[collection], indexName)

	err := db.update("drop index", collection, func(tx storageTx) error {
		err := tx.DeletePartition(indexPartitionName(collection, indexName))
		if err != nil && err != ErrPartitionNotFound {
			return storeErrf("drop index", collection, indexName, err, "")
		}
		if err := saveCatalog(tx, next); err != nil {
			return storeErrf("drop index", collection, indexName, err, "saving catalog")
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.indices = next
	db.logger.Debug("kveql: index dropped", "collection", collection, "index", indexName)
	return nil
}

// Indices returns the persisted index definitions for a collection: index
// name to the pointer paths it extracts.
func (db *DB) Indices(collection string) map[string][]string {
	return db.collectionIndices(collection)
}

// IndexKeys returns the primary keys currently associated with an extracted
// value, in ascending key order. An array value addresses a composite index;
// fewer components than the index has paths makes this a prefix match.
// Unknown collections, indices and values all yield an empty result.
func (db *DB) IndexKeys(collection, indexName string, value any) ([]any, error) {
	db.mu.RLock()
	_, defined := db.indices[collection][indexName]
	db.mu.RUnlock()
	if !defined {
		return nil, nil
	}
	prefix, err := indexLookupPrefix(value)
	if err != nil {
		return nil, storeErrf("index keys", collection, indexName, err, "encoding value")
	}

	tx, err := db.stg.BeginTx(false)
	if err != nil {
		return nil, storeErrf("index keys", collection, indexName, err, "")
	}
	defer tx.Rollback()
	part := tx.Partition(indexPartitionName(collection, indexName))
	if part == nil {
		return nil, nil
	}

	var keys []any
	cur := part.Cursor()
	for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
		key, err := decodeJSON(v)
		if err != nil {
			return nil, storeErrf("index keys", collection, indexName, err, "decoding entry")
		}
		keys = append(keys, key)
	}
	return keys, nil
}
