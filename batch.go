package kveql

// Batch stages logical mutations to be committed in a single atomic write
// transaction, index side-effects included. Staged operations are applied in
// order, so a later staged write to the same key wins.
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	delete     bool
	collection string
	key        any
	value      any
}

func (db *DB) NewBatch() *Batch {
	return &Batch{}
}

// Insert stages a record write.
func (b *Batch) Insert(collection string, key, value any) *Batch {
	b.ops = append(b.ops, batchOp{collection: collection, key: key, value: value})
	return b
}

// Delete stages a record removal.
func (b *Batch) Delete(collection string, key any) *Batch {
	b.ops = append(b.ops, batchOp{delete: true, collection: collection, key: key})
	return b
}

// Len returns the number of staged operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Write commits every staged operation in one atomic transaction. On failure
// nothing is applied and the batch remains intact, so retrying the whole
// batch is always safe.
func (db *DB) Write(b *Batch) error {
	if len(b.ops) == 0 {
		return nil
	}
	err := db.update("batch", "", func(tx storageTx) error {
		for _, op := range b.ops {
			idxs := db.collectionIndices(op.collection)
			if op.delete {
				if err := deleteInTx(tx, db.codec, op.collection, idxs, op.key); err != nil {
					return err
				}
				continue
			}
			if err := insertInTx(tx, db.codec, op.collection, idxs, op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.logger.Debug("kveql: batch committed", "ops", len(b.ops))
	b.ops = nil
	return nil
}
