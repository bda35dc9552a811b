package kveql

import (
	"go.etcd.io/bbolt"
)

type boltStorage struct {
	bdb *bbolt.DB
}

func newBoltStorage(bdb *bbolt.DB) storage {
	return &boltStorage{bdb: bdb}
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err == bbolt.ErrDatabaseNotOpen {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, err
	}
	return &boltTx{btx: btx}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltTx struct {
	btx *bbolt.Tx
}

func (tx *boltTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltTx) Partition(name string) storagePartition {
	b := tx.btx.Bucket([]byte(name))
	if b == nil {
		return nil
	}
	return boltPartition{b: b}
}

func (tx *boltTx) CreatePartition(name string) (storagePartition, error) {
	b, err := tx.btx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, err
	}
	return boltPartition{b: b}, nil
}

func (tx *boltTx) DeletePartition(name string) error {
	err := tx.btx.DeleteBucket([]byte(name))
	if err == bbolt.ErrBucketNotFound {
		return ErrPartitionNotFound
	}
	return err
}

func (tx *boltTx) Commit() error { return tx.btx.Commit() }

func (tx *boltTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

type boltPartition struct {
	b *bbolt.Bucket
}

func (p boltPartition) Get(key []byte) []byte { return p.b.Get(key) }

func (p boltPartition) Put(key, value []byte) error { return p.b.Put(key, value) }

func (p boltPartition) Delete(key []byte) error { return p.b.Delete(key) }

func (p boltPartition) Cursor() storageCursor { return &boltCursor{c: p.b.Cursor()} }

type boltCursor struct {
	c *bbolt.Cursor
}

func (c *boltCursor) First() ([]byte, []byte) { return c.c.First() }

func (c *boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

func (c *boltCursor) Next() ([]byte, []byte) { return c.c.Next() }
