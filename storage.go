package kveql

import "errors"

// ErrPartitionNotFound is returned by storageTx.DeletePartition when the
// partition doesn't exist.
var ErrPartitionNotFound = errors.New("partition not found")

// storage is the boundary to the persistent key-value engine (Bolt, memory).
// It provides named ordered partitions, point reads and writes, forward
// cursors, and transactions whose writes commit or fail as a unit across
// partitions. Everything above relies on that atomicity to keep indices
// consistent with primary data.
type storage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
}

// storageTx is a storage transaction.
type storageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Partition returns a named partition, or nil if it doesn't exist.
	Partition(name string) storagePartition

	// CreatePartition returns a named partition, creating it if needed.
	CreatePartition(name string) (storagePartition, error)

	// DeletePartition deletes a partition and everything in it.
	DeletePartition(name string) error

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It is safe to call multiple times,
	// and after Commit.
	Rollback() error
}

// storagePartition is a sorted key-value collection.
type storagePartition interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key []byte) error

	// Cursor returns a forward cursor over the partition in ascending
	// byte order of keys.
	Cursor() storageCursor
}

// storageCursor iterates over a sorted partition. All positioning methods
// return nil keys once the cursor is exhausted.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)
}
