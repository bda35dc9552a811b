package kveql

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openStorages(t *testing.T) map[string]storage {
	t.Helper()
	bdb, err := bbolt.Open(filepath.Join(t.TempDir(), "test.db"), 0o644, &bbolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  true,
	})
	require.NoError(t, err)
	return map[string]storage{
		"bolt": newBoltStorage(bdb),
		"mem":  newMemStorage(),
	}
}

func TestStorageBasics(t *testing.T) {
	for name, stg := range openStorages(t) {
		t.Run(name, func(t *testing.T) {
			defer stg.Close()

			tx, err := stg.BeginTx(true)
			require.NoError(t, err)
			require.True(t, tx.Writable())
			require.Nil(t, tx.Partition("p1"))

			p, err := tx.CreatePartition("p1")
			require.NoError(t, err)
			require.NoError(t, p.Put([]byte("k1"), []byte("v1")))
			require.NoError(t, p.Put([]byte("k2"), []byte("v2")))
			require.NoError(t, p.Delete([]byte("absent")))
			require.NoError(t, tx.Commit())

			tx, err = stg.BeginTx(false)
			require.NoError(t, err)
			require.False(t, tx.Writable())
			p = tx.Partition("p1")
			require.NotNil(t, p)
			require.Equal(t, []byte("v1"), p.Get([]byte("k1")))
			require.Nil(t, p.Get([]byte("absent")))
			require.NoError(t, tx.Rollback())
			require.NoError(t, tx.Rollback())
		})
	}
}

func TestStorageRollbackDiscards(t *testing.T) {
	for name, stg := range openStorages(t) {
		t.Run(name, func(t *testing.T) {
			defer stg.Close()

			tx, err := stg.BeginTx(true)
			require.NoError(t, err)
			p, err := tx.CreatePartition("p1")
			require.NoError(t, err)
			require.NoError(t, p.Put([]byte("k1"), []byte("v1")))
			require.NoError(t, tx.Commit())

			tx, err = stg.BeginTx(true)
			require.NoError(t, err)
			p = tx.Partition("p1")
			require.NoError(t, p.Put([]byte("k1"), []byte("changed")))
			require.NoError(t, p.Put([]byte("k2"), []byte("v2")))
			require.NoError(t, tx.Rollback())

			tx, err = stg.BeginTx(false)
			require.NoError(t, err)
			p = tx.Partition("p1")
			require.Equal(t, []byte("v1"), p.Get([]byte("k1")))
			require.Nil(t, p.Get([]byte("k2")))
			require.NoError(t, tx.Rollback())
		})
	}
}

func TestStorageDeletePartition(t *testing.T) {
	for name, stg := range openStorages(t) {
		t.Run(name, func(t *testing.T) {
			defer stg.Close()

			tx, err := stg.BeginTx(true)
			require.NoError(t, err)
			_, err = tx.CreatePartition("p1")
			require.NoError(t, err)
			require.NoError(t, tx.Commit())

			tx, err = stg.BeginTx(true)
			require.NoError(t, err)
			require.NoError(t, tx.DeletePartition("p1"))
			require.ErrorIs(t, tx.DeletePartition("p1"), ErrPartitionNotFound)
			require.NoError(t, tx.Commit())

			tx, err = stg.BeginTx(false)
			require.NoError(t, err)
			require.Nil(t, tx.Partition("p1"))
			require.NoError(t, tx.Rollback())
		})
	}
}

func TestStorageCursor(t *testing.T) {
	for name, stg := range openStorages(t) {
		t.Run(name, func(t *testing.T) {
			defer stg.Close()

			tx, err := stg.BeginTx(true)
			require.NoError(t, err)
			p, err := tx.CreatePartition("p1")
			require.NoError(t, err)
			for _, k := range []string{"b", "d", "a", "c"} {
				require.NoError(t, p.Put([]byte(k), []byte("v_"+k)))
			}

			cur := p.Cursor()
			var keys []string
			for k, v := cur.First(); k != nil; k, v = cur.Next() {
				require.Equal(t, "v_"+string(k), string(v))
				keys = append(keys, string(k))
			}
			require.Equal(t, []string{"a", "b", "c", "d"}, keys)

			// Seek lands on the first key >= the target.
			cur = p.Cursor()
			k, _ := cur.Seek([]byte("b"))
			require.Equal(t, "b", string(k))
			k, _ = cur.Seek([]byte("bb"))
			require.Equal(t, "c", string(k))
			k, _ = cur.Seek([]byte("z"))
			require.Nil(t, k)

			require.NoError(t, tx.Rollback())
		})
	}
}

func TestMemTxSnapshotIsolation(t *testing.T) {
	stg := newMemStorage()
	defer stg.Close()

	wtx, err := stg.BeginTx(true)
	require.NoError(t, err)
	p, err := wtx.CreatePartition("p1")
	require.NoError(t, err)
	require.NoError(t, p.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, wtx.Commit())

	rtx, err := stg.BeginTx(false)
	require.NoError(t, err)

	wtx, err = stg.BeginTx(true)
	require.NoError(t, err)
	require.NoError(t, wtx.Partition("p1").Put([]byte("k1"), []byte("v2")))
	require.NoError(t, wtx.Commit())

	// The read transaction keeps seeing its snapshot.
	require.Equal(t, []byte("v1"), rtx.Partition("p1").Get([]byte("k1")))
	require.NoError(t, rtx.Rollback())

	rtx, err = stg.BeginTx(false)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), rtx.Partition("p1").Get([]byte("k1")))
	require.NoError(t, rtx.Rollback())
}
