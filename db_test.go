package kveql

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, opt Options) *DB {
	t.Helper()
	opt.IsTesting = true
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, opt)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// openMemDB runs the full facade over the in-memory storage backend.
func openMemDB(t *testing.T) *DB {
	t.Helper()
	db := &DB{
		stg:     newMemStorage(),
		path:    "(memory)",
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		indices: catalog{},
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// jsonv parses a JSON literal into the value model, so equality assertions
// compare like with like (all numbers are float64 after a read).
func jsonv(t *testing.T, s string) any {
	t.Helper()
	v, err := decodeJSON([]byte(s))
	require.NoError(t, err)
	return v
}

func allRecords(t *testing.T, db *DB, op *Operation) []Record {
	t.Helper()
	rows, err := db.Execute(op)
	require.NoError(t, err)
	defer rows.Close()
	recs, err := rows.All()
	require.NoError(t, err)
	return recs
}

const johnDoc = `{
	"name": "John Doe",
	"age": 43,
	"phones": ["+44 1234567", "+44 2345678"]
}`

const maryDoc = `{"name": "Mary Doe", "age": 34}`

func TestBasicRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, Options{IsTesting: true})
	require.NoError(t, err)

	john := jsonv(t, johnDoc)
	require.NoError(t, db.Insert("type1", "key1", john))

	ov, err := db.Get("type1", "key1")
	require.NoError(t, err)
	require.Equal(t, john, ov.MustGet())

	require.NoError(t, db.Delete("type1", "key1"))
	ov, err = db.Get("type1", "key1")
	require.NoError(t, err)
	require.True(t, ov.IsAbsent())

	require.NoError(t, db.Close())

	db, err = Open(path, Options{IsTesting: true})
	require.NoError(t, err)
	ov, err = db.Get("type1", "key1")
	require.NoError(t, err)
	require.True(t, ov.IsAbsent())
	require.NoError(t, db.Close())

	require.NoError(t, Destroy(path))
	require.NoFileExists(t, path)
	require.NoError(t, Destroy(path)) // already gone
}

func TestGetUnknownCollection(t *testing.T) {
	db := openTestDB(t, Options{})
	ov, err := db.Get("nope", "key1")
	require.NoError(t, err)
	require.True(t, ov.IsAbsent())
}

func TestOverwrite(t *testing.T) {
	db := openTestDB(t, Options{})
	require.NoError(t, db.Insert("type1", "key1", jsonv(t, johnDoc)))
	require.NoError(t, db.Insert("type1", "key1", jsonv(t, maryDoc)))
	ov, err := db.Get("type1", "key1")
	require.NoError(t, err)
	require.Equal(t, jsonv(t, maryDoc), ov.MustGet())
}

func TestDeleteAbsentIsNoop(t *testing.T) {
	db := openTestDB(t, Options{})
	require.NoError(t, db.Delete("type1", "missing"))
	require.NoError(t, db.Insert("type1", "key1", jsonv(t, johnDoc)))
	require.NoError(t, db.Delete("type1", "missing"))
	ov, err := db.Get("type1", "key1")
	require.NoError(t, err)
	require.True(t, ov.IsPresent())
}

func TestBatch(t *testing.T) {
	db := openTestDB(t, Options{})
	john := jsonv(t, johnDoc)
	mary := jsonv(t, maryDoc)

	b := db.NewBatch()
	b.Insert("type1", "key1", john)
	b.Insert("type1", "key2", mary)
	require.Equal(t, 2, b.Len())

	// Nothing visible until the batch commits.
	require.Empty(t, allRecords(t, db, Scan("type1")))

	require.NoError(t, db.Write(b))

	recs := allRecords(t, db, Scan("type1"))
	require.Len(t, recs, 2)
	require.Equal(t, "key1", recs[0].Key)
	require.Equal(t, "key2", recs[1].Key)
	require.Equal(t, john, recs[0].Value)
	require.Equal(t, mary, recs[1].Value)

	b = db.NewBatch()
	b.Delete("type1", "key1")
	b.Delete("type1", "key2")
	require.Len(t, allRecords(t, db, Scan("type1")), 2)

	require.NoError(t, db.Write(b))
	require.Empty(t, allRecords(t, db, Scan("type1")))
}

func TestBatchStagingOrder(t *testing.T) {
	db := openTestDB(t, Options{})
	b := db.NewBatch()
	b.Insert("type1", "key1", jsonv(t, johnDoc))
	b.Delete("type1", "key1")
	b.Insert("type1", "key2", jsonv(t, maryDoc))
	require.NoError(t, db.Write(b))

	recs := allRecords(t, db, Scan("type1"))
	require.Len(t, recs, 1)
	require.Equal(t, "key2", recs[0].Key)
}

func TestCompressionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, Options{IsTesting: true, Compression: true})
	require.NoError(t, err)

	big := map[string]any{"text": strings.Repeat("the quick brown fox ", 50)}
	require.NoError(t, db.Insert("docs", "big", big))
	require.NoError(t, db.Insert("docs", "small", map[string]any{"a": true}))

	ov, err := db.Get("docs", "big")
	require.NoError(t, err)
	require.Equal(t, big["text"], ov.MustGet().(map[string]any)["text"])
	require.NoError(t, db.Close())

	// Readable with compression turned off.
	db, err = Open(path, Options{IsTesting: true})
	require.NoError(t, err)
	defer db.Close()
	ov, err = db.Get("docs", "big")
	require.NoError(t, err)
	require.Equal(t, big["text"], ov.MustGet().(map[string]any)["text"])
	ov, err = db.Get("docs", "small")
	require.NoError(t, err)
	require.Equal(t, jsonv(t, `{"a": true}`), ov.MustGet())
}

func TestMemoryBackendFacade(t *testing.T) {
	db := openMemDB(t)
	john := jsonv(t, johnDoc)
	require.NoError(t, db.DefineIndex("type1", "by_name", "/name"))
	require.NoError(t, db.Insert("type1", "key1", john))

	ov, err := db.Get("type1", "key1")
	require.NoError(t, err)
	require.Equal(t, john, ov.MustGet())

	keys, err := db.IndexKeys("type1", "by_name", "John Doe")
	require.NoError(t, err)
	require.Equal(t, []any{"key1"}, keys)

	recs := allRecords(t, db, Scan("type1"))
	require.Len(t, recs, 1)
	require.Equal(t, "key1", recs[0].Key)
}

func TestClosedDB(t *testing.T) {
	db := openTestDB(t, Options{})
	require.NoError(t, db.Close())

	require.ErrorIs(t, db.Insert("type1", "key1", jsonv(t, johnDoc)), ErrClosed)
	_, err := db.Get("type1", "key1")
	require.ErrorIs(t, err, ErrClosed)
	_, err = db.Execute(Scan("type1"))
	require.ErrorIs(t, err, ErrClosed)
}
