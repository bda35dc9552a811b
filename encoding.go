package kveql

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Index partitions hold one entry per (indexed record, index): the entry key
// is the canonical bytes of each extracted part followed by a 0x00 separator,
// then the canonical bytes of the primary key; the entry value is the
// canonical primary key on its own. Canonical bytes never contain 0x00, so
// the separator is unambiguous and entries for one extracted value are
// contiguous and sub-ordered by primary key.

const indexKeySep = 0x00

func indexPartitionName(collection, indexName string) string {
	return fmt.Sprintf("#idx_%s_%s", collection, indexName)
}

const metaPartitionName = "#meta"

var catalogKey = []byte("indices")

// indexEntryKey builds the index entry key for a record, or reports false
// when any of the paths resolves to nothing, which excludes the record from
// the index entirely.
func indexEntryKey(paths []string, keyRaw []byte, doc any) ([]byte, bool) {
	buf := make([]byte, 0, len(keyRaw)+16*len(paths))
	for _, p := range paths {
		v, ok := pointerValue(doc, p).Get()
		if !ok {
			return nil, false
		}
		cb, err := canonicalBytes(v)
		if err != nil {
			return nil, false
		}
		buf = append(buf, cb...)
		buf = append(buf, indexKeySep)
	}
	return append(buf, keyRaw...), true
}

// indexLookupPrefix builds the entry key prefix matching one requested
// extracted value. An array value is treated as composite key components;
// fewer components than the index has paths makes this a prefix match.
func indexLookupPrefix(value any) ([]byte, error) {
	parts, ok := value.([]any)
	if !ok {
		parts = []any{value}
	}
	var buf []byte
	for _, p := range parts {
		cb, err := canonicalBytes(p)
		if err != nil {
			return nil, err
		}
		buf = append(buf, cb...)
		buf = append(buf, indexKeySep)
	}
	return buf, nil
}

// indexEntryNames rebuilds a JSON object from an index entry key, mapping
// each non-empty name to the corresponding key part. With no names the
// result is an empty object.
func indexEntryNames(entryKey []byte, names []string) any {
	obj := map[string]any{}
	if len(names) == 0 {
		return obj
	}
	segs := bytes.Split(entryKey, []byte{indexKeySep})
	for i, name := range names {
		if name == "" || i >= len(segs) {
			continue
		}
		if v, err := decodeJSON(segs[i]); err == nil {
			obj[name] = v
		}
	}
	return obj
}

// Stored record values carry a one-byte header so that compressed and raw
// payloads coexist regardless of the Compression option the file is
// reopened with.
const (
	valueEncRaw = 0x00
	valueEncLZ4 = 0x01
	minCompress = 64
)

type valueCodec struct {
	compress bool
}

func (c valueCodec) encode(raw []byte) []byte {
	if c.compress && len(raw) >= minCompress {
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err == nil && n > 0 && n < len(raw) {
			out := make([]byte, 0, 1+binary.MaxVarintLen64+n)
			out = append(out, valueEncLZ4)
			out = binary.AppendUvarint(out, uint64(len(raw)))
			return append(out, dst[:n]...)
		}
	}
	out := make([]byte, 0, 1+len(raw))
	out = append(out, valueEncRaw)
	return append(out, raw...)
}

func (c valueCodec) decode(enc []byte) ([]byte, error) {
	if len(enc) == 0 {
		return nil, fmt.Errorf("empty stored value")
	}
	switch enc[0] {
	case valueEncRaw:
		return enc[1:], nil
	case valueEncLZ4:
		size, n := binary.Uvarint(enc[1:])
		if n <= 0 || size > 1<<31 {
			return nil, fmt.Errorf("corrupt compressed value header")
		}
		dst := make([]byte, size)
		m, err := lz4.UncompressBlock(enc[1+n:], dst)
		if err != nil {
			return nil, fmt.Errorf("decompressing value: %w", err)
		}
		return dst[:m], nil
	default:
		return nil, fmt.Errorf("unknown value encoding 0x%02x", enc[0])
	}
}

// The index catalog maps collection name to index name to pointer paths.
// It is persisted in the meta partition so definitions survive reopening,
// msgpack-encoded since determinism does not matter here.
type catalog map[string]map[string][]string

func (c catalog) clone() catalog {
	out := make(catalog, len(c))
	for col, idxs := range c {
		m := make(map[string][]string, len(idxs))
		for name, paths := range idxs {
			m[name] = paths
		}
		out[col] = m
	}
	return out
}

func encodeCatalog(c catalog) ([]byte, error) {
	return msgpack.Marshal(map[string]map[string][]string(c))
}

func decodeCatalog(raw []byte) (catalog, error) {
	var m map[string]map[string][]string
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]map[string][]string{}
	}
	return catalog(m), nil
}
