package kveql

import (
	"bytes"

	"github.com/samber/mo"
)

// Execute pulls records through an operation tree. The returned Rows hold a
// read transaction open until closed or exhausted, so every leaf of the plan
// sees one consistent snapshot. Rows are forward-only and single-pass;
// re-executing requires handing the tree to Execute again.
//
// Unknown collections and indices degrade to empty results, not errors, as
// does any extraction that can never produce a value.
func (db *DB) Execute(op *Operation) (*Rows, error) {
	if op == nil {
		panic("kveql: Execute requires an operation")
	}
	tx, err := db.stg.BeginTx(false)
	if err != nil {
		return nil, storeErrf("execute", "", "", err, "")
	}
	ec := &execCtx{db: db, tx: tx}
	s, err := ec.stream(op)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return &Rows{tx: tx, str: s}, nil
}

// Rows is a lazy, finite, single-pass sequence of records. Abandoning it
// without draining requires Close to release the read transaction;
// exhausting it releases automatically.
type Rows struct {
	tx   storageTx
	str  stream
	rec  Record
	err  error
	done bool
}

// Next advances to the next record, reporting false at the end of the
// sequence or on error (check Err).
func (r *Rows) Next() bool {
	if r.done {
		return false
	}
	rec, ok, err := r.str.next()
	if err != nil {
		r.err = err
		r.release()
		return false
	}
	if !ok {
		r.release()
		return false
	}
	r.rec = rec
	return true
}

// Record returns the current record. Valid after a true Next.
func (r *Rows) Record() Record {
	return r.rec
}

// Err returns the first error hit while iterating, if any.
func (r *Rows) Err() error {
	return r.err
}

// Close releases the underlying read transaction. Safe to call repeatedly.
func (r *Rows) Close() error {
	r.release()
	return nil
}

func (r *Rows) release() {
	if r.done {
		return
	}
	r.done = true
	r.tx.Rollback()
}

// All drains the remaining records into a slice.
func (r *Rows) All() ([]Record, error) {
	var out []Record
	for r.Next() {
		out = append(out, r.Record())
	}
	return out, r.Err()
}

type stream interface {
	next() (Record, bool, error)
}

type execCtx struct {
	db *DB
	tx storageTx
}

func (ec *execCtx) stream(op *Operation) (stream, error) {
	switch op.kind {
	case opScan:
		part := ec.tx.Partition(op.collection)
		if part == nil {
			return emptyStream{}, nil
		}
		return &scanStream{db: ec.db, part: part}, nil

	case opKeyLookup:
		keyRaw, err := canonicalBytes(op.key)
		if err != nil {
			return nil, storeErrf("execute", op.collection, "", err, "encoding key")
		}
		return &keyLookupStream{db: ec.db, part: ec.tx.Partition(op.collection), key: op.key, keyRaw: keyRaw}, nil

	case opIndexLookup:
		if _, defined := ec.db.collectionIndices(op.collection)[op.indexName]; !defined {
			return emptyStream{}, nil
		}
		part := ec.tx.Partition(indexPartitionName(op.collection, op.indexName))
		if part == nil {
			return emptyStream{}, nil
		}
		s := &indexLookupStream{part: part, names: op.names}
		if len(op.values) == 0 {
			s.prefixes = [][]byte{nil} // full index scan
		} else {
			s.prefixes = make([][]byte, 0, len(op.values))
			for _, v := range op.values {
				prefix, err := indexLookupPrefix(v)
				if err != nil {
					return nil, storeErrf("execute", op.collection, op.indexName, err, "encoding lookup value")
				}
				s.prefixes = append(s.prefixes, prefix)
			}
		}
		return s, nil

	case opExtract:
		inner, err := ec.stream(op.inner)
		if err != nil {
			return nil, err
		}
		return &extractStream{inner: inner, fields: op.fields}, nil

	case opAugment:
		inner, err := ec.stream(op.inner)
		if err != nil {
			return nil, err
		}
		return &augmentStream{inner: inner, value: op.augment, overwrite: op.overwrite}, nil

	case opNestedLoops:
		outer, err := ec.stream(op.first)
		if err != nil {
			return nil, err
		}
		return &nestedLoopsStream{ec: ec, outer: outer, makeInner: op.makeInner}, nil

	case opHashJoin:
		return &hashJoinStream{ec: ec, op: op}, nil

	case opMerge:
		first, err := ec.stream(op.first)
		if err != nil {
			return nil, err
		}
		second, err := ec.stream(op.second)
		if err != nil {
			return nil, err
		}
		return &mergeStream{op: op, a: first, b: second}, nil

	case opMap:
		inner, err := ec.stream(op.inner)
		if err != nil {
			return nil, err
		}
		return &mapStream{inner: inner, fn: op.mapFn}, nil

	default:
		panic("kveql: unknown operation kind")
	}
}

type emptyStream struct{}

func (emptyStream) next() (Record, bool, error) {
	return Record{}, false, nil
}

type scanStream struct {
	db   *DB
	part storagePartition
	cur  storageCursor
}

func (s *scanStream) next() (Record, bool, error) {
	var k, v []byte
	if s.cur == nil {
		s.cur = s.part.Cursor()
		k, v = s.cur.First()
	} else {
		k, v = s.cur.Next()
	}
	if k == nil {
		return Record{}, false, nil
	}
	key, err := decodeJSON(k)
	if err != nil {
		return Record{}, false, storeErrf("execute", "", "", err, "decoding stored key")
	}
	raw, err := s.db.codec.decode(v)
	if err != nil {
		return Record{}, false, storeErrf("execute", "", "", err, "")
	}
	val, err := decodeJSON(raw)
	if err != nil {
		return Record{}, false, storeErrf("execute", "", "", err, "decoding stored value")
	}
	return Record{Key: key, Value: val}, true, nil
}

type keyLookupStream struct {
	db     *DB
	part   storagePartition
	key    any
	keyRaw []byte
	done   bool
}

func (s *keyLookupStream) next() (Record, bool, error) {
	if s.done || s.part == nil {
		return Record{}, false, nil
	}
	s.done = true
	enc := s.part.Get(s.keyRaw)
	if enc == nil {
		return Record{}, false, nil
	}
	raw, err := s.db.codec.decode(enc)
	if err != nil {
		return Record{}, false, storeErrf("execute", "", "", err, "")
	}
	val, err := decodeJSON(raw)
	if err != nil {
		return Record{}, false, storeErrf("execute", "", "", err, "decoding stored value")
	}
	return Record{Key: s.key, Value: val}, true, nil
}

type indexLookupStream struct {
	part     storagePartition
	prefixes [][]byte
	names    []string

	cur    storageCursor
	i      int
	prefix []byte
	active bool
}

func (s *indexLookupStream) next() (Record, bool, error) {
	for {
		var k, v []byte
		if !s.active {
			if s.i >= len(s.prefixes) {
				return Record{}, false, nil
			}
			s.prefix = s.prefixes[s.i]
			s.i++
			if s.cur == nil {
				s.cur = s.part.Cursor()
			}
			if s.prefix == nil {
				k, v = s.cur.First()
			} else {
				k, v = s.cur.Seek(s.prefix)
			}
			s.active = true
		} else {
			k, v = s.cur.Next()
		}
		if k == nil || (s.prefix != nil && !bytes.HasPrefix(k, s.prefix)) {
			s.active = false
			continue
		}
		key, err := decodeJSON(v)
		if err != nil {
			return Record{}, false, storeErrf("execute", "", "", err, "decoding index entry")
		}
		return Record{Key: key, Value: indexEntryNames(k, s.names)}, true, nil
	}
}

type extractStream struct {
	inner  stream
	fields []string
}

func (s *extractStream) next() (Record, bool, error) {
	rec, ok, err := s.inner.next()
	if !ok || err != nil {
		return Record{}, false, err
	}
	rec.Value = extractFields(rec.Value, s.fields)
	return rec, true, nil
}

type augmentStream struct {
	inner     stream
	value     any
	overwrite bool
}

func (s *augmentStream) next() (Record, bool, error) {
	rec, ok, err := s.inner.next()
	if !ok || err != nil {
		return Record{}, false, err
	}
	rec.Value = mergeValues(s.value, rec.Value, s.overwrite)
	return rec, true, nil
}

type mapStream struct {
	inner stream
	fn    MapFunc
}

func (s *mapStream) next() (Record, bool, error) {
	for {
		rec, ok, err := s.inner.next()
		if !ok || err != nil {
			return Record{}, false, err
		}
		out, err := s.fn(rec)
		if err != nil {
			return Record{}, false, err
		}
		if mapped, ok := out.Get(); ok {
			return mapped, true, nil
		}
	}
}

type nestedLoopsStream struct {
	ec        *execCtx
	outer     stream
	makeInner func(Record) (*Operation, error)
	cur       stream
}

func (s *nestedLoopsStream) next() (Record, bool, error) {
	for {
		if s.cur != nil {
			rec, ok, err := s.cur.next()
			if err != nil {
				return Record{}, false, err
			}
			if ok {
				return rec, true, nil
			}
			s.cur = nil
		}
		orec, ok, err := s.outer.next()
		if !ok || err != nil {
			return Record{}, false, err
		}
		inner, err := s.makeInner(orec)
		if err != nil {
			return Record{}, false, err
		}
		if inner == nil {
			continue
		}
		s.cur, err = s.ec.stream(inner)
		if err != nil {
			return Record{}, false, err
		}
	}
}

type hashJoinStream struct {
	ec *execCtx
	op *Operation

	built bool
	table map[string][]Record
	probe stream

	cur     Record
	hasCur  bool
	matches []Record
	mi      int
	noneRun bool
}

func (s *hashJoinStream) build() error {
	bs, err := s.ec.stream(s.op.first)
	if err != nil {
		return err
	}
	s.table = make(map[string][]Record)
	for {
		rec, ok, err := bs.next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		k, ok := s.op.leftX.Apply(rec).Get()
		if !ok {
			continue // no join key, stays out of the table
		}
		ck, err := canonicalBytes(k)
		if err != nil {
			return storeErrf("execute", "", "", err, "encoding join key")
		}
		s.table[string(ck)] = append(s.table[string(ck)], rec)
	}
	s.probe, err = s.ec.stream(s.op.second)
	return err
}

func (s *hashJoinStream) next() (Record, bool, error) {
	if !s.built {
		if err := s.build(); err != nil {
			return Record{}, false, err
		}
		s.built = true
	}
	for {
		// Drain combine results for the current probe record.
		for s.hasCur {
			var left mo.Option[Record]
			if s.mi < len(s.matches) {
				left = mo.Some(s.matches[s.mi])
				s.mi++
			} else if len(s.matches) == 0 && !s.noneRun {
				left = mo.None[Record]()
				s.noneRun = true
			} else {
				s.hasCur = false
				break
			}
			out, err := s.op.combine(left, s.cur)
			if err != nil {
				return Record{}, false, err
			}
			if rec, ok := out.Get(); ok {
				return rec, true, nil
			}
		}

		rec, ok, err := s.probe.next()
		if !ok || err != nil {
			return Record{}, false, err
		}
		s.cur, s.hasCur = rec, true
		s.mi, s.noneRun = 0, false
		s.matches = nil
		if k, ok := s.op.rightX.Apply(rec).Get(); ok {
			ck, err := canonicalBytes(k)
			if err != nil {
				return Record{}, false, storeErrf("execute", "", "", err, "encoding join key")
			}
			s.matches = s.table[string(ck)]
		}
	}
}

type mergeStream struct {
	op *Operation
	a  stream
	b  stream

	ra, rb   Record
	oka, okb bool
	primed   bool
}

func (s *mergeStream) advanceA() error {
	rec, ok, err := s.a.next()
	s.ra, s.oka = rec, ok
	return err
}

func (s *mergeStream) advanceB() error {
	rec, ok, err := s.b.next()
	s.rb, s.okb = rec, ok
	return err
}

func mergeKey(x RecordExtract, rec Record) ([]byte, error) {
	v, _ := x.Apply(rec).Get() // missing keys order as null
	return canonicalBytes(v)
}

func (s *mergeStream) next() (Record, bool, error) {
	if !s.primed {
		if err := s.advanceA(); err != nil {
			return Record{}, false, err
		}
		if err := s.advanceB(); err != nil {
			return Record{}, false, err
		}
		s.primed = true
	}
	for {
		if !s.oka && !s.okb {
			return Record{}, false, nil
		}
		var out mo.Option[Record]
		var joinErr, advErr error
		switch {
		case s.oka && s.okb:
			ka, err := mergeKey(s.op.leftX, s.ra)
			if err != nil {
				return Record{}, false, storeErrf("execute", "", "", err, "encoding merge key")
			}
			kb, err := mergeKey(s.op.rightX, s.rb)
			if err != nil {
				return Record{}, false, storeErrf("execute", "", "", err, "encoding merge key")
			}
			switch bytes.Compare(ka, kb) {
			case -1:
				out, joinErr = s.op.mergeFn(mo.Some(s.ra), mo.None[Record]())
				advErr = s.advanceA()
			case 1:
				out, joinErr = s.op.mergeFn(mo.None[Record](), mo.Some(s.rb))
				advErr = s.advanceB()
			default:
				// Only the right side advances, so one left record can
				// join a run of equal right records.
				out, joinErr = s.op.mergeFn(mo.Some(s.ra), mo.Some(s.rb))
				advErr = s.advanceB()
			}
		case s.oka:
			out, joinErr = s.op.mergeFn(mo.Some(s.ra), mo.None[Record]())
			advErr = s.advanceA()
		default:
			out, joinErr = s.op.mergeFn(mo.None[Record](), mo.Some(s.rb))
			advErr = s.advanceB()
		}
		if joinErr != nil {
			return Record{}, false, joinErr
		}
		if advErr != nil {
			return Record{}, false, advErr
		}
		if rec, ok := out.Get(); ok {
			return rec, true, nil
		}
	}
}
