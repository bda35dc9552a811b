package kveql

import "github.com/samber/mo"

// Operation is an immutable description of one physical access or transform
// step in a query plan. Building an operation executes nothing; hand the
// assembled tree to DB.Execute to pull records through it. Operations hold
// their sub-trees, so a tree is a complete plan and is reconstructed for each
// execution (result sequences are single-pass).
type Operation struct {
	kind opKind

	collection string
	indexName  string
	key        any
	values     []any
	names      []string
	fields     []string

	augment   any
	overwrite bool

	inner  *Operation
	first  *Operation
	second *Operation

	makeInner func(Record) (*Operation, error)
	leftX     RecordExtract
	rightX    RecordExtract
	combine   CombineFunc
	mergeFn   MergeFunc
	mapFn     MapFunc
}

type opKind int

const (
	opScan opKind = iota
	opKeyLookup
	opIndexLookup
	opExtract
	opAugment
	opNestedLoops
	opHashJoin
	opMerge
	opMap
)

// CombineFunc joins a probe-side record with an optional build-side match in
// a hash join. It is invoked once per (match, probe) pair, and once with None
// for a probe record that has no match; returning None drops the row.
type CombineFunc func(build mo.Option[Record], probe Record) (mo.Option[Record], error)

// MergeFunc joins records from the two sides of a merge. At least one side is
// always present; returning None drops the row.
type MergeFunc func(first, second mo.Option[Record]) (mo.Option[Record], error)

// MapFunc transforms a single record; returning None drops it.
type MapFunc func(Record) (mo.Option[Record], error)

// Scan yields every record in a collection, in ascending key order.
// Cost: O(collection size).
func Scan(collection string) *Operation {
	return &Operation{kind: opScan, collection: collection}
}

// KeyLookup yields the single record stored at key, or nothing if absent.
func KeyLookup(collection string, key any) *Operation {
	return &Operation{kind: opKeyLookup, collection: collection, key: key}
}

// IndexLookup yields, for each requested extracted value in order, every
// index entry matching it, in ascending primary-key order within each match
// group. A requested array value addresses a composite index; fewer
// components than the index has paths makes it a prefix match. Values with
// no entries yield nothing. With no values at all, the whole index is
// scanned.
//
// The yielded records carry the primary key and an empty object value: the
// primary record is deliberately not fetched, so the cost stays O(matches).
// Compose with KeyLookup via NestedLoops to fetch the records.
func IndexLookup(collection, indexName string, values ...any) *Operation {
	return &Operation{kind: opIndexLookup, collection: collection, indexName: indexName, values: values}
}

// IndexLookupNamed is IndexLookup with the yielded value rebuilt from the
// index entry itself: each non-empty name maps to the corresponding indexed
// key part. An empty name skips that part.
func IndexLookupNamed(collection, indexName string, values []any, names []string) *Operation {
	return &Operation{kind: opIndexLookup, collection: collection, indexName: indexName, values: values, names: names}
}

// Extract rewrites each record's value to contain only the named fields
// (plain top-level names, or JSON pointer paths stored under their trailing
// segment). Fields resolving to nothing are omitted. Keys pass through
// unchanged.
func Extract(fields []string, op *Operation) *Operation {
	requireOp("Extract", op)
	return &Operation{kind: opExtract, fields: fields, inner: op}
}

// Augment merges a JSON object into each record's value. Fields already
// present in the record win; use AugmentOverwrite for the opposite
// precedence. Non-object record values pass through unchanged.
func Augment(value any, op *Operation) *Operation {
	requireOp("Augment", op)
	return &Operation{kind: opAugment, augment: value, inner: op}
}

// AugmentOverwrite merges a JSON object into each record's value, overwriting
// fields already present in the record.
func AugmentOverwrite(value any, op *Operation) *Operation {
	requireOp("AugmentOverwrite", op)
	return &Operation{kind: opAugment, augment: value, overwrite: true, inner: op}
}

// NestedLoops evaluates a fresh inner plan for each record the outer
// operation produces, yielding the inner plan's records in order before
// advancing the outer. This is the general join/correlated-subquery
// primitive: O(|outer| * cost(makeInner)), best when makeInner is a cheap
// indexed lookup. makeInner must not share mutable state across invocations.
func NestedLoops(outer *Operation, makeInner func(Record) (*Operation, error)) *Operation {
	requireOp("NestedLoops", outer)
	if makeInner == nil {
		panic("kveql: NestedLoops requires an inner plan builder")
	}
	return &Operation{kind: opNestedLoops, first: outer, makeInner: makeInner}
}

// HashJoin builds an in-memory table from the build operation, keyed by
// buildExtract (records sharing a key are all retained), then streams the
// probe operation, invoking combine for every probe record: once per match,
// or once with no match when the probe key has no entry. A probe record whose
// extraction yields no value matches nothing, including other records
// without values. O(|build| + |probe|) time, O(|build|) memory; route very
// large build sides through NestedLoops with an indexed inner instead.
func HashJoin(build *Operation, buildExtract RecordExtract, probe *Operation, probeExtract RecordExtract, combine CombineFunc) *Operation {
	requireOp("HashJoin", build)
	requireOp("HashJoin", probe)
	if combine == nil {
		panic("kveql: HashJoin requires a combine function")
	}
	return &Operation{kind: opHashJoin, first: build, second: probe, leftX: buildExtract, rightX: probeExtract, combine: combine}
}

// Merge joins two operations whose outputs are ordered by their extracted
// keys, invoking join with the left record, the right record, or both, per
// the usual sort-merge contract. On equal keys only the right side advances,
// so one left record can join many right records.
func Merge(first *Operation, firstExtract RecordExtract, second *Operation, secondExtract RecordExtract, join MergeFunc) *Operation {
	requireOp("Merge", first)
	requireOp("Merge", second)
	if join == nil {
		panic("kveql: Merge requires a join function")
	}
	return &Operation{kind: opMerge, first: first, second: second, leftX: firstExtract, rightX: secondExtract, mergeFn: join}
}

// Map transforms each record through fn; returning None drops the record.
func Map(op *Operation, fn MapFunc) *Operation {
	requireOp("Map", op)
	if fn == nil {
		panic("kveql: Map requires a function")
	}
	return &Operation{kind: opMap, inner: op, mapFn: fn}
}

func requireOp(name string, op *Operation) {
	if op == nil {
		panic("kveql: " + name + " requires an operation")
	}
}
