package kveql

import (
	"github.com/samber/mo"
	"github.com/xeipuuv/gojsonpointer"
)

// Record is a key plus a JSON-like value. Keys and values are both arbitrary
// JSON values; identity is the key, within one collection. Some operators
// expect values to be JSON objects and pass anything else through unchanged.
type Record struct {
	Key   any
	Value any
}

func NewRecord(key, value any) Record {
	return Record{Key: key, Value: value}
}

type extractKind int

const (
	extractKey extractKind = iota
	extractValue
	extractPointer
	extractFunc
	extractMultiple
)

// RecordExtract is a policy for deriving a comparable value from a Record:
// the key, the whole value, a JSON pointer into the value, an arbitrary
// function, or a composite of several extracts. Extraction that yields no
// value excludes the record from index placement or join matching on that
// side; it is never an error.
type RecordExtract struct {
	kind  extractKind
	path  string
	ptr   gojsonpointer.JsonPointer
	ptrOK bool
	fn    func(Record) any
	subs  []RecordExtract
}

// ExtractKey extracts the record key.
func ExtractKey() RecordExtract {
	return RecordExtract{kind: extractKey}
}

// ExtractValue extracts the whole record value.
func ExtractValue() RecordExtract {
	return RecordExtract{kind: extractValue}
}

// ExtractPointer extracts the result of a JSON pointer path (like
// "/field/nested") applied to the record value. A path that resolves to
// nothing, and a malformed path, both yield no value.
func ExtractPointer(path string) RecordExtract {
	x := RecordExtract{kind: extractPointer, path: path}
	if path == "" {
		x.ptrOK = true
		return x
	}
	ptr, err := gojsonpointer.NewJsonPointer(path)
	if err == nil {
		x.ptr, x.ptrOK = ptr, true
	}
	return x
}

// ExtractFunc extracts via an arbitrary function. Returning nil means
// "no value".
func ExtractFunc(fn func(Record) any) RecordExtract {
	if fn == nil {
		panic("kveql: ExtractFunc requires a function")
	}
	return RecordExtract{kind: extractFunc, fn: fn}
}

// ExtractMultiple extracts an array of the values produced by each component
// extract, skipping components that yield no value.
func ExtractMultiple(subs ...RecordExtract) RecordExtract {
	return RecordExtract{kind: extractMultiple, subs: subs}
}

// Apply applies the extraction policy to a record.
func (x RecordExtract) Apply(rec Record) mo.Option[any] {
	switch x.kind {
	case extractKey:
		return mo.Some(rec.Key)
	case extractValue:
		return mo.Some(rec.Value)
	case extractPointer:
		if !x.ptrOK {
			return mo.None[any]()
		}
		if x.path == "" {
			return mo.Some(rec.Value)
		}
		v, _, err := x.ptr.Get(rec.Value)
		if err != nil {
			return mo.None[any]()
		}
		return mo.Some(v)
	case extractFunc:
		v := x.fn(rec)
		if v == nil {
			return mo.None[any]()
		}
		return mo.Some(v)
	case extractMultiple:
		parts := make([]any, 0, len(x.subs))
		for _, sub := range x.subs {
			if v, ok := sub.Apply(rec).Get(); ok {
				parts = append(parts, v)
			}
		}
		return mo.Some[any](parts)
	default:
		panic("kveql: unknown extract kind")
	}
}
