package kveql

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("database is closed")

	// ErrDuplicateIndex is returned by DefineIndex when the collection already
	// has an index with the given name.
	ErrDuplicateIndex = errors.New("duplicate index")

	// ErrUnknownIndex is returned by DropIndex for an index that was never defined.
	ErrUnknownIndex = errors.New("unknown index")
)

// StoreError wraps a failure of the underlying store, carrying the collection
// (and index, if any) the failing operation was touching. Store failures are
// fatal to the enclosing operation and never partially applied; missing data
// is reported as empty results, not as an error.
type StoreError struct {
	Op         string
	Collection string
	Index      string
	Err        error
}

func storeErrf(op, collection, index string, err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if msg != "" && err != nil {
		err = fmt.Errorf("%s: %w", msg, err)
	} else if err == nil {
		err = errors.New(msg)
	}
	return &StoreError{Op: op, Collection: collection, Index: index, Err: err}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Error() string {
	var buf strings.Builder
	buf.WriteString("kveql: ")
	buf.WriteString(e.Op)
	if e.Collection != "" {
		buf.WriteByte(' ')
		buf.WriteString(e.Collection)
		if e.Index != "" {
			buf.WriteByte('.')
			buf.WriteString(e.Index)
		}
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
