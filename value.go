package kveql

import (
	"encoding/json"
	"strings"

	"github.com/samber/mo"
	"github.com/xeipuuv/gojsonpointer"
)

// Values are JSON-like documents: map[string]any, []any, string, float64,
// bool or nil. The operator algebra only touches values through the helpers
// in this file, so the concrete representation stays in one place.

// canonicalBytes returns the canonical byte form of a value, used for
// primary-key encoding, index key parts, hash-join identity and merge-join
// ordering. encoding/json marshals map keys in sorted order, so equal values
// always produce equal bytes. The output never contains a zero byte (control
// characters are escaped), which keeps the 0x00 index key separator safe.
func canonicalBytes(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeJSON(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// pointerValue resolves a JSON pointer path against a document. An empty path
// yields the whole document; a path that resolves to nothing yields None.
func pointerValue(doc any, path string) mo.Option[any] {
	if path == "" {
		return mo.Some(doc)
	}
	ptr, err := gojsonpointer.NewJsonPointer(path)
	if err != nil {
		return mo.None[any]()
	}
	v, _, err := ptr.Get(doc)
	if err != nil {
		return mo.None[any]()
	}
	return mo.Some(v)
}

// mergeValues merges the fields of add into base. Both must be JSON objects
// for the merge to do anything; otherwise base passes through unchanged.
// When overwrite is false, fields already present in base win.
// The result is a fresh map: records flowing through joins may be shared.
func mergeValues(add, base any, overwrite bool) any {
	am, ok := add.(map[string]any)
	if !ok || len(am) == 0 {
		return base
	}
	bm, ok := base.(map[string]any)
	if !ok {
		return base
	}
	out := make(map[string]any, len(bm)+len(am))
	for k, v := range bm {
		out[k] = v
	}
	for k, v := range am {
		if overwrite {
			out[k] = v
			continue
		}
		if _, present := out[k]; !present {
			out[k] = v
		}
	}
	return out
}

// extractFields rewrites an object value to contain only the named fields.
// A field may be a plain top-level name or a JSON pointer path, in which case
// the resolved value is stored under the trailing path segment. Fields that
// resolve to nothing are omitted; non-object values pass through unchanged.
func extractFields(value any, fields []string) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if strings.HasPrefix(f, "/") {
			if v, ok := pointerValue(m, f).Get(); ok {
				out[f[strings.LastIndexByte(f, '/')+1:]] = v
			}
			continue
		}
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return out
}
