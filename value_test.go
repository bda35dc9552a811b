package kveql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalBytesDeterministic(t *testing.T) {
	a, err := canonicalBytes(map[string]any{"b": 2.0, "a": 1.0, "c": []any{"x", nil}})
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"b":2,"c":["x",null]}`, string(a))

	b, err := canonicalBytes(jsonv(t, `{"c": ["x", null], "a": 1, "b": 2}`))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCanonicalBytesNoZeroByte(t *testing.T) {
	raw, err := canonicalBytes("a\x00b")
	require.NoError(t, err)
	require.NotContains(t, string(raw), "\x00")

	v, err := decodeJSON(raw)
	require.NoError(t, err)
	require.Equal(t, "a\x00b", v)
}

func TestPointerValue(t *testing.T) {
	doc := jsonv(t, johnDoc)

	v, ok := pointerValue(doc, "/name").Get()
	require.True(t, ok)
	require.Equal(t, "John Doe", v)

	v, ok = pointerValue(doc, "/phones/1").Get()
	require.True(t, ok)
	require.Equal(t, "+44 2345678", v)

	v, ok = pointerValue(doc, "").Get()
	require.True(t, ok)
	require.Equal(t, doc, v)

	require.True(t, pointerValue(doc, "/missing").IsAbsent())
	require.True(t, pointerValue(doc, "/phones/9").IsAbsent())
	require.True(t, pointerValue(doc, "not-a-pointer").IsAbsent())
	require.True(t, pointerValue(nil, "/name").IsAbsent())
}

func TestMergeValues(t *testing.T) {
	base := jsonv(t, `{"a": 1, "b": 2}`)
	add := jsonv(t, `{"b": 20, "c": 30}`)

	require.Equal(t, jsonv(t, `{"a": 1, "b": 2, "c": 30}`), mergeValues(add, base, false))
	require.Equal(t, jsonv(t, `{"a": 1, "b": 20, "c": 30}`), mergeValues(add, base, true))

	// Inputs stay untouched.
	require.Equal(t, jsonv(t, `{"a": 1, "b": 2}`), base)
	require.Equal(t, jsonv(t, `{"b": 20, "c": 30}`), add)

	// Non-object bases pass through.
	require.Equal(t, "scalar", mergeValues(add, "scalar", false))
	require.Nil(t, mergeValues(add, nil, true))
}

func TestExtractFields(t *testing.T) {
	doc := jsonv(t, johnDoc)

	require.Equal(t, jsonv(t, `{"name": "John Doe", "age": 43}`),
		extractFields(doc, []string{"name", "age", "missing"}))

	require.Equal(t, jsonv(t, `{"1": "+44 2345678"}`),
		extractFields(doc, []string{"/phones/1", "/nope/deep"}))

	require.Equal(t, map[string]any{}, extractFields(doc, nil))
	require.Equal(t, "scalar", extractFields("scalar", []string{"name"}))
}

func TestRecordExtracts(t *testing.T) {
	rec := NewRecord("key1", jsonv(t, johnDoc))

	v, ok := ExtractKey().Apply(rec).Get()
	require.True(t, ok)
	require.Equal(t, "key1", v)

	v, ok = ExtractValue().Apply(rec).Get()
	require.True(t, ok)
	require.Equal(t, rec.Value, v)

	v, ok = ExtractPointer("/age").Apply(rec).Get()
	require.True(t, ok)
	require.Equal(t, 43.0, v)

	require.True(t, ExtractPointer("/missing").Apply(rec).IsAbsent())
	require.True(t, ExtractPointer("broken path").Apply(rec).IsAbsent())

	v, ok = ExtractFunc(func(r Record) any {
		return r.Key.(string) + "!"
	}).Apply(rec).Get()
	require.True(t, ok)
	require.Equal(t, "key1!", v)
	require.True(t, ExtractFunc(func(Record) any { return nil }).Apply(rec).IsAbsent())

	v, ok = ExtractMultiple(ExtractKey(), ExtractPointer("/age"), ExtractPointer("/missing")).Apply(rec).Get()
	require.True(t, ok)
	require.Equal(t, []any{"key1", 43.0}, v)
}
