package jsonutil_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jvs-project/snapmgr/pkg/jsonutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalMarshal_SortedKeys(t *testing.T) {
	input := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"mid":   3,
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zebra":1}`, string(out))
}

func TestCanonicalMarshal_Nested(t *testing.T) {
	input := map[string]any{
		"b": map[string]any{"z": 1, "a": 2},
		"a": 0,
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":0,"b":{"a":2,"z":1}}`, string(out))
}

func TestCanonicalMarshal_NullValue(t *testing.T) {
	input := map[string]any{"key": nil}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"key":null}`, string(out))
}

func TestCanonicalMarshal_NoWhitespace(t *testing.T) {
	input := map[string]any{"a": []any{1, 2, 3}}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,2,3]}`, string(out))
}

func TestCanonicalMarshal_Unicode(t *testing.T) {
	input := map[string]any{"ÂêçÂâç": "„ÉÜ„Çπ„Éà"}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Contains(t, string(out), "ÂêçÂâç")
}

func TestCanonicalMarshal_StructSortsFields(t *testing.T) {
	type sample struct {
		Zebra int    `json:"zebra"`
		Alpha string `json:"alpha"`
	}
	input := sample{Zebra: 1, Alpha: "a"}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	// Keys must be sorted alphabetically regardless of struct field order
	assert.Equal(t, `{"alpha":"a","zebra":1}`, string(out))
}

func TestCanonicalMarshal_Deterministic(t *testing.T) {
	input := map[string]any{"c": 3, "a": 1, "b": 2}
	out1, _ := jsonutil.CanonicalMarshal(input)
	out2, _ := jsonutil.CanonicalMarshal(input)
	assert.Equal(t, string(out1), string(out2))
}

func TestCanonicalMarshal_EmptyMap(t *testing.T) {
	input := map[string]any{}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(out))
}

func TestCanonicalMarshal_EmptySlice(t *testing.T) {
	input := map[string]any{"arr": []any{}}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"arr":[]}`, string(out))
}

func TestCanonicalMarshal_NestedSlices(t *testing.T) {
	input := map[string]any{
		"nested": []any{[]any{1, 2}, []any{3, 4}},
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"nested":[[1,2],[3,4]]}`, string(out))
}

func TestCanonicalMarshal_MixedTypes(t *testing.T) {
	input := map[string]any{
		"string":  "hello",
		"number":  42.5,
		"bool":    true,
		"null":    nil,
		"array":   []any{1, "two", false},
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	// Verify keys are sorted and values are correctly serialized
	assert.Contains(t, string(out), `"array":[1,"two",false]`)
	assert.Contains(t, string(out), `"bool":true`)
	assert.Contains(t, string(out), `"null":null`)
	assert.Contains(t, string(out), `"number":42.5`)
	assert.Contains(t, string(out), `"string":"hello"`)
}

func TestCanonicalMarshal_EscapedCharacters(t *testing.T) {
	input := map[string]any{
		"quote":  `text with "quotes"`,
		"newline": "line1\nline2",
		"tab":    "col\ttab",
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"quote":`)
	assert.Contains(t, string(out), `"newline":`)
	assert.Contains(t, string(out), `"tab":`)
}

func TestCanonicalMarshal_DeeplyNested(t *testing.T) {
	input := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": map[string]any{
					"d": "value",
				},
			},
		},
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":{"c":{"d":"value"}}}}`, string(out))
}

func TestCanonicalMarshal_LargeNumbers(t *testing.T) {
	input := map[string]any{
		"maxInt":  9007199254740991,
		"minInt":  -9007199254740991,
		"float":   3.141592653589793,
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"maxInt":9007199254740991`)
	assert.Contains(t, string(out), `"minInt":-9007199254740991`)
	assert.Contains(t, string(out), `"float":3.141592653589793`)
}

func TestCanonicalMarshal_SingleStringValue(t *testing.T) {
	// A map with one string value marshals successfully
	input := map[string]any{
		"valid": "value",
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"valid":"value"`)
}

func TestCanonicalMarshal_BooleanValues(t *testing.T) {
	input := map[string]any{
		"trueVal":  true,
		"falseVal": false,
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"falseVal":false,"trueVal":true}`, string(out))
}

func TestCanonicalMarshal_ArrayWithNulls(t *testing.T) {
	input := map[string]any{
		"arr": []any{1, nil, "text", nil, false},
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"arr":[1,null,"text",null,false]}`, string(out))
}

func TestCanonicalMarshal_MapWithNumericKeys(t *testing.T) {
	// JSON keys are always strings, but we can test string numeric keys
	input := map[string]any{
		"1": "first",
		"2": "second",
		"10": "tenth",
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	// Keys should be sorted lexicographically: "1", "10", "2"
	assert.Equal(t, `{"1":"first","10":"tenth","2":"second"}`, string(out))
}

func TestCanonicalMarshal_ComplexNestedStructure(t *testing.T) {
	input := map[string]any{
		"data": map[string]any{
			"items": []any{
				map[string]any{"id": 1, "name": "a"},
				map[string]any{"id": 2, "name": "b"},
			},
			"metadata": map[string]any{
				"count": 2,
				"tags":   []any{"tag1", "tag2"},
			},
		},
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	// Verify the structure is correct
	assert.Contains(t, string(out), `"data":`)
	assert.Contains(t, string(out), `"items":`)
	assert.Contains(t, string(out), `"metadata":`)
}

// type that causes marshaling to fail
type marshalErrorType struct{}

func (m marshalErrorType) MarshalJSON() ([]byte, error) {
	return nil, errors.New("marshal error")
}

func TestCanonicalMarshal_MarshalError(t *testing.T) {
	input := map[string]any{
		"valid": "value",
		"invalid": marshalErrorType{},
	}
	_, err := jsonutil.CanonicalMarshal(input)
	assert.Error(t, err)
}

func TestCanonicalMarshal_MapWithInterfaceValues(t *testing.T) {
	// Test with interface{} values that have different concrete types
	input := map[string]any{
		"int":    int(42),
		"float":  float64(3.14),
		"string": "hello",
		"bool":   true,
		"slice":  []any{1, 2, 3},
		"map":    map[string]any{"nested": "value"},
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	// All values should be properly serialized
	assert.Contains(t, string(out), `"int":42`)
	assert.Contains(t, string(out), `"float":3.14`)
}

func TestCanonicalMarshal_VeryLongString(t *testing.T) {
	// Test with a very long string
	longStr := string(make([]byte, 10000))
	for i := range longStr {
		longStr = longStr[:i] + "a" + longStr[i+1:]
	}
	input := map[string]any{"long": longStr}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"long":`)
}

func TestCanonicalMarshal_ArrayOfMapsAndSlices(t *testing.T) {
	input := map[string]any{
		"complex": []any{
			[]any{1, 2},
			map[string]any{"x": 1},
			[]any{map[string]any{"y": 2}},
		},
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"complex":[[1,2],{"x":1},[{"y":2}]]}`, string(out))
}

// type that causes key marshaling to fail
type invalidKeyType struct{}

func (i invalidKeyType) MarshalJSON() ([]byte, error) {
	return nil, assert.AnError
}

func TestCanonicalMarshal_InvalidKeyInMap(t *testing.T) {
	// This is tricky because map keys must be strings in Go
	// We can test the error path indirectly by using a string that
	// causes issues in the key marshaling
	// Actually, since we marshal keys with json.Marshal(k), and k is always a string,
	// this error path is essentially unreachable in normal usage
	t.Skip("string marshaling never fails in practice")
}
func TestCanonicalMarshal_RecursiveError(t *testing.T) {
	// Test with a structure that has problematic nesting
	input := map[string]any{
		"simple": "value",
		"nested": map[string]any{
			"inner": "deep value",
		},
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"nested":`)
	assert.Contains(t, string(out), `"inner":"deep value"`)
}

func TestCanonicalMarshal_SliceOfMaps(t *testing.T) {
	input := map[string]any{
		"items": []any{
			map[string]any{"id": 1, "name": "a"},
			map[string]any{"id": 2, "name": "b"},
			map[string]any{"id": 3, "name": "c"},
		},
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"items":[{"id":1,"name":"a"},{"id":2,"name":"b"},{"id":3,"name":"c"}]}`, string(out))
}

func TestCanonicalMarshal_ZeroValues(t *testing.T) {
	input := map[string]any{
		"zeroInt":   0,
		"zeroFloat":  0.0,
		"emptyStr":  "",
		"falseBool": false,
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"emptyStr":"","falseBool":false,"zeroFloat":0,"zeroInt":0}`, string(out))
}

func TestCanonicalMarshal_SpecialFloatValues(t *testing.T) {
	input := map[string]any{
		"positive": 1.7976931348623157e+308, // near max float64
		"negative": -1.7976931348623157e+308,
		"small":    1e-10,
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"positive":`)
	assert.Contains(t, string(out), `"negative":`)
	assert.Contains(t, string(out), `"small":`)
}

func TestCanonicalMarshal_UnicodeEscape(t *testing.T) {
	input := map[string]any{
		"emoji":  "üòÄüéâ",
		"chinese": "‰Ω†Â•Ω‰∏ñÁïå",
		"arabic":  "ŸÖÿ±ÿ≠ÿ®ÿß",
		"symbols": "¬©¬Æ‚Ñ¢",
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	// Verify unicode characters are properly encoded
	assert.Contains(t, string(out), `"emoji":`)
	assert.Contains(t, string(out), `"chinese":`)
	assert.Contains(t, string(out), `"arabic":`)
	assert.Contains(t, string(out), `"symbols":`)
}

// type that causes nested marshaling to fail
type nestedMarshalError struct{}

func (n nestedMarshalError) MarshalJSON() ([]byte, error) {
	return nil, errors.New("nested marshal error")
}

func TestCanonicalMarshal_NestedMarshalError(t *testing.T) {
	input := map[string]any{
		"valid": "value",
		"nested": map[string]any{
			"inner": nestedMarshalError{},
		},
	}
	_, err := jsonutil.CanonicalMarshal(input)
	assert.Error(t, err)
}

// type that fails during slice marshaling
type sliceMarshalError struct{}

func (s sliceMarshalError) MarshalJSON() ([]byte, error) {
	return nil, errors.New("slice marshal error")
}

func TestCanonicalMarshal_SliceMarshalError(t *testing.T) {
	input := map[string]any{
		"arr": []any{1, sliceMarshalError{}, 3},
	}
	_, err := jsonutil.CanonicalMarshal(input)
	assert.Error(t, err)
}

// type that returns invalid JSON
type invalidJSONType struct{}

func (i invalidJSONType) MarshalJSON() ([]byte, error) {
	return []byte("invalid json"), nil
}

func TestCanonicalMarshal_InvalidJSONThenUnmarshal(t *testing.T) {
	input := map[string]any{
		"invalid": invalidJSONType{},
	}
	// encoding/json validates MarshalJSON output, so the invalid bytes are
	// rejected and an error is returned; only the absence of a panic is
	// exercised here
	_, err := jsonutil.CanonicalMarshal(input)
	_ = err
}

// type with custom marshal that creates complex nested structures
type complexType struct {
	Data map[string]any
}

func (c complexType) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Data)
}

func TestCanonicalMarshal_CustomMarshaler(t *testing.T) {
	input := map[string]any{
		"custom": complexType{Data: map[string]any{"x": 1, "y": 2}},
		"regular": "value",
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	// The custom type's Data map should have sorted keys
	assert.Contains(t, string(out), `"custom":`)
	assert.Contains(t, string(out), `"regular":"value"`)
}

func TestCanonicalMarshal_ManyFields(t *testing.T) {
	// Test with many fields to ensure sorting works correctly
	input := make(map[string]any)
	for i := 0; i < 100; i++ {
		input[fmt.Sprintf("key%03d", i)] = i
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	// Verify keys are in sorted order
	expectedStart := `{"key000":0`
	assert.Contains(t, string(out), expectedStart)
}

func TestCanonicalMarshal_EmptyStruct(t *testing.T) {
	type emptyStruct struct{}
	input := map[string]any{
		"empty": emptyStruct{},
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"empty":{}}`, string(out))
}

func TestCanonicalMarshal_NilSlice(t *testing.T) {
	input := map[string]any{
		"nilSlice": nil,
		"emptySlice": []any{},
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	// Both keys are present: nil serializes as null, the empty slice as []
	assert.Contains(t, string(out), `"nilSlice":`)
	assert.Contains(t, string(out), `"emptySlice":`)
}
