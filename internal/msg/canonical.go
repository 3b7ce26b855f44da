package msg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces canonical JSON for content hashing.
//
// The rules follow RFC 8785 with one deviation: finite floats are admitted
// (device targets and readings are frequently floating point) and are
// rendered with shortest round-trip formatting, so the same value always
// produces the same bytes. NaN and infinities are rejected.
//
// Properties:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
//  4. time.Duration as integer nanoseconds, time.Time as RFC 3339 nano
func MarshalCanonical(v any) ([]byte, error) {
	return marshalCanonical(v)
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case string:
		return marshalCanonicalString(val)
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int8:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int16:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(nil, val, 10), nil
	case uint:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case uint8:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case uint16:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case uint64:
		return strconv.AppendUint(nil, val, 10), nil
	case float32:
		return marshalCanonicalFloat(float64(val))
	case float64:
		return marshalCanonicalFloat(val)
	case time.Duration:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case time.Time:
		return marshalCanonicalString(val.UTC().Format(time.RFC3339Nano))
	case []any:
		return marshalCanonicalArray(val)
	case map[string]any:
		return marshalCanonicalObject(val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// marshalCanonicalFloat renders a finite float with shortest round-trip
// formatting. Integral floats render without a fractional part, matching
// JSON number identity (2.0 and 2 hash alike).
func marshalCanonicalFloat(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite float forbidden in canonical JSON: %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(nil, int64(f), 10), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

// marshalCanonicalString produces a canonical JSON string with NFC
// normalization, no HTML escaping, and literal U+2028/U+2029 (Go's
// encoder escapes them for JavaScript embedding; RFC 8785 does not).
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}

	result = bytes.ReplaceAll(result, []byte(` `), []byte(" "))
	result = bytes.ReplaceAll(result, []byte(` `), []byte(" "))
	return result, nil
}

func marshalCanonicalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := marshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalCanonicalObject(obj map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	keys := sortedKeysRFC8785(obj)
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := marshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// sortedKeysRFC8785 returns keys in RFC 8785 canonical order.
func sortedKeysRFC8785(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return compareKeysRFC8785(keys[i], keys[j]) < 0
	})
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units as RFC 8785
// requires. Go's default string comparison is UTF-8 byte order, which
// diverges for characters outside the BMP.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := len(a16)
	if len(b16) < n {
		n = len(b16)
	}
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}
