package msg

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Primitives(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"int", 42, "42"},
		{"negative int", int64(-7), "-7"},
		{"uint", uint32(9), "9"},
		{"string", "hello", `"hello"`},
		{"integral float", 2.0, "2"},
		{"fractional float", 1.5, "1.5"},
		{"duration as nanoseconds", 2 * time.Second, "2000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_RejectsNonFiniteFloats(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := MarshalCanonical(f)
		assert.Error(t, err)
	}
}

func TestMarshalCanonical_RejectsUnsupportedTypes(t *testing.T) {
	_, err := MarshalCanonical(struct{ X int }{1})
	assert.Error(t, err)

	_, err = MarshalCanonical(map[int]string{1: "a"})
	assert.Error(t, err)
}

func TestMarshalCanonical_SortsObjectKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"zebra": 1,
		"alpha": 2,
		"mid":   3,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zebra":1}`, string(got))
}

func TestMarshalCanonical_NestedStructures(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"b": []any{1, "two", 3.5},
		"a": map[string]any{"y": nil, "x": true},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":true,"y":null},"b":[1,"two",3.5]}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical("<motor> & \"det\"")
	require.NoError(t, err)
	assert.Equal(t, `"<motor> & \"det\""`, string(got))
}

func TestMarshalCanonical_TimeRFC3339Nano(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 600000000, time.UTC)
	got, err := MarshalCanonical(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-02T03:04:05.6Z"`, string(got))
}

func TestMarshalCanonical_NumberIdentity(t *testing.T) {
	// 2 and 2.0 must hash alike: device targets arrive as either.
	a, err := MarshalCanonical(map[string]any{"v": 2})
	require.NoError(t, err)
	b, err := MarshalCanonical(map[string]any{"v": 2.0})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCompareKeysRFC8785_UTF16Order(t *testing.T) {
	// U+1D306 (non-BMP, surrogate pair in UTF-16) sorts before U+FB33
	// under UTF-16 code unit order, though UTF-8 bytes say otherwise.
	nonBMP := "\U0001D306"
	bmp := "דּ"
	assert.Negative(t, compareKeysRFC8785(nonBMP, bmp))
	assert.Positive(t, compareKeysRFC8785(bmp, nonBMP))
	assert.Zero(t, compareKeysRFC8785("same", "same"))
}

func TestFieldSetHash_OrderInsensitive(t *testing.T) {
	a := FieldSetHash([]string{"det", "motor", "temp"})
	b := FieldSetHash([]string{"temp", "det", "motor"})
	assert.Equal(t, a, b)

	c := FieldSetHash([]string{"det", "motor"})
	assert.NotEqual(t, a, c)
}

func TestFieldSetHash_DomainSeparatedFromFingerprint(t *testing.T) {
	// The same serialized bytes under different domains must not collide.
	fieldHash := FieldSetHash([]string{})
	fp, err := Null().Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, fieldHash, fp)
}
