package param

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name  string
		input Value
		want  string
	}{
		{"null", Null{}, `null`},
		{"string", String("hi"), `"hi"`},
		{"int", Int(-42), `-42`},
		{"float", Float(2.5), `2.5`},
		{"bool true", Bool(true), `true`},
		{"bool false", Bool(false), `false`},
		{"empty array", Array{}, `[]`},
		{"empty object", Object{}, `{}`},
		{"array", Array{Int(1), String("x")}, `[1,"x"]`},
		{
			"sorted keys",
			Object{"b": Int(2), "a": Int(1)},
			`{"a":1,"b":2}`,
		},
		{
			"nested",
			Object{"o": Object{"y": Null{}, "x": Bool(true)}},
			`{"o":{"x":true,"y":null}}`,
		},
		{
			"no html escaping",
			String("<a> & </a>"),
			`"<a> & </a>"`,
		},
		{
			"control and short escapes",
			String("line1\nline2\ttab\x01"),
			`"line1\nline2\ttab"`,
		},
		{
			"quote and backslash",
			String(`say "hi" \ bye`),
			`"say \"hi\" \\ bye"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// "e" + combining acute composes to the single code point U+00E9.
	composed, err := MarshalCanonical(String("é"))
	require.NoError(t, err)
	decomposed, err := MarshalCanonical(String("é"))
	require.NoError(t, err)

	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonical_KeyOrderInvariance(t *testing.T) {
	a := Object{"x": Int(1), "y": Int(2), "z": Int(3)}
	b := Object{"z": Int(3), "x": Int(1), "y": Int(2)}

	ja, err := MarshalCanonical(a)
	require.NoError(t, err)
	jb, err := MarshalCanonical(b)
	require.NoError(t, err)

	assert.Equal(t, ja, jb)
}

func TestMarshalCanonical_RejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := MarshalCanonical(Float(f))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-finite")
	}
}

func TestMarshalCanonical_RejectsNilValue(t *testing.T) {
	_, err := MarshalCanonical(nil)
	require.Error(t, err)

	_, err = MarshalCanonical(Array{nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "array[0]")
}

func TestMarshalCanonical_FloatShortestForm(t *testing.T) {
	got, err := MarshalCanonical(Float(0.1))
	require.NoError(t, err)
	assert.Equal(t, "0.1", string(got))
}
