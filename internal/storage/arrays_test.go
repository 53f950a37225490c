package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextArrayValueAndScanRoundTrip(t *testing.T) {
	a := textArray{"bug", "needs-review", `quote"d`, `back\slash`}

	v, err := a.Value()
	require.NoError(t, err)
	literal, ok := v.(string)
	require.True(t, ok)

	var got textArray
	require.NoError(t, got.Scan(literal))
	assert.Equal(t, []string(a), []string(got))
}

func TestTextArrayEmpty(t *testing.T) {
	var a textArray
	v, err := a.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)

	var got textArray
	require.NoError(t, got.Scan("{}"))
	assert.Equal(t, textArray{}, got)
}

func TestTextArrayScanNil(t *testing.T) {
	var got textArray = textArray{"x"}
	require.NoError(t, got.Scan(nil))
	assert.Nil(t, got)
}

func TestParsePGTextArraySingleElement(t *testing.T) {
	got, err := parsePGTextArray(`{"only-one"}`)
	require.NoError(t, err)
	assert.Equal(t, textArray{"only-one"}, got)
}

func TestParsePGTextArrayRejectsMalformed(t *testing.T) {
	_, err := parsePGTextArray("not-an-array")
	assert.Error(t, err)
}
