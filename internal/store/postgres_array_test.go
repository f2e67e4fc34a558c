package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPQStringArrayRoundTrip(t *testing.T) {
	in := []string{"1AbcAddress", "2DefAddress", "3GhiAddress"}
	literal := pqStringArray(in)
	assert.Equal(t, `{"1AbcAddress","2DefAddress","3GhiAddress"}`, literal)

	var scanner pqStringArrayScanner
	require.NoError(t, scanner.Scan([]byte(literal)))
	assert.Equal(t, in, scanner.values)
}

func TestPQStringArrayEmpty(t *testing.T) {
	literal := pqStringArray(nil)
	assert.Equal(t, "{}", literal)

	var scanner pqStringArrayScanner
	require.NoError(t, scanner.Scan([]byte(literal)))
	assert.Nil(t, scanner.values)
}

func TestPQStringArrayScannerHandlesNilSource(t *testing.T) {
	var scanner pqStringArrayScanner
	require.NoError(t, scanner.Scan(nil))
	assert.Nil(t, scanner.values)
}

func TestPQStringArrayScannerAcceptsStringSource(t *testing.T) {
	var scanner pqStringArrayScanner
	require.NoError(t, scanner.Scan(`{"a","b"}`))
	assert.Equal(t, []string{"a", "b"}, scanner.values)
}

func TestPQStringArrayScannerRejectsUnsupportedType(t *testing.T) {
	var scanner pqStringArrayScanner
	err := scanner.Scan(42)
	require.Error(t, err)
}

func TestEscapeArrayElementEscapesQuotesAndBackslashes(t *testing.T) {
	escaped := escapeArrayElement(`has "quotes" and \backslash`)
	assert.Equal(t, `has \"quotes\" and \\backslash`, escaped)
}
