package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	got, err := Generate(PrefixUser)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "usr-"))
	// prefix + dash + 21-char nanoid
	assert.Len(t, got, len(PrefixUser)+1+21)
}

func TestGenerate_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		got, err := Generate(PrefixUser)
		require.NoError(t, err)
		assert.False(t, seen[got], "duplicate ID %s", got)
		seen[got] = true
	}
}

func TestMustGenerate(t *testing.T) {
	assert.NotPanics(t, func() {
		got := MustGenerate(PrefixUser)
		assert.True(t, strings.HasPrefix(got, "usr-"))
	})
}

func TestNewRunID(t *testing.T) {
	got := NewRunID()

	assert.True(t, strings.HasPrefix(got, "run-"))
	// UUID body is 36 characters.
	assert.Len(t, got, len(PrefixRun)+1+36)
	assert.NotEqual(t, got, NewRunID())
}
