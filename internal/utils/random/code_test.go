package random

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	s, err := String(CodeAlphabet, 10)
	require.NoError(t, err)
	assert.Len(t, s, 10)
	for _, r := range s {
		assert.True(t, strings.ContainsRune(CodeAlphabet, r), "unexpected rune %q", r)
	}

	_, err = String("", 3)
	assert.Error(t, err)
}
