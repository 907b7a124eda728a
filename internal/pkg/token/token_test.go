package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidTag(t *testing.T) {
	for _, tag := range []string{"login-form-qr", "reg.qr", "a:b_c-d", "ABC123"} {
		assert.True(t, ValidTag(tag), tag)
	}
	for _, tag := range []string{"", "has space", "semi;colon", "sla/sh", "qu\"ote"} {
		assert.False(t, ValidTag(tag), tag)
	}
}

func TestNewSession_TagSuffixRecoverable(t *testing.T) {
	session := NewSession("login-form-qr")
	assert.True(t, strings.HasSuffix(session, "-login-form-qr"))

	tag, ok := Tag(session)
	require.True(t, ok)
	assert.Equal(t, "login-form-qr", tag)
}

func TestNewSession_UniquePrefix(t *testing.T) {
	a := NewSession("t")
	b := NewSession("t")
	assert.NotEqual(t, a, b)
}

func TestTag_NoSeparator(t *testing.T) {
	_, ok := Tag("notoken")
	assert.False(t, ok)
}

func TestRandom(t *testing.T) {
	s := Random(64)
	require.Len(t, s, 64)
	for _, c := range s {
		assert.Contains(t, Alphabet, string(c))
	}
}
