package secretbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestRoundTrip(t *testing.T) {
	box, err := New(testKey)
	require.NoError(t, err)

	ct, err := box.Encrypt("s3cr3t-value")
	require.NoError(t, err)
	assert.NotContains(t, ct, "s3cr3t")

	pt, err := box.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-value", pt)
}

func TestEncrypt_FreshIVEachCall(t *testing.T) {
	box, err := New(testKey)
	require.NoError(t, err)

	a, err := box.Encrypt("same")
	require.NoError(t, err)
	b, err := box.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNilBox_PassesThrough(t *testing.T) {
	var box *Box

	ct, err := box.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", ct)

	pt, err := box.Decrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", pt)
}

func TestNew_RejectsBadKeys(t *testing.T) {
	_, err := New("not-hex")
	assert.Error(t, err)

	_, err = New(strings.Repeat("ab", 16)) // 16 bytes, too short
	assert.Error(t, err)
}

func TestDecrypt_RejectsGarbage(t *testing.T) {
	box, err := New(testKey)
	require.NoError(t, err)

	_, err = box.Decrypt("%%%")
	assert.Error(t, err)
	_, err = box.Decrypt("c2hvcnQ=") // valid base64, shorter than one block
	assert.Error(t, err)
}
