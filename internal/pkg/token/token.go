// Package token mints QR session tokens and provider-style random strings.
package token

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Alphabet matches the character set the provider uses for generated ids
// and secrets.
const Alphabet = "1234567890abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_@"

var tagPattern = regexp.MustCompile(`^[a-zA-Z0-9.:_-]+$`)

// ValidTag reports whether a caller-chosen QR tag is acceptable.
func ValidTag(tag string) bool {
	return tagPattern.MatchString(tag)
}

// NewSession builds a session token: a high-entropy ULID prefix with the QR
// tag appended. The tag suffix distinguishes multiple QR codes on one page;
// ULIDs never contain '-', so the tag can be recovered with Tag.
func NewSession(tag string) string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String() + "-" + tag
}

// Tag extracts the QR tag from a session token.
func Tag(session string) (string, bool) {
	_, tag, found := strings.Cut(session, "-")
	return tag, found && tag != ""
}

// Random returns an n-character random string drawn from Alphabet.
func Random(n int) string {
	max := big.NewInt(int64(len(Alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("token: crypto/rand failure: " + err.Error())
		}
		b[i] = Alphabet[idx.Int64()]
	}
	return string(b)
}
