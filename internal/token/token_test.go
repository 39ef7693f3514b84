package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintVerify_RoundTrip(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	expires := now.Add(60 * time.Second)

	tok, err := Mint("secret", "drop-1", "user-1", expires)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(tok), 64)
	assert.Equal(t, 2, strings.Count(tok, "."))

	err = Verify(tok, "secret", "drop-1", "user-1", now)
	assert.NoError(t, err)
}

func TestVerify_ExpiredToken(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	tok, err := Mint("secret", "drop-1", "user-1", now.Add(1*time.Second))
	require.NoError(t, err)

	err = Verify(tok, "secret", "drop-1", "user-1", now.Add(2*time.Second))
	assert.Error(t, err)
}

func TestVerify_WrongUserOrDrop(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	tok, err := Mint("secret", "drop-1", "user-1", now.Add(time.Minute))
	require.NoError(t, err)

	assert.Error(t, Verify(tok, "secret", "drop-1", "user-2", now))
	assert.Error(t, Verify(tok, "secret", "drop-2", "user-1", now))
}

func TestVerify_MalformedFormat(t *testing.T) {
	assert.Error(t, Verify("onlyonepart", "secret", "drop-1", "user-1", time.Now()))
	assert.Error(t, Verify("a..c", "secret", "drop-1", "user-1", time.Now()))
	assert.Error(t, Verify("a.b.", "secret", "drop-1", "user-1", time.Now()))
}

func TestVerify_BitFlipInvalidates(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	tok, err := Mint("secret", "drop-1", "user-1", now.Add(time.Minute))
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	sig := []byte(parts[2])
	// Flip the last byte of the signature segment.
	sig[len(sig)-1] ^= 0x01
	flipped := strings.Join([]string{parts[0], parts[1], string(sig)}, ".")

	assert.Error(t, Verify(flipped, "secret", "drop-1", "user-1", now))
	// Original token remains valid and unaffected.
	assert.NoError(t, Verify(tok, "secret", "drop-1", "user-1", now))
}
