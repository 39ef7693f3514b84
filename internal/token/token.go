// Package token implements the self-authenticating purchase token from
// spec.md §4.4: short, HMAC-signed, no server lookup required to verify.
// Single-use enforcement lives with the Participant actor, not here.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	shortIDBytes  = 10
	signatureBits = 80
	signatureBytes = signatureBits / 8
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Mint produces a purchase token string
// "<shortId>.<expiryBase32>.<signature>" valid until expiresAt.
func Mint(secretKey, dropID, userID string, expiresAt time.Time) (string, error) {
	shortIDRaw := make([]byte, shortIDBytes)
	if _, err := rand.Read(shortIDRaw); err != nil {
		return "", fmt.Errorf("generate short id: %w", err)
	}
	shortID := base64.RawURLEncoding.EncodeToString(shortIDRaw)

	expiryMs := expiresAt.UnixMilli()
	expiryEncoded := b32.EncodeToString(encodeInt64(expiryMs))

	mac := computeMAC(secretKey, dropID, userID, shortID, expiryMs)
	signature := base64.RawURLEncoding.EncodeToString(mac)

	return strings.Join([]string{shortID, expiryEncoded, signature}, "."), nil
}

// Verify parses and authenticates a purchase token. It does not check
// single-use — callers must enforce that via the Participant actor.
func Verify(tok, secretKey, dropID, userID string, now time.Time) error {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return errors.New("malformed purchase token")
	}
	shortID, expiryEncoded, signature := parts[0], parts[1], parts[2]

	expiryBytes, err := b32.DecodeString(expiryEncoded)
	if err != nil {
		return fmt.Errorf("malformed expiry: %w", err)
	}
	expiryMs := decodeInt64(expiryBytes)

	expectedMAC := computeMAC(secretKey, dropID, userID, shortID, expiryMs)
	gotMAC, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}
	if subtle.ConstantTimeCompare(expectedMAC, gotMAC) != 1 {
		return errors.New("signature mismatch")
	}
	if now.UnixMilli() >= expiryMs {
		return errors.New("token expired")
	}
	return nil
}

func computeMAC(secretKey, dropID, userID, shortID string, expiryMs int64) []byte {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(dropID))
	mac.Write([]byte{0})
	mac.Write([]byte(userID))
	mac.Write([]byte{0})
	mac.Write([]byte(shortID))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(expiryMs, 10)))
	return mac.Sum(nil)[:signatureBytes]
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func decodeInt64(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
