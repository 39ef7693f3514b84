// Package storekv provides the single-writer-per-key storage idiom every
// actor in this repo is built on: read an object, apply a pure mutation,
// write it back carrying the version read so Nakama's storage engine
// rejects the write if another writer raced us (optimistic concurrency).
// Grounded on the teacher's items/progression.go (GetItemProgression /
// PrepareProgressionUpdate) and items/storage_operations.go read patterns.
package storekv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/heroiclabs/nakama-common/runtime"
)

// maxCASAttempts bounds the read-mutate-write retry loop. A write that
// still conflicts after this many attempts means sustained contention on
// one key, which the caller should surface rather than retry forever.
const maxCASAttempts = 8

var invalidKeyChars = regexp.MustCompile(`[^A-Za-z0-9_/-]`)

// SanitizeKey replaces characters outside the KV charset with '_', per
// spec.md §6.
func SanitizeKey(key string) string {
	return invalidKeyChars.ReplaceAllString(key, "_")
}

// HashIP returns SHA256(salt || ip) hex-encoded, per spec.md §6: IPs are
// never persisted in the clear.
func HashIP(salt, ip string) string {
	sum := sha256.Sum256([]byte(salt + ip))
	return hex.EncodeToString(sum[:])
}

// ReadOne reads a single storage object and unmarshals its value into a
// fresh T. Returns the zero T, an empty version, found=false and a nil
// error if the object does not exist.
func ReadOne[T any](ctx context.Context, nk runtime.NakamaModule, collection, key, userID string) (value T, version string, found bool, err error) {
	objs, err := nk.StorageRead(ctx, []*runtime.StorageRead{{
		Collection: collection,
		Key:        SanitizeKey(key),
		UserID:     userID,
	}})
	if err != nil {
		return value, "", false, fmt.Errorf("storage read %s/%s: %w", collection, key, err)
	}
	if len(objs) == 0 {
		return value, "", false, nil
	}
	if err := json.Unmarshal([]byte(objs[0].GetValue()), &value); err != nil {
		return value, "", false, fmt.Errorf("unmarshal %s/%s: %w", collection, key, err)
	}
	return value, objs[0].GetVersion(), true, nil
}

// WriteOne marshals value and writes it with the given OCC version (empty
// string means "must not already exist" is NOT enforced — pass
// runtime.StorageWrite directly for create-only semantics).
func WriteOne(ctx context.Context, nk runtime.NakamaModule, collection, key, userID string, value interface{}, version string, permRead, permWrite int) (string, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal %s/%s: %w", collection, key, err)
	}
	acks, err := nk.StorageWrite(ctx, []*runtime.StorageWrite{{
		Collection:      collection,
		Key:             SanitizeKey(key),
		UserID:          userID,
		Value:           string(payload),
		Version:         version,
		PermissionRead:  permRead,
		PermissionWrite: permWrite,
	}})
	if err != nil {
		return "", fmt.Errorf("storage write %s/%s: %w", collection, key, err)
	}
	if len(acks) == 0 {
		return version, nil
	}
	return acks[0].GetVersion(), nil
}

// Mutate reads a T (zero value if absent), applies fn, and writes the
// result back under the version it was read at. fn returning an error
// aborts without writing. On an OCC conflict (a concurrent writer updated
// the key between our read and write) the whole cycle retries, up to
// maxCASAttempts times, matching the single-writer-per-key guarantee the
// spec requires without a literal per-key goroutine.
func Mutate[T any](ctx context.Context, nk runtime.NakamaModule, collection, key, userID string, permRead, permWrite int, fn func(current T, existed bool) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, version, existed, err := ReadOne[T](ctx, nk, collection, key, userID)
		if err != nil {
			return zero, err
		}
		updated, err := fn(current, existed)
		if err != nil {
			return zero, err
		}
		newVersion, err := WriteOne(ctx, nk, collection, key, userID, updated, version, permRead, permWrite)
		if err != nil {
			lastErr = err
			continue
		}
		_ = newVersion
		return updated, nil
	}
	return zero, fmt.Errorf("storekv: exhausted %d CAS attempts on %s/%s: %w", maxCASAttempts, collection, key, lastErr)
}
