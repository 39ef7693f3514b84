package trust

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// challengeCollection is the `challenges` KV bucket named by spec.md §6,
// where Issue stores and Consume retires proof-of-work challenges. The puzzle/solve algorithm
// itself stays external (spec.md §1 Non-goals); this only makes
// powVerified a concrete, testable fact rather than an opaque bool.
const challengeCollection = "challenges"

// Challenge is the durable record of an issued PoW puzzle.
type Challenge struct {
	Difficulty int    `json:"difficulty"`
	IssuedAt   int64  `json:"issuedAt"`
	ExpiresAt  int64  `json:"expiresAt"`
	Consumed   bool   `json:"consumed"`
	Nonce      string `json:"nonce"`
}

// Issue creates a new challenge with the given difficulty and TTL, storing
// it keyed by a random challenge ID so it cannot be guessed.
func Issue(ctx context.Context, nk runtime.NakamaModule, difficulty int, ttl time.Duration, now time.Time) (challengeID string, nonce string, err error) {
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", "", fmt.Errorf("generate challenge id: %w", err)
	}
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}
	challengeID = hex.EncodeToString(idBytes)
	nonce = hex.EncodeToString(nonceBytes)

	c := Challenge{
		Difficulty: difficulty,
		IssuedAt:   now.UnixMilli(),
		ExpiresAt:  now.Add(ttl).UnixMilli(),
		Nonce:      nonce,
	}
	value, err := json.Marshal(c)
	if err != nil {
		return "", "", fmt.Errorf("marshal challenge: %w", err)
	}
	if _, err := nk.StorageWrite(ctx, []*runtime.StorageWrite{{
		Collection:      challengeCollection,
		Key:             challengeID,
		Value:           string(value),
		PermissionRead:  0,
		PermissionWrite: 0,
	}}); err != nil {
		return "", "", fmt.Errorf("write challenge: %w", err)
	}
	return challengeID, nonce, nil
}

// Consume marks a challenge used exactly once, failing if it is expired,
// already consumed, or unknown. Returns the verified difficulty so the
// caller can combine it with the client's claimed solution.
func Consume(ctx context.Context, nk runtime.NakamaModule, challengeID string, now time.Time) (Challenge, bool) {
	objs, err := nk.StorageRead(ctx, []*runtime.StorageRead{{
		Collection: challengeCollection,
		Key:        challengeID,
	}})
	if err != nil || len(objs) == 0 {
		return Challenge{}, false
	}
	var c Challenge
	if err := json.Unmarshal([]byte(objs[0].GetValue()), &c); err != nil {
		return Challenge{}, false
	}
	if c.Consumed || now.UnixMilli() > c.ExpiresAt {
		return Challenge{}, false
	}
	c.Consumed = true
	value, err := json.Marshal(c)
	if err != nil {
		return Challenge{}, false
	}
	if _, err := nk.StorageWrite(ctx, []*runtime.StorageWrite{{
		Collection:      challengeCollection,
		Key:             challengeID,
		Value:           string(value),
		Version:         objs[0].GetVersion(),
		PermissionRead:  0,
		PermissionWrite: 0,
	}}); err != nil {
		return Challenge{}, false
	}
	return c, true
}
