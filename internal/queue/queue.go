// Package queue implements the Admission Queue actor (spec.md §4.3):
// per-drop gating of registration via fingerprint/IP caps, a readyCap on
// concurrently admitted tokens, and a tick-driven promotion loop.
package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/flashgrid/dropcoordinator/internal/config"
	"github.com/flashgrid/dropcoordinator/internal/dropserr"
	"github.com/flashgrid/dropcoordinator/internal/storekv"
)

const (
	stateCollection = "queue_state"
	tokenCollection = "queue_token"
)

// Token statuses, per spec.md §3 QueueToken lifecycle.
const (
	StatusWaiting = "waiting"
	StatusReady   = "ready"
	StatusUsed    = "used"
	StatusExpired = "expired"
)

// State holds the per-drop admission indices (spec.md §3 QueueToken "Per-
// drop indices"). WaitingOrder is the FIFO of tokenIds still waiting, kept
// in position order so admissionLoop can promote without a storage scan.
type State struct {
	PositionCounter   int64          `json:"positionCounter"`
	ReadyCount        int            `json:"readyCount"`
	UsedCount         int            `json:"usedCount"`
	ExpiredCount      int            `json:"expiredCount"`
	FingerprintCounts map[string]int `json:"fingerprintCounts"`
	IPCounts          map[string]int `json:"ipCounts"`
	WaitingOrder      []string       `json:"waitingOrder"`
}

// Token is one issued admission ticket.
type Token struct {
	TokenID     string `json:"tokenId"`
	Fingerprint string `json:"fingerprint"`
	IPHash      string `json:"ipHash"`
	Position    int64  `json:"position"`
	Status      string `json:"status"`
	ReadyAt     int64  `json:"readyAt,omitempty"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"`
}

// JoinResult is the result of JoinQueue (spec.md §4.3 joinQueue).
type JoinResult struct {
	Token                string  `json:"token"`
	Position             int64   `json:"position"`
	EstimatedWaitSeconds float64 `json:"estimatedWaitSeconds"`
	Status               string  `json:"status"`

	pendingToken Token
}

func readState(ctx context.Context, nk runtime.NakamaModule, dropID string) (State, error) {
	st, _, _, err := storekv.ReadOne[State](ctx, nk, stateCollection, dropID, "")
	if err != nil {
		return State{}, err
	}
	if st.FingerprintCounts == nil {
		st.FingerprintCounts = make(map[string]int)
	}
	if st.IPCounts == nil {
		st.IPCounts = make(map[string]int)
	}
	return st, nil
}

func newTokenID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// JoinQueue admits or queues a new fingerprint/IP pair (spec.md §4.3
// joinQueue). Cap checks happen inside the same CAS cycle that increments
// the per-drop counters, so concurrent joins can't both slip past a cap.
func JoinQueue(ctx context.Context, nk runtime.NakamaModule, cfg config.QueueConfig, dropID, fingerprint, ipHash string, now time.Time) (JoinResult, error) {
	tokenID, err := newTokenID()
	if err != nil {
		return JoinResult{}, err
	}

	var result JoinResult
	var capErr error
	newState, err := storekv.Mutate(ctx, nk, stateCollection, dropID, "", 1, 0, func(current State, existed bool) (State, error) {
		if current.FingerprintCounts == nil {
			current.FingerprintCounts = make(map[string]int)
		}
		if current.IPCounts == nil {
			current.IPCounts = make(map[string]int)
		}
		if current.FingerprintCounts[fingerprint] >= cfg.PerFingerprintCap || current.IPCounts[ipHash] >= cfg.PerIPCap {
			capErr = dropserr.ErrQueueCapExceeded
			return current, capErr
		}

		current.PositionCounter++
		position := current.PositionCounter

		tok := Token{
			TokenID:     tokenID,
			Fingerprint: fingerprint,
			IPHash:      ipHash,
			Position:    position,
			Status:      StatusWaiting,
		}
		if current.ReadyCount < cfg.ReadyCap {
			tok.Status = StatusReady
			tok.ReadyAt = now.UnixMilli()
			tok.ExpiresAt = now.Add(time.Duration(cfg.ReadyTTLSeconds) * time.Second).UnixMilli()
			current.ReadyCount++
		} else {
			current.WaitingOrder = append(current.WaitingOrder, tokenID)
		}

		current.FingerprintCounts[fingerprint]++
		current.IPCounts[ipHash]++

		result = JoinResult{
			Token:                tokenID,
			Position:             position,
			Status:               tok.Status,
			EstimatedWaitSeconds: estimateWait(position, cfg.IssueRate),
		}
		result.pendingToken = tok
		return current, nil
	})
	if capErr != nil {
		return JoinResult{}, capErr
	}
	if err != nil {
		return JoinResult{}, err
	}
	_ = newState

	if _, err := storekv.WriteOne(ctx, nk, tokenCollection, tokenKey(dropID, tokenID), "", result.pendingToken, "", 1, 0); err != nil {
		return JoinResult{}, err
	}
	return result, nil
}

func tokenKey(dropID, tokenID string) string {
	return dropID + ":" + tokenID
}

func estimateWait(position int64, issueRate float64) float64 {
	if issueRate <= 0 {
		return 0
	}
	return float64(position) / issueRate
}

// CheckToken returns the current status of a token, sweeping it to
// expired first if its TTL has lapsed (spec.md §4.3 checkToken).
func CheckToken(ctx context.Context, nk runtime.NakamaModule, dropID, tokenID string, now time.Time) (Token, error) {
	tok, _, found, err := storekv.ReadOne[Token](ctx, nk, tokenCollection, tokenKey(dropID, tokenID), "")
	if err != nil {
		return Token{}, err
	}
	if !found {
		return Token{}, dropserr.ErrTokenNotFound
	}
	if tok.Status == StatusReady && tok.ExpiresAt > 0 && now.UnixMilli() >= tok.ExpiresAt {
		expired, err := expireToken(ctx, nk, dropID, tokenID)
		if err != nil {
			return Token{}, err
		}
		return expired, nil
	}
	return tok, nil
}

func expireToken(ctx context.Context, nk runtime.NakamaModule, dropID, tokenID string) (Token, error) {
	tok, err := storekv.Mutate(ctx, nk, tokenCollection, tokenKey(dropID, tokenID), "", 1, 0, func(current Token, existed bool) (Token, error) {
		if current.Status != StatusReady {
			return current, nil
		}
		current.Status = StatusExpired
		return current, nil
	})
	if err != nil {
		return Token{}, err
	}
	if tok.Status == StatusExpired {
		_, err := storekv.Mutate(ctx, nk, stateCollection, dropID, "", 1, 0, func(current State, existed bool) (State, error) {
			if current.ReadyCount > 0 {
				current.ReadyCount--
			}
			current.ExpiredCount++
			return current, nil
		})
		if err != nil {
			return Token{}, err
		}
	}
	return tok, nil
}

// ConsumeToken marks a ready token used at the start of the register path
// (spec.md §4.3 "A ready token is consumed and marked used at the start
// of the register path"). Returns an error if the token is not currently
// ready.
func ConsumeToken(ctx context.Context, nk runtime.NakamaModule, dropID, tokenID string, now time.Time) (Token, error) {
	var stateErr error
	tok, err := storekv.Mutate(ctx, nk, tokenCollection, tokenKey(dropID, tokenID), "", 1, 0, func(current Token, existed bool) (Token, error) {
		if !existed {
			stateErr = dropserr.ErrTokenNotFound
			return current, stateErr
		}
		if current.Status == StatusReady && current.ExpiresAt > 0 && now.UnixMilli() >= current.ExpiresAt {
			stateErr = dropserr.ErrTokenExpired
			return current, stateErr
		}
		if current.Status != StatusReady {
			stateErr = dropserr.ErrWrongPhase
			return current, stateErr
		}
		current.Status = StatusUsed
		return current, nil
	})
	if stateErr != nil {
		return Token{}, stateErr
	}
	if err != nil {
		return Token{}, err
	}
	_, err = storekv.Mutate(ctx, nk, stateCollection, dropID, "", 1, 0, func(current State, existed bool) (State, error) {
		if current.ReadyCount > 0 {
			current.ReadyCount--
		}
		current.UsedCount++
		return current, nil
	})
	return tok, err
}

// RunAdmissionLoop promotes waiting tokens (lowest position first) into
// ready until readyCap is hit (spec.md §4.3 admissionLoop: "While
// readyCount < readyCap and there exists a waiting token ... promote to
// ready"). Driven from the drop match's tick loop rather than a dedicated
// actor goroutine, since Nakama has no free-running per-key timer.
func RunAdmissionLoop(ctx context.Context, nk runtime.NakamaModule, cfg config.QueueConfig, dropID string, now time.Time) ([]Token, error) {
	state, err := readState(ctx, nk, dropID)
	if err != nil {
		return nil, err
	}
	slots := cfg.ReadyCap - state.ReadyCount
	if slots <= 0 || len(state.WaitingOrder) == 0 {
		return nil, nil
	}
	if slots > len(state.WaitingOrder) {
		slots = len(state.WaitingOrder)
	}
	candidates := state.WaitingOrder[:slots]

	promoted := make([]Token, 0, len(candidates))
	for _, tokenID := range candidates {
		updated, err := storekv.Mutate(ctx, nk, tokenCollection, tokenKey(dropID, tokenID), "", 1, 0, func(current Token, existed bool) (Token, error) {
			if current.Status != StatusWaiting {
				return current, nil
			}
			current.Status = StatusReady
			current.ReadyAt = now.UnixMilli()
			current.ExpiresAt = now.Add(time.Duration(cfg.ReadyTTLSeconds) * time.Second).UnixMilli()
			return current, nil
		})
		if err != nil {
			return nil, err
		}
		if updated.Status == StatusReady {
			promoted = append(promoted, updated)
		}
	}
	if len(promoted) == 0 {
		return nil, nil
	}
	_, err = storekv.Mutate(ctx, nk, stateCollection, dropID, "", 1, 0, func(current State, existed bool) (State, error) {
		current.ReadyCount += len(promoted)
		current.WaitingOrder = removeN(current.WaitingOrder, len(promoted))
		return current, nil
	})
	return promoted, err
}

func removeN(s []string, n int) []string {
	if n >= len(s) {
		return s[:0]
	}
	return s[n:]
}

// Stats is the read-only admission-queue projection (spec.md §6
// QueueAdmission.getQueueStats).
type Stats struct {
	WaitingCount         int     `json:"waitingCount"`
	ReadyCount           int     `json:"readyCount"`
	UsedCount            int     `json:"usedCount"`
	ExpiredCount         int     `json:"expiredCount"`
	EstimatedWaitSeconds float64 `json:"estimatedWaitSeconds"`
}

// GetQueueStats returns the current per-drop admission counters
// (spec.md §6 QueueAdmission.getQueueStats). EstimatedWaitSeconds
// reflects the wait a client joining right now would be quoted.
func GetQueueStats(ctx context.Context, nk runtime.NakamaModule, dropID string, issueRate float64) (Stats, error) {
	state, err := readState(ctx, nk, dropID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		WaitingCount:         len(state.WaitingOrder),
		ReadyCount:           state.ReadyCount,
		UsedCount:            state.UsedCount,
		ExpiredCount:         state.ExpiredCount,
		EstimatedWaitSeconds: estimateWait(state.PositionCounter+1, issueRate),
	}, nil
}
