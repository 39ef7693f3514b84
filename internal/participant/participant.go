// Package participant implements the Participant actor (spec.md §4.5):
// one object per (dropId, userId) tracking that user's status within a
// single drop, including single-use purchase token consumption.
package participant

import (
	"context"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/flashgrid/dropcoordinator/internal/dropserr"
	"github.com/flashgrid/dropcoordinator/internal/storekv"
	"github.com/flashgrid/dropcoordinator/internal/token"
)

const collection = "participant"

// Status values, per spec.md §3 Participant invariant: monotonic except
// winner -> purchased, and purchased is terminal.
const (
	StatusNone       = "none"
	StatusRegistered = "registered"
	StatusWinner     = "winner"
	StatusBackup     = "backup"
	StatusLoser      = "loser"
	StatusPurchased  = "purchased"
	StatusExpired    = "expired"
)

// State is the durable per-(dropId,userId) record.
type State struct {
	Status            string `json:"status"`
	Position          int    `json:"position"`
	Tickets           int64  `json:"tickets"`
	EffectiveTickets  int64  `json:"effectiveTickets"`
	RolloverUsed      int64  `json:"rolloverUsed"`
	PaidEntries       int64  `json:"paidEntries"`
	LoyaltyTier       string `json:"loyaltyTier"`
	LoyaltyMultiplier float64 `json:"loyaltyMultiplier"`
	QueuePosition     int    `json:"queuePosition"`
	PurchaseToken     string `json:"purchaseToken,omitempty"`
	ExpiresAt         int64  `json:"expiresAt,omitempty"`
	Promoted          bool   `json:"promoted,omitempty"`
	BackupPosition    int    `json:"backupPosition,omitempty"`
	TotalBackups      int    `json:"totalBackups,omitempty"`
}

func storeKey(dropID, userID string) string {
	return dropID + ":" + userID
}

func mutate(ctx context.Context, nk runtime.NakamaModule, dropID, userID string, fn func(State, bool) (State, error)) (State, error) {
	return storekv.Mutate(ctx, nk, collection, storeKey(dropID, userID), userID, 1, 0, fn)
}

// GetState returns the public projection: the stored record itself
// (spec.md §4.5 getState).
func GetState(ctx context.Context, nk runtime.NakamaModule, dropID, userID string) (State, error) {
	st, _, _, err := storekv.ReadOne[State](ctx, nk, collection, storeKey(dropID, userID), userID)
	return st, err
}

// SetRegistered records the result of a successful Drop.register call
// (spec.md §4.5 setRegistered).
func SetRegistered(ctx context.Context, nk runtime.NakamaModule, dropID, userID string, position int, tickets, effectiveTickets, rolloverUsed, paidEntries int64, loyaltyTier string, loyaltyMultiplier float64) error {
	_, err := mutate(ctx, nk, dropID, userID, func(current State, existed bool) (State, error) {
		current.Status = StatusRegistered
		current.Position = position
		current.Tickets = tickets
		current.EffectiveTickets = effectiveTickets
		current.RolloverUsed = rolloverUsed
		current.PaidEntries = paidEntries
		current.LoyaltyTier = loyaltyTier
		current.LoyaltyMultiplier = loyaltyMultiplier
		return current, nil
	})
	return err
}

// NotifyResult marks a registered participant as a winner or loser at
// lottery close (spec.md §4.5 notifyResult).
func NotifyResult(ctx context.Context, nk runtime.NakamaModule, dropID, userID string, isWinner bool, position int) error {
	_, err := mutate(ctx, nk, dropID, userID, func(current State, existed bool) (State, error) {
		if isWinner {
			current.Status = StatusWinner
			current.Position = position
		} else {
			current.Status = StatusLoser
		}
		return current, nil
	})
	return err
}

// NotifyBackup marks a participant as a backup winner (spec.md §4.5
// notifyBackup).
func NotifyBackup(ctx context.Context, nk runtime.NakamaModule, dropID, userID string, backupPosition, totalBackups int) error {
	_, err := mutate(ctx, nk, dropID, userID, func(current State, existed bool) (State, error) {
		current.Status = StatusBackup
		current.BackupPosition = backupPosition
		current.TotalBackups = totalBackups
		return current, nil
	})
	return err
}

// NotifyPromotion moves a backup into winner status after a primary
// winner expires (spec.md §4.5 notifyPromotion).
func NotifyPromotion(ctx context.Context, nk runtime.NakamaModule, dropID, userID string) error {
	_, err := mutate(ctx, nk, dropID, userID, func(current State, existed bool) (State, error) {
		current.Promoted = true
		current.Status = StatusWinner
		return current, nil
	})
	return err
}

// NotifyExpiry marks a winner whose purchase window lapsed without a
// purchase (spec.md §4.5 notifyExpiry).
func NotifyExpiry(ctx context.Context, nk runtime.NakamaModule, dropID, userID string) error {
	_, err := mutate(ctx, nk, dropID, userID, func(current State, existed bool) (State, error) {
		current.Status = StatusExpired
		return current, nil
	})
	return err
}

// SetToken records a freshly minted purchase token and its expiry
// (spec.md §4.5 setToken).
func SetToken(ctx context.Context, nk runtime.NakamaModule, dropID, userID, purchaseToken string, expiresAt time.Time) error {
	_, err := mutate(ctx, nk, dropID, userID, func(current State, existed bool) (State, error) {
		current.PurchaseToken = purchaseToken
		current.ExpiresAt = expiresAt.UnixMilli()
		return current, nil
	})
	return err
}

// CompletePurchase verifies and atomically consumes a purchase token
// (spec.md §4.5 completePurchase): the participant must be a winner, the
// presented token must match the one on file, the token must not already
// be consumed, it must not be expired, and its HMAC must verify. All five
// checks and the status flip happen inside the same CAS cycle so a replay
// of this handler (at-least-once delivery) cannot double-spend a token.
func CompletePurchase(ctx context.Context, nk runtime.NakamaModule, dropID, userID, presentedToken, secretKey string, now time.Time) error {
	var verifyErr error
	_, err := mutate(ctx, nk, dropID, userID, func(current State, existed bool) (State, error) {
		if current.Status == StatusPurchased {
			verifyErr = dropserr.ErrTokenAlreadyUsed
			return current, verifyErr
		}
		if current.Status != StatusWinner {
			verifyErr = dropserr.ErrNotAWinner
			return current, verifyErr
		}
		if current.PurchaseToken == "" || current.PurchaseToken != presentedToken {
			verifyErr = dropserr.ErrInvalidSignature
			return current, verifyErr
		}
		if now.UnixMilli() >= current.ExpiresAt {
			verifyErr = dropserr.ErrTokenExpired
			return current, verifyErr
		}
		if err := token.Verify(presentedToken, secretKey, dropID, userID, now); err != nil {
			verifyErr = dropserr.ErrInvalidSignature
			return current, verifyErr
		}
		current.Status = StatusPurchased
		return current, nil
	})
	if verifyErr != nil {
		return verifyErr
	}
	return err
}
