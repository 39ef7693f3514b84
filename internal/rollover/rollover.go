// Package rollover implements the UserRollover actor (spec.md §4.6): a
// per-user, cross-drop entry credit balance, capped at MAX_ROLLOVER, only
// ever credited from paid losing entries.
package rollover

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/flashgrid/dropcoordinator/internal/storekv"
)

const (
	collection = "rollover"
	key        = "balance"
)

// Balance is the durable record, one per userID.
type Balance struct {
	Balance int64 `json:"balance"`
}

// GetBalance returns the user's current rollover balance (spec.md §4.6
// getBalance).
func GetBalance(ctx context.Context, nk runtime.NakamaModule, userID string) (int64, error) {
	b, _, _, err := storekv.ReadOne[Balance](ctx, nk, collection, key, userID)
	if err != nil {
		return 0, err
	}
	return b.Balance, nil
}

// ConsumeRollover debits up to amount from the balance, returning exactly
// how much was consumed (min(amount, balance)) and the balance remaining
// after. It only writes a new balance when consumed > 0 (spec.md §4.6
// consumeRollover).
func ConsumeRollover(ctx context.Context, nk runtime.NakamaModule, userID string, amount int64) (consumed int64, remaining int64, err error) {
	if amount <= 0 {
		bal, gerr := GetBalance(ctx, nk, userID)
		return 0, bal, gerr
	}
	result, err := storekv.Mutate(ctx, nk, collection, key, userID, 1, 0, func(current Balance, existed bool) (Balance, error) {
		toConsume := clampConsume(current.Balance, amount)
		consumed = toConsume
		current.Balance -= toConsume
		return current, nil
	})
	if err != nil {
		return 0, 0, err
	}
	return consumed, result.Balance, nil
}

// clampConsume returns min(amount, balance) — the amount ConsumeRollover
// actually debits, never more than what's on deposit (spec.md §4.6
// consumeRollover: "consumed = min(amount, balance)").
func clampConsume(balance, amount int64) int64 {
	if amount > balance {
		return balance
	}
	return amount
}

// AddRollover credits amount to the balance, capped at maxRollover.
// Non-positive amounts are a no-op (spec.md §4.6 addRollover).
func AddRollover(ctx context.Context, nk runtime.NakamaModule, userID string, amount, maxRollover int64) (newBalance int64, capped bool, err error) {
	if amount <= 0 {
		bal, gerr := GetBalance(ctx, nk, userID)
		return bal, false, gerr
	}
	result, err := storekv.Mutate(ctx, nk, collection, key, userID, 1, 0, func(current Balance, existed bool) (Balance, error) {
		sum, wasCapped := capBalance(current.Balance+amount, maxRollover)
		capped = wasCapped
		current.Balance = sum
		return current, nil
	})
	if err != nil {
		return 0, false, err
	}
	return result.Balance, capped, nil
}

// capBalance clamps sum to maxRollover, reporting whether clamping
// happened (spec.md §4.6 addRollover: "newBalance = min(balance+amount,
// MAX_ROLLOVER)").
func capBalance(sum, maxRollover int64) (int64, bool) {
	if sum > maxRollover {
		return maxRollover, true
	}
	return sum, false
}

// SetBalance is the administrative override, clamped to a non-negative
// value (spec.md §4.6 setBalance).
func SetBalance(ctx context.Context, nk runtime.NakamaModule, userID string, balance int64) error {
	balance = clampNonNegative(balance)
	_, err := storekv.Mutate(ctx, nk, collection, key, userID, 1, 0, func(current Balance, existed bool) (Balance, error) {
		current.Balance = balance
		return current, nil
	})
	return err
}

// clampNonNegative floors balance at zero (spec.md §4.6 setBalance:
// "clamp at 0").
func clampNonNegative(balance int64) int64 {
	if balance < 0 {
		return 0
	}
	return balance
}
