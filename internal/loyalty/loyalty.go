// Package loyalty implements the UserLoyalty actor (spec.md §4.7): a
// per-user distinct-drop participation counter that maps to a tier and
// ticket multiplier.
package loyalty

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/flashgrid/dropcoordinator/internal/config"
	"github.com/flashgrid/dropcoordinator/internal/storekv"
)

const (
	collection = "loyalty"
	key        = "state"

	TierBronze = "bronze"
	TierSilver = "silver"
	TierGold   = "gold"
)

// State is the durable record, one per userID: the set of drops already
// counted and the running count derived from it.
type State struct {
	SeenDrops map[string]bool `json:"seenDrops"`
	Count     int             `json:"count"`
}

// RecordParticipation increments count if dropID has not been seen before
// for this user, otherwise is a no-op (spec.md §4.7 recordParticipation).
func RecordParticipation(ctx context.Context, nk runtime.NakamaModule, userID, dropID string) error {
	_, err := storekv.Mutate(ctx, nk, collection, key, userID, 1, 0, func(current State, existed bool) (State, error) {
		if current.SeenDrops == nil {
			current.SeenDrops = make(map[string]bool)
		}
		if current.SeenDrops[dropID] {
			return current, nil
		}
		current.SeenDrops[dropID] = true
		current.Count++
		return current, nil
	})
	return err
}

// GetMultiplier returns the user's current tier and multiplier (spec.md
// §4.7 getMultiplier), computed from the participation count and the
// supplied thresholds/multipliers.
func GetMultiplier(ctx context.Context, nk runtime.NakamaModule, userID string, cfg config.LoyaltyConfig) (tier string, multiplier float64, err error) {
	st, _, _, err := storekv.ReadOne[State](ctx, nk, collection, key, userID)
	if err != nil {
		return "", 0, err
	}
	tier, multiplier = TierForCount(st.Count, cfg)
	return tier, multiplier, nil
}

// TierForCount is the pure tier/multiplier computation (spec.md §4.7):
// bronze below SilverThreshold, silver in [SilverThreshold,
// GoldThreshold), gold at or above GoldThreshold. Multipliers are
// monotonically non-decreasing by construction of the config.
func TierForCount(count int, cfg config.LoyaltyConfig) (tier string, multiplier float64) {
	switch {
	case count >= cfg.GoldThreshold:
		return TierGold, cfg.GoldMultiplier
	case count >= cfg.SilverThreshold:
		return TierSilver, cfg.SilverMultiplier
	default:
		return TierBronze, 1.0
	}
}
