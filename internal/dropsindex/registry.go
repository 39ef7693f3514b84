package dropsindex

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/flashgrid/dropcoordinator/internal/dropserr"
	"github.com/flashgrid/dropcoordinator/internal/storekv"
)

// Nakama addresses a match by the opaque matchId MatchCreate returns,
// not by the caller-chosen dropId the spec's actor model assumes. This
// registry bridges the two: it outlives the drops_index entry (which is
// removed once a drop completes) so getState/getLotteryProof can still
// resolve a finished drop's match for a verification request.
const registryCollection = "drop_registry"

type registryEntry struct {
	MatchID string `json:"matchId"`
}

// RegisterMatch records the matchId a freshly created drop runs on.
func RegisterMatch(ctx context.Context, nk runtime.NakamaModule, dropID, matchID string) error {
	_, err := storekv.WriteOne(ctx, nk, registryCollection, dropID, "", registryEntry{MatchID: matchID}, "", 1, 0)
	return err
}

// LookupMatch resolves a dropId to its running match's matchId.
func LookupMatch(ctx context.Context, nk runtime.NakamaModule, dropID string) (string, error) {
	entry, _, found, err := storekv.ReadOne[registryEntry](ctx, nk, registryCollection, dropID, "")
	if err != nil {
		return "", err
	}
	if !found {
		return "", dropserr.ErrDropNotFound
	}
	return entry.MatchID, nil
}
