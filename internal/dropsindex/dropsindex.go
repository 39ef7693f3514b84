// Package dropsindex maintains the listing of active drops (spec.md
// §4.1 initialize/completePurchase/closePurchaseWindow: "Upserts the
// Drops Index" / "delete Drops Index entry"), so a client can discover
// what's running without scanning every Drop key.
package dropsindex

import (
	"context"
	"sort"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/flashgrid/dropcoordinator/internal/storekv"
)

const (
	collection = "drops_index"
	indexKey   = "active"
)

// Entry is the summary of one active drop shown in the index.
type Entry struct {
	DropID          string `json:"dropId"`
	Phase           string `json:"phase"`
	RegistrationEnd int64  `json:"registrationEnd"`
	PurchaseEnd     int64  `json:"purchaseEnd,omitempty"`
}

type state struct {
	Drops map[string]Entry `json:"drops"`
}

// Upsert records or updates a drop's summary in the index.
func Upsert(ctx context.Context, nk runtime.NakamaModule, entry Entry) error {
	_, err := storekv.Mutate(ctx, nk, collection, indexKey, "", 1, 0, func(current state, existed bool) (state, error) {
		if current.Drops == nil {
			current.Drops = make(map[string]Entry)
		}
		current.Drops[entry.DropID] = entry
		return current, nil
	})
	return err
}

// Delete removes a drop from the index once it completes.
func Delete(ctx context.Context, nk runtime.NakamaModule, dropID string) error {
	_, err := storekv.Mutate(ctx, nk, collection, indexKey, "", 1, 0, func(current state, existed bool) (state, error) {
		if current.Drops == nil {
			return current, nil
		}
		delete(current.Drops, dropID)
		return current, nil
	})
	return err
}

// List returns every active drop summary.
func List(ctx context.Context, nk runtime.NakamaModule) ([]Entry, error) {
	st, _, _, err := storekv.ReadOne[state](ctx, nk, collection, indexKey, "")
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(st.Drops))
	for _, e := range st.Drops {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].DropID < entries[j].DropID })
	return entries, nil
}
