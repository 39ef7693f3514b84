// Package pushnotify delivers per-user drop outcome notifications through
// Nakama's notification stream, for participants who are not currently
// connected to the Drop match and so would never see a
// MatchDispatcher.BroadcastMessage (spec.md §4.5's notify* calls describe
// a state transition; getting that transition in front of an offline
// player is a delivery concern of its own).
package pushnotify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Notification codes for the drop coordinator's own event stream.
const (
	CodeWinner      = 200
	CodeBackup      = 201
	CodeLoser       = 202
	CodePromotion   = 203
	CodeExpiry      = 204
	CodeAnnouncement = 205
)

// OutcomePayload is the unified schema for every drop-outcome push.
type OutcomePayload struct {
	DropID         string `json:"dropId"`
	Status         string `json:"status"`
	Position       int    `json:"position,omitempty"`
	BackupPosition int    `json:"backupPosition,omitempty"`
	TotalBackups   int    `json:"totalBackups,omitempty"`
	PurchaseToken  string `json:"purchaseToken,omitempty"`
	ExpiresAt      int64  `json:"expiresAt,omitempty"`
}

func send(ctx context.Context, nk runtime.NakamaModule, userID, subject string, payload OutcomePayload, code int, persistent bool) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outcome payload: %w", err)
	}
	var content map[string]interface{}
	if err := json.Unmarshal(raw, &content); err != nil {
		return fmt.Errorf("unmarshal outcome payload: %w", err)
	}
	return nk.NotificationSend(ctx, userID, subject, content, code, "", persistent)
}

// Winner notifies a participant they won the lottery.
func Winner(ctx context.Context, nk runtime.NakamaModule, userID, dropID string, position int) error {
	return send(ctx, nk, userID, "You won the drop!", OutcomePayload{DropID: dropID, Status: "winner", Position: position}, CodeWinner, true)
}

// Loser notifies a participant they did not win.
func Loser(ctx context.Context, nk runtime.NakamaModule, userID, dropID string) error {
	return send(ctx, nk, userID, "Drop results are in", OutcomePayload{DropID: dropID, Status: "loser"}, CodeLoser, false)
}

// Backup notifies a participant they are on the backup list.
func Backup(ctx context.Context, nk runtime.NakamaModule, userID, dropID string, backupPosition, totalBackups int) error {
	return send(ctx, nk, userID, "You're on the backup list", OutcomePayload{DropID: dropID, Status: "backup", BackupPosition: backupPosition, TotalBackups: totalBackups}, CodeBackup, true)
}

// Promotion notifies a backup they were promoted to winner.
func Promotion(ctx context.Context, nk runtime.NakamaModule, userID, dropID string) error {
	return send(ctx, nk, userID, "You've been promoted to winner!", OutcomePayload{DropID: dropID, Status: "winner"}, CodePromotion, true)
}

// Expiry notifies a winner their purchase window lapsed.
func Expiry(ctx context.Context, nk runtime.NakamaModule, userID, dropID string) error {
	return send(ctx, nk, userID, "Your purchase window expired", OutcomePayload{DropID: dropID, Status: "expired"}, CodeExpiry, false)
}

// Announcement sends a persistent, drop-wide message (e.g. an admin
// cancellation notice) to one user at a time — callers fan this out over
// a participant list.
func Announcement(ctx context.Context, nk runtime.NakamaModule, userID, dropID, message string) error {
	return send(ctx, nk, userID, message, OutcomePayload{DropID: dropID, Status: "announcement"}, CodeAnnouncement, true)
}
