// Package notify carries Drop/Participant state-change publication. The
// transport (SSE fan-out to browsers) is an external collaborator per the
// spec; this package only owns the wire shape and the Nakama-native
// broadcast primitive (a match's reliable presence broadcast), mirroring
// how the teacher's notify package owns RewardPayload shape and
// nk.NotificationSend plumbing without owning client rendering.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Opcodes for match broadcast messages, analogous to the teacher's
// notify.Code* constants for NotificationSend.
const (
	OpDropState      = 1
	OpParticipant    = 2
	OpLotteryResult  = 3
	OpWinnerExpired  = 4
	OpWinnerPromoted = 5
)

// DropEvent is the public projection published on every Drop state change,
// matching spec.md §6 field-for-field.
type DropEvent struct {
	Type              string `json:"type"`
	DropID            string `json:"dropId"`
	Phase             string `json:"phase"`
	ParticipantCount  int    `json:"participantCount"`
	TotalTickets      int64  `json:"totalTickets"`
	Inventory         int    `json:"inventory"`
	InitialInventory  int    `json:"initialInventory"`
	RegistrationEnd   int64  `json:"registrationEnd"`
	PurchaseEnd       int64  `json:"purchaseEnd,omitempty"`
	ServerTime        int64  `json:"serverTime"`
	LotteryCommitment string `json:"lotteryCommitment,omitempty"`
}

// NewDropEvent stamps Type for the caller.
func NewDropEvent(dropID string) DropEvent {
	return DropEvent{Type: "drop", DropID: dropID}
}

// ParticipantEvent notifies a single participant of a status change.
type ParticipantEvent struct {
	Type          string `json:"type"`
	DropID        string `json:"dropId"`
	UserID        string `json:"userId"`
	Status        string `json:"status"`
	PurchaseToken string `json:"purchaseToken,omitempty"`
	ExpiresAt     int64  `json:"expiresAt,omitempty"`
}

// Dispatcher is the subset of runtime.MatchDispatcher this package needs,
// kept narrow so tests can fake it without a live Nakama runtime.
type Dispatcher interface {
	BroadcastMessage(opCode int64, data []byte, presences []runtime.Presence, sender runtime.Presence, reliable bool) error
}

// PublishDropEvent converts ev to a structpb.Struct and broadcasts its
// binary protobuf encoding reliably to every presence joined to the
// Drop's match stream (the SSE gateway is expected to join as a silent
// presence — its own fan-out logic is out of scope). Going through
// structpb rather than raw JSON bytes matches how Nakama's own API
// represents dynamic, schema-less payloads on the wire.
func PublishDropEvent(dispatcher Dispatcher, ev DropEvent) error {
	payload, err := encodeStruct(ev)
	if err != nil {
		return fmt.Errorf("encode drop event: %w", err)
	}
	return dispatcher.BroadcastMessage(OpDropState, payload, nil, nil, true)
}

// PublishParticipantEvent broadcasts a single-participant notification the
// same way. Opcode varies by status so subscribers can filter cheaply
// without decoding every message.
func PublishParticipantEvent(dispatcher Dispatcher, ev ParticipantEvent) error {
	payload, err := encodeStruct(ev)
	if err != nil {
		return fmt.Errorf("encode participant event: %w", err)
	}
	op := int64(OpParticipant)
	switch ev.Status {
	case "expired":
		op = OpWinnerExpired
	case "winner":
		if ev.PurchaseToken == "" {
			op = OpWinnerPromoted
		}
	}
	return dispatcher.BroadcastMessage(op, payload, nil, nil, true)
}

// ToStruct converts an arbitrary JSON-tagged value into a protobuf
// structpb.Struct, the representation Nakama's own API uses for dynamic
// JSON bodies (e.g. runtime.WalletUpdate metadata).
func ToStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for struct conversion: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal for struct conversion: %w", err)
	}
	return structpb.NewStruct(m)
}

// encodeStruct converts v to a structpb.Struct via ToStruct, then encodes
// that Struct as binary protobuf — the actual bytes handed to
// BroadcastMessage.
func encodeStruct(v interface{}) ([]byte, error) {
	st, err := ToStruct(v)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}
