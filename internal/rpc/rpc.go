// Package rpc exposes the drop coordinator's client-facing surface as
// Nakama RPCs: thin adapters that decode a JSON payload, delegate to the
// collaborator packages or signal the Drop match, and re-encode the
// result — the same shape as the teacher's items/player_rpc.go and
// items/config_rpc.go handlers.
package rpc

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/flashgrid/dropcoordinator/internal/drop"
	"github.com/flashgrid/dropcoordinator/internal/dropserr"
	"github.com/flashgrid/dropcoordinator/internal/dropsindex"
	"github.com/flashgrid/dropcoordinator/internal/obslog"
	"github.com/flashgrid/dropcoordinator/internal/queue"
	"github.com/flashgrid/dropcoordinator/internal/rollover"
	"github.com/flashgrid/dropcoordinator/internal/storekv"
	"github.com/flashgrid/dropcoordinator/internal/trust"
)

// adminGroupEnvKey names the runtime environment variable (set in
// Nakama's config.yaml under runtime.env) holding the group ID whose
// membership gates the administrative RPCs below — there is no per-drop
// concept of "admin" in spec.md, this is a single operator-wide group.
const adminGroupEnvKey = "DROP_ADMIN_GROUP_ID"

// requireAdmin rejects the call unless the caller is a member of the
// configured admin group, the nk.GroupUsersList ownership-check pattern
// idiomatic to Nakama plugins for gating operator-only RPCs.
func requireAdmin(ctx context.Context, nk runtime.NakamaModule) error {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return err
	}
	env, _ := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string)
	groupID := env[adminGroupEnvKey]
	if groupID == "" {
		return dropserr.ErrForbidden
	}
	members, _, err := nk.GroupUsersList(ctx, groupID, 100, nil, "")
	if err != nil {
		return dropserr.ErrForbidden
	}
	for _, m := range members {
		if m.GetUser() != nil && m.GetUser().GetId() == userID {
			return nil
		}
	}
	return dropserr.ErrForbidden
}

// RpcRequestPowChallenge issues a fresh proof-of-work puzzle a client must
// solve and echo back as powChallengeId/powSolution in a later register_for_drop
// call (spec.md §4.8 behavioral gate; the puzzle/solve algorithm itself is
// an external collaborator per spec.md §1 Non-goals — this endpoint only
// hands out the challengeId/nonce/difficulty tuple).
func RpcRequestPowChallenge(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req struct {
		DropID string `json:"dropId"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.DropID == "" {
		return "", dropserr.ErrInvalidInput
	}
	cfgResult, err := fetchConfig(ctx, nk, req.DropID)
	if err != nil {
		return "", err
	}
	challengeID, nonce, err := trust.Issue(ctx, nk, cfgResult.Trust.PowDifficulty, time.Duration(cfgResult.Trust.PowTTLSeconds)*time.Second, time.Now())
	if err != nil {
		obslog.Error(ctx, logger, "issue pow challenge failed", err)
		return "", dropserr.ErrInternal
	}
	return marshalOrInternal(struct {
		ChallengeID string `json:"challengeId"`
		Nonce       string `json:"nonce"`
		Difficulty  int    `json:"difficulty"`
	}{ChallengeID: challengeID, Nonce: nonce, Difficulty: cfgResult.Trust.PowDifficulty})
}

func userIDFromCtx(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	if !ok || userID == "" {
		return "", dropserr.ErrNoUserIdFound
	}
	return userID, nil
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(runtime.RUNTIME_CTX_CLIENT_IP).(string)
	return ip
}

func marshalOrInternal(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", dropserr.ErrMarshal
	}
	return string(raw), nil
}

func signalDrop(ctx context.Context, nk runtime.NakamaModule, dropID, op string, payload interface{}) (json.RawMessage, error) {
	matchID, err := dropsindex.LookupMatch(ctx, nk, dropID)
	if err != nil {
		return nil, err
	}
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, dropserr.ErrMarshal
	}
	req := struct {
		Op      string          `json:"op"`
		Payload json.RawMessage `json:"payload"`
	}{Op: op, Payload: rawPayload}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, dropserr.ErrMarshal
	}

	respData, err := nk.MatchSignal(ctx, matchID, string(data))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result json.RawMessage `json:"result,omitempty"`
		Error  string          `json:"error,omitempty"`
	}
	if err := json.Unmarshal([]byte(respData), &resp); err != nil {
		return nil, dropserr.ErrUnmarshal
	}
	if resp.Error != "" {
		return nil, dropserr.ErrInternal
	}
	return resp.Result, nil
}

// RpcCreateDrop is the administrative entrypoint that stands up a new
// drop: creates the match, lets MatchInit run Drop.initialize, and
// records the dropId -> matchId mapping (spec.md §4.1 initialize,
// §6 Actor RPC surface Drop.initialize).
func RpcCreateDrop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req struct {
		DropID string          `json:"dropId"`
		Config json.RawMessage `json:"config"`
		Strict bool            `json:"strict"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.DropID == "" {
		return "", dropserr.ErrInvalidInput
	}

	matchID, err := nk.MatchCreate(ctx, drop.ModuleName, map[string]interface{}{
		"dropId": req.DropID,
		"config": string(req.Config),
		"strict": req.Strict,
	})
	if err != nil {
		obslog.Error(ctx, logger, "match create failed", err)
		return "", dropserr.ErrInternal
	}

	if err := dropsindex.RegisterMatch(ctx, nk, req.DropID, matchID); err != nil {
		obslog.Error(ctx, logger, "register drop match failed", err)
		return "", dropserr.ErrInternal
	}

	result, err := signalDrop(ctx, nk, req.DropID, "getLotteryProof", struct{}{})
	if err != nil {
		return "", err
	}
	return marshalOrInternal(struct {
		DropID  string          `json:"dropId"`
		MatchID string          `json:"matchId"`
		Proof   json.RawMessage `json:"proof"`
	}{DropID: req.DropID, MatchID: matchID, Proof: result})
}

// RpcJoinQueue admits a client into the admission queue ahead of
// registration (spec.md §4.3 joinQueue).
func RpcJoinQueue(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req struct {
		DropID      string `json:"dropId"`
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.DropID == "" {
		return "", dropserr.ErrInvalidInput
	}

	cfgResult, err := fetchConfig(ctx, nk, req.DropID)
	if err != nil {
		return "", err
	}
	if !cfgResult.Queue.Enabled {
		return "", dropserr.ErrInvalidInput
	}

	ipHash := storekv.HashIP(cfgResult.IPHashSalt, clientIP(ctx))
	result, err := queue.JoinQueue(ctx, nk, cfgResult.Queue, req.DropID, req.Fingerprint, ipHash, time.Now())
	if err != nil {
		return "", err
	}
	return marshalOrInternal(result)
}

// RpcCheckQueueToken polls a previously issued queue token's status
// (spec.md §4.3 checkToken).
func RpcCheckQueueToken(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req struct {
		DropID  string `json:"dropId"`
		TokenID string `json:"tokenId"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.DropID == "" || req.TokenID == "" {
		return "", dropserr.ErrInvalidInput
	}
	tok, err := queue.CheckToken(ctx, nk, req.DropID, req.TokenID, time.Now())
	if err != nil {
		return "", err
	}
	return marshalOrInternal(tok)
}

// registerRequest is the client-facing registration payload. It carries
// everything the Trust Scorer needs plus the queue token consumed at the
// start of the path (spec.md §4.3 "behavioral gate").
type registerRequest struct {
	DropID                string   `json:"dropId"`
	TokenID               string   `json:"tokenId"`
	DesiredTickets        int64    `json:"desiredTickets"`
	Location              *geoReq  `json:"location,omitempty"`
	Fingerprint           string   `json:"fingerprint"`
	FingerprintConfidence float64  `json:"fingerprintConfidence"`
	TimingMs              int64    `json:"timingMs"`
	PowChallengeID        string   `json:"powChallengeId"`
	PowSolution           string   `json:"powSolution"`
	BehaviorScore         *float64 `json:"behaviorScore,omitempty"`
}

type geoReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RpcRegister is the full registration path: consume the admission
// queue token, score trust, then delegate the ticket/geo/rollover/
// loyalty accounting to the Drop match (spec.md §2 "Data flow for a
// registration").
func RpcRegister(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return "", err
	}
	var req registerRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.DropID == "" {
		return "", dropserr.ErrInvalidInput
	}

	cfgResult, err := fetchConfig(ctx, nk, req.DropID)
	if err != nil {
		return "", err
	}

	if cfgResult.Queue.Enabled {
		if _, err := queue.ConsumeToken(ctx, nk, req.DropID, req.TokenID, time.Now()); err != nil {
			return "", err
		}
	}

	powVerified := verifyPow(ctx, nk, req.PowChallengeID, req.PowSolution)
	trustResult := trust.Score(trust.Input{
		Fingerprint:           req.Fingerprint,
		FingerprintConfidence: req.FingerprintConfidence,
		TimingMs:              req.TimingMs,
		PowVerified:           powVerified,
		BehaviorScore:         req.BehaviorScore,
	}, trust.Config{
		Threshold:             cfgResult.Trust.Threshold,
		FingerprintMinLength:  cfgResult.Trust.FingerprintMinLength,
		FingerprintConfidence: cfgResult.Trust.FingerprintConfidence,
	})
	if !trustResult.Allowed {
		return "", dropserr.ErrInvalidInput
	}

	dropPayload := struct {
		UserID         string   `json:"userId"`
		DesiredTickets int64    `json:"desiredTickets"`
		Location       *geoReq  `json:"location,omitempty"`
	}{UserID: userID, DesiredTickets: req.DesiredTickets, Location: req.Location}

	result, err := signalDrop(ctx, nk, req.DropID, "register", dropPayload)
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// verifyPow consumes a previously issued challenge so powVerified reflects
// a real, single-use fact rather than a client-asserted bool — the puzzle
// itself stays an external collaborator (spec.md §1 Non-goals).
func verifyPow(ctx context.Context, nk runtime.NakamaModule, challengeID, solution string) bool {
	if challengeID == "" || solution == "" {
		return false
	}
	_, ok := trust.Consume(ctx, nk, challengeID, time.Now())
	return ok
}

// RpcStartPurchase mints a purchase token for a winner (spec.md §4.1
// startPurchase).
func RpcStartPurchase(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return "", err
	}
	var req struct {
		DropID string `json:"dropId"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.DropID == "" {
		return "", dropserr.ErrInvalidInput
	}
	result, err := signalDrop(ctx, nk, req.DropID, "startPurchase", struct {
		UserID string `json:"userId"`
	}{UserID: userID})
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// RpcCompletePurchase redeems a purchase token (spec.md §4.1
// completePurchase).
func RpcCompletePurchase(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return "", err
	}
	var req struct {
		DropID string `json:"dropId"`
		Token  string `json:"token"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.DropID == "" || req.Token == "" {
		return "", dropserr.ErrInvalidInput
	}
	result, err := signalDrop(ctx, nk, req.DropID, "completePurchase", struct {
		UserID string `json:"userId"`
		Token  string `json:"token"`
	}{UserID: userID, Token: req.Token})
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// RpcGetDropState is a pure read of a drop's public projection (spec.md
// §4.1 getState).
func RpcGetDropState(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req struct {
		DropID string `json:"dropId"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.DropID == "" {
		return "", dropserr.ErrInvalidInput
	}
	result, err := signalDrop(ctx, nk, req.DropID, "getState", struct{}{})
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// RpcGetLotteryProof exposes the commitment pre-lottery and the full
// proof after (spec.md §4.1 getLotteryProof).
func RpcGetLotteryProof(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req struct {
		DropID string `json:"dropId"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.DropID == "" {
		return "", dropserr.ErrInvalidInput
	}
	result, err := signalDrop(ctx, nk, req.DropID, "getLotteryProof", struct{}{})
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// RpcGetInclusionProof returns one user's Merkle inclusion proof (spec.md
// §4.1 getInclusionProof).
func RpcGetInclusionProof(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return "", err
	}
	var req struct {
		DropID string `json:"dropId"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.DropID == "" {
		return "", dropserr.ErrInvalidInput
	}
	result, err := signalDrop(ctx, nk, req.DropID, "getInclusionProof", struct {
		UserID string `json:"userId"`
	}{UserID: userID})
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// RpcListDrops enumerates active drops (spec.md §6 "Drop index listing
// enumerates drops-index keys").
func RpcListDrops(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	entries, err := dropsindex.List(ctx, nk)
	if err != nil {
		return "", dropserr.ErrInternal
	}
	return marshalOrInternal(entries)
}

// RpcAdminPromoteBackup is the administrative promotion override
// (spec.md §4.1 promoteBackup), gated to members of the configured admin
// group (SPEC_FULL.md §5 admin RPCs).
func RpcAdminPromoteBackup(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	if err := requireAdmin(ctx, nk); err != nil {
		return "", err
	}
	var req struct {
		DropID string `json:"dropId"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.DropID == "" {
		return "", dropserr.ErrInvalidInput
	}
	result, err := signalDrop(ctx, nk, req.DropID, "promoteBackup", struct{}{})
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// RpcAdminClosePurchaseWindow force-closes a drop's purchase window
// (spec.md §4.1 closePurchaseWindow), gated the same way as
// RpcAdminPromoteBackup (SPEC_FULL.md §5 admin RPCs). Normally this
// handler only runs off the drop's own scheduled-task timer; this is the
// operator override for ending a sale early.
func RpcAdminClosePurchaseWindow(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	if err := requireAdmin(ctx, nk); err != nil {
		return "", err
	}
	var req struct {
		DropID string `json:"dropId"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.DropID == "" {
		return "", dropserr.ErrInvalidInput
	}
	result, err := signalDrop(ctx, nk, req.DropID, "closePurchaseWindow", struct{}{})
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// RpcGetQueueStats exposes QueueAdmission.getQueueStats (spec.md §6;
// SPEC_FULL.md §5 get_queue_stats).
func RpcGetQueueStats(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req struct {
		DropID string `json:"dropId"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.DropID == "" {
		return "", dropserr.ErrInvalidInput
	}
	cfgResult, err := fetchConfig(ctx, nk, req.DropID)
	if err != nil {
		return "", err
	}
	stats, err := queue.GetQueueStats(ctx, nk, req.DropID, cfgResult.Queue.IssueRate)
	if err != nil {
		return "", err
	}
	return marshalOrInternal(stats)
}

// RpcGetRolloverBalance returns the caller's own cross-drop rollover
// balance (spec.md §4.6 getBalance).
func RpcGetRolloverBalance(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return "", err
	}
	balance, err := rollover.GetBalance(ctx, nk, userID)
	if err != nil {
		return "", dropserr.ErrInternal
	}
	return marshalOrInternal(struct {
		Balance int64 `json:"balance"`
	}{Balance: balance})
}

// RpcAdminSetRolloverBalance is the administrative override of a user's
// rollover balance (spec.md §4.6 setBalance), gated the same way as the
// other admin RPCs.
func RpcAdminSetRolloverBalance(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	if err := requireAdmin(ctx, nk); err != nil {
		return "", err
	}
	var req struct {
		UserID  string `json:"userId"`
		Balance int64  `json:"balance"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.UserID == "" {
		return "", dropserr.ErrInvalidInput
	}
	if err := rollover.SetBalance(ctx, nk, req.UserID, req.Balance); err != nil {
		return "", dropserr.ErrInternal
	}
	balance, err := rollover.GetBalance(ctx, nk, req.UserID)
	if err != nil {
		return "", dropserr.ErrInternal
	}
	return marshalOrInternal(struct {
		UserID  string `json:"userId"`
		Balance int64  `json:"balance"`
	}{UserID: req.UserID, Balance: balance})
}

func fetchConfig(ctx context.Context, nk runtime.NakamaModule, dropID string) (drop.ConfigResult, error) {
	raw, err := signalDrop(ctx, nk, dropID, "getConfig", struct{}{})
	if err != nil {
		return drop.ConfigResult{}, err
	}
	var cfg drop.ConfigResult
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return drop.ConfigResult{}, dropserr.ErrUnmarshal
	}
	return cfg, nil
}
