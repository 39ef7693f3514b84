package drop

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/flashgrid/dropcoordinator/internal/config"
	"github.com/flashgrid/dropcoordinator/internal/dropserr"
	"github.com/flashgrid/dropcoordinator/internal/dropsindex"
	"github.com/flashgrid/dropcoordinator/internal/geo"
	"github.com/flashgrid/dropcoordinator/internal/loyalty"
	"github.com/flashgrid/dropcoordinator/internal/lottery"
	"github.com/flashgrid/dropcoordinator/internal/notify"
	"github.com/flashgrid/dropcoordinator/internal/obslog"
	"github.com/flashgrid/dropcoordinator/internal/participant"
	"github.com/flashgrid/dropcoordinator/internal/pushnotify"
	"github.com/flashgrid/dropcoordinator/internal/queue"
	"github.com/flashgrid/dropcoordinator/internal/rollover"
	"github.com/flashgrid/dropcoordinator/internal/token"
)

// deps bundles the collaborators every handler needs, so the Match
// wrapper in match.go builds this once per signal rather than threading
// five parameters through every call.
type deps struct {
	ctx        context.Context
	logger     runtime.Logger
	nk         runtime.NakamaModule
	dispatcher notify.Dispatcher
	now        time.Time
}

// InitResult is the result of initialize (spec.md §4.1).
type InitResult struct {
	DropID     string `json:"dropId"`
	Commitment string `json:"commitment"`
}

// handleInitialize is idempotent: a state already carrying a commitment
// just returns it (spec.md §4.1 initialize, "Idempotent. If state
// already exists, returns existing commitment").
func handleInitialize(d deps, s *State, cfg config.DropConfig) (InitResult, error) {
	if s.LotteryCommitment != "" {
		return InitResult{DropID: s.DropID, Commitment: s.LotteryCommitment}, nil
	}

	if cfg.GeoFence != nil {
		if !geo.ValidRadius(cfg.GeoFence.RadiusMeters, cfg.MinGeoRadiusMeters, cfg.MaxGeoRadiusMeters) {
			return InitResult{}, dropserr.ErrInvalidGeoRadius
		}
	}
	cfg.ApplyDefaults()

	secretHex, commitmentHex, err := lottery.NewSecret()
	if err != nil {
		return InitResult{}, fmt.Errorf("generate lottery secret: %w", err)
	}

	s.Cfg = cfg
	s.Phase = PhaseRegistration
	s.Inventory = cfg.Inventory
	s.InitialInventory = cfg.Inventory
	s.LotterySecret = secretHex
	s.LotteryCommitment = commitmentHex
	s.CreatedAtMs = d.now.UnixMilli()

	if err := dropsindex.Upsert(d.ctx, d.nk, dropsindex.Entry{
		DropID:          s.DropID,
		Phase:           s.Phase,
		RegistrationEnd: cfg.RegistrationEnd,
	}); err != nil {
		obslog.Error(d.ctx, d.logger, "upsert drops index on initialize", err)
	}

	publishState(d, s)

	delay := cfg.RegistrationEnd - d.now.UnixMilli()
	if delay < 0 {
		delay = 0
	}
	s.scheduleAt(d.now.UnixMilli()+delay, TaskRunLottery, "")

	if cfg.Queue.Enabled && cfg.Queue.IssueRate > 0 {
		s.scheduleAt(d.now.UnixMilli()+admissionLoopIntervalMs(cfg.Queue.IssueRate), TaskRunAdmissionLoop, "")
	}

	return InitResult{DropID: s.DropID, Commitment: s.LotteryCommitment}, nil
}

// admissionLoopIntervalMs is the admission loop's tick period, "1/issueRate"
// per spec.md §4.3.
func admissionLoopIntervalMs(issueRate float64) int64 {
	return int64(1000.0 / issueRate)
}

// RegisterRequest carries the client-facing input to register (spec.md
// §4.1 register).
type RegisterRequest struct {
	UserID          string
	DesiredTickets  int64
	Location        *geo.Point
}

// RegisterResult mirrors spec.md §4.1 register's declared result fields.
type RegisterResult struct {
	ParticipantCount  int     `json:"participantCount"`
	TotalTickets      int64   `json:"totalTickets"`
	UserTickets       int64   `json:"userTickets"`
	EffectiveTickets  int64   `json:"effectiveTickets"`
	Position          int     `json:"position"`
	RolloverUsed      int64   `json:"rolloverUsed"`
	PaidEntries       int64   `json:"paidEntries"`
	LoyaltyTier       string  `json:"loyaltyTier"`
	LoyaltyMultiplier float64 `json:"loyaltyMultiplier"`
	GeoBonus          float64 `json:"geoBonus"`
	InGeoZone         bool    `json:"inGeoZone"`
}

func handleRegister(d deps, s *State, req RegisterRequest) (RegisterResult, error) {
	if s.Phase != PhaseRegistration {
		return RegisterResult{}, dropserr.ErrWrongPhase
	}
	if d.now.UnixMilli() < s.Cfg.RegistrationStart || d.now.UnixMilli() >= s.Cfg.RegistrationEnd {
		return RegisterResult{}, dropserr.ErrRegistrationClosed
	}
	if s.isRegistered(req.UserID) {
		return RegisterResult{}, dropserr.ErrAlreadyRegistered
	}

	geoOut := evaluateGeoFence(s.Cfg.GeoFence, req.Location)
	if s.Cfg.GeoFence != nil && s.Cfg.GeoFence.Mode == config.GeoModeExclusive {
		if geoOut.Required && req.Location == nil {
			return RegisterResult{}, dropserr.ErrLocationRequired
		}
		if !geoOut.Satisfied {
			return RegisterResult{}, dropserr.ErrOutsideGeoFence
		}
	}

	desired := clampTickets(req.DesiredTickets, s.Cfg.MaxTicketsPerUser)

	rolloverUsed, _, err := rollover.ConsumeRollover(d.ctx, d.nk, req.UserID, desired)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("consume rollover: %w", err)
	}
	alloc := computeAllocation(desired, rolloverUsed)

	loyaltyTier, loyaltyMultiplier, err := loyalty.GetMultiplier(d.ctx, d.nk, req.UserID, s.Cfg.Loyalty)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("fetch loyalty multiplier: %w", err)
	}

	combinedMultiplier := loyaltyMultiplier * geoOut.Bonus
	effTickets := effectiveTickets(alloc.ActualTickets, combinedMultiplier)

	s.ParticipantTickets[req.UserID] = alloc.ActualTickets
	s.ParticipantMultipliers[req.UserID] = combinedMultiplier
	s.ParticipantPaidEntries[req.UserID] = alloc.PaidEntries
	s.RegistrationOrder = append(s.RegistrationOrder, req.UserID)
	position := len(s.RegistrationOrder)

	if err := participant.SetRegistered(d.ctx, d.nk, s.DropID, req.UserID, position, alloc.ActualTickets, effTickets, alloc.RolloverUsed, alloc.PaidEntries, loyaltyTier, loyaltyMultiplier); err != nil {
		obslog.Error(d.ctx, d.logger, "setRegistered fire-and-forget failed", err)
	}

	publishState(d, s)

	return RegisterResult{
		ParticipantCount:  s.participantCount(),
		TotalTickets:      s.totalTickets(),
		UserTickets:       alloc.ActualTickets,
		EffectiveTickets:  effTickets,
		Position:          position,
		RolloverUsed:      alloc.RolloverUsed,
		PaidEntries:       alloc.PaidEntries,
		LoyaltyTier:       loyaltyTier,
		LoyaltyMultiplier: loyaltyMultiplier,
		GeoBonus:          geoOut.Bonus,
		InGeoZone:         geoOut.InGeoZone,
	}, nil
}

// RunLotteryResult mirrors spec.md §4.1 runLottery's declared result.
type RunLotteryResult struct {
	ParticipantCount int      `json:"participantCount"`
	Winners          []string `json:"winners"`
	BackupWinners    []string `json:"backupWinners"`
}

func handleRunLottery(d deps, s *State) (RunLotteryResult, error) {
	if s.Phase != PhaseRegistration {
		return RunLotteryResult{
			ParticipantCount: s.participantCount(),
			Winners:          s.Winners,
			BackupWinners:    s.BackupWinners,
		}, nil
	}

	s.Phase = PhaseLottery

	_, proof, err := lottery.Run(s.LotterySecret, s.ParticipantTickets, s.ParticipantMultipliers, s.Inventory, s.Cfg.BackupMultiplier, d.now.UnixMilli())
	if err != nil {
		return RunLotteryResult{}, fmt.Errorf("run lottery: %w", err)
	}
	s.LotteryProof = &proof
	s.Winners = proof.Winners
	s.BackupWinners = proof.BackupWinners

	s.PurchaseEndMs = d.now.UnixMilli() + s.Cfg.PurchaseWindowSec*1000
	s.Phase = PhasePurchase

	losers := losersOf(s.RegistrationOrder, s.Winners, s.BackupWinners)
	for i, uid := range s.Winners {
		if err := participant.NotifyResult(d.ctx, d.nk, s.DropID, uid, true, i+1); err != nil {
			obslog.Error(d.ctx, d.logger, "notifyResult(winner) failed", err)
		}
		if err := pushnotify.Winner(d.ctx, d.nk, uid, s.DropID, i+1); err != nil {
			obslog.Error(d.ctx, d.logger, "push winner notification failed", err)
		}
		publishParticipant(d, s, uid, participant.StatusWinner)
	}
	for i, uid := range s.BackupWinners {
		if err := participant.NotifyBackup(d.ctx, d.nk, s.DropID, uid, i+1, len(s.BackupWinners)); err != nil {
			obslog.Error(d.ctx, d.logger, "notifyBackup failed", err)
		}
		if err := pushnotify.Backup(d.ctx, d.nk, uid, s.DropID, i+1, len(s.BackupWinners)); err != nil {
			obslog.Error(d.ctx, d.logger, "push backup notification failed", err)
		}
		publishParticipant(d, s, uid, participant.StatusBackup)
	}
	for _, uid := range losers {
		if err := participant.NotifyResult(d.ctx, d.nk, s.DropID, uid, false, 0); err != nil {
			obslog.Error(d.ctx, d.logger, "notifyResult(loser) failed", err)
		}
		if err := pushnotify.Loser(d.ctx, d.nk, uid, s.DropID); err != nil {
			obslog.Error(d.ctx, d.logger, "push loser notification failed", err)
		}
		if paid := s.ParticipantPaidEntries[uid]; paid > 0 {
			if _, _, err := rollover.AddRollover(d.ctx, d.nk, uid, paid, s.Cfg.RolloverCap); err != nil {
				obslog.Error(d.ctx, d.logger, "addRollover for losing paid entries failed", err)
			}
		}
		publishParticipant(d, s, uid, participant.StatusLoser)
	}
	for _, uid := range s.RegistrationOrder {
		if err := loyalty.RecordParticipation(d.ctx, d.nk, uid, s.DropID); err != nil {
			obslog.Error(d.ctx, d.logger, "recordParticipation failed", err)
		}
	}

	s.scheduleAt(s.PurchaseEndMs, TaskClosePurchaseWindow, "")
	publishState(d, s)

	return RunLotteryResult{
		ParticipantCount: s.participantCount(),
		Winners:          s.Winners,
		BackupWinners:    s.BackupWinners,
	}, nil
}

// StartPurchaseResult mirrors spec.md §4.1 startPurchase's result.
type StartPurchaseResult struct {
	PurchaseToken string `json:"purchaseToken"`
	ExpiresAt     int64  `json:"expiresAt"`
}

func handleStartPurchase(d deps, s *State, userID string) (StartPurchaseResult, error) {
	if s.Phase != PhasePurchase {
		return StartPurchaseResult{}, dropserr.ErrWrongPhase
	}
	if !contains(s.Winners, userID) {
		return StartPurchaseResult{}, dropserr.ErrNotAWinner
	}
	if s.Inventory <= 0 {
		return StartPurchaseResult{}, dropserr.ErrInventoryDepleted
	}

	expiresAtMs := s.PurchaseEndMs
	fresh := d.now.UnixMilli() + s.Cfg.PurchaseWindowSec*1000
	if fresh < expiresAtMs {
		expiresAtMs = fresh
	}
	expiresAt := time.UnixMilli(expiresAtMs)

	tok, err := token.Mint(s.Cfg.PurchaseTokenHMACKey, s.DropID, userID, expiresAt)
	if err != nil {
		return StartPurchaseResult{}, fmt.Errorf("mint purchase token: %w", err)
	}
	if err := participant.SetToken(d.ctx, d.nk, s.DropID, userID, tok, expiresAt); err != nil {
		return StartPurchaseResult{}, fmt.Errorf("set participant token: %w", err)
	}
	publishParticipant(d, s, userID, participant.StatusWinner)

	s.scheduleAt(expiresAtMs, TaskCheckWinnerExpiry, userID)

	return StartPurchaseResult{PurchaseToken: tok, ExpiresAt: expiresAtMs}, nil
}

// CompletePurchaseResult mirrors spec.md §4.1 completePurchase's result.
type CompletePurchaseResult struct {
	Inventory int    `json:"inventory"`
	Phase     string `json:"phase"`
}

func handleCompletePurchase(d deps, s *State, userID, presentedToken string) (CompletePurchaseResult, error) {
	if s.Phase != PhasePurchase {
		return CompletePurchaseResult{}, dropserr.ErrWrongPhase
	}
	if s.Inventory <= 0 {
		return CompletePurchaseResult{}, dropserr.ErrInventoryDepleted
	}

	if err := participant.CompletePurchase(d.ctx, d.nk, s.DropID, userID, presentedToken, s.Cfg.PurchaseTokenHMACKey, d.now); err != nil {
		return CompletePurchaseResult{}, err
	}

	s.Inventory--
	if s.Inventory == 0 {
		s.Phase = PhaseCompleted
		if err := dropsindex.Delete(d.ctx, d.nk, s.DropID); err != nil {
			obslog.Error(d.ctx, d.logger, "delete drops index on sellout", err)
		}
	}
	publishState(d, s)

	return CompletePurchaseResult{Inventory: s.Inventory, Phase: s.Phase}, nil
}

// CheckWinnerExpiryResult mirrors spec.md §4.1 checkWinnerExpiry's
// result.
type CheckWinnerExpiryResult struct {
	Expired  bool   `json:"expired"`
	Promoted string `json:"promoted,omitempty"`
}

func handleCheckWinnerExpiry(d deps, s *State, userID string) (CheckWinnerExpiryResult, error) {
	if s.Phase != PhasePurchase || !contains(s.Winners, userID) {
		return CheckWinnerExpiryResult{}, nil
	}

	st, err := participant.GetState(d.ctx, d.nk, s.DropID, userID)
	if err != nil {
		return CheckWinnerExpiryResult{}, fmt.Errorf("fetch participant state: %w", err)
	}
	if st.Status == participant.StatusPurchased {
		return CheckWinnerExpiryResult{}, nil
	}

	s.Winners = removeFirst(s.Winners, userID)
	s.ExpiredWinners = append(s.ExpiredWinners, userID)
	if err := participant.NotifyExpiry(d.ctx, d.nk, s.DropID, userID); err != nil {
		obslog.Error(d.ctx, d.logger, "notifyExpiry failed", err)
	}
	if err := pushnotify.Expiry(d.ctx, d.nk, userID, s.DropID); err != nil {
		obslog.Error(d.ctx, d.logger, "push expiry notification failed", err)
	}
	publishParticipant(d, s, userID, participant.StatusExpired)

	result := CheckWinnerExpiryResult{Expired: true}
	if promoted, ok := tryPromote(d, s); ok {
		result.Promoted = promoted
	}
	publishState(d, s)
	return result, nil
}

// tryPromote pops the next backup into winners if inventory remains,
// shared by checkWinnerExpiry and the administrative promoteBackup
// (spec.md §4.1: "same promotion rules as in expiry").
func tryPromote(d deps, s *State) (string, bool) {
	if s.Inventory <= 0 {
		return "", false
	}
	promoted, rest, ok := promoteHead(s.BackupWinners)
	if !ok {
		return "", false
	}
	s.BackupWinners = rest
	s.Winners = append(s.Winners, promoted)

	if err := participant.NotifyPromotion(d.ctx, d.nk, s.DropID, promoted); err != nil {
		obslog.Error(d.ctx, d.logger, "notifyPromotion failed", err)
	}
	if err := pushnotify.Promotion(d.ctx, d.nk, promoted, s.DropID); err != nil {
		obslog.Error(d.ctx, d.logger, "push promotion notification failed", err)
	}
	if _, err := handleStartPurchase(d, s, promoted); err != nil {
		obslog.Error(d.ctx, d.logger, "startPurchase for promoted backup failed", err)
	}
	return promoted, true
}

// ClosePurchaseWindowResult mirrors spec.md §4.1 closePurchaseWindow's
// result.
type ClosePurchaseWindowResult struct {
	Phase string `json:"phase"`
}

func handleClosePurchaseWindow(d deps, s *State) (ClosePurchaseWindowResult, error) {
	if s.Phase != PhasePurchase {
		return ClosePurchaseWindowResult{Phase: s.Phase}, nil
	}
	s.Phase = PhaseCompleted
	if err := dropsindex.Delete(d.ctx, d.nk, s.DropID); err != nil {
		obslog.Error(d.ctx, d.logger, "delete drops index on window close", err)
	}
	publishState(d, s)
	return ClosePurchaseWindowResult{Phase: s.Phase}, nil
}

// PromoteBackupResult mirrors the administrative promoteBackup result.
type PromoteBackupResult struct {
	Promoted string `json:"promoted,omitempty"`
}

func handlePromoteBackup(d deps, s *State) (PromoteBackupResult, error) {
	if s.Phase != PhasePurchase {
		return PromoteBackupResult{}, dropserr.ErrWrongPhase
	}
	promoted, ok := tryPromote(d, s)
	if !ok {
		return PromoteBackupResult{}, nil
	}
	publishState(d, s)
	return PromoteBackupResult{Promoted: promoted}, nil
}

// LotteryProofResult mirrors spec.md §4.1 getLotteryProof's result.
type LotteryProofResult struct {
	Commitment string         `json:"commitment"`
	Proof      *lottery.Proof `json:"proof,omitempty"`
}

func handleGetLotteryProof(s *State) LotteryProofResult {
	if s.Phase == PhaseRegistration || s.LotteryProof == nil {
		return LotteryProofResult{Commitment: s.LotteryCommitment}
	}
	return LotteryProofResult{Commitment: s.LotteryCommitment, Proof: s.LotteryProof}
}

// InclusionProofResult mirrors spec.md §4.1 getInclusionProof's result.
type InclusionProofResult struct {
	Leaf       lottery.Leaf        `json:"leaf"`
	LeafHash   string               `json:"leafHash"`
	Proof      []lottery.ProofStep `json:"proof"`
	MerkleRoot string               `json:"merkleRoot"`
	Verified   bool                 `json:"verified"`
}

func handleGetInclusionProof(s *State, userID string) (InclusionProofResult, error) {
	if s.Phase == PhaseRegistration {
		return InclusionProofResult{}, dropserr.ErrWrongPhase
	}
	tree, err := lottery.BuildTree(s.ParticipantTickets, s.ParticipantMultipliers)
	if err != nil {
		return InclusionProofResult{}, fmt.Errorf("rebuild merkle tree: %w", err)
	}

	idx := -1
	for i, leaf := range tree.Leaves {
		if leaf.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return InclusionProofResult{}, dropserr.ErrInvalidInput
	}

	leaf := tree.Leaves[idx]
	leafHash, err := lottery.LeafHash(leaf)
	if err != nil {
		return InclusionProofResult{}, fmt.Errorf("hash leaf: %w", err)
	}
	proof, err := tree.InclusionProof(idx)
	if err != nil {
		return InclusionProofResult{}, fmt.Errorf("build inclusion proof: %w", err)
	}
	root := tree.Root()
	verified := lottery.VerifyInclusion(leafHash, proof, root)

	return InclusionProofResult{
		Leaf:       leaf,
		LeafHash:   hex.EncodeToString(leafHash[:]),
		Proof:      proof,
		MerkleRoot: hex.EncodeToString(root[:]),
		Verified:   verified,
	}, nil
}

// StateProjection is the public read model for getState (spec.md §4.1
// getState, §6 drop-state event field set).
type StateProjection struct {
	DropID            string   `json:"dropId"`
	Phase             string   `json:"phase"`
	ParticipantCount  int      `json:"participantCount"`
	TotalTickets      int64    `json:"totalTickets"`
	Inventory         int      `json:"inventory"`
	InitialInventory  int      `json:"initialInventory"`
	RegistrationEnd   int64    `json:"registrationEnd"`
	PurchaseEnd       int64    `json:"purchaseEnd,omitempty"`
	Winners           []string `json:"winners,omitempty"`
	BackupWinners     []string `json:"backupWinners,omitempty"`
	ExpiredWinners    []string `json:"expiredWinners,omitempty"`
	LotteryCommitment string   `json:"lotteryCommitment,omitempty"`
}

// ConfigResult is the safe-to-expose subset of a drop's configuration —
// the RPC layer needs the queue/trust parameters to gate registration
// before ever calling into the match, but must never see the purchase
// token HMAC key.
type ConfigResult struct {
	Queue      config.QueueConfig `json:"queue"`
	Trust      config.TrustConfig `json:"trust"`
	IPHashSalt string             `json:"ipHashSalt"`
}

func handleGetConfig(s *State) ConfigResult {
	return ConfigResult{Queue: s.Cfg.Queue, Trust: s.Cfg.Trust, IPHashSalt: s.Cfg.IPHashSalt}
}

func handleGetState(s *State) StateProjection {
	return StateProjection{
		DropID:            s.DropID,
		Phase:             s.Phase,
		ParticipantCount:  s.participantCount(),
		TotalTickets:      s.totalTickets(),
		Inventory:         s.Inventory,
		InitialInventory:  s.InitialInventory,
		RegistrationEnd:   s.Cfg.RegistrationEnd,
		PurchaseEnd:       s.PurchaseEndMs,
		Winners:           s.Winners,
		BackupWinners:     s.BackupWinners,
		ExpiredWinners:    s.ExpiredWinners,
		LotteryCommitment: s.LotteryCommitment,
	}
}

// publishParticipant broadcasts a single participant's status change to
// every presence joined to the drop's match stream, the dispatcher-based
// counterpart to pushnotify's offline delivery (spec.md §6 event surface).
func publishParticipant(d deps, s *State, userID, status string) {
	if d.dispatcher == nil {
		return
	}
	ev := notify.ParticipantEvent{Type: "participant", DropID: s.DropID, UserID: userID, Status: status}
	if err := notify.PublishParticipantEvent(d.dispatcher, ev); err != nil {
		obslog.WithDrop(d.logger, s.DropID, "warn", "publish participant event failed", map[string]interface{}{"error": err.Error(), "userId": userID})
	}
}

func publishState(d deps, s *State) {
	if d.dispatcher == nil {
		return
	}
	ev := notify.DropEvent{
		Type:              "drop",
		DropID:            s.DropID,
		Phase:             s.Phase,
		ParticipantCount:  s.participantCount(),
		TotalTickets:      s.totalTickets(),
		Inventory:         s.Inventory,
		InitialInventory:  s.InitialInventory,
		RegistrationEnd:   s.Cfg.RegistrationEnd,
		PurchaseEnd:       s.PurchaseEndMs,
		ServerTime:        d.now.UnixMilli(),
		LotteryCommitment: s.LotteryCommitment,
	}
	if err := notify.PublishDropEvent(d.dispatcher, ev); err != nil {
		obslog.WithDrop(d.logger, s.DropID, "warn", "publish drop state failed", map[string]interface{}{"error": err.Error()})
	}
}

// runDueTasks executes every scheduled task whose deadline has passed,
// the MatchLoop tick's substitute for a literal delayed-send primitive
// (spec.md §5, §4.1 scheduling).
func runDueTasks(d deps, s *State) {
	for _, task := range s.dueTasks(d.now.UnixMilli()) {
		switch task.Kind {
		case TaskRunLottery:
			if _, err := handleRunLottery(d, s); err != nil {
				obslog.Error(d.ctx, d.logger, "scheduled runLottery failed", err)
			}
		case TaskClosePurchaseWindow:
			if _, err := handleClosePurchaseWindow(d, s); err != nil {
				obslog.Error(d.ctx, d.logger, "scheduled closePurchaseWindow failed", err)
			}
		case TaskCheckWinnerExpiry:
			if _, err := handleCheckWinnerExpiry(d, s, task.UserID); err != nil {
				obslog.Error(d.ctx, d.logger, "scheduled checkWinnerExpiry failed", err)
			}
		case TaskRunAdmissionLoop:
			handleRunAdmissionLoop(d, s)
		}
	}
}

// handleRunAdmissionLoop promotes waiting admission-queue tokens and
// reschedules itself at the configured issue rate, for as long as
// registration is still open (spec.md §4.3 admissionLoop).
func handleRunAdmissionLoop(d deps, s *State) {
	if s.Phase != PhaseRegistration {
		return
	}
	if _, err := queue.RunAdmissionLoop(d.ctx, d.nk, s.Cfg.Queue, s.DropID, d.now); err != nil {
		obslog.Error(d.ctx, d.logger, "scheduled admissionLoop failed", err)
	}
	s.scheduleAt(d.now.UnixMilli()+admissionLoopIntervalMs(s.Cfg.Queue.IssueRate), TaskRunAdmissionLoop, "")
}
