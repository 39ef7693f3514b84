// Package drop implements the Drop virtual object (spec.md §4.1) as a
// Nakama match: one match instance per dropId, so Nakama's own
// single-goroutine-per-match execution model gives the single-writer
// guarantee the spec requires without a bespoke actor runtime.
package drop

import (
	"github.com/flashgrid/dropcoordinator/internal/config"
	"github.com/flashgrid/dropcoordinator/internal/lottery"
)

// Phase values, spec.md §4.1 phase graph:
// registration -> lottery -> purchase -> completed.
const (
	PhaseRegistration = "registration"
	PhaseLottery      = "lottery"
	PhasePurchase     = "purchase"
	PhaseCompleted    = "completed"
)

// Scheduled task kinds — the delayed self-sends from spec.md §4.1.
const (
	TaskRunLottery          = "runLottery"
	TaskClosePurchaseWindow = "closePurchaseWindow"
	TaskCheckWinnerExpiry   = "checkWinnerExpiry"
	TaskRunAdmissionLoop    = "runAdmissionLoop"
)

// scheduledTask is a due-deadline entry substituting for a literal
// delayed-send primitive: MatchLoop scans this list every tick and runs
// whatever has come due. The table lives in match memory with the rest of
// State; no handler writes State to storage, so a match restart starts
// from a fresh State and pending self-sends are not restored.
type scheduledTask struct {
	RunAtMs int64  `json:"runAtMs"`
	Kind    string `json:"kind"`
	UserID  string `json:"userId,omitempty"`
}

// State is the Drop match's persistent state, matching spec.md §3's
// Drop entity field-for-field.
type State struct {
	DropID string            `json:"dropId"`
	Cfg    config.DropConfig `json:"cfg"`

	Phase            string `json:"phase"`
	Inventory        int    `json:"inventory"`
	InitialInventory int    `json:"initialInventory"`

	ParticipantTickets     map[string]int64   `json:"participantTickets"`
	ParticipantMultipliers map[string]float64 `json:"participantMultipliers"`
	ParticipantPaidEntries map[string]int64   `json:"participantPaidEntries"`
	RegistrationOrder      []string           `json:"registrationOrder"`

	Winners        []string `json:"winners"`
	BackupWinners  []string `json:"backupWinners"`
	ExpiredWinners []string `json:"expiredWinners"`

	LotterySecret     string         `json:"lotterySecret,omitempty"`
	LotteryCommitment string         `json:"lotteryCommitment"`
	LotteryProof      *lottery.Proof `json:"lotteryProof,omitempty"`

	PurchaseEndMs int64 `json:"purchaseEndMs,omitempty"`
	CreatedAtMs   int64 `json:"createdAtMs"`

	Scheduled []scheduledTask `json:"scheduled"`
}

func newState(dropID string) *State {
	return &State{
		DropID:                 dropID,
		ParticipantTickets:     make(map[string]int64),
		ParticipantMultipliers: make(map[string]float64),
		ParticipantPaidEntries: make(map[string]int64),
	}
}

func (s *State) scheduleAt(runAtMs int64, kind, userID string) {
	s.Scheduled = append(s.Scheduled, scheduledTask{RunAtMs: runAtMs, Kind: kind, UserID: userID})
}

// dueTasks removes and returns every scheduled task whose deadline has
// passed, preserving the relative order of what remains.
func (s *State) dueTasks(nowMs int64) []scheduledTask {
	var due []scheduledTask
	var remaining []scheduledTask
	for _, t := range s.Scheduled {
		if t.RunAtMs <= nowMs {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	s.Scheduled = remaining
	return due
}

func (s *State) totalTickets() int64 {
	var total int64
	for _, t := range s.ParticipantTickets {
		total += t
	}
	return total
}

func (s *State) participantCount() int {
	return len(s.ParticipantTickets)
}

func (s *State) isRegistered(userID string) bool {
	_, ok := s.ParticipantTickets[userID]
	return ok
}
