// Command verify-proof re-derives a drop's lottery outcome from a
// published proof bundle without trusting the coordinator (spec.md §4.2
// "Verification by a third party"). It has no runtime.Logger to write to
// since it runs outside the Nakama process, so it logs through
// internal/obslog's zerolog fallback.
package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/flashgrid/dropcoordinator/internal/lottery"
	"github.com/flashgrid/dropcoordinator/internal/obslog"
)

// bundle is the JSON shape a caller hands verify-proof: the published
// proof plus the inputs needed to rebuild the Merkle tree it commits to.
type bundle struct {
	Proof                  lottery.Proof      `json:"proof"`
	ParticipantTickets     map[string]int64   `json:"participantTickets"`
	ParticipantMultipliers map[string]float64 `json:"participantMultipliers"`
	Inventory              int                `json:"inventory"`
	BackupMultiplier       float64            `json:"backupMultiplier"`
}

func main() {
	path := flag.String("bundle", "", "path to a proof bundle JSON file")
	flag.Parse()

	log := obslog.Fallback
	if *path == "" {
		log.Fatal().Msg("missing required -bundle flag")
	}

	raw, err := os.ReadFile(*path)
	if err != nil {
		log.Fatal().Err(err).Str("path", *path).Msg("read bundle")
	}

	var b bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		log.Fatal().Err(err).Msg("parse bundle")
	}

	ok, err := lottery.Verify(b.Proof, b.ParticipantTickets, b.ParticipantMultipliers, b.Inventory, b.BackupMultiplier)
	if err != nil {
		log.Error().Err(err).Msg("proof verification failed")
		os.Exit(1)
	}
	if !ok {
		log.Error().Msg("proof did not verify")
		os.Exit(1)
	}

	log.Info().
		Int("participantCount", b.Proof.ParticipantCount).
		Int("winners", len(b.Proof.Winners)).
		Int("backupWinners", len(b.Proof.BackupWinners)).
		Str("commitment", b.Proof.Commitment).
		Msg("proof verified")
}
