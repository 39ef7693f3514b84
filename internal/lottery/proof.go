package lottery

import (
	"encoding/hex"
	"fmt"
)

// Proof is the verifiable lottery result (spec.md §3 "Lottery Proof",
// §6 "Lottery proof JSON"). Field order is the struct's declared order,
// which is what makes the JSON encoding stable — encoding/json marshals
// struct fields in declaration order, unlike the sorted-map
// canonicalization used for leaf hashing.
type Proof struct {
	Commitment            string   `json:"commitment"`
	Secret                string   `json:"secret"`
	ParticipantMerkleRoot string   `json:"participantMerkleRoot"`
	ParticipantCount      int      `json:"participantCount"`
	Seed                  string   `json:"seed"`
	Algorithm             string   `json:"algorithm"`
	Timestamp             int64    `json:"timestamp"`
	Winners               []string `json:"winners"`
	BackupWinners         []string `json:"backupWinners"`
}

// Run executes the full verifiable lottery: build the Merkle tree over
// participantTickets/participantMultipliers, derive the seed from the
// revealed secret, and draw totalSelected winners+backups (spec.md §4.1
// runLottery, §4.2).
func Run(secretHex string, participantTickets map[string]int64, participantMultipliers map[string]float64, inventory int, backupMultiplier float64, now int64) (*Tree, Proof, error) {
	tree, err := BuildTree(participantTickets, participantMultipliers)
	if err != nil {
		return nil, Proof{}, fmt.Errorf("build merkle tree: %w", err)
	}

	participantCount := len(tree.Leaves)
	primary, total := PrimaryAndTotalCounts(inventory, participantCount, backupMultiplier)

	root := tree.Root()
	rootHex := hex.EncodeToString(root[:])
	seed := Seed(secretHex, rootHex)

	selection := Select(tree.Leaves, seed, primary, total)

	proof := Proof{
		Commitment:            Commitment(secretHex),
		Secret:                secretHex,
		ParticipantMerkleRoot: rootHex,
		ParticipantCount:      participantCount,
		Seed:                  seed,
		Algorithm:             Algorithm,
		Timestamp:             now,
		Winners:               selection.Winners,
		BackupWinners:         selection.BackupWinners,
	}
	return tree, proof, nil
}

// Verify re-derives everything a third party can check without trusting
// the coordinator: the commitment binds the secret, the Merkle root binds
// the participant set, and replaying the Fenwick draw from the revealed
// seed must reproduce the same winners+backups (spec.md §4.2
// "Verification by a third party", §8 properties 2-4).
func Verify(proof Proof, participantTickets map[string]int64, participantMultipliers map[string]float64, inventory int, backupMultiplier float64) (bool, error) {
	if Commitment(proof.Secret) != proof.Commitment {
		return false, fmt.Errorf("secret does not match commitment")
	}

	tree, err := BuildTree(participantTickets, participantMultipliers)
	if err != nil {
		return false, fmt.Errorf("rebuild merkle tree: %w", err)
	}
	root := tree.Root()
	rootHex := hex.EncodeToString(root[:])
	if rootHex != proof.ParticipantMerkleRoot {
		return false, fmt.Errorf("merkle root mismatch")
	}

	expectedSeed := Seed(proof.Secret, rootHex)
	if expectedSeed != proof.Seed {
		return false, fmt.Errorf("seed mismatch")
	}

	primary, total := PrimaryAndTotalCounts(inventory, len(tree.Leaves), backupMultiplier)
	selection := Select(tree.Leaves, proof.Seed, primary, total)

	if !stringSlicesEqual(selection.Winners, proof.Winners) {
		return false, fmt.Errorf("winners mismatch on replay")
	}
	if !stringSlicesEqual(selection.BackupWinners, proof.BackupWinners) {
		return false, fmt.Errorf("backup winners mismatch on replay")
	}
	return true, nil
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
