// Package lottery implements the verifiable weighted lottery from spec.md
// §4.2: commit-reveal secret, a Merkle tree over weighted participants,
// Fenwick-tree weighted sampling without replacement, and per-user
// inclusion proofs.
package lottery

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
)

// Algorithm is the tag recorded in every lottery proof (spec.md §3, §4.2
// step 6).
const Algorithm = "weighted-fenwick-v2"

// NewSecret generates a fresh 32-byte commit-reveal secret and its
// SHA256 commitment, both hex-encoded.
func NewSecret() (secretHex, commitmentHex string, err error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}
	secretHex = hex.EncodeToString(secret)
	commitmentHex = Commitment(secretHex)
	return secretHex, commitmentHex, nil
}

// Commitment returns SHA256(secretHex) hex-encoded — the binding spec.md
// §8 property 2 asserts.
func Commitment(secretHex string) string {
	sum := sha256.Sum256([]byte(secretHex))
	return hex.EncodeToString(sum[:])
}

// Seed derives the deterministic draw seed from the revealed secret and
// the Merkle root (spec.md §4.2 step 4).
func Seed(secretHex, merkleRootHex string) string {
	sum := sha256.Sum256([]byte(secretHex + merkleRootHex))
	return hex.EncodeToString(sum[:])
}

// rand64 derives the draw-th pseudo-random 64-bit value from seed via a
// SHA256 stream keyed by seed with the round counter mixed in (spec.md
// §4.2 step 5a).
func rand64(seedHex string, draw int) uint64 {
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(draw))
	h := sha256.New()
	h.Write([]byte(seedHex))
	h.Write(counter[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// Selection is the result of running the weighted draw: the first
// primaryCount entries are winners, the rest are backups, both in draw
// order.
type Selection struct {
	Winners      []string
	BackupWinners []string
}

// Select draws totalSelected distinct participants from leaves (already
// canonically ordered by BuildTree) weighted by EffectiveTickets, using
// the Fenwick-tree sampler described in spec.md §4.2 step 5, then splits
// the draw order into primaryCount winners and the remainder as backups.
//
// If totalSelected >= len(leaves), every participant is selected in
// canonical order (spec.md §4.2 step 5, "If k > participantCount"). An
// empty leaf set returns an empty selection.
func Select(leaves []Leaf, seedHex string, primaryCount, totalSelected int) Selection {
	n := len(leaves)
	if n == 0 {
		return Selection{}
	}
	if totalSelected >= n {
		order := make([]string, n)
		for i, l := range leaves {
			order[i] = l.UserID
		}
		return splitSelection(order, primaryCount)
	}

	weights := make([]int64, n)
	for i, l := range leaves {
		weights[i] = l.EffectiveTickets
	}
	tree := newFenwick(weights)

	drawn := make([]string, 0, totalSelected)
	for draw := 0; draw < totalSelected; draw++ {
		currentTotal := tree.total()
		if currentTotal <= 0 {
			// All remaining weights are zero: fall back to canonical
			// order among whatever participants have not been drawn yet.
			drawn = append(drawn, remainingInOrder(leaves, drawn, totalSelected-len(drawn))...)
			break
		}
		r := int64(rand64(seedHex, draw) % uint64(currentTotal))
		idx := tree.findFirstPrefixSumGreaterThan(r)
		drawn = append(drawn, leaves[idx].UserID)
		tree.update(idx, -weights[idx])
		weights[idx] = 0
	}

	return splitSelection(drawn, primaryCount)
}

func splitSelection(order []string, primaryCount int) Selection {
	if primaryCount > len(order) {
		primaryCount = len(order)
	}
	sel := Selection{
		Winners:       append([]string{}, order[:primaryCount]...),
		BackupWinners: append([]string{}, order[primaryCount:]...),
	}
	return sel
}

func remainingInOrder(leaves []Leaf, already []string, need int) []string {
	taken := make(map[string]bool, len(already))
	for _, u := range already {
		taken[u] = true
	}
	out := make([]string, 0, need)
	ordered := make([]Leaf, len(leaves))
	copy(ordered, leaves)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].UserID < ordered[j].UserID })
	for _, l := range ordered {
		if len(out) >= need {
			break
		}
		if !taken[l.UserID] {
			out = append(out, l.UserID)
		}
	}
	return out
}

// PrimaryAndTotalCounts computes primaryWinners and totalSelected from
// inventory, participant count, and the backup multiplier (spec.md §4.1
// runLottery).
func PrimaryAndTotalCounts(inventory, participantCount int, backupMultiplier float64) (primary, total int) {
	primary = minInt(inventory, participantCount)
	total = minInt(ceilFloat(float64(primary)*backupMultiplier), participantCount)
	return
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func ceilFloat(f float64) int {
	i := int(f)
	if float64(i) < f {
		i++
	}
	return i
}
