package lottery

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// merkleBatchThreshold is the participant count above which leaf hashing
// fans out across goroutines. Below it the overhead isn't worth paying.
const merkleBatchThreshold = 1024

// Leaf is one participant's committed weight, canonically ordered by
// UserID ascending with Index assigned in that order (spec.md §4.2 steps
// 1-2).
type Leaf struct {
	UserID           string `json:"userId"`
	EffectiveTickets int64  `json:"effectiveTickets"`
	Index            int    `json:"index"`
}

// CanonicalJSON serializes v with sorted object keys and no whitespace,
// the canonicalization spec.md §6 requires for hashing. Go's
// encoding/json already sorts map[string]T keys, so round-tripping
// through a map gives us canonical form without hand-rolling a encoder.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, err
	}
	return json.Marshal(asMap)
}

// LeafHash returns SHA256(CanonicalJSON(leaf)).
func LeafHash(leaf Leaf) ([32]byte, error) {
	canon, err := CanonicalJSON(leaf)
	if err != nil {
		return [32]byte{}, fmt.Errorf("canonicalize leaf: %w", err)
	}
	return sha256.Sum256(canon), nil
}

// Tree is a complete Merkle tree over ordered leaves, levels[0] = leaf
// hashes, levels[len-1] = the single root.
type Tree struct {
	Leaves []Leaf
	levels [][][32]byte
}

// BuildTree orders participants ascending by userID, assigns indices,
// hashes every leaf (fanned out via errgroup above merkleBatchThreshold),
// and folds them into internal nodes with the last node of an odd-length
// level duplicated (spec.md §4.2 step 3).
func BuildTree(participantTickets map[string]int64, participantMultipliers map[string]float64) (*Tree, error) {
	userIDs := make([]string, 0, len(participantTickets))
	for uid := range participantTickets {
		userIDs = append(userIDs, uid)
	}
	sort.Strings(userIDs)

	leaves := make([]Leaf, len(userIDs))
	for i, uid := range userIDs {
		mult := participantMultipliers[uid]
		if mult == 0 {
			mult = 1
		}
		leaves[i] = Leaf{
			UserID:           uid,
			EffectiveTickets: effectiveTickets(participantTickets[uid], mult),
			Index:            i,
		}
	}

	hashes := make([][32]byte, len(leaves))
	if len(leaves) > merkleBatchThreshold {
		const batchSize = 256
		g := new(errgroup.Group)
		for start := 0; start < len(leaves); start += batchSize {
			start := start
			end := start + batchSize
			if end > len(leaves) {
				end = len(leaves)
			}
			g.Go(func() error {
				for i := start; i < end; i++ {
					h, err := LeafHash(leaves[i])
					if err != nil {
						return err
					}
					hashes[i] = h
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("hash leaves: %w", err)
		}
	} else {
		for i, leaf := range leaves {
			h, err := LeafHash(leaf)
			if err != nil {
				return nil, fmt.Errorf("hash leaf %d: %w", i, err)
			}
			hashes[i] = h
		}
	}

	levels := [][][32]byte{hashes}
	current := hashes
	for len(current) > 1 {
		next := make([][32]byte, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			left := current[i]
			right := left
			if i+1 < len(current) {
				right = current[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		levels = append(levels, next)
		current = next
	}

	return &Tree{Leaves: leaves, levels: levels}, nil
}

func hashPair(left, right [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return sha256.Sum256(buf)
}

// effectiveTickets = floor(tickets * multiplier) (spec.md §4.2 step 2).
func effectiveTickets(tickets int64, multiplier float64) int64 {
	return int64(float64(tickets) * multiplier)
}

// Root returns the Merkle root, or the zero hash if the tree has no
// leaves.
func (t *Tree) Root() [32]byte {
	if len(t.levels) == 0 {
		return [32]byte{}
	}
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return [32]byte{}
	}
	return top[0]
}

// ProofStep is one sibling hash on the path from a leaf to the root.
type ProofStep struct {
	Hash  [32]byte
	Left  bool // true if Hash is the left sibling of the current node
}

// InclusionProof returns the O(log n) sibling path for leaf index idx.
func (t *Tree) InclusionProof(idx int) ([]ProofStep, error) {
	if idx < 0 || idx >= len(t.Leaves) {
		return nil, errors.New("index out of range")
	}
	var proof []ProofStep
	pos := idx
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		isRight := pos%2 == 1
		var siblingPos int
		if isRight {
			siblingPos = pos - 1
		} else {
			siblingPos = pos + 1
			if siblingPos >= len(nodes) {
				siblingPos = pos // odd node duplicated against itself
			}
		}
		proof = append(proof, ProofStep{Hash: nodes[siblingPos], Left: isRight})
		pos /= 2
	}
	return proof, nil
}

// VerifyInclusion recomputes the root from leafHash and proof and compares
// it against root.
func VerifyInclusion(leafHash [32]byte, proof []ProofStep, root [32]byte) bool {
	current := leafHash
	for _, step := range proof {
		if step.Left {
			current = hashPair(step.Hash, current)
		} else {
			current = hashPair(current, step.Hash)
		}
	}
	return bytes.Equal(current[:], root[:])
}
