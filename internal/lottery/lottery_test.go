package lottery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedScenarioA() (map[string]int64, map[string]float64) {
	tickets := map[string]int64{"alice": 1, "bob": 10, "carol": 1}
	multipliers := map[string]float64{"alice": 1.0, "bob": 1.0, "carol": 2.0}
	return tickets, multipliers
}

func TestRun_CommitmentBinding(t *testing.T) {
	secret, commitment, err := NewSecret()
	require.NoError(t, err)

	tickets, multipliers := seedScenarioA()
	_, proof, err := Run(secret, tickets, multipliers, 2, 1.5, 1000)
	require.NoError(t, err)

	assert.Equal(t, commitment, proof.Commitment)
	assert.Equal(t, Commitment(proof.Secret), proof.Commitment)
}

func TestRun_ReplayDeterminism(t *testing.T) {
	secret, _, err := NewSecret()
	require.NoError(t, err)
	tickets, multipliers := seedScenarioA()

	_, proof1, err := Run(secret, tickets, multipliers, 2, 1.5, 1000)
	require.NoError(t, err)
	_, proof2, err := Run(secret, tickets, multipliers, 2, 1.5, 2000)
	require.NoError(t, err)

	assert.Equal(t, proof1.Winners, proof2.Winners)
	assert.Equal(t, proof1.BackupWinners, proof2.BackupWinners)
}

func TestVerify_ThirdPartyReplay(t *testing.T) {
	secret, _, err := NewSecret()
	require.NoError(t, err)
	tickets, multipliers := seedScenarioA()

	_, proof, err := Run(secret, tickets, multipliers, 2, 1.5, 1000)
	require.NoError(t, err)

	ok, err := Verify(proof, tickets, multipliers, 2, 1.5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_TamperedLeafFieldFailsMerkleRoot(t *testing.T) {
	secret, _, err := NewSecret()
	require.NoError(t, err)
	tickets, multipliers := seedScenarioA()

	_, proof, err := Run(secret, tickets, multipliers, 2, 1.5, 1000)
	require.NoError(t, err)

	tampered := map[string]int64{"alice": 1, "bob": 999, "carol": 1}
	ok, err := Verify(proof, tampered, multipliers, 2, 1.5)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestVerify_TamperedSecretFailsCommitment(t *testing.T) {
	secret, _, err := NewSecret()
	require.NoError(t, err)
	tickets, multipliers := seedScenarioA()

	_, proof, err := Run(secret, tickets, multipliers, 2, 1.5, 1000)
	require.NoError(t, err)

	proof.Secret = "0000000000000000000000000000000000000000000000000000000000000000"
	ok, err := Verify(proof, tickets, multipliers, 2, 1.5)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestInclusionProof_VerifiesForEveryLeaf(t *testing.T) {
	tickets, multipliers := seedScenarioA()
	tree, err := BuildTree(tickets, multipliers)
	require.NoError(t, err)

	root := tree.Root()
	for i, leaf := range tree.Leaves {
		proof, err := tree.InclusionProof(i)
		require.NoError(t, err)
		leafHash, err := LeafHash(leaf)
		require.NoError(t, err)
		assert.True(t, VerifyInclusion(leafHash, proof, root))

		tampered := leaf
		tampered.EffectiveTickets++
		tamperedHash, err := LeafHash(tampered)
		require.NoError(t, err)
		assert.False(t, VerifyInclusion(tamperedHash, proof, root))
	}
}

func TestSelect_WeightMonotonicity(t *testing.T) {
	tickets := map[string]int64{"alice": 1, "bob": 10, "carol": 2}
	multipliers := map[string]float64{"alice": 1, "bob": 1, "carol": 1}
	tree, err := BuildTree(tickets, multipliers)
	require.NoError(t, err)
	rootHex := "fixed"

	wins := map[string]int{}
	const trials = 4000
	for i := 0; i < trials; i++ {
		seed := Seed(rootHex, string(rune(i)))
		sel := Select(tree.Leaves, seed, 1, 1)
		wins[sel.Winners[0]]++
	}

	total := 13.0
	assert.InDelta(t, trials*1/total, float64(wins["alice"]), float64(trials)*0.05)
	assert.InDelta(t, trials*10/total, float64(wins["bob"]), float64(trials)*0.05)
	assert.InDelta(t, trials*2/total, float64(wins["carol"]), float64(trials)*0.05)
}

func TestSelect_KGreaterThanParticipantCountReturnsAll(t *testing.T) {
	tickets, multipliers := seedScenarioA()
	tree, err := BuildTree(tickets, multipliers)
	require.NoError(t, err)

	sel := Select(tree.Leaves, "seed", 2, 10)
	assert.Len(t, sel.Winners, 2)
	assert.Len(t, sel.BackupWinners, 1)
}

func TestSelect_EmptyParticipants(t *testing.T) {
	sel := Select(nil, "seed", 2, 5)
	assert.Empty(t, sel.Winners)
	assert.Empty(t, sel.BackupWinners)
}
