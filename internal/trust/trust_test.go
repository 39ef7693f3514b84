package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultConfig() Config {
	return Config{Threshold: 60, FingerprintMinLength: 4, FingerprintConfidence: 40}
}

func TestTimingScore(t *testing.T) {
	assert.Equal(t, 0.0, TimingScore(100))
	assert.Equal(t, 50.0, TimingScore(500))
	assert.Equal(t, 100.0, TimingScore(2000))
	assert.Equal(t, 80.0, TimingScore(7000))
	assert.Equal(t, 60.0, TimingScore(20000))
}

func TestScore_InvalidFingerprintShortCircuits(t *testing.T) {
	res := Score(Input{
		Fingerprint:           "ab",
		FingerprintConfidence: 90,
		TimingMs:              2000,
		PowVerified:           true,
	}, defaultConfig())
	assert.False(t, res.Allowed)
	assert.Equal(t, reasonInvalidFingerprint, res.Reason)
}

func TestScore_PowNotVerified(t *testing.T) {
	res := Score(Input{
		Fingerprint:           "abcdef",
		FingerprintConfidence: 90,
		TimingMs:              2000,
		PowVerified:           false,
	}, defaultConfig())
	assert.False(t, res.Allowed)
	assert.Equal(t, reasonPowNotVerified, res.Reason)
}

func TestScore_AllowedWithBehavior(t *testing.T) {
	behavior := 80.0
	res := Score(Input{
		Fingerprint:           "abcdef",
		FingerprintConfidence: 90,
		TimingMs:              2000,
		PowVerified:           true,
		BehaviorScore:         &behavior,
	}, defaultConfig())
	assert.True(t, res.Allowed)
	assert.Equal(t, "", res.Reason)
	// 0.35*90 + 0.25*100 + 0.20*100 + 0.20*80 = 31.5+25+20+16 = 92.5 -> round 93 (math.Round rounds half away from zero)
	assert.Equal(t, 93.0, res.TrustScore)
}

func TestScore_BelowThresholdWithoutBehavior(t *testing.T) {
	res := Score(Input{
		Fingerprint:           "abcdef",
		FingerprintConfidence: 45,
		TimingMs:              100, // timing score 0
		PowVerified:           true,
	}, defaultConfig())
	// 0.40*45 + 0.30*0 + 0.30*100 = 18+0+30 = 48 < 60
	assert.False(t, res.Allowed)
	assert.Equal(t, reasonBelowThreshold, res.Reason)
}
