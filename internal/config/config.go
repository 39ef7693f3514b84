// Package config defines the drop coordinator's configuration surface
// (spec.md §6) and its strict/compatibility decoding modes (spec.md §9):
// strict mode rejects unrecognized keys, compatibility mode accepts and
// defaults them. Grounded on the teacher's items/shop.go
// (//go:embed + json.Unmarshal into a typed config) for the
// embed-defaults idiom.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed defaults.json
var defaultsJSON []byte

// GeoMode selects how a geo-fence affects registration.
type GeoMode string

const (
	GeoModeExclusive GeoMode = "exclusive"
	GeoModeBonus      GeoMode = "bonus"
)

// GeoFence is the optional location gate on a drop.
type GeoFence struct {
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	RadiusMeters    float64 `json:"radiusMeters"`
	Mode            GeoMode `json:"mode"`
	BonusMultiplier float64 `json:"bonusMultiplier"`
}

// QueueConfig configures the per-drop admission queue (spec.md §4.3).
type QueueConfig struct {
	Enabled           bool    `json:"enabled"`
	IssueRate         float64 `json:"issueRate"`
	ReadyCap          int     `json:"readyCap"`
	PerFingerprintCap int     `json:"perFingerprintCap"`
	PerIPCap          int     `json:"perIpCap"`
	TokenTTLSeconds   int64   `json:"tokenTTL"`
	ReadyTTLSeconds   int64   `json:"readyTTL"`
	MinBehaviorScore  float64 `json:"minBehaviorScore"`
}

// TrustConfig configures the Trust Scorer (spec.md §4.8).
type TrustConfig struct {
	Threshold              float64 `json:"threshold"`
	FingerprintMinLength   int     `json:"fingerprintMinLength"`
	FingerprintConfidence  float64 `json:"fingerprintConfidenceThreshold"`
	PowDifficulty          int     `json:"powDifficulty"`
	PowTTLSeconds          int64   `json:"powTtlSeconds"`
}

// LoyaltyConfig configures participation-tier thresholds (spec.md §4.7,
// Open Question (b): thresholds/multipliers are configuration, never
// hard-coded).
type LoyaltyConfig struct {
	SilverThreshold int     `json:"silverThreshold"`
	GoldThreshold   int     `json:"goldThreshold"`
	SilverMultiplier float64 `json:"silverMultiplier"`
	GoldMultiplier   float64 `json:"goldMultiplier"`
}

// DropConfig is the configuration surface for Drop.initialize (spec.md §6).
type DropConfig struct {
	Inventory            int          `json:"inventory"`
	RegistrationStart    int64        `json:"registrationStart"`
	RegistrationEnd      int64        `json:"registrationEnd"`
	PurchaseWindowSec    int64        `json:"purchaseWindow"`
	TicketPriceUnit      int64        `json:"ticketPriceUnit"`
	MaxTicketsPerUser    int          `json:"maxTicketsPerUser"`
	BackupMultiplier     float64      `json:"backupMultiplier"`
	GeoFence             *GeoFence    `json:"geoFence,omitempty"`
	Queue                QueueConfig  `json:"queue"`
	Trust                TrustConfig  `json:"trust"`
	Loyalty              LoyaltyConfig `json:"loyalty"`
	PurchaseTokenHMACKey string       `json:"purchaseTokenHmacKey"`
	IPHashSalt           string       `json:"ipHashSalt"`
	RolloverCap          int64        `json:"rolloverCap"`
	MinGeoRadiusMeters   float64      `json:"minGeoRadiusMeters"`
	MaxGeoRadiusMeters   float64      `json:"maxGeoRadiusMeters"`
}

// Defaults returns the baked-in default configuration, parsed once per
// call (cheap: the JSON is a few hundred bytes) so callers can freely
// mutate the result.
func Defaults() DropConfig {
	var c DropConfig
	// The embedded defaults are trusted input produced by this repo, so a
	// parse failure here is a build-time bug, not a runtime condition to
	// recover from.
	if err := json.Unmarshal(defaultsJSON, &c); err != nil {
		panic(fmt.Sprintf("config: invalid embedded defaults.json: %v", err))
	}
	return c
}

// Decode merges JSON overrides onto the defaults. In strict mode, any key
// in raw not recognized by DropConfig's JSON tags is rejected (spec.md
// §9: "reject unknown keys in a strict mode"); in compatibility mode
// unknown keys are ignored and recognized keys simply default when absent.
func Decode(raw []byte, strict bool) (DropConfig, error) {
	cfg := Defaults()
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&cfg); err != nil {
		return DropConfig{}, fmt.Errorf("decode drop config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills in zero-valued optional fields after a partial
// decode, so callers that build a DropConfig programmatically (rather than
// via Decode) still get sane behavior.
func (c *DropConfig) ApplyDefaults() {
	d := Defaults()
	if c.MaxTicketsPerUser <= 0 {
		c.MaxTicketsPerUser = d.MaxTicketsPerUser
	}
	if c.BackupMultiplier <= 0 {
		c.BackupMultiplier = d.BackupMultiplier
	}
	if c.PurchaseWindowSec <= 0 {
		c.PurchaseWindowSec = d.PurchaseWindowSec
	}
	if c.TicketPriceUnit <= 0 {
		c.TicketPriceUnit = d.TicketPriceUnit
	}
	if c.RolloverCap <= 0 {
		c.RolloverCap = d.RolloverCap
	}
	if c.MinGeoRadiusMeters <= 0 {
		c.MinGeoRadiusMeters = d.MinGeoRadiusMeters
	}
	if c.MaxGeoRadiusMeters <= 0 {
		c.MaxGeoRadiusMeters = d.MaxGeoRadiusMeters
	}
	if c.Queue.IssueRate <= 0 {
		c.Queue.IssueRate = d.Queue.IssueRate
	}
	if c.Queue.ReadyCap <= 0 {
		c.Queue.ReadyCap = d.Queue.ReadyCap
	}
	if c.Queue.PerFingerprintCap <= 0 {
		c.Queue.PerFingerprintCap = d.Queue.PerFingerprintCap
	}
	if c.Queue.PerIPCap <= 0 {
		c.Queue.PerIPCap = d.Queue.PerIPCap
	}
	if c.Queue.TokenTTLSeconds <= 0 {
		c.Queue.TokenTTLSeconds = d.Queue.TokenTTLSeconds
	}
	if c.Queue.ReadyTTLSeconds <= 0 {
		c.Queue.ReadyTTLSeconds = d.Queue.ReadyTTLSeconds
	}
	if c.Trust.Threshold <= 0 {
		c.Trust.Threshold = d.Trust.Threshold
	}
	if c.Trust.FingerprintMinLength <= 0 {
		c.Trust.FingerprintMinLength = d.Trust.FingerprintMinLength
	}
	if c.Trust.FingerprintConfidence <= 0 {
		c.Trust.FingerprintConfidence = d.Trust.FingerprintConfidence
	}
	if c.Trust.PowDifficulty <= 0 {
		c.Trust.PowDifficulty = d.Trust.PowDifficulty
	}
	if c.Trust.PowTTLSeconds <= 0 {
		c.Trust.PowTTLSeconds = d.Trust.PowTTLSeconds
	}
	if c.Loyalty.SilverThreshold <= 0 {
		c.Loyalty.SilverThreshold = d.Loyalty.SilverThreshold
	}
	if c.Loyalty.GoldThreshold <= 0 {
		c.Loyalty.GoldThreshold = d.Loyalty.GoldThreshold
	}
	if c.Loyalty.SilverMultiplier <= 0 {
		c.Loyalty.SilverMultiplier = d.Loyalty.SilverMultiplier
	}
	if c.Loyalty.GoldMultiplier <= 0 {
		c.Loyalty.GoldMultiplier = d.Loyalty.GoldMultiplier
	}
}
