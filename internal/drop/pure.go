package drop

import (
	"github.com/flashgrid/dropcoordinator/internal/config"
	"github.com/flashgrid/dropcoordinator/internal/geo"
)

// clampTickets restricts a desired ticket count to [1, maxPerUser]
// (spec.md §4.1 register: "Ticket request is clamped to
// [1, maxTicketsPerUser]").
func clampTickets(desired int64, maxPerUser int) int64 {
	max := int64(maxPerUser)
	switch {
	case desired < 1:
		return 1
	case desired > max:
		return max
	default:
		return desired
	}
}

// allocationResult is the outcome of spec.md §4.1 register steps 1-4.
type allocationResult struct {
	RolloverUsed int64
	FreeEntry    int64
	PaidEntries  int64
	ActualTickets int64
}

// computeAllocation applies spec.md §4.1 register's allocation formula
// given how much rollover credit was actually consumed (already capped
// at the user's balance by the caller). Steps 2-4 of the spec, spelled
// out verbatim: a free entry fills the gap rollover didn't cover, and
// whatever's still short of desired is paid.
func computeAllocation(desired, rolloverUsed int64) allocationResult {
	freeEntry := int64(0)
	if rolloverUsed < desired {
		freeEntry = 1
	}
	paidEntries := desired - rolloverUsed - freeEntry
	if paidEntries < 0 {
		paidEntries = 0
	}
	actual := rolloverUsed + freeEntry + paidEntries
	return allocationResult{
		RolloverUsed:  rolloverUsed,
		FreeEntry:     freeEntry,
		PaidEntries:   paidEntries,
		ActualTickets: actual,
	}
}

// geoOutcome is the result of evaluating a drop's geo-fence against a
// registrant's claimed location (spec.md §4.1 register geo validation).
type geoOutcome struct {
	Bonus      float64
	InGeoZone  bool
	Required   bool
	Satisfied  bool
}

// evaluateGeoFence decides the geo bonus/admission outcome for a
// registration. loc is nil when the client supplied no location.
func evaluateGeoFence(fence *config.GeoFence, loc *geo.Point) geoOutcome {
	if fence == nil {
		return geoOutcome{Bonus: 1.0, InGeoZone: false, Required: false, Satisfied: true}
	}

	center := geo.Point{Lat: fence.Lat, Lng: fence.Lng}
	inZone := loc != nil && geo.Inside(center, *loc, fence.RadiusMeters)

	switch fence.Mode {
	case config.GeoModeExclusive:
		if loc == nil {
			return geoOutcome{Required: true, Satisfied: false}
		}
		return geoOutcome{Bonus: 1.0, InGeoZone: inZone, Required: true, Satisfied: inZone}
	case config.GeoModeBonus:
		bonus := 1.0
		if inZone {
			bonus = fence.BonusMultiplier
		}
		return geoOutcome{Bonus: bonus, InGeoZone: inZone, Required: false, Satisfied: true}
	default:
		return geoOutcome{Bonus: 1.0, InGeoZone: inZone, Required: false, Satisfied: true}
	}
}

// effectiveTickets floors actualTickets * combinedMultiplier, matching
// the lottery package's leaf-weight computation (spec.md §4.2 step 2) so
// a participant's stored weight and its lottery-time weight agree.
func effectiveTickets(actualTickets int64, combinedMultiplier float64) int64 {
	return int64(float64(actualTickets) * combinedMultiplier)
}

// losersOf returns every registered participant not present in winners
// or backupWinners, in registrationOrder (spec.md §4.1 runLottery:
// "Notify each primary winner, backup, and loser").
func losersOf(registrationOrder, winners, backupWinners []string) []string {
	taken := make(map[string]bool, len(winners)+len(backupWinners))
	for _, u := range winners {
		taken[u] = true
	}
	for _, u := range backupWinners {
		taken[u] = true
	}
	losers := make([]string, 0, len(registrationOrder))
	for _, u := range registrationOrder {
		if !taken[u] {
			losers = append(losers, u)
		}
	}
	return losers
}

// promoteHead pops the first backup off backupWinners, returning the
// promoted userId, the remaining backups, and whether a promotion was
// possible at all (spec.md §4.1 checkWinnerExpiry / promoteBackup).
func promoteHead(backupWinners []string) (promoted string, rest []string, ok bool) {
	if len(backupWinners) == 0 {
		return "", backupWinners, false
	}
	return backupWinners[0], append([]string{}, backupWinners[1:]...), true
}

// removeFirst returns s with the first occurrence of v removed.
func removeFirst(s []string, v string) []string {
	out := make([]string, 0, len(s))
	removed := false
	for _, item := range s {
		if !removed && item == v {
			removed = true
			continue
		}
		out = append(out, item)
	}
	return out
}

// contains reports whether v is present in s.
func contains(s []string, v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}
