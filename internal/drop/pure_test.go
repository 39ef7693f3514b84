package drop

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flashgrid/dropcoordinator/internal/config"
	"github.com/flashgrid/dropcoordinator/internal/geo"
)

func TestClampTickets(t *testing.T) {
	assert.Equal(t, int64(1), clampTickets(0, 5))
	assert.Equal(t, int64(1), clampTickets(-3, 5))
	assert.Equal(t, int64(5), clampTickets(10, 5))
	assert.Equal(t, int64(3), clampTickets(3, 5))
}

func TestComputeAllocation_RolloverCoversDesired(t *testing.T) {
	a := computeAllocation(5, 5)
	assert.Equal(t, int64(5), a.RolloverUsed)
	assert.Equal(t, int64(0), a.FreeEntry)
	assert.Equal(t, int64(0), a.PaidEntries)
	assert.Equal(t, int64(5), a.ActualTickets)
}

func TestComputeAllocation_PartialRollover(t *testing.T) {
	a := computeAllocation(5, 2)
	assert.Equal(t, int64(2), a.RolloverUsed)
	assert.Equal(t, int64(1), a.FreeEntry)
	assert.Equal(t, int64(2), a.PaidEntries)
	assert.Equal(t, int64(5), a.ActualTickets)
}

func TestComputeAllocation_ZeroRollover(t *testing.T) {
	a := computeAllocation(1, 0)
	assert.Equal(t, int64(0), a.RolloverUsed)
	assert.Equal(t, int64(1), a.FreeEntry)
	assert.Equal(t, int64(0), a.PaidEntries)
	assert.Equal(t, int64(1), a.ActualTickets)
}

func TestComputeAllocation_ActualAlwaysMatchesDesired(t *testing.T) {
	for desired := int64(1); desired <= 20; desired++ {
		for rollover := int64(0); rollover <= desired+5; rollover++ {
			used := rollover
			if used > desired {
				used = desired
			}
			a := computeAllocation(desired, used)
			assert.Equal(t, desired, a.ActualTickets, "desired=%d rollover=%d", desired, rollover)
		}
	}
}

func TestEvaluateGeoFence_NoFence(t *testing.T) {
	out := evaluateGeoFence(nil, nil)
	assert.Equal(t, 1.0, out.Bonus)
	assert.True(t, out.Satisfied)
	assert.False(t, out.Required)
}

func TestEvaluateGeoFence_ExclusiveRequiresLocation(t *testing.T) {
	fence := &config.GeoFence{Lat: 37.0, Lng: -122.0, RadiusMeters: 1000, Mode: config.GeoModeExclusive}
	out := evaluateGeoFence(fence, nil)
	assert.True(t, out.Required)
	assert.False(t, out.Satisfied)
}

func TestEvaluateGeoFence_ExclusiveInsideAndOutside(t *testing.T) {
	fence := &config.GeoFence{Lat: 37.0, Lng: -122.0, RadiusMeters: 1000, Mode: config.GeoModeExclusive}

	inside := geo.Point{Lat: 37.0009, Lng: -122.0}
	out := evaluateGeoFence(fence, &inside)
	assert.True(t, out.Satisfied)
	assert.True(t, out.InGeoZone)

	outside := geo.Point{Lat: 38.0, Lng: -122.0}
	out = evaluateGeoFence(fence, &outside)
	assert.False(t, out.Satisfied)
	assert.False(t, out.InGeoZone)
}

func TestEvaluateGeoFence_BonusMode(t *testing.T) {
	fence := &config.GeoFence{Lat: 37.0, Lng: -122.0, RadiusMeters: 1000, Mode: config.GeoModeBonus, BonusMultiplier: 2.0}

	inside := geo.Point{Lat: 37.0009, Lng: -122.0}
	out := evaluateGeoFence(fence, &inside)
	assert.True(t, out.Satisfied)
	assert.Equal(t, 2.0, out.Bonus)

	out = evaluateGeoFence(fence, nil)
	assert.True(t, out.Satisfied)
	assert.Equal(t, 1.0, out.Bonus)
}

func TestEffectiveTickets_Floors(t *testing.T) {
	assert.Equal(t, int64(7), effectiveTickets(5, 1.5))
	assert.Equal(t, int64(5), effectiveTickets(5, 1.0))
}

func TestLosersOf(t *testing.T) {
	order := []string{"alice", "bob", "carol", "dave"}
	losers := losersOf(order, []string{"alice"}, []string{"bob"})
	assert.Equal(t, []string{"carol", "dave"}, losers)
}

func TestPromoteHead(t *testing.T) {
	promoted, rest, ok := promoteHead([]string{"bob", "carol"})
	assert.True(t, ok)
	assert.Equal(t, "bob", promoted)
	assert.Equal(t, []string{"carol"}, rest)

	_, _, ok = promoteHead(nil)
	assert.False(t, ok)
}

func TestRemoveFirst(t *testing.T) {
	out := removeFirst([]string{"a", "b", "a"}, "a")
	assert.Equal(t, []string{"b", "a"}, out)
}

func TestContains(t *testing.T) {
	assert.True(t, contains([]string{"a", "b"}, "b"))
	assert.False(t, contains([]string{"a", "b"}, "c"))
}
