package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance_KnownPoints(t *testing.T) {
	center := Point{Lat: 37.0, Lng: -122.0}
	near := Point{Lat: 37.001, Lng: -122.0} // ~111m north
	d := Distance(center, near)
	assert.InDelta(t, 111.2, d, 5)
}

func TestInside_SeedScenarioD(t *testing.T) {
	center := Point{Lat: 37.0, Lng: -122.0}
	radius := 1000.0

	near := Point{Lat: 37.001, Lng: -122.0}
	assert.True(t, Inside(center, near, radius))

	far := Point{Lat: 38.0, Lng: -122.0}
	assert.False(t, Inside(center, far, radius))
}

func TestValidRadius(t *testing.T) {
	assert.True(t, ValidRadius(1000, 10, 50000))
	assert.False(t, ValidRadius(5, 10, 50000))
	assert.False(t, ValidRadius(100000, 10, 50000))
}
