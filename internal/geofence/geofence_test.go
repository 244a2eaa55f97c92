package geofence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine(t *testing.T) {
	// Kuala Lumpur city centre to KLCC, roughly 3.5km.
	d := Haversine(3.139003, 101.686855, 3.157764, 101.711861)
	assert.InDelta(t, 3480, d, 100)

	assert.Equal(t, float64(0), Haversine(3.14, 101.69, 3.14, 101.69))
}

func TestValidate(t *testing.T) {
	center := Point{Lat: 3.139003, Lng: 101.686855}
	fence := &Fence{Center: center, RadiusMeters: 200}

	t.Run("nil fence passes", func(t *testing.T) {
		assert.NoError(t, Validate(Point{Lat: 0, Lng: 0}, nil))
	})

	t.Run("center passes", func(t *testing.T) {
		assert.NoError(t, Validate(center, fence))
	})

	t.Run("inside passes", func(t *testing.T) {
		assert.NoError(t, Validate(Point{Lat: 3.1395, Lng: 101.6870}, fence))
	})

	t.Run("boundary is inclusive", func(t *testing.T) {
		loc := Point{Lat: 3.14, Lng: 101.69}
		dist := Haversine(loc.Lat, loc.Lng, center.Lat, center.Lng)
		exact := &Fence{Center: center, RadiusMeters: dist}
		assert.NoError(t, Validate(loc, exact))
	})

	t.Run("outside fails with distances", func(t *testing.T) {
		err := Validate(Point{Lat: 3.157764, Lng: 101.711861}, fence)
		require.Error(t, err)

		var violation *ViolationError
		require.ErrorAs(t, err, &violation)
		assert.Greater(t, violation.DistanceMeters, fence.RadiusMeters)
		assert.Equal(t, fence.RadiusMeters, violation.RadiusMeters)
		assert.Contains(t, err.Error(), "outside allowed location")
	})
}
