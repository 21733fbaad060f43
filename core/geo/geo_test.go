package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	origin := Point{Lat: 0, Lng: 0}

	t.Run("zero distance", func(t *testing.T) {
		assert.Equal(t, 0.0, Distance(origin, origin))
	})

	t.Run("symmetry", func(t *testing.T) {
		p := Point{Lat: 0.01, Lng: 0.01}
		assert.Equal(t, Distance(origin, p), Distance(p, origin))
	})

	t.Run("known offsets", func(t *testing.T) {
		// 0.001349 deg of latitude is ~150m on the great circle
		assert.InDelta(t, 150.0, Distance(origin, Point{Lat: 0.001349}), 0.5)
		// 0.000719 deg is ~80m
		assert.InDelta(t, 80.0, Distance(origin, Point{Lat: 0.000719}), 0.5)
		// Paris -> London, well-known ~343km
		paris := Point{Lat: 48.8566, Lng: 2.3522}
		london := Point{Lat: 51.5074, Lng: -0.1278}
		assert.InDelta(t, 343500, Distance(paris, london), 1500)
	})
}

func TestFenceEvaluate(t *testing.T) {
	fence := Fence{Center: Point{Lat: 0, Lng: 0}, Radius: 100}

	t.Run("inside", func(t *testing.T) {
		d, ok := fence.Evaluate(Point{Lat: 0.000719}) // ~80m
		assert.True(t, ok)
		assert.InDelta(t, 80.0, d, 0.5)
	})

	t.Run("outside", func(t *testing.T) {
		d, ok := fence.Evaluate(Point{Lat: 0.001349}) // ~150m
		assert.False(t, ok)
		assert.InDelta(t, 150.0, d, 0.5)
	})

	t.Run("boundary passes", func(t *testing.T) {
		p := Point{Lat: 0.0005}
		d, _ := Fence{Center: fence.Center, Radius: 0}.Evaluate(p)

		// a fence whose radius is exactly the measured distance accepts the point
		_, ok := Fence{Center: fence.Center, Radius: d}.Evaluate(p)
		assert.True(t, ok)
	})

	t.Run("widen", func(t *testing.T) {
		wide := fence.Widen(1.5)
		assert.Equal(t, 150.0, wide.Radius)
		assert.Equal(t, fence.Center, wide.Center)

		_, ok := wide.Evaluate(Point{Lat: 0.00134}) // ~149m, inside the widened fence
		assert.True(t, ok)
	})
}
