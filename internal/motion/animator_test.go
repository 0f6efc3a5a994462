package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hazard-sync/internal/geo"
)

func TestAnimator_ShortArcAndConvergence(t *testing.T) {
	a := NewAnimator(0.5)
	assert.False(t, a.Step(), "nothing to animate before a target")

	a.SetTarget(start, 350)
	pos, heading := a.Display()
	assert.Equal(t, start, pos)
	assert.InDelta(t, 350, heading, 1e-9)

	target := geo.Destination(start, 0, 100)
	a.SetTarget(target, 10)

	require.True(t, a.Step())
	_, heading = a.Display()
	assert.InDelta(t, 0, heading, 1e-9, "half way along the 20 degree arc")

	for range 100 {
		if !a.Step() {
			break
		}
		_, h := a.Display()
		assert.True(t, h >= 350 || h <= 10, "heading %.3f left the short arc", h)
	}
	assert.True(t, a.Settled())
	pos, heading = a.Display()
	assert.Equal(t, target, pos)
	assert.InDelta(t, 10, heading, 1e-9)
}

func TestAnimator_ClampsFactor(t *testing.T) {
	a := NewAnimator(0)
	a.SetTarget(start, 0)
	target := geo.Destination(start, 90, 30)
	a.SetTarget(target, 90)

	assert.False(t, a.Step(), "factor 1 reaches the target in a single frame")
	pos, heading := a.Display()
	assert.Equal(t, target, pos)
	assert.InDelta(t, 90, heading, 1e-9)
}
