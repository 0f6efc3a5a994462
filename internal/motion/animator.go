package motion

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/hazard-sync/internal/geo"
)

// Animator eases the displayed marker toward the latest estimate once per
// display frame, independent of how often samples arrive.
type Animator struct {
	factor float64

	display        orb.Point
	displayHeading float64
	target         orb.Point
	targetHeading  float64
	initialized    bool
}

// NewAnimator creates an Animator that closes factor of the remaining gap
// per frame. factor is clamped to (0, 1].
func NewAnimator(factor float64) *Animator {
	if factor <= 0 || factor > 1 {
		factor = 1
	}
	return &Animator{factor: factor}
}

// SetTarget updates the position and heading the display moves toward. The
// first target snaps the display into place.
func (a *Animator) SetTarget(pos orb.Point, heading float64) {
	a.target = pos
	a.targetHeading = geo.NormalizeDegrees(heading)
	if !a.initialized {
		a.display = pos
		a.displayHeading = a.targetHeading
		a.initialized = true
	}
}

// Step advances one frame and reports whether the display is still moving.
func (a *Animator) Step() bool {
	if !a.initialized {
		return false
	}
	a.display = geo.LerpPoint(a.display, a.target, a.factor)
	a.displayHeading = geo.LerpAngle(a.displayHeading, a.targetHeading, a.factor)
	if a.Settled() {
		a.display = a.target
		a.displayHeading = a.targetHeading
		return false
	}
	return true
}

// Settled reports whether the display is within rounding distance of the target.
func (a *Animator) Settled() bool {
	const posEpsilon = 1e-7 // ~1 cm
	const headingEpsilon = 0.05
	return math.Abs(a.display[0]-a.target[0]) < posEpsilon &&
		math.Abs(a.display[1]-a.target[1]) < posEpsilon &&
		math.Abs(geo.AngleDelta(a.displayHeading, a.targetHeading)) < headingEpsilon
}

// Display returns the current displayed position and heading.
func (a *Animator) Display() (orb.Point, float64) {
	return a.display, a.displayHeading
}

// Initialized reports whether a target has been set.
func (a *Animator) Initialized() bool { return a.initialized }
