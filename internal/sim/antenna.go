package sim

import "math"

const (
	// arrivalEpsilon is the angular error, in degrees, below which an axis
	// snaps onto its target.
	arrivalEpsilon = 1e-4

	// taperWindow is the error, in degrees, inside which the slew rate is
	// scaled down in proportion to the remaining error.
	taperWindow = 5.0

	// taperFloor is the lowest tapered slew rate, in deg/s.
	taperFloor = 0.25

	// sweepDegrees is the cumulative azimuth travel that completes a tilt.
	sweepDegrees = 360.0

	// wrapEpsilon collapses azimuths this close to 0 or 360 onto 0.
	wrapEpsilon = 1e-5
)

// NormalizeAzimuth maps a into [0, 360), collapsing values within
// wrapEpsilon of either end onto 0.
func NormalizeAzimuth(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	if a < wrapEpsilon || 360-a < wrapEpsilon {
		return 0
	}
	return a
}

// shortestAzimuthDiff returns the signed rotation from cur to target,
// in (-180, 180].
func shortestAzimuthDiff(cur, target float64) float64 {
	d := math.Mod(target-cur, 360)
	switch {
	case d > 180:
		d -= 360
	case d <= -180:
		d += 360
	}
	return d
}

// taperedRate returns the slew rate to use with err degrees still to go.
// It never exceeds rate.
func taperedRate(rate, err float64) float64 {
	r := rate
	if err < taperWindow {
		r = rate * err / taperWindow
	}
	return math.Max(r, math.Min(taperFloor, rate))
}

// slewStep returns the signed move for one tick given the signed error
// remaining. The move never overshoots.
func slewStep(diff, rate, dt float64) float64 {
	err := math.Abs(diff)
	step := math.Min(taperedRate(rate, err)*dt, err)
	return math.Copysign(step, diff)
}

// slewElevation moves cur toward target. done reports that the axis was
// already within arrivalEpsilon and has been snapped exactly.
func slewElevation(cur, target, rate, dt float64) (next float64, done bool) {
	diff := target - cur
	if math.Abs(diff) < arrivalEpsilon {
		return target, true
	}
	return cur + slewStep(diff, rate, dt), false
}

// slewAzimuth moves cur toward target along the shorter way round.
func slewAzimuth(cur, target, rate, dt float64) (next float64, done bool) {
	diff := shortestAzimuthDiff(cur, target)
	if math.Abs(diff) < arrivalEpsilon {
		return NormalizeAzimuth(target), true
	}
	return NormalizeAzimuth(cur + slewStep(diff, rate, dt)), false
}

// freeRunAzimuth rotates at the full rate regardless of position and
// returns the new azimuth with the signed distance moved.
func freeRunAzimuth(cur, rate, dt float64) (next, delta float64) {
	delta = rate * dt
	return NormalizeAzimuth(cur + delta), delta
}

type scanPhase int

const (
	phaseSlewElevation scanPhase = iota
	phaseSweep
)

// scanEvent reports the scan milestones reached during one tick.
type scanEvent struct {
	TiltDone   bool
	VolumeDone bool
}

// Antenna is the antenna controller's private state. It is not safe for
// concurrent use; only the controller loop calls Step.
type Antenna struct {
	dt         float64 // seconds per tick
	servoGated bool

	mode         AntennaMode
	volumeStarts uint64
	phase        scanPhase
	index        int
	swept        float64
}

// NewAntenna creates a controller advancing by one TickInterval per Step.
func NewAntenna(cfg Config) *Antenna {
	return &Antenna{
		dt:         cfg.TickInterval.Seconds(),
		servoGated: cfg.ServoGatesMotion,
		mode:       ModeManual,
	}
}

// Step advances the actual position by one tick under the requested mode.
func (a *Antenna) Step(req Requested, act *Actual) scanEvent {
	if req.AntennaMode != a.mode {
		a.mode = req.AntennaMode
		if a.mode == ModeAutoVol {
			a.restartVolume(act)
		}
	} else if a.mode == ModeAutoVol && req.VolumeStarts != a.volumeStarts {
		a.restartVolume(act)
	}
	a.volumeStarts = req.VolumeStarts

	if a.servoGated && !act.ServoPower {
		return scanEvent{}
	}

	switch a.mode {
	case ModeManual, ModeFollowSun:
		act.Elevation, _ = slewElevation(act.Elevation, req.Elevation, req.ElSlewRate, a.dt)
		act.Azimuth, _ = slewAzimuth(act.Azimuth, req.Azimuth, req.AzSlewRate, a.dt)
	case ModeAutoPPI:
		act.Azimuth, _ = freeRunAzimuth(act.Azimuth, req.AzSlewRate, a.dt)
	case ModeAutoVol:
		return a.stepVolume(req, act)
	}
	return scanEvent{}
}

func (a *Antenna) restartVolume(act *Actual) {
	a.phase = phaseSlewElevation
	a.index = 0
	a.swept = 0
	act.TiltIndex = 0
}

// stepVolume runs one tick of the volume scan: slew to the current step
// while rotating, then sweep until 360 degrees of azimuth have passed.
func (a *Antenna) stepVolume(req Requested, act *Actual) scanEvent {
	steps := req.ElevationSteps
	if len(steps) == 0 {
		return scanEvent{}
	}
	if a.index >= len(steps) {
		a.index = 0
		a.phase = phaseSlewElevation
	}

	var ev scanEvent
	switch a.phase {
	case phaseSlewElevation:
		var arrived bool
		act.Elevation, arrived = slewElevation(act.Elevation, steps[a.index], req.ElSlewRate, a.dt)
		act.Azimuth, _ = freeRunAzimuth(act.Azimuth, req.AzSlewRate, a.dt)
		if arrived {
			a.phase = phaseSweep
			a.swept = 0
			act.TiltIndex = a.index
		}
	case phaseSweep:
		var delta float64
		act.Azimuth, delta = freeRunAzimuth(act.Azimuth, req.AzSlewRate, a.dt)
		a.swept += math.Abs(delta)
		if a.swept >= sweepDegrees {
			act.TiltCount++
			ev.TiltDone = true
			a.index++
			if a.index >= len(steps) {
				a.index = 0
				act.VolumeNumber++
				ev.VolumeDone = true
			}
			a.phase = phaseSlewElevation
		}
	}
	return ev
}
