package sim

import (
	"math"
	"testing"
	"time"
)

func TestNormalizeAzimuth(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{90, 90},
		{360, 0},
		{359.999999, 0},
		{0.000001, 0},
		{720.5, 0.5},
		{-10, 350},
		{-360, 0},
		{-0.0, 0},
		{359.5, 359.5},
	}
	for _, tt := range tests {
		got := NormalizeAzimuth(tt.in)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeAzimuth(%g) = %g, want %g", tt.in, got, tt.want)
		}
		if got < 0 || got >= 360 {
			t.Errorf("NormalizeAzimuth(%g) = %g outside [0, 360)", tt.in, got)
		}
	}
}

func TestShortestAzimuthDiff(t *testing.T) {
	tests := []struct {
		cur, target, want float64
	}{
		{350, 10, 20},
		{10, 350, -20},
		{0, 180, 180},
		{180, 0, 180},
		{90, 270, 180},
		{0, 0, 0},
		{45, 44, -1},
	}
	for _, tt := range tests {
		got := shortestAzimuthDiff(tt.cur, tt.target)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("shortestAzimuthDiff(%g, %g) = %g, want %g", tt.cur, tt.target, got, tt.want)
		}
	}
}

func TestTaperedRateNeverExceedsConfigured(t *testing.T) {
	for _, rate := range []float64{0.1, 0.25, 1, 10, 30} {
		for _, err := range []float64{0, 1e-3, 0.1, 1, 4.99, 5, 50} {
			r := taperedRate(rate, err)
			if r > rate {
				t.Errorf("taperedRate(%g, %g) = %g exceeds rate", rate, err, r)
			}
			if r <= 0 {
				t.Errorf("taperedRate(%g, %g) = %g, want positive", rate, err, r)
			}
		}
	}
}

// slewAxis abstracts over the two targeted slew functions.
type slewAxis struct {
	name  string
	step  func(cur, target, rate, dt float64) (float64, bool)
	error func(cur, target float64) float64
}

var axes = []slewAxis{
	{"elevation", slewElevation, func(c, t float64) float64 { return math.Abs(t - c) }},
	{"azimuth", slewAzimuth, func(c, t float64) float64 { return math.Abs(shortestAzimuthDiff(c, t)) }},
}

func TestSlewConvergesMonotonically(t *testing.T) {
	const dt = 0.03
	tests := []struct {
		axis     int
		from, to float64
		rate     float64
		maxTicks int
	}{
		{0, 0, 10, 10, 200},
		{0, 45, 0.5, 30, 200},
		{0, 3, 3.2, 0.1, 200},
		{1, 350, 20, 30, 200},
		{1, 10, 300, 30, 300},
		{1, 0, 179.5, 30, 400},
		{1, 359.9, 0, 5, 200},
	}
	for _, tt := range tests {
		ax := axes[tt.axis]
		t.Run(ax.name, func(t *testing.T) {
			cur := tt.from
			prevErr := ax.error(cur, tt.to)
			arrived := false
			for tick := 0; tick < tt.maxTicks; tick++ {
				next, done := ax.step(cur, tt.to, tt.rate, dt)
				if tt.axis == 1 && (next < 0 || next >= 360) {
					t.Fatalf("tick %d: azimuth %g outside [0, 360)", tick, next)
				}
				moved := ax.error(cur, next)
				if moved > tt.rate*dt+1e-9 {
					t.Fatalf("tick %d: moved %g, more than rate allows (%g)", tick, moved, tt.rate*dt)
				}
				err := ax.error(next, tt.to)
				cur = next
				if done {
					if err != 0 {
						t.Fatalf("tick %d: snapped with residual error %g", tick, err)
					}
					arrived = true
					break
				}
				if err >= prevErr {
					t.Fatalf("tick %d: error %g did not decrease from %g", tick, err, prevErr)
				}
				prevErr = err
			}
			if !arrived {
				t.Fatalf("did not converge within %d ticks (error %g)", tt.maxTicks, prevErr)
			}

			for tick := 0; tick < 20; tick++ {
				next, done := ax.step(cur, tt.to, tt.rate, dt)
				if !done || next != cur {
					t.Fatalf("hold tick %d: moved from %g to %g", tick, cur, next)
				}
			}
		})
	}
}

func TestFreeRunAzimuth(t *testing.T) {
	az, delta := freeRunAzimuth(359.5, 30, 0.03)
	if math.Abs(delta-0.9) > 1e-12 {
		t.Errorf("delta = %g, want 0.9", delta)
	}
	if math.Abs(az-0.4) > 1e-9 {
		t.Errorf("azimuth = %g, want 0.4", az)
	}
}

func newTestAntenna(t *testing.T, mutate func(*Config)) (*Antenna, *Interpreter, *State) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	state := NewState(cfg)
	return NewAntenna(cfg), NewInterpreter(cfg, state, testLogger()), state
}

func tick(a *Antenna, state *State) (scanEvent, Actual) {
	var ev scanEvent
	var act Actual
	state.updateActual(func(req Requested, act0 *Actual) {
		ev = a.Step(req, act0)
		act = *act0
	})
	return ev, act
}

func TestManualRoundTrip(t *testing.T) {
	a, in, state := newTestAntenna(t, func(c *Config) {
		c.TickInterval = 30 * time.Millisecond
		c.ElSlewRate = 10
		c.MaxElSlewRate = 10
	})
	mustApply(t, in, KeyElevation, "10.00")
	mustApply(t, in, KeyAzimuth, "90.00")

	const maxTicks = 300
	elArrived := -1
	var act Actual
	for n := 1; n <= maxTicks; n++ {
		prevEl := act.Elevation
		_, act = tick(a, state)
		if step := math.Abs(act.Elevation - prevEl); step > 10*0.03+1e-9 {
			t.Fatalf("tick %d: elevation moved %g in one tick", n, step)
		}
		if elArrived < 0 && act.Elevation == 10 {
			elArrived = n
		}
		if act.Elevation == 10 && act.Azimuth == 90 {
			break
		}
	}
	if act.Elevation != 10 || act.Azimuth != 90 {
		t.Fatalf("not at target after %d ticks: el %g az %g", maxTicks, act.Elevation, act.Azimuth)
	}
	// 10 degrees at 10 deg/s cannot be covered in fewer than 34 ticks.
	if elArrived < 34 {
		t.Errorf("elevation arrived after %d ticks, faster than the slew rate allows", elArrived)
	}

	for n := 0; n < 50; n++ {
		_, act = tick(a, state)
		if act.Elevation != 10 || act.Azimuth != 90 {
			t.Fatalf("hold tick %d: el %g az %g", n, act.Elevation, act.Azimuth)
		}
	}
}

func TestVolumeScanOrder(t *testing.T) {
	a, in, state := newTestAntenna(t, nil)
	mustApply(t, in, KeyElevationSteps, "0.5,1.5")
	mustApply(t, in, KeyAntennaMode, "auto_vol")

	want := []float64{0.5, 1.5, 0.5, 1.5}
	var (
		visited []float64
		volumes int
		swept   float64
		prevAz  float64
	)
	for n := 0; n < 10000 && len(visited) < len(want); n++ {
		sweeping := a.phase == phaseSweep
		ev, act := tick(a, state)
		if sweeping {
			swept += math.Abs(shortestAzimuthDiff(prevAz, act.Azimuth))
			if act.Elevation != want[len(visited)] {
				t.Fatalf("sweeping at elevation %g, want %g", act.Elevation, want[len(visited)])
			}
		}
		prevAz = act.Azimuth

		if ev.TiltDone {
			if swept < 360-1e-6 {
				t.Fatalf("tilt %d ended after sweeping %g degrees", len(visited), swept)
			}
			visited = append(visited, act.Elevation)
			swept = 0
		}
		if ev.VolumeDone {
			volumes++
			if len(visited)%2 != 0 {
				t.Fatalf("volume completed after %d tilts", len(visited))
			}
			if act.VolumeNumber != volumes {
				t.Errorf("volume number = %d, want %d", act.VolumeNumber, volumes)
			}
		}
	}

	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited %v, want %v", visited, want)
		}
	}
	if volumes != 2 {
		t.Errorf("completed %d volumes, want 2", volumes)
	}
	if tc := state.Snapshot().Actual.TiltCount; tc != 4 {
		t.Errorf("tilt count = %d, want 4", tc)
	}
}

func TestVolumeScanAbandonedOnModeChange(t *testing.T) {
	a, in, state := newTestAntenna(t, nil)
	mustApply(t, in, KeyElevationSteps, "5")
	mustApply(t, in, KeyAntennaMode, "auto_vol")
	for n := 0; n < 100; n++ {
		tick(a, state)
	}

	mustApply(t, in, KeyElevation, "2")
	mustApply(t, in, KeyAzimuth, "0")
	mustApply(t, in, KeyAntennaMode, "manual")

	var act Actual
	for n := 0; n < 1000; n++ {
		_, act = tick(a, state)
		if act.Elevation == 2 && act.Azimuth == 0 {
			break
		}
	}
	if act.Elevation != 2 || act.Azimuth != 0 {
		t.Fatalf("manual target not reached: el %g az %g", act.Elevation, act.Azimuth)
	}
}

func TestVolumeRestartOnRepeatedAutoVol(t *testing.T) {
	a, in, state := newTestAntenna(t, nil)
	mustApply(t, in, KeyElevationSteps, "0.5,1.5,2.5")
	mustApply(t, in, KeyAntennaMode, "auto_vol")

	for n := 0; n < 2000 && a.index < 2; n++ {
		tick(a, state)
	}
	if a.index < 2 {
		t.Fatalf("scan did not reach the third tilt, index %d", a.index)
	}

	mustApply(t, in, KeyAntennaMode, "auto_vol")
	_, act := tick(a, state)
	if a.index != 0 || a.phase != phaseSlewElevation {
		t.Errorf("index %d phase %d after restart, want 0 and slewing", a.index, a.phase)
	}
	if act.TiltIndex != 0 {
		t.Errorf("tilt index = %d, want 0", act.TiltIndex)
	}
}

func TestVolumeScanHoldsWithEmptySteps(t *testing.T) {
	a, in, state := newTestAntenna(t, nil)
	mustApply(t, in, KeyAntennaMode, "auto_vol")
	for n := 0; n < 10; n++ {
		tick(a, state)
	}
	mustApply(t, in, KeyElevationSteps, "")

	before := state.Snapshot().Actual
	for n := 0; n < 10; n++ {
		tick(a, state)
	}
	if after := state.Snapshot().Actual; after != before {
		t.Errorf("antenna moved with no steps: %+v -> %+v", before, after)
	}
}

func TestAutoPPIFreeRuns(t *testing.T) {
	a, in, state := newTestAntenna(t, nil)
	state.updateActual(func(_ Requested, act *Actual) {
		act.Elevation = 4
		act.Azimuth = 359
	})
	mustApply(t, in, KeyAntennaMode, "auto_ppi")

	var act Actual
	for n := 0; n < 10; n++ {
		_, act = tick(a, state)
	}
	if act.Elevation != 4 {
		t.Errorf("elevation = %g, want 4", act.Elevation)
	}
	if want := NormalizeAzimuth(359 + 10*0.9); math.Abs(act.Azimuth-want) > 1e-9 {
		t.Errorf("azimuth = %g, want %g", act.Azimuth, want)
	}
}

func TestStopHolds(t *testing.T) {
	a, in, state := newTestAntenna(t, nil)
	mustApply(t, in, KeyElevation, "30")
	for n := 0; n < 20; n++ {
		tick(a, state)
	}
	mustApply(t, in, KeyAntennaMode, "stop")
	_, before := tick(a, state)
	for n := 0; n < 20; n++ {
		_, act := tick(a, state)
		if act != before {
			t.Fatalf("antenna moved in stop: %+v -> %+v", before, act)
		}
	}
}

func TestServoGatesMotion(t *testing.T) {
	a, in, state := newTestAntenna(t, func(c *Config) { c.ServoGatesMotion = true })
	mustApply(t, in, KeyElevation, "10")

	_, act := tick(a, state)
	if act.Elevation != 0 {
		t.Fatalf("antenna moved with servo off: el %g", act.Elevation)
	}

	state.updateActual(func(_ Requested, act *Actual) {
		act.MainPower = true
		act.ServoPower = true
	})
	_, act = tick(a, state)
	if act.Elevation <= 0 {
		t.Errorf("antenna did not move with servo on: el %g", act.Elevation)
	}
}
