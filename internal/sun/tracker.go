package sun

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/star/radarsim/internal/passes"
	"github.com/star/radarsim/internal/sim"
	"github.com/star/radarsim/internal/transform"
)

// Simulator is the part of the simulator the tracker drives.
type Simulator interface {
	Submit(cmd sim.Command)
	Snapshot() sim.Snapshot
}

// TrackerConfig controls the sun tracker.
type TrackerConfig struct {
	Site         transform.Site
	Interval     time.Duration // default: 1s
	MinElevation float64
	MaxElevation float64
}

// Tracker feeds sun-pointing commands to the simulator. It only talks to
// the command queue, so the interpreter stays the sole writer of the
// requested position.
type Tracker struct {
	cfg    TrackerConfig
	sim    Simulator
	logger *slog.Logger
	now    func() time.Time

	tracking bool
}

// NewTracker creates a tracker for the configured site.
func NewTracker(cfg TrackerConfig, s Simulator, logger *slog.Logger) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Tracker{
		cfg:    cfg,
		sim:    s,
		logger: logger.With("component", "sun_tracker"),
		now:    time.Now,
	}
}

// Position returns the current sun position for the tracker's site.
func (t *Tracker) Position() Position {
	return At(t.cfg.Site, t.now())
}

// Passes returns the sun's passes above minElevation within horizon of
// start, as seen from the tracker's site.
func (t *Tracker) Passes(ctx context.Context, start time.Time, horizon time.Duration, minElevation float64, maxPasses int) []passes.Pass {
	site := t.cfg.Site
	return passes.Predict(ctx, passes.Request{
		Start:        start,
		Horizon:      horizon,
		MinElevation: minElevation,
		MaxPasses:    maxPasses,
		TrackStep:    10 * time.Minute,
	}, func(at time.Time) (float64, float64) {
		pos := At(site, at)
		return pos.Elevation, pos.Azimuth
	})
}

// Now returns the tracker's clock.
func (t *Tracker) Now() time.Time {
	return t.now()
}

// Run steers the antenna every interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.step()
		}
	}
}

// step submits one elevation/azimuth pair when the simulator is following
// the sun.
func (t *Tracker) step() {
	if t.sim.Snapshot().Requested.AntennaMode != sim.ModeFollowSun {
		if t.tracking {
			t.logger.Info("sun tracking stopped")
			t.tracking = false
		}
		return
	}

	pos := t.Position()
	el := math.Max(t.cfg.MinElevation, math.Min(t.cfg.MaxElevation, pos.Elevation))
	if !t.tracking {
		t.logger.Info("sun tracking started",
			"azimuth", pos.Azimuth,
			"elevation", pos.Elevation,
		)
		t.tracking = true
	}
	if el != pos.Elevation {
		t.logger.Debug("sun elevation clamped", "elevation", pos.Elevation, "clamped", el)
	}

	t.sim.Submit(sim.Command{Key: sim.KeyElevation, Value: strconv.FormatFloat(el, 'f', 4, 64)})
	t.sim.Submit(sim.Command{Key: sim.KeyAzimuth, Value: strconv.FormatFloat(pos.Azimuth, 'f', 4, 64)})
}
