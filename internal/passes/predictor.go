// Package passes finds the windows in which a moving target is above a
// minimum elevation from a fixed site: rise, culmination and set times,
// with a sampled track across each pass.
package passes

import (
	"context"
	"time"
)

// PositionFunc returns the target's elevation and azimuth in degrees at t.
type PositionFunc func(t time.Time) (elevation, azimuth float64)

// TrackPoint is the target's direction at one instant of a pass.
type TrackPoint struct {
	Time      time.Time `json:"time"`
	Azimuth   float64   `json:"azimuth"`
	Elevation float64   `json:"elevation"`
}

// Pass describes one interval with the target above the minimum elevation.
type Pass struct {
	StartTime        time.Time    `json:"start_time"`
	MaxElevationTime time.Time    `json:"max_elevation_time"`
	EndTime          time.Time    `json:"end_time"`
	DurationSeconds  float64      `json:"duration_seconds"`
	MaxElevation     float64      `json:"max_elevation"`
	AzimuthAtMax     float64      `json:"azimuth_at_max"`
	StartAzimuth     float64      `json:"start_azimuth"`
	EndAzimuth       float64      `json:"end_azimuth"`
	Truncated        bool         `json:"truncated,omitempty"` // clipped by the search window
	Track            []TrackPoint `json:"track"`
}

// Request holds the parameters for a pass search.
type Request struct {
	Start        time.Time
	Horizon      time.Duration
	MinElevation float64 // degrees
	MaxPasses    int
	MinDuration  time.Duration

	CoarseStep time.Duration // default: 30s
	FineStep   time.Duration // default: 1s
	TrackStep  time.Duration // default: 10s
}

func (r Request) withDefaults() Request {
	if r.CoarseStep <= 0 {
		r.CoarseStep = 30 * time.Second
	}
	if r.FineStep <= 0 {
		r.FineStep = time.Second
	}
	if r.TrackStep <= 0 {
		r.TrackStep = 10 * time.Second
	}
	if r.MaxPasses <= 0 {
		r.MaxPasses = 1
	}
	return r
}

// Predict scans [Start, Start+Horizon] in coarse steps and refines every
// window found with a fine scan. It stops early, returning what it has,
// when ctx is cancelled.
func Predict(ctx context.Context, req Request, pos PositionFunc) []Pass {
	req = req.withDefaults()
	end := req.Start.Add(req.Horizon)
	var passes []Pass

	t := req.Start
	for t.Before(end) && len(passes) < req.MaxPasses {
		if ctx.Err() != nil {
			break
		}

		if el, _ := pos(t); el < req.MinElevation {
			t = t.Add(req.CoarseStep)
			continue
		}

		pass, windowEnd := refine(ctx, req, pos, t, end)
		if pass != nil && pass.EndTime.Sub(pass.StartTime) >= req.MinDuration {
			passes = append(passes, *pass)
		}
		t = windowEnd.Add(req.CoarseStep)
	}
	return passes
}

// refine fine-scans from one coarse step before coarseHit to find the rise,
// culmination and set of the pass containing coarseHit. It returns the
// pass and the time the scan stopped.
func refine(ctx context.Context, req Request, pos PositionFunc, coarseHit, windowEnd time.Time) (*Pass, time.Time) {
	searchStart := coarseHit.Add(-req.CoarseStep)
	if searchStart.Before(req.Start) {
		searchStart = req.Start
	}

	var (
		p         Pass
		wasAbove  bool
		foundRise bool
		nextTrack time.Time
	)

	t := searchStart
	for ; t.Before(windowEnd); t = t.Add(req.FineStep) {
		if ctx.Err() != nil {
			break
		}

		el, az := pos(t)
		above := el >= req.MinElevation

		if above && !wasAbove && !foundRise {
			foundRise = true
			p.StartTime, p.StartAzimuth = t, az
			p.MaxElevation, p.MaxElevationTime, p.AzimuthAtMax = el, t, az
			p.Truncated = t.Equal(req.Start)
			nextTrack = t
		}

		if above && foundRise {
			if el > p.MaxElevation {
				p.MaxElevation, p.MaxElevationTime, p.AzimuthAtMax = el, t, az
			}
			if !t.Before(nextTrack) {
				p.Track = append(p.Track, TrackPoint{Time: t, Azimuth: az, Elevation: el})
				nextTrack = t.Add(req.TrackStep)
			}
		}

		if !above && wasAbove && foundRise {
			p.EndTime, p.EndAzimuth = t, az
			break
		}
		wasAbove = above
	}

	if !foundRise {
		return nil, t
	}
	if p.EndTime.IsZero() {
		// Still up when the window closed.
		el, az := pos(t)
		p.EndTime, p.EndAzimuth = t, az
		p.Truncated = true
		if el > p.MaxElevation {
			p.MaxElevation, p.MaxElevationTime, p.AzimuthAtMax = el, t, az
		}
	}
	p.DurationSeconds = p.EndTime.Sub(p.StartTime).Seconds()
	return &p, p.EndTime
}
