// Package cache keeps the most recent antenna sweeps in memory so clients
// can fetch a whole PPI without replaying the beam stream.
//
// Beams are grouped into sweeps as they arrive. A sweep closes when the
// antenna reports the end of a tilt, when the tilt or volume changes, when
// 360 degrees of azimuth have been covered, or when it reaches the beam
// limit. Closed sweeps are immutable; the oldest is evicted once MaxSweeps
// are held.
package cache

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/star/radarsim/internal/metrics"
	"github.com/star/radarsim/internal/sim"
)

// Config holds cache limits.
type Config struct {
	MaxSweeps        int // default: 8
	MaxBeamsPerSweep int // default: 4096
}

// CloseReason records why a sweep was closed.
type CloseReason string

const (
	ClosedEndOfTilt  CloseReason = "end_of_tilt"
	ClosedTiltChange CloseReason = "tilt_change"
	ClosedFullCircle CloseReason = "full_circle"
	ClosedBeamLimit  CloseReason = "beam_limit"
)

// Summary describes a sweep without its beams.
type Summary struct {
	ID           int64       `json:"id"`
	VolumeNumber int         `json:"volume_number"`
	TiltIndex    int         `json:"tilt_index"`
	Elevation    float64     `json:"elevation"` // mean over the sweep
	StartTime    time.Time   `json:"start_time"`
	EndTime      time.Time   `json:"end_time"`
	AzimuthSpan  float64     `json:"azimuth_span"` // degrees turned
	Beams        int         `json:"beams"`
	ClosedBy     CloseReason `json:"closed_by,omitempty"`
}

// Complete reports whether the sweep covered a full turn of the antenna.
func (s Summary) Complete() bool {
	return s.ClosedBy == ClosedEndOfTilt || s.ClosedBy == ClosedFullCircle
}

// Sweep is one closed sweep with its beams in arrival order.
type Sweep struct {
	Summary
	Data []*sim.BeamSample `json:"data"`
}

// SweepCache holds the most recent closed sweeps and the one being built.
// Safe for concurrent use by multiple goroutines.
type SweepCache struct {
	mu      sync.RWMutex
	sweeps  []*Sweep // closed, oldest first
	current *Sweep
	elevSum float64
	lastAz  float64
	nextID  int64

	config Config
	logger *slog.Logger

	// Counters (lock-free).
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewSweepCache creates an empty sweep cache.
func NewSweepCache(config Config, logger *slog.Logger) *SweepCache {
	if config.MaxSweeps <= 0 {
		config.MaxSweeps = 8
	}
	if config.MaxBeamsPerSweep <= 0 {
		config.MaxBeamsPerSweep = 4096
	}
	logger = logger.With("component", "sweep_cache")
	logger.Info("cache initialized",
		"max_sweeps", config.MaxSweeps,
		"max_beams_per_sweep", config.MaxBeamsPerSweep,
	)
	return &SweepCache{
		config: config,
		logger: logger,
		nextID: 1,
	}
}

// Run feeds beams from msgs into the cache until ctx is cancelled or msgs
// is closed.
func (c *SweepCache) Run(ctx context.Context, msgs <-chan sim.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if msg.Kind == sim.KindBeam && msg.Beam != nil {
				c.Add(msg.Beam)
			}
		}
	}
}

// Add appends one beam, closing the current sweep first when the beam
// starts a new tilt or volume.
func (c *SweepCache) Add(b *sim.BeamSample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur := c.current; cur != nil && (cur.TiltIndex != b.TiltIndex || cur.VolumeNumber != b.VolumeNumber) && !b.EndOfTilt {
		c.closeLocked(ClosedTiltChange)
	}

	if c.current == nil {
		c.current = &Sweep{Summary: Summary{
			ID:           c.nextID,
			VolumeNumber: b.VolumeNumber,
			TiltIndex:    b.TiltIndex,
			StartTime:    b.Time,
		}}
		c.nextID++
		c.elevSum = 0
		c.lastAz = b.Azimuth
	}

	cur := c.current
	cur.AzimuthSpan += math.Abs(azimuthDelta(c.lastAz, b.Azimuth))
	c.lastAz = b.Azimuth
	c.elevSum += b.Elevation
	cur.Data = append(cur.Data, b)
	cur.Beams = len(cur.Data)
	cur.EndTime = b.Time
	cur.Elevation = c.elevSum / float64(cur.Beams)

	switch {
	case b.EndOfTilt:
		c.closeLocked(ClosedEndOfTilt)
	case cur.AzimuthSpan >= 360:
		c.closeLocked(ClosedFullCircle)
	case cur.Beams >= c.config.MaxBeamsPerSweep:
		c.closeLocked(ClosedBeamLimit)
	}
}

// closeLocked moves the current sweep to the closed list and evicts from
// the front. Caller must hold mu.
func (c *SweepCache) closeLocked(reason CloseReason) {
	cur := c.current
	c.current = nil
	cur.ClosedBy = reason
	c.sweeps = append(c.sweeps, cur)

	var evicted int
	for len(c.sweeps) > c.config.MaxSweeps {
		c.sweeps[0] = nil
		c.sweeps = c.sweeps[1:]
		evicted++
	}
	if evicted > 0 {
		c.evictions.Add(int64(evicted))
		metrics.AddCacheEvictions(evicted)
	}
	metrics.SetCacheSweeps(len(c.sweeps))
	metrics.SetCacheSizeBytes(c.sizeBytesLocked())

	c.logger.Debug("sweep closed",
		"id", cur.ID,
		"volume_number", cur.VolumeNumber,
		"tilt_index", cur.TiltIndex,
		"beams", cur.Beams,
		"azimuth_span", cur.AzimuthSpan,
		"closed_by", string(reason),
	)
}

// Get returns the closed sweep with the given id.
func (c *SweepCache) Get(id int64) (*Sweep, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.sweeps {
		if s.ID == id {
			c.hit()
			return s, true
		}
	}
	c.miss()
	return nil, false
}

// Latest returns the most recent complete sweep.
func (c *SweepCache) Latest() (*Sweep, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.sweeps) - 1; i >= 0; i-- {
		if c.sweeps[i].Complete() {
			c.hit()
			return c.sweeps[i], true
		}
	}
	c.miss()
	return nil, false
}

// List returns summaries of the closed sweeps, oldest first.
func (c *SweepCache) List() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Summary, len(c.sweeps))
	for i, s := range c.sweeps {
		out[i] = s.Summary
	}
	return out
}

// Stats holds cache statistics for the sweeps endpoint.
type Stats struct {
	Sweeps           int   `json:"sweeps"`
	CurrentBeams     int   `json:"current_beams"`
	SizeBytes        int64 `json:"size_bytes"`
	Hits             int64 `json:"hits"`
	Misses           int64 `json:"misses"`
	Evictions        int64 `json:"evictions"`
	MaxSweeps        int   `json:"max_sweeps"`
	MaxBeamsPerSweep int   `json:"max_beams_per_sweep"`
}

// Stats returns current cache statistics.
func (c *SweepCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Stats{
		Sweeps:           len(c.sweeps),
		SizeBytes:        c.sizeBytesLocked(),
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		Evictions:        c.evictions.Load(),
		MaxSweeps:        c.config.MaxSweeps,
		MaxBeamsPerSweep: c.config.MaxBeamsPerSweep,
	}
	if c.current != nil {
		st.CurrentBeams = c.current.Beams
	}
	return st
}

func (c *SweepCache) hit() {
	c.hits.Add(1)
	metrics.IncCacheHits()
}

func (c *SweepCache) miss() {
	c.misses.Add(1)
	metrics.IncCacheMisses()
}

// sizeBytesLocked returns a rough estimate of the memory held by closed
// sweeps. Caller must hold mu.
func (c *SweepCache) sizeBytesLocked() int64 {
	var total int64
	for _, s := range c.sweeps {
		total += int64(unsafe.Sizeof(Sweep{}))
		for _, b := range s.Data {
			total += int64(unsafe.Sizeof(sim.BeamSample{})) + int64(len(b.Counts))*int64(unsafe.Sizeof(int(0)))
		}
	}
	return total
}

// azimuthDelta returns the signed shortest turn from a to b in degrees.
func azimuthDelta(a, b float64) float64 {
	d := math.Mod(b-a, 360)
	switch {
	case d > 180:
		d -= 360
	case d <= -180:
		d += 360
	}
	return d
}
