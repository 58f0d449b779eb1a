package sim

import (
	"math"
	"math/rand/v2"
	"time"
)

// minEchoRange keeps the range correction finite at the radar.
const minEchoRange = 1.0 // km

// BeamGenerator synthesizes beam samples from state snapshots. It is not
// safe for concurrent use; only the beam loop calls Generate.
type BeamGenerator struct {
	cfg Config
	rng *rand.Rand

	lastTiltCount    int
	lastVolumeNumber int
}

// NewBeamGenerator seeds the noise source from cfg.Seed, or from the
// clock when the seed is zero.
func NewBeamGenerator(cfg Config) *BeamGenerator {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &BeamGenerator{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Generate builds the beam for one interval. A sample is produced even
// with main power off so downstream displays keep a steady heartbeat.
func (g *BeamGenerator) Generate(snap Snapshot, now time.Time) *BeamSample {
	req, act := snap.Requested, snap.Actual

	b := &BeamSample{
		Time:         now.UTC(),
		Elevation:    act.Elevation,
		Azimuth:      act.Azimuth,
		StartRange:   req.StartRange,
		GateSpacing:  req.GateSpacing,
		NGates:       req.NGates,
		PRF:          req.PRF,
		TiltIndex:    act.TiltIndex,
		VolumeNumber: act.VolumeNumber,
		EndOfTilt:    act.TiltCount != g.lastTiltCount,
		EndOfVolume:  act.VolumeNumber != g.lastVolumeNumber,
		Counts:       make([]int, req.NGates),
	}
	g.lastTiltCount = act.TiltCount
	g.lastVolumeNumber = act.VolumeNumber

	if !act.MainPower {
		return b
	}
	switch req.OpMode {
	case OpOff, OpStandby:
		return b
	case OpCalibrate:
		b.Calibration = true
		g.fillCalibration(b.Counts)
	default:
		g.fillNoise(b.Counts, req, act.Radiate)
	}
	return b
}

// fillNoise writes baseline noise, plus a range-corrected echo when the
// transmitter is radiating.
func (g *BeamGenerator) fillNoise(counts []int, req Requested, radiate bool) {
	for i := range counts {
		level := g.cfg.NoiseBaseline
		if radiate {
			r := math.Max(req.StartRange+float64(i)*req.GateSpacing, minEchoRange)
			level = math.Max(level, g.echoCount(r))
		}
		counts[i] = g.quantize(level + g.jitter())
	}
}

// echoCount converts the synthetic reflectivity at range r (km) into
// receiver counts using the calibration slope and offset.
func (g *BeamGenerator) echoCount(r float64) float64 {
	z := (r - g.cfg.EchoCenter) / g.cfg.EchoWidth
	dbz := g.cfg.EchoPeakDBZ * math.Exp(-z*z/2)
	rangeCorrection := 20*math.Log10(r) + r*g.cfg.AtmosAtten
	return g.cfg.CalibOffset + (dbz-rangeCorrection)*g.cfg.CalibSlope
}

// fillCalibration writes baseline noise with a rectangular test pulse.
func (g *BeamGenerator) fillCalibration(counts []int) {
	for i := range counts {
		level := g.cfg.NoiseBaseline
		if i >= g.cfg.PulseGateStart && i <= g.cfg.PulseGateEnd {
			level += g.cfg.PulseHeight
		}
		counts[i] = g.quantize(level + g.jitter())
	}
}

func (g *BeamGenerator) jitter() float64 {
	return (g.rng.Float64() - 0.5) * g.cfg.NoiseJitter
}

func (g *BeamGenerator) quantize(v float64) int {
	n := int(math.Round(v))
	if n < 0 {
		return 0
	}
	if n > g.cfg.MaxCount {
		return g.cfg.MaxCount
	}
	return n
}
