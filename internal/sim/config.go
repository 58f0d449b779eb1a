package sim

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the immutable startup values for a Simulator.
type Config struct {
	TickInterval   time.Duration // antenna controller period (default: 30ms)
	PowerInterval  time.Duration // power reconciliation period (default: 1500ms)
	BeamInterval   time.Duration // beam generator period (default: 30ms)
	StatusInterval time.Duration // status reporter period (default: 1000ms)
	PollInterval   time.Duration // command queue idle sleep (default: 50ms)

	PRF            float64 // Hz
	AzSlewRate     float64 // deg/s
	ElSlewRate     float64 // deg/s
	NGates         int
	StartRange     float64 // km
	GateSpacing    float64 // km
	ElevationSteps []float64

	MinElevation  float64
	MaxElevation  float64
	MaxAzSlewRate float64
	MaxElSlewRate float64
	MaxGates      int

	// ServoGatesMotion holds the antenna still while actual servo power is off.
	ServoGatesMotion bool

	// Noise and echo model.
	NoiseBaseline float64 // counts
	NoiseJitter   float64 // peak-to-peak counts
	CalibSlope    float64 // counts per dBZ
	CalibOffset   float64 // counts at 0 dBZ, 1 km
	MaxCount      int

	// Synthetic echo, added while radiating.
	EchoPeakDBZ    float64
	EchoCenter     float64 // km
	EchoWidth      float64 // km
	AtmosAtten     float64 // dB/km, two way

	// Calibration pulse, used in the calibrate op mode.
	PulseGateStart int
	PulseGateEnd   int
	PulseHeight    float64

	ReplyQueueCapacity int
	Seed               uint64 // 0 picks a time-based seed
}

// DefaultConfig returns the values RDAS hardware starts with.
func DefaultConfig() Config {
	return Config{
		TickInterval:   30 * time.Millisecond,
		PowerInterval:  1500 * time.Millisecond,
		BeamInterval:   30 * time.Millisecond,
		StatusInterval: 1000 * time.Millisecond,
		PollInterval:   50 * time.Millisecond,

		PRF:            1000,
		AzSlewRate:     30,
		ElSlewRate:     10,
		NGates:         256,
		StartRange:     0.3,
		GateSpacing:    0.6,
		ElevationSteps: []float64{0.5, 1.5, 2.5, 3.5, 5.0, 7.0, 10.0},

		MinElevation:  0,
		MaxElevation:  90,
		MaxAzSlewRate: 30,
		MaxElSlewRate: 30,
		MaxGates:      2048,

		NoiseBaseline: 200,
		NoiseJitter:   30,
		CalibSlope:    15,
		CalibOffset:   300,
		MaxCount:      16383,

		EchoPeakDBZ: 45,
		EchoCenter:  60,
		EchoWidth:   15,
		AtmosAtten:  0.014,

		PulseGateStart: 100,
		PulseGateEnd:   110,
		PulseHeight:    2000,

		ReplyQueueCapacity: 4096,
	}
}

// Validate reports structural problems that make the config unusable.
func (c Config) Validate() error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"tick interval":   c.TickInterval,
		"power interval":  c.PowerInterval,
		"beam interval":   c.BeamInterval,
		"status interval": c.StatusInterval,
		"poll interval":   c.PollInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.MinElevation > c.MaxElevation {
		errs = append(errs, fmt.Errorf("min elevation %g exceeds max elevation %g", c.MinElevation, c.MaxElevation))
	}
	if c.MaxAzSlewRate <= 0 || c.MaxElSlewRate <= 0 {
		errs = append(errs, errors.New("max slew rates must be positive"))
	}
	if c.AzSlewRate <= 0 || c.AzSlewRate > c.MaxAzSlewRate {
		errs = append(errs, fmt.Errorf("az slew rate %g outside (0, %g]", c.AzSlewRate, c.MaxAzSlewRate))
	}
	if c.ElSlewRate <= 0 || c.ElSlewRate > c.MaxElSlewRate {
		errs = append(errs, fmt.Errorf("el slew rate %g outside (0, %g]", c.ElSlewRate, c.MaxElSlewRate))
	}
	if c.MaxGates < 1 || c.NGates < 1 || c.NGates > c.MaxGates {
		errs = append(errs, fmt.Errorf("n gates %d outside [1, %d]", c.NGates, c.MaxGates))
	}
	if c.PulseGateStart < 0 || c.PulseGateEnd < c.PulseGateStart {
		errs = append(errs, fmt.Errorf("calibration pulse gates [%d, %d] invalid", c.PulseGateStart, c.PulseGateEnd))
	}
	if c.MaxCount < 1 {
		errs = append(errs, fmt.Errorf("max count %d must be positive", c.MaxCount))
	}
	for _, el := range c.ElevationSteps {
		if el < c.MinElevation || el > c.MaxElevation {
			errs = append(errs, fmt.Errorf("elevation step %g outside [%g, %g]", el, c.MinElevation, c.MaxElevation))
		}
	}
	return errors.Join(errs...)
}
