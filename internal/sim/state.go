package sim

import (
	"slices"
	"sync"
)

// Requested holds the operator's target values. Only the command
// interpreter writes these.
type Requested struct {
	MainPower      bool        `json:"main_power"`
	MagnetronPower bool        `json:"magnetron_power"`
	ServoPower     bool        `json:"servo_power"`
	Radiate        bool        `json:"radiate"`
	Elevation      float64     `json:"elevation"`
	Azimuth        float64     `json:"azimuth"`
	PRF            float64     `json:"prf"`
	AzSlewRate     float64     `json:"az_slew_rate"`
	ElSlewRate     float64     `json:"el_slew_rate"`
	NGates         int         `json:"n_gates"`
	StartRange     float64     `json:"start_range"`
	GateSpacing    float64     `json:"gate_spacing"`
	ElevationSteps []float64   `json:"elevation_steps"`
	AntennaMode    AntennaMode `json:"antenna_mode"`
	OpMode         OpMode      `json:"op_mode"`

	// VolumeStarts increments every accepted auto_vol command. The antenna
	// controller restarts the volume whenever it changes.
	VolumeStarts uint64 `json:"volume_starts"`
}

// Actual holds the simulated hardware state. Power flags are written only
// by the power state machine, position and scan counters only by the
// antenna controller.
type Actual struct {
	MainPower      bool    `json:"main_power"`
	MagnetronPower bool    `json:"magnetron_power"`
	ServoPower     bool    `json:"servo_power"`
	Radiate        bool    `json:"radiate"`
	Elevation      float64 `json:"elevation"`
	Azimuth        float64 `json:"azimuth"`

	TiltIndex    int `json:"tilt_index"`
	TiltCount    int `json:"tilt_count"`    // completed sweeps
	VolumeNumber int `json:"volume_number"` // completed volumes
}

// Snapshot is a consistent copy of the whole state.
type Snapshot struct {
	Requested Requested `json:"requested"`
	Actual    Actual    `json:"actual"`
}

// State is the record shared by the simulator's loops. Every field is
// guarded by mu; readers work on Snapshot copies.
type State struct {
	mu  sync.RWMutex
	req Requested
	act Actual
}

// NewState returns the power-on state: manual mode, all power off, antenna
// parked at zero.
func NewState(cfg Config) *State {
	return &State{
		req: Requested{
			PRF:            cfg.PRF,
			AzSlewRate:     cfg.AzSlewRate,
			ElSlewRate:     cfg.ElSlewRate,
			NGates:         cfg.NGates,
			StartRange:     cfg.StartRange,
			GateSpacing:    cfg.GateSpacing,
			ElevationSteps: slices.Clone(cfg.ElevationSteps),
			AntennaMode:    ModeManual,
			OpMode:         OpRun,
		},
	}
}

// Snapshot returns a deep copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Requested: s.req, Actual: s.act}
	snap.Requested.ElevationSteps = slices.Clone(s.req.ElevationSteps)
	return snap
}

// updateRequested runs fn with exclusive access to the requested fields.
// fn may read the actual fields through act but must not modify them.
func (s *State) updateRequested(fn func(req *Requested, act Actual)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.req, s.act)
}

// updateActual runs fn with exclusive access to the actual fields.
func (s *State) updateActual(fn func(req Requested, act *Actual)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.req, &s.act)
}
