package sim

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownMode is returned for an antenna_mode or op_mode value that
	// names no known mode.
	ErrUnknownMode = errors.New("unknown mode")

	// ErrEmptyElevationSteps rejects auto_vol while no elevation steps are set.
	ErrEmptyElevationSteps = errors.New("elevation steps list is empty")

	// ErrMalformedValue marks a command value that failed to parse.
	ErrMalformedValue = errors.New("malformed value")

	// ErrOutOfRange marks a command value outside its allowed range.
	ErrOutOfRange = errors.New("value out of range")
)

// AntennaMode selects how the antenna controller moves the antenna.
type AntennaMode int

const (
	ModeManual AntennaMode = iota
	ModeAutoVol
	ModeAutoPPI
	ModeAutoRHI // reserved; never entered
	ModeFollowSun
	ModeStop
)

var antennaModeNames = [...]string{
	ModeManual:    "manual",
	ModeAutoVol:   "auto_vol",
	ModeAutoPPI:   "auto_ppi",
	ModeAutoRHI:   "auto_rhi",
	ModeFollowSun: "follow_sun",
	ModeStop:      "stop",
}

func (m AntennaMode) String() string {
	if m < 0 || int(m) >= len(antennaModeNames) {
		return fmt.Sprintf("AntennaMode(%d)", int(m))
	}
	return antennaModeNames[m]
}

// MarshalText encodes the mode by name.
func (m AntennaMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *AntennaMode) UnmarshalText(b []byte) error {
	v, err := ParseAntennaMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// AntennaModeNames lists every mode name, in declaration order.
func AntennaModeNames() []string {
	return append([]string(nil), antennaModeNames[:]...)
}

// ParseAntennaMode converts a command value to an AntennaMode.
func ParseAntennaMode(s string) (AntennaMode, error) {
	for i, name := range antennaModeNames {
		if name == s {
			return AntennaMode(i), nil
		}
	}
	return 0, fmt.Errorf("antenna mode %q: %w", s, ErrUnknownMode)
}

// OpMode is the transmitter operating mode.
type OpMode int

const (
	OpOff OpMode = iota
	OpStandby
	OpCalibrate
	OpRun
)

var opModeNames = [...]string{
	OpOff:       "off",
	OpStandby:   "standby",
	OpCalibrate: "calibrate",
	OpRun:       "run",
}

func (m OpMode) String() string {
	if m < 0 || int(m) >= len(opModeNames) {
		return fmt.Sprintf("OpMode(%d)", int(m))
	}
	return opModeNames[m]
}

func (m OpMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *OpMode) UnmarshalText(b []byte) error {
	v, err := ParseOpMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseOpMode converts a command value to an OpMode.
func ParseOpMode(s string) (OpMode, error) {
	for i, name := range opModeNames {
		if name == s {
			return OpMode(i), nil
		}
	}
	return 0, fmt.Errorf("op mode %q: %w", s, ErrUnknownMode)
}

// Command keys understood by the interpreter.
const (
	KeyMainPower      = "main_power"
	KeyMagnetronPower = "magnetron_power"
	KeyServoPower     = "servo_power"
	KeyRadiate        = "radiate"
	KeyElevation      = "elevation"
	KeyAzimuth        = "azimuth"
	KeyPRF            = "prf"
	KeyAzSlewRate     = "az_slew_rate"
	KeyElSlewRate     = "el_slew_rate"
	KeyNGates         = "n_gates"
	KeyStartRange     = "start_range"
	KeyGateSpacing    = "gate_spacing"
	KeyElevationSteps = "elevation_steps"
	KeyAntennaMode    = "antenna_mode"
	KeyOpMode         = "op_mode"
)

// Command is one inbound key/value instruction.
type Command struct {
	Key   string `json:"key" msgpack:"key"`
	Value string `json:"value" msgpack:"value"`
}

// BeamSample is one synthetic ray of range-gate counts.
type BeamSample struct {
	Time         time.Time `json:"time" msgpack:"time"`
	Elevation    float64   `json:"elevation" msgpack:"el"`
	Azimuth      float64   `json:"azimuth" msgpack:"az"`
	StartRange   float64   `json:"start_range" msgpack:"start_range"`   // km
	GateSpacing  float64   `json:"gate_spacing" msgpack:"gate_spacing"` // km
	NGates       int       `json:"n_gates" msgpack:"n_gates"`
	PRF          float64   `json:"prf" msgpack:"prf"`
	TiltIndex    int       `json:"tilt_index" msgpack:"tilt"`
	VolumeNumber int       `json:"volume_number" msgpack:"vol"`
	EndOfTilt    bool      `json:"end_of_tilt,omitempty" msgpack:"eot"`
	EndOfVolume  bool      `json:"end_of_volume,omitempty" msgpack:"eov"`
	Calibration  bool      `json:"calibration,omitempty" msgpack:"cal"`
	Counts       []int     `json:"counts" msgpack:"counts"`
}

// StatusSnapshot reports the actual power flags at one instant.
type StatusSnapshot struct {
	Time           time.Time   `json:"time" msgpack:"time"`
	MainPower      bool        `json:"main_power" msgpack:"main"`
	MagnetronPower bool        `json:"magnetron_power" msgpack:"mag"`
	ServoPower     bool        `json:"servo_power" msgpack:"servo"`
	Radiate        bool        `json:"radiate" msgpack:"radiate"`
	Mode           AntennaMode `json:"antenna_mode" msgpack:"mode"`
	OpMode         OpMode      `json:"op_mode" msgpack:"op"`
	Elevation      float64     `json:"elevation" msgpack:"el"`
	Azimuth        float64     `json:"azimuth" msgpack:"az"`
}

// MessageKind tags a reply queue message.
type MessageKind string

const (
	KindBeam   MessageKind = "beam"
	KindStatus MessageKind = "status"
)

// Message is one element of the reply queue. Exactly one of Beam and
// Status is set, matching Kind.
type Message struct {
	Kind   MessageKind     `json:"type" msgpack:"type"`
	Beam   *BeamSample     `json:"beam,omitempty" msgpack:"beam,omitempty"`
	Status *StatusSnapshot `json:"status,omitempty" msgpack:"status,omitempty"`
}

// BeamMessage wraps a beam for the reply queue.
func BeamMessage(b *BeamSample) Message {
	return Message{Kind: KindBeam, Beam: b}
}

// StatusMessage wraps a status snapshot for the reply queue.
func StatusMessage(s *StatusSnapshot) Message {
	return Message{Kind: KindStatus, Status: s}
}
