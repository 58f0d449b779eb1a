package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// Interpreter applies inbound commands to the requested half of the state.
type Interpreter struct {
	cfg    Config
	state  *State
	logger *slog.Logger
}

// NewInterpreter creates an interpreter writing into state.
func NewInterpreter(cfg Config, state *State, logger *slog.Logger) *Interpreter {
	return &Interpreter{
		cfg:    cfg,
		state:  state,
		logger: logger.With("component", "interpreter"),
	}
}

// Apply updates the requested state for one command. A non-nil error
// means the command was rejected (or, for elevation_steps, that some
// entries were skipped); the prior value of the field is kept. Unknown
// keys are ignored and return nil.
func (in *Interpreter) Apply(cmd Command) error {
	key := strings.TrimSpace(cmd.Key)
	value := strings.TrimSpace(cmd.Value)

	switch key {
	case KeyMainPower, KeyMagnetronPower, KeyServoPower, KeyRadiate:
		on, err := parseSwitch(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		in.state.updateRequested(func(req *Requested, _ Actual) {
			applySwitch(req, key, on)
		})
		return nil

	case KeyElevation:
		v, err := parseFloat(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		v = clamp(v, in.cfg.MinElevation, in.cfg.MaxElevation)
		in.state.updateRequested(func(req *Requested, _ Actual) { req.Elevation = v })
		return nil

	case KeyAzimuth:
		v, err := parseFloat(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		v = NormalizeAzimuth(v)
		in.state.updateRequested(func(req *Requested, _ Actual) { req.Azimuth = v })
		return nil

	case KeyAzSlewRate, KeyElSlewRate:
		v, err := parseFloat(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s %g: %w", key, v, ErrOutOfRange)
		}
		in.state.updateRequested(func(req *Requested, _ Actual) {
			if key == KeyAzSlewRate {
				req.AzSlewRate = math.Min(v, in.cfg.MaxAzSlewRate)
			} else {
				req.ElSlewRate = math.Min(v, in.cfg.MaxElSlewRate)
			}
		})
		return nil

	case KeyPRF, KeyStartRange, KeyGateSpacing:
		v, err := parseFloat(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if v < 0 || (v == 0 && key != KeyStartRange) {
			return fmt.Errorf("%s %g: %w", key, v, ErrOutOfRange)
		}
		in.state.updateRequested(func(req *Requested, _ Actual) {
			switch key {
			case KeyPRF:
				req.PRF = v
			case KeyStartRange:
				req.StartRange = v
			case KeyGateSpacing:
				req.GateSpacing = v
			}
		})
		return nil

	case KeyNGates:
		n, err := strconv.Atoi(value)
		if err != nil {
			f, ferr := parseFloat(value)
			if ferr != nil {
				return fmt.Errorf("%s %q: %w", key, value, ErrMalformedValue)
			}
			n = int(math.Round(f))
		}
		if n < 1 {
			return fmt.Errorf("%s %d: %w", key, n, ErrOutOfRange)
		}
		if n > in.cfg.MaxGates {
			n = in.cfg.MaxGates
		}
		in.state.updateRequested(func(req *Requested, _ Actual) { req.NGates = n })
		return nil

	case KeyElevationSteps:
		steps, err := in.parseElevationSteps(value)
		in.state.updateRequested(func(req *Requested, _ Actual) { req.ElevationSteps = steps })
		return err

	case KeyAntennaMode:
		return in.applyAntennaMode(value)

	case KeyOpMode:
		m, err := ParseOpMode(strings.ToLower(value))
		if err != nil {
			return err
		}
		in.state.updateRequested(func(req *Requested, _ Actual) { req.OpMode = m })
		return nil
	}

	in.logger.Debug("ignoring unknown command", "key", key, "value", value)
	return nil
}

// applySwitch sets one power request, cascading "off" down the interlock
// chain so the requested state never asks for an impossible combination.
func applySwitch(req *Requested, key string, on bool) {
	switch key {
	case KeyMainPower:
		req.MainPower = on
		if !on {
			req.MagnetronPower = false
			req.ServoPower = false
			req.Radiate = false
		}
	case KeyMagnetronPower:
		req.MagnetronPower = on
		if !on {
			req.Radiate = false
		}
	case KeyServoPower:
		req.ServoPower = on
	case KeyRadiate:
		req.Radiate = on
	}
}

func (in *Interpreter) applyAntennaMode(value string) error {
	mode, err := ParseAntennaMode(strings.ToLower(value))
	if err != nil {
		return err
	}

	var rejected error
	in.state.updateRequested(func(req *Requested, act Actual) {
		switch mode {
		case ModeManual, ModeFollowSun:
			req.AntennaMode = mode
		case ModeAutoVol:
			if len(req.ElevationSteps) == 0 {
				rejected = ErrEmptyElevationSteps
				return
			}
			req.AntennaMode = mode
			req.VolumeStarts++
		case ModeAutoPPI, ModeStop:
			req.AntennaMode = mode
			req.Elevation = act.Elevation
			req.Azimuth = act.Azimuth
		default:
			rejected = fmt.Errorf("antenna mode %q is reserved: %w", value, ErrUnknownMode)
		}
	})
	if rejected != nil {
		return fmt.Errorf("%s=%s: %w", KeyAntennaMode, value, rejected)
	}
	in.logger.Info("antenna mode changed", "mode", mode.String())
	return nil
}

// parseElevationSteps parses a comma list, skipping entries that are not
// numbers or fall outside the elevation limits. The returned error, if
// any, describes the skipped entries; the parsed list is still valid.
func (in *Interpreter) parseElevationSteps(value string) ([]float64, error) {
	var steps []float64
	var errs []error
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := parseFloat(field)
		if err != nil {
			in.logger.Warn("skipping malformed elevation step", "value", field)
			errs = append(errs, err)
			continue
		}
		if v < in.cfg.MinElevation || v > in.cfg.MaxElevation {
			in.logger.Warn("skipping out of range elevation step", "value", v)
			errs = append(errs, fmt.Errorf("elevation step %g: %w", v, ErrOutOfRange))
			continue
		}
		steps = append(steps, v)
	}
	if len(errs) > 0 {
		return steps, fmt.Errorf("%s: skipped %d entries: %w", KeyElevationSteps, len(errs), errors.Join(errs...))
	}
	return steps, nil
}

var knownKeys = map[string]bool{
	KeyMainPower:      true,
	KeyMagnetronPower: true,
	KeyServoPower:     true,
	KeyRadiate:        true,
	KeyElevation:      true,
	KeyAzimuth:        true,
	KeyPRF:            true,
	KeyAzSlewRate:     true,
	KeyElSlewRate:     true,
	KeyNGates:         true,
	KeyStartRange:     true,
	KeyGateSpacing:    true,
	KeyElevationSteps: true,
	KeyAntennaMode:    true,
	KeyOpMode:         true,
}

// IsKnownKey reports whether the interpreter acts on key.
func IsKnownKey(key string) bool {
	return knownKeys[strings.TrimSpace(key)]
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("switch value %q: %w", s, ErrMalformedValue)
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("number %q: %w", s, ErrMalformedValue)
	}
	return v, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// errorReason maps an Apply error to a short metric label.
func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyElevationSteps):
		return "empty_elevation_steps"
	case errors.Is(err, ErrUnknownMode):
		return "unknown_mode"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrMalformedValue):
		return "malformed"
	}
	return "other"
}
