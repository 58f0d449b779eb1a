package sim

import "time"

// newStatus captures the actual power flags and antenna position.
func newStatus(snap Snapshot, now time.Time) *StatusSnapshot {
	return &StatusSnapshot{
		Time:           now.UTC(),
		MainPower:      snap.Actual.MainPower,
		MagnetronPower: snap.Actual.MagnetronPower,
		ServoPower:     snap.Actual.ServoPower,
		Radiate:        snap.Actual.Radiate,
		Mode:           snap.Requested.AntennaMode,
		OpMode:         snap.Requested.OpMode,
		Elevation:      snap.Actual.Elevation,
		Azimuth:        snap.Actual.Azimuth,
	}
}
