// Package archive persists simulator output. Writer stores beams as
// parquet files rotated by row count; Recorder and Player keep a
// zstd-compressed msgpack log of every message a client received.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/segmentio/parquet-go"

	"github.com/star/radarsim/internal/metrics"
	"github.com/star/radarsim/internal/sim"
)

const partialSuffix = ".partial"

// BeamRow is one beam in the parquet schema.
type BeamRow struct {
	TimeUnixNano int64   `parquet:"time_unix_nano"`
	Elevation    float64 `parquet:"elevation"`
	Azimuth      float64 `parquet:"azimuth"`
	StartRange   float64 `parquet:"start_range_km"`
	GateSpacing  float64 `parquet:"gate_spacing_km"`
	PRF          float64 `parquet:"prf"`
	NGates       int32   `parquet:"n_gates"`
	TiltIndex    int32   `parquet:"tilt_index"`
	VolumeNumber int32   `parquet:"volume_number"`
	EndOfTilt    bool    `parquet:"end_of_tilt"`
	EndOfVolume  bool    `parquet:"end_of_volume"`
	Calibration  bool    `parquet:"calibration"`
	Counts       []int32 `parquet:"counts"`
}

// NewBeamRow flattens a beam into a row.
func NewBeamRow(b *sim.BeamSample) BeamRow {
	counts := make([]int32, len(b.Counts))
	for i, c := range b.Counts {
		counts[i] = int32(c)
	}
	return BeamRow{
		TimeUnixNano: b.Time.UnixNano(),
		Elevation:    b.Elevation,
		Azimuth:      b.Azimuth,
		StartRange:   b.StartRange,
		GateSpacing:  b.GateSpacing,
		PRF:          b.PRF,
		NGates:       int32(b.NGates),
		TiltIndex:    int32(b.TiltIndex),
		VolumeNumber: int32(b.VolumeNumber),
		EndOfTilt:    b.EndOfTilt,
		EndOfVolume:  b.EndOfVolume,
		Calibration:  b.Calibration,
		Counts:       counts,
	}
}

// Config controls the beam archive.
type Config struct {
	Dir         string
	RowsPerFile int
	MaxFiles    int // completed files kept in Dir; 0 keeps all

	// Site metadata stamped into every file.
	SiteName  string
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// Writer appends beams to parquet files in Dir. A file is written under a
// ".partial" name and renamed once it is closed, so every *.parquet file
// in Dir is complete.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	f     *os.File
	w     *parquet.GenericWriter[BeamRow]
	path  string
	rows  int
	files int
}

// NewWriter creates the archive directory if needed.
func NewWriter(cfg Config, logger *slog.Logger) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, errors.New("archive: empty directory")
	}
	if cfg.RowsPerFile < 1 {
		return nil, fmt.Errorf("archive: rows per file %d must be positive", cfg.RowsPerFile)
	}
	if cfg.MaxFiles < 0 {
		return nil, fmt.Errorf("archive: max files %d must not be negative", cfg.MaxFiles)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return &Writer{cfg: cfg, logger: logger.With("component", "archive")}, nil
}

// Write appends one beam, rotating to a new file when the current one is
// full.
func (w *Writer) Write(b *sim.BeamSample) error {
	if w.w == nil {
		if err := w.open(b.Time); err != nil {
			return err
		}
	}
	if _, err := w.w.Write([]BeamRow{NewBeamRow(b)}); err != nil {
		return fmt.Errorf("archive: writing %s: %w", w.path, err)
	}
	w.rows++
	metrics.AddArchiveRows(1)

	if w.rows >= w.cfg.RowsPerFile {
		return w.rotate()
	}
	return nil
}

// Files returns how many files have been completed.
func (w *Writer) Files() int { return w.files }

// Close finishes the current file, if any.
func (w *Writer) Close() error {
	return w.rotate()
}

// Run archives every beam received on msgs until the channel closes or
// ctx is cancelled, then closes the writer.
func (w *Writer) Run(ctx context.Context, msgs <-chan sim.Message) error {
	w.logger.Info("archive started", "dir", w.cfg.Dir, "rows_per_file", w.cfg.RowsPerFile)
	defer func() {
		if err := w.Close(); err != nil {
			w.logger.Error("archive close failed", "error", err)
		}
		w.logger.Info("archive stopped", "files", w.files)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			if m.Kind != sim.KindBeam || m.Beam == nil {
				continue
			}
			if err := w.Write(m.Beam); err != nil {
				return err
			}
		}
	}
}

func (w *Writer) open(t time.Time) error {
	name := fmt.Sprintf("%s%s-%04d%s", filePrefix, t.UTC().Format("20060102T150405.000Z"), w.files+1, fileSuffix)
	w.path = filepath.Join(w.cfg.Dir, name)

	f, err := os.Create(w.path + partialSuffix)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	w.f = f
	w.w = parquet.NewGenericWriter[BeamRow](f,
		parquet.KeyValueMetadata("site", w.cfg.SiteName),
		parquet.KeyValueMetadata("latitude", strconv.FormatFloat(w.cfg.Latitude, 'f', -1, 64)),
		parquet.KeyValueMetadata("longitude", strconv.FormatFloat(w.cfg.Longitude, 'f', -1, 64)),
		parquet.KeyValueMetadata("altitude_m", strconv.FormatFloat(w.cfg.Altitude, 'f', -1, 64)),
		parquet.KeyValueMetadata("created", time.Now().UTC().Format(time.RFC3339)),
	)
	w.rows = 0
	w.logger.Debug("archive file opened", "path", w.path)
	return nil
}

func (w *Writer) rotate() error {
	if w.w == nil {
		return nil
	}
	werr := w.w.Close()
	ferr := w.f.Close()
	w.w, w.f = nil, nil
	if err := errors.Join(werr, ferr); err != nil {
		return fmt.Errorf("archive: closing %s: %w", w.path, err)
	}
	if err := os.Rename(w.path+partialSuffix, w.path); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	w.files++
	w.logger.Info("archive file completed", "path", w.path, "rows", w.rows)

	removed, err := prune(w.cfg.Dir, w.cfg.MaxFiles)
	if removed > 0 {
		w.logger.Info("archive pruned", "files_removed", removed, "max_files", w.cfg.MaxFiles)
	}
	return err
}

// ReadFile loads every row of an archive file along with its key/value
// metadata.
func ReadFile(path string) ([]BeamRow, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}

	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, nil, fmt.Errorf("archive: %s: %w", path, err)
	}
	meta := make(map[string]string)
	for _, key := range []string{"site", "latitude", "longitude", "altitude_m", "created"} {
		if v, ok := pf.Lookup(key); ok {
			meta[key] = v
		}
	}

	r := parquet.NewGenericReader[BeamRow](f)
	defer r.Close()
	rows := make([]BeamRow, r.NumRows())
	n := 0
	for n < len(rows) {
		m, err := r.Read(rows[n:])
		n += m
		if errors.Is(err, io.EOF) || (err == nil && m == 0) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("archive: reading %s: %w", path, err)
		}
	}
	return rows[:n], meta, nil
}
