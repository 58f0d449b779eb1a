// Package config loads radarsim settings from an optional config file and
// RADARSIM_* environment variables.
//
// The file is radarsim.{toml,yaml,json}, searched for in /etc/radarsim and
// the working directory unless an explicit path is given. Every key can be
// overridden from the environment: sim.prf becomes RADARSIM_SIM_PRF.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/star/radarsim/internal/sim"
)

// ErrInvalid marks a configuration that cannot be used at all.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full service configuration.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
	Sim     SimConfig     `mapstructure:"sim"`
	Site    SiteConfig    `mapstructure:"site"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Sweeps  SweepsConfig  `mapstructure:"sweeps"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	TrustProxy        bool          `mapstructure:"trust_proxy"` // honor X-Forwarded-For
}

type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"` // empty logs to stdout
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SimConfig mirrors sim.Config.
type SimConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	PowerInterval  time.Duration `mapstructure:"power_interval"`
	BeamInterval   time.Duration `mapstructure:"beam_interval"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`

	PRF            float64   `mapstructure:"prf"`
	AzSlewRate     float64   `mapstructure:"az_slew_rate"`
	ElSlewRate     float64   `mapstructure:"el_slew_rate"`
	NGates         int       `mapstructure:"n_gates"`
	StartRange     float64   `mapstructure:"start_range"`
	GateSpacing    float64   `mapstructure:"gate_spacing"`
	ElevationSteps []float64 `mapstructure:"elevation_steps"`

	MinElevation     float64 `mapstructure:"min_elevation"`
	MaxElevation     float64 `mapstructure:"max_elevation"`
	MaxAzSlewRate    float64 `mapstructure:"max_az_slew_rate"`
	MaxElSlewRate    float64 `mapstructure:"max_el_slew_rate"`
	MaxGates         int     `mapstructure:"max_gates"`
	ServoGatesMotion bool    `mapstructure:"servo_gates_motion"`

	NoiseBaseline float64 `mapstructure:"noise_baseline"`
	NoiseJitter   float64 `mapstructure:"noise_jitter"`
	CalibSlope    float64 `mapstructure:"calib_slope"`
	CalibOffset   float64 `mapstructure:"calib_offset"`

	PulseGateStart int     `mapstructure:"pulse_gate_start"`
	PulseGateEnd   int     `mapstructure:"pulse_gate_end"`
	PulseHeight    float64 `mapstructure:"pulse_height"`

	ReplyQueueCapacity int    `mapstructure:"reply_queue_capacity"`
	Seed               uint64 `mapstructure:"seed"`
}

type SiteConfig struct {
	Name        string        `mapstructure:"name"`
	Latitude    float64       `mapstructure:"latitude"`
	Longitude   float64       `mapstructure:"longitude"`
	Altitude    float64       `mapstructure:"altitude"` // meters
	SunInterval time.Duration `mapstructure:"sun_interval"`
}

type StreamConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	BufferSize        int           `mapstructure:"buffer_size"`
	MaxClients        int           `mapstructure:"max_clients"`
	MaxPerIP          int           `mapstructure:"max_per_ip"`
}

type ArchiveConfig struct {
	Dir         string `mapstructure:"dir"` // empty disables the archive
	RowsPerFile int    `mapstructure:"rows_per_file"`
	MaxFiles    int    `mapstructure:"max_files"` // 0 keeps every file
}

type SweepsConfig struct {
	MaxSweeps        int `mapstructure:"max_sweeps"`
	MaxBeamsPerSweep int `mapstructure:"max_beams_per_sweep"`
}

// Default returns the built-in configuration.
func Default() Config {
	sc := sim.DefaultConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  64,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Sim: SimConfig{
			TickInterval:       sc.TickInterval,
			PowerInterval:      sc.PowerInterval,
			BeamInterval:       sc.BeamInterval,
			StatusInterval:     sc.StatusInterval,
			PollInterval:       sc.PollInterval,
			PRF:                sc.PRF,
			AzSlewRate:         sc.AzSlewRate,
			ElSlewRate:         sc.ElSlewRate,
			NGates:             sc.NGates,
			StartRange:         sc.StartRange,
			GateSpacing:        sc.GateSpacing,
			ElevationSteps:     sc.ElevationSteps,
			MinElevation:       sc.MinElevation,
			MaxElevation:       sc.MaxElevation,
			MaxAzSlewRate:      sc.MaxAzSlewRate,
			MaxElSlewRate:      sc.MaxElSlewRate,
			MaxGates:           sc.MaxGates,
			NoiseBaseline:      sc.NoiseBaseline,
			NoiseJitter:        sc.NoiseJitter,
			CalibSlope:         sc.CalibSlope,
			CalibOffset:        sc.CalibOffset,
			PulseGateStart:     sc.PulseGateStart,
			PulseGateEnd:       sc.PulseGateEnd,
			PulseHeight:        sc.PulseHeight,
			ReplyQueueCapacity: sc.ReplyQueueCapacity,
		},
		Site: SiteConfig{
			Name:        "rdas",
			Latitude:    39.8786,
			Longitude:   -104.7591,
			Altitude:    1600,
			SunInterval: time.Second,
		},
		Stream: StreamConfig{
			PollInterval:      20 * time.Millisecond,
			KeepaliveInterval: 15 * time.Second,
			WriteTimeout:      10 * time.Second,
			BufferSize:        256,
			MaxClients:        64,
			MaxPerIP:          8,
		},
		Archive: ArchiveConfig{
			RowsPerFile: 100000,
		},
		Sweeps: SweepsConfig{
			MaxSweeps:        8,
			MaxBeamsPerSweep: 4096,
		},
	}
}

// Load reads the configuration. path names an explicit config file; when
// empty the standard locations are searched and a missing file is not an
// error.
func Load(path string, logger *slog.Logger) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("RADARSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("radarsim")
		v.AddConfigPath("/etc/radarsim")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		logger.Info("no config file found, using defaults and environment")
	} else {
		logger.Info("config file loaded", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	sanitize(&cfg, logger)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so that environment overrides are
// seen by Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.read_header_timeout", d.HTTP.ReadHeaderTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)
	v.SetDefault("http.trust_proxy", d.HTTP.TrustProxy)

	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.token", d.Auth.Token)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	s := d.Sim
	v.SetDefault("sim.tick_interval", s.TickInterval)
	v.SetDefault("sim.power_interval", s.PowerInterval)
	v.SetDefault("sim.beam_interval", s.BeamInterval)
	v.SetDefault("sim.status_interval", s.StatusInterval)
	v.SetDefault("sim.poll_interval", s.PollInterval)
	v.SetDefault("sim.prf", s.PRF)
	v.SetDefault("sim.az_slew_rate", s.AzSlewRate)
	v.SetDefault("sim.el_slew_rate", s.ElSlewRate)
	v.SetDefault("sim.n_gates", s.NGates)
	v.SetDefault("sim.start_range", s.StartRange)
	v.SetDefault("sim.gate_spacing", s.GateSpacing)
	v.SetDefault("sim.elevation_steps", s.ElevationSteps)
	v.SetDefault("sim.min_elevation", s.MinElevation)
	v.SetDefault("sim.max_elevation", s.MaxElevation)
	v.SetDefault("sim.max_az_slew_rate", s.MaxAzSlewRate)
	v.SetDefault("sim.max_el_slew_rate", s.MaxElSlewRate)
	v.SetDefault("sim.max_gates", s.MaxGates)
	v.SetDefault("sim.servo_gates_motion", s.ServoGatesMotion)
	v.SetDefault("sim.noise_baseline", s.NoiseBaseline)
	v.SetDefault("sim.noise_jitter", s.NoiseJitter)
	v.SetDefault("sim.calib_slope", s.CalibSlope)
	v.SetDefault("sim.calib_offset", s.CalibOffset)
	v.SetDefault("sim.pulse_gate_start", s.PulseGateStart)
	v.SetDefault("sim.pulse_gate_end", s.PulseGateEnd)
	v.SetDefault("sim.pulse_height", s.PulseHeight)
	v.SetDefault("sim.reply_queue_capacity", s.ReplyQueueCapacity)
	v.SetDefault("sim.seed", s.Seed)

	v.SetDefault("site.name", d.Site.Name)
	v.SetDefault("site.latitude", d.Site.Latitude)
	v.SetDefault("site.longitude", d.Site.Longitude)
	v.SetDefault("site.altitude", d.Site.Altitude)
	v.SetDefault("site.sun_interval", d.Site.SunInterval)

	v.SetDefault("stream.poll_interval", d.Stream.PollInterval)
	v.SetDefault("stream.keepalive_interval", d.Stream.KeepaliveInterval)
	v.SetDefault("stream.write_timeout", d.Stream.WriteTimeout)
	v.SetDefault("stream.buffer_size", d.Stream.BufferSize)
	v.SetDefault("stream.max_clients", d.Stream.MaxClients)
	v.SetDefault("stream.max_per_ip", d.Stream.MaxPerIP)

	v.SetDefault("archive.dir", d.Archive.Dir)
	v.SetDefault("archive.rows_per_file", d.Archive.RowsPerFile)
	v.SetDefault("archive.max_files", d.Archive.MaxFiles)

	v.SetDefault("sweeps.max_sweeps", d.Sweeps.MaxSweeps)
	v.SetDefault("sweeps.max_beams_per_sweep", d.Sweeps.MaxBeamsPerSweep)
}

// sanitize replaces out-of-range values with their defaults, logging a
// warning for each.
func sanitize(cfg *Config, logger *slog.Logger) {
	d := Default()

	durations := []struct {
		key string
		val *time.Duration
		def time.Duration
	}{
		{"http.read_header_timeout", &cfg.HTTP.ReadHeaderTimeout, d.HTTP.ReadHeaderTimeout},
		{"http.shutdown_timeout", &cfg.HTTP.ShutdownTimeout, d.HTTP.ShutdownTimeout},
		{"sim.tick_interval", &cfg.Sim.TickInterval, d.Sim.TickInterval},
		{"sim.power_interval", &cfg.Sim.PowerInterval, d.Sim.PowerInterval},
		{"sim.beam_interval", &cfg.Sim.BeamInterval, d.Sim.BeamInterval},
		{"sim.status_interval", &cfg.Sim.StatusInterval, d.Sim.StatusInterval},
		{"sim.poll_interval", &cfg.Sim.PollInterval, d.Sim.PollInterval},
		{"site.sun_interval", &cfg.Site.SunInterval, d.Site.SunInterval},
		{"stream.poll_interval", &cfg.Stream.PollInterval, d.Stream.PollInterval},
		{"stream.keepalive_interval", &cfg.Stream.KeepaliveInterval, d.Stream.KeepaliveInterval},
		{"stream.write_timeout", &cfg.Stream.WriteTimeout, d.Stream.WriteTimeout},
	}
	for _, dur := range durations {
		if *dur.val <= 0 {
			logger.Warn("invalid duration, using default", "key", dur.key, "value", dur.val.String(), "default", dur.def.String())
			*dur.val = dur.def
		}
	}

	ints := []struct {
		key string
		val *int
		def int
	}{
		{"sim.n_gates", &cfg.Sim.NGates, d.Sim.NGates},
		{"sim.max_gates", &cfg.Sim.MaxGates, d.Sim.MaxGates},
		{"stream.buffer_size", &cfg.Stream.BufferSize, d.Stream.BufferSize},
		{"stream.max_clients", &cfg.Stream.MaxClients, d.Stream.MaxClients},
		{"stream.max_per_ip", &cfg.Stream.MaxPerIP, d.Stream.MaxPerIP},
		{"archive.rows_per_file", &cfg.Archive.RowsPerFile, d.Archive.RowsPerFile},
		{"log.max_size_mb", &cfg.Log.MaxSizeMB, d.Log.MaxSizeMB},
		{"sweeps.max_sweeps", &cfg.Sweeps.MaxSweeps, d.Sweeps.MaxSweeps},
		{"sweeps.max_beams_per_sweep", &cfg.Sweeps.MaxBeamsPerSweep, d.Sweeps.MaxBeamsPerSweep},
	}
	for _, n := range ints {
		if *n.val < 1 {
			logger.Warn("invalid value, using default", "key", n.key, "value", *n.val, "default", n.def)
			*n.val = n.def
		}
	}

	if cfg.Archive.MaxFiles < 0 {
		logger.Warn("invalid value, using default", "key", "archive.max_files", "value", cfg.Archive.MaxFiles, "default", d.Archive.MaxFiles)
		cfg.Archive.MaxFiles = d.Archive.MaxFiles
	}

	if cfg.Sim.PRF <= 0 {
		logger.Warn("invalid value, using default", "key", "sim.prf", "value", cfg.Sim.PRF, "default", d.Sim.PRF)
		cfg.Sim.PRF = d.Sim.PRF
	}
	if cfg.Sim.GateSpacing <= 0 {
		logger.Warn("invalid value, using default", "key", "sim.gate_spacing", "value", cfg.Sim.GateSpacing, "default", d.Sim.GateSpacing)
		cfg.Sim.GateSpacing = d.Sim.GateSpacing
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
		cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	default:
		logger.Warn("invalid log level, using default", "value", cfg.Log.Level, "default", d.Log.Level)
		cfg.Log.Level = d.Log.Level
	}
}

// Validate reports configuration errors that have no safe default.
func (c Config) Validate() error {
	var errs []error
	if c.Auth.Enabled && c.Auth.Token == "" {
		errs = append(errs, errors.New("auth.token is required when auth is enabled"))
	}
	if c.Site.Latitude < -90 || c.Site.Latitude > 90 {
		errs = append(errs, fmt.Errorf("site.latitude %g outside [-90, 90]", c.Site.Latitude))
	}
	if c.Site.Longitude < -180 || c.Site.Longitude > 180 {
		errs = append(errs, fmt.Errorf("site.longitude %g outside [-180, 180]", c.Site.Longitude))
	}
	if err := c.SimConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// SimConfig converts the sim section into the simulator's own config,
// keeping built-in values for the echo model.
func (c Config) SimConfig() sim.Config {
	sc := sim.DefaultConfig()
	s := c.Sim
	sc.TickInterval = s.TickInterval
	sc.PowerInterval = s.PowerInterval
	sc.BeamInterval = s.BeamInterval
	sc.StatusInterval = s.StatusInterval
	sc.PollInterval = s.PollInterval
	sc.PRF = s.PRF
	sc.AzSlewRate = s.AzSlewRate
	sc.ElSlewRate = s.ElSlewRate
	sc.NGates = s.NGates
	sc.StartRange = s.StartRange
	sc.GateSpacing = s.GateSpacing
	sc.ElevationSteps = append([]float64(nil), s.ElevationSteps...)
	sc.MinElevation = s.MinElevation
	sc.MaxElevation = s.MaxElevation
	sc.MaxAzSlewRate = s.MaxAzSlewRate
	sc.MaxElSlewRate = s.MaxElSlewRate
	sc.MaxGates = s.MaxGates
	sc.ServoGatesMotion = s.ServoGatesMotion
	sc.NoiseBaseline = s.NoiseBaseline
	sc.NoiseJitter = s.NoiseJitter
	sc.CalibSlope = s.CalibSlope
	sc.CalibOffset = s.CalibOffset
	sc.PulseGateStart = s.PulseGateStart
	sc.PulseGateEnd = s.PulseGateEnd
	sc.PulseHeight = s.PulseHeight
	sc.ReplyQueueCapacity = s.ReplyQueueCapacity
	sc.Seed = s.Seed
	return sc
}
