// Package sim implements the radar simulator core: the command
// interpreter, the power interlock state machine, the antenna controller,
// and the beam and status generators, each running on its own cadence
// against one shared State.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/radarsim/internal/metrics"
	"github.com/star/radarsim/internal/queue"
)

// Simulator wires the five loops to the command and reply queues.
type Simulator struct {
	cfg    Config
	logger *slog.Logger

	state    *State
	commands *queue.Queue[Command]
	replies  *queue.Queue[Message]

	interp  *Interpreter
	antenna *Antenna
	beams   *BeamGenerator

	lastMode  AntennaMode
	lastPower Actual
}

// New creates a simulator in its power-on state.
func New(cfg Config, logger *slog.Logger) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator config: %w", err)
	}
	state := NewState(cfg)
	s := &Simulator{
		cfg:      cfg,
		logger:   logger.With("component", "simulator"),
		state:    state,
		commands: queue.New[Command]("commands", 0),
		replies:  queue.New[Message]("replies", cfg.ReplyQueueCapacity),
		interp:   NewInterpreter(cfg, state, logger),
		antenna:  NewAntenna(cfg),
		beams:    NewBeamGenerator(cfg),
		lastMode: ModeManual,
	}
	metrics.SetAntennaMode(ModeManual.String(), AntennaModeNames())
	metrics.SetPowerState(false, false, false, false)
	return s, nil
}

// Config returns the startup configuration.
func (s *Simulator) Config() Config { return s.cfg }

// Submit queues a command for the interpreter. It never blocks.
func (s *Simulator) Submit(cmd Command) {
	s.commands.Push(cmd)
}

// Replies returns the outbound queue of beam and status messages.
func (s *Simulator) Replies() *queue.Queue[Message] { return s.replies }

// Snapshot returns a consistent copy of the simulator state.
func (s *Simulator) Snapshot() Snapshot { return s.state.Snapshot() }

// Run starts the five loops and blocks until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("simulator starting",
		"tick_ms", s.cfg.TickInterval.Milliseconds(),
		"beam_ms", s.cfg.BeamInterval.Milliseconds(),
		"power_ms", s.cfg.PowerInterval.Milliseconds(),
		"status_ms", s.cfg.StatusInterval.Milliseconds(),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runInterpreter(ctx) })
	g.Go(func() error { return every(ctx, s.cfg.PowerInterval, func(time.Time) { s.stepPower() }) })
	g.Go(func() error { return every(ctx, s.cfg.TickInterval, func(time.Time) { s.stepAntenna() }) })
	g.Go(func() error { return every(ctx, s.cfg.BeamInterval, s.emitBeam) })
	g.Go(func() error { return every(ctx, s.cfg.StatusInterval, s.emitStatus) })

	err := g.Wait()
	s.logger.Info("simulator stopped")
	return err
}

// every calls fn on each tick of a d-period ticker until ctx is done.
func every(ctx context.Context, d time.Duration, fn func(now time.Time)) error {
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			fn(now)
		}
	}
}

// runInterpreter drains the command queue, idling one poll interval
// whenever it is empty.
func (s *Simulator) runInterpreter(ctx context.Context) error {
	idle := time.NewTimer(s.cfg.PollInterval)
	defer idle.Stop()

	for {
		for {
			cmd, ok := s.commands.Pop()
			if !ok {
				break
			}
			s.process(cmd)
		}

		idle.Reset(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
		}
	}
}

func (s *Simulator) process(cmd Command) {
	key := strings.TrimSpace(cmd.Key)
	label := key
	if !IsKnownKey(key) {
		label = "unknown"
	}
	metrics.IncCommands(label)

	if err := s.interp.Apply(cmd); err != nil {
		s.logger.Warn("command rejected", "key", key, "value", cmd.Value, "error", err)
		metrics.IncCommandErrors(label, errorReason(err))
		return
	}
	s.logger.Debug("command applied", "key", key, "value", cmd.Value)
}

func (s *Simulator) stepPower() {
	var act Actual
	s.state.updateActual(func(req Requested, a *Actual) {
		reconcilePower(req, a)
		act = *a
	})
	metrics.SetPowerState(act.MainPower, act.MagnetronPower, act.ServoPower, act.Radiate)

	prev := s.lastPower
	if prev.MainPower != act.MainPower || prev.MagnetronPower != act.MagnetronPower ||
		prev.ServoPower != act.ServoPower || prev.Radiate != act.Radiate {
		s.logger.Info("power state changed",
			"main_power", act.MainPower,
			"magnetron_power", act.MagnetronPower,
			"servo_power", act.ServoPower,
			"radiate", act.Radiate,
		)
	}
	s.lastPower = act
}

func (s *Simulator) stepAntenna() {
	var (
		ev   scanEvent
		act  Actual
		mode AntennaMode
	)
	s.state.updateActual(func(req Requested, a *Actual) {
		ev = s.antenna.Step(req, a)
		act = *a
		mode = req.AntennaMode
	})
	metrics.SetAntennaPosition(act.Elevation, act.Azimuth)

	if mode != s.lastMode {
		metrics.SetAntennaMode(mode.String(), AntennaModeNames())
		s.lastMode = mode
	}
	if ev.TiltDone {
		s.logger.Debug("tilt complete", "tilt_count", act.TiltCount, "elevation", act.Elevation)
	}
	if ev.VolumeDone {
		metrics.IncVolumesCompleted()
		s.logger.Info("volume complete", "volume_number", act.VolumeNumber)
	}
}

func (s *Simulator) emitBeam(now time.Time) {
	b := s.beams.Generate(s.state.Snapshot(), now)
	s.replies.Push(BeamMessage(b))
	metrics.IncMessages(string(KindBeam))
}

func (s *Simulator) emitStatus(now time.Time) {
	st := newStatus(s.state.Snapshot(), now)
	s.replies.Push(StatusMessage(st))
	metrics.IncMessages(string(KindStatus))
}
