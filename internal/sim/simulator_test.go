package sim

import (
	"context"
	"testing"
	"time"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = 2 * time.Millisecond
	cfg.BeamInterval = 2 * time.Millisecond
	cfg.PowerInterval = 5 * time.Millisecond
	cfg.StatusInterval = 10 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.NGates = 16
	cfg.Seed = 7
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinElevation = 50
	cfg.MaxElevation = 10
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected error for min elevation above max")
	}

	cfg = DefaultConfig()
	cfg.TickInterval = 0
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected error for zero tick interval")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestRunProcessesCommandsAndEmitsReplies(t *testing.T) {
	s, err := New(fastConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run returned %v", err)
		}
	}()

	s.Submit(Command{Key: KeyMainPower, Value: "on"})
	s.Submit(Command{Key: KeyServoPower, Value: "on"})
	s.Submit(Command{Key: KeyElevation, Value: "0.1"})

	ok := waitFor(t, 5*time.Second, func() bool {
		snap := s.Snapshot()
		return snap.Actual.MainPower && snap.Actual.ServoPower && snap.Actual.Elevation == 0.1
	})
	if !ok {
		t.Fatalf("state did not converge: %+v", s.Snapshot())
	}

	var beams, statuses int
	var poweredStatus bool
	waitFor(t, 2*time.Second, func() bool {
		for _, msg := range s.Replies().Drain(0) {
			switch msg.Kind {
			case KindBeam:
				beams++
				if len(msg.Beam.Counts) != 16 {
					t.Errorf("beam has %d gates, want 16", len(msg.Beam.Counts))
				}
			case KindStatus:
				statuses++
				if msg.Status.MainPower {
					poweredStatus = true
				}
			}
		}
		return beams > 0 && poweredStatus
	})
	if beams == 0 || statuses == 0 {
		t.Fatalf("got %d beams and %d statuses, want both", beams, statuses)
	}
	if !poweredStatus {
		t.Error("no status reported main power on")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New(fastConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestReplyQueueBounded(t *testing.T) {
	cfg := fastConfig()
	cfg.ReplyQueueCapacity = 8
	s, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for n := 0; n < 20; n++ {
		s.emitBeam(time.Now())
	}
	if got := s.Replies().Len(); got != 8 {
		t.Errorf("reply queue holds %d, want 8", got)
	}
	if got := s.Replies().Dropped(); got != 12 {
		t.Errorf("dropped %d, want 12", got)
	}
}
