package group

import (
	"context"
	"testing"
	"time"

	"github.com/agingbench/core/pkg/archive"
	"github.com/agingbench/core/pkg/can"
	"github.com/agingbench/core/pkg/codec"
	"github.com/agingbench/core/pkg/power"
	"github.com/agingbench/core/pkg/security"
	"github.com/agingbench/core/pkg/status"
)

// fakeBus is the same minimal can.Bus double used by pkg/busmgr's own
// tests, redeclared here since it's unexported in that package.
type fakeBus struct {
	sent       []can.Frame
	subscriber can.FrameListener
	connected  bool
}

func (b *fakeBus) Connect(...any) error {
	b.connected = true
	return nil
}
func (b *fakeBus) Disconnect() error {
	b.connected = false
	return nil
}
func (b *fakeBus) Send(frame can.Frame) error {
	b.sent = append(b.sent, frame)
	return nil
}
func (b *fakeBus) Subscribe(listener can.FrameListener) error {
	b.subscriber = listener
	return nil
}

func newTestGroup(t *testing.T) (*Group, *fakeBus) {
	t.Helper()
	bus := &fakeBus{}
	cfg := Config{
		ProjectName: "bench-1",
		N:           2,
		Thresholds: status.Thresholds{
			Voltage: status.Range{Min: 11, Max: 14},
			Current: status.Range{Min: 0.1, Max: 1.0},
		},
		Archive: archive.NewMemoryArchive(),
		Power:   power.NoopSupply{},
	}
	cfg.Diag.N = cfg.N
	cfg.Diag.Security = security.FixedKey([]byte{0, 0, 0, 0})
	cfg.Diag.RequestTimeout = 50 * time.Millisecond

	g, err := New(bus, codec.NewMapCodec(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g, bus
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	bus := &fakeBus{}
	cfg := Config{ProjectName: "x", N: 1}
	cfg.Diag.Security = security.FixedKey(nil)
	if _, err := New(bus, codec.NewMapCodec(), cfg); err == nil {
		t.Fatalf("New without Archive should fail")
	}
	cfg.Archive = archive.NewMemoryArchive()
	if _, err := New(bus, codec.NewMapCodec(), cfg); err == nil {
		t.Fatalf("New without Power should fail")
	}
}

func TestStartRunPauseResumeStop(t *testing.T) {
	g, bus := newTestGroup(t)

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if g.State() != StateRunning {
		t.Fatalf("state after Start = %v, want running", g.State())
	}
	if !bus.connected {
		t.Fatalf("bus should be connected after Start")
	}
	if bus.subscriber == nil {
		t.Fatalf("dispatcher should be subscribed to the bus after Start")
	}

	if err := g.Start(context.Background()); err != ErrWrongState {
		t.Fatalf("double Start = %v, want ErrWrongState", err)
	}

	if err := g.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if g.State() != StatePaused {
		t.Fatalf("state after Pause = %v, want paused", g.State())
	}

	if err := g.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if g.State() != StateRunning {
		t.Fatalf("state after Resume = %v, want running", g.State())
	}

	if err := g.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if g.State() != StateStopped {
		t.Fatalf("state after Stop = %v, want stopped", g.State())
	}
	if bus.connected {
		t.Fatalf("bus should be disconnected after Stop")
	}

	if err := g.Pause(); err != ErrWrongState {
		t.Fatalf("Pause after Stop = %v, want ErrWrongState", err)
	}
}

func TestPauseAccumulatesElapsedDuration(t *testing.T) {
	g, _ := newTestGroup(t)
	before := time.Now()
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := g.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	// Resume folds the pause gap (at least 30ms) into accumulatedPause, so
	// AgingElapsed afterwards trails the wall time since Start by at least
	// that much.
	if err := g.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	elapsed := g.AgingElapsed()
	if wall := time.Since(before); elapsed > wall-30*time.Millisecond {
		t.Fatalf("AgingElapsed after Resume = %v, want <= %v (wall %v minus the 30ms pause)", elapsed, wall-30*time.Millisecond, wall)
	}
	if err := g.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestDispatcherReceivesFramesAfterStart(t *testing.T) {
	g, bus := newTestGroup(t)
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Stop()

	// ID 21 = slave 2, offset 1 -> CH1 STATUS -> slot 3; but N=2 here so
	// slot 3 is out of range and should be silently dropped by the
	// dispatcher's own bounds check, not crash anything.
	bus.subscriber.Handle(can.Frame{ID: 21, Data: make([]byte, 8)})

	if _, ok := g.Classifier().Get(3); ok {
		t.Fatalf("slot 3 is out of range for N=2, should not be recorded")
	}

	// ID 11 = slave 1, offset 1 -> CH1 STATUS -> slot 1, in range.
	bus.subscriber.Handle(can.Frame{ID: 11, Data: make([]byte, 8)})
	if _, ok := g.Classifier().Get(1); !ok {
		t.Fatalf("slot 1 STATUS frame should reach the classifier after Start")
	}
}
