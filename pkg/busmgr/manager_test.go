package busmgr

import (
	"testing"
	"time"

	"github.com/agingbench/core/pkg/can"
	"github.com/agingbench/core/pkg/codec"
)

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

func TestCatchAllSeesFrameBeforeIDFilteredListener(t *testing.T) {
	bus := &fakeBus{}
	m := New(bus, codec.NewMapCodec(), nil)
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var order []string
	cancelCatchAll, err := m.RegisterCatchAll(can.FrameListenerFunc(func(can.Frame) {
		order = append(order, "catchall")
	}))
	if err != nil {
		t.Fatalf("RegisterCatchAll: %v", err)
	}
	defer cancelCatchAll()

	_, err = m.RegisterListener(42, false, can.FrameListenerFunc(func(can.Frame) {
		order = append(order, "filtered")
	}))
	if err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}

	bus.subscriber.Handle(can.Frame{ID: 42})

	if len(order) != 2 || order[0] != "catchall" || order[1] != "filtered" {
		t.Fatalf("dispatch order = %v, want [catchall filtered]", order)
	}
}

func TestRegisterListenerCancel(t *testing.T) {
	bus := &fakeBus{}
	m := New(bus, codec.NewMapCodec(), nil)
	_ = m.Connect()

	calls := 0
	cancel, err := m.RegisterListener(1, false, can.FrameListenerFunc(func(can.Frame) {
		calls++
	}))
	if err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}

	bus.subscriber.Handle(can.Frame{ID: 1})
	cancel()
	bus.subscriber.Handle(can.Frame{ID: 1})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (listener should stop after cancel)", calls)
	}
}

func TestShutdownStopsTasksAndClearsListeners(t *testing.T) {
	bus := &fakeBus{}
	m := New(bus, codec.NewMapCodec(), nil)
	_ = m.Connect()

	task := m.StartPeriodic(can.Frame{ID: 5}, time.Hour)
	_, _ = m.RegisterListener(1, false, can.FrameListenerFunc(func(can.Frame) {}))
	_, _ = m.RegisterCatchAll(can.FrameListenerFunc(func(can.Frame) {}))

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if bus.connected {
		t.Fatalf("bus should be disconnected after Shutdown")
	}

	select {
	case <-task.done:
	default:
		t.Fatalf("periodic task should be stopped after Shutdown")
	}
}
