// Package busmgr implements the Bus Manager (C1): the single owner of a
// group's CAN-FD interface. It serializes sends, fans inbound frames out
// to registered listeners, and hosts driver-backed periodic transmitters.
package busmgr

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/agingbench/core/pkg/can"
	"github.com/agingbench/core/pkg/codec"
)

var (
	ErrNotConnected = errors.New("busmgr: bus not connected")
	ErrSendRejected = errors.New("busmgr: send rejected by driver")
)

// lookupSize covers every standard 11-bit ID, doubled for RTR frames, the
// same layout the teacher's array-based dispatch table uses.
const lookupSize = (can.SffMask + 1) * 2

type subscriber struct {
	id       uint64
	listener can.FrameListener
}

// Manager owns one CAN-FD interface for a single group.
type Manager struct {
	logger *log.Entry
	mu     sync.Mutex
	bus    can.Bus
	codec  codec.Codec

	listeners [lookupSize][]subscriber
	catchAll  []subscriber
	nextSubID uint64

	tasks map[*Task]struct{}
}

func New(bus can.Bus, c codec.Codec, logger *log.Entry) *Manager {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Manager{bus: bus, codec: c, logger: logger, tasks: make(map[*Task]struct{})}
}

// Handle implements can.FrameListener: the bus calls this on its single
// inbound dispatch goroutine. It must never block.
func (m *Manager) Handle(frame can.Frame) {
	idx := frame.ID & unix.CAN_SFF_MASK
	if frame.Flags&can.RtrFlag != 0 {
		idx += can.SffMask + 1
	}
	if idx >= lookupSize {
		return
	}
	m.mu.Lock()
	subs := append([]subscriber(nil), m.listeners[idx]...)
	catchAll := append([]subscriber(nil), m.catchAll...)
	m.mu.Unlock()
	for _, sub := range catchAll {
		sub.listener.Handle(frame)
	}
	for _, sub := range subs {
		sub.listener.Handle(frame)
	}
}

// Connect opens the underlying bus and attaches this manager as its sole
// frame listener.
func (m *Manager) Connect(args ...any) error {
	if err := m.bus.Connect(args...); err != nil {
		return err
	}
	return m.bus.Subscribe(m)
}

// RegisterListener attaches a callback fed every frame whose arbitration
// ID (and RTR bit) matches. Multiple listeners for the same ID fan out in
// registration order.
func (m *Manager) RegisterListener(id uint32, rtr bool, listener can.FrameListener) (cancel func(), err error) {
	idx := id & can.SffMask
	if rtr {
		idx += can.SffMask + 1
	}
	if idx >= lookupSize {
		return nil, fmt.Errorf("busmgr: id %#x out of range", id)
	}
	m.mu.Lock()
	m.nextSubID++
	subID := m.nextSubID
	m.listeners[idx] = append(m.listeners[idx], subscriber{id: subID, listener: listener})
	m.mu.Unlock()

	cancel = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.listeners[idx]
		for i, s := range subs {
			if s.id == subID {
				m.listeners[idx] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
	return cancel, nil
}

// RegisterCatchAll attaches a listener fed every inbound frame regardless
// of arbitration ID, ahead of the ID-filtered subscribers (spec §4.3: the
// receive dispatcher is "a single listener registered on C1" that sees
// every frame in order to classify it by ID itself).
func (m *Manager) RegisterCatchAll(listener can.FrameListener) (cancel func(), err error) {
	m.mu.Lock()
	m.nextSubID++
	subID := m.nextSubID
	m.catchAll = append(m.catchAll, subscriber{id: subID, listener: listener})
	m.mu.Unlock()

	cancel = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.catchAll {
			if s.id == subID {
				m.catchAll = append(m.catchAll[:i], m.catchAll[i+1:]...)
				return
			}
		}
	}
	return cancel, nil
}

// Send blocks until the driver accepts the frame.
func (m *Manager) Send(frame can.Frame) error {
	if m.bus == nil {
		return ErrNotConnected
	}
	if err := m.bus.Send(frame); err != nil {
		m.logger.WithError(err).Warn("send rejected")
		return fmt.Errorf("%w: %v", ErrSendRejected, err)
	}
	return nil
}

// EncodeAndSend composes the codec with Send. Missing signals default to
// zero; unknown signal names are silently dropped (not an error), unlike
// codec.Encode itself, which rejects them for the strict C2 boundary. This
// filters the caller's signals against the resolved message before handing
// them to Encode so the lenient behavior holds regardless of what Encode
// does.
func (m *Manager) EncodeAndSend(nameOrID any, signals codec.SignalValues) error {
	msg, ok := m.codec.Lookup(nameOrID)
	if !ok {
		return fmt.Errorf("busmgr: unknown message %v", nameOrID)
	}
	known := make(map[string]struct{}, len(msg.Signals))
	for _, s := range msg.Signals {
		known[s.Name] = struct{}{}
	}
	filtered := make(codec.SignalValues, len(signals))
	for name, v := range signals {
		if _, ok := known[name]; ok {
			filtered[name] = v
		}
	}
	id, data, err := m.codec.Encode(nameOrID, filtered)
	if err != nil {
		return err
	}
	return m.Send(can.Frame{ID: id, DLC: uint8(len(data)), Data: data})
}

// Codec returns the shared, read-only frame codec.
func (m *Manager) Codec() codec.Codec { return m.codec }

// Shutdown stops every periodic task, detaches every listener and closes
// the bus. Safe to call more than once.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.tasks = make(map[*Task]struct{})
	for i := range m.listeners {
		m.listeners[i] = nil
	}
	m.catchAll = nil
	m.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
	if m.bus == nil {
		return nil
	}
	return m.bus.Disconnect()
}
